package tokenlyconfig

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/keksclan/goTokenly/internal/luaengine"
	"github.com/keksclan/goTokenly/tokenly"
	lua "github.com/yuin/gopher-lua"
	"gopkg.in/yaml.v3"
)

// Loader loads a tokenly.Config from a source.
type Loader interface {
	Load(ctx context.Context) (*tokenly.Config, error)
}

// goLoader returns a static config.
type goLoader struct {
	cfg tokenly.Config
}

// FromGo creates a Loader that returns the provided config directly.
func FromGo(cfg tokenly.Config) Loader {
	return &goLoader{cfg: cfg}
}

func (l *goLoader) Load(_ context.Context) (*tokenly.Config, error) {
	return finish(l.cfg)
}

// fileConfig mirrors tokenly.Config for JSON and YAML deserialization.
// Booleans are pointers so an absent header.update / cookie.update keeps the default of true.
type fileConfig struct {
	Name                 string         `json:"name" yaml:"name"`
	Extraction           fileExtraction `json:"extraction" yaml:"extraction"`
	Header               fileHeader     `json:"header" yaml:"header"`
	Cookie               fileCookie     `json:"cookie" yaml:"cookie"`
	InjectOnlyAfterMacro bool           `json:"inject_only_after_macro" yaml:"inject_only_after_macro"`
	Policies             filePolicies   `json:"policies" yaml:"policies"`
}

type fileExtraction struct {
	Pattern        string `json:"pattern" yaml:"pattern"`
	MatchTimeoutMs int    `json:"match_timeout_ms" yaml:"match_timeout_ms"`
}

type fileHeader struct {
	Update *bool   `json:"update" yaml:"update"`
	Name   string  `json:"name" yaml:"name"`
	Prefix *string `json:"prefix" yaml:"prefix"`
}

type fileCookie struct {
	Update *bool  `json:"update" yaml:"update"`
	Name   string `json:"name" yaml:"name"`
}

type filePolicies struct {
	Claims fileClaimsPolicy `json:"claims" yaml:"claims"`
	Lua    fileLuaPolicy    `json:"lua" yaml:"lua"`
}

type fileClaimsPolicy struct {
	Required []string `json:"required" yaml:"required"`
	Denylist []string `json:"denylist" yaml:"denylist"`
}

type fileLuaPolicy struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	Script    string `json:"script" yaml:"script"`
	TimeoutMs int    `json:"timeout_ms" yaml:"timeout_ms"`
}

func (fc fileConfig) toConfig() tokenly.Config {
	cfg := tokenly.DefaultConfig()
	cfg.Name = fc.Name
	cfg.Extraction.Pattern = fc.Extraction.Pattern
	cfg.Extraction.MatchTimeout = time.Duration(fc.Extraction.MatchTimeoutMs) * time.Millisecond
	if fc.Header.Update != nil {
		cfg.Header.Update = *fc.Header.Update
	}
	if fc.Header.Name != "" {
		cfg.Header.Name = fc.Header.Name
		cfg.Header.Prefix = ""
	}
	if fc.Header.Prefix != nil {
		cfg.Header.Prefix = *fc.Header.Prefix
	}
	if fc.Cookie.Update != nil {
		cfg.Cookie.Update = *fc.Cookie.Update
	}
	if fc.Cookie.Name != "" {
		cfg.Cookie.Name = fc.Cookie.Name
	}
	cfg.InjectOnlyAfterMacro = fc.InjectOnlyAfterMacro
	cfg.Policies = tokenly.Policies{
		Claims: tokenly.ClaimPolicy{
			Required: fc.Policies.Claims.Required,
			Denylist: fc.Policies.Claims.Denylist,
		},
		Lua: tokenly.LuaPolicy{
			Enabled: fc.Policies.Lua.Enabled,
			Script:  fc.Policies.Lua.Script,
			Timeout: time.Duration(fc.Policies.Lua.TimeoutMs) * time.Millisecond,
		},
	}
	return cfg
}

// jsonLoader loads config from a JSON file.
type jsonLoader struct {
	path string
}

// FromJSONFile creates a Loader that reads config from a JSON file.
func FromJSONFile(path string) Loader {
	return &jsonLoader{path: path}
}

func (l *jsonLoader) Load(_ context.Context) (*tokenly.Config, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("read json config: %w", err)
	}
	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse json config: %w", err)
	}
	return finish(fc.toConfig())
}

// yamlLoader loads config from a YAML file.
type yamlLoader struct {
	path string
}

// FromYAMLFile creates a Loader that reads config from a YAML file.
func FromYAMLFile(path string) Loader {
	return &yamlLoader{path: path}
}

func (l *yamlLoader) Load(_ context.Context) (*tokenly.Config, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("read yaml config: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse yaml config: %w", err)
	}
	return finish(fc.toConfig())
}

// luaLoader loads config from a Lua file.
type luaLoader struct {
	path string
}

// FromLuaFile creates a Loader that reads config from a Lua file.
func FromLuaFile(path string) Loader {
	return &luaLoader{path: path}
}

func (l *luaLoader) Load(_ context.Context) (*tokenly.Config, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("read lua config file: %w", err)
	}
	return LoadLuaString(string(data))
}

// LoadLuaString runs a Lua config script in a sandbox and maps the table it returns
// to a tokenly.Config. Exported for testing convenience.
func LoadLuaString(script string) (*tokenly.Config, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()

	luaengine.OpenSafeLibs(L)

	if err := L.DoString(script); err != nil {
		return nil, fmt.Errorf("lua config execution: %w", err)
	}

	ret := L.Get(-1)
	tbl, ok := ret.(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("lua config must return a table, got %s", ret.Type().String())
	}

	return finish(luaTableToConfig(tbl))
}

func luaTableToConfig(tbl *lua.LTable) tokenly.Config {
	cfg := tokenly.DefaultConfig()
	cfg.Name = getStringField(tbl, "name")
	cfg.InjectOnlyAfterMacro = getBoolField(tbl, "inject_only_after_macro", false)

	if t := getTableField(tbl, "extraction"); t != nil {
		cfg.Extraction.Pattern = getStringField(t, "pattern")
		if ms := getNumberField(t, "match_timeout_ms"); ms > 0 {
			cfg.Extraction.MatchTimeout = time.Duration(ms) * time.Millisecond
		}
	}

	if t := getTableField(tbl, "header"); t != nil {
		cfg.Header.Update = getBoolField(t, "update", cfg.Header.Update)
		if name := getStringField(t, "name"); name != "" {
			cfg.Header.Name = name
			cfg.Header.Prefix = ""
		}
		if v, ok := t.RawGetString("prefix").(lua.LString); ok {
			cfg.Header.Prefix = string(v)
		}
	}

	if t := getTableField(tbl, "cookie"); t != nil {
		cfg.Cookie.Update = getBoolField(t, "update", cfg.Cookie.Update)
		if name := getStringField(t, "name"); name != "" {
			cfg.Cookie.Name = name
		}
	}

	if policiesTbl := getTableField(tbl, "policies"); policiesTbl != nil {
		if claimsTbl := getTableField(policiesTbl, "claims"); claimsTbl != nil {
			cfg.Policies.Claims.Required = getStringSliceField(claimsTbl, "required")
			cfg.Policies.Claims.Denylist = getStringSliceField(claimsTbl, "denylist")
		}
		if luaTbl := getTableField(policiesTbl, "lua"); luaTbl != nil {
			cfg.Policies.Lua.Enabled = getBoolField(luaTbl, "enabled", false)
			cfg.Policies.Lua.Script = getStringField(luaTbl, "script")
			if ms := getNumberField(luaTbl, "timeout_ms"); ms > 0 {
				cfg.Policies.Lua.Timeout = time.Duration(ms) * time.Millisecond
			}
		}
	}
	return cfg
}

func finish(cfg tokenly.Config) (*tokenly.Config, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return &cfg, nil
}

// Lua table helper functions

func getStringField(tbl *lua.LTable, key string) string {
	v := tbl.RawGetString(key)
	if s, ok := v.(lua.LString); ok {
		return string(s)
	}
	return ""
}

func getNumberField(tbl *lua.LTable, key string) float64 {
	v := tbl.RawGetString(key)
	if n, ok := v.(lua.LNumber); ok {
		return float64(n)
	}
	return 0
}

func getBoolField(tbl *lua.LTable, key string, def bool) bool {
	v := tbl.RawGetString(key)
	if b, ok := v.(lua.LBool); ok {
		return bool(b)
	}
	return def
}

func getTableField(tbl *lua.LTable, key string) *lua.LTable {
	v := tbl.RawGetString(key)
	if t, ok := v.(*lua.LTable); ok {
		return t
	}
	return nil
}

func getStringSliceField(tbl *lua.LTable, key string) []string {
	v := tbl.RawGetString(key)
	t, ok := v.(*lua.LTable)
	if !ok {
		return nil
	}
	var result []string
	t.ForEach(func(_ lua.LValue, val lua.LValue) {
		if s, ok := val.(lua.LString); ok {
			result = append(result, string(s))
		}
	})
	return result
}
