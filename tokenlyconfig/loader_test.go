package tokenlyconfig_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/keksclan/goTokenly/tokenly"
	"github.com/keksclan/goTokenly/tokenlyconfig"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLuaLoaderFullConfig(t *testing.T) {
	script := `
return {
  name = "api-session",
  inject_only_after_macro = true,
  extraction = {
    pattern = [["id_token"\s*:\s*"([^"]+)"]],
    match_timeout_ms = 250,
  },
  header = { update = true, name = "X-Auth", prefix = "Token " },
  cookie = { update = false, name = "sid" },
  policies = {
    claims = { required = {"sub"}, denylist = {"refresh"} },
    lua = {
      enabled = true,
      script = [[
        if not is_jwt then reject("opaque") end
      ]],
      timeout_ms = 100,
    },
  },
}
`
	cfg, err := tokenlyconfig.LoadLuaString(script)
	if err != nil {
		t.Fatalf("LoadLuaString failed: %v", err)
	}
	if cfg.Name != "api-session" {
		t.Errorf("name: want api-session, got %s", cfg.Name)
	}
	if !cfg.InjectOnlyAfterMacro {
		t.Error("inject_only_after_macro: want true")
	}
	if cfg.Extraction.Pattern != `"id_token"\s*:\s*"([^"]+)"` {
		t.Errorf("pattern: got %s", cfg.Extraction.Pattern)
	}
	if cfg.Extraction.MatchTimeout != 250*time.Millisecond {
		t.Errorf("match timeout: got %v", cfg.Extraction.MatchTimeout)
	}
	if cfg.Header != (tokenly.HeaderConfig{Update: true, Name: "X-Auth", Prefix: "Token "}) {
		t.Errorf("header: %+v", cfg.Header)
	}
	if cfg.Cookie != (tokenly.CookieConfig{Update: false, Name: "sid"}) {
		t.Errorf("cookie: %+v", cfg.Cookie)
	}
	if len(cfg.Policies.Claims.Required) != 1 || cfg.Policies.Claims.Required[0] != "sub" {
		t.Errorf("claims.required: %v", cfg.Policies.Claims.Required)
	}
	if !cfg.Policies.Lua.Enabled || cfg.Policies.Lua.Timeout != 100*time.Millisecond {
		t.Errorf("lua policy: %+v", cfg.Policies.Lua)
	}
}

func TestLuaLoaderDefaults(t *testing.T) {
	cfg, err := tokenlyconfig.LoadLuaString(`return {}`)
	if err != nil {
		t.Fatalf("LoadLuaString failed: %v", err)
	}
	want := tokenly.DefaultConfig()
	if cfg.Extraction != want.Extraction || cfg.Header != want.Header || cfg.Cookie != want.Cookie {
		t.Errorf("empty table should give defaults, got %+v", cfg)
	}
}

func TestLuaLoaderErrors(t *testing.T) {
	if _, err := tokenlyconfig.LoadLuaString(`return "nope"`); err == nil {
		t.Error("expected error for non-table return")
	}
	if _, err := tokenlyconfig.LoadLuaString(`os.exit(1)`); err == nil {
		t.Error("expected sandbox to block os")
	}
	_, err := tokenlyconfig.LoadLuaString(`return { extraction = { pattern = "no group" } }`)
	if !errors.Is(err, tokenly.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestJSONLoader(t *testing.T) {
	path := writeFile(t, "tokenly.json", `{
  "extraction": {"pattern": "\"jwt\"\\s*:\\s*\"([^\"]+)\""},
  "header": {"name": "X-Jwt"},
  "cookie": {"update": false}
}`)
	cfg, err := tokenlyconfig.FromJSONFile(path).Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Extraction.Pattern != `"jwt"\s*:\s*"([^"]+)"` {
		t.Errorf("pattern: got %s", cfg.Extraction.Pattern)
	}
	if !cfg.Header.Update || cfg.Header.Name != "X-Jwt" || cfg.Header.Prefix != "" {
		t.Errorf("header: %+v", cfg.Header)
	}
	if cfg.Cookie.Update || cfg.Cookie.Name != tokenly.DefaultCookieName {
		t.Errorf("cookie: %+v", cfg.Cookie)
	}
}

func TestJSONLoaderMissingFile(t *testing.T) {
	if _, err := tokenlyconfig.FromJSONFile(filepath.Join(t.TempDir(), "missing.json")).Load(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestYAMLLoader(t *testing.T) {
	path := writeFile(t, "tokenly.yaml", `
name: staging
extraction:
  pattern: '"access_token"\s*:\s*"([^"]+)"'
header:
  prefix: "JWT "
cookie:
  name: auth
policies:
  claims:
    required: [sub, exp]
`)
	cfg, err := tokenlyconfig.FromYAMLFile(path).Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Name != "staging" {
		t.Errorf("name: %s", cfg.Name)
	}
	if cfg.Header.Name != "Authorization" || cfg.Header.Prefix != "JWT " || !cfg.Header.Update {
		t.Errorf("header: %+v", cfg.Header)
	}
	if cfg.Cookie.Name != "auth" || !cfg.Cookie.Update {
		t.Errorf("cookie: %+v", cfg.Cookie)
	}
	if len(cfg.Policies.Claims.Required) != 2 {
		t.Errorf("claims.required: %v", cfg.Policies.Claims.Required)
	}
}

func TestFromGoValidates(t *testing.T) {
	cfg := tokenly.DefaultConfig()
	cfg.Cookie.Name = "bad name"
	if _, err := tokenlyconfig.FromGo(cfg).Load(context.Background()); !errors.Is(err, tokenly.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestSettingsFromLoaderRereadsFile(t *testing.T) {
	path := writeFile(t, "tokenly.yaml", "cookie:\n  name: first\n")
	src := tokenlyconfig.SettingsFromLoader(tokenlyconfig.FromYAMLFile(path))
	e, err := tokenly.New(tokenly.Config{}, tokenly.WithSettings(src))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	data := &tokenly.ActionData{MacroExchanges: []tokenly.Exchange{{
		Response: &tokenly.Response{StatusLine: "HTTP/1.1 200 OK", Body: []byte(`{"access_token":"abc"}`)},
	}}}

	res, err := e.Handle(context.Background(), data)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if v, _ := res.Request.Cookie("first"); v != "abc" {
		t.Fatalf("want first=abc, got %+v", res.Request.Headers)
	}

	if err := os.WriteFile(path, []byte("cookie:\n  name: second\n"), 0o600); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	res, err = e.Handle(context.Background(), data)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if v, _ := res.Request.Cookie("second"); v != "abc" {
		t.Fatalf("want second=abc after edit, got %+v", res.Request.Headers)
	}
}
