package tokenly

import (
	"fmt"
	"time"

	"github.com/keksclan/goTokenly/internal/extract"
	"github.com/keksclan/goTokenly/internal/luaengine"
	"golang.org/x/net/http/httpguts"
)

// DefaultTokenPattern is a quoted-key/quoted-value pattern bound to the OAuth 2.0
// "access_token" key (RFC 6749 section 5.1). A key wildcard would also capture
// "token_type" or "scope" values, and since the last match wins the token would be lost.
// Configure Extraction.Pattern for other keys such as "id_token" or "jwt".
const DefaultTokenPattern = `"access_token"\s*:\s*"([^"]+)"`

const (
	DefaultActionName   = "JwtTokenSessionHandlingAction"
	DefaultHeaderName   = "Authorization"
	DefaultHeaderPrefix = "Bearer "
	DefaultCookieName   = "token"
	DefaultMatchTimeout = extract.DefaultMatchTimeout
)

// Config controls how tokens are found and where they are written.
type Config struct {
	// Name is the session handling action name shown by the host.
	Name       string
	Extraction ExtractionConfig
	Header     HeaderConfig
	Cookie     CookieConfig

	// InjectOnlyAfterMacro restricts injection to invocations whose macro history produced
	// a fresh token. When false the cached token is re-applied on every invocation.
	InjectOnlyAfterMacro bool

	Policies Policies
}

type ExtractionConfig struct {
	// Pattern is matched case-insensitively against each macro response; capture group 1 is the token.
	Pattern      string
	MatchTimeout time.Duration
}

type HeaderConfig struct {
	Update bool
	Name   string
	// Prefix is prepended to the token, e.g. "Bearer ".
	Prefix string
}

type CookieConfig struct {
	Update bool
	Name   string
}

// Policies filter candidate tokens before they are cached.
type Policies struct {
	Claims ClaimPolicy
	Lua    LuaPolicy
}

type LuaPolicy struct {
	Enabled bool
	Script  string
	Timeout time.Duration
}

// DefaultConfig returns the configuration a freshly installed action starts with:
// the access_token pattern, Authorization: Bearer header and token cookie, both enabled.
func DefaultConfig() Config {
	cfg := Config{
		Header: HeaderConfig{Update: true},
		Cookie: CookieConfig{Update: true},
	}
	return cfg.WithDefaults()
}

// WithDefaults returns a copy of c with empty fields filled in.
// The header prefix is only defaulted together with the header name, so an explicit
// header name with no prefix stays prefix-less.
func (c Config) WithDefaults() Config {
	if c.Name == "" {
		c.Name = DefaultActionName
	}
	if c.Extraction.Pattern == "" {
		c.Extraction.Pattern = DefaultTokenPattern
	}
	if c.Extraction.MatchTimeout == 0 {
		c.Extraction.MatchTimeout = DefaultMatchTimeout
	}
	if c.Header.Name == "" {
		c.Header.Name = DefaultHeaderName
		if c.Header.Prefix == "" {
			c.Header.Prefix = DefaultHeaderPrefix
		}
	}
	if c.Cookie.Name == "" {
		c.Cookie.Name = DefaultCookieName
	}
	return c
}

// Validate reports whether c is usable. It compiles the token pattern and the Lua policy,
// so a pattern without a capture group fails here rather than during extraction.
func (c Config) Validate() error {
	if err := c.validateFields(); err != nil {
		return err
	}
	if _, err := extract.Compile(c.Extraction.Pattern, c.Extraction.MatchTimeout); err != nil {
		return fmt.Errorf("%w: extraction.pattern: %w", ErrInvalidConfig, err)
	}
	if c.Policies.Lua.Enabled {
		if _, err := luaengine.Compile(c.Policies.Lua.Script); err != nil {
			return fmt.Errorf("%w: policies.lua: %w", ErrInvalidConfig, err)
		}
	}
	return nil
}

func (c Config) validateFields() error {
	if c.Extraction.Pattern == "" {
		return fmt.Errorf("%w: extraction.pattern is required", ErrInvalidConfig)
	}
	if c.Extraction.MatchTimeout < 0 {
		return fmt.Errorf("%w: extraction.match_timeout must not be negative", ErrInvalidConfig)
	}
	if c.Header.Update {
		if !httpguts.ValidHeaderFieldName(c.Header.Name) {
			return fmt.Errorf("%w: header.name %q is not a valid header name", ErrInvalidConfig, c.Header.Name)
		}
		if !httpguts.ValidHeaderFieldValue(c.Header.Prefix) {
			return fmt.Errorf("%w: header.prefix contains invalid characters", ErrInvalidConfig)
		}
	}
	// cookie-name is an RFC 7230 token, the same grammar as a header field name.
	if c.Cookie.Update && !httpguts.ValidHeaderFieldName(c.Cookie.Name) {
		return fmt.Errorf("%w: cookie.name %q is not a valid cookie name", ErrInvalidConfig, c.Cookie.Name)
	}
	if c.Policies.Lua.Enabled && c.Policies.Lua.Script == "" {
		return fmt.Errorf("%w: policies.lua.script is required when lua is enabled", ErrInvalidConfig)
	}
	return nil
}
