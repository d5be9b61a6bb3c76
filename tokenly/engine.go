package tokenly

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	icache "github.com/keksclan/goTokenly/internal/cache"
	"github.com/keksclan/goTokenly/internal/extract"
	"github.com/keksclan/goTokenly/internal/inspect"
	"github.com/keksclan/goTokenly/internal/luaengine"
)

// SessionAction is the capability a host invokes for each session check or protected request.
type SessionAction interface {
	Name() string
	Handle(ctx context.Context, data *ActionData) (*ActionResult, error)
}

// Annotations are host-side notes attached to a request. The engine passes them through.
type Annotations struct {
	Notes     string
	Highlight string
}

// ActionData is one invocation payload: the request about to be sent and the exchanges
// of the macro the host ran before it, if any.
type ActionData struct {
	Request        Request
	MacroExchanges []Exchange
	Annotations    Annotations
}

// TokenSource tells where the applied token came from.
type TokenSource string

const (
	TokenSourceNone   TokenSource = "none"
	TokenSourceFresh  TokenSource = "fresh"
	TokenSourceCached TokenSource = "cached"
)

// TokenInfo describes the applied token without carrying its value.
type TokenInfo struct {
	JWT         bool
	Subject     string
	ExpiresAt   time.Time
	Fingerprint string
}

// ActionResult is returned to the host. Request replaces the request the host will send.
//
// Concurrency: ActionResult is immutable once returned.
type ActionResult struct {
	Request       Request
	Annotations   Annotations
	Source        TokenSource
	HeaderUpdated bool
	CookieUpdated bool
	Token         TokenInfo
}

// State is the engine's token state.
type State int

const (
	StateNoToken State = iota
	StateHasToken
)

func (s State) String() string {
	if s == StateHasToken {
		return "HasToken"
	}
	return "NoToken"
}

// Engine extracts tokens from macro responses and injects them into outgoing requests.
//
// Concurrency: Engine is safe for concurrent use. The only mutable state is the token held
// by its TokenStore, which guards its own reads and writes.
type Engine struct {
	cfg      Config
	settings SettingsSource
	store    TokenStore
	cache    Cache
	logger   *slog.Logger
	metrics  MetricsCollector
}

var _ SessionAction = (*Engine)(nil)

// New creates an Engine from cfg. Empty fields take their defaults; the result must
// pass Config.Validate.
func New(cfg Config, opts ...Option) (*Engine, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{cfg: cfg}
	for _, opt := range opts {
		opt(e)
	}
	if e.store == nil {
		e.store = NewMemoryStore()
	}
	if e.logger == nil {
		e.logger = slog.New(slog.DiscardHandler)
	}
	if e.metrics == nil {
		e.metrics = noopMetrics{}
	}
	if e.cache == nil {
		rc, err := icache.NewRistrettoCache(1<<10, 1<<8, 64)
		if err != nil {
			return nil, err
		}
		e.cache = rc
	}
	return e, nil
}

// Name returns the action name shown by the host.
func (e *Engine) Name() string { return e.cfg.Name }

// State reports whether a token has been extracted yet.
func (e *Engine) State(ctx context.Context) (State, error) {
	_, ok, err := e.store.Get(ctx)
	if err != nil {
		return StateNoToken, err
	}
	if ok {
		return StateHasToken, nil
	}
	return StateNoToken, nil
}

// Handle runs one invocation. A non-empty macro history is scanned for a fresh token,
// which replaces the cached one; a scan without a match leaves the cache alone. The
// token (fresh, or cached unless InjectOnlyAfterMacro is set) is then written to the
// configured header and cookie. Without a token the request passes through unchanged.
//
// A nil payload fails with ErrInvalidArgument and an unusable configuration with
// ErrInvalidConfig. Finding no token is not an error.
func (e *Engine) Handle(ctx context.Context, data *ActionData) (*ActionResult, error) {
	if data == nil {
		return nil, fmt.Errorf("%w: action data is nil", ErrInvalidArgument)
	}
	cfg, compiled, err := e.resolve(ctx)
	if err != nil {
		return nil, err
	}
	log := e.logger.With("action", cfg.Name, "invocation", uuid.NewString())

	res := &ActionResult{
		Request:     data.Request,
		Annotations: data.Annotations,
		Source:      TokenSourceNone,
	}

	var token string
	if n := len(data.MacroExchanges); n > 0 {
		accept := e.candidateFilter(cfg.Policies, compiled.lua, log)
		fresh, ok, err := scanExchanges(compiled.pattern, data.MacroExchanges, accept)
		if err != nil {
			return nil, fmt.Errorf("extract token: %w", err)
		}
		if ok {
			if err := e.store.Set(ctx, fresh); err != nil {
				return nil, fmt.Errorf("store token: %w", err)
			}
			token, res.Source = fresh, TokenSourceFresh
			e.metrics.TokenExtracted(cfg.Name)
			log.Info("token extracted", "exchanges", n, "fingerprint", inspect.Fingerprint(fresh))
		} else {
			e.metrics.TokenMissed(cfg.Name)
			log.Info("no token in macro responses, keeping cached token", "exchanges", n)
		}
	}

	if token == "" && !cfg.InjectOnlyAfterMacro {
		cached, ok, err := e.store.Get(ctx)
		if err != nil {
			return nil, fmt.Errorf("load token: %w", err)
		}
		if ok && cached != "" {
			token, res.Source = cached, TokenSourceCached
		}
	}
	if token == "" {
		log.Debug("no token available, request passes through")
		return res, nil
	}

	info := inspect.Describe(token)
	res.Token = TokenInfo{
		JWT:         info.JWT,
		Subject:     info.Subject,
		ExpiresAt:   info.ExpiresAt,
		Fingerprint: info.Fingerprint,
	}

	req := data.Request
	if cfg.Header.Update {
		req = AddOrUpdateHeader(req, cfg.Header.Name, cfg.Header.Prefix+token)
		res.HeaderUpdated = true
		e.metrics.TokenInjected(cfg.Name, TargetHeader)
	}
	if cfg.Cookie.Update {
		req = AddOrUpdateCookie(req, cfg.Cookie.Name, token)
		res.CookieUpdated = true
		e.metrics.TokenInjected(cfg.Name, TargetCookie)
	}
	res.Request = req

	log.Debug("token applied",
		"source", res.Source,
		"header", res.HeaderUpdated,
		"cookie", res.CookieUpdated,
		"fingerprint", info.Fingerprint,
	)
	return res, nil
}

// compiledConfig holds the compiled forms of a resolved Config.
type compiledConfig struct {
	pattern *extract.Pattern
	lua     *luaengine.CompiledPolicy
}

// resolve returns the configuration for one invocation. The pattern and the Lua policy are
// compiled here on every call, with or without macro history, so an unusable pattern fails
// with ErrInvalidConfig before anything is injected. Compiled forms come from the cache.
func (e *Engine) resolve(ctx context.Context) (Config, compiledConfig, error) {
	cfg := e.cfg
	if e.settings != nil {
		var err error
		if cfg, err = e.settings.Settings(ctx); err != nil {
			return Config{}, compiledConfig{}, fmt.Errorf("%w: resolve settings: %w", ErrInvalidConfig, err)
		}
		cfg = cfg.WithDefaults()
		if err := cfg.validateFields(); err != nil {
			return Config{}, compiledConfig{}, err
		}
	}

	var (
		cc  compiledConfig
		err error
	)
	if cc.pattern, err = e.compiledPattern(cfg.Extraction); err != nil {
		return Config{}, compiledConfig{}, err
	}
	if cfg.Policies.Lua.Enabled {
		if cc.lua, err = e.compiledLua(cfg.Policies.Lua.Script); err != nil {
			return Config{}, compiledConfig{}, err
		}
	}
	return cfg, cc, nil
}

func (e *Engine) compiledPattern(ec ExtractionConfig) (*extract.Pattern, error) {
	key := fmt.Sprintf("pattern:%d:%s", ec.MatchTimeout, ec.Pattern)
	if v, ok := e.cache.Get(key); ok {
		if p, ok := v.(*extract.Pattern); ok {
			return p, nil
		}
	}
	p, err := extract.Compile(ec.Pattern, ec.MatchTimeout)
	if err != nil {
		return nil, fmt.Errorf("%w: extraction.pattern: %w", ErrInvalidConfig, err)
	}
	e.cache.Set(key, p, 1, 0)
	icache.Flush(e.cache)
	return p, nil
}

func (e *Engine) compiledLua(script string) (*luaengine.CompiledPolicy, error) {
	key := "lua:" + script
	if v, ok := e.cache.Get(key); ok {
		if cp, ok := v.(*luaengine.CompiledPolicy); ok {
			return cp, nil
		}
	}
	cp, err := luaengine.Compile(script)
	if err != nil {
		return nil, fmt.Errorf("%w: policies.lua: %w", ErrInvalidConfig, err)
	}
	e.cache.Set(key, cp, 1, 0)
	icache.Flush(e.cache)
	return cp, nil
}

// candidateFilter builds the accept function applied to each candidate token. Candidates
// that cannot be written as a header and cookie value are always skipped; the claim and
// Lua policies run after that when configured.
func (e *Engine) candidateFilter(p Policies, lp *luaengine.CompiledPolicy, log *slog.Logger) extract.AcceptFunc {
	claimsOn := !p.Claims.isZero()
	timeout := p.Lua.Timeout
	if timeout <= 0 {
		timeout = luaengine.DefaultTimeout
	}

	return func(candidate string) (bool, error) {
		if !injectable(candidate) {
			log.Debug("candidate skipped: not a valid header or cookie value", "fingerprint", inspect.Fingerprint(candidate))
			return false, nil
		}
		if !claimsOn && lp == nil {
			return true, nil
		}
		info := inspect.Describe(candidate)
		if claimsOn {
			if err := p.Claims.Validate(info.Claims); err != nil {
				log.Debug("candidate skipped by claim policy", "fingerprint", info.Fingerprint, "reason", err.Error())
				return false, nil
			}
		}
		if lp != nil {
			err := lp.EvaluateWithTimeout(luaengine.Candidate{
				Token:  candidate,
				JWT:    info.JWT,
				Claims: info.Claims,
			}, timeout)
			if errors.Is(err, luaengine.ErrRejected) {
				log.Debug("candidate skipped by lua policy", "fingerprint", info.Fingerprint, "reason", err.Error())
				return false, nil
			}
			if err != nil {
				return false, fmt.Errorf("%w: %w", ErrPolicyFailed, err)
			}
		}
		return true, nil
	}
}
