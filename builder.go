package goRealtime

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/MrEthical07/goRealtime/internal/rate"
	"github.com/MrEthical07/goRealtime/jwt"
	"github.com/MrEthical07/goRealtime/permission"
	"github.com/MrEthical07/goRealtime/session"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Builder assembles an [Engine].
//
// Builder instances are intended to be configured during initialization and used once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	permissions []string
	roles       map[string][]string

	identity  IdentityStore
	auditSink AuditSink
	logger    *zap.Logger
	clock     clockwork.Clock

	built bool
}

// New returns a Builder holding the default configuration. The default
// configuration has no signing keys; pass one through WithConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis enables the credential issuer: browser sessions and the
// renewal throttle are stored in client.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithIdentityStore sets the principal lookup. Required.
func (b *Builder) WithIdentityStore(store IdentityStore) *Builder {
	b.identity = store
	return b
}

// WithPermissions registers the permission names reported by
// check_permissions.
func (b *Builder) WithPermissions(perms []string) *Builder {
	b.permissions = perms
	return b
}

// WithRoles maps role names to permission names.
func (b *Builder) WithRoles(r map[string][]string) *Builder {
	b.roles = r
	return b
}

// WithAuditSink sets where audit events go when Audit.Enabled is set.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the engine logger. Defaults to a no-op logger.
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides the clock used for token expiry and engine timers.
func (b *Builder) WithClock(clock clockwork.Clock) *Builder {
	b.clock = clock
	return b
}

// WithMetricsEnabled toggles in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the authentication latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and returns the Engine. A Builder can
// build once.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.identity == nil {
		return nil, errors.New("identity store required")
	}
	if len(b.roles) > 0 && len(b.permissions) == 0 {
		return nil, errors.New("roles require permissions")
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := b.clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	// -------- PERMISSION REGISTRY --------
	var (
		registry    *permission.Registry
		roleManager *permission.RoleManager
	)
	if len(b.permissions) > 0 {
		registry = permission.NewRegistry(cfg.Permission.RootBitReserved)
		for _, p := range b.permissions {
			if _, err := registry.Register(p); err != nil {
				return nil, err
			}
		}
		registry.Freeze()

		roleManager = permission.NewRoleManager(registry)
		for roleName, permList := range b.roles {
			if err := roleManager.RegisterRole(roleName, permList); err != nil {
				return nil, err
			}
		}
		roleManager.Freeze()
	}

	// -------- TOKENS --------
	jm, err := jwt.NewManager(jwt.Config{
		TTL:           cfg.JWT.TTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		RequireIAT:    true,
		KeyID:         cfg.JWT.KeyID,
		Now:           clock.Now,
	})
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:      cfg,
		logger:      logger,
		clock:       clock,
		jwtManager:  jm,
		identity:    b.identity,
		registry:    registry,
		roleManager: roleManager,
		audit:       newAuditDispatcher(cfg.Audit, b.auditSink),
		metrics:     NewMetrics(cfg.Metrics),
		rooms:       newRoomRegistry(),
		handlers:    make(map[string]eventRoute),
		conns:       make(map[*conn]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(cfg.Security.AllowedOrigins),
		},
	}

	// -------- CREDENTIAL ISSUER --------
	if b.redis != nil {
		engine.sessionStore = session.NewStore(
			b.redis,
			cfg.Issuer.SessionPrefix,
			cfg.Issuer.SlidingExpiration,
			cfg.Issuer.JitterEnabled,
			cfg.Issuer.JitterRange,
		)
		engine.rateLimiter = rate.New(b.redis, rate.Config{
			EnableIPThrottle: cfg.Issuer.EnableIPThrottle,
			MaxRenewals:      cfg.Issuer.MaxRenewals,
			Window:           cfg.Issuer.RenewWindow,
		})
	}

	b.built = true

	return engine, nil
}

// originChecker returns nil (gorilla's same-host check) for an empty list.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[strings.ToLower(strings.TrimRight(o, "/"))] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil || u.Host == "" {
			return false
		}
		_, ok := set[strings.ToLower(u.Scheme+"://"+u.Host)]
		return ok
	}
}
