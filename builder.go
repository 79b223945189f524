package gatekeeper

import (
	"errors"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/MrEthical07/gatekeeper/internal/audit"
	"github.com/MrEthical07/gatekeeper/internal/limiters"
	"github.com/MrEthical07/gatekeeper/internal/stores"
	"github.com/MrEthical07/gatekeeper/jwt"
	"github.com/MrEthical07/gatekeeper/password"
	"github.com/MrEthical07/gatekeeper/session"
)

// Builder assembles an Engine. A Builder can be built once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	users     CredentialStore
	roles     RoleRegistry
	mailer    EmailSender
	clock     Clock
	logger    *zap.Logger
	auditSink AuditSink

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

// WithConfig replaces the configuration. The value is copied and validated by Build.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client backing factor material, the attempt ledger and
// device sessions.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithCredentialStore sets the user lookup used for password checks. Required.
func (b *Builder) WithCredentialStore(store CredentialStore) *Builder {
	b.users = store
	return b
}

// WithRoleRegistry overrides the role source. When unset, a CredentialStore that
// also implements RoleRegistry is used.
func (b *Builder) WithRoleRegistry(registry RoleRegistry) *Builder {
	b.roles = registry
	return b
}

// WithEmailSender sets one-time code delivery. When unset, each send logs a
// warning and the code is not delivered.
func (b *Builder) WithEmailSender(sender EmailSender) *Builder {
	b.mailer = sender
	return b
}

// WithClock overrides the time source for tokens, codes and the attempt window.
// Defaults to SystemClock.
func (b *Builder) WithClock(clock Clock) *Builder {
	b.clock = clock
	return b
}

// WithLogger sets the engine logger. Defaults to zap.NewNop.
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithAuditSink receives one event per security-relevant outcome while
// Config.Audit is enabled. When unset, events are dropped.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// Build validates the configuration and wires the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.users == nil {
		return nil, errors.New("credential store required")
	}

	roles := b.roles
	if roles == nil {
		registry, ok := b.users.(RoleRegistry)
		if !ok {
			return nil, errors.New("role registry required")
		}
		roles = registry
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := b.clock
	if clock == nil {
		clock = SystemClock{}
	}
	mailer := b.mailer
	if mailer == nil {
		mailer = logSender{logger: logger}
	}

	hasher, err := password.NewBcrypt(cfg.Secrets.BcryptCost)
	if err != nil {
		return nil, err
	}

	jwtMgr, err := jwt.NewManager(jwt.Config{
		SessionTTL:      cfg.JWT.SessionTTL,
		IntermediateTTL: cfg.JWT.IntermediateTTL,
		SigningMethod:   jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:      cfg.JWT.PrivateKey,
		PublicKey:       cfg.JWT.PublicKey,
		Issuer:          cfg.JWT.Issuer,
		Audience:        cfg.JWT.Audience,
		Leeway:          cfg.JWT.Leeway,
		Now:             clock.Now,
	})
	if err != nil {
		return nil, err
	}

	prefix := cfg.Redis.Prefix
	e := &Engine{
		config:      cfg,
		logger:      logger.Named("gatekeeper"),
		clock:       clock,
		jwt:         jwtMgr,
		users:       b.users,
		roles:       roles,
		mailer:      mailer,
		hasher:      hasher,
		factors:     stores.NewFactorStore(b.redis, prefix+":mfa"),
		ledger:      limiters.NewAttemptLedger(b.redis, prefix+":val"),
		devices:     session.NewStore(b.redis, prefix+":ds"),
		sendLimiter: limiters.NewSendLimiter(b.redis, prefix+":ots", cfg.EmailOTP.SendInterval, cfg.EmailOTP.SendBurst),
		metrics:     NewMetrics(cfg.Metrics),
	}
	e.audit = audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink)
	e.verifiers = e.buildVerifiers()

	b.built = true
	return e, nil
}
