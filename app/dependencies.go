package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/upb/authgate/auth"
	"github.com/upb/authgate/cognito"
	"github.com/upb/authgate/config"
	"github.com/upb/authgate/gate"
	"github.com/upb/authgate/internal/observability"
	"github.com/upb/authgate/middleware"
	"github.com/upb/authgate/session"
	"go.uber.org/zap"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config   *config.Config
	Logger   *zap.Logger
	Registry *prometheus.Registry
	Metrics  *observability.GateMetrics

	// Sessions
	Sessions session.Store
	Cookies  *auth.CookieCodec

	// Auth
	Validator      *cognito.Validator
	Provider       *auth.Provider
	Gate           *gate.Gate
	AuthMiddleware *middleware.AuthMiddleware
}

// NewDependencies creates and wires up all application dependencies
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	if err := deps.initSessionStore(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize session store: %w", err)
	}

	if err := deps.initAuth(); err != nil {
		_ = deps.Sessions.Close()
		return nil, fmt.Errorf("failed to initialize auth: %w", err)
	}

	if err := deps.initGate(); err != nil {
		_ = deps.Sessions.Close()
		return nil, fmt.Errorf("failed to initialize gate: %w", err)
	}

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

func (d *Dependencies) initMetrics() error {
	d.Registry = observability.NewRegistry()
	metrics, err := observability.NewGateMetrics(d.Registry)
	if err != nil {
		return err
	}
	d.Metrics = metrics
	return nil
}

// initSessionStore opens the configured session backend and checks it is reachable
func (d *Dependencies) initSessionStore(ctx context.Context) error {
	cfg := d.Config

	switch cfg.Session.Store {
	case config.StoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		d.Sessions = session.NewRedisStore(client, session.DefaultKeyPrefix)
		d.Logger.Info("using redis session store", zap.String("addr", cfg.Redis.Addr))

	case config.StorePostgres:
		db, err := session.OpenPostgres(cfg.Database.DSN(), cfg.Database.MaxOpenConns,
			cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime)
		if err != nil {
			return err
		}
		store := session.NewPostgresStore(db)
		if err := store.InitSchema(ctx); err != nil {
			_ = store.Close()
			return fmt.Errorf("failed to initialize session schema: %w", err)
		}
		d.Sessions = store
		d.Logger.Info("using postgres session store",
			zap.String("connection", cfg.Database.LogString()))

	default:
		d.Sessions = session.NewMemoryStore()
		d.Logger.Warn("using in-memory session store, sessions are lost on restart")
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := d.Sessions.Ping(pingCtx); err != nil {
		_ = d.Sessions.Close()
		return fmt.Errorf("session store ping failed: %w", err)
	}
	return nil
}

func (d *Dependencies) initAuth() error {
	cfg := d.Config

	codec, err := auth.NewCookieCodec(cfg.Session.Secret)
	if err != nil {
		return err
	}
	d.Cookies = codec

	// Interfaces stay nil, not typed-nil, when Cognito is off
	var (
		exchanger      auth.TokenExchanger
		tokenValidator auth.TokenValidator
		bearer         middleware.TokenValidator
	)
	if cfg.Cognito.IsConfigured() {
		d.Validator = cognito.NewValidator(cognito.Config{
			Region:      cfg.Cognito.Region,
			UserPoolID:  cfg.Cognito.UserPoolID,
			ClientID:    cfg.Cognito.ClientID,
			CacheTTL:    cfg.Cognito.JWKSCacheTTL,
			HTTPTimeout: 10 * time.Second,
		})
		exchanger = cognito.NewExchanger(cognito.ExchangerConfig{
			Domain:       cfg.Cognito.Domain,
			ClientID:     cfg.Cognito.ClientID,
			ClientSecret: cfg.Cognito.ClientSecret,
		})
		tokenValidator = d.Validator
		bearer = d.Validator
		d.Logger.Info("cognito hosted UI configured", zap.String("issuer", d.Validator.Issuer()))
	} else {
		d.Logger.Warn("cognito not configured, login disabled and bearer tokens rejected")
	}

	d.Provider = auth.NewProvider(auth.Config{
		Domain:           cfg.Cognito.Domain,
		ClientID:         cfg.Cognito.ClientID,
		RedirectURI:      cfg.Cognito.RedirectURI,
		PostLoginURL:     cfg.Cognito.PostLoginURL,
		PostLogoutURL:    cfg.Cognito.PostLogoutURL,
		AuthPrefix:       cfg.Gate.AuthPrefix,
		CookieName:       cfg.Session.CookieName,
		SessionTTL:       cfg.Session.TTL,
		RollingThreshold: cfg.Session.RollingThreshold,
	}, exchanger, tokenValidator, d.Sessions, codec, d.Logger)

	d.AuthMiddleware = middleware.NewAuthMiddleware(bearer, d.Provider, d.Logger)
	return nil
}

func (d *Dependencies) initGate() error {
	cfg := d.Config

	policy, err := gate.ParseInvalidTokenPolicy(cfg.Gate.InvalidTokenPolicy)
	if err != nil {
		return err
	}

	d.Gate = gate.New(d.Provider, gate.Options{
		Rules:               gate.DefaultRules(cfg.Gate.AuthPrefix, cfg.Gate.PublicPaths...),
		Matcher:             gate.NewMatcher(cfg.Gate.ExcludePrefixes...),
		LoginPath:           cfg.Gate.LoginPath,
		InvalidTokenPolicy:  policy,
		TrustForwardedProto: cfg.Gate.TrustForwardedProto,
		Recorder:            d.Metrics,
	}, d.Logger)

	d.Logger.Info("request gate initialized",
		zap.String("auth_prefix", cfg.Gate.AuthPrefix),
		zap.Strings("public_paths", cfg.Gate.PublicPaths),
		zap.String("invalid_token_policy", string(policy)))
	return nil
}

// expiredSweeper is implemented by stores that keep expired rows around
type expiredSweeper interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// RunSessionSweeper deletes expired sessions every interval until ctx is
// done. It returns immediately for stores that expire sessions themselves.
func (d *Dependencies) RunSessionSweeper(ctx context.Context, interval time.Duration) {
	sweeper, ok := d.Sessions.(expiredSweeper)
	if !ok || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.sweepOnce(ctx, sweeper)
		}
	}
}

func (d *Dependencies) sweepOnce(ctx context.Context, sweeper expiredSweeper) {
	n, err := sweeper.DeleteExpired(ctx)
	if err != nil {
		d.Logger.Warn("failed to delete expired sessions", zap.Error(err))
		return
	}
	if n > 0 {
		d.Logger.Info("deleted expired sessions", zap.Int64("count", n))
	}
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.Sessions != nil {
		if err := d.Sessions.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close session store: %w", err))
		} else {
			d.Logger.Info("session store closed")
		}
	}

	_ = d.Logger.Sync()

	return errors.Join(errs...)
}
