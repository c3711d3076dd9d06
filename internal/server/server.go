// Package server composes the QUANT-NEX API: storage backends, services,
// the middleware chain and the route tree.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/quantnex/quantnex/internal/config"
	"github.com/quantnex/quantnex/internal/domain/alert"
	"github.com/quantnex/quantnex/internal/domain/dashboard"
	"github.com/quantnex/quantnex/internal/domain/imaging"
	"github.com/quantnex/quantnex/internal/domain/oncology"
	"github.com/quantnex/quantnex/internal/domain/patient"
	"github.com/quantnex/quantnex/internal/domain/research"
	"github.com/quantnex/quantnex/internal/domain/user"
	"github.com/quantnex/quantnex/internal/platform/ai"
	"github.com/quantnex/quantnex/internal/platform/apperr"
	"github.com/quantnex/quantnex/internal/platform/auth"
	"github.com/quantnex/quantnex/internal/platform/blobstore"
	"github.com/quantnex/quantnex/internal/platform/db"
	"github.com/quantnex/quantnex/internal/platform/jobs"
	"github.com/quantnex/quantnex/internal/platform/metrics"
	"github.com/quantnex/quantnex/internal/platform/middleware"
	"github.com/quantnex/quantnex/internal/platform/validation"
	"github.com/quantnex/quantnex/internal/platform/webhook"
	"github.com/quantnex/quantnex/internal/platform/websocket"
)

const Version = "1.0.0"

const shutdownTimeout = 15 * time.Second

// Server owns the echo instance and every resource that needs closing.
type Server struct {
	echo   *echo.Echo
	cfg    *config.Config
	logger zerolog.Logger

	pool     *pgxpool.Pool
	redis    *redis.Client
	revoked  *auth.TokenRevocationStore
	registry *jobs.Registry
	hub      *websocket.Hub
	webhooks *webhook.Manager

	// Users is exposed for the CLI bootstrap path.
	Users *user.Service
}

// Option overrides a collaborator, mostly for tests.
type Option func(*options)

type options struct {
	provider ai.PredictionProvider
	blobs    blobstore.BlobStore
}

// WithProvider replaces the configured prediction provider.
func WithProvider(p ai.PredictionProvider) Option {
	return func(o *options) { o.provider = p }
}

// WithBlobStore replaces the configured scan file store.
func WithBlobStore(b blobstore.BlobStore) Option {
	return func(o *options) { o.blobs = b }
}

// New builds the server. cfg must already be validated.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts ...Option) (*Server, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	s := &Server{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if ok {
			return
		}
		if s.registry != nil {
			_ = s.registry.Shutdown(context.WithoutCancel(ctx))
		}
		if s.webhooks != nil {
			_ = s.webhooks.Close(context.WithoutCancel(ctx))
		}
		s.release()
	}()

	// Storage
	var (
		userRepo    user.Repository
		patientRepo patient.Repository
		scanRepo    imaging.Repository
		alertRepo   alert.Repository
		oncRepos    oncology.Repositories
	)
	switch cfg.ResolvedStorageBackend() {
	case "postgres":
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, err
		}
		s.pool = pool
		userRepo = user.NewPGRepo(s.pool)
		patientRepo = patient.NewPGRepo(s.pool)
		scanRepo = imaging.NewPGRepo(s.pool)
		alertRepo = alert.NewPGRepo(s.pool)
		oncRepos = oncology.NewPGRepositories(s.pool)
		logger.Info().Str("tenant", cfg.DefaultTenant).Msg("using postgres storage")
	default:
		userRepo = user.NewMemRepo()
		patientRepo = patient.NewMemRepo()
		scanRepo = imaging.NewMemRepo()
		alertRepo = alert.NewMemRepo()
		oncRepos = oncology.NewMemRepositories()
		logger.Warn().Msg("using in-memory storage: data is lost on restart")
	}

	blobs := o.blobs
	if blobs == nil {
		var err error
		if blobs, err = openBlobStore(ctx, cfg); err != nil {
			return nil, err
		}
	}

	provider := o.provider
	if provider == nil {
		var err error
		provider, err = ai.New(ctx, ai.Options{
			Backend:           cfg.ResolvedPredictionBackend(),
			GeminiAPIKey:      cfg.GeminiAPIKey,
			GeminiModel:       cfg.GeminiModel,
			SimulatedDelayMax: cfg.SimulatedDelayMax,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("prediction provider: %w", err)
		}
	}

	// Services
	s.Users = user.NewService(userRepo, logger)
	patients := patient.NewService(patientRepo, logger)
	if s.pool != nil {
		pool := s.pool
		patients.SetTx(func(ctx context.Context, fn func(ctx context.Context) error) error {
			return db.WithTx(ctx, pool, fn)
		})
	}
	scans := imaging.NewService(scanRepo, blobs, patients, logger)
	alerts := alert.NewService(alertRepo, patients, logger)
	s.hub = websocket.NewHub(logger)
	s.webhooks = webhook.NewManager(webhook.NewStore(), logger,
		webhook.WithWorkers(cfg.WebhookWorkers),
		webhook.WithHTTPClient(&http.Client{Timeout: cfg.WebhookTimeout}),
	)
	alerts.PublishTo(s.hub, s.webhooks)
	onc := oncology.NewService(oncRepos, patients, scans, alerts, provider, logger)
	patients.OnDelete(onc, alerts, scans)

	s.registry = jobs.NewRegistry(jobs.Config{
		Workers: cfg.TrainingWorkers,
		Timeout: cfg.TrainingTimeout,
		OnTransition: func(j jobs.Job) {
			metrics.RecordTrainingJob(string(j.Status))
		},
	}, logger)
	trainer := research.NewService(s.registry, cfg.SimulatedDelayMax, nil, logger)
	summary := dashboard.NewService(patients, alerts, scans)

	// Authentication
	jwtSecret, _ := cfg.EffectiveJWTSecret()
	s.revoked = auth.NewTokenRevocationStore(10 * time.Minute)
	tokens := auth.NewTokenService(jwtSecret, cfg.TokenTTL, s.Users, s.revoked)

	var (
		resolver auth.PrincipalResolver
		sessions *auth.SessionManager
	)
	switch cfg.ResolvedAuthMode() {
	case "session":
		store, err := s.sessionStore(ctx)
		if err != nil {
			return nil, err
		}
		secret, _ := cfg.EffectiveSessionSecret()
		sessions = auth.NewSessionManager(store, secret, cfg.SessionTTL, cfg.IsProduction(), s.Users)
		resolver = sessions
	case "development":
		resolver = &auth.DevResolver{Next: &auth.BearerResolver{Tokens: tokens}}
	default:
		resolver = &auth.BearerResolver{Tokens: tokens}
	}

	// Echo
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = validation.New()
	e.HTTPErrorHandler = apperr.Handler(logger)

	rl := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
		Skipper:           isInfraPath,
	}
	if rl.RequestsPerSecond <= 0 {
		rl = middleware.DefaultRateLimitConfig()
		rl.Skipper = isInfraPath
	}

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(metrics.Middleware())
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Request-ID", db.TenantHeader},
		AllowCredentials: sessions != nil,
	}))
	e.Use(middleware.RateLimit(rl))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	e.Use(middleware.BodyLimit(cfg.MaxUploadSize))
	e.Use(middleware.Sanitize(logger))
	if s.pool != nil {
		e.Use(db.TenantMiddleware(s.pool, cfg.DefaultTenant, isOutsideAPI))
	}
	e.Use(auth.Authenticate(resolver, auth.AuthSkipper))
	e.Use(middleware.Audit(logger))

	// Infrastructure
	e.GET("/health", s.health)
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))
	e.GET(blobstore.URLPrefix+"*", blobstore.ServeHandler(blobs))
	if s.pool != nil {
		e.GET("/health/db", db.HealthHandler(s.pool, logger))
	}

	// API
	api := e.Group("/api")

	user.NewHandler(s.Users, tokens, sessions).RegisterRoutes(api)
	if sessions == nil {
		auth.RegisterRevocationRoutes(api, tokens)
	}
	patient.NewHandler(patients).RegisterRoutes(api)
	imaging.NewHandler(scans).RegisterRoutes(api)
	oncology.NewHandler(onc).RegisterRoutes(api)
	alert.NewHandler(alerts).RegisterRoutes(api)
	websocket.NewHandler(s.hub, cfg.CORSOrigins, logger).RegisterRoutes(api)
	webhook.NewHandler(s.webhooks).RegisterRoutes(api)
	dashboard.NewHandler(summary).RegisterRoutes(api)
	research.NewHandler(trainer).RegisterRoutes(api)

	s.echo = e
	logger.Info().
		Str("auth_mode", resolver.Mode()).
		Str("storage", cfg.ResolvedStorageBackend()).
		Str("blobs", blobs.Backend()).
		Str("prediction", provider.Name()).
		Msg("server configured")
	ok = true
	return s, nil
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler { return s.echo }

// Run serves on cfg.Port until ctx is cancelled, then drains in-flight
// requests and training jobs.
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	addr := ":" + s.cfg.Port

	g.Go(func() error {
		s.logger.Info().Str("addr", addr).Msg("starting server")
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info().Msg("shutting down server")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.Shutdown(sctx)
	})
	return g.Wait()
}

// Shutdown stops accepting requests, waits for running handlers and jobs
// and releases every held resource.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	if s.echo != nil {
		if err := s.echo.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	if s.registry != nil {
		if err := s.registry.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("training jobs: %w", err))
		}
	}
	if s.webhooks != nil {
		if err := s.webhooks.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("webhook deliveries: %w", err))
		}
	}
	s.release()
	if len(errs) == 0 {
		s.logger.Info().Msg("server stopped")
	}
	return errors.Join(errs...)
}

func (s *Server) release() {
	if s.hub != nil {
		s.hub.Close()
	}
	if s.revoked != nil {
		s.revoked.Close()
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("closing redis client")
		}
		s.redis = nil
	}
	if s.pool != nil {
		s.pool.Close()
		s.pool = nil
	}
}

func (s *Server) sessionStore(ctx context.Context) (auth.SessionStore, error) {
	if s.cfg.RedisURL == "" {
		s.logger.Warn().Msg("REDIS_URL not set: sessions are kept in memory")
		return auth.NewMemorySessionStore(), nil
	}
	opt, err := redis.ParseURL(s.cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	s.redis = redis.NewClient(opt)
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return auth.NewRedisSessionStore(s.redis), nil
}

func openBlobStore(ctx context.Context, cfg *config.Config) (blobstore.BlobStore, error) {
	maxSize := middleware.ParseSize(cfg.MaxUploadSize)
	if cfg.BlobBackend == "minio" {
		return blobstore.NewMinioBlobStore(ctx, blobstore.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		}, maxSize)
	}
	return blobstore.NewLocalBlobStore(cfg.UploadDir, maxSize)
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"version": Version,
		"storage": s.cfg.ResolvedStorageBackend(),
	})
}

// isOutsideAPI reports requests that need no tenant connection.
func isOutsideAPI(c echo.Context) bool {
	return !strings.HasPrefix(c.Request().URL.Path, "/api/")
}

func isInfraPath(c echo.Context) bool {
	switch c.Path() {
	case "/health", "/health/db", "/metrics":
		return true
	}
	return false
}
