package server

import (
	"context"
	"errors"
	"fmt"
	nethttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/MiniAppHost/backend/internal/api/http"
	"github.com/GriffinCanCode/MiniAppHost/backend/internal/api/middleware"
	"github.com/GriffinCanCode/MiniAppHost/backend/internal/domain/integrity"
	"github.com/GriffinCanCode/MiniAppHost/backend/internal/domain/manifest"
	"github.com/GriffinCanCode/MiniAppHost/backend/internal/domain/miniapp"
	"github.com/GriffinCanCode/MiniAppHost/backend/internal/domain/permission"
	"github.com/GriffinCanCode/MiniAppHost/backend/internal/domain/reconcile"
	"github.com/GriffinCanCode/MiniAppHost/backend/internal/infrastructure/config"
	"github.com/GriffinCanCode/MiniAppHost/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/MiniAppHost/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/MiniAppHost/backend/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/MiniAppHost/backend/internal/infrastructure/storage"
	"github.com/GriffinCanCode/MiniAppHost/backend/internal/providers/fetcher"
	"github.com/GriffinCanCode/MiniAppHost/backend/internal/shared/utils"
)

// Server wraps the HTTP server and dependencies
type Server struct {
	router   *gin.Engine
	http     *nethttp.Server
	kv       storage.KV
	verifier *integrity.Verifier
	miniApps *miniapp.Manager
	logger   *logging.Logger
	config   *config.Config
	metrics  *monitoring.Metrics
	registry *prometheus.Registry
}

// Option overrides a dependency, mainly for tests
type Option func(*options)

type options struct {
	kv      storage.KV
	fetcher reconcile.Fetcher
	logger  *logging.Logger
}

// WithKV uses kv instead of opening the configured backend
func WithKV(kv storage.KV) Option {
	return func(o *options) { o.kv = kv }
}

// WithFetcher uses f instead of the HTTP manifest fetcher
func WithFetcher(f reconcile.Fetcher) Option {
	return func(o *options) { o.fetcher = f }
}

// WithLogger uses logger instead of building one from the config
func WithLogger(logger *logging.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// NewServer builds every store once and wires them into the API
func NewServer(ctx context.Context, cfg *config.Config, opts ...Option) (*Server, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		var err error
		logger, err = logging.New(logging.Config{
			Level:       cfg.Logging.Level,
			Development: cfg.Logging.Development,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create logger: %w", err)
		}
	}

	logger.Info("Initializing Mini-App Host",
		zap.String("addr", cfg.Address()),
		zap.String("storage", cfg.Storage.Backend),
		zap.String("manifest_api", cfg.Fetcher.BaseURL),
	)

	// Metrics first, the fetcher and stores report into them
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := monitoring.NewMetrics(registry)

	algorithm, err := utils.ParseHashAlgorithm(cfg.Integrity.Algorithm)
	if err != nil {
		return nil, err
	}

	kv := o.kv
	if kv == nil {
		kv, err = storage.Open(ctx, storage.Options{
			Backend:     cfg.Storage.Backend,
			Dir:         cfg.Storage.Dir,
			RedisURL:    cfg.Storage.RedisURL,
			RedisPrefix: cfg.Storage.RedisPrefix,
		}, logger.Component("storage"))
		if err != nil {
			return nil, fmt.Errorf("failed to open storage: %w", err)
		}
	}

	var breaker *resilience.Breaker
	manifestFetcher := o.fetcher
	if manifestFetcher == nil {
		httpFetcher, err := fetcher.New(fetcher.Config{
			BaseURL:         cfg.Fetcher.BaseURL,
			ProjectID:       cfg.Fetcher.ProjectID,
			SubscriptionKey: cfg.Fetcher.SubscriptionKey,
			Preview:         cfg.Fetcher.Preview,
			Client: fetcher.ClientConfig{
				Timeout:         cfg.Fetcher.Timeout.Std(),
				MaxRetries:      cfg.Fetcher.MaxRetries,
				RetryWaitMin:    cfg.Fetcher.RetryWaitMin.Std(),
				RetryWaitMax:    cfg.Fetcher.RetryWaitMax.Std(),
				RateLimit:       cfg.Fetcher.RateLimit,
				BreakerFailures: cfg.Fetcher.BreakerFailures,
				BreakerTimeout:  cfg.Fetcher.BreakerTimeout.Std(),
				UserAgent:       fetcher.DefaultClientConfig().UserAgent,
			},
		}, logger.Component("fetcher"), metrics)
		if err != nil {
			kv.Close()
			return nil, fmt.Errorf("failed to create manifest fetcher: %w", err)
		}
		manifestFetcher = httpFetcher
		breaker = httpFetcher.Client().Breaker
	}

	cache := manifest.NewCache(kv)
	perms := permission.NewStore(kv)
	verifier := integrity.NewVerifier(kv, utils.NewHasher(algorithm),
		integrity.WithLogger(logger.Component("integrity")),
		integrity.WithMetrics(metrics))
	engine := reconcile.NewEngine(cache, perms, verifier, manifestFetcher,
		reconcile.WithLogger(logger.Component("reconcile")),
		reconcile.WithMetrics(metrics),
		reconcile.WithLanguage(cfg.Fetcher.Language))
	miniApps := miniapp.NewManager(engine, cache, perms, cfg.Storage.Dir).
		WithMetrics(metrics).
		WithLogger(logger.Component("miniapp"))

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.AccessLog(logger.Component("http")))
	router.Use(monitoring.Middleware(metrics))
	corsCfg := middleware.DefaultCORSConfig()
	if len(cfg.CORS.AllowedOrigins) > 0 {
		corsCfg.AllowOrigins = cfg.CORS.AllowedOrigins
	}
	router.Use(middleware.CORS(corsCfg))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		rl := middleware.DefaultRateLimitConfig()
		rl.RequestsPerSecond = cfg.RateLimit.RequestsPerSecond
		rl.Burst = cfg.RateLimit.Burst
		router.Use(middleware.RateLimit(rl))
	}

	handlers := http.NewHandlers(miniApps, metrics, breaker, logger.Component("api"))
	handlers.Register(router)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})))

	logger.Info("Server initialized successfully",
		zap.String("digest_algorithm", string(algorithm)))

	return &Server{
		router:   router,
		http:     &nethttp.Server{Addr: cfg.Address(), Handler: router},
		kv:       kv,
		verifier: verifier,
		miniApps: miniApps,
		logger:   logger,
		config:   cfg,
		metrics:  metrics,
		registry: registry,
	}, nil
}

// Router exposes the HTTP handler
func (s *Server) Router() *gin.Engine {
	return s.router
}

// MiniApps exposes the mini-app manager
func (s *Server) MiniApps() *miniapp.Manager {
	return s.miniApps
}

// Run serves HTTP until Shutdown is called
func (s *Server) Run() error {
	s.logger.Info("Starting HTTP server", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, drains pending digest writes and
// releases storage. Every step runs even if an earlier one failed.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")

	var errs []error
	if err := s.http.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}

	drainCtx, cancel := context.WithTimeout(ctx, s.config.Integrity.DrainTimeout.Std())
	defer cancel()
	if err := s.verifier.Close(drainCtx); err != nil {
		s.logger.Error("Digest writes did not drain", zap.Error(err))
		errs = append(errs, fmt.Errorf("drain digest writes: %w", err))
	}

	if err := s.kv.Close(); err != nil {
		s.logger.Error("Failed to close storage", zap.Error(err))
		errs = append(errs, fmt.Errorf("close storage: %w", err))
	}

	// Sync logger before exit
	_ = s.logger.Sync()

	return errors.Join(errs...)
}
