// Package server builds the application's services once and runs them.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"

	"github.com/JakeFAU/mediagate/internal/api"
	"github.com/JakeFAU/mediagate/internal/cache"
	"github.com/JakeFAU/mediagate/internal/clock/system"
	"github.com/JakeFAU/mediagate/internal/config"
	"github.com/JakeFAU/mediagate/internal/extractor/ytdlp"
	"github.com/JakeFAU/mediagate/internal/fileguard"
	"github.com/JakeFAU/mediagate/internal/gateway"
	"github.com/JakeFAU/mediagate/internal/hash/sha256"
	"github.com/JakeFAU/mediagate/internal/id/uuid"
	"github.com/JakeFAU/mediagate/internal/logging"
	"github.com/JakeFAU/mediagate/internal/metrics"
	"github.com/JakeFAU/mediagate/internal/ratelimit"
	"github.com/JakeFAU/mediagate/internal/validate"
)

// App contains the application's dependencies.
type App struct {
	cfg       *config.Config
	logger    *zap.Logger
	apiServer *api.Server
	gateway   *gateway.Gateway
	cache     *cache.Cache
	window    *ratelimit.Window
}

// NewApp creates a new App with the given configuration.
func NewApp(cfg *config.Config, logger *zap.Logger) *App {
	logger.Info("Creating application",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("download_dir", cfg.Paths.DownloadDir),
		zap.String("static_dir", cfg.Paths.StaticDir),
		zap.String("extractor", cfg.Extractor.Binary),
	)
	return &App{cfg: cfg, logger: logger}
}

// Build creates the application's dependencies.
func Build(cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return BuildWithLogger(cfg, logger)
}

// BuildWithLogger is Build with a caller-supplied logger.
func BuildWithLogger(cfg *config.Config, logger *zap.Logger) (*App, error) {
	app := NewApp(cfg, logger)
	metrics.Init()

	clock := system.New()
	app.cache = cache.New(cfg.Cache, clock)
	app.window = ratelimit.NewWindow(cfg.RateLimit.Config, clock)
	keys, err := ratelimit.NewKeyResolver(cfg.RateLimit.TrustForwardedFor, cfg.RateLimit.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("rate limiter init failed: %w", err)
	}

	downloads, err := fileguard.New(fileguard.Config{
		Name:   "downloads",
		Root:   cfg.Paths.DownloadDir,
		Create: true,
	})
	if err != nil {
		return nil, fmt.Errorf("download dir init failed: %w", err)
	}
	static, err := fileguard.New(fileguard.Config{
		Name:       "static",
		Root:       cfg.Paths.StaticDir,
		Nested:     true,
		Extensions: fileguard.StaticExtensions,
	})
	if err != nil {
		return nil, fmt.Errorf("static dir init failed: %w", err)
	}

	runner := ytdlp.New(ytdlp.Config{
		Binary:          cfg.Extractor.Binary,
		MetadataTimeout: cfg.Extractor.MetadataTimeout,
		DownloadTimeout: cfg.Extractor.DownloadTimeout,
	}, logger.Named("ytdlp"))
	if err := runner.Ready(context.Background()); err != nil {
		logger.Warn("extractor binary not found; requests will fail until it is installed", zap.Error(err))
	}

	app.gateway = gateway.New(
		gateway.Config{
			DownloadDir:           downloads.Root(),
			MaxFilesize:           cfg.Extractor.MaxFilesize,
			UserAgent:             cfg.Extractor.UserAgent,
			Referer:               cfg.Extractor.Referer,
			ExtractorArgs:         cfg.Extractor.ExtractorArgs,
			SocketTimeout:         cfg.Extractor.SocketTimeout,
			DownloadSocketTimeout: cfg.Extractor.DownloadSocketTimeout,
			SleepInterval:         cfg.Extractor.SleepInterval,
			MaxSleepInterval:      cfg.Extractor.MaxSleepInterval,
			Retries:               cfg.Extractor.Retries,
			FragmentRetries:       cfg.Extractor.FragmentRetries,
			ConcurrentFragments:   cfg.Extractor.ConcurrentFragments,
		},
		runner,
		app.cache,
		gateway.NewRetryPolicy(cfg.Retry.MaxRetries, cfg.Retry.BackoffUnit, cfg.Extractor.AntiBotPhrases),
		clock,
		sha256.New(),
		ratelimit.NewHostLimiter(cfg.Extractor.Host),
		logger.Named("gateway"),
	)

	app.apiServer = api.NewServer(api.Deps{
		Gateway:   app.gateway,
		Validator: validate.NewURLValidator(cfg.Validation, logger.Named("validate")),
		Limiter:   app.window,
		Keys:      keys,
		Downloads: downloads,
		Static:    static,
		IDs:       uuid.New(),
		Logger:    logger,
		Ready:     runner.Ready,
	}, api.Config{
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
	})

	logger.Info("application dependencies built",
		zap.Duration("cache_ttl", cfg.Cache.TTL),
		zap.Duration("rate_window", cfg.RateLimit.Window),
		zap.Int("rate_max_requests", cfg.RateLimit.MaxRequests),
		zap.Int("max_retries", cfg.Retry.MaxRetries),
		zap.Bool("trust_forwarded_for", cfg.RateLimit.TrustForwardedFor),
	)
	return app, nil
}

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run listens on the configured port and blocks until SIGINT/SIGTERM or ctx
// is canceled.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", a.cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve runs the HTTP server and background sweepers on ln until ctx is done,
// then shuts down gracefully.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		a.cache.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		a.window.Run(ctx)
	}()

	srv := &http.Server{
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: a.cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      a.cfg.Server.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			cancel()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	// Interrupt backoff sleeps and extractor runs so in-flight handlers return.
	a.gateway.Shutdown()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	wg.Wait()
	a.Close()

	select {
	case err := <-serveErr:
		return fmt.Errorf("serve: %w", err)
	default:
		return nil
	}
}

// Close flushes the logger.
func (a *App) Close() {
	a.logger.Info("shutdown complete")
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
}
