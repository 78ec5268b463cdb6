package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrSnakeDoc/snip/internal/config"
	"github.com/MrSnakeDoc/snip/internal/httpserver"
	"github.com/MrSnakeDoc/snip/internal/httpserver/deps"
	"github.com/MrSnakeDoc/snip/internal/idgen"
	"github.com/MrSnakeDoc/snip/internal/kv"
	"github.com/MrSnakeDoc/snip/internal/links"
	"github.com/MrSnakeDoc/snip/internal/logger"
	"github.com/MrSnakeDoc/snip/internal/scheduler"
	"github.com/MrSnakeDoc/snip/internal/store"
	"github.com/MrSnakeDoc/snip/internal/txn"
	"github.com/MrSnakeDoc/snip/internal/utils"
	"github.com/MrSnakeDoc/snip/internal/version"
)

type App struct {
	cfg     *config.Config
	logger  logger.Logger
	store   kv.Store
	server  *httpserver.Server
	sweeper *scheduler.ExpirySweeper
}

// New loads the configuration and opens the store. It fails fast when the backend
// cannot be reached within the configured connect timeout.
func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	loggerClient := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	s, err := store.Open(ctx, cfg.Store, loggerClient)
	if err != nil {
		return nil, err
	}
	loggerClient.Info("store initialized successfully",
		logger.String("backend", s.Name()))

	coordinator := txn.New(s,
		txn.WithTimeout(cfg.Links.TxTimeout),
		txn.WithRetries(cfg.Links.MaxRetries, cfg.Links.RetryBaseDelay),
		txn.WithLogger(loggerClient),
	)

	svc := links.NewService(coordinator, links.Options{
		BaseURL:           cfg.Server.BaseURL,
		ShortIDLength:     cfg.Links.ShortIDLength,
		SeedMessage:       cfg.Links.SeedMessage,
		DeleteMode:        links.DeleteMode(cfg.Links.DeleteMode),
		DeleteConcurrency: cfg.Links.DeleteConcurrency,
	}, loggerClient)

	// Only backends without native TTLs need a sweeper.
	var sweeper *scheduler.ExpirySweeper
	if sw := store.Sweeper(s); sw != nil && cfg.Sweeper.Enabled {
		sweeper = scheduler.NewExpirySweeper(sw, loggerClient, cfg.Sweeper.Interval)
	}

	d := deps.Deps{
		Logger:       loggerClient,
		StartTime:    time.Now(),
		Version:      version.Version,
		Commit:       version.Commit,
		BuildDate:    version.BuildDate,
		GoVersion:    version.GoVersion,
		AllowedCIDRS: cfg.Access.AdminCIDRs,
		TrustProxy:   cfg.Access.TrustProxy,
		CORSOrigins:  cfg.Access.CORSOrigins,
		RateLimit:    cfg.Access.RateLimit,
		Links:        svc,
		Backend:      s.Name(),
		Ready:        func(ctx context.Context) error { return store.Ready(ctx, s) },
		NewToken:     idgen.Token,
	}

	return &App{
		cfg:     cfg,
		logger:  loggerClient,
		store:   s,
		server:  httpserver.New(cfg.Server, loggerClient, d),
		sweeper: sweeper,
	}, nil
}

// Run serves until SIGINT/SIGTERM or a server error, then shuts down in order:
// HTTP server, sweeper, store.
func (a *App) Run() error {
	a.logger.Infof("🚀 Starting snip v%s on %s", version.Version, a.cfg.Server.ListenAddr)
	a.logger.Info(version.String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	defer utils.CloseLogged(a.store, a.store.Name()+" store", a.logger)

	if a.sweeper != nil {
		if err := a.sweeper.Start(ctx); err != nil {
			return fmt.Errorf("failed to start expiry sweeper: %w", err)
		}
		defer a.sweeper.Stop()
		a.logger.Info("expiry sweeper started",
			logger.Duration("interval", a.cfg.Sweeper.Interval))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := a.server.Start(); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("⏳ Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := a.server.Stop(shutdownCtx); err != nil {
			return fmt.Errorf("failed to stop server: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	a.logger.Info("✅ snip stopped cleanly")
	return nil
}
