package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/hearthhq/hearth/pkg/api"
	"github.com/hearthhq/hearth/pkg/config"
	"github.com/hearthhq/hearth/pkg/cryptobox"
	"github.com/hearthhq/hearth/pkg/middleware"
	"github.com/hearthhq/hearth/pkg/observability"
	"github.com/hearthhq/hearth/pkg/ollama"
	"github.com/hearthhq/hearth/pkg/storage"
)

// sessionSweepInterval is how often expired sessions are purged.
const sessionSweepInterval = time.Hour

func main() {
	var (
		dbPath    = flag.String("db", "", "SQLite database path (overrides HEARTH_DB_PATH)")
		port      = flag.String("port", "", "Port to listen on (overrides HEARTH_PORT)")
		ollamaURL = flag.String("ollama-url", "", "Ollama base URL (overrides HEARTH_OLLAMA_URL)")
	)
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}
	if *dbPath != "" {
		cfg.Storage.DatabasePath = *dbPath
	}
	if *port != "" {
		cfg.Server.Port = *port
	}
	if *ollamaURL != "" {
		cfg.Ollama.URL = *ollamaURL
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stderr)

	store, err := storage.Open(cfg.Storage.DatabasePath)
	if err != nil {
		logger.WithError(err).Fatal("opening database")
	}
	defer store.Close()
	logger.WithField("path", cfg.Storage.DatabasePath).Info("database ready")

	key, err := store.EncryptionKey()
	if err != nil {
		logger.WithError(err).Fatal("loading encryption key")
	}
	codec, err := cryptobox.NewCodec(key)
	if err != nil {
		logger.WithError(err).Fatal("initializing message codec")
	}

	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(prometheus.NewRegistry())
	}

	server := api.NewServer(api.Options{
		Store:         store,
		Ollama:        ollama.NewClient(cfg.Ollama.URL, 10*time.Second),
		Codec:         codec,
		Metrics:       metrics,
		Logger:        logger,
		SessionTTL:    cfg.Auth.SessionTTL,
		LoginLimiter:  middleware.NewLoginLimiter(cfg.Auth.LoginFailureThreshold, cfg.Auth.LoginFailureWindow),
		MaxBodyBytes:  cfg.Server.MaxBodyBytes,
		SecureCookies: cfg.Server.SecureCookies,
	})

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.WithField("addr", httpServer.Addr).Info("listening")
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(sessionSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				n, err := store.DeleteExpiredSessions()
				if err != nil {
					logger.WithError(err).Warn("session sweep failed")
				} else if n > 0 {
					logger.WithField("removed", n).Debug("swept expired sessions")
				}
			}
		}
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.WithError(err).Fatal("server exited")
	}
	logger.Info("stopped")
}
