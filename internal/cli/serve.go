package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/DeepLajpal/docmerge/internal/config"
	"github.com/DeepLajpal/docmerge/internal/server"
	"github.com/DeepLajpal/docmerge/pkg/cache"
)

const shutdownGrace = 10 * time.Second

// serveCommand creates the serve command running the HTTP API.
func (c *CLI) serveCommand() *cobra.Command {
	var (
		configPath string
		addr       string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the merge HTTP API",
		Long: `Serve exposes the merge pipeline over HTTP:

  POST /api/v1/merge  - merge request (JSON, base64 source bytes)
  GET  /healthz       - liveness probe`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			return c.runServer(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to a TOML config file")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")

	return cmd
}

// runServer wires the pipeline and serves until the context is canceled.
func (c *CLI) runServer(ctx context.Context, cfg config.Config) error {
	logger := loggerFromContext(ctx)

	resultCache, err := c.newServerCache(ctx, cfg.Cache)
	if err != nil {
		return err
	}
	defer resultCache.Close()

	merger := c.newMerger(cfg.Limits.MergeLimits(), cfg.Limits.MaxRetries, false)
	srv := server.New(merger, server.Options{
		MaxRequestBytes: cfg.Server.MaxRequestBytes,
		Timeout:         cfg.Server.Timeout.Duration,
		CacheTTL:        cfg.Cache.TTL.Duration,
		Cache:           resultCache,
		Logger:          logger,
	})

	httpSrv := &http.Server{
		Addr:        cfg.Server.Addr,
		Handler:     srv.Router(),
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.Server.Addr)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// newServerCache builds the result cache backend from config.
func (c *CLI) newServerCache(ctx context.Context, cfg config.CacheConfig) (cache.Cache, error) {
	switch cfg.Backend {
	case "redis":
		return cache.NewRedisCache(ctx, cache.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
	case "none":
		return cache.NewNullCache(), nil
	default:
		dir := cfg.Dir
		if dir == "" {
			var err error
			if dir, err = cacheDir(); err != nil {
				return cache.NewNullCache(), nil
			}
		}
		return cache.NewFileCache(dir)
	}
}
