package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kailas-cloud/semcache/internal/repository/faqstore"
	chiTransport "github.com/kailas-cloud/semcache/internal/transport/chi"
	healthuc "github.com/kailas-cloud/semcache/internal/usecase/health"
	queryuc "github.com/kailas-cloud/semcache/internal/usecase/query"
	"github.com/kailas-cloud/semcache/internal/version"
)

// NewServeCmd creates the serve command.
func NewServeCmd(opts *globalOptions) *cobra.Command {
	var indexPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the query API over HTTP",
		Long: `Load an index and answer POST /api/v1/query and /api/v1/similar until
SIGINT or SIGTERM. SIGHUP reloads the index file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := setup(cmd, opts)
			if err != nil {
				return err
			}
			defer func() { _ = e.logger.Sync() }()
			logger := e.logger

			logger.Info("Starting semcache API server",
				zap.String("version", version.Version),
				zap.String("commit", version.Commit),
				zap.Int("http_port", e.cfg.HTTP.Port),
				zap.String("index", indexPath),
			)

			entries, err := faqstore.LoadEntries(indexPath)
			if err != nil {
				return err //nolint:wrapcheck // names the file and line
			}

			s, err := e.openStack()
			if err != nil {
				return err
			}
			defer s.Close()

			querySvc := queryuc.New(s.Embedder, e.cfg.Retrieval.Threshold)
			kept := querySvc.Replace(entries)
			logger.Info("Corpus loaded", zap.Int("entries", len(entries)), zap.Int("served", kept))

			// Pass nil interface (not typed nil pointer!) if no cache is configured.
			var cache healthuc.CachePinger
			if s.cache != nil {
				cache = s.cache
			}
			healthSvc := healthuc.New(cache, healthuc.EmbedderCheck(s.Embedder), querySvc)

			server := chiTransport.NewServer(querySvc, healthSvc, e.cfg.Retrieval.TopK, logger)
			addr := fmt.Sprintf(":%d", e.cfg.HTTP.Port)
			srv := &http.Server{
				Addr:              addr,
				Handler:           chiTransport.NewRouter(server, e.cfg.Auth.APIKeys, logger),
				ReadTimeout:       time.Duration(e.cfg.HTTP.ReadTimeoutSec) * time.Second,
				ReadHeaderTimeout: time.Duration(e.cfg.HTTP.ReadTimeoutSec) * time.Second,
				WriteTimeout:      time.Duration(e.cfg.HTTP.WriteTimeoutSec) * time.Second,
				BaseContext:       func(net.Listener) context.Context { return e.ctx },
			}

			// Graceful shutdown
			quit := make(chan os.Signal, 1)
			signal.Notify(quit, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
			defer signal.Stop(quit)

			serveErr := make(chan error, 1)
			go func() {
				logger.Info("Starting HTTP server", zap.String("addr", addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serveErr <- err
				}
				close(serveErr)
			}()

		wait:
			for {
				select {
				case err := <-serveErr:
					if err != nil {
						return fmt.Errorf("http server: %w", err)
					}
					return nil
				case sig := <-quit:
					if sig == syscall.SIGHUP {
						reload(logger, querySvc, indexPath)
						continue
					}
					logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
					break wait
				}
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(),
				time.Duration(e.cfg.HTTP.ShutdownSec)*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("Error during shutdown", zap.Error(err))
			}
			logger.Info("Server stopped gracefully")
			return nil
		},
	}

	cmd.Flags().StringVar(&indexPath, "index", "", "Index JSONL file")
	_ = cmd.MarkFlagRequired("index")
	return cmd
}

// reload swaps in a fresh copy of the index. A bad file keeps the old corpus.
func reload(logger *zap.Logger, svc *queryuc.Service, path string) {
	entries, err := faqstore.LoadEntries(path)
	if err != nil {
		logger.Error("Index reload failed, keeping current corpus", zap.Error(err))
		return
	}
	kept := svc.Replace(entries)
	logger.Info("Index reloaded", zap.Int("entries", len(entries)), zap.Int("served", kept))
}
