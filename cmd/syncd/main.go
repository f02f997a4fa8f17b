package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"github.com/mmynk/splitledger/internal/config"
	"github.com/mmynk/splitledger/internal/connectivity"
	"github.com/mmynk/splitledger/internal/middleware"
	"github.com/mmynk/splitledger/internal/queue"
	"github.com/mmynk/splitledger/internal/remote"
	"github.com/mmynk/splitledger/internal/service"
	"github.com/mmynk/splitledger/internal/syncer"
	"github.com/mmynk/splitledger/pkg/logging"
)

const shutdownTimeout = 5 * time.Second

func main() {
	logging.Setup()

	cfg, err := config.LoadAgent()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}
	if err := run(cfg); err != nil {
		slog.Error("Sync agent failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Agent) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	q, err := queue.Open(ctx, cfg.QueuePath)
	if err != nil {
		return fmt.Errorf("failed to open queue: %w", err)
	}
	defer q.Close()

	depth, err := q.Depth(ctx)
	if err != nil {
		return err
	}
	slog.Info("Queue opened", "path", cfg.QueuePath, "pending", depth)

	client := remote.New(cfg.LedgerURL,
		remote.WithToken(cfg.LedgerToken),
		remote.WithTimeout(cfg.RequestTimeout),
	)
	monitor := connectivity.NewMonitor(client, cfg.ProbeInterval, cfg.StartOnline)

	reg := prometheus.NewRegistry()
	orch := syncer.New(q, client, monitor, syncer.Config{
		MaxAttempts:    cfg.MaxAttempts,
		BaseDelay:      cfg.BaseDelay,
		MaxDelay:       cfg.MaxDelay,
		Interval:       cfg.SyncInterval,
		RequestTimeout: cfg.RequestTimeout,
	}, syncer.WithMetrics(syncer.NewMetrics(reg)))

	mux := http.NewServeMux()
	svc := service.NewSyncService(q, orch, client)
	path, handler := service.NewSyncServiceHandler(svc,
		connect.WithInterceptors(middleware.LoggingInterceptor()),
	)
	mux.Handle(path, handler)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	// h2c serves HTTP/2 without TLS for the event stream.
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           h2c.NewHandler(middleware.Logging(corsMiddleware(mux)), &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv.RegisterOnShutdown(svc.Shutdown)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return monitor.Run(gctx)
	})
	g.Go(func() error {
		return orch.Run(gctx, monitor.Transitions())
	})
	g.Go(func() error {
		slog.Info("Sync agent starting", "address", cfg.Addr, "ledger", cfg.LedgerURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// corsMiddleware adds CORS headers for browser access
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Connect-Protocol-Version, Connect-Timeout-Ms")
		w.Header().Set("Access-Control-Expose-Headers", "Connect-Protocol-Version, Connect-Timeout-Ms")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
