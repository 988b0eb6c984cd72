// Command syncd runs the ledger & relationship synchronization engine: it
// drains the change feed into the balance aggregator and relationship
// mirror, relays notification facts, and serves metrics.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"splitsync/auth"
	"splitsync/db"
	"splitsync/engine"
	"splitsync/feed"
	"splitsync/logging"
	"splitsync/notify"
	"splitsync/party"
	"splitsync/reconcile"
)

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func main() {
	logging.Setup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, os.Getenv("DATABASE_URL"))
	if err != nil {
		slog.Error("bootstrap database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	parties := party.NewRepository(nil)
	outbox := notify.NewOutbox()
	store := engine.NewPGStore(pool, parties, outbox)

	aggregator := engine.NewAggregator(store, slog.Default())
	mirror := engine.NewMirror(store, slog.Default())

	dispatcher := feed.NewDispatcher(pool, slog.Default())
	dispatcher.Register(feed.KindTransactionCreated, aggregator)
	dispatcher.Register(feed.KindPartyUpdated, feed.HandlerFunc(mirror.HandleUpdated))
	dispatcher.Register(feed.KindPartyDeleted, feed.HandlerFunc(mirror.HandleDeleted))

	relay := notify.NewRelay(pool, &notify.LogDispatcher{}, slog.Default())

	accounts := auth.NewService(auth.NewRepository(pool, parties), getEnv("JWT_SECRET", "dev-secret"))
	deadEvents := reconcile.NewService(reconcile.NewRepository(pool))

	mux := http.NewServeMux()
	(&api{auth: accounts, reconcile: deadEvents}).register(mux)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	httpServer := &http.Server{
		Addr:    getEnv("HTTP_ADDR", ":8080"),
		Handler: mux,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("dispatcher starting", "workers", dispatcher.Workers)
		return dispatcher.Run(ctx)
	})
	g.Go(func() error {
		slog.Info("outbox relay starting")
		return relay.Run(ctx)
	})
	g.Go(func() error {
		slog.Info("http listener starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("syncd exited with error", "error", err)
		os.Exit(1)
	}
	slog.Info("syncd stopped")
}
