package test

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"splitsync/engine"
	"splitsync/feed"
	"splitsync/ledger"
	"splitsync/notify"
	"splitsync/party"
	"splitsync/test/actors"
	"splitsync/test/chaos"
	"splitsync/test/infra"
	"splitsync/test/oracles"
)

var (
	flDuration    = flag.Duration("duration", 90*time.Second, "how long to run stress")
	flConcurrency = flag.Int("concurrency", 8, "number of concurrent actors")
	flSeed        = flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flDSN         = flag.String("dsn", "", "existing Postgres DSN to reuse (avoids Docker)")
)

func TestSyncEngineConcurrency(t *testing.T) {
	flag.Parse()
	seed := *flSeed
	rand.Seed(seed)

	var (
		pgC        *infra.PGContainer
		dsn        string
		err        error
		usedShared bool
	)
	ctx, cancel := context.WithTimeout(context.Background(), *flDuration+120*time.Second)
	defer cancel()

	switch {
	case *flDSN != "":
		dsn = *flDSN
		usedShared = true
		pgC = &infra.PGContainer{}
	case os.Getenv("STRESS_TEST_PG_DSN") != "":
		dsn = os.Getenv("STRESS_TEST_PG_DSN")
		usedShared = true
		pgC = &infra.PGContainer{}
	default:
		if dockerAvailable(ctx) {
			pgC, dsn, err = infra.StartPostgres16(ctx, "")
			if err != nil {
				t.Fatalf("start postgres: %v", err)
			}
		} else {
			dsn, err = infra.InitLocalDatabase(ctx)
			if err != nil {
				t.Fatalf("init local database: %v", err)
			}
			pgC = &infra.PGContainer{}
		}
	}
	defer pgC.Terminate(context.Background())

	pool, teardown, err := infra.ApplyMigrations(ctx, dsn, usedShared)
	if err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	defer pool.Close()
	defer func() {
		if err := teardown(context.Background()); err != nil {
			t.Logf("teardown warning: %v", err)
		}
	}()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	events := feed.NewRepository()
	parties := party.NewRepository(events)
	entries := ledger.NewRepository(events)

	// Travelers take ledger traffic, socializers take relationship traffic.
	// Keeping the groups disjoint means edge removal never races a balance
	// application, so the mid-run oracles stay exact.
	travelers := mustSeedParties(t, ctx, pool, parties, "traveler", 3)
	socializers := mustSeedParties(t, ctx, pool, parties, "socializer", 3)

	// The engine under test: change-feed dispatcher plus outbox relay.
	store := engine.NewPGStore(pool, parties, notify.NewOutbox())
	dispatcher := feed.NewDispatcher(pool, logger)
	mirror := engine.NewMirror(store, logger)
	dispatcher.Register(feed.KindTransactionCreated, engine.NewAggregator(store, logger))
	dispatcher.Register(feed.KindPartyUpdated, feed.HandlerFunc(mirror.HandleUpdated))
	dispatcher.Register(feed.KindPartyDeleted, feed.HandlerFunc(mirror.HandleDeleted))
	relay := notify.NewRelay(pool, &notify.LogDispatcher{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}, logger)

	engCtx, engCancel := context.WithCancel(ctx)
	defer engCancel()
	engGroup, engCtx2 := errgroup.WithContext(engCtx)
	engGroup.Go(func() error { return dispatcher.Run(engCtx2) })
	engGroup.Go(func() error { return relay.Run(engCtx2) })

	g, ctx2 := errgroup.WithContext(ctx)
	stop := make(chan struct{})

	for i := 0; i < *flConcurrency; i++ {
		g.Go(func() error { return actors.Spender(ctx2, pool, entries, travelers, stop) })
		g.Go(func() error { return actors.Befriender(ctx2, pool, parties, socializers, stop) })
	}
	g.Go(func() error { return actors.Settler(ctx2, pool, entries, travelers, stop) })
	g.Go(func() error { return actors.Redeliverer(ctx2, pool, stop) })
	go chaos.TerminateRandomBackend(ctx2, pool, stop)

	deadline := time.Now().Add(*flDuration)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	var failed bool
loop:
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			name, row, err := oracles.Run(ctx2, pool, oracles.All())
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					break loop
				}
				t.Fatalf("oracle error: %v", err)
			}
			if name != "" {
				failed = true
				dumpRecent(t, ctx2, pool)
				t.Fatalf("Oracle %s failed. First row: %s (seed=%d)", name, row, seed)
			}
		}
	}

	close(stop)
	if err := g.Wait(); err != nil && !failed {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("actors errored: %v", err)
		}
	}

	// Quiesce: with the actors stopped, the engine must drain the feed, after
	// which the eventually-consistent invariants hold too.
	waitForDrain(t, ctx, pool, 60*time.Second)
	engCancel()
	if err := engGroup.Wait(); err != nil {
		t.Logf("engine shutdown: %v", err)
	}

	name, row, err := oracles.Run(ctx, pool, oracles.Quiescent())
	if err != nil {
		t.Fatalf("quiescent oracle error: %v", err)
	}
	if name != "" {
		dumpRecent(t, ctx, pool)
		t.Fatalf("Quiescent oracle %s failed. First row: %s (seed=%d)", name, row, seed)
	}
}

func dockerAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	c := exec.CommandContext(ctx, "docker", "info")
	c.Stdout = io.Discard
	c.Stderr = io.Discard
	return c.Run() == nil
}

func mustSeedParties(t *testing.T, ctx context.Context, pool *pgxpool.Pool, repo *party.Repository, prefix string, n int) []string {
	t.Helper()
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		p, err := repo.Create(ctx, pool, party.CreateParams{
			Email:       fmt.Sprintf("%s%d-%d@example.com", prefix, i, rand.Int63()),
			DisplayName: fmt.Sprintf("%s %d", prefix, i),
		})
		if err != nil {
			t.Fatalf("seed %s %d: %v", prefix, i, err)
		}
		ids = append(ids, p.ID)
	}
	return ids
}

// waitForDrain polls until no pending change events or outbox rows remain.
func waitForDrain(t *testing.T, ctx context.Context, pool *pgxpool.Pool, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		var pending int
		err := pool.QueryRow(ctx, `
SELECT (SELECT COUNT(*) FROM change_events WHERE status = 'pending')
     + (SELECT COUNT(*) FROM outbox WHERE status = 'pending')`).Scan(&pending)
		if err != nil {
			t.Fatalf("count pending: %v", err)
		}
		if pending == 0 {
			return
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("change feed did not drain within %s", timeout)
}

func dumpRecent(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	type dump struct {
		name string
		sql  string
	}
	dumps := []dump{
		{"parties", `SELECT id, email, relationships, ledger_refs, version FROM parties ORDER BY updated_at DESC LIMIT 20`},
		{"transactions", `SELECT id, payee_id, payer_ids, amount_per_payer, entry_type FROM transactions ORDER BY created_at DESC LIMIT 30`},
		{"change_events", `SELECT id, kind, doc_id, status, attempts, last_error FROM change_events ORDER BY id DESC LIMIT 50`},
		{"outbox", `SELECT id, topic, status, attempts, created_at FROM outbox ORDER BY created_at DESC LIMIT 30`},
	}
	for _, d := range dumps {
		rows, err := pool.Query(ctx, d.sql)
		if err != nil {
			t.Logf("dump %s error: %v", d.name, err)
			continue
		}
		cols := rows.FieldDescriptions()
		t.Logf("-- %s --", d.name)
		for rows.Next() {
			vals, _ := rows.Values()
			buf := make([]any, 0, len(vals))
			for i := range vals {
				buf = append(buf, fmt.Sprintf("%s=%v", string(cols[i].Name), vals[i]))
			}
			t.Logf("%s", buf)
		}
		rows.Close()
	}
}
