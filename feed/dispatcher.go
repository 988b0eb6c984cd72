package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"
)

// ErrDiscard tells the dispatcher to drop an event without retrying.
// Handlers wrap it around failures that retries cannot fix, such as a friend
// request addressed to an email no party owns.
var ErrDiscard = errors.New("feed: discard event")

// Handler processes one change event. Handlers must be idempotent: delivery
// is at-least-once and events may arrive out of creation order.
type Handler interface {
	Handle(ctx context.Context, ev Event) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, ev Event) error

func (f HandlerFunc) Handle(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

// Dispatcher polls pending change events and routes them to registered
// handlers. Each worker claims a batch under row locks, handles events one
// at a time under a bounded wall-clock budget, and records the outcome in
// the same claim transaction.
type Dispatcher struct {
	pool     *pgxpool.Pool
	repo     *Repository
	handlers map[Kind]Handler
	logger   *slog.Logger

	Workers       int
	BatchSize     int
	PollInterval  time.Duration
	HandleTimeout time.Duration
	MaxAttempts   int
}

func NewDispatcher(pool *pgxpool.Pool, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		pool:          pool,
		repo:          NewRepository(),
		handlers:      make(map[Kind]Handler),
		logger:        logger,
		Workers:       4,
		BatchSize:     16,
		PollInterval:  250 * time.Millisecond,
		HandleTimeout: 30 * time.Second,
		MaxAttempts:   5,
	}
}

// Register installs the handler for a change event kind. Events whose kind
// has no handler are logged and discarded.
func (d *Dispatcher) Register(kind Kind, h Handler) {
	d.handlers[kind] = h
}

// Run polls until the context is canceled. Invocations are independent
// concurrent tasks; no ordering is guaranteed between events, which is why
// every handler carries its own idempotency checks.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < d.Workers; i++ {
		g.Go(func() error {
			return d.worker(ctx)
		})
	}
	return g.Wait()
}

// ProcessOnce claims and handles a single batch, for callers that drive the
// feed manually (tests, catch-up jobs). It returns the number of events
// handled.
func (d *Dispatcher) ProcessOnce(ctx context.Context) (int, error) {
	return d.processBatch(ctx)
}

func (d *Dispatcher) worker(ctx context.Context) error {
	for {
		n, err := d.processBatch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			d.logger.Error("feed: batch failed", "error", err)
		}
		if n > 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(d.PollInterval):
		}
	}
}

// processBatch claims and handles one batch of events. The claim transaction
// stays open while handlers run: a crash before commit rolls the claim back
// and the events are redelivered, which handlers tolerate by construction.
func (d *Dispatcher) processBatch(ctx context.Context) (int, error) {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("feed: begin claim tx: %w", err)
	}
	defer tx.Rollback(ctx)

	events, err := d.repo.Claim(ctx, tx, d.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}

	for _, ev := range events {
		start := time.Now()
		err := d.handle(ctx, ev)
		handleDuration.WithLabelValues(string(ev.Kind)).Observe(time.Since(start).Seconds())

		switch {
		case err == nil:
			eventsProcessed.WithLabelValues(string(ev.Kind)).Inc()
			if err := d.repo.MarkProcessed(ctx, tx, ev.ID); err != nil {
				return 0, err
			}
		case errors.Is(err, ErrDiscard):
			eventsDiscarded.WithLabelValues(string(ev.Kind)).Inc()
			d.logger.Warn("feed: event discarded",
				"event_id", ev.ID, "kind", ev.Kind, "doc_id", ev.DocID, "cause", err)
			if err := d.repo.MarkProcessed(ctx, tx, ev.ID); err != nil {
				return 0, err
			}
		default:
			eventsFailed.WithLabelValues(string(ev.Kind)).Inc()
			dead, markErr := d.repo.MarkFailed(ctx, tx, ev.ID, d.MaxAttempts, err.Error())
			if markErr != nil {
				return 0, markErr
			}
			if dead {
				eventsDead.WithLabelValues(string(ev.Kind)).Inc()
				d.logger.Error("feed: event dead, needs manual reconciliation",
					"event_id", ev.ID, "kind", ev.Kind, "doc_id", ev.DocID, "error", err)
			} else {
				d.logger.Warn("feed: event failed, will retry",
					"event_id", ev.ID, "kind", ev.Kind, "doc_id", ev.DocID,
					"attempt", ev.Attempts+1, "error", err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("feed: commit claim tx: %w", err)
	}
	return len(events), nil
}

func (d *Dispatcher) handle(ctx context.Context, ev Event) error {
	h, ok := d.handlers[ev.Kind]
	if !ok {
		return fmt.Errorf("no handler for kind %q: %w", ev.Kind, ErrDiscard)
	}
	ctx, cancel := context.WithTimeout(ctx, d.HandleTimeout)
	defer cancel()
	return h.Handle(ctx, ev)
}
