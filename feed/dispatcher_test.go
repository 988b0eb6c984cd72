package feed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

func testDispatcher() *Dispatcher {
	return &Dispatcher{
		handlers:      make(map[Kind]Handler),
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		HandleTimeout: time.Second,
	}
}

func TestHandleRoutesByKind(t *testing.T) {
	d := testDispatcher()

	var seen Event
	d.Register(KindTransactionCreated, HandlerFunc(func(ctx context.Context, ev Event) error {
		seen = ev
		return nil
	}))

	ev := Event{ID: 7, Kind: KindTransactionCreated, DocID: "t1"}
	if err := d.handle(context.Background(), ev); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if seen.ID != 7 || seen.DocID != "t1" {
		t.Errorf("expected event routed to handler, saw %+v", seen)
	}
}

func TestHandleUnknownKindDiscards(t *testing.T) {
	d := testDispatcher()
	err := d.handle(context.Background(), Event{Kind: "party_renamed"})
	if !errors.Is(err, ErrDiscard) {
		t.Fatalf("expected unknown kind to discard, got %v", err)
	}
}

func TestHandleAppliesTimeout(t *testing.T) {
	d := testDispatcher()
	d.HandleTimeout = 10 * time.Millisecond

	d.Register(KindPartyUpdated, HandlerFunc(func(ctx context.Context, ev Event) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	err := d.handle(context.Background(), Event{Kind: KindPartyUpdated})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline to cut the handler off, got %v", err)
	}
}

func TestHandlerErrorsPropagate(t *testing.T) {
	d := testDispatcher()
	boom := errors.New("boom")
	d.Register(KindPartyDeleted, HandlerFunc(func(ctx context.Context, ev Event) error {
		return boom
	}))

	if err := d.handle(context.Background(), Event{Kind: KindPartyDeleted}); !errors.Is(err, boom) {
		t.Fatalf("expected handler error surfaced, got %v", err)
	}
}
