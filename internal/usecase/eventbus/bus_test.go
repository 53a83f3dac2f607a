package eventbus

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"opsassist/internal/domain"
)

func newTestBus() *Bus {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestPublishReachesTypedSubscriber(t *testing.T) {
	bus := newTestBus()
	defer bus.Close()

	var mu sync.Mutex
	var got []domain.EventType

	bus.Subscribe(domain.EventTurnDelta, func(_ context.Context, e domain.Event) {
		mu.Lock()
		got = append(got, e.Type)
		mu.Unlock()
	})

	bus.Publish(context.Background(), domain.Event{Type: domain.EventTurnDelta, Timestamp: time.Now()})
	bus.Publish(context.Background(), domain.Event{Type: domain.EventTurnCompleted, Timestamp: time.Now()})
	bus.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != domain.EventTurnDelta {
		t.Fatalf("typed subscriber saw %v, want [turn.delta]", got)
	}
}

func TestSubscribeAllSeesEverything(t *testing.T) {
	bus := newTestBus()

	var mu sync.Mutex
	count := 0
	bus.SubscribeAll(func(context.Context, domain.Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	for _, et := range []domain.EventType{domain.EventTurnStarted, domain.EventTurnDelta, domain.EventTurnCompleted} {
		bus.Publish(context.Background(), domain.Event{Type: et})
	}
	bus.Close()

	mu.Lock()
	defer mu.Unlock()
	if count != 3 {
		t.Fatalf("all-subscriber saw %d events, want 3", count)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := newTestBus()

	var mu sync.Mutex
	count := 0
	unsub := bus.Subscribe(domain.EventTurnFailed, func(context.Context, domain.Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	bus.Publish(context.Background(), domain.Event{Type: domain.EventTurnFailed})
	// Let the dispatch land before unsubscribing.
	time.Sleep(20 * time.Millisecond)
	unsub()
	bus.Publish(context.Background(), domain.Event{Type: domain.EventTurnFailed})
	bus.Close()

	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Fatalf("subscriber saw %d events after unsubscribe, want 1", count)
	}
}

func TestPanickingHandlerIsRecovered(t *testing.T) {
	bus := newTestBus()

	bus.Subscribe(domain.EventTurnDelta, func(context.Context, domain.Event) {
		panic("renderer bug")
	})

	bus.Publish(context.Background(), domain.Event{Type: domain.EventTurnDelta})
	bus.Close() // must not propagate the panic
}

func TestPublishAfterCloseIsNoop(t *testing.T) {
	bus := newTestBus()

	delivered := make(chan struct{}, 1)
	bus.Subscribe(domain.EventTurnDelta, func(context.Context, domain.Event) {
		delivered <- struct{}{}
	})

	bus.Close()
	bus.Publish(context.Background(), domain.Event{Type: domain.EventTurnDelta})

	select {
	case <-delivered:
		t.Fatal("event delivered after Close")
	case <-time.After(50 * time.Millisecond):
	}
}
