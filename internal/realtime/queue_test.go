package realtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/desertthunder/relink/internal/shared"
)

func TestQueue(t *testing.T) {
	t.Run("Dequeues In Arrival Order", func(t *testing.T) {
		q := NewQueue()
		now := time.Now()
		for _, name := range []string{"first", "second", "third"} {
			q.Enqueue(newPendingEvent(name, nil, now))
		}

		if q.Len() != 3 {
			t.Fatalf("expected 3 queued entries, got %d", q.Len())
		}

		for _, want := range []string{"first", "second", "third"} {
			e, ok := q.Dequeue()
			if !ok {
				t.Fatalf("expected entry %q, queue was empty", want)
			}
			if e.Name != want {
				t.Errorf("expected %q, got %q", want, e.Name)
			}
		}

		if _, ok := q.Dequeue(); ok {
			t.Error("expected empty queue after draining")
		}
	})

	t.Run("Expires Stale Entries From The Head", func(t *testing.T) {
		q := NewQueue()
		now := time.Now()

		stale := newPendingEvent("stale", nil, now.Add(-10*time.Minute))
		fresh := newPendingEvent("fresh", nil, now.Add(-time.Second))
		q.Enqueue(stale)
		q.Enqueue(fresh)

		expired := q.ExpireOlderThan(5*time.Minute, now)
		if expired != 1 {
			t.Fatalf("expected 1 expired entry, got %d", expired)
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := stale.Wait(ctx); !errors.Is(err, shared.ErrQueueEntryExpired) {
			t.Errorf("expected ErrQueueEntryExpired, got %v", err)
		}

		e, ok := q.Dequeue()
		if !ok || e.Name != "fresh" {
			t.Errorf("expected fresh entry to survive, got %v %v", e, ok)
		}
	})

	t.Run("Zero Max Age Disables Expiry", func(t *testing.T) {
		q := NewQueue()
		q.Enqueue(newPendingEvent("old", nil, time.Now().Add(-time.Hour)))

		if expired := q.ExpireOlderThan(0, time.Now()); expired != 0 {
			t.Errorf("expected no expiry with zero max age, got %d", expired)
		}
		if q.Len() != 1 {
			t.Errorf("expected entry to remain, queue length %d", q.Len())
		}
	})

	t.Run("Cancel All Rejects Every Waiter", func(t *testing.T) {
		q := NewQueue()
		now := time.Now()
		entries := []*PendingEvent{
			newPendingEvent("one", nil, now),
			newPendingEvent("two", nil, now),
		}
		for _, e := range entries {
			q.Enqueue(e)
		}

		q.CancelAll()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		for _, e := range entries {
			if err := e.Wait(ctx); !errors.Is(err, shared.ErrEmitCancelled) {
				t.Errorf("expected ErrEmitCancelled for %q, got %v", e.Name, err)
			}
		}
		if q.Len() != 0 {
			t.Errorf("expected empty queue after cancel, length %d", q.Len())
		}
	})

	t.Run("Settle Resolves Exactly Once", func(t *testing.T) {
		e := newPendingEvent("once", nil, time.Now())
		first := errors.New("first")
		e.settle(first)
		e.settle(errors.New("second"))

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := e.Wait(ctx); !errors.Is(err, first) {
			t.Errorf("expected first settlement to win, got %v", err)
		}
	})
}

func TestBackoff(t *testing.T) {
	t.Run("Delays Double With Bounded Jitter", func(t *testing.T) {
		b := newBackoff(100*time.Millisecond, 400*time.Millisecond, 0)

		bounds := []struct{ lo, hi time.Duration }{
			{100 * time.Millisecond, 150 * time.Millisecond},
			{200 * time.Millisecond, 300 * time.Millisecond},
			{400 * time.Millisecond, 400 * time.Millisecond},
			{400 * time.Millisecond, 400 * time.Millisecond},
		}
		for i, want := range bounds {
			got := b.next()
			if got < want.lo || got > want.hi {
				t.Errorf("attempt %d: delay %v outside [%v, %v]", i, got, want.lo, want.hi)
			}
		}
	})

	t.Run("Exhausts After Max Attempts", func(t *testing.T) {
		b := newBackoff(time.Millisecond, time.Millisecond, 3)

		for i := 0; i < 3; i++ {
			if b.exhausted() {
				t.Fatalf("exhausted too early at attempt %d", i)
			}
			b.next()
		}
		if !b.exhausted() {
			t.Error("expected exhaustion after 3 attempts")
		}

		b.reset()
		if b.exhausted() {
			t.Error("expected reset to clear exhaustion")
		}
	})

	t.Run("Unbounded When Max Attempts Is Zero", func(t *testing.T) {
		b := newBackoff(time.Millisecond, time.Millisecond, 0)
		for i := 0; i < 50; i++ {
			b.next()
		}
		if b.exhausted() {
			t.Error("expected no exhaustion with zero retry bound")
		}
	})
}
