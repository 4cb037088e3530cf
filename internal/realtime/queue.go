package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/desertthunder/relink/internal/shared"
)

// PendingEvent is one outbound emit awaiting delivery and acknowledgement.
// Callers block on [PendingEvent.Wait]; the manager settles each event
// exactly once.
type PendingEvent struct {
	ID        string
	Name      string
	Payload   any
	CreatedAt time.Time

	once sync.Once
	done chan error
}

func newPendingEvent(name string, payload any, now time.Time) *PendingEvent {
	return &PendingEvent{
		ID:        shared.GenerateID(),
		Name:      name,
		Payload:   payload,
		CreatedAt: now,
		done:      make(chan error, 1),
	}
}

// Wait blocks until the event is acknowledged, rejected, or the context
// expires. A nil return means the server acknowledged delivery.
func (p *PendingEvent) Wait(ctx context.Context) error {
	select {
	case err := <-p.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// settle resolves the event exactly once. Later calls are no-ops, so an
// ack racing a teardown cannot double-settle.
func (p *PendingEvent) settle(err error) {
	p.once.Do(func() {
		p.done <- err
		close(p.done)
	})
}

// Queue holds outbound events emitted while the channel was down, in FIFO
// order. Entries are dequeued before the send is attempted: a failure
// mid-flight drops the entry rather than risking a duplicate delivery.
type Queue struct {
	mu      sync.Mutex
	entries []*PendingEvent
}

// NewQueue creates an empty [Queue].
func NewQueue() *Queue {
	return &Queue{}
}

// Enqueue appends an event for later delivery.
func (q *Queue) Enqueue(e *PendingEvent) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, e)
}

// Dequeue removes and returns the oldest entry.
func (q *Queue) Dequeue() (*PendingEvent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return nil, false
	}
	e := q.entries[0]
	q.entries = q.entries[1:]
	return e, true
}

// Len reports the number of queued entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// ExpireOlderThan rejects every entry older than maxAge with
// [shared.ErrQueueEntryExpired]. Entries are appended in arrival order, so
// the scan stops at the first fresh one. A maxAge of zero disables expiry.
func (q *Queue) ExpireOlderThan(maxAge time.Duration, now time.Time) int {
	if maxAge <= 0 {
		return 0
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	expired := 0
	for len(q.entries) > 0 {
		head := q.entries[0]
		age := now.Sub(head.CreatedAt)
		if age <= maxAge {
			break
		}
		q.entries = q.entries[1:]
		head.settle(fmt.Errorf("%w: %q queued %s ago", shared.ErrQueueEntryExpired, head.Name, age.Round(time.Second)))
		expired++
	}
	return expired
}

// CancelAll rejects every queued entry with [shared.ErrEmitCancelled].
// Used on final teardown so no caller is left blocked forever.
func (q *Queue) CancelAll() {
	q.mu.Lock()
	entries := q.entries
	q.entries = nil
	q.mu.Unlock()

	for _, e := range entries {
		e.settle(fmt.Errorf("%w: channel torn down before %q was delivered", shared.ErrEmitCancelled, e.Name))
	}
}
