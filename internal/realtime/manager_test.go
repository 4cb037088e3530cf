package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/relink/internal/auth"
	"github.com/desertthunder/relink/internal/bus"
	"github.com/desertthunder/relink/internal/shared"
)

// fakeConn is an in-memory Conn. Inbound frames are injected with push;
// autoAck answers every written event with an ack (and pings with pongs).
type fakeConn struct {
	mu      sync.Mutex
	inbound chan Envelope
	done    chan struct{}
	once    sync.Once
	written []Envelope
	closed  bool
	autoAck bool
}

func newFakeConn(autoAck bool) *fakeConn {
	return &fakeConn{
		inbound: make(chan Envelope, 32),
		done:    make(chan struct{}),
		autoAck: autoAck,
	}
}

func (c *fakeConn) Read(ctx context.Context) (Envelope, error) {
	select {
	case env := <-c.inbound:
		return env, nil
	case <-c.done:
		return Envelope{}, fmt.Errorf("%w: connection closed", shared.ErrNetworkFailure)
	case <-ctx.Done():
		return Envelope{}, ctx.Err()
	}
}

func (c *fakeConn) Write(ctx context.Context, env Envelope) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("%w: connection closed", shared.ErrNetworkFailure)
	}
	c.written = append(c.written, env)
	autoAck := c.autoAck
	c.mu.Unlock()

	if autoAck {
		reply := Envelope{Event: "ack", RequestID: env.RequestID}
		if env.Event == "ping" {
			reply.Event = "pong"
		}
		c.push(reply)
	}
	return nil
}

func (c *fakeConn) Close(reason string) error {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)
	})
	return nil
}

func (c *fakeConn) push(env Envelope) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}
	c.inbound <- env
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) writtenEnvelopes() []Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Envelope, len(c.written))
	copy(out, c.written)
	return out
}

// fakeTransport hands out fakeConns and can be told to fail or reject
// dials. A non-nil dialGate makes every successful dial block until the
// gate closes, so a test can act while an attempt is in flight.
type fakeTransport struct {
	mu         sync.Mutex
	dials      int
	failDials  int
	rejectWith string
	autoAck    bool
	dialGate   chan struct{}
	conns      []*fakeConn
}

func (t *fakeTransport) Dial(ctx context.Context, socketURL, token string) (Conn, error) {
	t.mu.Lock()
	t.dials++
	failed := t.dials <= t.failDials
	gate := t.dialGate
	t.mu.Unlock()

	if failed {
		return nil, fmt.Errorf("%w: connection refused", shared.ErrNetworkFailure)
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	conn := newFakeConn(t.autoAck)
	if t.rejectWith != "" {
		payload, _ := json.Marshal(t.rejectWith)
		conn.push(Envelope{Event: "connect_error", Payload: payload})
		t.rejectWith = ""
	} else {
		conn.push(Envelope{Event: "connect"})
	}
	t.conns = append(t.conns, conn)
	return conn, nil
}

func (t *fakeTransport) dialCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dials
}

func (t *fakeTransport) latest() *fakeConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.conns) == 0 {
		return nil
	}
	return t.conns[len(t.conns)-1]
}

// fakeTokens stubs the coordinator's socket token exchange.
type fakeTokens struct {
	mu           sync.Mutex
	creds        *auth.SocketCredentials
	err          error
	calls        int
	unauthorized int
}

func (f *fakeTokens) SocketToken(ctx context.Context) (*auth.SocketCredentials, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.creds, nil
}

func (f *fakeTokens) HandleUnauthorized(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unauthorized++
	return nil
}

func (f *fakeTokens) unauthorizedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unauthorized
}

func testChannelConfig() shared.ChannelConfig {
	return shared.ChannelConfig{
		ReconnectBaseMS:    1,
		ReconnectMaxMS:     5,
		MaxRetries:         5,
		QueueMaxAgeSeconds: 300,
	}
}

func newTestManager(t *testing.T, tr *fakeTransport, tok *fakeTokens) (*Manager, *bus.Broadcaster) {
	t.Helper()
	if tok.creds == nil && tok.err == nil {
		tok.creds = &auth.SocketCredentials{Token: "channel-token", ExpiresIn: 300, SocketURL: "/io"}
	}
	b := bus.New()
	m := NewManager(testChannelConfig(), tok, tr, b, shared.NewLogger(io.Discard))
	t.Cleanup(m.Close)
	return m, b
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestConnect(t *testing.T) {
	t.Run("Establishes Channel And Reports State", func(t *testing.T) {
		tr := &fakeTransport{autoAck: true}
		m, b := newTestManager(t, tr, &fakeTokens{})

		states, cancel := b.Subscribe(bus.TopicChannelState, 8)
		defer cancel()

		if err := m.Connect(context.Background()); err != nil {
			t.Fatalf("connect failed: %v", err)
		}
		if m.State() != StateConnected {
			t.Fatalf("expected connected state, got %s", m.State())
		}
		if !m.Connected() {
			t.Error("expected Connected() to report true")
		}

		var seen []State
		for len(seen) < 2 {
			select {
			case ev := <-states:
				seen = append(seen, ev.Payload.(State))
			case <-time.After(time.Second):
				t.Fatalf("state broadcasts incomplete, saw %v", seen)
			}
		}
		if seen[0] != StateConnecting || seen[1] != StateConnected {
			t.Errorf("expected connecting then connected, got %v", seen)
		}
	})

	t.Run("Is Idempotent While Connected", func(t *testing.T) {
		tr := &fakeTransport{autoAck: true}
		m, _ := newTestManager(t, tr, &fakeTokens{})

		if err := m.Connect(context.Background()); err != nil {
			t.Fatalf("connect failed: %v", err)
		}
		if err := m.Connect(context.Background()); err != nil {
			t.Fatalf("second connect failed: %v", err)
		}
		if tr.dialCount() != 1 {
			t.Errorf("expected a single dial, got %d", tr.dialCount())
		}
	})

	t.Run("Credential Rejection Runs Unauthorized Flow", func(t *testing.T) {
		tr := &fakeTransport{}
		tok := &fakeTokens{err: fmt.Errorf("%w: token revoked", shared.ErrAuthRejected)}
		m, _ := newTestManager(t, tr, tok)

		err := m.Connect(context.Background())
		if !errors.Is(err, shared.ErrAuthRejected) {
			t.Fatalf("expected ErrAuthRejected, got %v", err)
		}
		if tok.unauthorizedCount() != 1 {
			t.Errorf("expected one unauthorized handoff, got %d", tok.unauthorizedCount())
		}
		if tr.dialCount() != 0 {
			t.Errorf("expected no dial after credential rejection, got %d", tr.dialCount())
		}
		if m.State() != StateDisconnected {
			t.Errorf("expected disconnected state, got %s", m.State())
		}
	})

	t.Run("Handshake Rejection With Auth Marker Skips Retry", func(t *testing.T) {
		tr := &fakeTransport{rejectWith: "jwt expired"}
		tok := &fakeTokens{}
		m, _ := newTestManager(t, tr, tok)

		err := m.Connect(context.Background())
		if !errors.Is(err, shared.ErrAuthRejected) {
			t.Fatalf("expected ErrAuthRejected, got %v", err)
		}
		if tok.unauthorizedCount() != 1 {
			t.Errorf("expected one unauthorized handoff, got %d", tok.unauthorizedCount())
		}

		time.Sleep(20 * time.Millisecond)
		if tr.dialCount() != 1 {
			t.Errorf("expected no reconnect after auth rejection, got %d dials", tr.dialCount())
		}
		if m.State() != StateDisconnected {
			t.Errorf("expected disconnected state, got %s", m.State())
		}
	})

	t.Run("Disconnect During Attempt Wins", func(t *testing.T) {
		gate := make(chan struct{})
		tr := &fakeTransport{autoAck: true, dialGate: gate}
		m, _ := newTestManager(t, tr, &fakeTokens{})

		errs := make(chan error, 1)
		go func() { errs <- m.Connect(context.Background()) }()

		waitFor(t, "dial to start", func() bool { return tr.dialCount() == 1 })
		m.Disconnect()
		close(gate)

		if err := <-errs; !errors.Is(err, shared.ErrNotConnected) {
			t.Fatalf("expected ErrNotConnected, got %v", err)
		}
		if m.State() != StateDisconnected {
			t.Errorf("expected disconnected state, got %s", m.State())
		}
		waitFor(t, "abandoned connection to close", func() bool {
			conn := tr.latest()
			return conn != nil && conn.isClosed()
		})

		time.Sleep(20 * time.Millisecond)
		if got := m.State(); got != StateDisconnected {
			t.Errorf("expected disconnect to stick, got %s", got)
		}
	})

	t.Run("Transport Failure Retries With Backoff", func(t *testing.T) {
		tr := &fakeTransport{autoAck: true, failDials: 2}
		m, _ := newTestManager(t, tr, &fakeTokens{})

		if err := m.Connect(context.Background()); err == nil {
			t.Fatal("expected first connect attempt to fail")
		}

		waitFor(t, "reconnect to succeed", func() bool { return m.State() == StateConnected })
		if tr.dialCount() != 3 {
			t.Errorf("expected 3 dials, got %d", tr.dialCount())
		}
	})
}

func TestEmit(t *testing.T) {
	t.Run("Delivers Immediately When Connected", func(t *testing.T) {
		tr := &fakeTransport{autoAck: true}
		m, _ := newTestManager(t, tr, &fakeTokens{})

		if err := m.Connect(context.Background()); err != nil {
			t.Fatalf("connect failed: %v", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		p := m.Emit(ctx, "playback_command", map[string]string{"action": "pause"})
		if err := p.Wait(ctx); err != nil {
			t.Fatalf("emit failed: %v", err)
		}

		envs := tr.latest().writtenEnvelopes()
		if len(envs) != 1 || envs[0].Event != "playback_command" {
			t.Fatalf("unexpected writes: %v", envs)
		}
		if envs[0].RequestID != p.ID {
			t.Errorf("expected request id %s, got %s", p.ID, envs[0].RequestID)
		}
		if m.QueueLen() != 0 {
			t.Errorf("expected empty queue, got %d", m.QueueLen())
		}
	})

	t.Run("Offline Emits Replay In Order Exactly Once", func(t *testing.T) {
		tr := &fakeTransport{autoAck: true}
		m, _ := newTestManager(t, tr, &fakeTokens{})

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		var pending []*PendingEvent
		for _, name := range []string{"first", "second", "third"} {
			pending = append(pending, m.Emit(ctx, name, nil))
		}
		if m.QueueLen() != 3 {
			t.Fatalf("expected 3 queued events, got %d", m.QueueLen())
		}

		if err := m.Connect(context.Background()); err != nil {
			t.Fatalf("connect failed: %v", err)
		}

		for _, p := range pending {
			if err := p.Wait(ctx); err != nil {
				t.Fatalf("queued emit %q failed: %v", p.Name, err)
			}
		}

		envs := tr.latest().writtenEnvelopes()
		if len(envs) != 3 {
			t.Fatalf("expected 3 deliveries, got %d: %v", len(envs), envs)
		}
		for i, want := range []string{"first", "second", "third"} {
			if envs[i].Event != want {
				t.Errorf("delivery %d: expected %q, got %q", i, want, envs[i].Event)
			}
		}
		if m.QueueLen() != 0 {
			t.Errorf("expected drained queue, got %d", m.QueueLen())
		}
	})

	t.Run("Stale Queued Events Expire On Connect", func(t *testing.T) {
		tr := &fakeTransport{autoAck: true}
		m, _ := newTestManager(t, tr, &fakeTokens{})

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		stale := m.Emit(ctx, "stale", nil)

		// Jump the clock past the queue age cap before draining.
		m.now = func() time.Time { return time.Now().Add(10 * time.Minute) }
		fresh := m.Emit(ctx, "fresh", nil)

		if err := m.Connect(context.Background()); err != nil {
			t.Fatalf("connect failed: %v", err)
		}

		if err := stale.Wait(ctx); !errors.Is(err, shared.ErrQueueEntryExpired) {
			t.Errorf("expected ErrQueueEntryExpired, got %v", err)
		}
		if err := fresh.Wait(ctx); err != nil {
			t.Errorf("expected fresh event to deliver, got %v", err)
		}

		envs := tr.latest().writtenEnvelopes()
		if len(envs) != 1 || envs[0].Event != "fresh" {
			t.Errorf("expected only the fresh event on the wire, got %v", envs)
		}
	})

	t.Run("Close Cancels Queued Emits", func(t *testing.T) {
		m, _ := newTestManager(t, &fakeTransport{}, &fakeTokens{})

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		p := m.Emit(ctx, "never_sent", nil)
		m.Close()

		if err := p.Wait(ctx); !errors.Is(err, shared.ErrEmitCancelled) {
			t.Errorf("expected ErrEmitCancelled, got %v", err)
		}
	})
}

func TestReconnect(t *testing.T) {
	t.Run("Exhausted Retries Go Terminal With One Notification", func(t *testing.T) {
		tr := &fakeTransport{failDials: 1000}
		m, b := newTestManager(t, tr, &fakeTokens{})

		failures, cancel := b.Subscribe(bus.TopicTerminalFailure, 8)
		defer cancel()

		if err := m.Connect(context.Background()); err == nil {
			t.Fatal("expected initial connect to fail")
		}

		waitFor(t, "terminal state", func() bool { return m.State() == StateFailedTerminal })

		// Initial attempt plus the full retry budget.
		if tr.dialCount() != 6 {
			t.Errorf("expected 6 dials, got %d", tr.dialCount())
		}

		time.Sleep(20 * time.Millisecond)
		count := 0
		for {
			select {
			case <-failures:
				count++
				continue
			default:
			}
			break
		}
		if count != 1 {
			t.Errorf("expected exactly one terminal notification, got %d", count)
		}
	})

	t.Run("Connection Loss Reconnects And Drains Queue", func(t *testing.T) {
		tr := &fakeTransport{autoAck: true}
		m, _ := newTestManager(t, tr, &fakeTokens{})

		if err := m.Connect(context.Background()); err != nil {
			t.Fatalf("connect failed: %v", err)
		}
		first := tr.latest()

		payload, _ := json.Marshal(map[string]string{"reason": "transport close"})
		first.push(Envelope{Event: "disconnect", Payload: payload})

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		p := m.Emit(ctx, "queued_during_outage", nil)

		waitFor(t, "reconnect", func() bool {
			return tr.dialCount() == 2 && m.State() == StateConnected
		})

		if err := p.Wait(ctx); err != nil {
			t.Fatalf("queued emit failed after reconnect: %v", err)
		}
		envs := tr.latest().writtenEnvelopes()
		if len(envs) != 1 || envs[0].Event != "queued_during_outage" {
			t.Errorf("expected queued event on the new connection, got %v", envs)
		}
	})

	t.Run("Server Terminated Session Triggers Unauthorized", func(t *testing.T) {
		tr := &fakeTransport{autoAck: true}
		tok := &fakeTokens{}
		m, _ := newTestManager(t, tr, tok)

		if err := m.Connect(context.Background()); err != nil {
			t.Fatalf("connect failed: %v", err)
		}

		payload, _ := json.Marshal(map[string]string{"reason": "io server disconnect"})
		tr.latest().push(Envelope{Event: "disconnect", Payload: payload})

		waitFor(t, "unauthorized handoff", func() bool { return tok.unauthorizedCount() == 1 })

		time.Sleep(20 * time.Millisecond)
		if tr.dialCount() != 1 {
			t.Errorf("expected no reconnect after server termination, got %d dials", tr.dialCount())
		}
		if m.State() != StateDisconnected {
			t.Errorf("expected disconnected state, got %s", m.State())
		}
	})

	t.Run("Disconnect Is Intentional And Keeps Queue", func(t *testing.T) {
		tr := &fakeTransport{autoAck: true}
		m, _ := newTestManager(t, tr, &fakeTokens{})

		if err := m.Connect(context.Background()); err != nil {
			t.Fatalf("connect failed: %v", err)
		}

		m.Disconnect()
		m.Disconnect()

		if m.State() != StateDisconnected {
			t.Fatalf("expected disconnected state, got %s", m.State())
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		m.Emit(ctx, "held_for_later", nil)

		time.Sleep(20 * time.Millisecond)
		if tr.dialCount() != 1 {
			t.Errorf("expected no reconnect after intentional disconnect, got %d dials", tr.dialCount())
		}
		if m.QueueLen() != 1 {
			t.Errorf("expected queue to survive disconnect, got %d", m.QueueLen())
		}
	})
}

func TestInboundEvents(t *testing.T) {
	t.Run("Server Events Forward Under Wire Names", func(t *testing.T) {
		tr := &fakeTransport{autoAck: true}
		m, b := newTestManager(t, tr, &fakeTokens{})

		updates, cancel := b.Subscribe("playback_update", 4)
		defer cancel()

		if err := m.Connect(context.Background()); err != nil {
			t.Fatalf("connect failed: %v", err)
		}

		payload, _ := json.Marshal(map[string]any{"track": "abc", "position": 42})
		tr.latest().push(Envelope{Event: "playback_update", Payload: payload})

		select {
		case ev := <-updates:
			raw, ok := ev.Payload.(json.RawMessage)
			if !ok {
				t.Fatalf("expected raw payload, got %T", ev.Payload)
			}
			var got map[string]any
			if err := json.Unmarshal(raw, &got); err != nil {
				t.Fatalf("payload did not round-trip: %v", err)
			}
			if got["track"] != "abc" {
				t.Errorf("expected track abc, got %v", got["track"])
			}
		case <-time.After(time.Second):
			t.Fatal("playback_update never arrived on the bus")
		}
	})
}

func TestVerify(t *testing.T) {
	t.Run("Ping Pong Round Trip", func(t *testing.T) {
		tr := &fakeTransport{autoAck: true}
		m, _ := newTestManager(t, tr, &fakeTokens{})

		if err := m.Connect(context.Background()); err != nil {
			t.Fatalf("connect failed: %v", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		ok, err := m.Verify(ctx)
		if err != nil {
			t.Fatalf("verify failed: %v", err)
		}
		if !ok {
			t.Error("expected verification to succeed over a live channel")
		}
	})

	t.Run("Fails When Disconnected", func(t *testing.T) {
		m, _ := newTestManager(t, &fakeTransport{}, &fakeTokens{})

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		if _, err := m.Verify(ctx); !errors.Is(err, shared.ErrNotConnected) {
			t.Errorf("expected ErrNotConnected, got %v", err)
		}
	})
}
