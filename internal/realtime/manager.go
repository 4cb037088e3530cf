package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/relink/internal/auth"
	"github.com/desertthunder/relink/internal/bus"
	"github.com/desertthunder/relink/internal/shared"
)

// State is the connection lifecycle position. Transitions are owned by the
// manager alone.
type State string

const (
	StateDisconnected   State = "disconnected"
	StateConnecting     State = "connecting"
	StateConnected      State = "connected"
	StateReconnecting   State = "reconnecting"
	StateFailedTerminal State = "failed_terminal"
)

// handshakeTimeout bounds the wait for the server's first frame after dial.
const handshakeTimeout = 10 * time.Second

// TokenSource supplies channel credentials and owns the reaction to
// credential rejection. Implemented by [auth.Coordinator].
type TokenSource interface {
	SocketToken(ctx context.Context) (*auth.SocketCredentials, error)
	HandleUnauthorized(ctx context.Context) error
}

// authMarkers are the substrings in a connect error that identify a
// credential fault rather than a transport fault.
var authMarkers = []string{"unauthorized", "authentication", "invalid token", "jwt", "401"}

// terminatedMarkers are the disconnect reasons that mean the server
// deliberately ended the session, as opposed to a network blip.
var terminatedMarkers = []string{"io server disconnect", "session terminated", "session revoked", "forced close"}

// Manager runs the realtime channel state machine: it exchanges the primary
// token for a channel credential, dials, drains the pending event queue,
// reads inbound envelopes onto the bus, and reconnects with backoff when the
// connection drops. After the retry bound is exhausted it goes terminal and
// broadcasts the failure exactly once.
type Manager struct {
	cfg       shared.ChannelConfig
	tokens    TokenSource
	transport Transport
	bus       *bus.Broadcaster
	logger    *log.Logger
	now       func() time.Time

	mu               sync.Mutex
	gen              uint64
	state            State
	conn             Conn
	cancelRead       context.CancelFunc
	retryTimer       *time.Timer
	retry            *backoff
	queue            *Queue
	inflight         map[string]*PendingEvent
	pings            map[string]chan bool
	terminalNotified bool
	closed           bool
}

// NewManager wires a disconnected [Manager].
func NewManager(cfg shared.ChannelConfig, tokens TokenSource, transport Transport, b *bus.Broadcaster, logger *log.Logger) *Manager {
	return &Manager{
		cfg:       cfg,
		tokens:    tokens,
		transport: transport,
		bus:       b,
		logger:    logger,
		now:       time.Now,
		state:     StateDisconnected,
		retry:     newBackoff(cfg.ReconnectBase(), cfg.ReconnectMax(), cfg.MaxRetries),
		queue:     NewQueue(),
		inflight:  make(map[string]*PendingEvent),
		pings:     make(map[string]chan bool),
	}
}

// Connect establishes the channel. Calling it while a connection attempt is
// in flight or a connection is live is a no-op. On transport failure a retry
// is scheduled with backoff; on credential rejection the unauthorized flow
// runs instead and no retry is scheduled.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("%w: manager closed", shared.ErrNotConnected)
	}
	switch m.state {
	case StateConnecting, StateConnected:
		m.mu.Unlock()
		return nil
	}
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	m.setStateLocked(StateConnecting)
	// The generation stamps this attempt. Disconnect and Close bump it, so
	// an attempt that outlives an explicit teardown can be told apart from
	// one that is still wanted.
	gen := m.gen
	m.mu.Unlock()

	creds, err := m.tokens.SocketToken(ctx)
	if err != nil {
		if isCredentialRejection(err) {
			m.setState(StateDisconnected)
			m.logger.Warn("channel credential rejected", "error", err)
			m.tokens.HandleUnauthorized(ctx)
			return err
		}
		return m.scheduleRetry(gen, fmt.Errorf("socket token exchange: %w", err))
	}

	conn, err := m.transport.Dial(ctx, creds.SocketURL, creds.Token)
	if err != nil {
		return m.scheduleRetry(gen, err)
	}

	if err := m.handshake(ctx, conn); err != nil {
		conn.Close("handshake failed")
		if errors.Is(err, shared.ErrAuthRejected) {
			m.setState(StateDisconnected)
			m.tokens.HandleUnauthorized(ctx)
			return err
		}
		return m.scheduleRetry(gen, err)
	}

	readCtx, cancelRead := context.WithCancel(context.Background())

	m.mu.Lock()
	if m.closed || m.gen != gen {
		m.mu.Unlock()
		cancelRead()
		conn.Close("superseded by disconnect")
		return fmt.Errorf("%w: disconnected while connecting", shared.ErrNotConnected)
	}
	m.conn = conn
	m.cancelRead = cancelRead
	m.retry.reset()
	m.terminalNotified = false
	m.setStateLocked(StateConnected)
	m.mu.Unlock()

	m.logger.Info("channel connected", "url", creds.SocketURL)

	m.drain(ctx, conn)
	go m.readLoop(readCtx, conn)
	go m.heartbeatLoop(readCtx)
	return nil
}

// handshake waits for the server's verdict on the dialed connection: a
// connect frame accepts it, a connect_error frame rejects it.
func (m *Manager) handshake(ctx context.Context, conn Conn) error {
	hctx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	first, err := conn.Read(hctx)
	if err != nil {
		return fmt.Errorf("handshake read: %w", err)
	}

	switch first.Event {
	case "connect":
		return nil
	case "connect_error":
		reason := payloadText(first.Payload)
		if hasMarker(reason, authMarkers) {
			return fmt.Errorf("%w: %s", shared.ErrAuthRejected, reason)
		}
		return fmt.Errorf("connection rejected: %s", reason)
	default:
		return fmt.Errorf("unexpected handshake frame %q", first.Event)
	}
}

// Emit sends an event to the server, or queues it for the next connection
// when the channel is down. The returned [PendingEvent] settles when the
// server acknowledges delivery or the event is rejected.
func (m *Manager) Emit(ctx context.Context, name string, payload any) *PendingEvent {
	e := newPendingEvent(name, payload, m.now())

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		e.settle(fmt.Errorf("%w: manager closed", shared.ErrEmitCancelled))
		return e
	}
	if m.state == StateConnected && m.conn != nil {
		conn := m.conn
		m.inflight[e.ID] = e
		m.mu.Unlock()
		m.send(ctx, conn, e)
		return e
	}
	m.queue.Enqueue(e)
	m.mu.Unlock()

	m.logger.Debug("queued event while disconnected", "event", name, "queued", m.queue.Len())
	return e
}

// send expects the event to already be in the inflight map. A write
// failure settles the event; it is never retried.
func (m *Manager) send(ctx context.Context, conn Conn, e *PendingEvent) {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		m.dropInflight(e.ID)
		e.settle(fmt.Errorf("encode %q: %w", e.Name, err))
		return
	}

	env := Envelope{Event: e.Name, Payload: payload, RequestID: e.ID}
	if err := conn.Write(ctx, env); err != nil {
		m.dropInflight(e.ID)
		e.settle(fmt.Errorf("%w: write %q: %v", shared.ErrNetworkFailure, e.Name, err))
	}
}

// drain delivers queued events in arrival order. Stale entries are expired
// first; each survivor is dequeued before its send is attempted so a crash
// mid-drain cannot double-deliver.
func (m *Manager) drain(ctx context.Context, conn Conn) {
	if expired := m.queue.ExpireOlderThan(m.cfg.QueueMaxAge(), m.now()); expired > 0 {
		m.logger.Warn("expired stale queued events", "count", expired)
	}

	for {
		e, ok := m.queue.Dequeue()
		if !ok {
			return
		}
		m.mu.Lock()
		m.inflight[e.ID] = e
		m.mu.Unlock()
		m.send(ctx, conn, e)
	}
}

// readLoop is the single consumer of inbound envelopes. Server events are
// forwarded on the bus under their wire names; acks and pongs settle their
// pending requests.
func (m *Manager) readLoop(ctx context.Context, conn Conn) {
	for {
		env, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.handleConnectionLoss(fmt.Sprintf("read failed: %v", err), false)
			return
		}

		switch env.Event {
		case "ack":
			m.resolveAck(env.RequestID)
		case "pong":
			m.resolvePing(env.RequestID, true)
		case "connect_error":
			reason := payloadText(env.Payload)
			m.handleConnectionLoss(reason, hasMarker(reason, authMarkers))
			return
		case "disconnect":
			reason := disconnectReason(env.Payload)
			m.handleConnectionLoss(reason, hasMarker(reason, terminatedMarkers))
			return
		default:
			m.bus.Publish(env.Event, env.Payload)
		}
	}
}

// handleConnectionLoss tears down the live connection. A credential fault
// hands off to the unauthorized flow; anything else schedules a reconnect.
func (m *Manager) handleConnectionLoss(reason string, credentialFault bool) {
	m.mu.Lock()
	if m.conn == nil || m.closed {
		m.mu.Unlock()
		return
	}
	gen := m.gen
	conn := m.conn
	m.conn = nil
	if m.cancelRead != nil {
		m.cancelRead()
		m.cancelRead = nil
	}
	inflight := m.inflight
	m.inflight = make(map[string]*PendingEvent)
	pings := m.pings
	m.pings = make(map[string]chan bool)
	m.setStateLocked(StateDisconnected)
	m.mu.Unlock()

	conn.Close(reason)
	for _, e := range inflight {
		e.settle(fmt.Errorf("%w: connection lost before ack of %q", shared.ErrNetworkFailure, e.Name))
	}
	for _, ch := range pings {
		ch <- false
	}

	if credentialFault {
		m.logger.Warn("server ended the session", "reason", reason)
		m.tokens.HandleUnauthorized(context.Background())
		return
	}

	m.logger.Warn("channel connection lost", "reason", reason)
	m.scheduleRetry(gen, fmt.Errorf("connection lost: %s", reason))
}

// scheduleRetry arms the backoff timer for the next attempt, or goes
// terminal once the retry bound is exhausted. The terminal broadcast fires
// exactly once per failure episode. A stale generation means an explicit
// disconnect happened since the attempt started; nothing is scheduled.
func (m *Manager) scheduleRetry(gen uint64, cause error) error {
	m.mu.Lock()
	if m.closed || m.gen != gen {
		m.mu.Unlock()
		return cause
	}

	if m.retry.exhausted() {
		m.setStateLocked(StateFailedTerminal)
		notify := !m.terminalNotified
		m.terminalNotified = true
		m.mu.Unlock()

		if notify {
			msg := fmt.Sprintf("giving up after %d attempts: %v", m.cfg.MaxRetries, cause)
			m.bus.Publish(bus.TopicTerminalFailure, msg)
			m.logger.Error("channel failed permanently", "attempts", m.cfg.MaxRetries, "error", cause)
		}
		return fmt.Errorf("%w: %v", shared.ErrConnectionTerminal, cause)
	}

	delay := m.retry.next()
	m.setStateLocked(StateReconnecting)
	if m.retryTimer != nil {
		m.retryTimer.Stop()
	}
	m.retryTimer = time.AfterFunc(delay, func() {
		m.mu.Lock()
		m.retryTimer = nil
		skip := m.state != StateReconnecting
		m.mu.Unlock()
		if skip {
			return
		}
		if err := m.Connect(context.Background()); err != nil {
			m.logger.Debug("reconnect attempt failed", "error", err)
		}
	})
	m.mu.Unlock()

	m.logger.Warn("connection attempt failed", "retry_in", delay, "error", cause)
	return cause
}

// Disconnect tears the channel down on purpose: no reconnect is scheduled,
// the attempt counter resets, any in-flight connect attempt is abandoned,
// and queued events stay queued for the next Connect. Safe to call
// repeatedly.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.gen++
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	m.retry.reset()
	conn := m.conn
	m.conn = nil
	if m.cancelRead != nil {
		m.cancelRead()
		m.cancelRead = nil
	}
	inflight := m.inflight
	m.inflight = make(map[string]*PendingEvent)
	pings := m.pings
	m.pings = make(map[string]chan bool)
	m.terminalNotified = false
	m.setStateLocked(StateDisconnected)
	m.mu.Unlock()

	if conn != nil {
		conn.Close("client disconnect")
	}
	for _, e := range inflight {
		e.settle(fmt.Errorf("%w: disconnected before ack of %q", shared.ErrEmitCancelled, e.Name))
	}
	for _, ch := range pings {
		ch <- false
	}
}

// Close shuts the manager down for good and rejects every queued event so
// no caller stays blocked.
func (m *Manager) Close() {
	m.Disconnect()

	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.queue.CancelAll()
}

// Connected implements [auth.ChannelVerifier].
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateConnected
}

// Verify implements [auth.ChannelVerifier]: a ping over the live channel,
// resolved by the matching pong.
func (m *Manager) Verify(ctx context.Context) (bool, error) {
	m.mu.Lock()
	conn := m.conn
	if conn == nil || m.state != StateConnected {
		m.mu.Unlock()
		return false, shared.ErrNotConnected
	}
	id := shared.GenerateID()
	ch := make(chan bool, 1)
	m.pings[id] = ch
	m.mu.Unlock()

	if err := conn.Write(ctx, Envelope{Event: "ping", RequestID: id}); err != nil {
		m.dropPing(id)
		return false, fmt.Errorf("%w: ping write: %v", shared.ErrNetworkFailure, err)
	}

	select {
	case ok := <-ch:
		return ok, nil
	case <-ctx.Done():
		m.dropPing(id)
		return false, ctx.Err()
	}
}

// State returns the current lifecycle position.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// QueueLen reports how many events await the next connection.
func (m *Manager) QueueLen() int {
	return m.queue.Len()
}

// heartbeatLoop pings periodically so half-open connections surface as read
// failures instead of silent staleness.
func (m *Manager) heartbeatLoop(ctx context.Context) {
	interval := m.cfg.HeartbeatInterval()
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hctx, cancel := context.WithTimeout(ctx, interval)
			ok, err := m.Verify(hctx)
			cancel()
			if err != nil || !ok {
				m.logger.Debug("heartbeat missed", "ok", ok, "error", err)
			}
		}
	}
}

func (m *Manager) resolveAck(requestID string) {
	m.mu.Lock()
	e, ok := m.inflight[requestID]
	if ok {
		delete(m.inflight, requestID)
	}
	m.mu.Unlock()

	if ok {
		e.settle(nil)
	}
}

func (m *Manager) resolvePing(requestID string, alive bool) {
	m.mu.Lock()
	ch, ok := m.pings[requestID]
	if ok {
		delete(m.pings, requestID)
	}
	m.mu.Unlock()

	if ok {
		ch <- alive
	}
}

func (m *Manager) dropInflight(id string) {
	m.mu.Lock()
	delete(m.inflight, id)
	m.mu.Unlock()
}

func (m *Manager) dropPing(id string) {
	m.mu.Lock()
	delete(m.pings, id)
	m.mu.Unlock()
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.setStateLocked(s)
	m.mu.Unlock()
}

// setStateLocked requires m.mu held. The bus has its own lock and never
// calls back into the manager.
func (m *Manager) setStateLocked(s State) {
	m.state = s
	m.bus.PublishDistinct(bus.TopicChannelState, s)
}

func isCredentialRejection(err error) bool {
	return errors.Is(err, shared.ErrAuthRejected) ||
		errors.Is(err, shared.ErrRefreshFailed) ||
		errors.Is(err, shared.ErrTokenMissing)
}

func hasMarker(reason string, markers []string) bool {
	lower := strings.ToLower(reason)
	for _, marker := range markers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// payloadText renders an error payload for marker inspection. Payloads may
// be a JSON string or an object with a message field.
func payloadText(payload json.RawMessage) string {
	if len(payload) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(payload, &s); err == nil {
		return s
	}

	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(payload, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	return string(payload)
}

// disconnectReason extracts the server's stated reason from a disconnect
// frame.
func disconnectReason(payload json.RawMessage) string {
	var obj struct {
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(payload, &obj); err == nil && obj.Reason != "" {
		return obj.Reason
	}
	return payloadText(payload)
}
