package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/relink/internal/bus"
	"github.com/desertthunder/relink/internal/shared"
	"github.com/desertthunder/relink/internal/token"
)

// Status is the observable authentication projection. The version increases
// with every completed check so subscribers can discard stale updates.
type Status struct {
	Authenticated bool
	Version       uint64
	CheckedAt     time.Time
}

// ChannelVerifier is the live realtime channel's ping-style verification,
// consulted only when the HTTP check fails at the transport level.
type ChannelVerifier interface {
	Connected() bool
	Verify(ctx context.Context) (bool, error)
}

// Coordinator owns the authentication state machine
// (unauthenticated/checking/authenticated) and is the sole writer of the
// status projection.
type Coordinator struct {
	cfg    *shared.Config
	store  *token.Store
	client *Client
	bus    *bus.Broadcaster
	guard  *Guard
	nav    Navigator
	logger *log.Logger
	now    func() time.Time

	mu         sync.Mutex
	refresh    *refreshAttempt
	version    uint64
	lastStatus *bool

	channel    ChannelVerifier
	disconnect func()
}

// refreshAttempt coalesces concurrent RefreshToken callers onto one request.
type refreshAttempt struct {
	done chan struct{}
	tok  string
	err  error
}

// NewCoordinator wires a [Coordinator]. The channel verifier and disconnect
// hook are attached later via [Coordinator.AttachChannel] because the
// connection manager depends on the coordinator for socket tokens.
func NewCoordinator(cfg *shared.Config, store *token.Store, client *Client, b *bus.Broadcaster, nav Navigator, logger *log.Logger) *Coordinator {
	return &Coordinator{
		cfg:    cfg,
		store:  store,
		client: client,
		bus:    b,
		guard:  NewGuard(),
		nav:    nav,
		logger: logger,
		now:    time.Now,
	}
}

// AttachChannel registers the live channel's verifier and disconnect hook.
func (c *Coordinator) AttachChannel(verifier ChannelVerifier, disconnect func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channel = verifier
	c.disconnect = disconnect
}

// Guard exposes the redirect guard, for callers that need to observe it.
func (c *Coordinator) Guard() *Guard { return c.guard }

// CheckAuth decides whether the session is currently authenticated.
//
// Token absence and local invalidity are handled without a network call.
// The HTTP result wins whenever the request completes; the connected
// channel's ping verification is a fallback for transport-level HTTP
// failure only. Fail closed: an unverifiable session is reported as
// unauthenticated, never assumed valid.
func (c *Coordinator) CheckAuth(ctx context.Context) (bool, error) {
	tok, ok := c.store.Get()
	if !ok {
		c.setStatus(false)
		return false, nil
	}

	if err := token.Validate(tok, c.now()); err != nil {
		c.logger.Debug("stored token failed validation", "error", err)
		c.store.Clear()
		c.setStatus(false)
		return false, nil
	}

	verifyCtx, cancel := context.WithTimeout(ctx, c.cfg.Auth.VerifyTimeout())
	defer cancel()

	result, err := c.client.CheckAuth(verifyCtx, tok)
	if err == nil {
		authed := result.Authenticated && result.TokenValid
		c.setStatus(authed)
		return authed, nil
	}

	if errors.Is(err, shared.ErrAuthRejected) {
		c.logger.Warn("server rejected the session", "error", err)
		c.store.Clear()
		c.setStatus(false)
		if herr := c.HandleUnauthorized(ctx); herr != nil {
			c.logger.Warn("login redirect failed", "error", herr)
		}
		return false, nil
	}

	if errors.Is(err, shared.ErrNetworkFailure) {
		if verified, ok := c.verifyOverChannel(ctx); ok {
			c.setStatus(verified)
			return verified, nil
		}
	}

	return false, fmt.Errorf("auth check failed: %w", err)
}

// verifyOverChannel asks a connected realtime channel to vouch for the
// session. Returns ok=false when no channel is usable.
func (c *Coordinator) verifyOverChannel(ctx context.Context) (verified, ok bool) {
	c.mu.Lock()
	ch := c.channel
	c.mu.Unlock()

	if ch == nil || !ch.Connected() {
		return false, false
	}

	verified, err := ch.Verify(ctx)
	if err != nil {
		c.logger.Debug("channel verification failed", "error", err)
		return false, false
	}
	return verified, true
}

// RefreshToken exchanges the stored token for a fresh one. Concurrent
// callers await the same in-flight attempt; exactly one network request is
// made. On any failure the token is cleared and the error propagated so the
// caller can drive HandleUnauthorized.
func (c *Coordinator) RefreshToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	if att := c.refresh; att != nil {
		c.mu.Unlock()
		select {
		case <-att.done:
			return att.tok, att.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	att := &refreshAttempt{done: make(chan struct{})}
	c.refresh = att
	c.mu.Unlock()

	att.tok, att.err = c.doRefresh(ctx)
	close(att.done)

	c.mu.Lock()
	c.refresh = nil
	c.mu.Unlock()

	return att.tok, att.err
}

func (c *Coordinator) doRefresh(ctx context.Context) (string, error) {
	tok, ok := c.store.Get()
	if !ok {
		return "", fmt.Errorf("%w: nothing to refresh", shared.ErrTokenMissing)
	}

	fresh, err := c.client.Refresh(ctx, tok)
	if err != nil {
		c.store.Clear()
		c.setStatus(false)
		return "", fmt.Errorf("%w: %v", shared.ErrRefreshFailed, err)
	}

	c.store.Set(fresh, true)
	c.setStatus(true)
	c.logger.Info("token refreshed")
	return fresh, nil
}

// WaitForToken polls the store until a token appears, for code paths that
// start before login has necessarily written one. Fails with
// [shared.ErrTokenUnavailable] after maxAttempts; no further polling happens
// past that point.
func (c *Coordinator) WaitForToken(ctx context.Context, maxAttempts int, interval time.Duration) (string, error) {
	if maxAttempts <= 0 {
		maxAttempts = c.cfg.Auth.WaitMaxAttempts
	}
	if interval <= 0 {
		interval = c.cfg.Auth.WaitInterval()
	}

	for attempt := 1; ; attempt++ {
		if tok, ok := c.store.Get(); ok {
			return tok, nil
		}
		if attempt >= maxAttempts {
			return "", fmt.Errorf("%w: gave up after %d attempts", shared.ErrTokenUnavailable, maxAttempts)
		}

		timer := time.NewTimer(interval)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		}
	}
}

// SocketToken exchanges the primary token for a short-lived channel
// credential. A 401 triggers exactly one refresh-and-retry; a second 401 is
// terminal for this call.
func (c *Coordinator) SocketToken(ctx context.Context) (*SocketCredentials, error) {
	tok, ok := c.store.Get()
	if !ok {
		return nil, shared.ErrTokenMissing
	}

	creds, err := c.client.SocketToken(ctx, tok)
	if err == nil {
		return creds, nil
	}
	if !errors.Is(err, shared.ErrAuthRejected) {
		return nil, err
	}

	fresh, rerr := c.RefreshToken(ctx)
	if rerr != nil {
		return nil, rerr
	}

	creds, err = c.client.SocketToken(ctx, fresh)
	if err != nil {
		return nil, fmt.Errorf("socket token exchange failed after refresh: %w", err)
	}
	return creds, nil
}

// HandleUnauthorized performs the single permitted navigation to the login
// entry point: no-op if a navigation is already in progress or the client is
// already there. Otherwise it claims the guard, clears every token layer,
// disconnects any live channel, and navigates with the current location as
// the return target.
func (c *Coordinator) HandleUnauthorized(ctx context.Context) error {
	loc := c.nav.CurrentLocation()
	if c.atLoginEntry(loc) {
		c.logger.Debug("already at login entry point, skipping redirect")
		return nil
	}

	if !c.guard.TryBegin() {
		c.logger.Debug("navigation already in progress, skipping redirect")
		return nil
	}

	c.store.Clear()
	c.setStatus(false)

	c.mu.Lock()
	disconnect := c.disconnect
	c.mu.Unlock()
	if disconnect != nil {
		disconnect()
	}

	target := fmt.Sprintf("%s?redirect=%s", c.cfg.Server.LoginPath, url.QueryEscape(loc))
	c.logger.Info("redirecting to login", "target", target)
	return c.nav.Navigate(target)
}

func (c *Coordinator) atLoginEntry(loc string) bool {
	path := loc
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	return path == c.cfg.Server.LoginPath
}

// setStatus records a completed check and broadcasts the projection only
// when the value actually changed.
func (c *Coordinator) setStatus(authenticated bool) {
	c.mu.Lock()
	c.version++
	changed := c.lastStatus == nil || *c.lastStatus != authenticated
	c.lastStatus = &authenticated
	status := Status{Authenticated: authenticated, Version: c.version, CheckedAt: c.now()}
	c.mu.Unlock()

	if changed {
		c.bus.Publish(bus.TopicAuthStatus, status)
	}
}
