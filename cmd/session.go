package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/desertthunder/relink/internal/bus"
	"github.com/desertthunder/relink/internal/shared"
	"github.com/urfave/cli/v3"
)

// defaultEmitTimeout bounds the ack wait when --timeout is not given.
const defaultEmitTimeout = 10 * time.Second

// listenTopics are the bus topics streamed by `session listen`: the status
// projections plus the inbound server events forwarded under wire names.
var listenTopics = []string{
	bus.TopicAuthStatus,
	bus.TopicChannelState,
	bus.TopicTerminalFailure,
	"playback_update",
	"playlist_update",
	"system_notification",
}

// SessionListen connects the channel and streams session events to the
// terminal until interrupted.
func (r *Runner) SessionListen(ctx context.Context, cmd *cli.Command) error {
	if err := r.requireSession(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	if err := r.manager.Connect(ctx); err != nil {
		r.logger.Warn("initial connect failed, retrying in background", "error", err)
	}
	defer r.manager.Disconnect()

	merged := make(chan bus.Event, 64)
	cancels := make([]func(), 0, len(listenTopics))
	for _, topic := range listenTopics {
		ch, cancel := r.bus.Subscribe(topic, 32)
		cancels = append(cancels, cancel)
		go func() {
			for ev := range ch {
				select {
				case merged <- ev:
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	defer func() {
		for _, cancel := range cancels {
			cancel()
		}
	}()

	r.logger.Info("listening for session events, ctrl+c to stop")

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-merged:
			if cmd.Bool("json") {
				r.writeJSON(map[string]any{"topic": ev.Topic, "seq": ev.Seq, "payload": ev.Payload}, false)
			} else {
				r.writePlain("%s  %-26s %s\n", time.Now().Format("15:04:05"), ev.Topic, renderPayload(ev.Payload))
			}
		}
	}
}

// SessionEmit sends one event over the channel and waits for the server's
// acknowledgement. Events emitted while disconnected queue for the next
// connection, so the wait may span a reconnect.
func (r *Runner) SessionEmit(ctx context.Context, cmd *cli.Command) error {
	if err := r.requireSession(); err != nil {
		return err
	}

	name := cmd.StringArg("event")
	if name == "" {
		return fmt.Errorf("%w: event name", shared.ErrMissingArgument)
	}

	var payload any
	if data := cmd.String("data"); data != "" {
		if err := json.Unmarshal([]byte(data), &payload); err != nil {
			return fmt.Errorf("%w: --data is not valid JSON: %v", shared.ErrInvalidFlag, err)
		}
	}

	if err := r.manager.Connect(ctx); err != nil {
		r.logger.Warn("connect failed, event queued for delivery", "error", err)
	}
	defer r.manager.Disconnect()

	timeout := cmd.Duration("timeout")
	if timeout <= 0 {
		timeout = defaultEmitTimeout
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	pending := r.manager.Emit(ctx, name, payload)
	if err := pending.Wait(waitCtx); err != nil {
		return fmt.Errorf("emit %q failed: %w", name, err)
	}

	return r.writePlain("✓ %s acknowledged\n", name)
}

// SessionStatus shows the authentication projection and channel state.
func (r *Runner) SessionStatus(ctx context.Context, cmd *cli.Command) error {
	if err := r.requireSession(); err != nil {
		return err
	}

	authenticated, err := r.coord.CheckAuth(ctx)
	if err != nil {
		r.logger.Warn("auth check failed", "error", err)
	}

	if cmd.Bool("json") {
		return r.writeJSON(map[string]any{
			"authenticated": authenticated,
			"channel":       string(r.manager.State()),
			"queued_events": r.manager.QueueLen(),
		}, true)
	}

	if authenticated {
		r.writePlain("Auth: ✓ authenticated\n")
	} else {
		r.writePlain("Auth: ✗ not authenticated\n")
	}
	r.writePlain("Channel: %s\n", r.manager.State())
	r.writePlain("Queued events: %d\n", r.manager.QueueLen())
	return nil
}

// renderPayload flattens a bus payload for single-line output.
func renderPayload(payload any) string {
	switch v := payload.(type) {
	case json.RawMessage:
		return string(v)
	case string:
		return v
	default:
		out, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(out)
	}
}
