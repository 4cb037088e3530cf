package main

import (
	"context"
	"time"

	"github.com/desertthunder/relink/internal/auth"
	"github.com/urfave/cli/v3"
)

// AuthLogin runs the browser login flow and persists the returned token.
func (r *Runner) AuthLogin(ctx context.Context, cmd *cli.Command) error {
	if err := r.requireSession(); err != nil {
		return err
	}

	opts := auth.LoginOpts{
		OpenBrowser: !cmd.Bool("no-browser"),
		Timeout:     cmd.Duration("timeout"),
	}
	if err := r.coord.Login(ctx, opts); err != nil {
		return err
	}

	return r.writePlain("✓ Signed in\n")
}

// AuthCheck verifies the stored session against the server.
func (r *Runner) AuthCheck(ctx context.Context, cmd *cli.Command) error {
	if err := r.requireSession(); err != nil {
		return err
	}

	authenticated, err := r.coord.CheckAuth(ctx)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(map[string]any{
			"authenticated": authenticated,
			"checked_at":    time.Now().Format(time.RFC3339),
		}, true)
	}

	if authenticated {
		return r.writePlain("✓ Authenticated\n")
	}
	return r.writePlain("✗ Not authenticated\n")
}

// AuthRefresh exchanges the stored token for a fresh one.
func (r *Runner) AuthRefresh(ctx context.Context, cmd *cli.Command) error {
	if err := r.requireSession(); err != nil {
		return err
	}

	if _, err := r.coord.RefreshToken(ctx); err != nil {
		return err
	}

	return r.writePlain("✓ Token refreshed\n")
}

// AuthLogout clears the token from every storage layer.
func (r *Runner) AuthLogout(ctx context.Context, cmd *cli.Command) error {
	if err := r.requireSession(); err != nil {
		return err
	}

	r.manager.Disconnect()
	r.store.Clear()
	r.logger.Info("token cleared from all layers")
	return r.writePlain("✓ Signed out\n")
}

// AuthWait blocks until a token appears in the store or the attempt budget
// runs out.
func (r *Runner) AuthWait(ctx context.Context, cmd *cli.Command) error {
	if err := r.requireSession(); err != nil {
		return err
	}

	tok, err := r.coord.WaitForToken(ctx, int(cmd.Int("attempts")), cmd.Duration("interval"))
	if err != nil {
		return err
	}

	if cmd.Bool("show") {
		return r.writePlain("%s\n", tok)
	}
	return r.writePlain("✓ Token available\n")
}
