package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/desertthunder/relink/internal/server"
	"github.com/desertthunder/relink/internal/shared"
	"golang.org/x/oauth2"
)

// LoginOpts configures the browser login flow.
type LoginOpts struct {
	// OpenBrowser launches the system browser when true; otherwise the
	// authorization URL is logged for manual opening.
	OpenBrowser bool
	// Timeout bounds the wait for the callback. Zero means 5 minutes.
	Timeout time.Duration
}

// Login runs the authorization-code flow against the media server's login
// entry point: it starts a local callback server, sends the user to the
// login page, exchanges the returned code for a session token, and persists
// it through the token store.
func (c *Coordinator) Login(ctx context.Context, opts LoginOpts) error {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Minute
	}

	redirect, err := url.Parse(c.cfg.Server.RedirectURI)
	if err != nil {
		return fmt.Errorf("%w: bad redirect_uri: %v", shared.ErrInvalidConfig, err)
	}

	conf := &oauth2.Config{
		ClientID:     c.cfg.Server.ClientID,
		ClientSecret: c.cfg.Server.ClientSecret,
		RedirectURL:  c.cfg.Server.RedirectURI,
		Endpoint: oauth2.Endpoint{
			AuthURL:  c.cfg.Server.BaseURL + c.cfg.Server.LoginPath,
			TokenURL: c.cfg.Server.BaseURL + "/auth/token",
		},
	}

	state := shared.GenerateID()
	handler := server.NewLoginHandler(conf, state)

	router := server.NewBasicRouter()
	router.Handler(handler)

	srv := &http.Server{Addr: redirect.Host, Handler: router}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			c.logger.Error("callback server failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	authURL := conf.AuthCodeURL(state)
	if opts.OpenBrowser {
		if err := shared.OpenBrowser(authURL); err != nil {
			c.logger.Warn("failed to open browser", "error", err)
			c.logger.Info("open this URL to sign in", "url", authURL)
		}
	} else {
		c.logger.Info("open this URL to sign in", "url", authURL)
	}

	select {
	case result := <-handler.Result():
		if err := result.Error(); err != nil {
			return fmt.Errorf("%w: %v", shared.ErrAuthRejected, err)
		}
		c.store.Set(result.Token.AccessToken, true)
		c.setStatus(true)
		c.logger.Info("signed in")
		return nil
	case <-time.After(opts.Timeout):
		return fmt.Errorf("%w: login timed out", shared.ErrTokenUnavailable)
	case <-ctx.Done():
		return ctx.Err()
	}
}
