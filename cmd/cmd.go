// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

// setupCommand initializes the config file and token database.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Create config file and initialize the token database",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				Value:   "config.toml",
			},
		},
		Action: r.Setup,
	}
}

// authCommand handles authentication operations
func authCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Manage the session token",
		Commands: []*cli.Command{
			{
				Name:  "login",
				Usage: "Sign in through the media server's login page",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "no-browser",
						Usage: "Print the login URL instead of opening a browser",
					},
					&cli.DurationFlag{
						Name:  "timeout",
						Usage: "How long to wait for the login callback",
					},
				},
				Action: r.AuthLogin,
			},
			{
				Name:  "check",
				Usage: "Verify the session against the server",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
					},
				},
				Action: r.AuthCheck,
			},
			{
				Name:   "refresh",
				Usage:  "Exchange the stored token for a fresh one",
				Action: r.AuthRefresh,
			},
			{
				Name:   "logout",
				Usage:  "Clear the stored token from every layer",
				Action: r.AuthLogout,
			},
			{
				Name:  "wait",
				Usage: "Block until a token appears in the store",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "attempts",
						Usage: "Maximum polling attempts before giving up",
					},
					&cli.DurationFlag{
						Name:  "interval",
						Usage: "Delay between polling attempts",
					},
					&cli.BoolFlag{
						Name:  "show",
						Usage: "Print the token once it appears",
					},
				},
				Action: r.AuthWait,
			},
		},
	}
}

// sessionCommand handles realtime channel operations
func sessionCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "session",
		Usage: "Realtime channel operations",
		Commands: []*cli.Command{
			{
				Name:  "listen",
				Usage: "Connect and stream session events until interrupted",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output events as JSON lines",
					},
				},
				Action: r.SessionListen,
			},
			{
				Name:  "emit",
				Usage: "Send one event over the channel and wait for the ack",
				Arguments: []cli.Argument{
					&cli.StringArg{
						Name: "event",
					},
				},
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "data",
						Aliases: []string{"d"},
						Usage:   "JSON payload to send",
					},
					&cli.DurationFlag{
						Name:  "timeout",
						Usage: "How long to wait for the acknowledgement",
					},
				},
				Action: r.SessionEmit,
			},
			{
				Name:  "status",
				Usage: "Show authentication and channel status",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
					},
				},
				Action: r.SessionStatus,
			},
		},
	}
}

// tuiCommand returns the top-level TUI command for the live session dashboard.
func tuiCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "tui",
		Aliases: []string{"interactive", "ui"},
		Usage:   "Launch the interactive session dashboard",
		Action:  r.TUI,
	}
}
