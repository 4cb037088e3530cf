package main

import (
	"context"
	"errors"
	"os"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/relink/internal/auth"
	"github.com/desertthunder/relink/internal/bus"
	"github.com/desertthunder/relink/internal/realtime"
	"github.com/desertthunder/relink/internal/shared"
	"github.com/desertthunder/relink/internal/token"
	"github.com/urfave/cli/v3"
)

func main() {
	logger := shared.NewLogger(nil)

	config := shared.DefaultConfig()
	configPath := "config.toml"
	if _, err := os.Stat(configPath); err == nil {
		if loadedConfig, err := shared.LoadConfig(configPath); err == nil {
			config = loadedConfig
		} else {
			logger.Warn("failed to load config, using defaults", "error", err)
		}
	}

	runner := buildRunner(config, configPath, logger)

	app := &cli.Command{
		Name:     "relink",
		Usage:    "Resilient session & realtime channel client for media servers",
		Version:  "0.1.0",
		Commands: runner.register(),
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		err_ := errors.Unwrap(err)
		if errors.Is(err_, shared.ErrNotImplemented) {
			logger.Warn("not implemented")
			os.Exit(0)
		} else {
			logger.Fatalf("application error: %v", err)
		}
	}
}

// buildRunner wires the session core: layered token store, auth coordinator,
// and the realtime connection manager, all sharing one event bus.
func buildRunner(config *shared.Config, configPath string, logger *log.Logger) *Runner {
	b := bus.New()

	layers := []token.Layer{token.NewMemoryLayer()}
	if path := config.Storage.DatabasePath; path != "" {
		if _, err := os.Stat(path); err == nil {
			if db, err := shared.NewDatabase(path); err == nil {
				shared.ConfigureDatabase(db, 4, 2)
				if layer, err := token.NewSQLiteLayer(db); err == nil {
					layers = append(layers, layer)
				} else {
					logger.Warn("sqlite token layer unavailable", "error", err)
				}
			} else {
				logger.Warn("failed to open token database", "path", path, "error", err)
			}
		} else {
			logger.Debug("token database not found, run 'relink setup' to create it", "path", path)
		}
	}
	if config.Storage.TokenFile != "" {
		layers = append(layers, token.NewFileLayer(config.Storage.TokenFile))
	}
	store := token.NewStore(logger, layers...)

	client := auth.NewClient(config.Server.BaseURL, nil, config.Auth.RequestRateLimit, logger)
	nav := auth.NewBrowserNavigator(config.Server.BaseURL, "/")
	coord := auth.NewCoordinator(config, store, client, b, nav, logger)

	transport := realtime.NewWebSocketTransport(config.Server.BaseURL)
	manager := realtime.NewManager(config.Channel, coord, transport, b, logger)
	coord.AttachChannel(manager, manager.Disconnect)

	return NewRunner(RunnerOpts{
		Config:      config,
		ConfigPath:  configPath,
		Store:       store,
		Coordinator: coord,
		Manager:     manager,
		Bus:         b,
		Logger:      logger,
	})
}
