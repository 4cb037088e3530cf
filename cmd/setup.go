package main

import (
	"context"
	"fmt"
	"os"

	"github.com/desertthunder/relink/internal/shared"
	"github.com/desertthunder/relink/internal/token"
	"github.com/urfave/cli/v3"
)

// Setup creates the config file from the embedded template and initializes
// the token database.
func (r *Runner) Setup(ctx context.Context, cmd *cli.Command) error {
	configPath := cmd.String("config")

	config := r.config
	if _, err := os.Stat(configPath); err == nil {
		if loaded, err := shared.LoadConfig(configPath); err == nil {
			config = loaded
			r.logger.Info("using existing config", "path", configPath)
		} else {
			r.logger.Warn("failed to load config, using defaults", "error", err)
		}
	} else {
		r.logger.Info("config file not found, creating from template", "path", configPath)
		if err := shared.CreateConfigFile(configPath); err != nil {
			r.logger.Warn("failed to create config file, using defaults", "error", err)
		} else {
			r.logger.Info("config file created", "path", configPath)
			if loaded, err := shared.LoadConfig(configPath); err == nil {
				config = loaded
			}
		}
	}

	r.logger.Info("initializing token database", "path", config.Storage.DatabasePath)

	db, err := shared.NewDatabase(config.Storage.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to create database: %w", err)
	}
	defer db.Close()

	shared.ConfigureDatabase(db, 4, 2)

	// Creating the layer creates the session token table.
	if _, err := token.NewSQLiteLayer(db); err != nil {
		return fmt.Errorf("failed to initialize token storage: %w", err)
	}

	r.logger.Infof("setup complete for database: %v", config.Storage.DatabasePath)

	r.writePlain("✓ relink is ready\n")
	r.writePlainln("Next steps:")
	r.writePlain("1. Update %s with your media server's base_url\n", configPath)
	r.writePlain("2. Run 'relink auth login' to sign in\n")
	r.writePlain("3. Run 'relink session listen' or 'relink tui' to watch the session\n")

	return nil
}
