package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/magpie/internal/config"
)

// NewInitCommand returns the onboarding subcommand.
func NewInitCommand() *cli.Command {
	return &cli.Command{
		Name:   "init",
		Usage:  "Initialize the magpie home directory (~/.magpie)",
		Action: runInit,
	}
}

func runInit(_ context.Context, _ *cli.Command) error {
	root := config.MagpiePath()
	created := false

	// Ensure directories exist.
	dirs := []string{
		root,
		filepath.Join(root, "archive"),
		filepath.Join(root, "stats"),
	}
	for _, d := range dirs {
		if _, err := os.Stat(d); err != nil {
			if err := os.MkdirAll(d, 0o755); err != nil {
				return fmt.Errorf("create dir %s: %w", d, err)
			}
			fmt.Printf("  Created %s\n", d)
			created = true
		}
	}

	// Write default config if missing.
	configPath := config.ConfigPath()
	if _, err := os.Stat(configPath); err != nil {
		if err := os.WriteFile(configPath, []byte(defaultConfig), 0o644); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Printf("  Created %s\n", configPath)
		created = true
	}

	// Write default .env if missing.
	dotenvPath := config.DotenvPath()
	if _, err := os.Stat(dotenvPath); err != nil {
		if err := os.WriteFile(dotenvPath, []byte(defaultDotenv), 0o600); err != nil {
			return fmt.Errorf("write .env: %w", err)
		}
		fmt.Printf("  Created %s\n", dotenvPath)
		created = true
	}

	if !created {
		fmt.Printf("Nothing to do, %s is already set up.\n", root)
		return nil
	}

	fmt.Printf(`
  Home set up at %s

  Next steps:
    1. Tweak %s/config.jsonc if needed (driver capacity, workers, ports)
    2. Run: magpie serve
    3. Submit a scrape: magpie submit 2835 KUTER

`, root, root)
	return nil
}

const defaultConfig = `{
	// Magpie configuration

	"server": {
		"host": "127.0.0.1",
		"port": 18620
	},

	"scheduler": {
		"max_workers": 4,
		// Wait between driver checkout attempts while the pool is busy.
		"poll_interval": "10s"
	},

	"drivers": {
		// Concurrent browser sessions. Each one is a full headless browser.
		"capacity": 2,
		"visible": false,
		"nav_timeout": "30s",
		"stable_timeout": "5s"
		// "browser_path": "/usr/bin/chromium",
		// "profile_path": "/path/to/site-profile.yaml"
	},

	"storage": {
		// Empty = $MAGPIE_PATH (~/.magpie)
		"data_dir": ""
	},

	"events": {
		"buffer_size": 1024,
		"nats": {
			"enabled": false,
			"url": "nats://127.0.0.1:4222",
			"subject_prefix": "magpie.events"
		}
	},

	"maintenance": {
		"sweep_schedule": "* * * * *",
		"evict_after": "24h"
	},

	"logging": {
		"level": "info",
		// "text", "json", or "auto" (text on a terminal, json when piped)
		"format": "auto"
	}
}
`

const defaultDotenv = `# Magpie environment variables
# This file is loaded automatically. Existing env vars are never overridden.
# Values are available in config.jsonc as ${{ .Env.NAME }}.

# NATS_URL=nats://127.0.0.1:4222
`
