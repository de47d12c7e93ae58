// Package main is the entry point for the chat relay server.
//
// The main package stays minimal. Its job is to:
//  1. Read configuration (flags, config file, environment)
//  2. Create the logger
//  3. Hand both to the server and start it
//
// All actual logic lives in imported packages (internal/server,
// internal/service, internal/handler, etc.).
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/sakif/chat-relay/internal/config"
	"github.com/sakif/chat-relay/internal/server"
)

func main() {
	// === 1. READ CONFIGURATION ===
	// --config names an optional YAML/TOML/JSON file. Environment variables
	// (RELAY_*) override whatever the file says.
	configFile := flag.String("config", "", "path to a config file (overrides RELAY_CONFIG)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		// No logger yet: the log settings are part of what failed to load.
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// === 2. SET UP LOGGING ===
	logger := cfg.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	// === 3. DATABASE DIRECTORY ===
	// os.MkdirAll is a no-op when the directory already exists.
	if cfg.DBPath != ":memory:" {
		dbDir := filepath.Dir(cfg.DBPath)
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			logger.Error("failed to create database directory",
				slog.String("dir", dbDir),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}

	// === 4. CREATE AND START THE SERVER ===
	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start() blocks until the server is shut down (via Ctrl+C or SIGTERM)
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
