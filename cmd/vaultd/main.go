// vaultd is the local password vault daemon. It serves the desktop UI's
// API on the loopback interface; nothing it stores ever leaves the machine
// except the one-time license activation, transfer and trial calls.
package main

import (
	"context"
	"log/slog"
	"os"

	"lpvault/internal/app"
	"lpvault/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	application, err := app.New(cfg)
	if err != nil {
		slog.Error("failed to initialize daemon", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := application.Run(context.Background()); err != nil {
		slog.Error("daemon exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
