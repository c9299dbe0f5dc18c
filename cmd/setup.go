package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/carrel-ai/carrel/internal/app"
	"github.com/carrel-ai/carrel/internal/config"
)

// setupApp initializes the application for a one-shot CLI command.
func setupApp(ctx context.Context, cfg *config.Config) (*app.App, error) {
	a, err := app.Setup(ctx, cfg, slog.Default())
	if err != nil {
		return nil, fmt.Errorf("initializing application: %w", err)
	}
	return a, nil
}

// closeApp shuts the application down, logging rather than failing the
// command on cleanup errors.
func closeApp(a *app.App) {
	if err := a.Close(); err != nil {
		slog.Warn("shutdown error", "error", err)
	}
}
