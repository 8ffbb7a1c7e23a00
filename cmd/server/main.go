// The server binary runs MediaLens in standalone mode: uploads are tracked
// in memory and progressed by the simulated pipeline, with no external
// dependencies.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/harutoshi/medialens/internal/config"
	"github.com/harutoshi/medialens/internal/notify"
	"github.com/harutoshi/medialens/internal/server"
	"github.com/harutoshi/medialens/internal/signing"
	"github.com/harutoshi/medialens/internal/tracker"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}

	timing := tracker.DefaultTiming()
	timing.Tick = cfg.UploadTick
	timing.ProcessingDelayLo = cfg.ProcessingDelayLo
	timing.ProcessingDelayHi = cfg.ProcessingDelayHi

	notifier := notify.NewFromConfig(cfg)
	tr := tracker.New(tracker.NewMemoryPreviews(), notifier, logger, timing)
	signer := signing.NewSigner(cfg.SigningSecret)
	srv := server.New(cfg, tr, signer, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Serve(ctx); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
