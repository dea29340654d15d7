package main

import (
	"log/slog"
	"os"

	"github.com/supaocr/server/internal/config"
	"github.com/supaocr/server/internal/logging"
	"github.com/supaocr/server/internal/server"
)

func main() {
	cfg := config.Load()

	logger := logging.New(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	if err := server.Run(cfg, logger); err != nil {
		logger.Error("server.exit", "error", err)
		os.Exit(1)
	}
}
