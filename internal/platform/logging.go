package platform

import (
	"log/slog"
	"os"
)

// InitLogger sets up the global slog logger.
func InitLogger(cfg LogConfig) {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{AddSource: true, Level: cfg.Level})
	slog.SetDefault(slog.New(handler))
}
