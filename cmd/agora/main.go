package main

import (
	"log/slog"
	"os"

	"github.com/openagora/agora/adapter/cli"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	cli.SetLogger(logger)

	cli.Execute()
}
