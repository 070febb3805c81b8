package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/dmorgan81/promptmint/internal/log"
)

func main() {
	level := new(slog.LevelVar)
	ctx := log.NewContext(context.Background(), log.New(os.Stderr, level))
	if err := newRootCommand(level).ExecuteContext(ctx); err != nil {
		log.FromContextOrDiscard(ctx).Error("command failed", "error", err)
		os.Exit(1)
	}
}
