// Command index-build embeds every annotated page abstract and writes
// the semantic index artifacts.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/Lllllllleong/insightbase/internal/config"
	"github.com/Lllllllleong/insightbase/internal/retry"
	"github.com/Lllllllleong/insightbase/internal/store"
	"github.com/Lllllllleong/insightbase/internal/vector"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration.", "error", err)
		os.Exit(1)
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to open store.", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	embedder := vector.NewOpenAIEmbedder(cfg.EmbedBaseURL, cfg.EmbedAPIKey, cfg.EmbedModel, cfg.EmbedDimension, retry.DefaultPolicy())
	builder := vector.NewBuilder(st, embedder, cfg.IndexDir, cfg.EmbedModel, cfg.EmbedDimension, cfg.EmbedBatchSize)

	report, err := builder.Build(context.Background())
	if err != nil {
		slog.Error("Index build failed.", "error", err)
		os.Exit(1)
	}
	slog.Info("Index build complete.", "embedded", report.Embedded, "skipped", report.Skipped)
}
