// Command annotate runs every pending page artifact through the Vertex
// AI annotator and updates the per-file aggregates.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/Lllllllleong/insightbase/internal/annotate"
	"github.com/Lllllllleong/insightbase/internal/config"
	"github.com/Lllllllleong/insightbase/internal/retry"
	"github.com/Lllllllleong/insightbase/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration.", "error", err)
		os.Exit(1)
	}
	if err := cfg.RequireVertex(); err != nil {
		slog.Error("Missing Vertex AI configuration.", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to open store.", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	annotator, err := annotate.NewVertexAnnotator(ctx, cfg.ProjectID, cfg.VertexAIRegion, cfg.AnnotateModel)
	if err != nil {
		slog.Error("Failed to create annotator.", "error", err)
		os.Exit(1)
	}
	defer annotator.Close()

	worker := annotate.NewWorker(st, annotator, retry.DefaultPolicy(), cfg.AnnotateConcurrency)
	report, err := worker.Run(ctx)
	if err != nil {
		slog.Error("Annotation run failed.", "error", err)
		os.Exit(1)
	}
	slog.Info("Annotation run complete.",
		"pending", report.Pending,
		"annotated", report.Annotated,
		"rejected", report.Rejected,
		"failed", report.Failed)
	if report.Failed > 0 {
		os.Exit(1)
	}
}
