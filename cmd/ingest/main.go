// Command ingest synchronizes the library directory with the store:
// new and changed PDFs are registered and split into page artifacts.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/Lllllllleong/insightbase/internal/config"
	"github.com/Lllllllleong/insightbase/internal/ingest"
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

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to open store.", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	pipeline := ingest.NewPipeline(st, ingest.NewPDFRenderer(), cfg.FilesDir, cfg.PagesDir)
	report, err := pipeline.Run(context.Background())
	if err != nil {
		slog.Error("Ingestion run failed.", "error", err)
		os.Exit(1)
	}
	slog.Info("Ingestion run complete.",
		"scanned", report.Scanned,
		"processed", report.Processed,
		"unchanged", report.Unchanged,
		"failed", report.Failed)
	if report.Failed > 0 {
		os.Exit(1)
	}
}
