package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// PageRenderer produces one artifact file per page of a source PDF and
// returns the artifact paths in page order.
type PageRenderer interface {
	Render(ctx context.Context, pdfPath, outDir string) ([]string, error)
}

// PDFRenderer validates, optimizes and splits a PDF into single-page
// documents that downstream annotation consumes directly.
type PDFRenderer struct{}

func NewPDFRenderer() *PDFRenderer { return &PDFRenderer{} }

func (r *PDFRenderer) Render(ctx context.Context, pdfPath, outDir string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create page directory %s: %w", outDir, err)
	}
	paths, err := r.render(pdfPath, outDir)
	if err != nil {
		// Partial artifacts would look like a valid page set to a
		// casual observer. Best-effort cleanup; the directory is
		// recreated on the next attempt anyway.
		if rmErr := os.RemoveAll(outDir); rmErr != nil {
			slog.Warn("Failed to clean up partial page artifacts.", "dir", outDir, "error", rmErr)
		}
		return nil, err
	}
	return paths, nil
}

func (r *PDFRenderer) render(pdfPath, outDir string) ([]string, error) {
	optimizedPath := filepath.Join(outDir, "optimized.pdf")
	if err := optimizePDF(pdfPath, optimizedPath); err != nil {
		return nil, fmt.Errorf("failed to validate/optimize PDF: %w", err)
	}
	defer os.Remove(optimizedPath)

	pageCount, err := api.PageCountFile(optimizedPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get page count: %w", err)
	}
	if err := api.SplitFile(optimizedPath, outDir, 1, nil); err != nil {
		return nil, fmt.Errorf("failed to split PDF: %w", err)
	}

	// SplitFile names its output after the source, so rename to the
	// stable page_N scheme the rest of the system expects.
	paths := make([]string, 0, pageCount)
	for i := 1; i <= pageCount; i++ {
		splitPath := filepath.Join(outDir, fmt.Sprintf("optimized_%d.pdf", i))
		pagePath := filepath.Join(outDir, fmt.Sprintf("page_%d.pdf", i))
		if err := os.Rename(splitPath, pagePath); err != nil {
			return nil, fmt.Errorf("page %d: failed to place artifact: %w", i, err)
		}
		paths = append(paths, pagePath)
	}
	return paths, nil
}

func optimizePDF(inPath, outPath string) error {
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	return api.OptimizeFile(inPath, outPath, cfg)
}
