package vector

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/hupe1980/vecgo"

	"github.com/Lllllllleong/insightbase/internal/models"
	"github.com/Lllllllleong/insightbase/internal/store"
)

// BuildReport summarizes one index build.
type BuildReport struct {
	Embedded int
	Skipped  int
}

// Builder embeds every annotated page abstract and writes the index
// plus its manifest. A build fully replaces the previous artifacts.
type Builder struct {
	store     *store.Store
	embedder  Embedder
	indexDir  string
	model     string
	dimension int
	batchSize int
}

func NewBuilder(st *store.Store, embedder Embedder, indexDir, model string, dimension, batchSize int) *Builder {
	if batchSize < 1 {
		batchSize = 32
	}
	return &Builder{
		store:     st,
		embedder:  embedder,
		indexDir:  indexDir,
		model:     model,
		dimension: dimension,
		batchSize: batchSize,
	}
}

func (b *Builder) Build(ctx context.Context) (BuildReport, error) {
	var report BuildReport

	contents, err := b.store.AllContents()
	if err != nil {
		return report, err
	}
	// Deterministic index order regardless of store iteration order.
	sort.Slice(contents, func(i, j int) bool {
		if contents[i].FileID != contents[j].FileID {
			return contents[i].FileID < contents[j].FileID
		}
		return contents[i].PageNumber < contents[j].PageNumber
	})

	var embeddable []*models.Content
	for _, c := range contents {
		if c.Abstract == "" {
			report.Skipped++
			continue
		}
		embeddable = append(embeddable, c)
	}
	slog.Info("Building vector index.", "contents", len(embeddable), "skipped", report.Skipped)

	db, err := vecgo.Flat[string](b.dimension).DotProduct().Build()
	if err != nil {
		return report, fmt.Errorf("failed to create index: %w", err)
	}

	ids := make([]string, 0, len(embeddable))
	for start := 0; start < len(embeddable); start += b.batchSize {
		end := start + b.batchSize
		if end > len(embeddable) {
			end = len(embeddable)
		}
		batch := embeddable[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Abstract
		}
		vectors, err := b.embedder.Embed(ctx, texts)
		if err != nil {
			return report, fmt.Errorf("failed to embed batch at %d: %w", start, err)
		}

		items := make([]vecgo.VectorWithData[string], len(batch))
		for i, c := range batch {
			items[i] = vecgo.VectorWithData[string]{
				Vector: normalize(vectors[i]),
				Data:   c.ID,
			}
		}
		result := db.BatchInsert(ctx, items)
		for i, ierr := range result.Errors {
			if ierr != nil {
				return report, fmt.Errorf("failed to insert content %s: %w", batch[i].ID, ierr)
			}
		}
		for _, c := range batch {
			ids = append(ids, c.ID)
		}
		report.Embedded += len(batch)
	}

	if err := b.writeArtifacts(db, ids); err != nil {
		return report, err
	}
	slog.Info("Vector index written.", "vectors", report.Embedded, "dir", b.indexDir)
	return report, nil
}

func (b *Builder) writeArtifacts(db *vecgo.Vecgo[string], ids []string) error {
	if err := os.MkdirAll(b.indexDir, 0o755); err != nil {
		return err
	}
	tmp := indexPath(b.indexDir) + ".tmp"
	if err := db.SaveToFile(tmp); err != nil {
		return fmt.Errorf("failed to save index: %w", err)
	}
	if err := os.Rename(tmp, indexPath(b.indexDir)); err != nil {
		return err
	}
	return saveManifest(b.indexDir, &Manifest{
		Model:     b.model,
		Dimension: b.dimension,
		Count:     len(ids),
		IDs:       ids,
	})
}
