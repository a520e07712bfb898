// Package ingest scans the library directory, registers new or changed
// PDFs and renders their page artifacts, driving each file through the
// processing status machine.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Lllllllleong/insightbase/internal/models"
	"github.com/Lllllllleong/insightbase/internal/store"
)

// mtimeEpsilon absorbs filesystem timestamp granularity differences so
// a copy that preserves content but jitters the mtime by less than a
// millisecond is not treated as a change.
const mtimeEpsilon = time.Millisecond

// Report summarizes one ingestion run.
type Report struct {
	Scanned   int
	Unchanged int
	Processed int
	Failed    int
}

type Pipeline struct {
	store    *store.Store
	renderer PageRenderer
	filesDir string
	pagesDir string
}

func NewPipeline(st *store.Store, renderer PageRenderer, filesDir, pagesDir string) *Pipeline {
	return &Pipeline{store: st, renderer: renderer, filesDir: filesDir, pagesDir: pagesDir}
}

// Run performs a full synchronization pass: discover PDFs on disk, mark
// the new and changed ones pending, then process every pending file.
// Unchanged files cause no writes at all.
func (p *Pipeline) Run(ctx context.Context) (Report, error) {
	var report Report

	paths, err := p.discover()
	if err != nil {
		return report, err
	}
	report.Scanned = len(paths)

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		changed, err := p.registerOrMark(path)
		if err != nil {
			slog.Error("Failed to register file.", "path", path, "error", err)
			report.Failed++
			continue
		}
		if !changed {
			report.Unchanged++
		}
	}

	// Registered files whose source vanished are surfaced, not skipped.
	onDisk := make(map[string]struct{}, len(paths))
	for _, path := range paths {
		onDisk[store.NormalizePath(path)] = struct{}{}
	}
	all, err := p.store.AllFiles()
	if err != nil {
		return report, err
	}
	for _, f := range all {
		if _, ok := onDisk[f.Path]; !ok {
			slog.Warn("Source file missing on disk.", "fileId", f.ID, "path", f.Path)
			report.Failed++
		}
	}

	pending, err := p.pendingFiles()
	if err != nil {
		return report, err
	}
	for _, f := range pending {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if _, ok := onDisk[f.Path]; !ok {
			// Already counted as missing above.
			continue
		}
		logCtx := slog.With("fileId", f.ID, "path", f.Path)
		if err := p.processFile(ctx, f); err != nil {
			logCtx.Error("Failed to process file.", "error", err)
			report.Failed++
			continue
		}
		logCtx.Info("File processed.", "pages", len(f.Pages))
		report.Processed++
	}
	return report, nil
}

func (p *Pipeline) discover() ([]string, error) {
	var paths []string
	err := filepath.WalkDir(p.filesDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), ".pdf") {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", p.filesDir, err)
	}
	return paths, nil
}

// registerOrMark compares the on-disk file with the stored record and
// returns whether a processing pass is required. New files get a fresh
// record; changed files are marked pending with refreshed hash and
// mtime so an interrupted run resumes from the same decision.
func (p *Pipeline) registerOrMark(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, fmt.Errorf("failed to stat: %w", err)
	}

	existing, err := p.store.FileByPath(path)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return false, err
	}

	if existing != nil && existing.Status == models.StatusCompleted {
		if mtimeEqual(existing.LastModified, info.ModTime()) {
			return false, nil
		}
		hash, err := calculateFileHash(path)
		if err != nil {
			return false, err
		}
		if hash == existing.Hash {
			// Content identical, only the timestamp drifted. Re-sync
			// the mtime so the next run skips the hash computation.
			mtime := info.ModTime()
			_, err := p.store.UpdateFile(existing.ID, models.FileUpdate{LastModified: &mtime})
			return false, err
		}
		status := models.StatusPendingProcessing
		mtime := info.ModTime()
		_, err = p.store.UpdateFile(existing.ID, models.FileUpdate{
			Hash:         &hash,
			LastModified: &mtime,
			Status:       &status,
		})
		return true, err
	}
	if existing != nil {
		// Already mid-pipeline; the processing pass will pick it up.
		return true, nil
	}

	hash, err := calculateFileHash(path)
	if err != nil {
		return false, err
	}
	f := &models.File{
		ID:           uuid.NewString(),
		Path:         store.NormalizePath(path),
		Name:         filepath.Base(path),
		Hash:         hash,
		LastModified: info.ModTime(),
		Status:       models.StatusNew,
		Uploader:     "admin",
		CreatedAt:    time.Now(),
	}
	if err := p.store.PutFile(f); err != nil {
		return false, err
	}
	status := models.StatusPendingProcessing
	if _, err := p.store.UpdateFile(f.ID, models.FileUpdate{Status: &status}); err != nil {
		return false, err
	}
	slog.Info("Registered new file.", "fileId", f.ID, "path", f.Path)
	return true, nil
}

func (p *Pipeline) pendingFiles() ([]*models.File, error) {
	all, err := p.store.AllFiles()
	if err != nil {
		return nil, err
	}
	var pending []*models.File
	for _, f := range all {
		switch f.Status {
		case models.StatusNew, models.StatusPending, models.StatusPendingProcessing,
			models.StatusPagesUpdating, models.StatusNeedsRecovery:
			pending = append(pending, f)
		}
	}
	return pending, nil
}

// processFile drives one file through pages_updating to completed. Once
// pages_updating is committed the old pages are gone, so any later
// failure leaves the file in needs_recovery rather than a state that
// pretends the old pages still exist.
func (p *Pipeline) processFile(ctx context.Context, f *models.File) error {
	if _, err := os.Stat(f.Path); err != nil {
		return fmt.Errorf("source file missing on disk: %w", err)
	}

	status := models.StatusPagesUpdating
	emptyPages := []models.Page{}
	if _, err := p.store.UpdateFile(f.ID, models.FileUpdate{Status: &status, Pages: &emptyPages}); err != nil {
		return err
	}

	if err := p.regenerate(ctx, f); err != nil {
		recovery := models.StatusNeedsRecovery
		if _, uerr := p.store.UpdateFile(f.ID, models.FileUpdate{Status: &recovery}); uerr != nil {
			slog.Error("CRITICAL: failed to mark file for recovery.", "fileId", f.ID, "error", uerr)
		}
		return err
	}
	return nil
}

func (p *Pipeline) regenerate(ctx context.Context, f *models.File) error {
	if _, err := p.store.DeleteContentsByFile(f.ID); err != nil {
		return fmt.Errorf("failed to clear old contents: %w", err)
	}
	outDir := p.artifactDir(f)
	if err := os.RemoveAll(outDir); err != nil {
		return fmt.Errorf("failed to clear old artifacts: %w", err)
	}

	artifacts, err := p.renderer.Render(ctx, f.Path, outDir)
	if err != nil {
		return fmt.Errorf("failed to render pages: %w", err)
	}
	pages := make([]models.Page, len(artifacts))
	for i, artifact := range artifacts {
		pages[i] = models.Page{PageNumber: i + 1, ArtifactPath: store.NormalizePath(artifact)}
	}

	info, err := os.Stat(f.Path)
	if err != nil {
		return fmt.Errorf("failed to stat after render: %w", err)
	}
	hash, err := calculateFileHash(f.Path)
	if err != nil {
		return err
	}

	completed := models.StatusCompleted
	mtime := info.ModTime()
	updated, err := p.store.UpdateFile(f.ID, models.FileUpdate{
		Status:       &completed,
		Pages:        &pages,
		Hash:         &hash,
		LastModified: &mtime,
	})
	if err != nil {
		return err
	}
	*f = *updated
	return nil
}

func (p *Pipeline) artifactDir(f *models.File) string {
	base := strings.TrimSuffix(f.Name, filepath.Ext(f.Name))
	return filepath.Join(p.pagesDir, base)
}

func mtimeEqual(a, b time.Time) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d <= mtimeEpsilon
}

func calculateFileHash(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()
	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}
