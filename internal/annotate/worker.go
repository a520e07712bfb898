package annotate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Lllllllleong/insightbase/internal/models"
	"github.com/Lllllllleong/insightbase/internal/retry"
	"github.com/Lllllllleong/insightbase/internal/store"
)

// Report summarizes one annotation run.
type Report struct {
	Pending   int
	Annotated int
	Rejected  int
	Failed    int
}

type task struct {
	fileID       string
	pageNumber   int
	artifactPath string
}

// Worker annotates every unannotated page of completed files, fanning
// out with a bounded group. Persisting is serialized per file because
// the aggregate recompute reads and rewrites the whole file record.
type Worker struct {
	store       *store.Store
	annotator   Annotator
	policy      retry.Policy
	concurrency int

	mu        sync.Mutex
	fileLocks map[string]*sync.Mutex
}

func NewWorker(st *store.Store, annotator Annotator, policy retry.Policy, concurrency int) *Worker {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Worker{
		store:       st,
		annotator:   annotator,
		policy:      policy,
		concurrency: concurrency,
		fileLocks:   make(map[string]*sync.Mutex),
	}
}

// Run annotates all pending pages. A definitive model rejection is
// persisted as an empty annotation marked processed, so the page never
// blocks its file; transient exhaustion leaves the page pending for the
// next run.
func (w *Worker) Run(ctx context.Context) (Report, error) {
	var report Report

	tasks, err := w.pendingTasks()
	if err != nil {
		return report, err
	}
	report.Pending = len(tasks)
	if len(tasks) == 0 {
		return report, nil
	}
	slog.Info("Starting annotation run.", "pendingPages", len(tasks), "concurrency", w.concurrency)

	var reportMu sync.Mutex
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(w.concurrency)
	for _, t := range tasks {
		t := t
		eg.Go(func() error {
			outcome := w.annotatePage(gctx, t)
			reportMu.Lock()
			switch outcome {
			case outcomeAnnotated:
				report.Annotated++
			case outcomeRejected:
				report.Rejected++
			case outcomeFailed:
				report.Failed++
			}
			reportMu.Unlock()
			if err := gctx.Err(); err != nil {
				return err
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return report, err
	}
	return report, nil
}

type outcome int

const (
	outcomeAnnotated outcome = iota
	outcomeRejected
	outcomeFailed
)

func (w *Worker) pendingTasks() ([]task, error) {
	files, err := w.store.AllFiles()
	if err != nil {
		return nil, err
	}
	var tasks []task
	for _, f := range files {
		if f.Status != models.StatusCompleted {
			continue
		}
		for _, p := range f.Pages {
			if !p.Annotated {
				tasks = append(tasks, task{fileID: f.ID, pageNumber: p.PageNumber, artifactPath: p.ArtifactPath})
			}
		}
	}
	return tasks, nil
}

func (w *Worker) annotatePage(ctx context.Context, t task) outcome {
	logCtx := slog.With("fileId", t.fileID, "page", t.pageNumber)

	artifact, err := os.ReadFile(t.artifactPath)
	if err != nil {
		logCtx.Error("Failed to read page artifact.", "path", t.artifactPath, "error", err)
		return outcomeFailed
	}

	var annotation *models.Annotation
	err = retry.Do(ctx, w.policy, func(ctx context.Context) error {
		var aerr error
		annotation, aerr = w.annotator.Annotate(ctx, artifact)
		return aerr
	})
	if err != nil {
		var perm *retry.PermanentError
		if errors.As(err, &perm) {
			// The service definitively rejected this page. Persist an
			// empty annotation so the page counts as processed.
			logCtx.Warn("Page definitively rejected, storing empty annotation.", "error", err)
			if perr := w.persist(t, &models.Annotation{}); perr != nil {
				logCtx.Error("Failed to persist empty annotation.", "error", perr)
				return outcomeFailed
			}
			return outcomeRejected
		}
		logCtx.Error("Annotation failed, page stays pending.", "error", err)
		return outcomeFailed
	}

	if err := w.persist(t, annotation); err != nil {
		logCtx.Error("Failed to persist annotation.", "error", err)
		return outcomeFailed
	}
	logCtx.Info("Page annotated.")
	return outcomeAnnotated
}

func (w *Worker) fileLock(fileID string) *sync.Mutex {
	w.mu.Lock()
	defer w.mu.Unlock()
	lock, ok := w.fileLocks[fileID]
	if !ok {
		lock = &sync.Mutex{}
		w.fileLocks[fileID] = lock
	}
	return lock
}

// persist stores the content row, marks the page annotated and
// recomputes the file aggregates, all under the per-file lock so two
// pages of the same file never interleave their read-modify-write.
func (w *Worker) persist(t task, annotation *models.Annotation) error {
	lock := w.fileLock(t.fileID)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now()
	if _, err := w.store.UpsertContent(&models.Content{
		ID:         uuid.NewString(),
		FileID:     t.fileID,
		PageNumber: t.pageNumber,
		Text:       annotation.Text,
		Title:      annotation.Title,
		Category:   annotation.Category,
		Abstract:   annotation.Abstract,
		Keywords:   annotation.Keywords,
	}); err != nil {
		return fmt.Errorf("failed to upsert content: %w", err)
	}

	f, err := w.store.FileByID(t.fileID)
	if err != nil {
		return err
	}
	page := f.PageByNumber(t.pageNumber)
	if page == nil {
		return fmt.Errorf("page %d no longer exists on file %s", t.pageNumber, t.fileID)
	}
	page.Annotated = true
	page.AnnotatedAt = now
	page.Category = annotation.Category
	page.Title = annotation.Title
	page.Abstract = annotation.Abstract
	page.Keywords = annotation.Keywords

	contents, err := w.store.ContentsByFile(t.fileID)
	if err != nil {
		return err
	}
	keywords, description := aggregate(contents)

	_, err = w.store.UpdateFile(t.fileID, models.FileUpdate{
		Pages:       &f.Pages,
		Keywords:    &keywords,
		Description: &description,
	})
	return err
}

// aggregate recomputes the file-level keyword union and description
// from all stored content rows. Keywords are deduplicated and sorted;
// the description concatenates non-empty abstracts in page order.
func aggregate(contents []*models.Content) ([]string, string) {
	seen := make(map[string]struct{})
	keywords := make([]string, 0)
	var abstracts []string
	for _, c := range contents {
		for _, kw := range c.Keywords {
			kw = strings.TrimSpace(kw)
			if kw == "" {
				continue
			}
			if _, ok := seen[kw]; ok {
				continue
			}
			seen[kw] = struct{}{}
			keywords = append(keywords, kw)
		}
		if abstract := strings.TrimSpace(c.Abstract); abstract != "" {
			abstracts = append(abstracts, abstract)
		}
	}
	sort.Strings(keywords)
	return keywords, strings.Join(abstracts, "\n")
}
