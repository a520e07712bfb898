package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/insightbase/internal/models"
	"github.com/Lllllllleong/insightbase/internal/store"
)

// stubRenderer fabricates page artifacts without touching pdfcpu.
type stubRenderer struct {
	pages int
	err   error
	calls int
}

func (r *stubRenderer) Render(ctx context.Context, pdfPath, outDir string) ([]string, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, err
	}
	paths := make([]string, 0, r.pages)
	for i := 1; i <= r.pages; i++ {
		p := filepath.Join(outDir, fmt.Sprintf("page_%d.pdf", i))
		if err := os.WriteFile(p, []byte("page"), 0o644); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}

func newTestPipeline(t *testing.T, renderer PageRenderer) (*Pipeline, *store.Store, string) {
	t.Helper()
	root := t.TempDir()
	filesDir := filepath.Join(root, "files")
	require.NoError(t, os.MkdirAll(filesDir, 0o755))
	st, err := store.Open(filepath.Join(root, "db", "library.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return NewPipeline(st, renderer, filesDir, filepath.Join(root, "pages")), st, filesDir
}

func writePDF(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestRunRegistersAndProcessesNewFile(t *testing.T) {
	renderer := &stubRenderer{pages: 3}
	p, st, filesDir := newTestPipeline(t, renderer)
	path := writePDF(t, filesDir, "manual.pdf", "%PDF-1.4 manual")

	report, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Scanned)
	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 0, report.Failed)

	f, err := st.FileByPath(path)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, f.Status)
	require.Len(t, f.Pages, 3)
	for i, page := range f.Pages {
		assert.Equal(t, i+1, page.PageNumber)
		assert.FileExists(t, page.ArtifactPath)
	}
	assert.NotEmpty(t, f.Hash)
}

func TestRunSkipsUnchangedFile(t *testing.T) {
	renderer := &stubRenderer{pages: 2}
	p, st, filesDir := newTestPipeline(t, renderer)
	path := writePDF(t, filesDir, "report.pdf", "%PDF-1.4 report")

	_, err := p.Run(context.Background())
	require.NoError(t, err)
	before, err := st.FileByPath(path)
	require.NoError(t, err)

	report, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Unchanged)
	assert.Equal(t, 0, report.Processed)
	assert.Equal(t, 1, renderer.calls)

	after, err := st.FileByPath(path)
	require.NoError(t, err)
	assert.Equal(t, before.Hash, after.Hash)
	assert.Equal(t, before.Pages, after.Pages)
}

func TestRunReprocessesChangedContent(t *testing.T) {
	renderer := &stubRenderer{pages: 2}
	p, st, filesDir := newTestPipeline(t, renderer)
	path := writePDF(t, filesDir, "datasheet.pdf", "%PDF-1.4 v1")

	_, err := p.Run(context.Background())
	require.NoError(t, err)
	first, err := st.FileByPath(path)
	require.NoError(t, err)

	// New content plus a clearly different mtime.
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4 v2 longer"), 0o644))
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, future, future))

	report, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Processed)

	second, err := st.FileByPath(path)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.NotEqual(t, first.Hash, second.Hash)
	assert.Equal(t, models.StatusCompleted, second.Status)
}

func TestRunMtimeOnlyDriftResyncsWithoutProcessing(t *testing.T) {
	renderer := &stubRenderer{pages: 1}
	p, st, filesDir := newTestPipeline(t, renderer)
	path := writePDF(t, filesDir, "notes.pdf", "%PDF-1.4 notes")

	_, err := p.Run(context.Background())
	require.NoError(t, err)

	future := time.Now().Add(5 * time.Second)
	require.NoError(t, os.Chtimes(path, future, future))

	report, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Unchanged)
	assert.Equal(t, 1, renderer.calls)

	f, err := st.FileByPath(path)
	require.NoError(t, err)
	assert.WithinDuration(t, future, f.LastModified, 50*time.Millisecond)
}

func TestRunRenderFailureMarksNeedsRecovery(t *testing.T) {
	renderer := &stubRenderer{err: errors.New("corrupt xref table")}
	p, st, filesDir := newTestPipeline(t, renderer)
	path := writePDF(t, filesDir, "broken.pdf", "%PDF-1.4 broken")

	report, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)

	f, err := st.FileByPath(path)
	require.NoError(t, err)
	assert.Equal(t, models.StatusNeedsRecovery, f.Status)
	assert.Empty(t, f.Pages)
}

func TestRunRecoversFileAfterRendererHealed(t *testing.T) {
	renderer := &stubRenderer{err: errors.New("transient")}
	p, st, filesDir := newTestPipeline(t, renderer)
	path := writePDF(t, filesDir, "flaky.pdf", "%PDF-1.4 flaky")

	_, err := p.Run(context.Background())
	require.NoError(t, err)

	renderer.err = nil
	renderer.pages = 2
	report, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Processed)

	f, err := st.FileByPath(path)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, f.Status)
	assert.Len(t, f.Pages, 2)
}
