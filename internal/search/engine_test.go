package search

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/insightbase/internal/models"
	"github.com/Lllllllleong/insightbase/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "db", "library.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

type fileSpec struct {
	name      string
	keywords  []string
	desc      string
	source    string
	published string
	status    models.Status
}

func seedFiles(t *testing.T, st *store.Store, specs []fileSpec) []*models.File {
	t.Helper()
	files := make([]*models.File, len(specs))
	for i, s := range specs {
		status := s.status
		if status == "" {
			status = models.StatusCompleted
		}
		f := &models.File{
			ID:            uuid.NewString(),
			Path:          "/library/" + s.name,
			Name:          s.name,
			Status:        status,
			Keywords:      s.keywords,
			Description:   s.desc,
			Source:        s.source,
			PublishedDate: s.published,
			CreatedAt:     time.Now(),
		}
		require.NoError(t, st.PutFile(f))
		files[i] = f
	}
	return files
}

func date(s string) *time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return &t
}

func TestParseMatchLogic(t *testing.T) {
	for _, in := range []string{"and", "AND", "And", ""} {
		logic, err := ParseMatchLogic(in)
		require.NoError(t, err)
		assert.Equal(t, MatchAll, logic)
	}
	logic, err := ParseMatchLogic("or")
	require.NoError(t, err)
	assert.Equal(t, MatchAny, logic)

	_, err = ParseMatchLogic("XOR")
	assert.ErrorIs(t, err, ErrInvalidMatchLogic)
}

func TestSearchFilesKeywordLogic(t *testing.T) {
	st := newTestStore(t)
	seedFiles(t, st, []fileSpec{
		{name: "a.pdf", keywords: []string{"turbine", "maintenance"}},
		{name: "b.pdf", keywords: []string{"turbine"}},
		{name: "c.pdf", keywords: []string{"pump"}},
	})
	e := NewEngine(st, 10, "")

	res, err := e.SearchFiles(Criteria{Keywords: []string{"turbine", "maintenance"}, MatchLogic: MatchAll}, 1)
	require.NoError(t, err)
	require.Equal(t, 1, res.TotalMatches)
	assert.Equal(t, "a.pdf", res.Items[0].File.Name)

	res, err = e.SearchFiles(Criteria{Keywords: []string{"turbine", "maintenance"}, MatchLogic: MatchAny}, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, res.TotalMatches)
}

func TestSearchFilesKeywordCaseFallback(t *testing.T) {
	st := newTestStore(t)
	seedFiles(t, st, []fileSpec{
		{name: "a.pdf", keywords: []string{"Turbine"}},
	})
	e := NewEngine(st, 10, "")

	res, err := e.SearchFiles(Criteria{Keywords: []string{"turbine"}, MatchLogic: MatchAll}, 1)
	require.NoError(t, err)
	require.Equal(t, 1, res.TotalMatches)
	assert.Equal(t, []string{"turbine"}, res.Items[0].MatchedKeywords)
}

func TestSearchFilesDateRangeIsInclusiveOnDateParts(t *testing.T) {
	st := newTestStore(t)
	seedFiles(t, st, []fileSpec{
		{name: "early.pdf", published: "2024-03-14"},
		{name: "boundary.pdf", published: "2024-03-15"},
		{name: "late.pdf", published: "2024-03-16"},
		{name: "unknown.pdf", published: "sometime"},
	})
	e := NewEngine(st, 10, "")

	res, err := e.SearchFiles(Criteria{StartDate: date("2024-03-15"), EndDate: date("2024-03-15")}, 1)
	require.NoError(t, err)
	require.Equal(t, 1, res.TotalMatches)
	assert.Equal(t, "boundary.pdf", res.Items[0].File.Name)

	res, err = e.SearchFiles(Criteria{StartDate: date("2024-03-14")}, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, res.TotalMatches)
}

func TestSearchFilesExcludesIncompleteFiles(t *testing.T) {
	st := newTestStore(t)
	seedFiles(t, st, []fileSpec{
		{name: "done.pdf", keywords: []string{"shared"}},
		{name: "broken.pdf", keywords: []string{"shared"}, status: models.StatusNeedsRecovery},
		{name: "queued.pdf", keywords: []string{"shared"}, status: models.StatusPendingProcessing},
	})
	e := NewEngine(st, 10, "")

	res, err := e.SearchFiles(Criteria{Keywords: []string{"shared"}}, 1)
	require.NoError(t, err)
	require.Equal(t, 1, res.TotalMatches)
	assert.Equal(t, "done.pdf", res.Items[0].File.Name)
}

func TestSearchFilesRanking(t *testing.T) {
	st := newTestStore(t)
	seedFiles(t, st, []fileSpec{
		{name: "one-hit-new.pdf", keywords: []string{"alpha"}, published: "2025-01-01"},
		{name: "two-hits.pdf", keywords: []string{"alpha", "beta"}, published: "2020-01-01"},
		{name: "one-hit-old.pdf", keywords: []string{"beta"}, published: "2021-06-01"},
		{name: "one-hit-undated.pdf", keywords: []string{"alpha"}},
	})
	e := NewEngine(st, 10, "")

	res, err := e.SearchFiles(Criteria{Keywords: []string{"alpha", "beta"}, MatchLogic: MatchAny}, 1)
	require.NoError(t, err)
	require.Equal(t, 4, res.TotalMatches)
	assert.Equal(t, "two-hits.pdf", res.Items[0].File.Name)
	assert.Equal(t, "one-hit-new.pdf", res.Items[1].File.Name)
	assert.Equal(t, "one-hit-old.pdf", res.Items[2].File.Name)
	assert.Equal(t, "one-hit-undated.pdf", res.Items[3].File.Name)
}

func TestSearchFilesPagination(t *testing.T) {
	st := newTestStore(t)
	specs := make([]fileSpec, 7)
	for i := range specs {
		specs[i] = fileSpec{name: fmt.Sprintf("doc-%d.pdf", i), keywords: []string{"common"}}
	}
	seedFiles(t, st, specs)
	e := NewEngine(st, 2, "")

	res, err := e.SearchFiles(Criteria{Keywords: []string{"common"}}, 1)
	require.NoError(t, err)
	assert.Equal(t, 7, res.TotalMatches)
	assert.Equal(t, 4, res.TotalPages)
	assert.Len(t, res.Items, 2)

	res, err = e.SearchFiles(Criteria{Keywords: []string{"common"}}, 4)
	require.NoError(t, err)
	assert.Len(t, res.Items, 1)

	_, err = e.SearchFiles(Criteria{Keywords: []string{"common"}}, 5)
	assert.ErrorIs(t, err, ErrInvalidPageIndex)
	_, err = e.SearchFiles(Criteria{Keywords: []string{"common"}}, 0)
	assert.ErrorIs(t, err, ErrInvalidPageIndex)
}

func TestSearchFilesNoMatches(t *testing.T) {
	st := newTestStore(t)
	seedFiles(t, st, []fileSpec{{name: "a.pdf", keywords: []string{"alpha"}}})
	e := NewEngine(st, 10, "")

	res, err := e.SearchFiles(Criteria{Keywords: []string{"missing"}}, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, res.TotalMatches)
	assert.Empty(t, res.Items)
}

func TestSearchFilesDownloadReference(t *testing.T) {
	st := newTestStore(t)
	f := &models.File{
		ID:       uuid.NewString(),
		Path:     "/nonexistent/admindoc.pdf",
		Name:     "admindoc.pdf",
		Status:   models.StatusCompleted,
		Keywords: []string{"alpha"},
		Uploader: "admin",
	}
	require.NoError(t, st.PutFile(f))
	e := NewEngine(st, 10, "https://library.example.com/files/")

	res, err := e.SearchFiles(Criteria{Keywords: []string{"alpha"}}, 1)
	require.NoError(t, err)
	require.Equal(t, 1, res.TotalMatches)
	assert.Equal(t, "https://library.example.com/files/admindoc.pdf", res.Items[0].AccessReference)
}

func TestSearchContentMatchesPerPage(t *testing.T) {
	st := newTestStore(t)
	files := seedFiles(t, st, []fileSpec{
		{name: "manual.pdf", source: "Acme Press", published: "2024-05-01"},
	})
	for page := 1; page <= 3; page++ {
		_, err := st.UpsertContent(&models.Content{
			ID:         uuid.NewString(),
			FileID:     files[0].ID,
			PageNumber: page,
			Title:      fmt.Sprintf("Section %d", page),
			Text:       fmt.Sprintf("body of page %d", page),
			Keywords:   []string{"manual"},
		})
		require.NoError(t, err)
	}
	e := NewEngine(st, 10, "")

	res, err := e.SearchContent(Criteria{Content: "page 2"}, 1)
	require.NoError(t, err)
	require.Equal(t, 1, res.TotalMatches)
	assert.Equal(t, 2, res.Items[0].Content.PageNumber)
	assert.Equal(t, "manual.pdf", res.Items[0].FileName)

	res, err = e.SearchContent(Criteria{Keywords: []string{"manual"}, Publisher: "acme"}, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, res.TotalMatches)
}
