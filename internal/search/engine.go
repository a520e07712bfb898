package search

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Lllllllleong/insightbase/internal/models"
	"github.com/Lllllllleong/insightbase/internal/store"
)

// Result is one page of a paginated result set.
type Result[T any] struct {
	Items        []T `json:"items"`
	CurrentPage  int `json:"currentPage"`
	TotalPages   int `json:"totalPages"`
	TotalMatches int `json:"totalMatches"`
}

// FileHit is one matched file plus the query keywords it matched and a
// reference the caller can use to reach the document.
type FileHit struct {
	File            *models.File `json:"file"`
	MatchedKeywords []string     `json:"matchedKeywords,omitempty"`
	AccessReference string       `json:"accessReference,omitempty"`
}

// ContentHit is one matched page annotation plus its file context.
type ContentHit struct {
	Content         *models.Content `json:"content"`
	FileName        string          `json:"fileName"`
	MatchedKeywords []string        `json:"matchedKeywords,omitempty"`
}

type Engine struct {
	store           *store.Store
	pageSize        int
	downloadBaseURL string
}

func NewEngine(st *store.Store, pageSize int, downloadBaseURL string) *Engine {
	if pageSize < 1 {
		pageSize = 10
	}
	return &Engine{store: st, pageSize: pageSize, downloadBaseURL: downloadBaseURL}
}

// SearchFiles matches completed files against the criteria and returns
// the requested result page, ranked by matched keyword count and then
// recency of publication.
func (e *Engine) SearchFiles(criteria Criteria, page int) (*Result[FileHit], error) {
	files, err := e.store.AllFiles()
	if err != nil {
		return nil, err
	}

	var hits []FileHit
	for _, f := range files {
		if f.Status != models.StatusCompleted {
			continue
		}
		ok, matched := matchKeywords(criteria.Keywords, f.Keywords, criteria.MatchLogic)
		if !ok {
			continue
		}
		if !matchText(criteria.Title, f.Name) {
			continue
		}
		if !matchText(criteria.Content, f.Description) {
			continue
		}
		if !matchText(criteria.Publisher, f.Source) {
			continue
		}
		if !matchDate(f.PublishedDate, criteria.StartDate, criteria.EndDate) {
			continue
		}
		hits = append(hits, FileHit{
			File:            f,
			MatchedKeywords: matched,
			AccessReference: e.accessReference(f),
		})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if d := len(hits[i].MatchedKeywords) - len(hits[j].MatchedKeywords); d != 0 {
			return d > 0
		}
		di, dj := publishedOrZero(hits[i].File), publishedOrZero(hits[j].File)
		if !di.Equal(dj) {
			return di.After(dj)
		}
		return hits[i].File.Name < hits[j].File.Name
	})

	return paginate(hits, page, e.pageSize)
}

// SearchContent matches stored page annotations against the criteria,
// yielding one result per page of a document.
func (e *Engine) SearchContent(criteria Criteria, page int) (*Result[ContentHit], error) {
	contents, err := e.store.AllContents()
	if err != nil {
		return nil, err
	}

	fileByID := make(map[string]*models.File)
	files, err := e.store.AllFiles()
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		fileByID[f.ID] = f
	}

	var hits []ContentHit
	for _, c := range contents {
		f := fileByID[c.FileID]
		if f == nil {
			continue
		}
		ok, matched := matchKeywords(criteria.Keywords, c.Keywords, criteria.MatchLogic)
		if !ok {
			continue
		}
		if !matchText(criteria.Title, c.Title) {
			continue
		}
		if !matchText(criteria.Content, c.Text) {
			continue
		}
		if !matchText(criteria.Publisher, f.Source) {
			continue
		}
		if !matchDate(f.PublishedDate, criteria.StartDate, criteria.EndDate) {
			continue
		}
		hits = append(hits, ContentHit{
			Content:         c,
			FileName:        f.Name,
			MatchedKeywords: matched,
		})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if d := len(hits[i].MatchedKeywords) - len(hits[j].MatchedKeywords); d != 0 {
			return d > 0
		}
		fi, fj := fileByID[hits[i].Content.FileID], fileByID[hits[j].Content.FileID]
		di, dj := publishedOrZero(fi), publishedOrZero(fj)
		if !di.Equal(dj) {
			return di.After(dj)
		}
		if hits[i].Content.FileID != hits[j].Content.FileID {
			return hits[i].Content.FileID < hits[j].Content.FileID
		}
		return hits[i].Content.PageNumber < hits[j].Content.PageNumber
	})

	return paginate(hits, page, e.pageSize)
}

// accessReference prefers the local file when it is still on disk, and
// falls back to the public download location for admin uploads.
func (e *Engine) accessReference(f *models.File) string {
	if abs, err := filepath.Abs(f.Path); err == nil {
		if _, err := os.Stat(abs); err == nil {
			return abs
		}
	}
	if f.Uploader == "admin" && e.downloadBaseURL != "" {
		return strings.TrimSuffix(e.downloadBaseURL, "/") + "/" + f.Name
	}
	return ""
}

func publishedOrZero(f *models.File) time.Time {
	if f == nil {
		return time.Time{}
	}
	t, ok := parseDate(f.PublishedDate)
	if !ok {
		// Unparseable dates rank oldest.
		return time.Time{}
	}
	return t
}

// paginate slices the ranked hits into 1-based pages.
func paginate[T any](hits []T, page, pageSize int) (*Result[T], error) {
	total := len(hits)
	totalPages := (total + pageSize - 1) / pageSize

	if page < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPageIndex, page)
	}
	if total == 0 {
		if page > 1 {
			return nil, fmt.Errorf("%w: %d", ErrInvalidPageIndex, page)
		}
		return &Result[T]{Items: []T{}, CurrentPage: 1, TotalPages: 0, TotalMatches: 0}, nil
	}
	if page > totalPages {
		return nil, fmt.Errorf("%w: %d of %d", ErrInvalidPageIndex, page, totalPages)
	}

	start := (page - 1) * pageSize
	end := start + pageSize
	if end > total {
		end = total
	}
	return &Result[T]{
		Items:        hits[start:end],
		CurrentPage:  page,
		TotalPages:   totalPages,
		TotalMatches: total,
	}, nil
}
