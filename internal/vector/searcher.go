package vector

import (
	"context"
	"fmt"
	"os"

	"github.com/hupe1980/vecgo"

	"github.com/Lllllllleong/insightbase/internal/models"
	"github.com/Lllllllleong/insightbase/internal/store"
)

// queryInstruction frames the query for instruction-tuned embedding
// models; the indexed abstracts are stored without it.
const queryInstruction = "Instruct: Given a query, retrieve page annotations relevant to it\nQuery: "

// minSearchK keeps the candidate pool large enough that the threshold
// filter still has material to work with for small k.
const minSearchK = 100

// Hit is one semantic search result with its similarity score.
type Hit struct {
	Content    *models.Content `json:"content"`
	FileName   string          `json:"fileName"`
	Similarity float64         `json:"similarity"`
}

type Searcher struct {
	store     *store.Store
	embedder  Embedder
	indexDir  string
	threshold float64
}

func NewSearcher(st *store.Store, embedder Embedder, indexDir string, threshold float64) *Searcher {
	return &Searcher{store: st, embedder: embedder, indexDir: indexDir, threshold: threshold}
}

// Search embeds the query and returns up to k hits above the similarity
// threshold, best first. ErrIndexMissing means no index has been built;
// ErrIndexMismatch means the artifacts disagree and a rebuild is needed.
func (s *Searcher) Search(ctx context.Context, query string, k int) ([]Hit, error) {
	if k < 1 {
		k = 1
	}
	manifest, err := loadManifest(s.indexDir)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(indexPath(s.indexDir)); err != nil {
		if os.IsNotExist(err) {
			return nil, ErrIndexMissing
		}
		return nil, err
	}
	db, err := vecgo.NewFromFile[string](indexPath(s.indexDir))
	if err != nil {
		return nil, fmt.Errorf("failed to load index: %w", err)
	}

	vectors, err := s.embedder.Embed(ctx, []string{queryInstruction + query})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	queryVec := normalize(vectors[0])

	searchK := k
	if searchK < minSearchK {
		searchK = minSearchK
	}
	if searchK > manifest.Count {
		searchK = manifest.Count
	}
	if searchK == 0 {
		return []Hit{}, nil
	}

	results, err := db.KNNSearch(ctx, queryVec, searchK)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	known := make(map[string]struct{}, len(manifest.IDs))
	for _, id := range manifest.IDs {
		known[id] = struct{}{}
	}
	ids, similarities, err := selectHits(results, known, s.threshold, k)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []Hit{}, nil
	}

	contents, err := s.store.ContentsByIDs(ids)
	if err != nil {
		return nil, err
	}
	contentByID := make(map[string]*models.Content, len(contents))
	fileIDs := make([]string, 0, len(contents))
	for _, c := range contents {
		contentByID[c.ID] = c
		fileIDs = append(fileIDs, c.FileID)
	}
	files, err := s.store.FilesByIDs(fileIDs)
	if err != nil {
		return nil, err
	}
	nameByFileID := make(map[string]string, len(files))
	for _, f := range files {
		nameByFileID[f.ID] = f.Name
	}

	hits := make([]Hit, 0, len(ids))
	for _, id := range ids {
		c, ok := contentByID[id]
		if !ok {
			// Indexed content that no longer exists in the store.
			return nil, fmt.Errorf("%w: content %s missing from store", ErrIndexMismatch, id)
		}
		hits = append(hits, Hit{
			Content:    c,
			FileName:   nameByFileID[c.FileID],
			Similarity: similarities[id],
		})
	}
	return hits, nil
}

// selectHits applies the similarity threshold and truncates to k,
// keeping the index's best-first ordering. A hit the manifest does not
// know about means the index and manifest are from different builds.
func selectHits(results []vecgo.SearchResult[string], known map[string]struct{}, threshold float64, k int) ([]string, map[string]float64, error) {
	var ids []string
	similarities := make(map[string]float64)
	for _, r := range results {
		// Dot product distance is the negated inner product.
		similarity := -float64(r.Distance)
		if similarity < threshold {
			continue
		}
		if _, ok := known[r.Data]; !ok {
			return nil, nil, fmt.Errorf("%w: hit %s not in manifest", ErrIndexMismatch, r.Data)
		}
		ids = append(ids, r.Data)
		similarities[r.Data] = similarity
		if len(ids) == k {
			break
		}
	}
	return ids, similarities, nil
}
