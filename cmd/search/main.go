// Command search queries the knowledge base. Three modes are
// supported: file metadata search, per-page content search and
// semantic search over the vector index. Results are printed as JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/Lllllllleong/insightbase/internal/config"
	"github.com/Lllllllleong/insightbase/internal/retry"
	"github.com/Lllllllleong/insightbase/internal/search"
	"github.com/Lllllllleong/insightbase/internal/store"
	"github.com/Lllllllleong/insightbase/internal/vector"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	var (
		mode       = flag.String("mode", "files", "search mode: files, contents or semantic")
		keywords   = flag.String("keywords", "", "comma-separated keywords")
		matchLogic = flag.String("match", "AND", "keyword match logic: AND or OR")
		title      = flag.String("title", "", "title substring filter")
		content    = flag.String("content", "", "content substring filter")
		publisher  = flag.String("publisher", "", "publisher substring filter")
		startDate  = flag.String("start", "", "published on or after, YYYY-MM-DD")
		endDate    = flag.String("end", "", "published on or before, YYYY-MM-DD")
		page       = flag.Int("page", 1, "1-based result page")
		query      = flag.String("query", "", "semantic search query")
		topK       = flag.Int("k", 5, "maximum semantic search results")
	)
	flag.Parse()

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

	switch *mode {
	case "files", "contents":
		criteria, err := buildCriteria(*keywords, *matchLogic, *title, *content, *publisher, *startDate, *endDate)
		if err != nil {
			slog.Error("Invalid search criteria.", "error", err)
			os.Exit(2)
		}
		engine := search.NewEngine(st, cfg.SearchPageSize, cfg.DownloadBaseURL)

		var result any
		if *mode == "files" {
			result, err = engine.SearchFiles(*criteria, *page)
		} else {
			result, err = engine.SearchContent(*criteria, *page)
		}
		if err != nil {
			slog.Error("Search failed.", "error", err)
			os.Exit(2)
		}
		printJSON(result)

	case "semantic":
		if strings.TrimSpace(*query) == "" {
			slog.Error("Semantic mode requires -query.")
			os.Exit(2)
		}
		embedder := vector.NewOpenAIEmbedder(cfg.EmbedBaseURL, cfg.EmbedAPIKey, cfg.EmbedModel, cfg.EmbedDimension, retry.DefaultPolicy())
		searcher := vector.NewSearcher(st, embedder, cfg.IndexDir, cfg.SimilarityThreshold)
		hits, err := searcher.Search(context.Background(), *query, *topK)
		if err != nil {
			slog.Error("Semantic search failed.", "error", err)
			os.Exit(2)
		}
		printJSON(hits)

	default:
		slog.Error("Unknown mode.", "mode", *mode)
		os.Exit(2)
	}
}

func buildCriteria(keywords, matchLogic, title, content, publisher, startDate, endDate string) (*search.Criteria, error) {
	logic, err := search.ParseMatchLogic(matchLogic)
	if err != nil {
		return nil, err
	}
	criteria := &search.Criteria{
		Title:      title,
		Content:    content,
		Publisher:  publisher,
		MatchLogic: logic,
	}
	for _, kw := range strings.Split(keywords, ",") {
		if kw = strings.TrimSpace(kw); kw != "" {
			criteria.Keywords = append(criteria.Keywords, kw)
		}
	}
	if startDate != "" {
		t, err := time.Parse("2006-01-02", startDate)
		if err != nil {
			return nil, fmt.Errorf("invalid start date %q: %w", startDate, err)
		}
		criteria.StartDate = &t
	}
	if endDate != "" {
		t, err := time.Parse("2006-01-02", endDate)
		if err != nil {
			return nil, fmt.Errorf("invalid end date %q: %w", endDate, err)
		}
		criteria.EndDate = &t
	}
	return criteria, nil
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		slog.Error("Failed to encode results.", "error", err)
		os.Exit(1)
	}
}
