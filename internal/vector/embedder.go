// Package vector builds and queries the semantic index over page
// annotations: embedding via an OpenAI-compatible endpoint, an exact
// inner-product index and a manifest tying index slots to content rows.
package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/Lllllllleong/insightbase/internal/retry"
)

// Embedder turns texts into embedding vectors, one per input, in input
// order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// OpenAIEmbedder calls the /embeddings endpoint of an OpenAI-compatible
// service.
type OpenAIEmbedder struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	dimension  int
	policy     retry.Policy
}

func NewOpenAIEmbedder(baseURL, apiKey, model string, dimension int, policy retry.Policy) *OpenAIEmbedder {
	return &OpenAIEmbedder{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
		dimension:  dimension,
		policy:     policy,
	}
}

type embeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	var vectors [][]float32
	err := retry.Do(ctx, e.policy, func(ctx context.Context) error {
		var rerr error
		vectors, rerr = e.embedOnce(ctx, texts)
		return rerr
	})
	return vectors, err
}

func (e *OpenAIEmbedder) embedOnce(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embeddingRequest{Model: e.model, Input: texts, Dimensions: e.dimension})
	if err != nil {
		return nil, retry.Permanent(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, retry.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("embedding request failed: %s: %s", resp.Status, payload)
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return nil, &retry.RateLimitError{ResetAfter: retryAfter(resp), Err: err}
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			return nil, retry.Permanent(err)
		default:
			return nil, err
		}
	}

	var parsed embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode embedding response: %w", err)
	}
	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: sent %d texts, got %d vectors", len(texts), len(parsed.Data))
	}

	vectors := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

func retryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}
