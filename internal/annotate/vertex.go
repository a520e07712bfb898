// Package annotate runs page artifacts through a multimodal model and
// persists the structured annotations, keeping the per-file aggregates
// in sync.
package annotate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/vertexai/genai"
	"google.golang.org/api/googleapi"

	"github.com/Lllllllleong/insightbase/internal/models"
	"github.com/Lllllllleong/insightbase/internal/retry"
)

const AnnotatorSystemPrompt = "You are a document analysis tool. Your task is to read a single page of a PDF document and produce a structured annotation of its content. You must output your response as a single valid JSON object."

const AnnotatorUserPrompt = `Analyze the provided PDF page.

Produce a JSON object with exactly these keys:
  - "category": One of "main", "toc", "cover", "blank", "appendix". Use "main" for ordinary body pages.
  - "title": A short title for the page. Use the page's own heading where one exists.
  - "abstract": One to three sentences summarizing what the page contains.
  - "keywords": An array of up to ten keywords or key phrases found on the page.
  - "content": The full text of the page, transcribed faithfully.

Return ONLY the JSON object. Do not include any text before or after it.`

// Annotator produces a structured annotation for one page artifact.
type Annotator interface {
	Annotate(ctx context.Context, artifact []byte) (*models.Annotation, error)
}

// VertexAnnotator calls a Gemini model on Vertex AI with the page PDF
// attached inline.
type VertexAnnotator struct {
	model      *genai.GenerativeModel
	baseClient *genai.Client
}

func NewVertexAnnotator(ctx context.Context, projectID, region, modelName string) (*VertexAnnotator, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("NewVertexAnnotator: projectID and region cannot be empty")
	}
	baseClient, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	model := baseClient.GenerativeModel(modelName)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(AnnotatorSystemPrompt)},
	}
	model.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.0),
	}
	model.SafetySettings = []*genai.SafetySetting{
		{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockNone},
	}

	return &VertexAnnotator{model: model, baseClient: baseClient}, nil
}

func (a *VertexAnnotator) Close() error {
	if a.baseClient != nil {
		return a.baseClient.Close()
	}
	return nil
}

func (a *VertexAnnotator) Annotate(ctx context.Context, artifact []byte) (*models.Annotation, error) {
	pagePart := genai.Blob{MIMEType: "application/pdf", Data: artifact}
	prompt := genai.Text(AnnotatorUserPrompt)

	resp, err := a.model.GenerateContent(ctx, pagePart, prompt)
	if err != nil {
		return nil, classifyError(err)
	}

	text := extractText(resp)
	if text == "" {
		return nil, retry.Permanent(fmt.Errorf("model returned no text content"))
	}
	annotation, err := parseAnnotation(text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse model response: %w", err)
	}
	return annotation, nil
}

// classifyError maps a Vertex AI failure into the retry vocabulary:
// quota rejections are rate limits, other 4xx are permanent, the rest
// stay transient.
func classifyError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 429:
			return &retry.RateLimitError{ResetAfter: rateLimitReset(apiErr.Header), Err: err}
		case apiErr.Code >= 400 && apiErr.Code < 500:
			return retry.Permanent(err)
		}
	}
	return err
}

// rateLimitReset reads the service-provided reset out of the quota
// rejection's headers so the retry loop sleeps exactly that long
// instead of falling back to generic backoff.
func rateLimitReset(h http.Header) time.Duration {
	for _, key := range []string{"Retry-After", "X-RateLimit-Reset"} {
		if v := h.Get(key); v != "" {
			if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
				return time.Duration(secs) * time.Second
			}
		}
	}
	return 0
}

func extractText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	return strings.TrimSpace(b.String())
}

// parseAnnotation extracts the JSON object from the response text. The
// model occasionally wraps the object in fences or stray prose, so the
// slice between the first '{' and the last '}' is what gets decoded.
func parseAnnotation(text string) (*models.Annotation, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end < start {
		return nil, retry.Permanent(fmt.Errorf("no JSON object in response"))
	}
	var annotation models.Annotation
	if err := json.Unmarshal([]byte(text[start:end+1]), &annotation); err != nil {
		return nil, fmt.Errorf("invalid annotation JSON: %w", err)
	}
	return &annotation, nil
}
