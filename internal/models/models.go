package models

import "time"

// Status tracks how far a file has progressed through the ingestion
// pipeline. The pages_updating/needs_recovery pair exists because page
// cleanup and regeneration span two artifact spaces (store rows and
// rendered files) and are not atomic.
type Status string

const (
	StatusNew               Status = "new"
	StatusPending           Status = "pending"
	StatusPendingProcessing Status = "pending_processing"
	StatusPagesUpdating     Status = "pages_updating"
	StatusCompleted         Status = "completed"
	StatusNeedsRecovery     Status = "needs_recovery"
)

// Page is one rendered page of a File together with its annotation fields.
// Pages are embedded in the File row and owned by it.
type Page struct {
	PageNumber   int       `json:"pageNumber"`
	ArtifactPath string    `json:"artifactPath"`
	Annotated    bool      `json:"annotated"`
	AnnotatedAt  time.Time `json:"annotatedAt,omitempty"`
	Category     string    `json:"category,omitempty"`
	Title        string    `json:"title,omitempty"`
	Abstract     string    `json:"abstract,omitempty"`
	Keywords     []string  `json:"keywords,omitempty"`
}

// File is the master record for one source PDF: identity, change-detection
// fields, processing status, the ordered page sequence and the aggregates
// recomputed by the annotation worker.
type File struct {
	ID            string    `json:"fileId"`
	Path          string    `json:"filePath"`
	Name          string    `json:"fileName"`
	Hash          string    `json:"fileHash"`
	LastModified  time.Time `json:"lastModified"`
	Status        Status    `json:"status"`
	Pages         []Page    `json:"pages"`
	Keywords      []string  `json:"keywords"`
	Description   string    `json:"description"`
	Source        string    `json:"source,omitempty"`
	Uploader      string    `json:"uploader,omitempty"`
	Language      string    `json:"language,omitempty"`
	Topic         string    `json:"topic,omitempty"`
	PublishedDate string    `json:"publishedDate,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// PageByNumber returns the embedded page with the given 1-based number.
func (f *File) PageByNumber(n int) *Page {
	for i := range f.Pages {
		if f.Pages[i].PageNumber == n {
			return &f.Pages[i]
		}
	}
	return nil
}

// Content is the durable per-page annotation record. At most one row
// exists per (FileID, PageNumber); re-annotation updates it in place.
type Content struct {
	ID         string    `json:"contentId"`
	FileID     string    `json:"fileId"`
	PageNumber int       `json:"pageNumber"`
	Text       string    `json:"text"`
	Title      string    `json:"title"`
	Category   string    `json:"category"`
	Abstract   string    `json:"abstract"`
	Keywords   []string  `json:"keywords"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Annotation is the structured output of the annotate() service for a
// single page artifact.
type Annotation struct {
	Category string   `json:"category"`
	Title    string   `json:"title"`
	Abstract string   `json:"abstract"`
	Keywords []string `json:"keywords"`
	Text     string   `json:"content"`
}

// Empty reports whether the annotation carries no usable fields, which is
// how a definitive service rejection is persisted.
func (a Annotation) Empty() bool {
	return a.Category == "" && a.Title == "" && a.Abstract == "" && len(a.Keywords) == 0 && a.Text == ""
}

// FileUpdate describes a partial update to a File row. Nil fields are left
// untouched, so invalid field names are impossible by construction.
type FileUpdate struct {
	Hash          *string
	LastModified  *time.Time
	Status        *Status
	Pages         *[]Page
	Keywords      *[]string
	Description   *string
	PublishedDate *string
}

// Apply folds the update into f.
func (u FileUpdate) Apply(f *File) {
	if u.Hash != nil {
		f.Hash = *u.Hash
	}
	if u.LastModified != nil {
		f.LastModified = *u.LastModified
	}
	if u.Status != nil {
		f.Status = *u.Status
	}
	if u.Pages != nil {
		f.Pages = *u.Pages
	}
	if u.Keywords != nil {
		f.Keywords = *u.Keywords
	}
	if u.Description != nil {
		f.Description = *u.Description
	}
	if u.PublishedDate != nil {
		f.PublishedDate = *u.PublishedDate
	}
}

// ContentUpdate describes a partial update to a Content row. UpdatedAt is
// always refreshed by the store on apply.
type ContentUpdate struct {
	Text     *string
	Title    *string
	Category *string
	Abstract *string
	Keywords *[]string
}

// Apply folds the update into c.
func (u ContentUpdate) Apply(c *Content) {
	if u.Text != nil {
		c.Text = *u.Text
	}
	if u.Title != nil {
		c.Title = *u.Title
	}
	if u.Category != nil {
		c.Category = *u.Category
	}
	if u.Abstract != nil {
		c.Abstract = *u.Abstract
	}
	if u.Keywords != nil {
		c.Keywords = *u.Keywords
	}
}
