package ocr

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotConfigured means no vision model or credential is available.
	ErrNotConfigured = errors.New("ocr backend not configured")
	// ErrUnsupportedDocument is returned for inputs that are neither a PDF nor a supported image.
	ErrUnsupportedDocument = errors.New("unsupported document type")
)

// Request is the input of one conversion call.
type Request struct {
	FilePath string
	Model    string
	// Cleanup removes the per-call page directory before Convert returns.
	// When false, a successful Result reports it in WorkDir and the caller
	// must remove it. Failed calls always clean up.
	Cleanup        bool
	MaintainFormat bool
}

// Page is the recognized Markdown for one page, in document order.
type Page struct {
	Content string `json:"content"`
}

// Usage is the token count summed over all pages.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Result is the output of one conversion call.
type Result struct {
	Pages          []Page
	CompletionTime time.Duration
	Usage          *Usage
	// WorkDir holds the split page files; set only when Cleanup was false.
	WorkDir string
}

// PageInput is a single page handed to a vision model.
type PageInput struct {
	PageNumber int
	MIMEType   string
	Data       []byte
	// PriorPage is the previous page's Markdown when formatting is maintained.
	PriorPage string
	Model     string
}

// PageOutput is a vision model's reply for one page.
type PageOutput struct {
	Content      string
	InputTokens  int
	OutputTokens int
}

// Model recognizes one page at a time.
type Model interface {
	Name() string
	Recognize(ctx context.Context, in PageInput) (PageOutput, error)
}
