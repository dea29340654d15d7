package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/supaocr/server/internal/ocr"
	"github.com/supaocr/server/internal/requestid"
	"github.com/supaocr/server/internal/staging"
)

// Backend defines the OCR dependency.
type Backend interface {
	Ready() error
	Convert(ctx context.Context, req ocr.Request) (*ocr.Result, error)
}

// Stager defines the upload staging dependency.
type Stager interface {
	Stage(filename string, r io.Reader) (*staging.StagedFile, error)
	Release(f *staging.StagedFile)
}

// UploadedDocument is one file received from a caller.
type UploadedDocument struct {
	Filename    string
	ContentType string
	Content     io.Reader
}

// PageResult is one page of backend output, numbered in return order.
type PageResult struct {
	PageNumber int    `json:"page_number"`
	Content    string `json:"content"`
}

// Stats describes a successful conversion. Optional fields are nil when
// the backend did not report them.
type Stats struct {
	FileSizeBytes    int64  `json:"file_size_bytes"`
	TotalPages       int    `json:"total_pages"`
	TotalChars       int    `json:"total_chars"`
	CompletionTimeMS *int64 `json:"completion_time_ms,omitempty"`
	InputTokens      *int   `json:"input_tokens,omitempty"`
	OutputTokens     *int   `json:"output_tokens,omitempty"`
}

// ConversionSuccess is the success outcome of a conversion request.
type ConversionSuccess struct {
	Markdown  string       `json:"markdown"`
	RequestID string       `json:"request_id"`
	Stats     Stats        `json:"stats"`
	Pages     []PageResult `json:"-"`
}

// Options tunes the conversion service.
type Options struct {
	Model          string
	MaintainFormat bool
	// Timeout bounds the backend call; zero leaves it unbounded.
	Timeout time.Duration
}

// ConversionService orchestrates one conversion per call.
type ConversionService struct {
	backend Backend
	stager  Stager
	opts    Options
	log     *slog.Logger
}

// NewConversionService creates ConversionService.
func NewConversionService(backend Backend, stager Stager, opts Options, logger *slog.Logger) *ConversionService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConversionService{backend: backend, stager: stager, opts: opts, log: logger}
}

// Convert stages doc, runs OCR on it and aggregates the pages. The returned
// error is always a *ConversionError; the staged file is removed before
// Convert returns.
func (s *ConversionService) Convert(ctx context.Context, doc UploadedDocument) (*ConversionSuccess, error) {
	ctx, rid := requestid.Ensure(ctx)
	log := s.log.With("request_id", rid)
	start := time.Now()
	log.Info("convert.start", "filename", doc.Filename, "content_type", doc.ContentType, "model", s.opts.Model)

	if err := s.Ready(); err != nil {
		return nil, s.fail(log, NewConversionError(ConfigurationError, rid, "", err))
	}

	staged, err := s.stager.Stage(doc.Filename, doc.Content)
	if err != nil {
		return nil, s.fail(log, NewConversionError(StagingError, rid, "failed to persist upload", err))
	}
	defer s.stager.Release(staged)
	log.Info("convert.staged", "path", staged.Path, "size_bytes", staged.Size)

	callCtx := ctx
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	result, err := s.backend.Convert(callCtx, ocr.Request{
		FilePath:       staged.Path,
		Model:          s.opts.Model,
		Cleanup:        true,
		MaintainFormat: s.opts.MaintainFormat,
	})
	if err != nil {
		return nil, s.fail(log, NewConversionError(OCRBackendError, rid, "", err))
	}
	if result == nil {
		return nil, s.fail(log, NewConversionError(OCRBackendError, rid, "", errors.New("ocr backend returned no result")))
	}

	out := Aggregate(rid, staged.Size, result)
	log.Info("convert.ok",
		"total_pages", out.Stats.TotalPages,
		"total_chars", out.Stats.TotalChars,
		"markdown_len", len(out.Markdown),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}

// Ready reports whether conversions can run at all.
func (s *ConversionService) Ready() error {
	if s.backend == nil {
		return ocr.ErrNotConfigured
	}
	return s.backend.Ready()
}

func (s *ConversionService) fail(log *slog.Logger, err *ConversionError) error {
	log.Error("convert.failed", "kind", string(err.Kind), "error", err.Message)
	return err
}

// Aggregate joins page contents with a blank line, in the order given, and
// computes the statistics.
func Aggregate(requestID string, fileSize int64, result *ocr.Result) *ConversionSuccess {
	pages := make([]PageResult, len(result.Pages))
	contents := make([]string, len(result.Pages))
	totalChars := 0
	for i, p := range result.Pages {
		pages[i] = PageResult{PageNumber: i + 1, Content: p.Content}
		contents[i] = p.Content
		totalChars += utf8.RuneCountInString(p.Content)
	}

	stats := Stats{
		FileSizeBytes: fileSize,
		TotalPages:    len(pages),
		TotalChars:    totalChars,
	}
	if result.CompletionTime > 0 {
		ms := result.CompletionTime.Milliseconds()
		stats.CompletionTimeMS = &ms
	}
	if result.Usage != nil {
		in, out := result.Usage.InputTokens, result.Usage.OutputTokens
		stats.InputTokens = &in
		stats.OutputTokens = &out
	}

	return &ConversionSuccess{
		Markdown:  strings.Join(contents, "\n\n"),
		RequestID: requestID,
		Stats:     stats,
		Pages:     pages,
	}
}
