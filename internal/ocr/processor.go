package ocr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"
)

const sniffLen = 512

// Processor converts a document into per-page Markdown with a vision model.
type Processor struct {
	Model       Model
	Concurrency int
	// WorkDir holds per-call scratch directories; os.TempDir when empty.
	WorkDir string

	log *slog.Logger
}

// NewProcessor returns a Processor with sane defaults. model may be nil,
// in which case Ready reports ErrNotConfigured.
func NewProcessor(model Model, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		Model:       model,
		Concurrency: 10,
		log:         logger,
	}
}

// Ready reports whether the processor can serve requests.
func (p *Processor) Ready() error {
	if p.Model == nil {
		return ErrNotConfigured
	}
	return nil
}

type pageSource struct {
	mimeType string
	paths    []string
}

// Convert runs OCR over every page of req.FilePath and returns the pages in
// document order.
func (p *Processor) Convert(ctx context.Context, req Request) (res *Result, err error) {
	if err := p.Ready(); err != nil {
		return nil, err
	}
	if req.FilePath == "" {
		return nil, errors.New("file path is required")
	}
	start := time.Now()

	workDir, err := os.MkdirTemp(p.WorkDir, "ocr-pages-*")
	if err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	defer func() {
		// Without Cleanup a successful result hands WorkDir to the caller.
		if !req.Cleanup && err == nil {
			return
		}
		if rmErr := os.RemoveAll(workDir); rmErr != nil {
			p.log.Warn("ocr.cleanup_failed", "path", workDir, "error", rmErr)
		}
	}()

	src, err := p.pages(req.FilePath, workDir)
	if err != nil {
		return nil, err
	}
	p.log.Info("ocr.start",
		"model", req.Model,
		"provider", p.Model.Name(),
		"mime_type", src.mimeType,
		"pages", len(src.paths),
		"maintain_format", req.MaintainFormat,
	)

	var outputs []PageOutput
	if req.MaintainFormat {
		outputs, err = p.recognizeSequential(ctx, req, src)
	} else {
		outputs, err = p.recognizeConcurrent(ctx, req, src)
	}
	if err != nil {
		return nil, err
	}

	res = &Result{
		Pages: make([]Page, len(outputs)),
		Usage: &Usage{},
	}
	if !req.Cleanup {
		res.WorkDir = workDir
	}
	for i, out := range outputs {
		res.Pages[i] = Page{Content: out.Content}
		res.Usage.InputTokens += out.InputTokens
		res.Usage.OutputTokens += out.OutputTokens
	}
	res.CompletionTime = time.Since(start)

	p.log.Info("ocr.ok",
		"pages", len(res.Pages),
		"input_tokens", res.Usage.InputTokens,
		"output_tokens", res.Usage.OutputTokens,
		"elapsed_ms", res.CompletionTime.Milliseconds(),
	)
	return res, nil
}

func (p *Processor) pages(path, workDir string) (pageSource, error) {
	mimeType, err := DetectType(path)
	if err != nil {
		return pageSource{}, err
	}
	if mimeType != "application/pdf" {
		return pageSource{mimeType: mimeType, paths: []string{path}}, nil
	}
	paths, err := splitPDF(path, workDir)
	if err != nil {
		return pageSource{}, err
	}
	return pageSource{mimeType: mimeType, paths: paths}, nil
}

func (p *Processor) recognizeSequential(ctx context.Context, req Request, src pageSource) ([]PageOutput, error) {
	outputs := make([]PageOutput, 0, len(src.paths))
	prior := ""
	for i, path := range src.paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out, err := p.recognizePage(ctx, req, src.mimeType, i+1, path, prior)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, out)
		prior = out.Content
	}
	return outputs, nil
}

func (p *Processor) recognizeConcurrent(ctx context.Context, req Request, src pageSource) ([]PageOutput, error) {
	outputs := make([]PageOutput, len(src.paths))
	eg, gctx := errgroup.WithContext(ctx)
	limit := p.Concurrency
	if limit <= 0 {
		limit = 1
	}
	eg.SetLimit(limit)

	for i, path := range src.paths {
		eg.Go(func() error {
			out, err := p.recognizePage(gctx, req, src.mimeType, i+1, path, "")
			if err != nil {
				return err
			}
			outputs[i] = out
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return outputs, nil
}

func (p *Processor) recognizePage(ctx context.Context, req Request, mimeType string, pageNumber int, path, prior string) (PageOutput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return PageOutput{}, fmt.Errorf("page %d: read: %w", pageNumber, err)
	}
	start := time.Now()
	out, err := p.Model.Recognize(ctx, PageInput{
		PageNumber: pageNumber,
		MIMEType:   mimeType,
		Data:       data,
		PriorPage:  prior,
		Model:      req.Model,
	})
	if err != nil {
		p.log.Error("ocr.page_failed", "page", pageNumber, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return PageOutput{}, fmt.Errorf("page %d: %w", pageNumber, err)
	}
	out.Content = FormatMarkdown(out.Content)
	p.log.Debug("ocr.page_ok", "page", pageNumber, "chars", len(out.Content), "elapsed_ms", time.Since(start).Milliseconds())
	return out, nil
}

// DetectType sniffs the file's content type and rejects anything that is
// neither a PDF nor a supported image.
func DetectType(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	buf := make([]byte, sniffLen)
	n, err := f.Read(buf)
	if err != nil && n == 0 {
		return "", fmt.Errorf("%w: empty or unreadable file", ErrUnsupportedDocument)
	}
	switch ct := http.DetectContentType(buf[:n]); ct {
	case "application/pdf", "image/png", "image/jpeg", "image/gif", "image/webp":
		return ct, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedDocument, ct)
	}
}
