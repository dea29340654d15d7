package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

type fakeModel struct {
	mu      sync.Mutex
	inputs  []PageInput
	reply   func(in PageInput) (PageOutput, error)
	running int32
	maxSeen int32
}

func (f *fakeModel) Name() string { return "fake" }

func (f *fakeModel) Recognize(ctx context.Context, in PageInput) (PageOutput, error) {
	cur := atomic.AddInt32(&f.running, 1)
	defer atomic.AddInt32(&f.running, -1)
	for {
		seen := atomic.LoadInt32(&f.maxSeen)
		if cur <= seen || atomic.CompareAndSwapInt32(&f.maxSeen, seen, cur) {
			break
		}
	}

	f.mu.Lock()
	f.inputs = append(f.inputs, in)
	f.mu.Unlock()
	if f.reply != nil {
		return f.reply(in)
	}
	return PageOutput{Content: fmt.Sprintf("page %d", in.PageNumber), InputTokens: 10, OutputTokens: 2}, nil
}

func writeTemp(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestProcessor_ReadyWithoutModel(t *testing.T) {
	p := NewProcessor(nil, nil)
	if err := p.Ready(); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if _, err := p.Convert(context.Background(), Request{FilePath: "x"}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured from Convert, got %v", err)
	}
}

func TestProcessor_ConvertImage(t *testing.T) {
	model := &fakeModel{reply: func(in PageInput) (PageOutput, error) {
		return PageOutput{Content: "```markdown\n# Invoice\r\nTotal: $42\n```", InputTokens: 120, OutputTokens: 30}, nil
	}}
	p := NewProcessor(model, nil)
	p.WorkDir = t.TempDir()

	path := writeTemp(t, "invoice.png", pngHeader)
	res, err := p.Convert(context.Background(), Request{FilePath: path, Model: "gpt-4o-mini", Cleanup: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Pages) != 1 || res.Pages[0].Content != "# Invoice\nTotal: $42" {
		t.Fatalf("unexpected pages: %+v", res.Pages)
	}
	if res.Usage == nil || res.Usage.InputTokens != 120 || res.Usage.OutputTokens != 30 {
		t.Fatalf("unexpected usage: %+v", res.Usage)
	}
	if res.CompletionTime <= 0 {
		t.Fatalf("expected completion time, got %v", res.CompletionTime)
	}
	if len(model.inputs) != 1 {
		t.Fatalf("expected one model call, got %d", len(model.inputs))
	}
	in := model.inputs[0]
	if in.MIMEType != "image/png" || in.PageNumber != 1 || in.Model != "gpt-4o-mini" {
		t.Fatalf("unexpected page input: %+v", in)
	}
	if entries, _ := os.ReadDir(p.WorkDir); len(entries) != 0 {
		t.Fatalf("expected work dir cleaned, found %d entries", len(entries))
	}
}

func TestProcessor_NoCleanupKeepsWorkDir(t *testing.T) {
	p := NewProcessor(&fakeModel{}, nil)
	p.WorkDir = t.TempDir()

	path := writeTemp(t, "scan.png", pngHeader)
	res, err := p.Convert(context.Background(), Request{FilePath: path})
	if err != nil {
		t.Fatal(err)
	}
	if entries, _ := os.ReadDir(p.WorkDir); len(entries) != 1 {
		t.Fatalf("expected work dir kept, found %d entries", len(entries))
	}
	if res.WorkDir == "" || filepath.Dir(res.WorkDir) != p.WorkDir {
		t.Fatalf("expected result to report the kept work dir, got %q", res.WorkDir)
	}
	if err := os.RemoveAll(res.WorkDir); err != nil {
		t.Fatal(err)
	}
}

func TestProcessor_CleanupReportsNoWorkDir(t *testing.T) {
	p := NewProcessor(&fakeModel{}, nil)
	p.WorkDir = t.TempDir()

	res, err := p.Convert(context.Background(), Request{FilePath: writeTemp(t, "scan.png", pngHeader), Cleanup: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.WorkDir != "" {
		t.Fatalf("expected no work dir on cleaned result, got %q", res.WorkDir)
	}
}

func TestProcessor_FailureRemovesWorkDirWithoutCleanup(t *testing.T) {
	model := &fakeModel{reply: func(PageInput) (PageOutput, error) { return PageOutput{}, errors.New("boom") }}
	p := NewProcessor(model, nil)
	p.WorkDir = t.TempDir()

	if _, err := p.Convert(context.Background(), Request{FilePath: writeTemp(t, "scan.png", pngHeader)}); err == nil {
		t.Fatal("expected error")
	}
	if entries, _ := os.ReadDir(p.WorkDir); len(entries) != 0 {
		t.Fatalf("expected work dir removed after failure, found %d entries", len(entries))
	}
}

// buildPDF returns a minimal valid PDF with n empty Letter-sized pages.
func buildPDF(n int) []byte {
	var buf bytes.Buffer
	offsets := make([]int, 0, n+2)
	obj := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}

	buf.WriteString("%PDF-1.4\n")
	obj("<< /Type /Catalog /Pages 2 0 R >>")
	kids := make([]string, n)
	for i := range kids {
		kids[i] = fmt.Sprintf("%d 0 R", i+3)
	}
	obj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), n))
	for i := 0; i < n; i++ {
		obj("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << >> >>")
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(offsets)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)
	return buf.Bytes()
}

func TestProcessor_ConvertPDF(t *testing.T) {
	for _, maintain := range []bool{true, false} {
		t.Run(fmt.Sprintf("maintain_format=%v", maintain), func(t *testing.T) {
			model := &fakeModel{}
			p := NewProcessor(model, nil)
			p.WorkDir = t.TempDir()

			path := writeTemp(t, "scan.pdf", buildPDF(3))
			res, err := p.Convert(context.Background(), Request{FilePath: path, Cleanup: true, MaintainFormat: maintain})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(res.Pages) != 3 {
				t.Fatalf("expected 3 pages, got %d", len(res.Pages))
			}
			for i, page := range res.Pages {
				if want := fmt.Sprintf("page %d", i+1); page.Content != want {
					t.Fatalf("page %d: got %q, want %q", i+1, page.Content, want)
				}
			}
			if res.Usage.InputTokens != 30 || res.Usage.OutputTokens != 6 {
				t.Fatalf("unexpected usage: %+v", res.Usage)
			}

			if len(model.inputs) != 3 {
				t.Fatalf("expected 3 model calls, got %d", len(model.inputs))
			}
			seen := map[int]bool{}
			for _, in := range model.inputs {
				if in.MIMEType != "application/pdf" {
					t.Fatalf("page %d: unexpected mime type %q", in.PageNumber, in.MIMEType)
				}
				if !bytes.HasPrefix(in.Data, []byte("%PDF")) {
					t.Fatalf("page %d: expected single-page pdf bytes", in.PageNumber)
				}
				seen[in.PageNumber] = true
			}
			if !seen[1] || !seen[2] || !seen[3] {
				t.Fatalf("expected pages 1..3 sent to the model, got %v", seen)
			}
			if maintain && model.inputs[2].PriorPage != "page 2" {
				t.Fatalf("expected previous page as context, got %q", model.inputs[2].PriorPage)
			}

			if entries, _ := os.ReadDir(p.WorkDir); len(entries) != 0 {
				t.Fatalf("expected work dir cleaned, found %d entries", len(entries))
			}
		})
	}
}

func TestSplitPDF_PageFiles(t *testing.T) {
	workDir := t.TempDir()
	paths, err := splitPDF(writeTemp(t, "doc.pdf", buildPDF(2)), workDir)
	if err != nil {
		t.Fatalf("splitPDF: %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("expected 2 page files, got %v", paths)
	}
	for i, path := range paths {
		if filepath.Dir(path) != workDir {
			t.Fatalf("page %d written outside work dir: %s", i+1, path)
		}
		n, err := api.PageCountFile(path)
		if err != nil || n != 1 {
			t.Fatalf("page %d: expected single-page pdf, got %d pages (%v)", i+1, n, err)
		}
	}
}

func TestProcessor_ModelErrorIsWrapped(t *testing.T) {
	wantErr := errors.New("openai status 401: invalid api key")
	model := &fakeModel{reply: func(PageInput) (PageOutput, error) { return PageOutput{}, wantErr }}
	p := NewProcessor(model, nil)
	p.WorkDir = t.TempDir()

	path := writeTemp(t, "scan.png", pngHeader)
	_, err := p.Convert(context.Background(), Request{FilePath: path, Cleanup: true})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected wrapped model error, got %v", err)
	}
	if !strings.Contains(err.Error(), "invalid api key") {
		t.Fatalf("expected message preserved, got %v", err)
	}
}

func TestProcessor_UnsupportedDocument(t *testing.T) {
	model := &fakeModel{}
	p := NewProcessor(model, nil)
	p.WorkDir = t.TempDir()

	path := writeTemp(t, "notes.txt", []byte("just some text"))
	_, err := p.Convert(context.Background(), Request{FilePath: path, Cleanup: true})
	if !errors.Is(err, ErrUnsupportedDocument) {
		t.Fatalf("expected ErrUnsupportedDocument, got %v", err)
	}
	if len(model.inputs) != 0 {
		t.Fatal("model should not be called for unsupported input")
	}
}

func TestProcessor_MalformedPDF(t *testing.T) {
	p := NewProcessor(&fakeModel{}, nil)
	p.WorkDir = t.TempDir()

	path := writeTemp(t, "broken.pdf", []byte("%PDF-1.4\nthis is not a real pdf"))
	if _, err := p.Convert(context.Background(), Request{FilePath: path, Cleanup: true}); err == nil {
		t.Fatal("expected error for malformed pdf")
	}
}

func TestProcessor_MissingFile(t *testing.T) {
	p := NewProcessor(&fakeModel{}, nil)
	p.WorkDir = t.TempDir()
	if _, err := p.Convert(context.Background(), Request{FilePath: filepath.Join(t.TempDir(), "missing.png")}); err == nil {
		t.Fatal("expected error for missing file")
	}
	if _, err := p.Convert(context.Background(), Request{}); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func pageSourceOf(t *testing.T, n int) pageSource {
	t.Helper()
	dir := t.TempDir()
	src := pageSource{mimeType: "application/pdf"}
	for i := 1; i <= n; i++ {
		p := filepath.Join(dir, fmt.Sprintf("source_%d.pdf", i))
		if err := os.WriteFile(p, []byte(fmt.Sprintf("page-%d", i)), 0o600); err != nil {
			t.Fatal(err)
		}
		src.paths = append(src.paths, p)
	}
	return src
}

func TestRecognizeSequential_PassesPriorPage(t *testing.T) {
	model := &fakeModel{}
	p := NewProcessor(model, nil)

	outputs, err := p.recognizeSequential(context.Background(), Request{MaintainFormat: true}, pageSourceOf(t, 3))
	if err != nil {
		t.Fatal(err)
	}
	if len(outputs) != 3 {
		t.Fatalf("expected 3 outputs, got %d", len(outputs))
	}
	if model.inputs[0].PriorPage != "" {
		t.Fatalf("first page should have no prior page, got %q", model.inputs[0].PriorPage)
	}
	if model.inputs[1].PriorPage != "page 1" || model.inputs[2].PriorPage != "page 2" {
		t.Fatalf("unexpected prior pages: %q, %q", model.inputs[1].PriorPage, model.inputs[2].PriorPage)
	}
	if string(model.inputs[2].Data) != "page-3" {
		t.Fatalf("unexpected page data: %q", model.inputs[2].Data)
	}
}

func TestRecognizeConcurrent_KeepsOrderAndLimit(t *testing.T) {
	model := &fakeModel{reply: func(in PageInput) (PageOutput, error) {
		// Earlier pages finish last.
		time.Sleep(time.Duration(10-in.PageNumber) * time.Millisecond)
		return PageOutput{Content: string(in.Data), InputTokens: 1, OutputTokens: 1}, nil
	}}
	p := NewProcessor(model, nil)
	p.Concurrency = 3

	outputs, err := p.recognizeConcurrent(context.Background(), Request{}, pageSourceOf(t, 8))
	if err != nil {
		t.Fatal(err)
	}
	for i, out := range outputs {
		if want := fmt.Sprintf("page-%d", i+1); out.Content != want {
			t.Fatalf("output %d = %q, want %q", i, out.Content, want)
		}
	}
	if peak := atomic.LoadInt32(&model.maxSeen); peak > 3 {
		t.Fatalf("expected at most 3 concurrent calls, saw %d", peak)
	}
}

func TestRecognizeConcurrent_FirstErrorFails(t *testing.T) {
	model := &fakeModel{reply: func(in PageInput) (PageOutput, error) {
		if in.PageNumber == 2 {
			return PageOutput{}, errors.New("rate limited")
		}
		return PageOutput{Content: "ok"}, nil
	}}
	p := NewProcessor(model, nil)

	_, err := p.recognizeConcurrent(context.Background(), Request{}, pageSourceOf(t, 4))
	if err == nil || !strings.Contains(err.Error(), "page 2: rate limited") {
		t.Fatalf("expected page 2 error, got %v", err)
	}
}

func TestRecognizeSequential_StopsOnCancel(t *testing.T) {
	model := &fakeModel{}
	p := NewProcessor(model, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := p.recognizeSequential(ctx, Request{}, pageSourceOf(t, 2)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(model.inputs) != 0 {
		t.Fatal("no page should be recognized after cancel")
	}
}

func TestDetectType(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		want    string
		wantErr bool
	}{
		{"png", pngHeader, "image/png", false},
		{"jpeg", []byte("\xff\xd8\xff\xe0\x00\x10JFIF"), "image/jpeg", false},
		{"gif", []byte("GIF89a......"), "image/gif", false},
		{"pdf", []byte("%PDF-1.7\n"), "application/pdf", false},
		{"text", []byte("hello"), "", true},
		{"empty", nil, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTemp(t, tt.name, tt.data)
			got, err := DetectType(path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("DetectType() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrUnsupportedDocument) {
				t.Fatalf("expected ErrUnsupportedDocument, got %v", err)
			}
			if got != tt.want {
				t.Fatalf("DetectType() = %q, want %q", got, tt.want)
			}
		})
	}
}
