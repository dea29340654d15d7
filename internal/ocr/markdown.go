package ocr

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

var mdParser = goldmark.New().Parser()

// FormatMarkdown normalizes a model reply. A reply consisting of a single
// fenced block tagged markdown, md or nothing is unwrapped.
func FormatMarkdown(in string) string {
	out := strings.TrimSpace(normalizeNewlines(in))
	if !strings.HasPrefix(out, "```") && !strings.HasPrefix(out, "~~~") {
		return out
	}

	src := []byte(out)
	doc := mdParser.Parse(text.NewReader(src))
	if doc.ChildCount() != 1 {
		return out
	}
	block, ok := doc.FirstChild().(*ast.FencedCodeBlock)
	if !ok {
		return out
	}
	switch lang := strings.ToLower(string(block.Language(src))); lang {
	case "", "markdown", "md":
	default:
		return out
	}

	var buf bytes.Buffer
	lines := block.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		buf.Write(seg.Value(src))
	}
	return strings.TrimSpace(buf.String())
}

func normalizeNewlines(in string) string {
	return strings.ReplaceAll(in, "\r\n", "\n")
}
