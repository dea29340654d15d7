// Package vertex implements ocr.Model with Gemini models on Vertex AI.
package vertex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cloud.google.com/go/vertexai/genai"
	"google.golang.org/api/option"

	"github.com/supaocr/server/internal/ocr"
)

// ErrRefusal is returned when the model declines to transcribe a page.
var ErrRefusal = errors.New("model refused to transcribe page")

var refusalPhrases = []string{
	"i am unable to",
	"i cannot fulfill",
	"i cannot answer",
	"i cannot provide",
	"as a large language model",
}

// Config for the Vertex AI client.
type Config struct {
	ProjectID       string
	Region          string
	Model           string
	CredentialsFile string
}

// Client holds a genai client; models are derived per page because the
// system instruction changes with the previous page.
type Client struct {
	cfg    Config
	client *genai.Client
	log    *slog.Logger
}

// NewClient creates the underlying genai client.
func NewClient(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.ProjectID == "" || cfg.Region == "" {
		return nil, fmt.Errorf("vertex: projectID and region cannot be empty")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-1.5-pro"
	}
	if logger == nil {
		logger = slog.Default()
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := genai.NewClient(ctx, cfg.ProjectID, cfg.Region, opts...)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}
	return &Client{cfg: cfg, client: client, log: logger}, nil
}

func (c *Client) Name() string { return "vertex" }

// Recognize sends one page to Gemini as an inline blob.
func (c *Client) Recognize(ctx context.Context, in ocr.PageInput) (ocr.PageOutput, error) {
	name := in.Model
	if name == "" {
		name = c.cfg.Model
	}
	start := time.Now()

	model := c.client.GenerativeModel(name)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(ocr.BuildPrompt(in.PriorPage))},
	}
	model.SetTemperature(0)

	resp, err := model.GenerateContent(ctx,
		genai.Blob{MIMEType: in.MIMEType, Data: in.Data},
		genai.Text("Transcribe this page."),
	)
	if err != nil {
		c.log.Error("vertex.page.error", "page", in.PageNumber, "model", name, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds())
		return ocr.PageOutput{}, fmt.Errorf("failed to generate content from gemini: %w", err)
	}

	content := extractText(resp)
	if isRefusal(content) {
		return ocr.PageOutput{}, fmt.Errorf("%w: page %d", ErrRefusal, in.PageNumber)
	}

	out := ocr.PageOutput{Content: content}
	if u := resp.UsageMetadata; u != nil {
		out.InputTokens = int(u.PromptTokenCount)
		out.OutputTokens = int(u.CandidatesTokenCount)
	}
	c.log.Debug("vertex.page.ok", "page", in.PageNumber, "model", name,
		"input_tokens", out.InputTokens, "output_tokens", out.OutputTokens,
		"elapsed_ms", time.Since(start).Milliseconds())
	return out, nil
}

// Close releases the genai client.
func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// extractText concatenates the text parts of the first candidate.
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
	return b.String()
}

// isRefusal reports whether the reply opens with a refusal phrase. Phrases
// inside transcribed text are page content.
func isRefusal(content string) bool {
	lower := strings.ToLower(strings.TrimSpace(content))
	for _, phrase := range refusalPhrases {
		if strings.HasPrefix(lower, phrase) {
			return true
		}
	}
	return false
}
