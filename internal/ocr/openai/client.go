// Package openai implements ocr.Model on top of the chat/completions API.
package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/supaocr/server/internal/ocr"
)

// Config for the OpenAI client.
type Config struct {
	APIKey      string
	BaseURL     string  // default https://api.openai.com/v1
	Model       string  // e.g., "gpt-4o-mini"
	Temperature float32 // 0..2
	// Timeout bounds one HTTP round trip; zero means no client-side timeout.
	Timeout time.Duration
}

// Client calls the chat/completions endpoint with one page per request.
type Client struct {
	cfg  Config
	http *http.Client
	log  *slog.Logger
}

// NewClient builds a Client, filling defaults.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  logger,
	}
}

func (c *Client) Name() string { return "openai" }

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
	File     *filePart `json:"file,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type filePart struct {
	Filename string `json:"filename"`
	FileData string `json:"file_data"`
}

type message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Temperature float32   `json:"temperature"`
	Messages    []message `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Recognize sends one page to the model and returns its Markdown.
func (c *Client) Recognize(ctx context.Context, in ocr.PageInput) (ocr.PageOutput, error) {
	model := in.Model
	if model == "" {
		model = c.cfg.Model
	}
	start := time.Now()

	body := chatRequest{
		Model:       model,
		Temperature: c.cfg.Temperature,
		Messages: []message{
			{Role: "system", Content: ocr.BuildPrompt(in.PriorPage)},
			{Role: "user", Content: []contentPart{pagePart(in)}},
		},
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	raw, err := c.post(ctx, endpoint, body)
	if err != nil {
		c.log.Error("openai.page.http_error",
			"page", in.PageNumber, "model", model, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return ocr.PageOutput{}, err
	}

	var cc chatResponse
	if err := json.Unmarshal(raw, &cc); err != nil {
		return ocr.PageOutput{}, fmt.Errorf("decode openai response: %w", err)
	}
	if len(cc.Choices) == 0 {
		return ocr.PageOutput{}, fmt.Errorf("no choices in openai response")
	}

	c.log.Debug("openai.page.ok",
		"page", in.PageNumber,
		"model", model,
		"input_tokens", cc.Usage.PromptTokens,
		"output_tokens", cc.Usage.CompletionTokens,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return ocr.PageOutput{
		Content:      cc.Choices[0].Message.Content,
		InputTokens:  cc.Usage.PromptTokens,
		OutputTokens: cc.Usage.CompletionTokens,
	}, nil
}

func pagePart(in ocr.PageInput) contentPart {
	dataURL := "data:" + in.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(in.Data)
	if in.MIMEType == "application/pdf" {
		return contentPart{
			Type: "file",
			File: &filePart{Filename: fmt.Sprintf("page-%d.pdf", in.PageNumber), FileData: dataURL},
		}
	}
	return contentPart{Type: "image_url", ImageURL: &imageURL{URL: dataURL}}
}

func (c *Client) post(ctx context.Context, url string, body any) ([]byte, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai http error: %w", err)
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			c.log.Warn("openai response body close error", "error", err)
		}
	}(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("openai status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return io.ReadAll(resp.Body)
}
