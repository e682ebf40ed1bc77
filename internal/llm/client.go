// Package llm talks to OpenAI-compatible completion providers (Groq, Gemini).
package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

var (
	// ErrQuotaExceeded means the provider rejected the call for rate or quota
	// reasons. Callers show a "try again later" message and never retry.
	ErrQuotaExceeded = errors.New("llm: quota exceeded")
	ErrEmptyResponse = errors.New("llm: empty response")
)

// Prompt is a single-shot chat request.
type Prompt struct {
	System string
	User   string
	// MaxTokens overrides the client default when > 0.
	MaxTokens int
}

// Client is the completion surface the dispatcher and jobs depend on.
type Client interface {
	Complete(ctx context.Context, p Prompt) (string, error)
	DescribeImage(ctx context.Context, image []byte, mimeType, instruction string) (string, error)
	Transcribe(ctx context.Context, audio []byte, filename, language string) (string, error)
	ListModels(ctx context.Context) ([]string, error)
}

type Config struct {
	APIKey          string
	BaseURL         string
	Model           string
	VisionModel     string
	TranscribeModel string
	MaxTokens       int
	Temperature     float64
	Timeout         time.Duration
}

// OpenAIClient implements Client with go-openai against any compatible base URL.
type OpenAIClient struct {
	api *openai.Client
	cfg Config

	mu    sync.RWMutex
	model string
}

var _ Client = (*OpenAIClient)(nil)

func NewOpenAIClient(cfg Config) *OpenAIClient {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	oc.HTTPClient = &http.Client{Timeout: timeout}

	return &OpenAIClient{
		api:   openai.NewClientWithConfig(oc),
		cfg:   cfg,
		model: cfg.Model,
	}
}

// Model returns the chat model in use.
func (c *OpenAIClient) Model() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.model
}

// SetModel switches the chat model; called once after startup resolution.
func (c *OpenAIClient) SetModel(model string) {
	if model == "" {
		return
	}
	c.mu.Lock()
	c.model = model
	c.mu.Unlock()
}

func (c *OpenAIClient) Complete(ctx context.Context, p Prompt) (string, error) {
	var msgs []openai.ChatCompletionMessage
	if strings.TrimSpace(p.System) != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: p.System})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: p.User})

	maxTokens := p.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.cfg.MaxTokens
	}
	return c.chat(ctx, openai.ChatCompletionRequest{
		Model:       c.Model(),
		Messages:    msgs,
		MaxTokens:   maxTokens,
		Temperature: float32(c.cfg.Temperature),
	})
}

func (c *OpenAIClient) DescribeImage(ctx context.Context, image []byte, mimeType, instruction string) (string, error) {
	if len(image) == 0 {
		return "", fmt.Errorf("describe image: empty image")
	}
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	dataURL := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(image)

	model := c.cfg.VisionModel
	if model == "" {
		model = c.Model()
	}
	return c.chat(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: instruction},
				{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: dataURL}},
			},
		}},
		MaxTokens: c.cfg.MaxTokens,
	})
}

func (c *OpenAIClient) chat(ctx context.Context, req openai.ChatCompletionRequest) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

func (c *OpenAIClient) Transcribe(ctx context.Context, audio []byte, filename, language string) (string, error) {
	if len(audio) == 0 {
		return "", fmt.Errorf("transcribe: empty audio")
	}
	if filename == "" {
		filename = "voice.ogg"
	}
	model := c.cfg.TranscribeModel
	if model == "" {
		model = openai.Whisper1
	}
	resp, err := c.api.CreateTranscription(ctx, openai.AudioRequest{
		Model:    model,
		FilePath: filename,
		Reader:   bytes.NewReader(audio),
		Language: language,
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		return "", classify(err)
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

func (c *OpenAIClient) ListModels(ctx context.Context) ([]string, error) {
	list, err := c.api.ListModels(ctx)
	if err != nil {
		return nil, classify(err)
	}
	ids := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

// classify maps provider rate/quota failures onto ErrQuotaExceeded.
func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == http.StatusTooManyRequests || isQuotaText(apiErr.Message) {
			return fmt.Errorf("%w: %s", ErrQuotaExceeded, apiErr.Message)
		}
		return fmt.Errorf("llm request: %w", err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %v", ErrQuotaExceeded, reqErr.Err)
	}
	return fmt.Errorf("llm request: %w", err)
}

func isQuotaText(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "resource_exhausted") || strings.Contains(m, "rate limit") || strings.Contains(m, "quota")
}
