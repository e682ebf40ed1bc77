package llm

import (
	"context"
	"log"
	"time"

	"github.com/stellarlinkco/yuki/internal/config"
)

// ResolveModel lists the provider's models once and picks the first entry of
// priority that is available. Listing failures fall back to the priority
// order without the availability check.
func ResolveModel(ctx context.Context, c Client, priority []string) string {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	available, err := c.ListModels(ctx)
	if err != nil {
		log.Printf("[llm] list models failed, using configured priority: %v", err)
	}
	model := config.SelectModel(priority, available)
	log.Printf("[llm] using model %s", model)
	return model
}

// NewFromProvider builds a client for the configured provider. The chat
// model starts as the first priority entry until ResolveModel runs.
func NewFromProvider(p config.ProviderConfig) *OpenAIClient {
	return NewOpenAIClient(Config{
		APIKey:          p.APIKey,
		BaseURL:         p.BaseURL,
		Model:           config.SelectModel(p.Models, nil),
		VisionModel:     p.VisionModel,
		TranscribeModel: p.TranscribeModel,
		MaxTokens:       p.MaxTokens,
		Temperature:     p.Temperature,
	})
}
