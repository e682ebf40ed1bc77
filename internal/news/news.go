// Package news builds the daily news digest: fetch each section, translate
// and summarise it through the completion client, and render one message per
// section.
package news

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/stellarlinkco/yuki/internal/config"
	"github.com/stellarlinkco/yuki/internal/llm"
)

// EmptyPlaceholder is rendered for a section whose source returned nothing.
const EmptyPlaceholder = "（暫時抓不到新聞）"

type Section struct {
	Label  string
	Source Source
}

type Service struct {
	sections   []Section
	client     llm.Client
	perSection int
	timeout    time.Duration
}

func NewService(sections []Section, client llm.Client, perSection int, timeout time.Duration) *Service {
	if perSection <= 0 {
		perSection = 5
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Service{sections: sections, client: client, perSection: perSection, timeout: timeout}
}

// NewServiceFromConfig wires RSS feeds and, when an API key is set, a
// NewsAPI headline section.
func NewServiceFromConfig(cfg config.NewsConfig, client llm.Client) *Service {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	httpClient := &http.Client{Timeout: timeout}

	var sections []Section
	for _, f := range cfg.Feeds {
		sections = append(sections, Section{Label: f.Label, Source: NewRSSSource(f.URL, httpClient)})
	}
	if cfg.APIKey != "" {
		sections = append(sections, Section{Label: "頭條新聞", Source: NewNewsAPISource(cfg.APIKey, "ca", httpClient)})
	}
	return NewService(sections, client, cfg.ItemsPerSection, timeout)
}

// Digest returns one rendered message per section, in configured order. A
// failing source or translation degrades that section instead of failing the
// digest.
func (s *Service) Digest(ctx context.Context) []string {
	out := make([]string, 0, len(s.sections))
	for _, sec := range s.sections {
		out = append(out, s.render(ctx, sec))
	}
	return out
}

func (s *Service) render(ctx context.Context, sec Section) string {
	header := "📰 " + sec.Label

	fetchCtx, cancel := context.WithTimeout(ctx, s.timeout)
	items, err := sec.Source.Fetch(fetchCtx, s.perSection)
	cancel()
	if err != nil {
		log.Printf("[news] fetch %s failed: %v", sec.Label, err)
	}
	if len(items) == 0 {
		return header + "\n\n" + EmptyPlaceholder
	}

	raw := formatItems(items)
	if s.client == nil {
		return header + "\n\n" + raw
	}
	translated, err := s.client.Complete(ctx, llm.Prompt{
		System: "你是新聞編輯。把使用者給的新聞標題翻譯成繁體中文，每則一行，用「1.」這樣編號，每則後面加一句簡短說明。只輸出清單。",
		User:   raw,
	})
	if err != nil {
		log.Printf("[news] translate %s failed: %v", sec.Label, err)
		return header + "\n\n" + raw
	}
	return header + "\n\n" + translated
}

func formatItems(items []Item) string {
	var sb strings.Builder
	for i, it := range items {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "%d. %s", i+1, it.Title)
		if it.Link != "" {
			fmt.Fprintf(&sb, "\n   %s", it.Link)
		}
	}
	return sb.String()
}
