package news

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
)

type Item struct {
	Title       string
	Link        string
	Description string
	Published   time.Time
}

// Source yields the newest items of one news section.
type Source interface {
	Fetch(ctx context.Context, limit int) ([]Item, error)
}

// RSSSource reads an RSS/Atom feed.
type RSSSource struct {
	URL    string
	parser *gofeed.Parser
}

func NewRSSSource(feedURL string, client *http.Client) *RSSSource {
	p := gofeed.NewParser()
	p.UserAgent = "yuki-bot/1.0"
	if client != nil {
		p.Client = client
	}
	return &RSSSource{URL: feedURL, parser: p}
}

func (s *RSSSource) Fetch(ctx context.Context, limit int) ([]Item, error) {
	feed, err := s.parser.ParseURLWithContext(s.URL, ctx)
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", s.URL, err)
	}
	var out []Item
	for _, it := range feed.Items {
		if limit > 0 && len(out) >= limit {
			break
		}
		title := strings.TrimSpace(it.Title)
		if title == "" {
			continue
		}
		item := Item{Title: title, Link: it.Link, Description: strings.TrimSpace(it.Description)}
		if it.PublishedParsed != nil {
			item.Published = *it.PublishedParsed
		}
		out = append(out, item)
	}
	return out, nil
}

// NewsAPIBaseURL is the newsapi.org v2 endpoint.
const NewsAPIBaseURL = "https://newsapi.org/v2"

// NewsAPISource reads top headlines from newsapi.org.
type NewsAPISource struct {
	APIKey  string
	Country string
	BaseURL string
	client  *http.Client
}

func NewNewsAPISource(apiKey, country string, client *http.Client) *NewsAPISource {
	if client == nil {
		client = http.DefaultClient
	}
	return &NewsAPISource{APIKey: apiKey, Country: country, BaseURL: NewsAPIBaseURL, client: client}
}

type newsAPIResponse struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	Articles []struct {
		Title       string    `json:"title"`
		URL         string    `json:"url"`
		Description string    `json:"description"`
		PublishedAt time.Time `json:"publishedAt"`
	} `json:"articles"`
}

func (s *NewsAPISource) Fetch(ctx context.Context, limit int) ([]Item, error) {
	q := url.Values{}
	q.Set("country", s.Country)
	if limit > 0 {
		q.Set("pageSize", fmt.Sprint(limit))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(s.BaseURL, "/")+"/top-headlines?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build newsapi request: %w", err)
	}
	req.Header.Set("X-Api-Key", s.APIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("newsapi request: %w", err)
	}
	defer resp.Body.Close()

	var body newsAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode newsapi: %w", err)
	}
	if resp.StatusCode != http.StatusOK || body.Status != "ok" {
		return nil, fmt.Errorf("newsapi status %d: %s", resp.StatusCode, body.Message)
	}

	var out []Item
	for _, a := range body.Articles {
		if limit > 0 && len(out) >= limit {
			break
		}
		if strings.TrimSpace(a.Title) == "" || a.Title == "[Removed]" {
			continue
		}
		out = append(out, Item{Title: a.Title, Link: a.URL, Description: a.Description, Published: a.PublishedAt})
	}
	return out, nil
}
