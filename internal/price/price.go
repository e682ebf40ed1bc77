// Package price polls product pages and announces when a watched price drops
// to or below its target.
package price

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/stellarlinkco/yuki/internal/config"
)

// PreferenceKeyPrefix namespaces the last announced price per watch.
const PreferenceKeyPrefix = "price_watch:"

var priceRe = regexp.MustCompile(`[0-9][0-9,]*(?:\.[0-9]+)?`)

// PreferenceStore is the slice of memory.Store the checker needs.
type PreferenceStore interface {
	SetPreference(ctx context.Context, key, value string) error
	GetPreference(ctx context.Context, key string) (string, bool, error)
}

type Checker struct {
	watches []config.PriceWatchConfig
	store   PreferenceStore
	client  *http.Client
}

func NewChecker(watches []config.PriceWatchConfig, store PreferenceStore, timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Checker{watches: watches, store: store, client: &http.Client{Timeout: timeout}}
}

func (c *Checker) Watches() []config.PriceWatchConfig {
	return c.watches
}

// Check fetches every watch and returns one alert per watch whose price is at
// or below target and differs from the last announced price. Fetch failures
// are logged and skipped.
func (c *Checker) Check(ctx context.Context) []string {
	var alerts []string
	for _, w := range c.watches {
		price, err := c.Fetch(ctx, w.URL, w.Selector)
		if err != nil {
			log.Printf("[price] %s: %v", w.Name, err)
			continue
		}
		if price > w.Target {
			continue
		}

		key := PreferenceKeyPrefix + w.Name
		current := FormatPrice(price)
		last, ok, err := c.store.GetPreference(ctx, key)
		if err != nil {
			log.Printf("[price] %s: read last price: %v", w.Name, err)
			continue
		}
		if ok && last == current {
			continue
		}
		if err := c.store.SetPreference(ctx, key, current); err != nil {
			log.Printf("[price] %s: save last price: %v", w.Name, err)
			continue
		}
		alerts = append(alerts, fmt.Sprintf("💰 %s 降價了！現在 $%s（目標 $%s）\n%s", w.Name, current, FormatPrice(w.Target), w.URL))
	}
	return alerts
}

// Fetch downloads url and parses the first element matching selector as a price.
func (c *Checker) Fetch(ctx context.Context, url, selector string) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; yuki-bot/1.0)")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetch page: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("fetch page: status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("parse page: %w", err)
	}
	sel := doc.Find(selector).First()
	if sel.Length() == 0 {
		return 0, fmt.Errorf("selector %q matched nothing", selector)
	}
	text := strings.TrimSpace(sel.Text())
	if v, ok := sel.Attr("content"); ok && text == "" {
		text = v
	}
	return ParsePrice(text)
}

// ParsePrice extracts the first number in text, ignoring currency symbols
// and thousands separators.
func ParsePrice(text string) (float64, error) {
	m := priceRe.FindString(text)
	if m == "" {
		return 0, fmt.Errorf("no price in %q", text)
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", ""), 64)
	if err != nil {
		return 0, fmt.Errorf("parse price %q: %w", m, err)
	}
	return v, nil
}

func FormatPrice(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
