// Package fetcher downloads RSS feeds of posts (nitter instances, RSSHub
// routes) and turns their items into reply-queue inputs.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"replybot/internal/links"
)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Fetcher downloads and parses RSS feeds.
type Fetcher struct {
	client  HTTPClient
	timeout time.Duration
}

// New creates a Fetcher with the given HTTP client.
func New(client HTTPClient) *Fetcher {
	return &Fetcher{
		client:  client,
		timeout: 30 * time.Second,
	}
}

// Fetch downloads and parses an RSS feed from the given URL.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*gofeed.Feed, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "ReplyBot/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 5*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	parser := gofeed.NewParser()
	feed, err := parser.ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	return feed, nil
}

// PostInputs converts feed items into queue inputs. Item links are
// canonicalized to x.com; items whose link carries no status path (pinned
// profile links, announcements) are dropped and counted in skipped.
// Feed order is preserved, which for post feeds means newest first.
func PostInputs(items []*gofeed.Item) (inputs []links.Input, skipped int) {
	for _, item := range items {
		link, ok := links.Canonicalize(item.Link)
		if !ok {
			skipped++
			continue
		}
		inputs = append(inputs, links.Input{
			Link:    link,
			Content: itemContent(item),
		})
	}
	return inputs, skipped
}

// itemContent pulls the post text out of an item. Nitter and RSSHub carry
// it in the title; the description is an HTML rendering kept as fallback.
func itemContent(item *gofeed.Item) string {
	if t := strings.TrimSpace(item.Title); t != "" {
		return t
	}
	desc := strings.TrimSpace(item.Description)
	if len(desc) > 300 {
		desc = desc[:300] + "..."
	}
	return desc
}
