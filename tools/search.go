package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"
)

// maxFetchChars caps search output added to the dialogue history.
const maxFetchChars = 8000

// Search fetches a URL and extracts its readable text content. HTML pages go
// through readability extraction; other content types are returned as plain
// text.
type Search struct {
	client *http.Client
}

// NewSearch creates the tool. A nil client gets a 15-second-timeout default.
func NewSearch(client *http.Client) *Search {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Search{client: client}
}

// Fetch downloads rawURL and extracts readable text.
func (s *Search) Fetch(ctx context.Context, rawURL string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("search needs an absolute URL, got %q", rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; tiller/1.0)")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}

	content := string(body)
	if strings.Contains(resp.Header.Get("Content-Type"), "html") {
		article, err := readability.FromReader(strings.NewReader(content), parsed)
		if err == nil && strings.TrimSpace(article.TextContent) != "" {
			content = article.TextContent
		}
	}

	content = strings.TrimSpace(content)
	if len(content) > maxFetchChars {
		content = content[:maxFetchChars] + "\n... (truncated)"
	}
	return content, nil
}
