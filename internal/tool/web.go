package tool

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/roswellcsy/NiBot/internal/domain"
)

const (
	defaultFetchTimeout  = 30
	defaultFetchMaxBytes = 1 << 20
)

// WebFetchTool downloads a URL and returns its text content.
type WebFetchTool struct {
	client   *http.Client
	maxBytes int64
}

type WebFetchConfig struct {
	TimeoutSeconds int
	MaxBytes       int
}

func NewWebFetchTool(cfg WebFetchConfig) *WebFetchTool {
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = defaultFetchTimeout
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaultFetchMaxBytes
	}
	return &WebFetchTool{
		client:   &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		maxBytes: int64(cfg.MaxBytes),
	}
}

func (t *WebFetchTool) Name() string { return "web_fetch" }
func (t *WebFetchTool) Description() string {
	return "Fetch the content of a URL. Returns the page text with HTML markup stripped."
}
func (t *WebFetchTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"url": {Type: "string", Description: "The URL to fetch (http or https)"},
		},
		[]string{"url"},
	)
}

func (t *WebFetchTool) Execute(ctx context.Context, args map[string]any, tc domain.ToolContext) (string, error) {
	rawURL := strings.TrimSpace(ArgsString(args, "url"))
	if rawURL == "" {
		return "", fmt.Errorf("missing argument: url")
	}
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return "", fmt.Errorf("unsupported URL scheme: %s", rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "NiBot/1.0")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch: HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBytes))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}

	text := string(body)
	if strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
		text = stripHTMLTags(text)
	}
	return strings.TrimSpace(text), nil
}

var (
	scriptPattern = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</\w+>`)
	tagPattern    = regexp.MustCompile(`<[^>]+>`)
	spacePattern  = regexp.MustCompile(`\n{3,}`)
)

func stripHTMLTags(s string) string {
	s = scriptPattern.ReplaceAllString(s, "")
	s = tagPattern.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "&nbsp;", " ")
	s = strings.ReplaceAll(s, "&amp;", "&")
	s = strings.ReplaceAll(s, "&lt;", "<")
	s = strings.ReplaceAll(s, "&gt;", ">")
	return spacePattern.ReplaceAllString(s, "\n\n")
}

var _ domain.Tool = (*WebFetchTool)(nil)
