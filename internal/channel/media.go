package channel

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/repliahq/replia/internal/business"
	"github.com/repliahq/replia/internal/normalize"
)

const maxMediaBytes = 25 << 20

// MediaClient resolves and downloads channel media referenced by
// inbound messages.
type MediaClient struct {
	httpClient *http.Client
}

func NewMediaClient(timeout time.Duration) *MediaClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &MediaClient{httpClient: &http.Client{Timeout: timeout}}
}

func (c *MediaClient) Fetch(ctx context.Context, cfg *business.Config, mediaRef string) ([]byte, string, error) {
	mediaURL, err := c.ResolveURL(ctx, cfg, mediaRef)
	if err != nil {
		return nil, "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	if cfg.Channel != nil && cfg.Channel.Token != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.Channel.Token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download media: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("media status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes))
	if err != nil {
		return nil, "", fmt.Errorf("read media: %w", err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// ResolveURL turns a channel media reference into a fetchable URL.
// Absolute references pass through untouched.
func (c *MediaClient) ResolveURL(ctx context.Context, cfg *business.Config, mediaRef string) (string, error) {
	ref := strings.TrimSpace(mediaRef)
	if ref == "" {
		return "", fmt.Errorf("media reference is required")
	}
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref, nil
	}
	if cfg.Channel == nil || strings.TrimSpace(cfg.Channel.MediaURL) == "" {
		return "", fmt.Errorf("channel media url is not configured")
	}
	base := strings.TrimRight(cfg.Channel.MediaURL, "/")
	return base + "/" + url.PathEscape(ref), nil
}

var _ normalize.MediaFetcher = (*MediaClient)(nil)
