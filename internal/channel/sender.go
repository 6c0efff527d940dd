package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/repliahq/replia/internal/business"
	"github.com/repliahq/replia/internal/logger"
)

// HTTPSender posts outbound messages to the business's channel
// gateway. Long replies are chunked and delivered in order; each
// chunk is retried with linear backoff before giving up.
type HTTPSender struct {
	httpClient *http.Client
	chunkLimit int
	retryMax   int
	backoff    time.Duration
	logger     *slog.Logger
}

func NewHTTPSender(timeout time.Duration, chunkLimit int) *HTTPSender {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if chunkLimit <= 0 {
		chunkLimit = DefaultChunkLimit
	}
	return &HTTPSender{
		httpClient: &http.Client{Timeout: timeout},
		chunkLimit: chunkLimit,
		retryMax:   3,
		backoff:    500 * time.Millisecond,
		logger:     logger.L.With(slog.String("service", "channel-sender")),
	}
}

func (s *HTTPSender) Send(ctx context.Context, cfg *business.ChannelSettings, msg OutboundMessage) error {
	if cfg == nil || strings.TrimSpace(cfg.SendURL) == "" {
		return fmt.Errorf("channel send url is not configured")
	}
	target := strings.TrimSpace(msg.To)
	if target == "" {
		return fmt.Errorf("target is required")
	}
	chunks := ChunkText(msg.Text, s.chunkLimit)
	if len(chunks) == 0 {
		return fmt.Errorf("message is required")
	}
	for _, chunk := range chunks {
		if err := s.sendOne(ctx, cfg, OutboundMessage{To: target, Text: chunk}); err != nil {
			return err
		}
	}
	return nil
}

func (s *HTTPSender) sendOne(ctx context.Context, cfg *business.ChannelSettings, msg OutboundMessage) error {
	var lastErr error
	for i := 0; i < s.retryMax; i++ {
		err := s.post(ctx, cfg, msg)
		if err == nil {
			return nil
		}
		lastErr = err
		s.logger.Warn("send outbound retry",
			slog.String("to", msg.To),
			slog.Int("attempt", i+1),
			slog.Any("error", err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(i+1) * s.backoff):
		}
	}
	return fmt.Errorf("send outbound failed after retries: %w", lastErr)
}

func (s *HTTPSender) post(ctx context.Context, cfg *business.ChannelSettings, msg OutboundMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.SendURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.Token)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("deliver message: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("channel gateway status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return nil
}

var _ Sender = (*HTTPSender)(nil)
