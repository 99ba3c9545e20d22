// Package notify implements outbound alert delivery: an HTTP sender for the
// Feishu custom-bot webhook and a per-destination delivery channel that
// guarantees ordered, rate-limited, at-least-once dispatch with bounded
// retries.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidewatch/futuresmon/internal/domain"
)

// Payload is one webhook wire envelope, e.g.
// {"msg_type": "interactive", "card": {...}}.
type Payload map[string]any

// Sender posts one payload to a destination. An attempt succeeds only if the
// transport call succeeds AND the remote response is structurally valid AND
// carries the application-level ok status.
type Sender interface {
	Post(ctx context.Context, payload Payload) error
}

// FeishuSender delivers payloads to a Feishu custom-bot webhook URL.
type FeishuSender struct {
	url    string
	client *http.Client
}

// NewFeishuSender creates a sender for the given webhook URL. It uses a
// default HTTP client with a 10-second timeout.
func NewFeishuSender(url string) *FeishuSender {
	return &FeishuSender{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Post sends the payload. Feishu signals success with HTTP 2xx plus a JSON
// body whose "code" field is zero; anything else is an error.
func (s *FeishuSender) Post(ctx context.Context, payload Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("feishu: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("feishu: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("feishu: send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("feishu: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Code *int   `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Errorf("feishu: decode response: %w: %s", domain.ErrBadResponse, string(respBody))
	}
	if result.Code == nil || *result.Code != 0 {
		return fmt.Errorf("feishu: %w: code=%v msg=%q", domain.ErrBadResponse, result.Code, result.Msg)
	}
	return nil
}
