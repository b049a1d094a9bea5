package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"backend/internal/automation"
)

// SlackWebhookSender Slack incoming-webhook 投递实现
type SlackWebhookSender struct {
	client *http.Client
}

// NewSlackWebhookSender 创建 Slack 投递器
func NewSlackWebhookSender(timeout time.Duration) *SlackWebhookSender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SlackWebhookSender{
		client: &http.Client{Timeout: timeout},
	}
}

var _ automation.SlackSender = (*SlackWebhookSender)(nil)

// Post 向 Slack incoming webhook 发送文本消息
func (s *SlackWebhookSender) Post(ctx context.Context, webhookURL, text string) error {
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("marshal slack message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post to slack: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned status %d", resp.StatusCode)
	}
	return nil
}
