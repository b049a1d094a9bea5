package notification

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"backend/internal/automation"
	"backend/internal/metrics"
)

// HTTPWebhookSender Webhook 投递实现
// 单次 HTTP POST，应用层不重试（队列的至少一次投递已覆盖）。
type HTTPWebhookSender struct {
	client *http.Client
	// secret 非空时按 HMAC-SHA256 对请求体签名
	secret string
	logger *zap.Logger
}

// NewHTTPWebhookSender 创建 Webhook 投递器
func NewHTTPWebhookSender(secret string, timeout time.Duration, logger *zap.Logger) *HTTPWebhookSender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPWebhookSender{
		client: &http.Client{Timeout: timeout},
		secret: secret,
		logger: logger,
	}
}

var _ automation.WebhookSender = (*HTTPWebhookSender)(nil)

// Post 投递 Webhook，2xx 之外的响应视为失败
func (s *HTTPWebhookSender) Post(ctx context.Context, url string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "BillFlow-Webhook/1.0")
	if s.secret != "" {
		req.Header.Set("X-Billflow-Signature", s.sign(body))
	}

	tenantID, _ := payload["tenant_id"].(string)

	resp, err := s.client.Do(req)
	if err != nil {
		metrics.WebhookDeliveriesTotal.WithLabelValues(tenantID, "failed").Inc()
		return fmt.Errorf("deliver webhook: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.WebhookDeliveriesTotal.WithLabelValues(tenantID, "failed").Inc()
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	metrics.WebhookDeliveriesTotal.WithLabelValues(tenantID, "succeeded").Inc()
	s.logger.Debug("webhook delivered",
		zap.String("url", url), zap.Int("status", resp.StatusCode))
	return nil
}

// sign 计算请求体的 HMAC-SHA256 签名（hex 编码）
func (s *HTTPWebhookSender) sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(s.secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
