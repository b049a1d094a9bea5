package automation

import "context"

// 发送类动作依赖的协作者接口。引擎只关心成功/失败，
// 投递机制由 internal/notification 的实现负责。

// EmailMessage 邮件内容
type EmailMessage struct {
	To      string
	Subject string
	Body    string
	// Provenance 步骤来源标识，实现方据此去重（至少一次投递）
	Provenance string
}

// EmailSender 邮件发送能力
type EmailSender interface {
	Send(ctx context.Context, tenantID string, msg EmailMessage) error
}

// WebhookSender Webhook 投递能力（fire-and-forget HTTP POST）
type WebhookSender interface {
	Post(ctx context.Context, url string, payload map[string]any) error
}

// SlackSender Slack incoming-webhook 投递能力
type SlackSender interface {
	Post(ctx context.Context, webhookURL, text string) error
}

// Notifier 站内通知能力
type Notifier interface {
	Notify(ctx context.Context, tenantID, userID, title, body string) error
}

// DocumentSender 单据寄送能力（渲染并投递 invoice/quote 文档）
type DocumentSender interface {
	SendDocument(ctx context.Context, tenantID string, subject ObjectRef, recipient string) error
}
