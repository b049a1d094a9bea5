package notification

import (
	"context"
	"fmt"
	"strings"

	"backend/internal/automation"
)

// DocumentMailer 单据寄送实现：渲染发票/报价单摘要并通过邮件发出
type DocumentMailer struct {
	store automation.ObjectStore
	email automation.EmailSender
}

// NewDocumentMailer 创建单据寄送器
func NewDocumentMailer(store automation.ObjectStore, email automation.EmailSender) *DocumentMailer {
	return &DocumentMailer{store: store, email: email}
}

var _ automation.DocumentSender = (*DocumentMailer)(nil)

// SendDocument 加载单据并寄送给收件人
func (m *DocumentMailer) SendDocument(ctx context.Context, tenantID string, subject automation.ObjectRef, recipient string) error {
	props, err := m.store.Load(ctx, tenantID, subject)
	if err != nil {
		return fmt.Errorf("load %s %s: %w", subject.Type, subject.ID, err)
	}

	title := fmt.Sprintf("Your %s", subject.Type)
	if number, ok := props["number"].(string); ok && number != "" {
		title = fmt.Sprintf("Your %s %s", subject.Type, number)
	}

	return m.email.Send(ctx, tenantID, automation.EmailMessage{
		To:      recipient,
		Subject: title,
		Body:    renderDocumentBody(subject, props),
	})
}

// renderDocumentBody 渲染单据纯文本正文
func renderDocumentBody(subject automation.ObjectRef, props map[string]any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Document: %s %s\n\n", subject.Type, subject.ID)
	for _, key := range []string{"number", "status", "amount_cents", "currency", "due_date", "valid_until"} {
		if value, ok := props[key]; ok && value != nil {
			fmt.Fprintf(&b, "%s: %v\n", key, value)
		}
	}
	return b.String()
}
