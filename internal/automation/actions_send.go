package automation

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var templateVarPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.]+)\s*\}\}`)

// renderTemplate 把 {{property}} 占位符替换为上下文属性值。
// 未知属性渲染为空串，事件数据以 event. 前缀访问。
func renderTemplate(tmpl string, actx *Context) string {
	return templateVarPattern.ReplaceAllStringFunc(tmpl, func(match string) string {
		name := strings.TrimSpace(match[2 : len(match)-2])
		if after, ok := strings.CutPrefix(name, "event."); ok {
			if value, ok := actx.Event[after]; ok {
				return fmt.Sprintf("%v", value)
			}
			return ""
		}
		if value, ok := actx.Props[name]; ok && value != nil {
			return fmt.Sprintf("%v", value)
		}
		return ""
	})
}

// resolveRecipient 解析收件人：优先字面量，其次从主体属性读取
func resolveRecipient(settings map[string]any, actx *Context) (string, error) {
	if to := optString(settings, "to"); to != "" {
		return to, nil
	}
	property := optString(settings, "to_property")
	value, ok := actx.Props[property]
	if !ok || value == nil {
		return "", fmt.Errorf("recipient property %q is empty", property)
	}
	return fmt.Sprintf("%v", value), nil
}

// SendEmailAction 发送邮件
// 非幂等：投递去重由发送方按来源标识保证。
type SendEmailAction struct {
	sender EmailSender
}

func (a *SendEmailAction) Kind() string { return ActionSendEmail }

func (a *SendEmailAction) ValidateSettings(raw map[string]any, sourceType string) (map[string]any, error) {
	to := optString(raw, "to")
	toProperty := optString(raw, "to_property")
	if to == "" && toProperty == "" {
		return nil, NewValidationError(a.Kind(), "either %q or %q is required", "to", "to_property")
	}
	subject, err := requireString(a.Kind(), raw, "subject")
	if err != nil {
		return nil, err
	}
	body, err := requireString(a.Kind(), raw, "body")
	if err != nil {
		return nil, err
	}
	validated := map[string]any{"subject": subject, "body": body}
	if to != "" {
		validated["to"] = to
	} else {
		validated["to_property"] = toProperty
	}
	return validated, nil
}

func (a *SendEmailAction) Perform(ctx context.Context, inv StepInvocation) Outcome {
	recipient, err := resolveRecipient(inv.Settings, inv.Context)
	if err != nil {
		return Failed(err.Error())
	}
	msg := EmailMessage{
		To:         recipient,
		Subject:    renderTemplate(inv.Settings["subject"].(string), inv.Context),
		Body:       renderTemplate(inv.Settings["body"].(string), inv.Context),
		Provenance: inv.Provenance(),
	}
	if err := a.sender.Send(ctx, inv.Context.TenantID, msg); err != nil {
		return Failed(fmt.Sprintf("send email to %s failed: %v", recipient, err))
	}
	return Succeeded(fmt.Sprintf("email sent to %s", recipient))
}

// SendNotificationAction 发送站内通知
type SendNotificationAction struct {
	notifier Notifier
}

func (a *SendNotificationAction) Kind() string { return ActionSendNotification }

func (a *SendNotificationAction) ValidateSettings(raw map[string]any, sourceType string) (map[string]any, error) {
	userID, err := requireString(a.Kind(), raw, "user_id")
	if err != nil {
		return nil, err
	}
	title, err := requireString(a.Kind(), raw, "title")
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"user_id": userID,
		"title":   title,
		"body":    optString(raw, "body"),
	}, nil
}

func (a *SendNotificationAction) Perform(ctx context.Context, inv StepInvocation) Outcome {
	userID := inv.Settings["user_id"].(string)
	title := renderTemplate(inv.Settings["title"].(string), inv.Context)
	body := renderTemplate(optString(inv.Settings, "body"), inv.Context)
	if err := a.notifier.Notify(ctx, inv.Context.TenantID, userID, title, body); err != nil {
		return Failed(fmt.Sprintf("notify %s failed: %v", userID, err))
	}
	return Succeeded(fmt.Sprintf("notified %s", userID))
}

// WebhookAction 向外部 URL POST 事件载荷（fire-and-forget）
// 超时控制在发送方实现内，超时以 Failed 上报而不是阻塞 worker。
type WebhookAction struct {
	sender WebhookSender
}

func (a *WebhookAction) Kind() string { return ActionWebhook }

func (a *WebhookAction) ValidateSettings(raw map[string]any, sourceType string) (map[string]any, error) {
	rawURL, err := requireString(a.Kind(), raw, "url")
	if err != nil {
		return nil, err
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, NewValidationError(a.Kind(), "setting %q must be an http(s) URL", "url")
	}
	return map[string]any{"url": rawURL}, nil
}

func (a *WebhookAction) Perform(ctx context.Context, inv StepInvocation) Outcome {
	target := inv.Settings["url"].(string)
	payload := map[string]any{
		"workflow_id":  inv.Context.Workflow.ID,
		"tenant_id":    inv.Context.TenantID,
		"run_id":       inv.RunID,
		"subject_type": inv.Context.Subject.Type,
		"subject_id":   inv.Context.Subject.ID,
		"subject":      inv.Context.Props,
		"event":        inv.Context.Event,
	}
	if err := a.sender.Post(ctx, target, payload); err != nil {
		return Failed(fmt.Sprintf("webhook delivery failed: %v", err))
	}
	return Succeeded("webhook delivered")
}

// SendDocumentAction 渲染并寄送主体对象的单据
type SendDocumentAction struct {
	sender DocumentSender
}

func (a *SendDocumentAction) Kind() string { return ActionSendDocument }

func (a *SendDocumentAction) ValidateSettings(raw map[string]any, sourceType string) (map[string]any, error) {
	if sourceType != ObjectTypeInvoice && sourceType != ObjectTypeQuote {
		return nil, NewValidationError(a.Kind(), "source type %q has no document to send", sourceType)
	}
	to := optString(raw, "to")
	toProperty := optString(raw, "to_property")
	if to == "" && toProperty == "" {
		return nil, NewValidationError(a.Kind(), "either %q or %q is required", "to", "to_property")
	}
	validated := map[string]any{}
	if to != "" {
		validated["to"] = to
	} else {
		validated["to_property"] = toProperty
	}
	return validated, nil
}

func (a *SendDocumentAction) Perform(ctx context.Context, inv StepInvocation) Outcome {
	recipient, err := resolveRecipient(inv.Settings, inv.Context)
	if err != nil {
		return Failed(err.Error())
	}
	if err := a.sender.SendDocument(ctx, inv.Context.TenantID, inv.Context.Subject, recipient); err != nil {
		return Failed(fmt.Sprintf("send document failed: %v", err))
	}
	return Succeeded(fmt.Sprintf("document sent to %s", recipient))
}

// PostToSlackAction 向 Slack incoming webhook 发送消息
type PostToSlackAction struct {
	sender SlackSender
}

func (a *PostToSlackAction) Kind() string { return ActionPostToSlack }

func (a *PostToSlackAction) ValidateSettings(raw map[string]any, sourceType string) (map[string]any, error) {
	webhookURL, err := requireString(a.Kind(), raw, "webhook_url")
	if err != nil {
		return nil, err
	}
	parsed, err := url.Parse(webhookURL)
	if err != nil || !strings.HasPrefix(parsed.Scheme, "http") {
		return nil, NewValidationError(a.Kind(), "setting %q must be an http(s) URL", "webhook_url")
	}
	message, err := requireString(a.Kind(), raw, "message")
	if err != nil {
		return nil, err
	}
	return map[string]any{"webhook_url": webhookURL, "message": message}, nil
}

func (a *PostToSlackAction) Perform(ctx context.Context, inv StepInvocation) Outcome {
	text := renderTemplate(inv.Settings["message"].(string), inv.Context)
	if err := a.sender.Post(ctx, inv.Settings["webhook_url"].(string), text); err != nil {
		return Failed(fmt.Sprintf("slack post failed: %v", err))
	}
	return Succeeded("slack message posted")
}
