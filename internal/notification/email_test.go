package notification

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"

	"backend/internal/automation"
)

func setupNotificationTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:notification_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("打开 sqlite 失败: %v", err)
	}
	if err := db.AutoMigrate(&Notice{}, &EmailLog{}); err != nil {
		t.Fatalf("迁移 schema 失败: %v", err)
	}
	return db
}

// recordingSend 替换 smtp.SendMail 的测试桩
type recordingSend struct {
	calls int
	to    []string
	msg   []byte
	err   error
}

func (r *recordingSend) send(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
	r.calls++
	r.to = to
	r.msg = msg
	return r.err
}

func newTestEmailSender(t *testing.T, db *gorm.DB, rec *recordingSend) *SMTPEmailSender {
	t.Helper()
	sender := NewSMTPEmailSender(db, &EmailConfig{
		Host:        "smtp.example.com",
		Port:        587,
		FromAddress: "billing@example.com",
		FromName:    "BillFlow",
	}, zaptest.NewLogger(t))
	sender.sendFunc = rec.send
	return sender
}

func TestEmailSendWritesLog(t *testing.T) {
	db := setupNotificationTestDB(t)
	rec := &recordingSend{}
	sender := newTestEmailSender(t, db, rec)

	msg := automation.EmailMessage{
		To:         "client@example.com",
		Subject:    "Invoice INV-001",
		Body:       "Your invoice is ready.",
		Provenance: "run-1:2",
	}
	if err := sender.Send(context.Background(), "tenant-A", msg); err != nil {
		t.Fatalf("发送邮件失败: %v", err)
	}
	if rec.calls != 1 {
		t.Fatalf("应调用一次 SMTP 发送, 实际 %d", rec.calls)
	}
	if len(rec.to) != 1 || rec.to[0] != "client@example.com" {
		t.Fatalf("收件人不正确: %v", rec.to)
	}
	raw := string(rec.msg)
	if !strings.Contains(raw, "Subject: Invoice INV-001") {
		t.Fatalf("邮件头缺少主题: %s", raw)
	}
	if !strings.Contains(raw, "Your invoice is ready.") {
		t.Fatalf("邮件正文缺失: %s", raw)
	}

	var log EmailLog
	if err := db.Where("provenance = ?", "run-1:2").Take(&log).Error; err != nil {
		t.Fatalf("查询邮件日志失败: %v", err)
	}
	if log.Status != "sent" || log.SentAt == nil {
		t.Fatalf("邮件日志状态不正确: %+v", log)
	}
	if log.TenantID != "tenant-A" || log.ToAddress != "client@example.com" {
		t.Fatalf("邮件日志字段不正确: %+v", log)
	}
}

func TestEmailSendDedupsByProvenance(t *testing.T) {
	db := setupNotificationTestDB(t)
	rec := &recordingSend{}
	sender := newTestEmailSender(t, db, rec)

	msg := automation.EmailMessage{
		To:         "client@example.com",
		Subject:    "Invoice INV-001",
		Body:       "Your invoice is ready.",
		Provenance: "run-1:2",
	}
	if err := sender.Send(context.Background(), "tenant-A", msg); err != nil {
		t.Fatalf("首次发送失败: %v", err)
	}
	if err := sender.Send(context.Background(), "tenant-A", msg); err != nil {
		t.Fatalf("重复投递应直接成功: %v", err)
	}
	if rec.calls != 1 {
		t.Fatalf("重复投递不应再次发信, 实际调用 %d 次", rec.calls)
	}

	var count int64
	db.Model(&EmailLog{}).Count(&count)
	if count != 1 {
		t.Fatalf("应只有一条邮件日志, 实际 %d", count)
	}
}

func TestEmailSendFailureLogsAndRetries(t *testing.T) {
	db := setupNotificationTestDB(t)
	rec := &recordingSend{err: errors.New("connection refused")}
	sender := newTestEmailSender(t, db, rec)

	msg := automation.EmailMessage{
		To:         "client@example.com",
		Subject:    "Invoice INV-001",
		Body:       "Your invoice is ready.",
		Provenance: "run-2:1",
	}
	if err := sender.Send(context.Background(), "tenant-A", msg); err == nil {
		t.Fatal("SMTP 失败应返回错误")
	}

	var log EmailLog
	if err := db.Where("provenance = ?", "run-2:1").Take(&log).Error; err != nil {
		t.Fatalf("查询失败日志失败: %v", err)
	}
	if log.Status != "failed" || log.SentAt != nil {
		t.Fatalf("失败日志状态不正确: %+v", log)
	}
	if !strings.Contains(log.ErrorMessage, "connection refused") {
		t.Fatalf("失败日志缺少错误信息: %s", log.ErrorMessage)
	}
}

// 失败行不能占住唯一索引：先失败、后成功、再重复投递，
// 成功行必须落库且去重继续生效
func TestEmailSendDedupsAfterFailedAttempt(t *testing.T) {
	db := setupNotificationTestDB(t)
	rec := &recordingSend{err: errors.New("connection refused")}
	sender := newTestEmailSender(t, db, rec)

	msg := automation.EmailMessage{
		To:         "client@example.com",
		Subject:    "Invoice INV-001",
		Body:       "Your invoice is ready.",
		Provenance: "run-3:1",
	}
	if err := sender.Send(context.Background(), "tenant-A", msg); err == nil {
		t.Fatal("SMTP 失败应返回错误")
	}

	rec.err = nil
	if err := sender.Send(context.Background(), "tenant-A", msg); err != nil {
		t.Fatalf("恢复后发送失败: %v", err)
	}
	if err := sender.Send(context.Background(), "tenant-A", msg); err != nil {
		t.Fatalf("重复投递应直接成功: %v", err)
	}

	if rec.calls != 2 {
		t.Fatalf("期望发信 2 次(1 次失败 + 1 次成功), 实际 %d", rec.calls)
	}
	var count int64
	db.Model(&EmailLog{}).Where("provenance = ?", "run-3:1").Count(&count)
	if count != 1 {
		t.Fatalf("同一 Provenance 应只有一条日志, 实际 %d", count)
	}
	var log EmailLog
	db.Where("provenance = ?", "run-3:1").Take(&log)
	if log.Status != "sent" || log.SentAt == nil {
		t.Fatalf("失败行应被成功结果覆盖: %+v", log)
	}
	if log.ErrorMessage != "" {
		t.Fatalf("成功后应清除错误信息: %s", log.ErrorMessage)
	}
}

func TestEmailSendWithoutProvenanceAlwaysDelivers(t *testing.T) {
	db := setupNotificationTestDB(t)
	rec := &recordingSend{}
	sender := newTestEmailSender(t, db, rec)

	msg := automation.EmailMessage{To: "client@example.com", Subject: "hi", Body: "hello"}
	for i := 0; i < 2; i++ {
		if err := sender.Send(context.Background(), "tenant-A", msg); err != nil {
			t.Fatalf("第 %d 次发送失败: %v", i+1, err)
		}
	}
	if rec.calls != 2 {
		t.Fatalf("无 Provenance 的邮件不参与去重, 期望发送 2 次, 实际 %d", rec.calls)
	}
}
