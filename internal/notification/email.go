package notification

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"backend/internal/automation"
	"backend/internal/metrics"
)

// EmailConfig SMTP 配置
type EmailConfig struct {
	Host        string
	Port        int
	Username    string
	Password    string
	FromAddress string
	FromName    string
}

// SMTPEmailSender 基于 SMTP 的邮件发送实现
// 按 Provenance 在 email_logs 上去重：至少一次投递下，
// 同一步骤重试不会重复发信。
type SMTPEmailSender struct {
	db     *gorm.DB
	config *EmailConfig
	logger *zap.Logger

	// sendFunc 便于测试替换，默认 smtp.SendMail
	sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPEmailSender 创建邮件发送器
func NewSMTPEmailSender(db *gorm.DB, config *EmailConfig, logger *zap.Logger) *SMTPEmailSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SMTPEmailSender{
		db:       db,
		config:   config,
		logger:   logger,
		sendFunc: smtp.SendMail,
	}
}

var _ automation.EmailSender = (*SMTPEmailSender)(nil)

// Send 发送邮件。同一 Provenance 已成功发送过则直接返回成功。
func (s *SMTPEmailSender) Send(ctx context.Context, tenantID string, msg automation.EmailMessage) error {
	if msg.Provenance != "" {
		var count int64
		err := s.db.WithContext(ctx).Model(&EmailLog{}).
			Where("provenance = ? AND status = ?", msg.Provenance, "sent").
			Count(&count).Error
		if err != nil {
			return fmt.Errorf("check email dedup: %w", err)
		}
		if count > 0 {
			s.logger.Debug("email already sent, skipping",
				zap.String("provenance", msg.Provenance))
			return nil
		}
	}

	sendErr := s.deliver(msg)

	now := time.Now().UTC()
	log := &EmailLog{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		ToAddress: msg.To,
		Subject:   msg.Subject,
		Status:    "sent",
		SentAt:    &now,
	}
	if msg.Provenance != "" {
		log.Provenance = &msg.Provenance
	}
	status := "sent"
	if sendErr != nil {
		status = "failed"
		log.Status = "failed"
		log.ErrorMessage = sendErr.Error()
		log.SentAt = nil
	}
	// 同一 Provenance 先失败后成功时，失败行会占住唯一索引，
	// 因此按 provenance 做 upsert 而不是插入新行
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provenance"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "sent_at", "error_message"}),
	}).Create(log).Error; err != nil {
		s.logger.Error("write email log failed", zap.Error(err))
	}
	metrics.EmailsSentTotal.WithLabelValues(tenantID, status).Inc()

	if sendErr != nil {
		return fmt.Errorf("send email to %s: %w", msg.To, sendErr)
	}
	return nil
}

func (s *SMTPEmailSender) deliver(msg automation.EmailMessage) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	var auth smtp.Auth
	if s.config.Username != "" {
		auth = smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host)
	}

	from := s.config.FromAddress
	headers := []string{
		fmt.Sprintf("From: %s <%s>", s.config.FromName, from),
		fmt.Sprintf("To: %s", msg.To),
		fmt.Sprintf("Subject: %s", msg.Subject),
		"MIME-Version: 1.0",
		`Content-Type: text/plain; charset="UTF-8"`,
	}
	raw := strings.Join(headers, "\r\n") + "\r\n\r\n" + msg.Body

	return s.sendFunc(addr, auth, from, []string{msg.To}, []byte(raw))
}
