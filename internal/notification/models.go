package notification

import "time"

// Notice 站内通知
type Notice struct {
	ID       string `json:"id" gorm:"primaryKey;size:36"`
	TenantID string `json:"tenantId" gorm:"size:36;not null;index"`
	UserID   string `json:"userId" gorm:"size:36;not null;index"`

	Title string `json:"title" gorm:"size:255;not null"`
	Body  string `json:"body" gorm:"type:text"`

	Read   bool       `json:"read" gorm:"default:false;index"`
	ReadAt *time.Time `json:"readAt,omitempty"`

	CreatedAt time.Time `json:"createdAt" gorm:"not null;autoCreateTime;index"`
}

func (Notice) TableName() string {
	return "notices"
}

// EmailLog 邮件发送日志
// Provenance 唯一索引承担重复投递去重：同一来源的步骤重试时，
// 已有成功记录则直接跳过发送。
type EmailLog struct {
	ID       string `json:"id" gorm:"primaryKey;size:36"`
	TenantID string `json:"tenant_id" gorm:"size:36;not null;index"`

	ToAddress string `json:"to_address" gorm:"size:255;not null"`
	Subject   string `json:"subject" gorm:"size:500"`

	// Provenance 为空时存 NULL，避免无来源标识的邮件互相撞唯一索引
	Provenance *string `json:"provenance" gorm:"size:64;uniqueIndex"`

	Status       string     `json:"status" gorm:"size:20;index"` // sent, failed
	ErrorMessage string     `json:"error_message" gorm:"type:text"`
	SentAt       *time.Time `json:"sent_at"`

	CreatedAt time.Time `json:"created_at" gorm:"not null;autoCreateTime;index"`
}

func (EmailLog) TableName() string {
	return "email_logs"
}
