package billing

import "time"

// 发票状态
const (
	InvoiceStatusDraft     = "draft"
	InvoiceStatusSent      = "sent"
	InvoiceStatusPaid      = "paid"
	InvoiceStatusOverdue   = "overdue"
	InvoiceStatusCancelled = "cancelled"
)

// 报价单状态
const (
	QuoteStatusDraft    = "draft"
	QuoteStatusSent     = "sent"
	QuoteStatusAccepted = "accepted"
	QuoteStatusDeclined = "declined"
	QuoteStatusExpired  = "expired"
)

// 客户状态
const (
	ClientStatusActive   = "active"
	ClientStatusArchived = "archived"
)

// Invoice 发票
// Provenance 记录由自动化创建时的来源标识（run:position），
// 重复投递时用于识别已创建的对象。
type Invoice struct {
	ID       string `json:"id" gorm:"primaryKey;size:36"`
	TenantID string `json:"tenantId" gorm:"size:36;not null;index"`
	ClientID string `json:"clientId" gorm:"size:36;index"`

	Number      string `json:"number" gorm:"size:50;index"`
	Status      string `json:"status" gorm:"size:20;not null;default:draft;index"`
	AmountCents int64  `json:"amountCents" gorm:"not null;default:0"`
	Currency    string `json:"currency" gorm:"size:3;not null;default:USD"`
	Memo        string `json:"memo,omitempty" gorm:"type:text"`

	DueDate *time.Time `json:"dueDate,omitempty" gorm:"index"`
	SentAt  *time.Time `json:"sentAt,omitempty"`
	PaidAt  *time.Time `json:"paidAt,omitempty"`

	Provenance string `json:"-" gorm:"size:64;index"`

	CreatedAt time.Time  `json:"createdAt" gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time  `json:"updatedAt" gorm:"not null;autoUpdateTime"`
	DeletedAt *time.Time `json:"deletedAt,omitempty" gorm:"index"`
}

// Quote 报价单
type Quote struct {
	ID       string `json:"id" gorm:"primaryKey;size:36"`
	TenantID string `json:"tenantId" gorm:"size:36;not null;index"`
	ClientID string `json:"clientId" gorm:"size:36;index"`

	Number      string `json:"number" gorm:"size:50;index"`
	Status      string `json:"status" gorm:"size:20;not null;default:draft;index"`
	AmountCents int64  `json:"amountCents" gorm:"not null;default:0"`
	Currency    string `json:"currency" gorm:"size:3;not null;default:USD"`
	Memo        string `json:"memo,omitempty" gorm:"type:text"`

	ValidUntil *time.Time `json:"validUntil,omitempty" gorm:"index"`

	Provenance string `json:"-" gorm:"size:64;index"`

	CreatedAt time.Time  `json:"createdAt" gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time  `json:"updatedAt" gorm:"not null;autoUpdateTime"`
	DeletedAt *time.Time `json:"deletedAt,omitempty" gorm:"index"`
}

// Payment 支付记录
type Payment struct {
	ID        string `json:"id" gorm:"primaryKey;size:36"`
	TenantID  string `json:"tenantId" gorm:"size:36;not null;index"`
	InvoiceID string `json:"invoiceId" gorm:"size:36;not null;index"`

	AmountCents int64  `json:"amountCents" gorm:"not null"`
	Method      string `json:"method" gorm:"size:30"`
	Status      string `json:"status" gorm:"size:20;not null;default:completed"`
	Memo        string `json:"memo,omitempty" gorm:"type:text"`

	ReceivedAt time.Time `json:"receivedAt" gorm:"not null"`

	Provenance string `json:"-" gorm:"size:64;index"`

	CreatedAt time.Time  `json:"createdAt" gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time  `json:"updatedAt" gorm:"not null;autoUpdateTime"`
	DeletedAt *time.Time `json:"deletedAt,omitempty" gorm:"index"`
}

// Client 客户
type Client struct {
	ID       string `json:"id" gorm:"primaryKey;size:36"`
	TenantID string `json:"tenantId" gorm:"size:36;not null;index"`

	Name    string `json:"name" gorm:"size:255;not null"`
	Email   string `json:"email" gorm:"size:255;index"`
	Phone   string `json:"phone,omitempty" gorm:"size:50"`
	Company string `json:"company,omitempty" gorm:"size:255"`
	Status  string `json:"status" gorm:"size:20;not null;default:active;index"`

	Provenance string `json:"-" gorm:"size:64;index"`

	CreatedAt time.Time  `json:"createdAt" gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time  `json:"updatedAt" gorm:"not null;autoUpdateTime"`
	DeletedAt *time.Time `json:"deletedAt,omitempty" gorm:"index"`
}

// Note 备注，可挂在任意业务对象上
type Note struct {
	ID       string `json:"id" gorm:"primaryKey;size:36"`
	TenantID string `json:"tenantId" gorm:"size:36;not null;index"`

	SubjectType string `json:"subjectType" gorm:"size:50;not null;index"`
	SubjectID   string `json:"subjectId" gorm:"size:36;not null;index"`
	Body        string `json:"body" gorm:"type:text;not null"`

	Provenance string `json:"-" gorm:"size:64;index"`

	CreatedAt time.Time  `json:"createdAt" gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time  `json:"updatedAt" gorm:"not null;autoUpdateTime"`
	DeletedAt *time.Time `json:"deletedAt,omitempty" gorm:"index"`
}

func (Invoice) TableName() string { return "invoices" }
func (Quote) TableName() string   { return "quotes" }
func (Payment) TableName() string { return "payments" }
func (Client) TableName() string  { return "clients" }
func (Note) TableName() string    { return "notes" }
