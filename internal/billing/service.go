package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"backend/internal/automation"
	"backend/internal/common"
)

// EventDispatcher 领域事件派发入口
// 业务操作在请求路径内同步派发，匹配命中的工作流入队异步执行。
type EventDispatcher interface {
	Dispatch(ctx context.Context, event automation.Event) int
}

// Service 计费业务服务，状态变更时派发领域事件
type Service struct {
	db         *gorm.DB
	dispatcher EventDispatcher
	logger     *zap.Logger
}

// NewService 创建计费服务
func NewService(db *gorm.DB, dispatcher EventDispatcher, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: db, dispatcher: dispatcher, logger: logger}
}

// CreateClientRequest 创建客户请求
type CreateClientRequest struct {
	Name    string `json:"name" binding:"required"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Company string `json:"company"`
}

// CreateClient 创建客户并派发 client_created 事件
func (s *Service) CreateClient(ctx context.Context, tenantID string, req *CreateClientRequest) (*Client, error) {
	client := &Client{
		ID:       uuid.New().String(),
		TenantID: tenantID,
		Name:     req.Name,
		Email:    req.Email,
		Phone:    req.Phone,
		Company:  req.Company,
		Status:   ClientStatusActive,
	}
	if err := s.db.WithContext(ctx).Create(client).Error; err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}

	s.dispatcher.Dispatch(ctx, automation.NewEvent(automation.EventClientCreated, tenantID, client.ID, map[string]any{
		"name":  client.Name,
		"email": client.Email,
	}))
	return client, nil
}

// CreateInvoiceRequest 创建发票请求
type CreateInvoiceRequest struct {
	ClientID    string     `json:"clientId" binding:"required"`
	Number      string     `json:"number"`
	AmountCents int64      `json:"amountCents" binding:"required,gt=0"`
	Currency    string     `json:"currency"`
	DueDate     *time.Time `json:"dueDate"`
	Memo        string     `json:"memo"`
}

// CreateInvoice 创建发票（草稿）并派发 invoice_created 事件
func (s *Service) CreateInvoice(ctx context.Context, tenantID string, req *CreateInvoiceRequest) (*Invoice, error) {
	currency := req.Currency
	if currency == "" {
		currency = "USD"
	}
	invoice := &Invoice{
		ID:          uuid.New().String(),
		TenantID:    tenantID,
		ClientID:    req.ClientID,
		Number:      req.Number,
		Status:      InvoiceStatusDraft,
		AmountCents: req.AmountCents,
		Currency:    currency,
		DueDate:     req.DueDate,
		Memo:        req.Memo,
	}
	if err := s.db.WithContext(ctx).Create(invoice).Error; err != nil {
		return nil, fmt.Errorf("create invoice: %w", err)
	}

	s.dispatcher.Dispatch(ctx, automation.NewEvent(automation.EventInvoiceCreated, tenantID, invoice.ID, map[string]any{
		"client_id":    invoice.ClientID,
		"amount_cents": invoice.AmountCents,
		"currency":     invoice.Currency,
	}))
	return invoice, nil
}

// SendInvoice 发出发票并派发 invoice_sent 事件
func (s *Service) SendInvoice(ctx context.Context, tenantID, invoiceID string) (*Invoice, error) {
	invoice, err := s.loadInvoice(ctx, tenantID, invoiceID)
	if err != nil {
		return nil, err
	}
	if invoice.Status != InvoiceStatusDraft {
		return nil, fmt.Errorf("invoice %s is %s, only draft invoices can be sent", invoiceID, invoice.Status)
	}

	now := time.Now().UTC()
	updates := map[string]any{"status": InvoiceStatusSent, "sent_at": now}
	if err := s.db.WithContext(ctx).Model(invoice).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("send invoice: %w", err)
	}
	invoice.Status = InvoiceStatusSent
	invoice.SentAt = &now

	s.dispatcher.Dispatch(ctx, automation.NewEvent(automation.EventInvoiceSent, tenantID, invoice.ID, map[string]any{
		"client_id":    invoice.ClientID,
		"amount_cents": invoice.AmountCents,
	}))
	return invoice, nil
}

// RecordPaymentRequest 登记支付请求
type RecordPaymentRequest struct {
	InvoiceID   string `json:"invoiceId" binding:"required"`
	AmountCents int64  `json:"amountCents" binding:"required,gt=0"`
	Method      string `json:"method"`
	Memo        string `json:"memo"`
}

// RecordPayment 登记支付：创建支付记录、结清发票，
// 依次派发 payment_received 与 invoice_paid 事件。
func (s *Service) RecordPayment(ctx context.Context, tenantID string, req *RecordPaymentRequest) (*Payment, error) {
	invoice, err := s.loadInvoice(ctx, tenantID, req.InvoiceID)
	if err != nil {
		return nil, err
	}
	if invoice.Status == InvoiceStatusPaid {
		return nil, fmt.Errorf("invoice %s is already paid", invoice.ID)
	}

	now := time.Now().UTC()
	payment := &Payment{
		ID:          uuid.New().String(),
		TenantID:    tenantID,
		InvoiceID:   invoice.ID,
		AmountCents: req.AmountCents,
		Method:      req.Method,
		Status:      "completed",
		Memo:        req.Memo,
		ReceivedAt:  now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(payment).Error; err != nil {
			return fmt.Errorf("create payment: %w", err)
		}
		return tx.Model(invoice).Updates(map[string]any{
			"status":  InvoiceStatusPaid,
			"paid_at": now,
		}).Error
	})
	if err != nil {
		return nil, err
	}

	s.dispatcher.Dispatch(ctx, automation.NewEvent(automation.EventPaymentReceived, tenantID, payment.ID, map[string]any{
		"invoice_id":   invoice.ID,
		"amount_cents": payment.AmountCents,
		"method":       payment.Method,
	}))
	s.dispatcher.Dispatch(ctx, automation.NewEvent(automation.EventInvoicePaid, tenantID, invoice.ID, map[string]any{
		"client_id":    invoice.ClientID,
		"amount_cents": invoice.AmountCents,
	}))
	return payment, nil
}

// CreateQuoteRequest 创建报价单请求
type CreateQuoteRequest struct {
	ClientID    string     `json:"clientId" binding:"required"`
	Number      string     `json:"number"`
	AmountCents int64      `json:"amountCents" binding:"required,gt=0"`
	Currency    string     `json:"currency"`
	ValidUntil  *time.Time `json:"validUntil"`
	Memo        string     `json:"memo"`
}

// CreateQuote 创建报价单（草稿）
func (s *Service) CreateQuote(ctx context.Context, tenantID string, req *CreateQuoteRequest) (*Quote, error) {
	currency := req.Currency
	if currency == "" {
		currency = "USD"
	}
	quote := &Quote{
		ID:          uuid.New().String(),
		TenantID:    tenantID,
		ClientID:    req.ClientID,
		Number:      req.Number,
		Status:      QuoteStatusDraft,
		AmountCents: req.AmountCents,
		Currency:    currency,
		ValidUntil:  req.ValidUntil,
		Memo:        req.Memo,
	}
	if err := s.db.WithContext(ctx).Create(quote).Error; err != nil {
		return nil, fmt.Errorf("create quote: %w", err)
	}
	return quote, nil
}

// AcceptQuote 客户接受报价单，派发 quote_accepted 事件
func (s *Service) AcceptQuote(ctx context.Context, tenantID, quoteID string) (*Quote, error) {
	var quote Quote
	err := s.db.WithContext(ctx).
		Scopes(common.ByTenant(tenantID), common.NotDeleted()).
		Where("id = ?", quoteID).
		First(&quote).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("quote %s not found", quoteID)
		}
		return nil, fmt.Errorf("load quote: %w", err)
	}
	if quote.Status == QuoteStatusAccepted {
		return &quote, nil
	}

	if err := s.db.WithContext(ctx).Model(&quote).Update("status", QuoteStatusAccepted).Error; err != nil {
		return nil, fmt.Errorf("accept quote: %w", err)
	}
	quote.Status = QuoteStatusAccepted

	s.dispatcher.Dispatch(ctx, automation.NewEvent(automation.EventQuoteAccepted, tenantID, quote.ID, map[string]any{
		"client_id":    quote.ClientID,
		"amount_cents": quote.AmountCents,
	}))
	return &quote, nil
}

// SweepOverdueInvoices 将逾期未付的发票标记为 overdue，
// 逐张派发 invoice_overdue 事件。由定时任务周期调用。
func (s *Service) SweepOverdueInvoices(ctx context.Context, tenantID string) (int, error) {
	now := time.Now().UTC()

	var invoices []*Invoice
	err := s.db.WithContext(ctx).
		Scopes(common.ByTenant(tenantID), common.NotDeleted()).
		Where("status = ? AND due_date < ?", InvoiceStatusSent, now).
		Find(&invoices).Error
	if err != nil {
		return 0, fmt.Errorf("find overdue invoices: %w", err)
	}

	marked := 0
	for _, invoice := range invoices {
		if err := s.db.WithContext(ctx).Model(invoice).Update("status", InvoiceStatusOverdue).Error; err != nil {
			s.logger.Error("mark invoice overdue failed",
				zap.String("invoice_id", invoice.ID), zap.Error(err))
			continue
		}
		marked++
		s.dispatcher.Dispatch(ctx, automation.NewEvent(automation.EventInvoiceOverdue, tenantID, invoice.ID, map[string]any{
			"client_id":    invoice.ClientID,
			"amount_cents": invoice.AmountCents,
			"due_date":     invoice.DueDate,
		}))
	}
	return marked, nil
}

// GetInvoice 查询发票
func (s *Service) GetInvoice(ctx context.Context, tenantID, invoiceID string) (*Invoice, error) {
	return s.loadInvoice(ctx, tenantID, invoiceID)
}

// ListInvoices 查询租户发票列表，status 为空时不过滤状态
func (s *Service) ListInvoices(ctx context.Context, tenantID, status string, page, pageSize int) ([]*Invoice, int64, error) {
	pagination := common.PaginationRequest{Page: page, PageSize: pageSize}
	query := s.db.WithContext(ctx).Model(&Invoice{}).
		Scopes(common.ByTenant(tenantID), common.NotDeleted())
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count invoices: %w", err)
	}

	var invoices []*Invoice
	err := query.Order("created_at DESC").
		Offset(pagination.GetOffset()).
		Limit(pagination.GetPageSize()).
		Find(&invoices).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list invoices: %w", err)
	}
	return invoices, total, nil
}

func (s *Service) loadInvoice(ctx context.Context, tenantID, invoiceID string) (*Invoice, error) {
	var invoice Invoice
	err := s.db.WithContext(ctx).
		Scopes(common.ByTenant(tenantID), common.NotDeleted()).
		Where("id = ?", invoiceID).
		First(&invoice).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("invoice %s not found", invoiceID)
		}
		return nil, fmt.Errorf("load invoice: %w", err)
	}
	return &invoice, nil
}
