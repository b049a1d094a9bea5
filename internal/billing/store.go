package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"backend/internal/automation"
	"backend/internal/common"
)

// objectTable 一种业务对象在存储层的描述
type objectTable struct {
	table  string
	schema automation.ObjectSchema
}

// objectTables 对象类型 → 表与属性表
// 属性键即列名；Writable=false 的属性只读（不可被自动化动作改写）。
var objectTables = map[string]objectTable{
	automation.ObjectTypeInvoice: {
		table: Invoice{}.TableName(),
		schema: automation.ObjectSchema{
			"number":       {Writable: false},
			"client_id":    {Writable: false},
			"status":       {Writable: true},
			"amount_cents": {Writable: true},
			"currency":     {Writable: true},
			"memo":         {Writable: true},
			"due_date":     {Writable: true},
			"sent_at":      {Writable: true},
			"paid_at":      {Writable: true},
		},
	},
	automation.ObjectTypeQuote: {
		table: Quote{}.TableName(),
		schema: automation.ObjectSchema{
			"number":       {Writable: false},
			"client_id":    {Writable: false},
			"status":       {Writable: true},
			"amount_cents": {Writable: true},
			"currency":     {Writable: true},
			"memo":         {Writable: true},
			"valid_until":  {Writable: true},
		},
	},
	automation.ObjectTypePayment: {
		table: Payment{}.TableName(),
		schema: automation.ObjectSchema{
			"invoice_id":   {Writable: false},
			"amount_cents": {Writable: false},
			"method":       {Writable: false},
			"received_at":  {Writable: false},
			"status":       {Writable: true},
			"memo":         {Writable: true},
		},
	},
	automation.ObjectTypeClient: {
		table: Client{}.TableName(),
		schema: automation.ObjectSchema{
			"name":    {Writable: true},
			"email":   {Writable: true},
			"phone":   {Writable: true},
			"company": {Writable: true},
			"status":  {Writable: true},
		},
	},
	automation.ObjectTypeNote: {
		table: Note{}.TableName(),
		schema: automation.ObjectSchema{
			"subject_type": {Writable: true},
			"subject_id":   {Writable: true},
			"body":         {Writable: true},
		},
	},
}

// 定时触发器可用的目标查询标识
const (
	QueryOverdueInvoices = "overdue_invoices"
	QueryUnpaidInvoices  = "unpaid_invoices"
	QueryDraftInvoices   = "draft_invoices"
	QueryExpiringQuotes  = "expiring_quotes"
	QueryActiveClients   = "active_clients"
)

// Store 基于 gorm 的业务对象存取层，实现 automation.ObjectStore。
// 所有查询强制带 tenant_id 条件，软删除对象对引擎不可见。
type Store struct {
	db *gorm.DB
}

// NewStore 创建业务对象存取层
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

var _ automation.ObjectStore = (*Store)(nil)

// Schema 返回对象类型的属性表
func (s *Store) Schema(objectType string) (automation.ObjectSchema, error) {
	t, ok := objectTables[objectType]
	if !ok {
		return nil, fmt.Errorf("unknown object type %q", objectType)
	}
	return t.schema, nil
}

// Load 加载对象属性快照，按属性表过滤内部列
func (s *Store) Load(ctx context.Context, tenantID string, ref automation.ObjectRef) (map[string]any, error) {
	t, ok := objectTables[ref.Type]
	if !ok {
		return nil, fmt.Errorf("unknown object type %q", ref.Type)
	}

	var row map[string]any
	err := s.db.WithContext(ctx).Table(t.table).
		Where("id = ? AND tenant_id = ? AND deleted_at IS NULL", ref.ID, tenantID).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, automation.ErrObjectNotFound
		}
		return nil, fmt.Errorf("load %s %s: %w", ref.Type, ref.ID, err)
	}

	props := make(map[string]any, len(t.schema))
	for key := range t.schema {
		props[key] = row[key]
	}
	return props, nil
}

// Update 写回部分属性，拒绝未知或只读属性
func (s *Store) Update(ctx context.Context, tenantID string, ref automation.ObjectRef, props map[string]any) error {
	t, ok := objectTables[ref.Type]
	if !ok {
		return fmt.Errorf("unknown object type %q", ref.Type)
	}

	updates := make(map[string]any, len(props)+1)
	for key, value := range props {
		if !t.schema.WritableProperty(key) {
			return fmt.Errorf("property %q of %s is not writable", key, ref.Type)
		}
		updates[key] = value
	}
	if len(updates) == 0 {
		return nil
	}
	updates["updated_at"] = time.Now().UTC()

	result := s.db.WithContext(ctx).Table(t.table).
		Where("id = ? AND tenant_id = ? AND deleted_at IS NULL", ref.ID, tenantID).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("update %s %s: %w", ref.Type, ref.ID, result.Error)
	}
	if result.RowsAffected == 0 {
		return automation.ErrObjectNotFound
	}
	return nil
}

// Create 创建对象并记录来源标识
func (s *Store) Create(ctx context.Context, tenantID, objectType string, props map[string]any, provenance string) (string, error) {
	t, ok := objectTables[objectType]
	if !ok {
		return "", fmt.Errorf("unknown object type %q", objectType)
	}

	now := time.Now().UTC()
	row := map[string]any{
		"id":         uuid.New().String(),
		"tenant_id":  tenantID,
		"provenance": provenance,
		"created_at": now,
		"updated_at": now,
	}
	for key, value := range props {
		if !t.schema.Has(key) {
			return "", fmt.Errorf("unknown property %q of %s", key, objectType)
		}
		row[key] = value
	}

	if err := s.db.WithContext(ctx).Table(t.table).Create(&row).Error; err != nil {
		return "", fmt.Errorf("create %s: %w", objectType, err)
	}
	return row["id"].(string), nil
}

// ExistsByProvenance 指定来源创建的对象是否已存在
func (s *Store) ExistsByProvenance(ctx context.Context, tenantID, objectType, provenance string) (bool, error) {
	t, ok := objectTables[objectType]
	if !ok {
		return false, fmt.Errorf("unknown object type %q", objectType)
	}
	var count int64
	err := s.db.WithContext(ctx).Table(t.table).
		Where("tenant_id = ? AND provenance = ?", tenantID, provenance).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("check provenance: %w", err)
	}
	return count > 0, nil
}

// Delete 软删除对象
func (s *Store) Delete(ctx context.Context, tenantID string, ref automation.ObjectRef) error {
	t, ok := objectTables[ref.Type]
	if !ok {
		return fmt.Errorf("unknown object type %q", ref.Type)
	}
	result := s.db.WithContext(ctx).Table(t.table).
		Where("id = ? AND tenant_id = ? AND deleted_at IS NULL", ref.ID, tenantID).
		Update("deleted_at", time.Now().UTC())
	if result.Error != nil {
		return fmt.Errorf("delete %s %s: %w", ref.Type, ref.ID, result.Error)
	}
	if result.RowsAffected == 0 {
		return automation.ErrObjectNotFound
	}
	return nil
}

// QueryTargets 定时触发的目标查询，在到期时刻重新求值
func (s *Store) QueryTargets(ctx context.Context, tenantID, query string) ([]automation.ObjectRef, error) {
	now := time.Now().UTC()

	switch query {
	case QueryOverdueInvoices:
		return s.collectIDs(ctx, automation.ObjectTypeInvoice, s.db.WithContext(ctx).Model(&Invoice{}).
			Where("tenant_id = ? AND deleted_at IS NULL", tenantID).
			Where("status IN ?", []string{InvoiceStatusSent, InvoiceStatusOverdue}).
			Where("due_date < ?", now))

	case QueryUnpaidInvoices:
		return s.collectIDs(ctx, automation.ObjectTypeInvoice, s.db.WithContext(ctx).Model(&Invoice{}).
			Where("tenant_id = ? AND deleted_at IS NULL", tenantID).
			Where("status IN ?", []string{InvoiceStatusSent, InvoiceStatusOverdue}))

	case QueryDraftInvoices:
		return s.collectIDs(ctx, automation.ObjectTypeInvoice, s.db.WithContext(ctx).Model(&Invoice{}).
			Where("tenant_id = ? AND deleted_at IS NULL AND status = ?", tenantID, InvoiceStatusDraft))

	case QueryExpiringQuotes:
		return s.collectIDs(ctx, automation.ObjectTypeQuote, s.db.WithContext(ctx).Model(&Quote{}).
			Where("tenant_id = ? AND deleted_at IS NULL AND status = ?", tenantID, QuoteStatusSent).
			Where("valid_until < ?", now.Add(7*24*time.Hour)))

	case QueryActiveClients:
		return s.collectIDs(ctx, automation.ObjectTypeClient, s.db.WithContext(ctx).Model(&Client{}).
			Scopes(common.ByTenant(tenantID), common.NotDeleted(), common.ActiveOnly()))

	default:
		return nil, fmt.Errorf("unknown target query %q", query)
	}
}

func (s *Store) collectIDs(ctx context.Context, objectType string, query *gorm.DB) ([]automation.ObjectRef, error) {
	var ids []string
	if err := query.Order("created_at ASC").Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("query targets: %w", err)
	}
	refs := make([]automation.ObjectRef, 0, len(ids))
	for _, id := range ids {
		refs = append(refs, automation.ObjectRef{Type: objectType, ID: id})
	}
	return refs, nil
}

// KnownTargetQuery 查询标识是否已登记
func KnownTargetQuery(query string) bool {
	switch query {
	case QueryOverdueInvoices, QueryUnpaidInvoices, QueryDraftInvoices, QueryExpiringQuotes, QueryActiveClients:
		return true
	}
	return false
}
