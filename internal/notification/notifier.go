package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"backend/internal/automation"
	"backend/internal/common"
)

// DBNotifier 站内通知实现，向 notices 表写入记录
type DBNotifier struct {
	db *gorm.DB
}

// NewDBNotifier 创建站内通知器
func NewDBNotifier(db *gorm.DB) *DBNotifier {
	return &DBNotifier{db: db}
}

var _ automation.Notifier = (*DBNotifier)(nil)

// Notify 创建一条站内通知
func (n *DBNotifier) Notify(ctx context.Context, tenantID, userID, title, body string) error {
	notice := &Notice{
		ID:       uuid.New().String(),
		TenantID: tenantID,
		UserID:   userID,
		Title:    title,
		Body:     body,
	}
	if err := n.db.WithContext(ctx).Create(notice).Error; err != nil {
		return fmt.Errorf("create notice: %w", err)
	}
	return nil
}

// ListUnread 查询用户未读通知
func (n *DBNotifier) ListUnread(ctx context.Context, tenantID, userID string, limit int) ([]*Notice, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var notices []*Notice
	err := n.db.WithContext(ctx).
		Scopes(common.ByTenant(tenantID)).
		Where("user_id = ? AND read = ?", userID, false).
		Order("created_at DESC").
		Limit(limit).
		Find(&notices).Error
	if err != nil {
		return nil, fmt.Errorf("list unread notices: %w", err)
	}
	return notices, nil
}

// MarkRead 标记通知为已读
func (n *DBNotifier) MarkRead(ctx context.Context, tenantID, noticeID string) error {
	now := time.Now().UTC()
	result := n.db.WithContext(ctx).Model(&Notice{}).
		Where("id = ? AND tenant_id = ?", noticeID, tenantID).
		Updates(map[string]any{"read": true, "read_at": now})
	if result.Error != nil {
		return fmt.Errorf("mark notice read: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("notice %s not found", noticeID)
	}
	return nil
}
