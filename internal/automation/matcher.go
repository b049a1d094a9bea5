package automation

import (
	"context"
	"fmt"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"gorm.io/gorm"

	"backend/internal/metrics"
)

const (
	// DefaultMatchLimit 单次事件最多匹配的触发器数，防止失控扇出
	DefaultMatchLimit = 100
	// DefaultMatchCacheTTL 匹配结果缓存时长。工作流定义的变更频率
	// 远低于事件频率，保存时会显式失效。
	DefaultMatchCacheTTL = 30 * time.Second
)

// Matcher 触发器匹配器
// 在派发事件的请求路径内同步调用，必须快且只读。
type Matcher struct {
	db    *gorm.DB
	gate  *Gate
	cache *gocache.Cache
	ttl   time.Duration
	limit int
}

// MatcherOption 匹配器可选配置
type MatcherOption func(*Matcher)

// WithMatchLimit 设置单次匹配的触发器上限
func WithMatchLimit(limit int) MatcherOption {
	return func(m *Matcher) {
		if limit > 0 {
			m.limit = limit
		}
	}
}

// WithMatchCacheTTL 设置匹配缓存时长
func WithMatchCacheTTL(ttl time.Duration) MatcherOption {
	return func(m *Matcher) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// NewMatcher 创建匹配器
func NewMatcher(db *gorm.DB, gate *Gate, opts ...MatcherOption) *Matcher {
	m := &Matcher{
		db:    db,
		gate:  gate,
		ttl:   DefaultMatchCacheTTL,
		limit: DefaultMatchLimit,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.cache = gocache.New(m.ttl, 2*m.ttl)
	return m
}

// Match 查找事件的候选触发器
// 只考虑事件型触发器，且其所属工作流启用、未删除、版本为当前版本，
// 租户与事件一致。开关关闭时直接返回空，不碰存储。
func (m *Matcher) Match(ctx context.Context, event Event) ([]*Trigger, error) {
	if !m.gate.Enabled() {
		return nil, nil
	}

	key := matchCacheKey(event.TenantID, event.Type)
	if cached, ok := m.cache.Get(key); ok {
		triggers := cached.([]*Trigger)
		metrics.TriggerMatchesTotal.WithLabelValues(event.TenantID, EventName(event.Type)).Add(float64(len(triggers)))
		return triggers, nil
	}

	var triggers []*Trigger
	err := m.db.WithContext(ctx).
		Joins("JOIN automation_workflow_versions v ON v.id = automation_triggers.version_id").
		Joins("JOIN automation_workflows w ON w.id = v.workflow_id AND w.current_version_id = v.id").
		Where("automation_triggers.tenant_id = ?", event.TenantID).
		Where("automation_triggers.trigger_type = ?", TriggerTypeEvent).
		Where("automation_triggers.event_type = ?", event.Type).
		Where("w.enabled = ? AND w.deleted_at IS NULL", true).
		Limit(m.limit).
		Find(&triggers).Error
	if err != nil {
		return nil, fmt.Errorf("match triggers: %w", err)
	}

	m.cache.Set(key, triggers, m.ttl)
	metrics.TriggerMatchesTotal.WithLabelValues(event.TenantID, EventName(event.Type)).Add(float64(len(triggers)))
	return triggers, nil
}

// DueSchedules 到期的定时触发器（NextRunAt <= now，UTC）
// worker 侧的调度轮询入口，不走缓存。
func (m *Matcher) DueSchedules(ctx context.Context, now time.Time) ([]*Trigger, error) {
	if !m.gate.Enabled() {
		return nil, nil
	}

	var triggers []*Trigger
	err := m.db.WithContext(ctx).
		Joins("JOIN automation_workflow_versions v ON v.id = automation_triggers.version_id").
		Joins("JOIN automation_workflows w ON w.id = v.workflow_id AND w.current_version_id = v.id").
		Where("automation_triggers.trigger_type = ?", TriggerTypeSchedule).
		Where("automation_triggers.next_run_at IS NOT NULL AND automation_triggers.next_run_at <= ?", now.UTC()).
		Where("w.enabled = ? AND w.deleted_at IS NULL", true).
		Limit(m.limit).
		Find(&triggers).Error
	if err != nil {
		return nil, fmt.Errorf("query due schedules: %w", err)
	}
	return triggers, nil
}

// InvalidateTenant 工作流保存后使该租户的匹配缓存失效，
// 避免在 TTL 窗口内继续命中已停用的定义。
func (m *Matcher) InvalidateTenant(tenantID string) {
	prefix := tenantID + ":"
	for key := range m.cache.Items() {
		if strings.HasPrefix(key, prefix) {
			m.cache.Delete(key)
		}
	}
}

func matchCacheKey(tenantID string, eventType int) string {
	return fmt.Sprintf("%s:%d", tenantID, eventType)
}
