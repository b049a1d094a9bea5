package automation

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Context 一次触发匹配构建的不可变执行上下文
// 只在匹配与 Run 创建之间短暂存活，绝不落库；执行侧通过
// Run 上的快照重新派生主体对象。
type Context struct {
	Workflow *Workflow
	Version  *WorkflowVersion
	Trigger  *Trigger

	TenantID string
	Subject  ObjectRef
	// Props 主体对象的属性快照，供条件表达式与模板引用
	Props map[string]any
	// Event 触发事件的原始数据（定时/手动触发时记录来源信息）
	Event map[string]any
}

// ContextBuilder 从触发源解析主体对象并构建执行上下文
type ContextBuilder struct {
	store ObjectStore
}

// NewContextBuilder 创建上下文构建器
func NewContextBuilder(store ObjectStore) *ContextBuilder {
	return &ContextBuilder{store: store}
}

// BuildFromEvent 事件触发：定位事件引用的主体对象，并校验其
// 类型与版本声明的 SourceType 兼容。不兼容或对象缺失返回
// ContextError，调用方对本次事件跳过该触发器，不重试。
func (b *ContextBuilder) BuildFromEvent(ctx context.Context, wf *Workflow, version *WorkflowVersion, trigger *Trigger, event Event) (*Context, error) {
	if event.Subject.Type != version.SourceType {
		return nil, &ContextError{
			TriggerID: trigger.ID,
			Reason:    fmt.Sprintf("event subject type %q does not match source type %q", event.Subject.Type, version.SourceType),
			Err:       ErrContextMismatch,
		}
	}

	props, err := b.store.Load(ctx, event.TenantID, event.Subject)
	if err != nil {
		return nil, &ContextError{TriggerID: trigger.ID, Reason: "load subject failed", Err: err}
	}

	return &Context{
		Workflow: wf,
		Version:  version,
		Trigger:  trigger,
		TenantID: event.TenantID,
		Subject:  event.Subject,
		Props:    props,
		Event:    event.Payload,
	}, nil
}

// BuildManual 手动触发：主体对象由调用方直接指定。
// 对象不存在是硬错误，原样返回给调用方。
func (b *ContextBuilder) BuildManual(ctx context.Context, wf *Workflow, version *WorkflowVersion, trigger *Trigger, tenantID, subjectID string) (*Context, error) {
	ref := ObjectRef{Type: version.SourceType, ID: subjectID}
	props, err := b.store.Load(ctx, tenantID, ref)
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return nil, fmt.Errorf("subject %s/%s not found: %w", ref.Type, subjectID, err)
		}
		return nil, fmt.Errorf("load subject %s/%s: %w", ref.Type, subjectID, err)
	}

	return &Context{
		Workflow: wf,
		Version:  version,
		Trigger:  trigger,
		TenantID: tenantID,
		Subject:  ref,
		Props:    props,
		Event:    map[string]any{"source": "manual"},
	}, nil
}

// BuildFromSchedule 定时触发：重新求值版本的目标查询，
// 每个命中对象产出一个上下文（可能是零个、一个或多个）。
func (b *ContextBuilder) BuildFromSchedule(ctx context.Context, wf *Workflow, version *WorkflowVersion, trigger *Trigger, now time.Time) ([]*Context, error) {
	if version.ScheduleQuery == "" {
		return nil, &ContextError{TriggerID: trigger.ID, Reason: "schedule trigger without target query"}
	}

	refs, err := b.store.QueryTargets(ctx, wf.TenantID, version.ScheduleQuery)
	if err != nil {
		return nil, &ContextError{TriggerID: trigger.ID, Reason: "target query failed", Err: err}
	}

	contexts := make([]*Context, 0, len(refs))
	for _, ref := range refs {
		props, err := b.store.Load(ctx, wf.TenantID, ref)
		if err != nil {
			// 查询与加载之间对象可能被删除，跳过该对象即可
			continue
		}
		contexts = append(contexts, &Context{
			Workflow: wf,
			Version:  version,
			Trigger:  trigger,
			TenantID: wf.TenantID,
			Subject:  ref,
			Props:    props,
			Event: map[string]any{
				"source":  "schedule",
				"tick_at": now.UTC().Format(time.RFC3339),
			},
		})
	}
	return contexts, nil
}
