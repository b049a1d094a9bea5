package automation

import (
	"context"
	"fmt"
	"strconv"
	"sync"
)

// 动作类型标识
const (
	ActionCreateObject     = "create_object"
	ActionModifyProperty   = "modify_property"
	ActionCopyProperty     = "copy_property"
	ActionClearProperty    = "clear_property"
	ActionDeleteObject     = "delete_object"
	ActionSendEmail        = "send_email"
	ActionSendNotification = "send_notification"
	ActionWebhook          = "webhook"
	ActionCondition        = "condition"
	ActionSendDocument     = "send_document"
	ActionPostToSlack      = "post_to_slack"
)

// StepInvocation 一次步骤执行的输入
type StepInvocation struct {
	// Settings 保存时已通过 ValidateSettings 的配置
	Settings map[string]any
	// Context 本次 Run 的执行上下文
	Context *Context
	// RunID / Position 用于构造来源标识
	RunID    string
	Position int
}

// Provenance 步骤级来源标识。队列是至少一次投递，
// 非幂等动作（创建对象、发邮件）执行前据此检查副作用是否已产生。
func (inv StepInvocation) Provenance() string {
	return inv.RunID + ":" + strconv.Itoa(inv.Position)
}

// Action 动作实现契约
type Action interface {
	// Kind 动作类型标识
	Kind() string

	// ValidateSettings 编辑保存时校验配置：把松散的编辑输入解析成
	// 规范化配置，并拒绝引用 sourceType 上不存在属性的配置。
	// 必须幂等：对同一输入重复调用结果一致。
	ValidateSettings(raw map[string]any, sourceType string) (map[string]any, error)

	// Perform 按步骤顺序执行一次。不允许返回 ResultPending。
	// 长耗时动作（webhook 等）自行控制超时并以 Failed 上报。
	Perform(ctx context.Context, inv StepInvocation) Outcome
}

// Registry 动作注册表：动作类型标识 → 实现
type Registry struct {
	mu      sync.RWMutex
	actions map[string]Action
}

// NewRegistry 创建空注册表
func NewRegistry() *Registry {
	return &Registry{actions: make(map[string]Action)}
}

// RegistryDeps 默认动作集的依赖
type RegistryDeps struct {
	Store       ObjectStore
	Normalizers *NormalizerRegistry
	Email       EmailSender
	Webhook     WebhookSender
	Slack       SlackSender
	Notifier    Notifier
	Documents   DocumentSender
}

// NewDefaultRegistry 创建并注册全部内置动作
func NewDefaultRegistry(deps RegistryDeps) *Registry {
	r := NewRegistry()
	r.Register(&CreateObjectAction{store: deps.Store, normalizers: deps.Normalizers})
	r.Register(&ModifyPropertyAction{store: deps.Store, normalizers: deps.Normalizers})
	r.Register(&CopyPropertyAction{store: deps.Store, normalizers: deps.Normalizers})
	r.Register(&ClearPropertyAction{store: deps.Store})
	r.Register(&DeleteObjectAction{store: deps.Store})
	r.Register(&SendEmailAction{sender: deps.Email})
	r.Register(&SendNotificationAction{notifier: deps.Notifier})
	r.Register(&WebhookAction{sender: deps.Webhook})
	r.Register(&ConditionAction{})
	r.Register(&SendDocumentAction{sender: deps.Documents})
	r.Register(&PostToSlackAction{sender: deps.Slack})
	return r
}

// Register 注册动作，同类型覆盖
func (r *Registry) Register(action Action) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[action.Kind()] = action
}

// Get 查找动作实现
func (r *Registry) Get(kind string) (Action, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	action, ok := r.actions[kind]
	return action, ok
}

// Kinds 已注册的动作类型列表
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.actions))
	for kind := range r.actions {
		kinds = append(kinds, kind)
	}
	return kinds
}

// ValidateStep 校验单个步骤的配置，返回规范化后的 settings
func (r *Registry) ValidateStep(actionKind string, raw map[string]any, sourceType string) (map[string]any, error) {
	action, ok := r.Get(actionKind)
	if !ok {
		return nil, NewValidationError(actionKind, "unknown action kind")
	}
	return action.ValidateSettings(raw, sourceType)
}

// requireString 读取必填字符串配置项
func requireString(kind string, raw map[string]any, key string) (string, error) {
	value, ok := raw[key]
	if !ok {
		return "", NewValidationError(kind, "missing required setting %q", key)
	}
	s, ok := value.(string)
	if !ok || s == "" {
		return "", NewValidationError(kind, "setting %q must be a non-empty string", key)
	}
	return s, nil
}

// optString 读取可选字符串配置项
func optString(raw map[string]any, key string) string {
	if value, ok := raw[key]; ok {
		if s, ok := value.(string); ok {
			return s
		}
	}
	return ""
}

// validateNormalizerRef 校验配置值里的动态值引用
// 约定：{"$normalizer": "days_from", "value": 5}
func validateNormalizerRef(kind string, normalizers *NormalizerRegistry, value any) error {
	ref, ok := value.(map[string]any)
	if !ok {
		return nil
	}
	id, ok := ref["$normalizer"].(string)
	if !ok {
		return nil
	}
	if !normalizers.Known(id) {
		return NewValidationError(kind, "unknown normalizer %q", id)
	}
	return nil
}

// resolveDynamicValue 执行时解析动态值引用，普通值原样返回
func resolveDynamicValue(normalizers *NormalizerRegistry, value any) (any, error) {
	ref, ok := value.(map[string]any)
	if !ok {
		return value, nil
	}
	id, ok := ref["$normalizer"].(string)
	if !ok {
		return value, nil
	}
	resolved, err := normalizers.Resolve(id, ref["value"])
	if err != nil {
		return nil, fmt.Errorf("resolve dynamic value: %w", err)
	}
	return resolved, nil
}
