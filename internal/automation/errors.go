package automation

import (
	"errors"
	"fmt"
)

// ErrContextMismatch 事件与触发器期望的主体类型不兼容，
// 该触发器对本次事件静默跳过（记指标，不重试）。
var ErrContextMismatch = errors.New("event subject incompatible with workflow source type")

// ValidationError 保存步骤时 settings 结构非法，或引用了
// 主体对象类型上不存在的属性。返回给编辑者，步骤不保存。
type ValidationError struct {
	ActionKind string
	Reason     string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid settings for action %q: %s", e.ActionKind, e.Reason)
}

// NewValidationError 构造校验错误
func NewValidationError(actionKind, format string, args ...any) *ValidationError {
	return &ValidationError{ActionKind: actionKind, Reason: fmt.Sprintf(format, args...)}
}

// ContextError 触发器无法适配到本次触发源
type ContextError struct {
	TriggerID string
	Reason    string
	Err       error
}

func (e *ContextError) Error() string {
	return fmt.Sprintf("cannot build context for trigger %s: %s", e.TriggerID, e.Reason)
}

func (e *ContextError) Unwrap() error {
	return e.Err
}

// EngineDefectError 工作流数据或动作实现存在缺陷：
// Perform 返回 Pending、步骤位置不连续或重复等。
// 这类错误不能被策略吞掉，必须大声失败。
type EngineDefectError struct {
	RunID  string
	Reason string
}

func (e *EngineDefectError) Error() string {
	return fmt.Sprintf("engine defect in run %s: %s", e.RunID, e.Reason)
}
