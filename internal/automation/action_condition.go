package automation

import (
	"context"
	"fmt"

	"github.com/Knetic/govaluate"
)

// ConditionAction 对上下文求值布尔表达式
// 表达式为假时返回 Stop 终止后续步骤——这是工作流里表达
// 条件短路的方式，Stop 是有意的闸门，不是失败。
//
// 表达式变量为主体属性名，事件数据通过 [event.xxx] 访问：
//
//	status == 'overdue' && amount_cents > 10000
//	[event.amount] >= 500
type ConditionAction struct{}

func (a *ConditionAction) Kind() string { return ActionCondition }

func (a *ConditionAction) ValidateSettings(raw map[string]any, sourceType string) (map[string]any, error) {
	expression, err := requireString(a.Kind(), raw, "expression")
	if err != nil {
		return nil, err
	}
	if _, err := govaluate.NewEvaluableExpression(expression); err != nil {
		return nil, NewValidationError(a.Kind(), "cannot parse expression: %v", err)
	}
	return map[string]any{"expression": expression}, nil
}

func (a *ConditionAction) Perform(ctx context.Context, inv StepInvocation) Outcome {
	raw := inv.Settings["expression"].(string)

	expression, err := govaluate.NewEvaluableExpression(raw)
	if err != nil {
		return Failed(fmt.Sprintf("parse expression failed: %v", err))
	}

	parameters := make(map[string]any, len(inv.Context.Props)+len(inv.Context.Event))
	for key, value := range inv.Context.Props {
		parameters[key] = normalizeParam(value)
	}
	for key, value := range inv.Context.Event {
		parameters["event."+key] = normalizeParam(value)
	}
	// 引用了但上下文缺失的变量按 nil 参与求值
	for _, name := range expression.Vars() {
		if _, ok := parameters[name]; !ok {
			parameters[name] = nil
		}
	}

	result, err := expression.Evaluate(parameters)
	if err != nil {
		return Failed(fmt.Sprintf("evaluate expression failed: %v", err))
	}
	matched, ok := result.(bool)
	if !ok {
		return Failed(fmt.Sprintf("expression result is not boolean: %v", result))
	}
	if !matched {
		return Stopped(fmt.Sprintf("condition not met: %s", raw))
	}
	return Succeeded("condition met")
}

// normalizeParam govaluate 的数值比较基于 float64
func normalizeParam(value any) any {
	if num, ok := toFloat64(value); ok {
		return num
	}
	return value
}
