package automation

import (
	"context"
	"fmt"
)

// ModifyPropertyAction 修改主体对象的单个属性
type ModifyPropertyAction struct {
	store       ObjectStore
	normalizers *NormalizerRegistry
}

func (a *ModifyPropertyAction) Kind() string { return ActionModifyProperty }

func (a *ModifyPropertyAction) ValidateSettings(raw map[string]any, sourceType string) (map[string]any, error) {
	property, err := requireString(a.Kind(), raw, "property")
	if err != nil {
		return nil, err
	}
	schema, err := a.store.Schema(sourceType)
	if err != nil {
		return nil, NewValidationError(a.Kind(), "unknown source type %q", sourceType)
	}
	if !schema.WritableProperty(property) {
		return nil, NewValidationError(a.Kind(), "property %q is not writable on %q", property, sourceType)
	}
	value, ok := raw["value"]
	if !ok {
		return nil, NewValidationError(a.Kind(), "missing required setting %q", "value")
	}
	if err := validateNormalizerRef(a.Kind(), a.normalizers, value); err != nil {
		return nil, err
	}
	return map[string]any{"property": property, "value": value}, nil
}

func (a *ModifyPropertyAction) Perform(ctx context.Context, inv StepInvocation) Outcome {
	property := inv.Settings["property"].(string)
	value, err := resolveDynamicValue(a.normalizers, inv.Settings["value"])
	if err != nil {
		return Failed(err.Error())
	}
	if err := a.store.Update(ctx, inv.Context.TenantID, inv.Context.Subject, map[string]any{property: value}); err != nil {
		return Failed(fmt.Sprintf("update %s failed: %v", property, err))
	}
	// 后续步骤可能依赖该变更，同步进上下文快照
	inv.Context.Props[property] = value
	return Succeeded(fmt.Sprintf("set %s", property))
}

// CopyPropertyAction 把一个属性的值复制到另一个属性，
// 可选地经过命名解析器转换。
type CopyPropertyAction struct {
	store       ObjectStore
	normalizers *NormalizerRegistry
}

func (a *CopyPropertyAction) Kind() string { return ActionCopyProperty }

func (a *CopyPropertyAction) ValidateSettings(raw map[string]any, sourceType string) (map[string]any, error) {
	from, err := requireString(a.Kind(), raw, "from")
	if err != nil {
		return nil, err
	}
	to, err := requireString(a.Kind(), raw, "to")
	if err != nil {
		return nil, err
	}
	schema, err := a.store.Schema(sourceType)
	if err != nil {
		return nil, NewValidationError(a.Kind(), "unknown source type %q", sourceType)
	}
	if !schema.Has(from) {
		return nil, NewValidationError(a.Kind(), "property %q does not exist on %q", from, sourceType)
	}
	if !schema.WritableProperty(to) {
		return nil, NewValidationError(a.Kind(), "property %q is not writable on %q", to, sourceType)
	}
	validated := map[string]any{"from": from, "to": to}
	if normalizer := optString(raw, "normalizer"); normalizer != "" {
		if !a.normalizers.Known(normalizer) {
			return nil, NewValidationError(a.Kind(), "unknown normalizer %q", normalizer)
		}
		validated["normalizer"] = normalizer
	}
	return validated, nil
}

func (a *CopyPropertyAction) Perform(ctx context.Context, inv StepInvocation) Outcome {
	from := inv.Settings["from"].(string)
	to := inv.Settings["to"].(string)

	value := inv.Context.Props[from]
	if normalizer := optString(inv.Settings, "normalizer"); normalizer != "" {
		resolved, err := a.normalizers.Resolve(normalizer, value)
		if err != nil {
			return Failed(err.Error())
		}
		value = resolved
	}

	if err := a.store.Update(ctx, inv.Context.TenantID, inv.Context.Subject, map[string]any{to: value}); err != nil {
		return Failed(fmt.Sprintf("copy %s to %s failed: %v", from, to, err))
	}
	inv.Context.Props[to] = value
	return Succeeded(fmt.Sprintf("copied %s to %s", from, to))
}

// ClearPropertyAction 清空主体对象的单个属性
type ClearPropertyAction struct {
	store ObjectStore
}

func (a *ClearPropertyAction) Kind() string { return ActionClearProperty }

func (a *ClearPropertyAction) ValidateSettings(raw map[string]any, sourceType string) (map[string]any, error) {
	property, err := requireString(a.Kind(), raw, "property")
	if err != nil {
		return nil, err
	}
	schema, err := a.store.Schema(sourceType)
	if err != nil {
		return nil, NewValidationError(a.Kind(), "unknown source type %q", sourceType)
	}
	if !schema.WritableProperty(property) {
		return nil, NewValidationError(a.Kind(), "property %q is not writable on %q", property, sourceType)
	}
	return map[string]any{"property": property}, nil
}

func (a *ClearPropertyAction) Perform(ctx context.Context, inv StepInvocation) Outcome {
	property := inv.Settings["property"].(string)
	if err := a.store.Update(ctx, inv.Context.TenantID, inv.Context.Subject, map[string]any{property: nil}); err != nil {
		return Failed(fmt.Sprintf("clear %s failed: %v", property, err))
	}
	inv.Context.Props[property] = nil
	return Succeeded(fmt.Sprintf("cleared %s", property))
}
