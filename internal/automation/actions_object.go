package automation

import (
	"context"
	"errors"
	"fmt"
)

// CreateObjectAction 创建一个关联业务对象
// 非幂等：执行前按来源标识检查对象是否已创建，
// 防止队列重复投递产生重复对象。
type CreateObjectAction struct {
	store       ObjectStore
	normalizers *NormalizerRegistry
}

func (a *CreateObjectAction) Kind() string { return ActionCreateObject }

func (a *CreateObjectAction) ValidateSettings(raw map[string]any, sourceType string) (map[string]any, error) {
	objectType, err := requireString(a.Kind(), raw, "object_type")
	if err != nil {
		return nil, err
	}
	schema, err := a.store.Schema(objectType)
	if err != nil {
		return nil, NewValidationError(a.Kind(), "unknown object type %q", objectType)
	}

	props := map[string]any{}
	if rawProps, ok := raw["properties"].(map[string]any); ok {
		for key, value := range rawProps {
			if !schema.WritableProperty(key) {
				return nil, NewValidationError(a.Kind(), "property %q is not writable on %q", key, objectType)
			}
			if err := validateNormalizerRef(a.Kind(), a.normalizers, value); err != nil {
				return nil, err
			}
			props[key] = value
		}
	}

	return map[string]any{"object_type": objectType, "properties": props}, nil
}

func (a *CreateObjectAction) Perform(ctx context.Context, inv StepInvocation) Outcome {
	objectType := inv.Settings["object_type"].(string)
	provenance := inv.Provenance()

	exists, err := a.store.ExistsByProvenance(ctx, inv.Context.TenantID, objectType, provenance)
	if err != nil {
		return Failed(fmt.Sprintf("provenance check failed: %v", err))
	}
	if exists {
		return Succeeded(fmt.Sprintf("%s already created by this step", objectType))
	}

	props := map[string]any{}
	if rawProps, ok := inv.Settings["properties"].(map[string]any); ok {
		for key, value := range rawProps {
			resolved, err := resolveDynamicValue(a.normalizers, value)
			if err != nil {
				return Failed(err.Error())
			}
			props[key] = resolved
		}
	}

	id, err := a.store.Create(ctx, inv.Context.TenantID, objectType, props, provenance)
	if err != nil {
		return Failed(fmt.Sprintf("create %s failed: %v", objectType, err))
	}
	return SucceededWith(fmt.Sprintf("created %s", objectType), map[string]any{
		"object_type": objectType,
		"object_id":   id,
	})
}

// DeleteObjectAction 删除主体对象
type DeleteObjectAction struct {
	store ObjectStore
}

func (a *DeleteObjectAction) Kind() string { return ActionDeleteObject }

func (a *DeleteObjectAction) ValidateSettings(raw map[string]any, sourceType string) (map[string]any, error) {
	if _, err := a.store.Schema(sourceType); err != nil {
		return nil, NewValidationError(a.Kind(), "unknown source type %q", sourceType)
	}
	return map[string]any{}, nil
}

func (a *DeleteObjectAction) Perform(ctx context.Context, inv StepInvocation) Outcome {
	err := a.store.Delete(ctx, inv.Context.TenantID, inv.Context.Subject)
	if err != nil {
		// 重复投递时对象可能已被本步骤删除
		if errors.Is(err, ErrObjectNotFound) {
			return Succeeded("object already deleted")
		}
		return Failed(fmt.Sprintf("delete failed: %v", err))
	}
	return Succeeded(fmt.Sprintf("deleted %s %s", inv.Context.Subject.Type, inv.Context.Subject.ID))
}
