package automation

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func newValidationRegistry() (*Registry, *memStore) {
	store := newMemStore()
	return NewDefaultRegistry(RegistryDeps{
		Store:       store,
		Normalizers: NewNormalizerRegistry(),
	}), store
}

func TestDefaultRegistryCoversAllActionKinds(t *testing.T) {
	registry, _ := newValidationRegistry()
	expected := []string{
		ActionCreateObject, ActionModifyProperty, ActionCopyProperty,
		ActionClearProperty, ActionDeleteObject, ActionSendEmail,
		ActionSendNotification, ActionWebhook, ActionCondition,
		ActionSendDocument, ActionPostToSlack,
	}
	for _, kind := range expected {
		if _, ok := registry.Get(kind); !ok {
			t.Fatalf("默认注册表缺少动作 %s", kind)
		}
	}
	if len(registry.Kinds()) != len(expected) {
		t.Fatalf("动作数量不一致：期望 %d，实际 %d", len(expected), len(registry.Kinds()))
	}
}

func TestRegistryValidateStepUnknownKind(t *testing.T) {
	registry, _ := newValidationRegistry()
	_, err := registry.ValidateStep("teleport", map[string]any{}, ObjectTypeInvoice)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("未知动作应返回 ValidationError，实际 %v", err)
	}
}

func TestConditionValidateSettingsIdempotent(t *testing.T) {
	registry, _ := newValidationRegistry()
	raw := map[string]any{"expression": "amount_cents > 10000 && status == 'sent'"}

	first, err := registry.ValidateStep(ActionCondition, raw, ObjectTypeInvoice)
	if err != nil {
		t.Fatalf("首次校验失败: %v", err)
	}
	second, err := registry.ValidateStep(ActionCondition, first, ObjectTypeInvoice)
	if err != nil {
		t.Fatalf("对已校验配置重复校验失败: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("校验不幂等：%v != %v", first, second)
	}
}

func TestConditionValidateSettingsRejectsBadExpression(t *testing.T) {
	registry, _ := newValidationRegistry()
	_, err := registry.ValidateStep(ActionCondition, map[string]any{"expression": "amount >"}, ObjectTypeInvoice)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("无法解析的表达式应返回 ValidationError，实际 %v", err)
	}
}

func TestModifyPropertyValidateRejectsReadOnly(t *testing.T) {
	registry, _ := newValidationRegistry()
	_, err := registry.ValidateStep(ActionModifyProperty,
		map[string]any{"property": "number", "value": "INV-99"}, ObjectTypeInvoice)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("只读属性应被拒绝，实际 %v", err)
	}
}

func TestModifyPropertyValidateRejectsUnknownProperty(t *testing.T) {
	registry, _ := newValidationRegistry()
	_, err := registry.ValidateStep(ActionModifyProperty,
		map[string]any{"property": "color", "value": "red"}, ObjectTypeInvoice)
	if err == nil {
		t.Fatalf("不存在的属性应被拒绝")
	}
}

func TestModifyPropertyValidateAcceptsNormalizerRef(t *testing.T) {
	registry, _ := newValidationRegistry()
	validated, err := registry.ValidateStep(ActionModifyProperty, map[string]any{
		"property": "due_date",
		"value":    map[string]any{"$normalizer": "days_from", "value": 5},
	}, ObjectTypeInvoice)
	if err != nil {
		t.Fatalf("合法的动态值引用不应被拒绝: %v", err)
	}
	ref, ok := validated["value"].(map[string]any)
	if !ok || ref["$normalizer"] != "days_from" {
		t.Fatalf("动态值引用应原样保留到执行时: %v", validated["value"])
	}
}

func TestModifyPropertyValidateRejectsUnknownNormalizer(t *testing.T) {
	registry, _ := newValidationRegistry()
	_, err := registry.ValidateStep(ActionModifyProperty, map[string]any{
		"property": "due_date",
		"value":    map[string]any{"$normalizer": "fortnights_from", "value": 2},
	}, ObjectTypeInvoice)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("未知解析器应返回 ValidationError，实际 %v", err)
	}
}

func TestCreateObjectValidateRejectsNonWritable(t *testing.T) {
	registry, _ := newValidationRegistry()
	_, err := registry.ValidateStep(ActionCreateObject, map[string]any{
		"object_type": ObjectTypeInvoice,
		"properties":  map[string]any{"number": "INV-1"},
	}, ObjectTypeInvoice)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("不可写属性应被拒绝，实际 %v", err)
	}
}

func TestSendEmailValidateRequiresRecipient(t *testing.T) {
	registry, _ := newValidationRegistry()
	_, err := registry.ValidateStep(ActionSendEmail,
		map[string]any{"subject": "提醒", "body": "您好"}, ObjectTypeInvoice)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("缺少收件人应返回 ValidationError，实际 %v", err)
	}

	if _, err := registry.ValidateStep(ActionSendEmail, map[string]any{
		"to_property": "client_email", "subject": "提醒", "body": "您好",
	}, ObjectTypeInvoice); err != nil {
		t.Fatalf("以属性指定收件人应通过校验: %v", err)
	}
}

// create_object 的来源标识保证重复投递不产生重复对象
func TestCreateObjectPerformIdempotentByProvenance(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	action := &CreateObjectAction{store: store, normalizers: NewNormalizerRegistry()}

	inv := StepInvocation{
		Settings: map[string]any{
			"object_type": ObjectTypeNote,
			"properties":  map[string]any{"body": "自动生成的备注"},
		},
		Context:  &Context{TenantID: "tenant-A", Subject: ObjectRef{Type: ObjectTypeInvoice, ID: "inv-1"}},
		RunID:    "run-1",
		Position: 2,
	}

	if outcome := action.Perform(ctx, inv); outcome.Result != ResultSucceeded {
		t.Fatalf("首次执行应成功: %+v", outcome)
	}
	if outcome := action.Perform(ctx, inv); outcome.Result != ResultSucceeded {
		t.Fatalf("重复执行应成功: %+v", outcome)
	}
	if len(store.created) != 1 {
		t.Fatalf("同一来源标识只应创建一个对象，实际 %d", len(store.created))
	}
}

type capturingWebhookSender struct {
	url     string
	payload map[string]any
}

func (c *capturingWebhookSender) Post(_ context.Context, url string, payload map[string]any) error {
	c.url = url
	c.payload = payload
	return nil
}

// 投递指标按 payload 里的 tenant_id 打租户标签，载荷必须带上它
func TestWebhookPerformPayloadCarriesTenant(t *testing.T) {
	sender := &capturingWebhookSender{}
	action := &WebhookAction{sender: sender}

	outcome := action.Perform(context.Background(), StepInvocation{
		Settings: map[string]any{"url": "https://hooks.example.com/billing"},
		Context: &Context{
			Workflow: &Workflow{ID: "wf-1"},
			TenantID: "tenant-A",
			Subject:  ObjectRef{Type: ObjectTypeInvoice, ID: "inv-1"},
			Props:    map[string]any{"status": "sent"},
			Event:    map[string]any{"amount_cents": int64(5000)},
		},
		RunID:    "run-1",
		Position: 1,
	})
	if outcome.Result != ResultSucceeded {
		t.Fatalf("投递应成功: %+v", outcome)
	}
	if sender.url != "https://hooks.example.com/billing" {
		t.Fatalf("投递地址不正确: %s", sender.url)
	}
	if sender.payload["tenant_id"] != "tenant-A" {
		t.Fatalf("载荷缺少 tenant_id: %v", sender.payload)
	}
	if sender.payload["run_id"] != "run-1" || sender.payload["subject_id"] != "inv-1" {
		t.Fatalf("载荷字段不正确: %v", sender.payload)
	}
}

func TestRenderTemplate(t *testing.T) {
	actx := &Context{
		Props: map[string]any{"number": "INV-42", "amount_cents": int64(9900)},
		Event: map[string]any{"method": "card"},
	}
	rendered := renderTemplate("发票 {{number}}（{{ amount_cents }} 分）通过 {{event.method}} 支付，{{missing}}", actx)
	expected := "发票 INV-42（9900 分）通过 card 支付，"
	if rendered != expected {
		t.Fatalf("模板渲染不正确：%q", rendered)
	}
}

func TestStepInvocationProvenance(t *testing.T) {
	inv := StepInvocation{RunID: "run-9", Position: 3}
	if inv.Provenance() != "run-9:3" {
		t.Fatalf("来源标识格式不正确: %s", inv.Provenance())
	}
}
