package automation

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

func newTestService(t *testing.T, db *gorm.DB, store ObjectStore) (*Service, *fakeEnqueuer) {
	t.Helper()
	registry := NewDefaultRegistry(RegistryDeps{Store: store, Normalizers: NewNormalizerRegistry()})
	gate := NewGate()
	matcher := NewMatcher(db, gate)
	builder := NewContextBuilder(store)
	enqueuer := &fakeEnqueuer{}
	schedule := NewScheduleEvaluator()
	runner := NewRunner(db, registry, store, enqueuer, zaptest.NewLogger(t))
	svc := NewService(db, registry, matcher, builder, runner, schedule, store, zaptest.NewLogger(t))
	return svc, enqueuer
}

func validCreateRequest(tenantID string) *CreateWorkflowRequest {
	return &CreateWorkflowRequest{
		TenantID:   tenantID,
		Name:       "逾期提醒",
		SourceType: ObjectTypeInvoice,
		CreatedBy:  "user-1",
		Steps: []StepInput{
			{ActionKind: ActionCondition, Settings: map[string]any{"expression": "amount_cents > 10000"}},
			{ActionKind: ActionModifyProperty, Settings: map[string]any{"property": "memo", "value": "催款中"}},
		},
		Triggers: []TriggerInput{
			{TriggerType: TriggerTypeEvent, EventType: EventInvoiceOverdue},
			{TriggerType: TriggerTypeManual},
		},
	}
}

func TestServiceCreateWorkflowBuildsVersionOne(t *testing.T) {
	ctx := context.Background()
	db := setupAutomationTestDB(t)
	svc, _ := newTestService(t, db, newMemStore())

	wf, err := svc.CreateWorkflow(ctx, validCreateRequest("tenant-A"))
	if err != nil {
		t.Fatalf("创建工作流失败: %v", err)
	}
	if !wf.Enabled {
		t.Fatalf("新建工作流应默认启用")
	}
	if wf.CurrentVersionID == "" {
		t.Fatalf("未设置当前版本指针")
	}

	version, err := svc.CurrentVersion(ctx, "tenant-A", wf.ID)
	if err != nil {
		t.Fatalf("查询当前版本失败: %v", err)
	}
	if version.Number != 1 {
		t.Fatalf("首个版本号应为 1，实际 %d", version.Number)
	}
	if len(version.Steps) != 2 {
		t.Fatalf("期望 2 个步骤，实际 %d", len(version.Steps))
	}
	if version.Steps[0].Position != 1 || version.Steps[1].Position != 2 {
		t.Fatalf("步骤位置应从 1 连续分配: %+v", version.Steps)
	}
	if len(version.Triggers) != 2 {
		t.Fatalf("期望 2 个触发器，实际 %d", len(version.Triggers))
	}
}

func TestServiceCreateWorkflowRejectsUnknownSourceType(t *testing.T) {
	ctx := context.Background()
	db := setupAutomationTestDB(t)
	svc, _ := newTestService(t, db, newMemStore())

	req := validCreateRequest("tenant-A")
	req.SourceType = "spaceship"
	if _, err := svc.CreateWorkflow(ctx, req); err == nil {
		t.Fatalf("未知主体类型应被拒绝")
	}
}

func TestServiceCreateWorkflowRejectsInvalidSettings(t *testing.T) {
	ctx := context.Background()
	db := setupAutomationTestDB(t)
	svc, _ := newTestService(t, db, newMemStore())

	req := validCreateRequest("tenant-A")
	req.Steps = []StepInput{
		{ActionKind: ActionModifyProperty, Settings: map[string]any{"property": "number", "value": "X"}},
	}
	_, err := svc.CreateWorkflow(ctx, req)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("步骤配置非法应返回 ValidationError，实际 %v", err)
	}

	// 校验失败时整个事务回滚，不留半成品
	var count int64
	db.Model(&Workflow{}).Count(&count)
	if count != 0 {
		t.Fatalf("校验失败不应留下工作流，实际 %d 个", count)
	}
}

func TestServiceCreateWorkflowRejectsEventSubjectMismatch(t *testing.T) {
	ctx := context.Background()
	db := setupAutomationTestDB(t)
	svc, _ := newTestService(t, db, newMemStore())

	req := validCreateRequest("tenant-A")
	// quote_accepted 事件携带 quote，而工作流作用于 invoice
	req.Triggers = []TriggerInput{{TriggerType: TriggerTypeEvent, EventType: EventQuoteAccepted}}
	if _, err := svc.CreateWorkflow(ctx, req); err == nil {
		t.Fatalf("事件主体类型与工作流不符应被拒绝")
	}
}

func TestServiceCreateWorkflowScheduleRequiresQuery(t *testing.T) {
	ctx := context.Background()
	db := setupAutomationTestDB(t)
	svc, _ := newTestService(t, db, newMemStore())

	req := validCreateRequest("tenant-A")
	req.Triggers = []TriggerInput{{TriggerType: TriggerTypeSchedule, Recurrence: "@daily"}}
	if _, err := svc.CreateWorkflow(ctx, req); err == nil {
		t.Fatalf("定时触发器缺少目标查询应被拒绝")
	}

	req.ScheduleQuery = "overdue_invoices"
	wf, err := svc.CreateWorkflow(ctx, req)
	if err != nil {
		t.Fatalf("补齐目标查询后应创建成功: %v", err)
	}
	version, _ := svc.CurrentVersion(ctx, "tenant-A", wf.ID)
	if len(version.Triggers) != 1 || version.Triggers[0].NextRunAt == nil {
		t.Fatalf("定时触发器应预计算 next_run_at: %+v", version.Triggers)
	}
}

// 编辑生成新版本，旧版本与其步骤原样保留
func TestServiceUpdateWorkflowAppendsImmutableVersion(t *testing.T) {
	ctx := context.Background()
	db := setupAutomationTestDB(t)
	svc, _ := newTestService(t, db, newMemStore())

	wf, err := svc.CreateWorkflow(ctx, validCreateRequest("tenant-A"))
	if err != nil {
		t.Fatalf("创建工作流失败: %v", err)
	}
	v1ID := wf.CurrentVersionID

	updated, err := svc.UpdateWorkflow(ctx, "tenant-A", wf.ID, &UpdateWorkflowRequest{
		Name:       "逾期提醒（改）",
		SourceType: ObjectTypeInvoice,
		Steps: []StepInput{
			{ActionKind: ActionModifyProperty, Settings: map[string]any{"property": "status", "value": "overdue"}},
		},
		Triggers: []TriggerInput{{TriggerType: TriggerTypeEvent, EventType: EventInvoiceOverdue}},
	})
	if err != nil {
		t.Fatalf("更新工作流失败: %v", err)
	}
	if updated.CurrentVersionID == v1ID {
		t.Fatalf("更新后应指向新版本")
	}

	var v2 WorkflowVersion
	if err := db.First(&v2, "id = ?", updated.CurrentVersionID).Error; err != nil {
		t.Fatalf("加载 v2 失败: %v", err)
	}
	if v2.Number != 2 {
		t.Fatalf("新版本号应为 2，实际 %d", v2.Number)
	}

	// v1 的步骤保持创建时的样子
	var v1Steps []Step
	db.Where("version_id = ?", v1ID).Order("position ASC").Find(&v1Steps)
	if len(v1Steps) != 2 || v1Steps[0].ActionKind != ActionCondition {
		t.Fatalf("历史版本的步骤被改写: %+v", v1Steps)
	}
}

// (workflow_id, number) 唯一索引兜底：并发编辑铸出相同版本号时
// 数据库拒绝第二个，而不是留下两个同号版本
func TestWorkflowVersionNumberUniquePerWorkflow(t *testing.T) {
	db := setupAutomationTestDB(t)

	first := &WorkflowVersion{
		ID:         "ver-1",
		WorkflowID: "wf-1",
		TenantID:   "tenant-A",
		Number:     2,
		SourceType: ObjectTypeInvoice,
	}
	if err := db.Create(first).Error; err != nil {
		t.Fatalf("写入版本失败: %v", err)
	}

	duplicate := &WorkflowVersion{
		ID:         "ver-2",
		WorkflowID: "wf-1",
		TenantID:   "tenant-A",
		Number:     2,
		SourceType: ObjectTypeInvoice,
	}
	if err := db.Create(duplicate).Error; err == nil {
		t.Fatal("同一工作流的重复版本号应被唯一索引拒绝")
	}

	// 其他工作流不受影响
	other := &WorkflowVersion{
		ID:         "ver-3",
		WorkflowID: "wf-2",
		TenantID:   "tenant-A",
		Number:     2,
		SourceType: ObjectTypeInvoice,
	}
	if err := db.Create(other).Error; err != nil {
		t.Fatalf("不同工作流允许相同版本号: %v", err)
	}
}

func TestServiceTriggerManually(t *testing.T) {
	ctx := context.Background()
	db := setupAutomationTestDB(t)
	store := newMemStore()
	store.put("tenant-A", ObjectRef{Type: ObjectTypeInvoice, ID: "inv-1"}, map[string]any{"status": "sent", "amount_cents": int64(20000)})
	svc, enqueuer := newTestService(t, db, store)

	wf, err := svc.CreateWorkflow(ctx, validCreateRequest("tenant-A"))
	if err != nil {
		t.Fatalf("创建工作流失败: %v", err)
	}

	run, err := svc.TriggerManually(ctx, "tenant-A", wf.ID, "inv-1")
	if err != nil {
		t.Fatalf("手动触发失败: %v", err)
	}
	if run.VersionID != wf.CurrentVersionID {
		t.Fatalf("Run 应固定当前版本")
	}
	if run.SubjectID != "inv-1" {
		t.Fatalf("Run 主体不正确: %s", run.SubjectID)
	}
	if len(enqueuer.enqueued) != 1 {
		t.Fatalf("手动触发应入队 1 个 Run，实际 %d", len(enqueuer.enqueued))
	}
}

// 手动触发的解析失败是硬错误，直接返回给调用方
func TestServiceTriggerManuallySubjectMissingIsHardError(t *testing.T) {
	ctx := context.Background()
	db := setupAutomationTestDB(t)
	svc, _ := newTestService(t, db, newMemStore())

	wf, err := svc.CreateWorkflow(ctx, validCreateRequest("tenant-A"))
	if err != nil {
		t.Fatalf("创建工作流失败: %v", err)
	}
	if _, err := svc.TriggerManually(ctx, "tenant-A", wf.ID, "inv-missing"); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("主体缺失应返回硬错误，实际 %v", err)
	}
}

func TestServiceTriggerManuallyWithoutManualTrigger(t *testing.T) {
	ctx := context.Background()
	db := setupAutomationTestDB(t)
	svc, _ := newTestService(t, db, newMemStore())

	req := validCreateRequest("tenant-A")
	req.Triggers = []TriggerInput{{TriggerType: TriggerTypeEvent, EventType: EventInvoiceOverdue}}
	wf, err := svc.CreateWorkflow(ctx, req)
	if err != nil {
		t.Fatalf("创建工作流失败: %v", err)
	}
	if _, err := svc.TriggerManually(ctx, "tenant-A", wf.ID, "inv-1"); !errors.Is(err, ErrNoManualTrigger) {
		t.Fatalf("期望 ErrNoManualTrigger，实际 %v", err)
	}
}

func TestServiceSetEnabledAndDelete(t *testing.T) {
	ctx := context.Background()
	db := setupAutomationTestDB(t)
	svc, _ := newTestService(t, db, newMemStore())

	wf, err := svc.CreateWorkflow(ctx, validCreateRequest("tenant-A"))
	if err != nil {
		t.Fatalf("创建工作流失败: %v", err)
	}

	if err := svc.SetEnabled(ctx, "tenant-A", wf.ID, false); err != nil {
		t.Fatalf("停用失败: %v", err)
	}
	reloaded, _ := svc.GetWorkflow(ctx, "tenant-A", wf.ID)
	if reloaded.Enabled {
		t.Fatalf("工作流应已停用")
	}

	if err := svc.DeleteWorkflow(ctx, "tenant-A", wf.ID); err != nil {
		t.Fatalf("删除失败: %v", err)
	}
	if _, err := svc.GetWorkflow(ctx, "tenant-A", wf.ID); !errors.Is(err, ErrWorkflowNotFound) {
		t.Fatalf("软删除后应不可见，实际 %v", err)
	}

	// 软删除只隐藏工作流，历史版本保留
	var versions int64
	db.Model(&WorkflowVersion{}).Where("workflow_id = ?", wf.ID).Count(&versions)
	if versions == 0 {
		t.Fatalf("软删除不应清除历史版本")
	}
}

func TestServiceListWorkflowsTenantIsolation(t *testing.T) {
	ctx := context.Background()
	db := setupAutomationTestDB(t)
	svc, _ := newTestService(t, db, newMemStore())

	if _, err := svc.CreateWorkflow(ctx, validCreateRequest("tenant-A")); err != nil {
		t.Fatalf("创建失败: %v", err)
	}
	if _, err := svc.CreateWorkflow(ctx, validCreateRequest("tenant-B")); err != nil {
		t.Fatalf("创建失败: %v", err)
	}

	workflows, total, err := svc.ListWorkflows(ctx, "tenant-A", 1, 10)
	if err != nil {
		t.Fatalf("查询列表失败: %v", err)
	}
	if total != 1 || len(workflows) != 1 || workflows[0].TenantID != "tenant-A" {
		t.Fatalf("列表泄露了其他租户的数据: total=%d", total)
	}

	// 跨租户按 ID 访问也不可见
	other, _, _ := svc.ListWorkflows(ctx, "tenant-B", 1, 10)
	if _, err := svc.GetWorkflow(ctx, "tenant-A", other[0].ID); !errors.Is(err, ErrWorkflowNotFound) {
		t.Fatalf("跨租户访问应返回 not found，实际 %v", err)
	}
}

func TestServiceRunOutcomesScopedByTenant(t *testing.T) {
	ctx := context.Background()
	db := setupAutomationTestDB(t)
	store := newMemStore()
	store.put("tenant-A", ObjectRef{Type: ObjectTypeInvoice, ID: "inv-1"}, map[string]any{"status": "sent"})
	svc, _ := newTestService(t, db, store)

	wf, err := svc.CreateWorkflow(ctx, validCreateRequest("tenant-A"))
	if err != nil {
		t.Fatalf("创建工作流失败: %v", err)
	}
	run, err := svc.TriggerManually(ctx, "tenant-A", wf.ID, "inv-1")
	if err != nil {
		t.Fatalf("手动触发失败: %v", err)
	}

	if _, err := svc.RunOutcomes(ctx, "tenant-B", run.ID); err == nil {
		t.Fatalf("跨租户查询执行结果应失败")
	}
	if _, err := svc.RunOutcomes(ctx, "tenant-A", run.ID); err != nil {
		t.Fatalf("本租户查询执行结果失败: %v", err)
	}
}
