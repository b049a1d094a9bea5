package automations

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"

	"backend/internal/automation"
	"backend/internal/billing"
	"backend/internal/middleware"
)

// stubQueue 记录入队的 Run，不连接真实队列
type stubQueue struct {
	enqueued []string
}

func (q *stubQueue) EnqueueRun(runID, tenantID string) error {
	q.enqueued = append(q.enqueued, runID)
	return nil
}

type handlerFixture struct {
	router *gin.Engine
	db     *gorm.DB
	queue  *stubQueue
	gate   *automation.Gate
}

func setupHandlerTest(t *testing.T) *handlerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:automations_api_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("打开 sqlite 失败: %v", err)
	}
	if err := db.AutoMigrate(
		&billing.Client{}, &billing.Invoice{}, &billing.Quote{}, &billing.Payment{}, &billing.Note{},
		&automation.Workflow{}, &automation.WorkflowVersion{}, &automation.Step{},
		&automation.Trigger{}, &automation.Run{}, &automation.StepOutcome{},
	); err != nil {
		t.Fatalf("迁移 schema 失败: %v", err)
	}

	logger := zaptest.NewLogger(t)
	store := billing.NewStore(db)
	normalizers := automation.NewNormalizerRegistry()
	registry := automation.NewDefaultRegistry(automation.RegistryDeps{
		Store:       store,
		Normalizers: normalizers,
	})
	gate := automation.NewGate()
	matcher := automation.NewMatcher(db, gate)
	builder := automation.NewContextBuilder(store)
	schedule := automation.NewScheduleEvaluator()
	queue := &stubQueue{}
	runner := automation.NewRunner(db, registry, store, queue, logger)
	service := automation.NewService(db, registry, matcher, builder, runner, schedule, store, logger)

	handler := NewAutomationHandler(service, registry, gate)

	router := gin.New()
	group := router.Group("/api")
	group.Use(middleware.TenantHeaderMiddleware())
	automations := group.Group("/automations")
	{
		automations.GET("", handler.ListAutomations)
		automations.POST("", handler.CreateAutomation)
		automations.GET("/actions", handler.ListActionKinds)
		automations.GET("/engine", handler.EngineStatus)
		automations.POST("/engine/pause", handler.PauseEngine)
		automations.POST("/engine/resume", handler.ResumeEngine)
		automations.GET("/runs/:runId/outcomes", handler.GetRunOutcomes)
		automations.GET("/:id", handler.GetAutomation)
		automations.PUT("/:id", handler.UpdateAutomation)
		automations.DELETE("/:id", handler.DeleteAutomation)
		automations.POST("/:id/enable", handler.EnableAutomation)
		automations.POST("/:id/disable", handler.DisableAutomation)
		automations.POST("/:id/trigger", handler.TriggerAutomation)
		automations.GET("/:id/runs", handler.ListRuns)
	}

	return &handlerFixture{router: router, db: db, queue: queue, gate: gate}
}

func (f *handlerFixture) request(t *testing.T, method, path, tenantID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("序列化请求体失败: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if tenantID != "" {
		req.Header.Set(middleware.HeaderTenantID, tenantID)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func validAutomationBody() map[string]any {
	return map[string]any{
		"name":       "overdue follow-up",
		"sourceType": "invoice",
		"steps": []map[string]any{
			{"actionKind": "condition", "settings": map[string]any{"expression": "amount_cents > 1000"}},
			{"actionKind": "modify_property", "settings": map[string]any{"property": "memo", "value": "follow up"}},
		},
		"triggers": []map[string]any{
			{"triggerType": "event", "eventType": automation.EventInvoiceOverdue},
			{"triggerType": "manual"},
		},
	}
}

func TestCreateAndGetAutomation(t *testing.T) {
	f := setupHandlerTest(t)

	w := f.request(t, http.MethodPost, "/api/automations", "tenant-A", validAutomationBody())
	if w.Code != http.StatusCreated {
		t.Fatalf("创建应返回 201, 实际 %d: %s", w.Code, w.Body.String())
	}

	var wf automation.Workflow
	if err := json.Unmarshal(w.Body.Bytes(), &wf); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if wf.ID == "" || wf.TenantID != "tenant-A" || !wf.Enabled {
		t.Fatalf("工作流字段不正确: %+v", wf)
	}

	w = f.request(t, http.MethodGet, "/api/automations/"+wf.ID, "tenant-A", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("查询详情应返回 200, 实际 %d", w.Code)
	}
	var detail AutomationDetail
	if err := json.Unmarshal(w.Body.Bytes(), &detail); err != nil {
		t.Fatalf("解析详情失败: %v", err)
	}
	if detail.Version == nil || detail.Version.Number != 1 {
		t.Fatalf("详情应包含当前版本: %+v", detail.Version)
	}

	// 跨租户不可见
	w = f.request(t, http.MethodGet, "/api/automations/"+wf.ID, "tenant-B", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("跨租户查询应返回 404, 实际 %d", w.Code)
	}
}

func TestCreateAutomationValidation(t *testing.T) {
	f := setupHandlerTest(t)

	// 缺少租户头
	w := f.request(t, http.MethodPost, "/api/automations", "", validAutomationBody())
	if w.Code != http.StatusBadRequest {
		t.Fatalf("缺少租户头应返回 400, 实际 %d", w.Code)
	}

	// 非法动作设置
	body := validAutomationBody()
	body["steps"] = []map[string]any{
		{"actionKind": "condition", "settings": map[string]any{"expression": ""}},
	}
	w = f.request(t, http.MethodPost, "/api/automations", "tenant-A", body)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("非法设置应返回 400, 实际 %d: %s", w.Code, w.Body.String())
	}

	// 未知来源类型
	body = validAutomationBody()
	body["sourceType"] = "subscription"
	w = f.request(t, http.MethodPost, "/api/automations", "tenant-A", body)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("未知来源类型应返回 400, 实际 %d", w.Code)
	}
}

func TestTriggerAutomationEnqueuesRun(t *testing.T) {
	f := setupHandlerTest(t)

	w := f.request(t, http.MethodPost, "/api/automations", "tenant-A", validAutomationBody())
	if w.Code != http.StatusCreated {
		t.Fatalf("创建失败: %s", w.Body.String())
	}
	var wf automation.Workflow
	json.Unmarshal(w.Body.Bytes(), &wf)

	invoice := &billing.Invoice{
		ID:          "inv-1",
		TenantID:    "tenant-A",
		Number:      "INV-001",
		Status:      billing.InvoiceStatusSent,
		AmountCents: 50000,
		Currency:    "USD",
	}
	if err := f.db.Create(invoice).Error; err != nil {
		t.Fatalf("写入发票失败: %v", err)
	}

	w = f.request(t, http.MethodPost, "/api/automations/"+wf.ID+"/trigger", "tenant-A",
		map[string]any{"subjectId": "inv-1"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("手动触发应返回 202, 实际 %d: %s", w.Code, w.Body.String())
	}
	if len(f.queue.enqueued) != 1 {
		t.Fatalf("应入队 1 个 Run, 实际 %d", len(f.queue.enqueued))
	}

	// 主体不存在是硬错误
	w = f.request(t, http.MethodPost, "/api/automations/"+wf.ID+"/trigger", "tenant-A",
		map[string]any{"subjectId": "missing"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("主体缺失应返回 400, 实际 %d", w.Code)
	}

	w = f.request(t, http.MethodGet, "/api/automations/"+wf.ID+"/runs", "tenant-A", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("查询执行记录失败: %d", w.Code)
	}
}

func TestEnableDisableDelete(t *testing.T) {
	f := setupHandlerTest(t)

	w := f.request(t, http.MethodPost, "/api/automations", "tenant-A", validAutomationBody())
	var wf automation.Workflow
	json.Unmarshal(w.Body.Bytes(), &wf)

	w = f.request(t, http.MethodPost, "/api/automations/"+wf.ID+"/disable", "tenant-A", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("停用失败: %d", w.Code)
	}
	w = f.request(t, http.MethodPost, "/api/automations/"+wf.ID+"/enable", "tenant-A", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("启用失败: %d", w.Code)
	}

	w = f.request(t, http.MethodDelete, "/api/automations/"+wf.ID, "tenant-A", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("删除失败: %d", w.Code)
	}
	w = f.request(t, http.MethodGet, "/api/automations/"+wf.ID, "tenant-A", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("删除后应返回 404, 实际 %d", w.Code)
	}
}

func TestEngineEndpoints(t *testing.T) {
	f := setupHandlerTest(t)

	w := f.request(t, http.MethodGet, "/api/automations/engine", "tenant-A", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("查询引擎状态失败: %d", w.Code)
	}
	var status EngineStatusResponse
	json.Unmarshal(w.Body.Bytes(), &status)
	if !status.Enabled {
		t.Fatal("引擎默认应为开启")
	}

	w = f.request(t, http.MethodPost, "/api/automations/engine/pause", "tenant-A", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("暂停引擎失败: %d", w.Code)
	}
	if f.gate.Enabled() {
		t.Fatal("暂停后引擎开关应关闭")
	}

	w = f.request(t, http.MethodPost, "/api/automations/engine/resume", "tenant-A", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("恢复引擎失败: %d", w.Code)
	}
	if !f.gate.Enabled() {
		t.Fatal("恢复后引擎开关应打开")
	}
}

func TestListActionKinds(t *testing.T) {
	f := setupHandlerTest(t)

	w := f.request(t, http.MethodGet, "/api/automations/actions", "tenant-A", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("查询动作类型失败: %d", w.Code)
	}
	var resp struct {
		Success bool     `json:"success"`
		Data    []string `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if len(resp.Data) != 11 {
		t.Fatalf("内置动作应为 11 种, 实际 %d: %v", len(resp.Data), resp.Data)
	}
}
