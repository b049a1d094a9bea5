package billing

import (
	"bytes"
	"context"
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

// recordingDispatcher 记录派发的领域事件
type recordingDispatcher struct {
	events []automation.Event
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, event automation.Event) int {
	d.events = append(d.events, event)
	return 0
}

type billingFixture struct {
	router     *gin.Engine
	db         *gorm.DB
	dispatcher *recordingDispatcher
}

func setupBillingHandlerTest(t *testing.T) *billingFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:billing_api_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("打开 sqlite 失败: %v", err)
	}
	if err := db.AutoMigrate(
		&billing.Client{}, &billing.Invoice{}, &billing.Quote{}, &billing.Payment{}, &billing.Note{},
	); err != nil {
		t.Fatalf("迁移 schema 失败: %v", err)
	}

	dispatcher := &recordingDispatcher{}
	service := billing.NewService(db, dispatcher, zaptest.NewLogger(t))
	handler := NewHandler(service)

	router := gin.New()
	group := router.Group("/api")
	group.Use(middleware.TenantHeaderMiddleware())
	billingGroup := group.Group("/billing")
	{
		billingGroup.POST("/clients", handler.CreateClient)
		billingGroup.GET("/invoices", handler.ListInvoices)
		billingGroup.POST("/invoices", handler.CreateInvoice)
		billingGroup.POST("/invoices/sweep-overdue", handler.SweepOverdue)
		billingGroup.GET("/invoices/:id", handler.GetInvoice)
		billingGroup.POST("/invoices/:id/send", handler.SendInvoice)
		billingGroup.POST("/payments", handler.RecordPayment)
		billingGroup.POST("/quotes", handler.CreateQuote)
		billingGroup.POST("/quotes/:id/accept", handler.AcceptQuote)
	}

	return &billingFixture{router: router, db: db, dispatcher: dispatcher}
}

func (f *billingFixture) request(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		if err != nil {
			t.Fatalf("序列化请求体失败: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.HeaderTenantID, "tenant-A")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestInvoiceLifecycleOverHTTP(t *testing.T) {
	f := setupBillingHandlerTest(t)

	// 创建客户
	w := f.request(t, http.MethodPost, "/api/billing/clients", map[string]any{
		"name":  "Acme Corp",
		"email": "billing@acme.test",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("创建客户应返回 201, 实际 %d: %s", w.Code, w.Body.String())
	}
	var client billing.Client
	json.Unmarshal(w.Body.Bytes(), &client)

	// 创建发票（草稿）
	w = f.request(t, http.MethodPost, "/api/billing/invoices", map[string]any{
		"clientId":    client.ID,
		"number":      "INV-001",
		"amountCents": 50000,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("创建发票应返回 201, 实际 %d: %s", w.Code, w.Body.String())
	}
	var invoice billing.Invoice
	json.Unmarshal(w.Body.Bytes(), &invoice)
	if invoice.Status != billing.InvoiceStatusDraft {
		t.Fatalf("新发票应为草稿, 实际 %s", invoice.Status)
	}

	// 寄送发票
	w = f.request(t, http.MethodPost, "/api/billing/invoices/"+invoice.ID+"/send", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("寄送发票应返回 200, 实际 %d: %s", w.Code, w.Body.String())
	}

	// 重复寄送被拒
	w = f.request(t, http.MethodPost, "/api/billing/invoices/"+invoice.ID+"/send", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("重复寄送应返回 400, 实际 %d", w.Code)
	}

	// 登记支付
	w = f.request(t, http.MethodPost, "/api/billing/payments", map[string]any{
		"invoiceId":   invoice.ID,
		"amountCents": 50000,
		"method":      "bank_transfer",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("登记支付应返回 201, 实际 %d: %s", w.Code, w.Body.String())
	}

	// 发票结清
	w = f.request(t, http.MethodGet, "/api/billing/invoices/"+invoice.ID, nil)
	json.Unmarshal(w.Body.Bytes(), &invoice)
	if invoice.Status != billing.InvoiceStatusPaid {
		t.Fatalf("支付后发票应为已结清, 实际 %s", invoice.Status)
	}

	// 事件按序派发
	var types []int
	for _, e := range f.dispatcher.events {
		types = append(types, e.Type)
	}
	want := []int{
		automation.EventClientCreated,
		automation.EventInvoiceCreated,
		automation.EventInvoiceSent,
		automation.EventPaymentReceived,
		automation.EventInvoicePaid,
	}
	if len(types) != len(want) {
		t.Fatalf("事件数量不正确: %v", types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("事件顺序不正确: got %v want %v", types, want)
		}
	}
}

func TestListInvoicesByStatus(t *testing.T) {
	f := setupBillingHandlerTest(t)

	for i, status := range []string{billing.InvoiceStatusDraft, billing.InvoiceStatusSent} {
		inv := &billing.Invoice{
			ID:          fmt.Sprintf("inv-%d", i),
			TenantID:    "tenant-A",
			Number:      fmt.Sprintf("INV-%03d", i),
			Status:      status,
			AmountCents: 1000,
			Currency:    "USD",
		}
		if err := f.db.Create(inv).Error; err != nil {
			t.Fatalf("写入发票失败: %v", err)
		}
	}

	w := f.request(t, http.MethodGet, "/api/billing/invoices?status=sent", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("查询发票列表失败: %d", w.Code)
	}
	var resp struct {
		Items      []billing.Invoice `json:"items"`
		Pagination struct {
			Total int64 `json:"total"`
		} `json:"pagination"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if resp.Pagination.Total != 1 || len(resp.Items) != 1 || resp.Items[0].Status != billing.InvoiceStatusSent {
		t.Fatalf("状态过滤结果不正确: %+v", resp)
	}
}

func TestQuoteAcceptOverHTTP(t *testing.T) {
	f := setupBillingHandlerTest(t)

	w := f.request(t, http.MethodPost, "/api/billing/quotes", map[string]any{
		"clientId":    "client-1",
		"number":      "Q-001",
		"amountCents": 75000,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("创建报价单应返回 201, 实际 %d: %s", w.Code, w.Body.String())
	}
	var quote billing.Quote
	json.Unmarshal(w.Body.Bytes(), &quote)

	w = f.request(t, http.MethodPost, "/api/billing/quotes/"+quote.ID+"/accept", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("接受报价单应返回 200, 实际 %d: %s", w.Code, w.Body.String())
	}
	json.Unmarshal(w.Body.Bytes(), &quote)
	if quote.Status != billing.QuoteStatusAccepted {
		t.Fatalf("报价单应为已接受, 实际 %s", quote.Status)
	}

	found := false
	for _, e := range f.dispatcher.events {
		if e.Type == automation.EventQuoteAccepted {
			found = true
		}
	}
	if !found {
		t.Fatal("应派发报价单接受事件")
	}
}

func TestSweepOverdueOverHTTP(t *testing.T) {
	f := setupBillingHandlerTest(t)

	past := time.Now().UTC().Add(-48 * time.Hour)
	inv := &billing.Invoice{
		ID:          "inv-late",
		TenantID:    "tenant-A",
		Number:      "INV-LATE",
		Status:      billing.InvoiceStatusSent,
		AmountCents: 1000,
		Currency:    "USD",
		DueDate:     &past,
	}
	if err := f.db.Create(inv).Error; err != nil {
		t.Fatalf("写入发票失败: %v", err)
	}

	w := f.request(t, http.MethodPost, "/api/billing/invoices/sweep-overdue", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("逾期扫描应返回 200, 实际 %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Success bool `json:"success"`
		Data    struct {
			Marked int `json:"marked"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if resp.Data.Marked != 1 {
		t.Fatalf("应标记 1 张逾期发票, 实际 %d", resp.Data.Marked)
	}
}
