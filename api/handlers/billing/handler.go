package billing

import (
	"net/http"
	"strconv"

	response "backend/api/handlers/common"
	"backend/internal/billing"

	"github.com/gin-gonic/gin"
)

// Handler 计费管理 API 处理器
// 状态变更操作会在请求路径内同步派发领域事件。
type Handler struct {
	service *billing.Service
}

// NewHandler 创建处理器
func NewHandler(service *billing.Service) *Handler {
	return &Handler{service: service}
}

// CreateClient 创建客户
// @Summary 创建客户
// @Tags Billing
// @Accept json
// @Produce json
// @Param request body billing.CreateClientRequest true "客户参数"
// @Success 201 {object} billing.Client
// @Failure 400 {object} response.ErrorResponse
// @Router /api/billing/clients [post]
func (h *Handler) CreateClient(c *gin.Context) {
	tenantID := c.GetString("tenant_id")

	var req billing.CreateClientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求参数错误: " + err.Error()})
		return
	}

	client, err := h.service.CreateClient(c.Request.Context(), tenantID, &req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{Success: false, Message: err.Error()})
		return
	}
	c.JSON(http.StatusCreated, client)
}

// CreateInvoice 创建发票
// @Summary 创建发票（草稿）
// @Tags Billing
// @Accept json
// @Produce json
// @Param request body billing.CreateInvoiceRequest true "发票参数"
// @Success 201 {object} billing.Invoice
// @Failure 400 {object} response.ErrorResponse
// @Router /api/billing/invoices [post]
func (h *Handler) CreateInvoice(c *gin.Context) {
	tenantID := c.GetString("tenant_id")

	var req billing.CreateInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求参数错误: " + err.Error()})
		return
	}

	invoice, err := h.service.CreateInvoice(c.Request.Context(), tenantID, &req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{Success: false, Message: err.Error()})
		return
	}
	c.JSON(http.StatusCreated, invoice)
}

// ListInvoices 查询发票列表
// @Summary 查询发票列表
// @Tags Billing
// @Produce json
// @Param status query string false "按状态过滤"
// @Param page query int false "页码"
// @Param page_size query int false "每页数量"
// @Success 200 {object} response.ListResponse
// @Router /api/billing/invoices [get]
func (h *Handler) ListInvoices(c *gin.Context) {
	tenantID := c.GetString("tenant_id")
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	status := c.Query("status")

	invoices, total, err := h.service.ListInvoices(c.Request.Context(), tenantID, status, page, pageSize)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{Success: false, Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, response.ListResponse{
		Items:      invoices,
		Pagination: response.NewPaginationMeta(page, pageSize, total),
	})
}

// GetInvoice 查询发票详情
// @Summary 查询发票详情
// @Tags Billing
// @Produce json
// @Param id path string true "发票 ID"
// @Success 200 {object} billing.Invoice
// @Failure 404 {object} response.ErrorResponse
// @Router /api/billing/invoices/{id} [get]
func (h *Handler) GetInvoice(c *gin.Context) {
	tenantID := c.GetString("tenant_id")
	invoiceID := c.Param("id")

	invoice, err := h.service.GetInvoice(c.Request.Context(), tenantID, invoiceID)
	if err != nil {
		c.JSON(http.StatusNotFound, response.ErrorResponse{Success: false, Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, invoice)
}

// SendInvoice 发出发票
// @Summary 发出发票
// @Tags Billing
// @Produce json
// @Param id path string true "发票 ID"
// @Success 200 {object} billing.Invoice
// @Failure 400 {object} response.ErrorResponse
// @Router /api/billing/invoices/{id}/send [post]
func (h *Handler) SendInvoice(c *gin.Context) {
	tenantID := c.GetString("tenant_id")
	invoiceID := c.Param("id")

	invoice, err := h.service.SendInvoice(c.Request.Context(), tenantID, invoiceID)
	if err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, invoice)
}

// RecordPayment 登记支付
// @Summary 登记支付
// @Tags Billing
// @Accept json
// @Produce json
// @Param request body billing.RecordPaymentRequest true "支付参数"
// @Success 201 {object} billing.Payment
// @Failure 400 {object} response.ErrorResponse
// @Router /api/billing/payments [post]
func (h *Handler) RecordPayment(c *gin.Context) {
	tenantID := c.GetString("tenant_id")

	var req billing.RecordPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求参数错误: " + err.Error()})
		return
	}

	payment, err := h.service.RecordPayment(c.Request.Context(), tenantID, &req)
	if err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: err.Error()})
		return
	}
	c.JSON(http.StatusCreated, payment)
}

// CreateQuote 创建报价单
// @Summary 创建报价单（草稿）
// @Tags Billing
// @Accept json
// @Produce json
// @Param request body billing.CreateQuoteRequest true "报价单参数"
// @Success 201 {object} billing.Quote
// @Failure 400 {object} response.ErrorResponse
// @Router /api/billing/quotes [post]
func (h *Handler) CreateQuote(c *gin.Context) {
	tenantID := c.GetString("tenant_id")

	var req billing.CreateQuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求参数错误: " + err.Error()})
		return
	}

	quote, err := h.service.CreateQuote(c.Request.Context(), tenantID, &req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{Success: false, Message: err.Error()})
		return
	}
	c.JSON(http.StatusCreated, quote)
}

// AcceptQuote 接受报价单
// @Summary 接受报价单
// @Tags Billing
// @Produce json
// @Param id path string true "报价单 ID"
// @Success 200 {object} billing.Quote
// @Failure 400 {object} response.ErrorResponse
// @Router /api/billing/quotes/{id}/accept [post]
func (h *Handler) AcceptQuote(c *gin.Context) {
	tenantID := c.GetString("tenant_id")
	quoteID := c.Param("id")

	quote, err := h.service.AcceptQuote(c.Request.Context(), tenantID, quoteID)
	if err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, quote)
}

// SweepOverdue 扫描逾期发票
// @Summary 标记逾期发票并派发事件
// @Tags Billing
// @Produce json
// @Success 200 {object} response.APIResponse
// @Router /api/billing/invoices/sweep-overdue [post]
func (h *Handler) SweepOverdue(c *gin.Context) {
	tenantID := c.GetString("tenant_id")

	marked, err := h.service.SweepOverdueInvoices(c.Request.Context(), tenantID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{Success: false, Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Data: gin.H{"marked": marked}})
}
