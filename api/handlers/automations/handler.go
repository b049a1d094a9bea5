package automations

import (
	"errors"
	"net/http"
	"strconv"

	response "backend/api/handlers/common"
	"backend/internal/automation"

	"github.com/gin-gonic/gin"
)

// AutomationHandler 自动化工作流管理 Handler
type AutomationHandler struct {
	service  *automation.Service
	registry *automation.Registry
	gate     *automation.Gate
}

// NewAutomationHandler 创建 AutomationHandler 实例
func NewAutomationHandler(service *automation.Service, registry *automation.Registry, gate *automation.Gate) *AutomationHandler {
	return &AutomationHandler{service: service, registry: registry, gate: gate}
}

// ListAutomations 查询自动化工作流列表
// @Summary 查询自动化工作流列表
// @Tags Automations
// @Produce json
// @Param page query int false "页码"
// @Param page_size query int false "每页数量"
// @Success 200 {object} response.ListResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/automations [get]
func (h *AutomationHandler) ListAutomations(c *gin.Context) {
	tenantID := c.GetString("tenant_id")

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	workflows, total, err := h.service.ListWorkflows(c.Request.Context(), tenantID, page, pageSize)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{Success: false, Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, response.ListResponse{
		Items:      workflows,
		Pagination: response.NewPaginationMeta(page, pageSize, total),
	})
}

// GetAutomation 查询自动化工作流详情（含当前版本）
// @Summary 查询自动化工作流详情
// @Tags Automations
// @Produce json
// @Param id path string true "工作流 ID"
// @Success 200 {object} AutomationDetail
// @Failure 404 {object} response.ErrorResponse
// @Router /api/automations/{id} [get]
func (h *AutomationHandler) GetAutomation(c *gin.Context) {
	tenantID := c.GetString("tenant_id")
	workflowID := c.Param("id")

	wf, err := h.service.GetWorkflow(c.Request.Context(), tenantID, workflowID)
	if err != nil {
		h.renderError(c, err)
		return
	}
	version, err := h.service.CurrentVersion(c.Request.Context(), tenantID, workflowID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{Success: false, Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, AutomationDetail{Workflow: wf, Version: version})
}

// CreateAutomation 创建自动化工作流
// @Summary 创建自动化工作流
// @Tags Automations
// @Accept json
// @Produce json
// @Param request body CreateAutomationRequest true "创建参数"
// @Success 201 {object} automation.Workflow
// @Failure 400 {object} response.ErrorResponse
// @Router /api/automations [post]
func (h *AutomationHandler) CreateAutomation(c *gin.Context) {
	tenantID := c.GetString("tenant_id")
	userID := c.GetString("user_id")

	var req CreateAutomationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "请求参数错误: " + err.Error(),
		})
		return
	}

	wf, err := h.service.CreateWorkflow(c.Request.Context(), &automation.CreateWorkflowRequest{
		TenantID:      tenantID,
		Name:          req.Name,
		Description:   req.Description,
		SourceType:    req.SourceType,
		ScheduleQuery: req.ScheduleQuery,
		CreatedBy:     userID,
		Steps:         req.Steps,
		Triggers:      req.Triggers,
	})
	if err != nil {
		h.renderValidation(c, err)
		return
	}

	c.JSON(http.StatusCreated, wf)
}

// UpdateAutomation 更新自动化工作流（追加新版本）
// @Summary 更新自动化工作流
// @Tags Automations
// @Accept json
// @Produce json
// @Param id path string true "工作流 ID"
// @Param request body UpdateAutomationRequest true "更新参数"
// @Success 200 {object} automation.Workflow
// @Failure 400 {object} response.ErrorResponse
// @Router /api/automations/{id} [put]
func (h *AutomationHandler) UpdateAutomation(c *gin.Context) {
	tenantID := c.GetString("tenant_id")
	workflowID := c.Param("id")

	var req UpdateAutomationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "请求参数错误: " + err.Error(),
		})
		return
	}

	wf, err := h.service.UpdateWorkflow(c.Request.Context(), tenantID, workflowID, &automation.UpdateWorkflowRequest{
		Name:          req.Name,
		Description:   req.Description,
		SourceType:    req.SourceType,
		ScheduleQuery: req.ScheduleQuery,
		Steps:         req.Steps,
		Triggers:      req.Triggers,
	})
	if err != nil {
		h.renderValidation(c, err)
		return
	}

	c.JSON(http.StatusOK, wf)
}

// EnableAutomation 启用自动化工作流
// @Summary 启用自动化工作流
// @Tags Automations
// @Param id path string true "工作流 ID"
// @Success 200 {object} response.APIResponse
// @Router /api/automations/{id}/enable [post]
func (h *AutomationHandler) EnableAutomation(c *gin.Context) {
	h.setEnabled(c, true)
}

// DisableAutomation 停用自动化工作流
// @Summary 停用自动化工作流
// @Tags Automations
// @Param id path string true "工作流 ID"
// @Success 200 {object} response.APIResponse
// @Router /api/automations/{id}/disable [post]
func (h *AutomationHandler) DisableAutomation(c *gin.Context) {
	h.setEnabled(c, false)
}

func (h *AutomationHandler) setEnabled(c *gin.Context, enabled bool) {
	tenantID := c.GetString("tenant_id")
	workflowID := c.Param("id")

	if err := h.service.SetEnabled(c.Request.Context(), tenantID, workflowID, enabled); err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true})
}

// DeleteAutomation 删除自动化工作流（软删除）
// @Summary 删除自动化工作流
// @Tags Automations
// @Param id path string true "工作流 ID"
// @Success 200 {object} response.APIResponse
// @Failure 404 {object} response.ErrorResponse
// @Router /api/automations/{id} [delete]
func (h *AutomationHandler) DeleteAutomation(c *gin.Context) {
	tenantID := c.GetString("tenant_id")
	workflowID := c.Param("id")

	if err := h.service.DeleteWorkflow(c.Request.Context(), tenantID, workflowID); err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true})
}

// TriggerAutomation 手动触发自动化工作流
// @Summary 手动触发自动化工作流
// @Tags Automations
// @Accept json
// @Produce json
// @Param id path string true "工作流 ID"
// @Param request body TriggerAutomationRequest true "触发参数"
// @Success 202 {object} automation.Run
// @Failure 400 {object} response.ErrorResponse
// @Router /api/automations/{id}/trigger [post]
func (h *AutomationHandler) TriggerAutomation(c *gin.Context) {
	tenantID := c.GetString("tenant_id")
	workflowID := c.Param("id")

	var req TriggerAutomationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "请求参数错误: " + err.Error(),
		})
		return
	}

	run, err := h.service.TriggerManually(c.Request.Context(), tenantID, workflowID, req.SubjectID)
	if err != nil {
		// 手动触发的主体解析失败要反馈给调用方，不静默跳过
		if errors.Is(err, automation.ErrObjectNotFound) || errors.Is(err, automation.ErrNoManualTrigger) {
			c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: err.Error()})
			return
		}
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, run)
}

// ListRuns 查询自动化工作流的执行记录
// @Summary 查询执行记录
// @Tags Automations
// @Produce json
// @Param id path string true "工作流 ID"
// @Param limit query int false "数量上限"
// @Success 200 {object} response.APIResponse
// @Router /api/automations/{id}/runs [get]
func (h *AutomationHandler) ListRuns(c *gin.Context) {
	tenantID := c.GetString("tenant_id")
	workflowID := c.Param("id")

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	runs, err := h.service.ListRuns(c.Request.Context(), tenantID, workflowID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{Success: false, Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, response.APIResponse{Success: true, Data: runs})
}

// GetRunOutcomes 查询一次执行的逐步结果
// @Summary 查询执行的逐步结果
// @Tags Automations
// @Produce json
// @Param runId path string true "执行 ID"
// @Success 200 {object} response.APIResponse
// @Failure 404 {object} response.ErrorResponse
// @Router /api/automations/runs/{runId}/outcomes [get]
func (h *AutomationHandler) GetRunOutcomes(c *gin.Context) {
	tenantID := c.GetString("tenant_id")
	runID := c.Param("runId")

	outcomes, err := h.service.RunOutcomes(c.Request.Context(), tenantID, runID)
	if err != nil {
		c.JSON(http.StatusNotFound, response.ErrorResponse{Success: false, Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, response.APIResponse{Success: true, Data: outcomes})
}

// ListActionKinds 查询已注册的动作类型
// @Summary 查询可用动作类型
// @Tags Automations
// @Produce json
// @Success 200 {object} response.APIResponse
// @Router /api/automations/actions [get]
func (h *AutomationHandler) ListActionKinds(c *gin.Context) {
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Data: h.registry.Kinds()})
}

// EngineStatus 查询引擎开关状态
// @Summary 查询引擎开关状态
// @Tags Automations
// @Produce json
// @Success 200 {object} EngineStatusResponse
// @Router /api/automations/engine [get]
func (h *AutomationHandler) EngineStatus(c *gin.Context) {
	c.JSON(http.StatusOK, EngineStatusResponse{Enabled: h.gate.Enabled()})
}

// PauseEngine 暂停引擎（新事件不再匹配，已入队执行不受影响）
// @Summary 暂停引擎
// @Tags Automations
// @Success 200 {object} EngineStatusResponse
// @Router /api/automations/engine/pause [post]
func (h *AutomationHandler) PauseEngine(c *gin.Context) {
	h.gate.Disable()
	c.JSON(http.StatusOK, EngineStatusResponse{Enabled: h.gate.Enabled()})
}

// ResumeEngine 恢复引擎
// @Summary 恢复引擎
// @Tags Automations
// @Success 200 {object} EngineStatusResponse
// @Router /api/automations/engine/resume [post]
func (h *AutomationHandler) ResumeEngine(c *gin.Context) {
	h.gate.Enable()
	c.JSON(http.StatusOK, EngineStatusResponse{Enabled: h.gate.Enabled()})
}

func (h *AutomationHandler) renderError(c *gin.Context, err error) {
	if errors.Is(err, automation.ErrWorkflowNotFound) {
		c.JSON(http.StatusNotFound, response.ErrorResponse{Success: false, Message: err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, response.ErrorResponse{Success: false, Message: err.Error()})
}

func (h *AutomationHandler) renderValidation(c *gin.Context, err error) {
	var verr *automation.ValidationError
	if errors.As(err, &verr) {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Code: "invalid_settings", Message: verr.Error()})
		return
	}
	c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: err.Error()})
}
