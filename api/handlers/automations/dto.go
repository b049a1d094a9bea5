package automations

import (
	"backend/internal/automation"
)

// CreateAutomationRequest 创建自动化工作流请求
type CreateAutomationRequest struct {
	Name          string                    `json:"name" binding:"required"`
	Description   string                    `json:"description"`
	SourceType    string                    `json:"sourceType" binding:"required"`
	ScheduleQuery string                    `json:"scheduleQuery"`
	Steps         []automation.StepInput    `json:"steps" binding:"required"`
	Triggers      []automation.TriggerInput `json:"triggers" binding:"required"`
}

// UpdateAutomationRequest 更新自动化工作流请求（生成新版本）
type UpdateAutomationRequest struct {
	Name          string                    `json:"name"`
	Description   string                    `json:"description"`
	SourceType    string                    `json:"sourceType" binding:"required"`
	ScheduleQuery string                    `json:"scheduleQuery"`
	Steps         []automation.StepInput    `json:"steps" binding:"required"`
	Triggers      []automation.TriggerInput `json:"triggers" binding:"required"`
}

// TriggerAutomationRequest 手动触发请求
type TriggerAutomationRequest struct {
	SubjectID string `json:"subjectId" binding:"required"`
}

// AutomationDetail 工作流详情（含当前版本）
type AutomationDetail struct {
	Workflow *automation.Workflow        `json:"workflow"`
	Version  *automation.WorkflowVersion `json:"version"`
}

// EngineStatusResponse 引擎开关状态
type EngineStatusResponse struct {
	Enabled bool `json:"enabled"`
}
