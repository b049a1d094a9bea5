package automation

import (
	"time"

	"gorm.io/datatypes"
)

// TriggerType 触发器类型枚举
type TriggerType string

const (
	TriggerTypeEvent    TriggerType = "event"    // 领域事件触发
	TriggerTypeSchedule TriggerType = "schedule" // 定时触发
	TriggerTypeManual   TriggerType = "manual"   // 手动触发
)

// Run 状态
const (
	RunStatusPending   = "pending"
	RunStatusRunning   = "running"
	RunStatusSucceeded = "succeeded"
	RunStatusFailed    = "failed"
)

// Workflow 自动化工作流
// 编辑不改写历史：每次保存生成新的 WorkflowVersion，
// CurrentVersionID 指向当前生效版本，同一时刻至多一个。
type Workflow struct {
	ID       string `json:"id" gorm:"primaryKey;size:36"`
	TenantID string `json:"tenantId" gorm:"size:36;not null;index"`

	Name        string `json:"name" gorm:"size:255;not null"`
	Description string `json:"description" gorm:"type:text"`

	Enabled          bool   `json:"enabled" gorm:"default:true"`
	CurrentVersionID string `json:"currentVersionId" gorm:"size:36;index"`

	CreatedBy string     `json:"createdBy" gorm:"size:100"`
	CreatedAt time.Time  `json:"createdAt" gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time  `json:"updatedAt" gorm:"not null;autoUpdateTime"`
	DeletedAt *time.Time `json:"deletedAt,omitempty" gorm:"index"`
}

// WorkflowVersion 工作流版本（创建后不可变）
// 进行中的 Run 固定引用创建时的版本，后续编辑不影响已有 Run。
type WorkflowVersion struct {
	ID         string `json:"id" gorm:"primaryKey;size:36"`
	WorkflowID string `json:"workflowId" gorm:"size:36;not null;index;uniqueIndex:idx_workflow_version_number"`
	TenantID   string `json:"tenantId" gorm:"size:36;not null;index"`

	// Number 版本序号，从 1 开始，单调递增
	Number int `json:"number" gorm:"not null;uniqueIndex:idx_workflow_version_number"`

	// SourceType 该版本步骤作用的主体对象类型（invoice, quote, client...）
	// 步骤 settings 在保存时按该类型的属性表校验。
	SourceType string `json:"sourceType" gorm:"size:50;not null"`

	// ScheduleQuery 定时触发时重新求值的目标查询标识（如 overdue_invoices）
	ScheduleQuery string `json:"scheduleQuery,omitempty" gorm:"size:100"`

	CreatedAt time.Time `json:"createdAt" gorm:"not null;autoCreateTime"`

	Steps    []Step    `json:"steps,omitempty" gorm:"foreignKey:VersionID"`
	Triggers []Trigger `json:"triggers,omitempty" gorm:"foreignKey:VersionID"`
}

// Step 工作流版本内的一个有序动作
type Step struct {
	ID        string `json:"id" gorm:"primaryKey;size:36"`
	VersionID string `json:"versionId" gorm:"size:36;not null;index"`

	// Position 执行顺序，版本内从 1 连续递增且唯一
	Position int `json:"position" gorm:"not null"`

	// ActionKind 动作类型标识，由 Registry 解析
	ActionKind string `json:"actionKind" gorm:"size:50;not null"`

	// Settings 动作配置，保存时经过 ValidateSettings 校验
	Settings datatypes.JSONMap `json:"settings" gorm:"type:jsonb"`

	CreatedAt time.Time `json:"createdAt" gorm:"not null;autoCreateTime"`
}

// Trigger 触发器，属于一个工作流版本
type Trigger struct {
	ID        string `json:"id" gorm:"primaryKey;size:36"`
	VersionID string `json:"versionId" gorm:"size:36;not null;index"`
	// TenantID 冗余自所属工作流，便于匹配查询走租户索引
	TenantID string `json:"tenantId" gorm:"size:36;not null;index"`

	TriggerType TriggerType `json:"triggerType" gorm:"size:20;not null;index"`

	// EventType 事件触发时监听的事件类型（见 events.go）
	EventType int `json:"eventType,omitempty" gorm:"index"`

	// Recurrence 定时触发的 cron 表达式，统一按 UTC 求值
	Recurrence string     `json:"recurrence,omitempty" gorm:"size:100"`
	LastRanAt  *time.Time `json:"lastRanAt,omitempty"`
	NextRunAt  *time.Time `json:"nextRunAt,omitempty" gorm:"index"`

	CreatedAt time.Time `json:"createdAt" gorm:"not null;autoCreateTime"`
}

// Run 一次工作流执行实例
// 固定引用创建时的触发器与版本；主体对象在执行时按快照重新解析。
type Run struct {
	ID        string `json:"id" gorm:"primaryKey;size:36"`
	TenantID  string `json:"tenantId" gorm:"size:36;not null;index"`
	TriggerID string `json:"triggerId" gorm:"size:36;not null;index"`
	VersionID string `json:"versionId" gorm:"size:36;not null;index"`

	// 主体对象快照，执行时据此重新加载对象
	SubjectType string `json:"subjectType" gorm:"size:50;not null"`
	SubjectID   string `json:"subjectId" gorm:"size:36;not null;index"`

	// EventSnapshot 触发事件的原始数据，供步骤 settings 引用
	EventSnapshot datatypes.JSONMap `json:"eventSnapshot" gorm:"type:jsonb"`

	Status       string `json:"status" gorm:"size:20;not null;default:pending;index"`
	ErrorMessage string `json:"errorMessage,omitempty" gorm:"type:text"`
	// StoppedAtPosition Stop 提前终止时记录的步骤位置（与失败区分）
	StoppedAtPosition *int `json:"stoppedAtPosition,omitempty"`

	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt" gorm:"not null;autoCreateTime;index"`
}

// StepOutcome 单步执行结果，随执行推进逐条累积
type StepOutcome struct {
	ID    string `json:"id" gorm:"primaryKey;size:36"`
	RunID string `json:"runId" gorm:"size:36;not null;index"`

	Position   int    `json:"position" gorm:"not null"`
	ActionKind string `json:"actionKind" gorm:"size:50;not null"`

	Result  Result            `json:"result" gorm:"size:20;not null"`
	Message string            `json:"message,omitempty" gorm:"type:text"`
	Payload datatypes.JSONMap `json:"payload,omitempty" gorm:"type:jsonb"`

	ExecutedAt time.Time `json:"executedAt" gorm:"not null;autoCreateTime"`
}

func (Workflow) TableName() string        { return "automation_workflows" }
func (WorkflowVersion) TableName() string { return "automation_workflow_versions" }
func (Step) TableName() string            { return "automation_steps" }
func (Trigger) TableName() string         { return "automation_triggers" }
func (Run) TableName() string             { return "automation_runs" }
func (StepOutcome) TableName() string     { return "automation_step_outcomes" }
