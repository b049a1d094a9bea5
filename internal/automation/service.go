package automation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"backend/internal/common"
)

// ErrWorkflowNotFound 工作流不存在或已删除
var ErrWorkflowNotFound = errors.New("workflow not found")

// ErrNoManualTrigger 当前版本没有手动触发器
var ErrNoManualTrigger = errors.New("workflow has no manual trigger")

// Service 工作流编辑与查询服务
// 编辑永远追加新版本：历史版本一经创建不再改写，
// 进行中的 Run 始终读到创建时的步骤。
type Service struct {
	db       *gorm.DB
	registry *Registry
	matcher  *Matcher
	builder  *ContextBuilder
	runner   *Runner
	schedule *ScheduleEvaluator
	store    ObjectStore
	logger   *zap.Logger
}

// NewService 创建编辑服务
func NewService(db *gorm.DB, registry *Registry, matcher *Matcher, builder *ContextBuilder, runner *Runner, schedule *ScheduleEvaluator, store ObjectStore, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:       db,
		registry: registry,
		matcher:  matcher,
		builder:  builder,
		runner:   runner,
		schedule: schedule,
		store:    store,
		logger:   logger,
	}
}

// StepInput 步骤编辑输入，位置按切片顺序从 1 分配
type StepInput struct {
	ActionKind string         `json:"actionKind"`
	Settings   map[string]any `json:"settings"`
}

// TriggerInput 触发器编辑输入
type TriggerInput struct {
	TriggerType TriggerType `json:"triggerType"`
	EventType   int         `json:"eventType,omitempty"`
	Recurrence  string      `json:"recurrence,omitempty"`
}

// CreateWorkflowRequest 创建工作流请求
type CreateWorkflowRequest struct {
	TenantID      string
	Name          string
	Description   string
	SourceType    string
	ScheduleQuery string
	CreatedBy     string
	Steps         []StepInput
	Triggers      []TriggerInput
}

// UpdateWorkflowRequest 更新工作流请求（生成新版本）
type UpdateWorkflowRequest struct {
	Name          string
	Description   string
	SourceType    string
	ScheduleQuery string
	Steps         []StepInput
	Triggers      []TriggerInput
}

// CreateWorkflow 创建工作流及其 v1 版本
func (s *Service) CreateWorkflow(ctx context.Context, req *CreateWorkflowRequest) (*Workflow, error) {
	if req.TenantID == "" || req.Name == "" {
		return nil, fmt.Errorf("tenant id and name are required")
	}
	if _, err := s.store.Schema(req.SourceType); err != nil {
		return nil, fmt.Errorf("unknown source type %q", req.SourceType)
	}

	wf := &Workflow{
		ID:          uuid.New().String(),
		TenantID:    req.TenantID,
		Name:        req.Name,
		Description: req.Description,
		Enabled:     true,
		CreatedBy:   req.CreatedBy,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(wf).Error; err != nil {
			return fmt.Errorf("create workflow: %w", err)
		}
		version, err := s.appendVersion(tx, wf, 1, req.SourceType, req.ScheduleQuery, req.Steps, req.Triggers)
		if err != nil {
			return err
		}
		return tx.Model(wf).Update("current_version_id", version.ID).Error
	})
	if err != nil {
		return nil, err
	}

	s.matcher.InvalidateTenant(req.TenantID)
	s.logger.Info("workflow created",
		zap.String("workflow_id", wf.ID), zap.String("tenant_id", wf.TenantID))
	return s.GetWorkflow(ctx, req.TenantID, wf.ID)
}

// UpdateWorkflow 编辑工作流：追加新版本并切换当前指针。
// 旧版本原样保留，引用它的 Run 不受影响。
func (s *Service) UpdateWorkflow(ctx context.Context, tenantID, workflowID string, req *UpdateWorkflowRequest) (*Workflow, error) {
	wf, err := s.loadWorkflow(ctx, tenantID, workflowID)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.Schema(req.SourceType); err != nil {
		return nil, fmt.Errorf("unknown source type %q", req.SourceType)
	}

	var newNumber int
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 在事务内取最大序号，配合 (workflow_id, number) 唯一索引，
		// 并发编辑不会铸出两个相同序号的版本
		var lastNumber int
		tx.Model(&WorkflowVersion{}).
			Where("workflow_id = ?", wf.ID).
			Select("COALESCE(MAX(number), 0)").
			Scan(&lastNumber)
		newNumber = lastNumber + 1

		version, err := s.appendVersion(tx, wf, newNumber, req.SourceType, req.ScheduleQuery, req.Steps, req.Triggers)
		if err != nil {
			return err
		}
		updates := map[string]any{"current_version_id": version.ID}
		if req.Name != "" {
			updates["name"] = req.Name
		}
		if req.Description != "" {
			updates["description"] = req.Description
		}
		return tx.Model(wf).Updates(updates).Error
	})
	if err != nil {
		return nil, err
	}

	s.matcher.InvalidateTenant(tenantID)
	s.logger.Info("workflow updated",
		zap.String("workflow_id", wf.ID), zap.Int("version", newNumber))
	return s.GetWorkflow(ctx, tenantID, workflowID)
}

// appendVersion 校验并写入一个新的不可变版本（步骤 + 触发器）
func (s *Service) appendVersion(tx *gorm.DB, wf *Workflow, number int, sourceType, scheduleQuery string, steps []StepInput, triggers []TriggerInput) (*WorkflowVersion, error) {
	version := &WorkflowVersion{
		ID:            uuid.New().String(),
		WorkflowID:    wf.ID,
		TenantID:      wf.TenantID,
		Number:        number,
		SourceType:    sourceType,
		ScheduleQuery: scheduleQuery,
	}
	if err := tx.Create(version).Error; err != nil {
		return nil, fmt.Errorf("create version: %w", err)
	}

	for i, input := range steps {
		validated, err := s.registry.ValidateStep(input.ActionKind, input.Settings, sourceType)
		if err != nil {
			return nil, err
		}
		step := &Step{
			ID:         uuid.New().String(),
			VersionID:  version.ID,
			Position:   i + 1,
			ActionKind: input.ActionKind,
			Settings:   validated,
		}
		if err := tx.Create(step).Error; err != nil {
			return nil, fmt.Errorf("create step %d: %w", i+1, err)
		}
	}

	for _, input := range triggers {
		trigger, err := s.buildTrigger(version, sourceType, scheduleQuery, input)
		if err != nil {
			return nil, err
		}
		if err := tx.Create(trigger).Error; err != nil {
			return nil, fmt.Errorf("create trigger: %w", err)
		}
	}
	return version, nil
}

func (s *Service) buildTrigger(version *WorkflowVersion, sourceType, scheduleQuery string, input TriggerInput) (*Trigger, error) {
	trigger := &Trigger{
		ID:          uuid.New().String(),
		VersionID:   version.ID,
		TenantID:    version.TenantID,
		TriggerType: input.TriggerType,
	}

	switch input.TriggerType {
	case TriggerTypeEvent:
		if !KnownEventType(input.EventType) {
			return nil, fmt.Errorf("unknown event type %d", input.EventType)
		}
		if EventSubjectType(input.EventType) != sourceType {
			return nil, fmt.Errorf("event %s carries %q, workflow operates on %q",
				EventName(input.EventType), EventSubjectType(input.EventType), sourceType)
		}
		trigger.EventType = input.EventType

	case TriggerTypeSchedule:
		if err := s.schedule.Validate(input.Recurrence); err != nil {
			return nil, err
		}
		if scheduleQuery == "" {
			return nil, fmt.Errorf("schedule trigger requires a target query")
		}
		next, err := s.schedule.NextAfter(input.Recurrence, time.Now().UTC())
		if err != nil {
			return nil, err
		}
		trigger.Recurrence = input.Recurrence
		trigger.NextRunAt = &next

	case TriggerTypeManual:
		// 无额外配置

	default:
		return nil, fmt.Errorf("unknown trigger type %q", input.TriggerType)
	}
	return trigger, nil
}

// TriggerManually 手动触发：主体由调用方指定，解析失败是硬错误
func (s *Service) TriggerManually(ctx context.Context, tenantID, workflowID, subjectID string) (*Run, error) {
	wf, err := s.loadWorkflow(ctx, tenantID, workflowID)
	if err != nil {
		return nil, err
	}
	version, err := s.currentVersion(ctx, wf)
	if err != nil {
		return nil, err
	}

	var trigger Trigger
	err = s.db.WithContext(ctx).
		Where("version_id = ? AND trigger_type = ?", version.ID, TriggerTypeManual).
		First(&trigger).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoManualTrigger
		}
		return nil, fmt.Errorf("load manual trigger: %w", err)
	}

	actx, err := s.builder.BuildManual(ctx, wf, version, &trigger, tenantID, subjectID)
	if err != nil {
		return nil, err
	}
	run := s.runner.MakeRun(&trigger, actx)
	if err := s.runner.Queue(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// SetEnabled 启用/停用工作流
func (s *Service) SetEnabled(ctx context.Context, tenantID, workflowID string, enabled bool) error {
	wf, err := s.loadWorkflow(ctx, tenantID, workflowID)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Model(wf).Update("enabled", enabled).Error; err != nil {
		return fmt.Errorf("update enabled: %w", err)
	}
	s.matcher.InvalidateTenant(tenantID)
	return nil
}

// DeleteWorkflow 软删除工作流，历史版本与 Run 保留
func (s *Service) DeleteWorkflow(ctx context.Context, tenantID, workflowID string) error {
	wf, err := s.loadWorkflow(ctx, tenantID, workflowID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if err := s.db.WithContext(ctx).Model(wf).Update("deleted_at", now).Error; err != nil {
		return fmt.Errorf("soft delete workflow: %w", err)
	}
	s.matcher.InvalidateTenant(tenantID)
	return nil
}

// GetWorkflow 查询工作流（含当前版本的步骤与触发器）
func (s *Service) GetWorkflow(ctx context.Context, tenantID, workflowID string) (*Workflow, error) {
	return s.loadWorkflow(ctx, tenantID, workflowID)
}

// CurrentVersion 查询工作流当前版本（含步骤与触发器）
func (s *Service) CurrentVersion(ctx context.Context, tenantID, workflowID string) (*WorkflowVersion, error) {
	wf, err := s.loadWorkflow(ctx, tenantID, workflowID)
	if err != nil {
		return nil, err
	}
	return s.currentVersion(ctx, wf)
}

// ListWorkflows 查询租户的工作流列表
func (s *Service) ListWorkflows(ctx context.Context, tenantID string, page, pageSize int) ([]*Workflow, int64, error) {
	pagination := common.PaginationRequest{Page: page, PageSize: pageSize}
	query := s.db.WithContext(ctx).Model(&Workflow{}).
		Scopes(common.ByTenant(tenantID), common.NotDeleted())

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count workflows: %w", err)
	}

	var workflows []*Workflow
	err := query.Order("created_at DESC").
		Offset(pagination.GetOffset()).
		Limit(pagination.GetPageSize()).
		Find(&workflows).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list workflows: %w", err)
	}
	return workflows, total, nil
}

// ListRuns 查询工作流的执行记录
func (s *Service) ListRuns(ctx context.Context, tenantID, workflowID string, limit int) ([]*Run, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := s.db.WithContext(ctx).Model(&Run{}).Scopes(common.ByTenant(tenantID))
	if workflowID != "" {
		query = query.Where("version_id IN (?)",
			s.db.Model(&WorkflowVersion{}).Select("id").Where("workflow_id = ?", workflowID))
	}
	var runs []*Run
	if err := query.Order("created_at DESC").Limit(limit).Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// RunOutcomes 查询一次执行的逐步结果
func (s *Service) RunOutcomes(ctx context.Context, tenantID, runID string) ([]*StepOutcome, error) {
	var run Run
	err := s.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", runID, tenantID).
		First(&run).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("run %s not found", runID)
		}
		return nil, err
	}
	var outcomes []*StepOutcome
	err = s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("position ASC").
		Find(&outcomes).Error
	return outcomes, err
}

func (s *Service) loadWorkflow(ctx context.Context, tenantID, workflowID string) (*Workflow, error) {
	var wf Workflow
	err := s.db.WithContext(ctx).
		Scopes(common.ByTenant(tenantID), common.NotDeleted()).
		Where("id = ?", workflowID).
		First(&wf).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWorkflowNotFound
		}
		return nil, fmt.Errorf("load workflow: %w", err)
	}
	return &wf, nil
}

func (s *Service) currentVersion(ctx context.Context, wf *Workflow) (*WorkflowVersion, error) {
	if wf.CurrentVersionID == "" {
		return nil, fmt.Errorf("workflow %s has no current version", wf.ID)
	}
	var version WorkflowVersion
	err := s.db.WithContext(ctx).
		Preload("Steps", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Preload("Triggers").
		First(&version, "id = ?", wf.CurrentVersionID).Error
	if err != nil {
		return nil, fmt.Errorf("load current version: %w", err)
	}
	return &version, nil
}
