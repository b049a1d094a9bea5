package automation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"backend/internal/metrics"
)

// Enqueuer 异步执行后端（队列）的生产侧能力
type Enqueuer interface {
	EnqueueRun(runID, tenantID string) error
}

// Runner 工作流执行器
// 生产侧：从匹配结果构造 Run 并交给队列；消费侧：按步骤顺序执行
// 并落库每步结果与终态。引擎自身不重试失败的 Run。
type Runner struct {
	db       *gorm.DB
	registry *Registry
	store    ObjectStore
	enqueuer Enqueuer
	logger   *zap.Logger
}

// NewRunner 创建执行器
func NewRunner(db *gorm.DB, registry *Registry, store ObjectStore, enqueuer Enqueuer, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		db:       db,
		registry: registry,
		store:    store,
		enqueuer: enqueuer,
		logger:   logger,
	}
}

// MakeRun 从匹配到的触发器和上下文构造 Run（纯构造，无副作用）
func (r *Runner) MakeRun(trigger *Trigger, actx *Context) *Run {
	snapshot := map[string]any{}
	for key, value := range actx.Event {
		snapshot[key] = value
	}
	return &Run{
		ID:            uuid.New().String(),
		TenantID:      actx.TenantID,
		TriggerID:     trigger.ID,
		VersionID:     actx.Version.ID,
		SubjectType:   actx.Subject.Type,
		SubjectID:     actx.Subject.ID,
		EventSnapshot: snapshot,
		Status:        RunStatusPending,
	}
}

// Queue 持久化 Run 并投递到执行队列，立即返回。
// 入队失败把 Run 标记为失败并返回错误，由调用方决定是否上报；
// 绝不让自动化失败回滚触发它的业务操作。
func (r *Runner) Queue(ctx context.Context, run *Run) error {
	if err := r.db.WithContext(ctx).Create(run).Error; err != nil {
		return fmt.Errorf("persist run: %w", err)
	}
	if err := r.enqueuer.EnqueueRun(run.ID, run.TenantID); err != nil {
		r.db.WithContext(ctx).Model(run).Updates(map[string]any{
			"status":        RunStatusFailed,
			"error_message": fmt.Sprintf("enqueue failed: %v", err),
		})
		return fmt.Errorf("enqueue run %s: %w", run.ID, err)
	}
	return nil
}

// Execute 消费侧入口：执行 Run 的全部步骤
// 队列是至少一次投递，已到终态的 Run 直接返回；崩溃后重放时
// 跳过已有成功结果的步骤。
func (r *Runner) Execute(ctx context.Context, runID string) error {
	var run Run
	if err := r.db.WithContext(ctx).First(&run, "id = ?", runID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("run %s not found", runID)
		}
		return fmt.Errorf("load run %s: %w", runID, err)
	}
	if run.Status == RunStatusSucceeded || run.Status == RunStatusFailed {
		r.logger.Debug("run already terminal, skipping redelivery",
			zap.String("run_id", runID), zap.String("status", run.Status))
		return nil
	}

	var trigger Trigger
	if err := r.db.WithContext(ctx).First(&trigger, "id = ?", run.TriggerID).Error; err != nil {
		return r.failRun(ctx, &run, fmt.Sprintf("load trigger: %v", err))
	}
	var version WorkflowVersion
	if err := r.db.WithContext(ctx).First(&version, "id = ?", run.VersionID).Error; err != nil {
		return r.failRun(ctx, &run, fmt.Sprintf("load version: %v", err))
	}
	var workflow Workflow
	if err := r.db.WithContext(ctx).First(&workflow, "id = ?", version.WorkflowID).Error; err != nil {
		return r.failRun(ctx, &run, fmt.Sprintf("load workflow: %v", err))
	}

	var steps []Step
	if err := r.db.WithContext(ctx).
		Where("version_id = ?", run.VersionID).
		Order("position ASC").
		Find(&steps).Error; err != nil {
		return r.failRun(ctx, &run, fmt.Sprintf("load steps: %v", err))
	}
	if err := validatePositions(steps); err != nil {
		defect := &EngineDefectError{RunID: run.ID, Reason: err.Error()}
		_ = r.failRun(ctx, &run, defect.Error())
		return defect
	}

	// 执行是异步的，主体对象按快照在此刻重新解析
	subject := ObjectRef{Type: run.SubjectType, ID: run.SubjectID}
	props, err := r.store.Load(ctx, run.TenantID, subject)
	if err != nil {
		return r.failRun(ctx, &run, fmt.Sprintf("subject %s/%s unavailable: %v", subject.Type, subject.ID, err))
	}
	actx := &Context{
		Workflow: &workflow,
		Version:  &version,
		Trigger:  &trigger,
		TenantID: run.TenantID,
		Subject:  subject,
		Props:    props,
		Event:    map[string]any(run.EventSnapshot),
	}

	now := time.Now().UTC()
	r.db.WithContext(ctx).Model(&run).Updates(map[string]any{"status": RunStatusRunning, "started_at": now})

	return r.executeSteps(ctx, &run, steps, actx)
}

// executeSteps 按位置顺序执行步骤，落库每步结果与 Run 终态
func (r *Runner) executeSteps(ctx context.Context, run *Run, steps []Step, actx *Context) error {
	executed := map[int]bool{}
	var previous []StepOutcome
	if err := r.db.WithContext(ctx).Where("run_id = ?", run.ID).Find(&previous).Error; err == nil {
		for _, outcome := range previous {
			if outcome.Result == ResultSucceeded {
				executed[outcome.Position] = true
			}
		}
	}

	for _, step := range steps {
		if executed[step.Position] {
			continue
		}

		action, ok := r.registry.Get(step.ActionKind)
		if !ok {
			defect := &EngineDefectError{RunID: run.ID, Reason: fmt.Sprintf("step %d references unknown action %q", step.Position, step.ActionKind)}
			_ = r.failRun(ctx, run, defect.Error())
			return defect
		}

		start := time.Now()
		outcome := r.performStep(ctx, action, StepInvocation{
			Settings: map[string]any(step.Settings),
			Context:  actx,
			RunID:    run.ID,
			Position: step.Position,
		})
		metrics.StepDurationSeconds.WithLabelValues(step.ActionKind).Observe(time.Since(start).Seconds())

		if outcome.Result == ResultPending {
			defect := &EngineDefectError{RunID: run.ID, Reason: fmt.Sprintf("action %q returned pending from perform", step.ActionKind)}
			_ = r.failRun(ctx, run, defect.Error())
			return defect
		}

		r.recordOutcome(ctx, run.ID, step, outcome)

		switch outcome.Result {
		case ResultStop:
			// 有意的闸门，不是错误：标记成功并记录终止位置
			position := step.Position
			now := time.Now().UTC()
			r.db.WithContext(ctx).Model(run).Updates(map[string]any{
				"status":              RunStatusSucceeded,
				"stopped_at_position": position,
				"completed_at":        now,
			})
			metrics.RunsTotal.WithLabelValues(run.TenantID, "stopped").Inc()
			r.logger.Info("run stopped by condition",
				zap.String("run_id", run.ID), zap.Int("position", position))
			return nil

		case ResultFailed:
			now := time.Now().UTC()
			r.db.WithContext(ctx).Model(run).Updates(map[string]any{
				"status":        RunStatusFailed,
				"error_message": outcome.Message,
				"completed_at":  now,
			})
			metrics.RunsTotal.WithLabelValues(run.TenantID, RunStatusFailed).Inc()
			r.logger.Warn("run failed",
				zap.String("run_id", run.ID),
				zap.Int("position", step.Position),
				zap.String("message", outcome.Message))
			return nil
		}
	}

	now := time.Now().UTC()
	r.db.WithContext(ctx).Model(run).Updates(map[string]any{
		"status":       RunStatusSucceeded,
		"completed_at": now,
	})
	metrics.RunsTotal.WithLabelValues(run.TenantID, RunStatusSucceeded).Inc()
	return nil
}

// performStep 执行单个动作，panic 收敛为 Failed
func (r *Runner) performStep(ctx context.Context, action Action, inv StepInvocation) (outcome Outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("action panicked",
				zap.String("run_id", inv.RunID),
				zap.Int("position", inv.Position),
				zap.Any("panic", rec))
			outcome = Failed(fmt.Sprintf("action panicked: %v", rec))
		}
	}()
	return action.Perform(ctx, inv)
}

func (r *Runner) recordOutcome(ctx context.Context, runID string, step Step, outcome Outcome) {
	record := &StepOutcome{
		ID:         uuid.New().String(),
		RunID:      runID,
		Position:   step.Position,
		ActionKind: step.ActionKind,
		Result:     outcome.Result,
		Message:    outcome.Message,
		Payload:    outcome.Payload,
	}
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		r.logger.Error("persist step outcome failed",
			zap.String("run_id", runID), zap.Int("position", step.Position), zap.Error(err))
	}
}

func (r *Runner) failRun(ctx context.Context, run *Run, message string) error {
	now := time.Now().UTC()
	r.db.WithContext(ctx).Model(run).Updates(map[string]any{
		"status":        RunStatusFailed,
		"error_message": message,
		"completed_at":  now,
	})
	metrics.RunsTotal.WithLabelValues(run.TenantID, RunStatusFailed).Inc()
	return fmt.Errorf("run %s failed: %s", run.ID, message)
}

// validatePositions 步骤位置必须从 1 连续且唯一，
// 否则视为工作流数据缺陷
func validatePositions(steps []Step) error {
	seen := map[int]bool{}
	for _, step := range steps {
		if seen[step.Position] {
			return fmt.Errorf("duplicate step position %d", step.Position)
		}
		seen[step.Position] = true
	}
	for i := 1; i <= len(steps); i++ {
		if !seen[i] {
			return fmt.Errorf("non-contiguous step positions: missing %d", i)
		}
	}
	return nil
}
