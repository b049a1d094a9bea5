package automation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"backend/internal/metrics"
)

// Dispatcher 事件派发入口
// 在触发事件的业务请求路径内同步执行：匹配 → 构建上下文 →
// 构造 Run → 入队。单个触发器的失败不影响其他触发器，
// 也绝不向上传播到业务操作本身。
type Dispatcher struct {
	db       *gorm.DB
	matcher  *Matcher
	builder  *ContextBuilder
	runner   *Runner
	schedule *ScheduleEvaluator
	logger   *zap.Logger
}

// NewDispatcher 创建派发器
func NewDispatcher(db *gorm.DB, matcher *Matcher, builder *ContextBuilder, runner *Runner, schedule *ScheduleEvaluator, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{db: db, matcher: matcher, builder: builder, runner: runner, schedule: schedule, logger: logger}
}

// Dispatch 派发领域事件，返回成功入队的 Run 数
// 匹配层面的系统性错误（查询失败）记日志后吞掉——事件派发
// 不能让保存发票这类业务操作回滚。
func (d *Dispatcher) Dispatch(ctx context.Context, event Event) int {
	triggers, err := d.matcher.Match(ctx, event)
	if err != nil {
		d.logger.Error("trigger match failed",
			zap.String("tenant_id", event.TenantID),
			zap.String("event", EventName(event.Type)),
			zap.Error(err))
		return 0
	}

	enqueued := 0
	for _, trigger := range triggers {
		run, err := d.dispatchOne(ctx, trigger, event)
		if err != nil {
			var ctxErr *ContextError
			if errors.As(err, &ctxErr) {
				// 类型不匹配等上下文错误：本次事件跳过该触发器，不重试
				metrics.ContextErrorsTotal.WithLabelValues(event.TenantID).Inc()
				d.logger.Debug("trigger skipped",
					zap.String("trigger_id", trigger.ID),
					zap.String("reason", ctxErr.Reason))
				continue
			}
			d.logger.Error("dispatch trigger failed",
				zap.String("trigger_id", trigger.ID), zap.Error(err))
			continue
		}
		d.logger.Info("run enqueued",
			zap.String("run_id", run.ID),
			zap.String("tenant_id", event.TenantID),
			zap.String("event", EventName(event.Type)))
		enqueued++
	}
	return enqueued
}

func (d *Dispatcher) dispatchOne(ctx context.Context, trigger *Trigger, event Event) (*Run, error) {
	wf, version, err := d.loadDefinition(ctx, trigger)
	if err != nil {
		return nil, err
	}
	actx, err := d.builder.BuildFromEvent(ctx, wf, version, trigger, event)
	if err != nil {
		return nil, err
	}
	run := d.runner.MakeRun(trigger, actx)
	if err := d.runner.Queue(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// DispatchScheduleTick 定时侧入口：对每个到期触发器重新求值
// 目标查询，一次 tick 可能扇出零个、一个或多个 Run。
// next_run_at 在扇出之前推进：到期窗口在本次 tick 消耗完毕，
// 扇出为零、派发失败、执行尚未开始都不会让同一窗口再次触发。
func (d *Dispatcher) DispatchScheduleTick(ctx context.Context, now time.Time) int {
	triggers, err := d.matcher.DueSchedules(ctx, now)
	if err != nil {
		d.logger.Error("due schedule query failed", zap.Error(err))
		return 0
	}

	enqueued := 0
	for _, trigger := range triggers {
		if err := d.advanceSchedule(ctx, trigger, now); err != nil {
			// 推不动 next_run_at 就不能扇出，否则每个 tick 都会重放同一窗口
			d.logger.Error("advance schedule failed",
				zap.String("trigger_id", trigger.ID), zap.Error(err))
			continue
		}
		wf, version, err := d.loadDefinition(ctx, trigger)
		if err != nil {
			d.logger.Error("load schedule definition failed",
				zap.String("trigger_id", trigger.ID), zap.Error(err))
			continue
		}
		contexts, err := d.builder.BuildFromSchedule(ctx, wf, version, trigger, now)
		if err != nil {
			metrics.ContextErrorsTotal.WithLabelValues(wf.TenantID).Inc()
			d.logger.Warn("schedule context build failed",
				zap.String("trigger_id", trigger.ID), zap.Error(err))
			continue
		}
		for _, actx := range contexts {
			run := d.runner.MakeRun(trigger, actx)
			if err := d.runner.Queue(ctx, run); err != nil {
				d.logger.Error("enqueue schedule run failed",
					zap.String("trigger_id", trigger.ID), zap.Error(err))
				continue
			}
			enqueued++
		}
	}
	return enqueued
}

// advanceSchedule 推进定时触发器的 last_ran / next_run，
// 每个到期窗口恰好推进一次
func (d *Dispatcher) advanceSchedule(ctx context.Context, trigger *Trigger, now time.Time) error {
	next, err := d.schedule.NextAfter(trigger.Recurrence, now)
	if err != nil {
		return fmt.Errorf("recompute next run: %w", err)
	}
	return d.db.WithContext(ctx).Model(trigger).Updates(map[string]any{
		"last_ran_at": now,
		"next_run_at": next,
	}).Error
}

func (d *Dispatcher) loadDefinition(ctx context.Context, trigger *Trigger) (*Workflow, *WorkflowVersion, error) {
	var version WorkflowVersion
	if err := d.db.WithContext(ctx).First(&version, "id = ?", trigger.VersionID).Error; err != nil {
		return nil, nil, fmt.Errorf("load version %s: %w", trigger.VersionID, err)
	}
	var wf Workflow
	if err := d.db.WithContext(ctx).First(&wf, "id = ?", version.WorkflowID).Error; err != nil {
		return nil, nil, fmt.Errorf("load workflow %s: %w", version.WorkflowID, err)
	}
	return &wf, &version, nil
}
