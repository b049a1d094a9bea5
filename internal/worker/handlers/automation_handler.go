package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"backend/internal/worker/tasks"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// RunExecutor 工作流执行器抽象，便于注入 mock
type RunExecutor interface {
	Execute(ctx context.Context, runID string) error
}

type AutomationHandler struct {
	executor RunExecutor
	logger   *zap.Logger
}

func NewAutomationHandler(executor RunExecutor, logger *zap.Logger) *AutomationHandler {
	return &AutomationHandler{
		executor: executor,
		logger:   logger,
	}
}

// HandleExecuteRun 消费执行任务。队列按至少一次投递，
// 重复投递由执行器的终态检查与步骤结果表吸收。
func (h *AutomationHandler) HandleExecuteRun(ctx context.Context, t *asynq.Task) error {
	var p tasks.ExecuteRunPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("json unmarshal failed: %w", err)
	}

	h.logger.Info("开始执行自动化任务",
		zap.String("run_id", p.RunID),
		zap.String("tenant_id", p.TenantID),
	)

	if err := h.executor.Execute(ctx, p.RunID); err != nil {
		h.logger.Error("自动化执行失败",
			zap.String("run_id", p.RunID),
			zap.Error(err),
		)
		return err
	}

	h.logger.Info("自动化执行完成", zap.String("run_id", p.RunID))
	return nil
}
