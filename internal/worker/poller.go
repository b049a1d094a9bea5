package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// TickDispatcher 定时触发器的到期派发入口
type TickDispatcher interface {
	DispatchScheduleTick(ctx context.Context, now time.Time) int
}

// SchedulePoller 周期轮询到期的定时触发器并入队执行。
// 单实例部署下进程内轮询即可；next_run_at 在派发侧扇出之前推进，
// 到期窗口只消耗一次，密集 tick 不会重复创建同一批 Run。
type SchedulePoller struct {
	dispatcher TickDispatcher
	interval   time.Duration
	logger     *zap.Logger
}

// NewSchedulePoller 创建定时触发器轮询器
func NewSchedulePoller(dispatcher TickDispatcher, interval time.Duration, logger *zap.Logger) *SchedulePoller {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SchedulePoller{
		dispatcher: dispatcher,
		interval:   interval,
		logger:     logger,
	}
}

// Run 阻塞轮询，ctx 取消后返回
func (p *SchedulePoller) Run(ctx context.Context) {
	p.logger.Info("定时触发器轮询启动", zap.Duration("interval", p.interval))

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("定时触发器轮询停止")
			return
		case now := <-ticker.C:
			queued := p.dispatcher.DispatchScheduleTick(ctx, now.UTC())
			if queued > 0 {
				p.logger.Info("定时触发派发完成", zap.Int("queued", queued))
			}
		}
	}
}
