package automation

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// ScheduleEvaluator 定时规则求值器
// 对引擎而言这是一个黑盒日期计算器：给定 cron 表达式和上次
// 触发时间，返回下次触发时间。统一按 UTC 求值，避免夏令时偏移。
type ScheduleEvaluator struct {
	parser cron.Parser
}

// NewScheduleEvaluator 创建求值器，接受标准五段 cron 表达式
// 以及 @hourly/@daily 等描述符。
func NewScheduleEvaluator() *ScheduleEvaluator {
	return &ScheduleEvaluator{
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// Validate 规则是否可解析，保存触发器时调用
func (e *ScheduleEvaluator) Validate(rule string) error {
	if rule == "" {
		return fmt.Errorf("recurrence rule is empty")
	}
	if _, err := e.parser.Parse(rule); err != nil {
		return fmt.Errorf("invalid recurrence rule %q: %w", rule, err)
	}
	return nil
}

// NextAfter 上次触发时间之后的下一次触发时间（UTC）
func (e *ScheduleEvaluator) NextAfter(rule string, last time.Time) (time.Time, error) {
	schedule, err := e.parser.Parse(rule)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid recurrence rule %q: %w", rule, err)
	}
	return schedule.Next(last.UTC()), nil
}
