package automation

import (
	"testing"
	"time"
)

func TestScheduleEvaluatorValidate(t *testing.T) {
	evaluator := NewScheduleEvaluator()

	valid := []string{"0 9 * * 1", "*/15 * * * *", "@daily", "@hourly"}
	for _, rule := range valid {
		if err := evaluator.Validate(rule); err != nil {
			t.Fatalf("规则 %q 应合法: %v", rule, err)
		}
	}

	invalid := []string{"", "not a cron", "99 99 * * *"}
	for _, rule := range invalid {
		if err := evaluator.Validate(rule); err == nil {
			t.Fatalf("规则 %q 应被拒绝", rule)
		}
	}
}

func TestScheduleEvaluatorNextAfter(t *testing.T) {
	evaluator := NewScheduleEvaluator()

	// 每周一 09:00，从周五开始算应落在下周一
	last := time.Date(2025, 3, 7, 10, 0, 0, 0, time.UTC) // 周五
	next, err := evaluator.NextAfter("0 9 * * 1", last)
	if err != nil {
		t.Fatalf("NextAfter 失败: %v", err)
	}
	expected := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	if !next.Equal(expected) {
		t.Fatalf("期望 %v，实际 %v", expected, next)
	}
}

func TestScheduleEvaluatorNextAfterUsesUTC(t *testing.T) {
	evaluator := NewScheduleEvaluator()

	// 本地时区的输入也按 UTC 求值
	loc := time.FixedZone("UTC+8", 8*3600)
	last := time.Date(2025, 3, 10, 16, 30, 0, 0, loc) // UTC 08:30
	next, err := evaluator.NextAfter("0 9 * * *", last)
	if err != nil {
		t.Fatalf("NextAfter 失败: %v", err)
	}
	expected := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	if !next.Equal(expected) {
		t.Fatalf("UTC 求值不正确：期望 %v，实际 %v", expected, next)
	}
}

func TestScheduleEvaluatorNextAfterInvalidRule(t *testing.T) {
	evaluator := NewScheduleEvaluator()
	if _, err := evaluator.NextAfter("bogus", time.Now()); err == nil {
		t.Fatalf("非法规则应返回错误")
	}
}
