package automation

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// NormalizeFunc 动态值解析函数
// now 为执行时刻（UTC），保证"5 天后"这类配置在运行时求值，
// 而不是在编辑时被冻结。
type NormalizeFunc func(value any, now time.Time) (any, error)

// NormalizerRegistry 按标识符查找的开放式值解析器注册表
type NormalizerRegistry struct {
	mu    sync.RWMutex
	funcs map[string]NormalizeFunc
}

// NewNormalizerRegistry 创建带内置解析器的注册表
func NewNormalizerRegistry() *NormalizerRegistry {
	r := &NormalizerRegistry{funcs: make(map[string]NormalizeFunc)}
	r.Register("days_from", daysFrom)
	r.Register("hours_from", hoursFrom)
	r.Register("start_of_day", startOfDay)
	return r
}

// Register 注册解析器，同名覆盖
func (r *NormalizerRegistry) Register(id string, fn NormalizeFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[id] = fn
}

// Known 标识符是否已注册
func (r *NormalizerRegistry) Known(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.funcs[id]
	return ok
}

// Resolve 解析动态值，未知标识符返回错误
func (r *NormalizerRegistry) Resolve(id string, value any) (any, error) {
	r.mu.RLock()
	fn, ok := r.funcs[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown normalizer %q", id)
	}
	return fn(value, time.Now().UTC())
}

// daysFrom N 天后的绝对时间戳
func daysFrom(value any, now time.Time) (any, error) {
	days, ok := toFloat64(value)
	if !ok {
		return nil, fmt.Errorf("days_from expects a number, got %T", value)
	}
	return now.Add(time.Duration(days*24) * time.Hour), nil
}

// hoursFrom N 小时后的绝对时间戳
func hoursFrom(value any, now time.Time) (any, error) {
	hours, ok := toFloat64(value)
	if !ok {
		return nil, fmt.Errorf("hours_from expects a number, got %T", value)
	}
	return now.Add(time.Duration(hours) * time.Hour), nil
}

// startOfDay 当天零点（UTC），value 忽略
func startOfDay(_ any, now time.Time) (any, error) {
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC), nil
}

// toFloat64 尝试将值转换为 float64
func toFloat64(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}
