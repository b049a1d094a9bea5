package automation

import "sync/atomic"

// Gate 进程级自动化开关，默认开启。
// 批量导入、回填等会产生事件风暴的操作先 Pause()，结束后恢复，
// 避免扇出成千上万的 Run。状态不落库，进程重启即恢复开启。
type Gate struct {
	disabled atomic.Bool
}

// NewGate 创建开关，初始为开启状态
func NewGate() *Gate {
	return &Gate{}
}

// Enabled 当前是否允许触发匹配
func (g *Gate) Enabled() bool {
	return !g.disabled.Load()
}

// Enable 开启自动化
func (g *Gate) Enable() {
	g.disabled.Store(false)
}

// Disable 关闭自动化
func (g *Gate) Disable() {
	g.disabled.Store(true)
}

// Pause 关闭自动化并返回恢复函数。
// 调用方必须 defer restore()，保证异常路径上也能恢复：
//
//	restore := gate.Pause()
//	defer restore()
func (g *Gate) Pause() (restore func()) {
	g.Disable()
	return func() { g.Enable() }
}
