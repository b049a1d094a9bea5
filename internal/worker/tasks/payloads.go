package tasks

// Task Types
const (
	TypeExecuteRun = "automation:execute_run"
)

// ExecuteRunPayload 工作流执行任务载荷
// Run 在入队前已落库，载荷只携带定位信息。
type ExecuteRunPayload struct {
	RunID    string `json:"run_id"`
	TenantID string `json:"tenant_id"`
}
