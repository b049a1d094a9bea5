package automation

// Result 单个动作（或整个 Run）的执行结果
type Result string

const (
	// ResultPending 尚未执行。仅用于 Run 自身的初始状态，
	// Perform 返回 Pending 属于引擎缺陷。
	ResultPending Result = "pending"
	// ResultSucceeded 执行成功，继续后续步骤
	ResultSucceeded Result = "succeeded"
	// ResultFailed 执行失败，终止 Run 并记录原因
	ResultFailed Result = "failed"
	// ResultStop 条件门主动终止，不算失败
	ResultStop Result = "stop"
)

// Outcome 单个步骤的执行结果，附带可审计的消息与载荷
type Outcome struct {
	Result  Result         `json:"result"`
	Message string         `json:"message,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Succeeded 构造成功结果
func Succeeded(message string) Outcome {
	return Outcome{Result: ResultSucceeded, Message: message}
}

// SucceededWith 构造带载荷的成功结果
func SucceededWith(message string, payload map[string]any) Outcome {
	return Outcome{Result: ResultSucceeded, Message: message, Payload: payload}
}

// Failed 构造失败结果
func Failed(message string) Outcome {
	return Outcome{Result: ResultFailed, Message: message}
}

// Stopped 构造主动终止结果
func Stopped(message string) Outcome {
	return Outcome{Result: ResultStop, Message: message}
}
