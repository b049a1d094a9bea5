package automation

import "time"

// 领域事件类型
// 触发器按整数事件类型注册，新增事件需同时登记主体对象类型。
const (
	EventInvoiceCreated  = 1
	EventInvoiceSent     = 2
	EventInvoicePaid     = 3
	EventInvoiceOverdue  = 4
	EventPaymentReceived = 5
	EventQuoteAccepted   = 6
	EventClientCreated   = 7
)

// eventSubjectTypes 事件类型 → 主体对象类型
// 上下文构建时据此做类型兼容性检查。
var eventSubjectTypes = map[int]string{
	EventInvoiceCreated:  ObjectTypeInvoice,
	EventInvoiceSent:     ObjectTypeInvoice,
	EventInvoicePaid:     ObjectTypeInvoice,
	EventInvoiceOverdue:  ObjectTypeInvoice,
	EventPaymentReceived: ObjectTypePayment,
	EventQuoteAccepted:   ObjectTypeQuote,
	EventClientCreated:   ObjectTypeClient,
}

// eventNames 事件类型 → 可读名称，用于日志和 API
var eventNames = map[int]string{
	EventInvoiceCreated:  "invoice_created",
	EventInvoiceSent:     "invoice_sent",
	EventInvoicePaid:     "invoice_paid",
	EventInvoiceOverdue:  "invoice_overdue",
	EventPaymentReceived: "payment_received",
	EventQuoteAccepted:   "quote_accepted",
	EventClientCreated:   "client_created",
}

// KnownEventType 事件类型是否已登记
func KnownEventType(eventType int) bool {
	_, ok := eventSubjectTypes[eventType]
	return ok
}

// EventSubjectType 返回事件的主体对象类型
func EventSubjectType(eventType int) string {
	return eventSubjectTypes[eventType]
}

// EventName 返回事件的可读名称
func EventName(eventType int) string {
	if name, ok := eventNames[eventType]; ok {
		return name
	}
	return "unknown"
}

// Event 已派发的领域事件
// 由业务层在请求路径内同步构造派发，引擎只读。
type Event struct {
	Type       int            `json:"type"`
	TenantID   string         `json:"tenantId"`
	Subject    ObjectRef      `json:"subject"`
	Payload    map[string]any `json:"payload,omitempty"`
	OccurredAt time.Time      `json:"occurredAt"`
}

// NewEvent 构造领域事件，主体类型由事件类型推导
func NewEvent(eventType int, tenantID, subjectID string, payload map[string]any) Event {
	return Event{
		Type:       eventType,
		TenantID:   tenantID,
		Subject:    ObjectRef{Type: EventSubjectType(eventType), ID: subjectID},
		Payload:    payload,
		OccurredAt: time.Now().UTC(),
	}
}
