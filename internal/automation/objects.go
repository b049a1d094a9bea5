package automation

import (
	"context"
	"errors"
)

// 主体对象类型
const (
	ObjectTypeInvoice = "invoice"
	ObjectTypeQuote   = "quote"
	ObjectTypePayment = "payment"
	ObjectTypeClient  = "client"
	ObjectTypeNote    = "note"
)

// ErrObjectNotFound 对象不存在
var ErrObjectNotFound = errors.New("object not found")

// ObjectRef 对象引用（类型 + ID）
type ObjectRef struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// PropertySpec 对象属性说明，settings 校验时使用
type PropertySpec struct {
	// Writable 是否允许动作写入（如 invoice 的 number 只读）
	Writable bool
}

// ObjectSchema 对象类型的属性表
type ObjectSchema map[string]PropertySpec

// Has 属性是否存在
func (s ObjectSchema) Has(property string) bool {
	_, ok := s[property]
	return ok
}

// WritableProperty 属性是否存在且可写
func (s ObjectSchema) WritableProperty(property string) bool {
	spec, ok := s[property]
	return ok && spec.Writable
}

// ObjectStore 业务对象存取能力
// 引擎不拥有业务 schema，所有对象操作都通过该接口委托给数据层，
// 行级租户隔离由实现方保证。
type ObjectStore interface {
	// Schema 返回对象类型的属性表，未知类型返回错误
	Schema(objectType string) (ObjectSchema, error)

	// Load 按引用加载对象属性快照，不存在返回 ErrObjectNotFound
	Load(ctx context.Context, tenantID string, ref ObjectRef) (map[string]any, error)

	// Update 写回对象的部分属性（只接受可写属性）
	Update(ctx context.Context, tenantID string, ref ObjectRef, props map[string]any) error

	// Create 创建对象并返回新 ID。provenance 记录来源（run:step），
	// 供非幂等动作在重复投递时识别已产生的副作用。
	Create(ctx context.Context, tenantID, objectType string, props map[string]any, provenance string) (string, error)

	// ExistsByProvenance 是否已存在指定来源创建的对象
	ExistsByProvenance(ctx context.Context, tenantID, objectType, provenance string) (bool, error)

	// Delete 删除对象（软删除由实现方决定）
	Delete(ctx context.Context, tenantID string, ref ObjectRef) error

	// QueryTargets 定时触发的目标查询，返回当前命中的对象引用。
	// query 为预定义标识（overdue_invoices 等），未知标识返回错误。
	QueryTargets(ctx context.Context, tenantID, query string) ([]ObjectRef, error)
}
