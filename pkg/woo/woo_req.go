package woo

import "encoding/json"

// ProductPayload 创建/更新商品的请求体
// 指针字段为 nil 时不发送，指向空值时清空远端字段
// 分类、标签、图片总是整体发送，nil 按空数组处理
type ProductPayload struct {
	Name             string     `json:"name,omitempty"`
	Type             string     `json:"type,omitempty"`
	Status           string     `json:"status,omitempty"`
	SKU              string     `json:"sku"`
	RegularPrice     *string    `json:"regular_price,omitempty"`
	SalePrice        *string    `json:"sale_price,omitempty"`
	ManageStock      *bool      `json:"manage_stock,omitempty"`
	StockQuantity    *int       `json:"stock_quantity,omitempty"`
	Description      *string    `json:"description,omitempty"`
	ShortDescription *string    `json:"short_description,omitempty"`
	Categories       []IDRef    `json:"categories"`
	Tags             []IDRef    `json:"tags"`
	Images           []ImageRef `json:"images"`
}

// MarshalJSON nil 切片输出为 []
func (p ProductPayload) MarshalJSON() ([]byte, error) {
	type plain ProductPayload
	out := plain(p)
	if out.Categories == nil {
		out.Categories = []IDRef{}
	}
	if out.Tags == nil {
		out.Tags = []IDRef{}
	}
	if out.Images == nil {
		out.Images = []ImageRef{}
	}
	return json.Marshal(out)
}

// IDRef {"id": 7}
type IDRef struct {
	ID int64 `json:"id"`
}

// ImageRef 已在远端的媒体用 ID，外部图片用 Src（远端下载后生成新媒体）
type ImageRef struct {
	ID  int64  `json:"id,omitempty"`
	Src string `json:"src,omitempty"`
}

// tagPayload POST /products/tags
type tagPayload struct {
	Name string `json:"name"`
}

// StringPtr 工具函数
func StringPtr(s string) *string { return &s }

// BoolPtr 工具函数
func BoolPtr(b bool) *bool { return &b }
