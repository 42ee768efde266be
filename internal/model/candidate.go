package model

import (
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// CandidateState 暂存候选状态
type CandidateState string

const (
	CandidateStatePending CandidateState = "pending"
	CandidateStateFailed  CandidateState = "failed"
)

// StagedCandidate 文件夹扫描得到的待上传草稿
// 分类只按值引用（本地 ID 与名称），分类被删除后名称仍可用于匹配
type StagedCandidate struct {
	BaseModel
	SiteID       *int64 `gorm:"index" json:"site_id"`
	CategoryID   *int64 `json:"category_id"`
	CategoryName string `gorm:"size:255" json:"category_name"`
	SourcePath   string `gorm:"size:1024;not null;uniqueIndex" json:"source_path"`

	Name             string                      `gorm:"size:255;not null" json:"name"`
	SKU              string                      `gorm:"size:128;index" json:"sku"`
	RegularPrice     decimal.NullDecimal         `gorm:"type:decimal(12,2)" json:"regular_price"`
	SalePrice        decimal.NullDecimal         `gorm:"type:decimal(12,2)" json:"sale_price"`
	StockQuantity    *int                        `json:"stock_quantity"`
	Status           ProductStatus               `gorm:"size:20" json:"status"`
	Description      string                      `gorm:"type:text" json:"description"`
	ShortDescription string                      `gorm:"type:text" json:"short_description"`
	Tags             datatypes.JSONSlice[string] `json:"tags"`
	Images           datatypes.JSONSlice[string] `json:"images"`
	ImageCount       int                         `gorm:"default:0" json:"image_count"`

	State     CandidateState `gorm:"size:16;not null;default:pending;index" json:"state"`
	LastError string         `gorm:"size:1024" json:"last_error"`
}

func (StagedCandidate) TableName() string { return "staged_candidates" }

// CategoryHint 提取分类提示
func (c *StagedCandidate) CategoryHint() CategoryHint {
	hint := CategoryHint{Name: c.CategoryName}
	if c.CategoryID != nil {
		hint.CategoryID = *c.CategoryID
	}
	return hint
}

// CategoryHint 待解析的分类线索
type CategoryHint struct {
	CategoryID int64  `json:"category_id"`
	Name       string `json:"name"`
}

// Empty 没有任何线索
func (h CategoryHint) Empty() bool {
	return h.CategoryID == 0 && h.Name == ""
}
