package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// ==================== 状态常量 ====================

// ProductStatus WooCommerce 商品生命周期状态
type ProductStatus string

const (
	ProductStatusDraft   ProductStatus = "draft"
	ProductStatusPending ProductStatus = "pending"
	ProductStatusPrivate ProductStatus = "private"
	ProductStatusPublish ProductStatus = "publish"
	ProductStatusFuture  ProductStatus = "future" // 定时发布
)

// Valid 是否为已知状态
func (s ProductStatus) Valid() bool {
	switch s {
	case ProductStatusDraft, ProductStatusPending, ProductStatusPrivate, ProductStatusPublish, ProductStatusFuture:
		return true
	}
	return false
}

// ProductSyncState 本地同步状态（展示用，是否待推送以时间戳为准）
type ProductSyncState string

const (
	SyncStateSynced  ProductSyncState = "synced"
	SyncStatePending ProductSyncState = "pending"
	SyncStateFailed  ProductSyncState = "failed"
	SyncStateStale   ProductSyncState = "stale" // 远端已不存在，等待人工处理
)

// ==================== Product ====================

// Product 远端商品的本地镜像，或尚未发布的本地草稿
type Product struct {
	BaseModel
	SiteID int64 `gorm:"not null;uniqueIndex:idx_product_site_remote;uniqueIndex:idx_product_site_sku,where:sku <> ''" json:"site_id"`
	Site   *Site `gorm:"foreignKey:SiteID;constraint:OnDelete:CASCADE" json:"-"`

	// 首次推送成功前为空
	RemoteID *int64 `gorm:"uniqueIndex:idx_product_site_remote" json:"remote_id"`

	Name string `gorm:"size:255;not null" json:"name"`
	SKU  string `gorm:"size:128;uniqueIndex:idx_product_site_sku,where:sku <> ''" json:"sku"`

	RegularPrice  decimal.NullDecimal `gorm:"type:decimal(12,2)" json:"regular_price"`
	SalePrice     decimal.NullDecimal `gorm:"type:decimal(12,2)" json:"sale_price"`
	StockQuantity *int                `json:"stock_quantity"`
	StockStatus   string              `gorm:"size:32" json:"stock_status"`
	Status        ProductStatus       `gorm:"size:20;not null;default:draft" json:"status"`

	Description      string                           `gorm:"type:text" json:"description"`
	ShortDescription string                           `gorm:"type:text" json:"short_description"`
	Categories       datatypes.JSONSlice[CategoryRef] `json:"categories"`
	Tags             datatypes.JSONSlice[TagRef]      `json:"tags"`
	Images           datatypes.JSONSlice[ImageRef]    `json:"images"`

	// --- 同步字段 ---
	LastSyncedAt     *time.Time       `gorm:"index" json:"last_synced_at"`
	RemoteModifiedAt *time.Time       `json:"remote_modified_at"`
	RemoteDeleted    bool             `gorm:"not null;default:false;index" json:"remote_deleted"`
	RemoteDeletedAt  *time.Time       `json:"remote_deleted_at"`
	SyncState        ProductSyncState `gorm:"size:16;index" json:"sync_state"`
	SyncError        string           `gorm:"size:1024" json:"sync_error"`
}

func (Product) TableName() string { return "products" }

// HasRemote 是否已在远端创建
func (p *Product) HasRemote() bool {
	return p.RemoteID != nil && *p.RemoteID > 0
}

// IsDirty 本地修改晚于最近一次成功同步
func (p *Product) IsDirty() bool {
	return p.LastSyncedAt == nil || p.LastSyncedAt.Before(p.UpdatedAt)
}

// Label 日志与报告中使用的简短标识
func (p *Product) Label() string {
	if p.SKU != "" {
		return p.SKU
	}
	return p.Name
}

// Int64Ptr 工具函数
func Int64Ptr(v int64) *int64 { return &v }

// TimePtr 工具函数
func TimePtr(t time.Time) *time.Time { return &t }
