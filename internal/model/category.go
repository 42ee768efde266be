package model

// Category 远端分类在本地的只读副本，仅由分类拉取写入
type Category struct {
	BaseModel
	SiteID         int64  `gorm:"not null;uniqueIndex:idx_category_site_remote" json:"site_id"`
	Site           *Site  `gorm:"foreignKey:SiteID;constraint:OnDelete:CASCADE" json:"-"`
	RemoteID       int64  `gorm:"not null;uniqueIndex:idx_category_site_remote" json:"remote_id"`
	Name           string `gorm:"size:255;not null" json:"name"`
	Slug           string `gorm:"size:255" json:"slug"`
	ParentRemoteID int64  `gorm:"default:0" json:"parent_remote_id"`
	Description    string `gorm:"type:text" json:"description"`
	Count          int    `gorm:"default:0" json:"count"`
}

func (Category) TableName() string { return "categories" }
