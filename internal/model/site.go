package model

import (
	"strings"
	"time"

	"woo_sync_v1_202610/pkg/net"
)

// Site 一个受管理的 WooCommerce 店铺
type Site struct {
	BaseModel
	Name           string `gorm:"size:128;not null;index" json:"name"`
	URL            string `gorm:"size:512;not null;uniqueIndex:idx_site_url_key" json:"url"`
	ConsumerKey    string `gorm:"size:255;not null;uniqueIndex:idx_site_url_key" json:"-"`
	ConsumerSecret string `gorm:"size:255;not null" json:"-"`

	// 仅用于 WordPress 媒体上传
	WPUsername    string `gorm:"size:128" json:"wp_username"`
	WPAppPassword string `gorm:"size:255" json:"-"`

	IsActive bool   `gorm:"not null;index" json:"is_active"`
	Notes    string `gorm:"type:text" json:"notes"`

	LastSyncAt    *time.Time `json:"last_sync_at"`
	LastSyncState RunState   `gorm:"size:32" json:"last_sync_state"`
}

func (Site) TableName() string { return "sites" }

// Endpoint 转换为网络层使用的连接信息
func (s *Site) Endpoint() net.Endpoint {
	return net.Endpoint{
		SiteID:         s.ID,
		BaseURL:        s.URL,
		ConsumerKey:    s.ConsumerKey,
		ConsumerSecret: s.ConsumerSecret,
		WPUsername:     s.WPUsername,
		WPAppPassword:  s.WPAppPassword,
	}
}

// HasMediaCredentials 是否配置了 WordPress 应用密码
func (s *Site) HasMediaCredentials() bool {
	return s.WPUsername != "" && s.WPAppPassword != ""
}

// NormalizeSiteURL 去除首尾空白与末尾斜杠
func NormalizeSiteURL(raw string) string {
	return strings.TrimRight(strings.TrimSpace(raw), "/")
}
