package woo

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ==========================================
// 规范化记录：引擎其余部分只接触这些类型
// ==========================================

// SystemStatus 连接测试返回的远端系统信息
type SystemStatus struct {
	HomeURL   string `json:"home_url"`
	SiteURL   string `json:"site_url"`
	WCVersion string `json:"wc_version"`
	WPVersion string `json:"wp_version"`
	Language  string `json:"language"`
	Currency  string `json:"currency"`
}

// RemoteProduct 远端商品
type RemoteProduct struct {
	ID               int64
	Name             string
	Slug             string
	Status           string
	SKU              string
	RegularPrice     decimal.NullDecimal
	SalePrice        decimal.NullDecimal
	StockQuantity    *int
	StockStatus      string
	Description      string
	ShortDescription string
	Categories       []RemoteTerm
	Tags             []RemoteTerm
	Images           []RemoteImage
	ModifiedAt       *time.Time
}

// RemoteTerm 商品上的分类或标签
type RemoteTerm struct {
	ID   int64
	Name string
}

// RemoteImage 商品图片，ID 为媒体库 ID
type RemoteImage struct {
	ID  int64
	Src string
}

// RemoteCategory 远端分类
type RemoteCategory struct {
	ID          int64
	Name        string
	Slug        string
	ParentID    int64
	Description string
	Count       int
}

// Media 已上传的媒体
type Media struct {
	ID        int64
	SourceURL string
}

// wooTimeLayout date_*_gmt 字段格式
const wooTimeLayout = "2006-01-02T15:04:05"

// ==================== 转换 ====================

func (r *productResp) normalize() (*RemoteProduct, error) {
	if r.ID <= 0 {
		return nil, fmt.Errorf("product without id")
	}
	regular, err := parsePrice(r.RegularPrice)
	if err != nil {
		return nil, fmt.Errorf("product %d regular_price: %w", r.ID, err)
	}
	sale, err := parsePrice(r.SalePrice)
	if err != nil {
		return nil, fmt.Errorf("product %d sale_price: %w", r.ID, err)
	}
	modified, err := parseGMT(r.DateModifiedGMT)
	if err != nil {
		return nil, fmt.Errorf("product %d date_modified_gmt: %w", r.ID, err)
	}

	p := &RemoteProduct{
		ID:               r.ID,
		Name:             r.Name,
		Slug:             r.Slug,
		Status:           r.Status,
		SKU:              strings.TrimSpace(r.SKU),
		RegularPrice:     regular,
		SalePrice:        sale,
		StockStatus:      r.StockStatus,
		Description:      r.Description,
		ShortDescription: r.ShortDescription,
		ModifiedAt:       modified,
	}
	if r.ManageStock {
		p.StockQuantity = r.StockQuantity
	}
	for _, c := range r.Categories {
		p.Categories = append(p.Categories, RemoteTerm{ID: c.ID, Name: c.Name})
	}
	for _, t := range r.Tags {
		p.Tags = append(p.Tags, RemoteTerm{ID: t.ID, Name: t.Name})
	}
	for _, img := range r.Images {
		if img.Src != "" || img.ID > 0 {
			p.Images = append(p.Images, RemoteImage{ID: img.ID, Src: img.Src})
		}
	}
	return p, nil
}

func (r *termResp) normalize() (*RemoteTerm, error) {
	if r.ID <= 0 {
		return nil, fmt.Errorf("tag without id")
	}
	return &RemoteTerm{ID: r.ID, Name: r.Name}, nil
}

func (r *categoryResp) normalize() (*RemoteCategory, error) {
	if r.ID <= 0 {
		return nil, fmt.Errorf("category without id")
	}
	return &RemoteCategory{
		ID:          r.ID,
		Name:        r.Name,
		Slug:        r.Slug,
		ParentID:    r.Parent,
		Description: r.Description,
		Count:       r.Count,
	}, nil
}

func (r *systemStatusResp) normalize() *SystemStatus {
	return &SystemStatus{
		HomeURL:   r.Environment.HomeURL,
		SiteURL:   r.Environment.SiteURL,
		WCVersion: r.Environment.Version,
		WPVersion: r.Environment.WPVersion,
		Language:  r.Environment.Language,
		Currency:  r.Settings.Currency,
	}
}

// parsePrice 空字符串表示未设置
func parsePrice(s string) (decimal.NullDecimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}

func parseGMT(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation(wooTimeLayout, s, time.UTC)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// FormatPrice 价格转为 WooCommerce 需要的字符串，未设置为空串（清空远端价格）
func FormatPrice(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.StringFixed(2)
}
