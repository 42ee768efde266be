package service

import (
	"strings"

	"woo_sync_v1_202610/internal/model"
	"woo_sync_v1_202610/pkg/woo"
)

// ToProductModel 远端商品转为本地镜像（拉取使用）
func ToProductModel(siteID int64, r *woo.RemoteProduct) *model.Product {
	p := &model.Product{
		SiteID:   siteID,
		RemoteID: model.Int64Ptr(r.ID),

		Name:          r.Name,
		SKU:           r.SKU,
		RegularPrice:  r.RegularPrice,
		SalePrice:     r.SalePrice,
		StockQuantity: r.StockQuantity,
		StockStatus:   r.StockStatus,
		Status:        model.ProductStatus(r.Status),

		Description:      r.Description,
		ShortDescription: r.ShortDescription,
		Categories:       make([]model.CategoryRef, 0, len(r.Categories)),
		Tags:             make([]model.TagRef, 0, len(r.Tags)),
		Images:           make([]model.ImageRef, 0, len(r.Images)),

		RemoteModifiedAt: r.ModifiedAt,
	}
	for _, c := range r.Categories {
		p.Categories = append(p.Categories, model.CategoryRef{ID: c.ID, Name: c.Name})
	}
	for _, t := range r.Tags {
		p.Tags = append(p.Tags, model.TagRef{ID: t.ID, Name: t.Name})
	}
	for _, img := range r.Images {
		p.Images = append(p.Images, model.ImageRef{ID: img.ID, Src: img.Src})
	}
	return p
}

// ToCategoryModel 远端分类转为本地副本
func ToCategoryModel(siteID int64, r *woo.RemoteCategory) *model.Category {
	return &model.Category{
		SiteID:         siteID,
		RemoteID:       r.ID,
		Name:           r.Name,
		Slug:           r.Slug,
		ParentRemoteID: r.ParentID,
		Description:    r.Description,
		Count:          r.Count,
	}
}

// ToProductPayload 本地商品转为创建/更新请求体
// 全量发送：本地为空的价格、库存、分类、标签、图片会清空远端
// 只发送已映射远端 ID 的分类与标签；有媒体 ID 的图片按 ID 引用，否则发送 http(s) 地址
func ToProductPayload(p *model.Product) *woo.ProductPayload {
	payload := &woo.ProductPayload{
		Name:             p.Name,
		Status:           string(p.Status),
		SKU:              p.SKU,
		RegularPrice:     woo.StringPtr(woo.FormatPrice(p.RegularPrice)),
		SalePrice:        woo.StringPtr(woo.FormatPrice(p.SalePrice)),
		ManageStock:      woo.BoolPtr(p.StockQuantity != nil),
		StockQuantity:    p.StockQuantity,
		Description:      woo.StringPtr(p.Description),
		ShortDescription: woo.StringPtr(p.ShortDescription),
		Categories:       []woo.IDRef{},
		Tags:             []woo.IDRef{},
		Images:           []woo.ImageRef{},
	}
	if !p.HasRemote() {
		payload.Type = "simple"
		if payload.Status == "" {
			payload.Status = string(model.ProductStatusDraft)
		}
	}
	for _, id := range model.RemoteCategoryIDs(p.Categories) {
		payload.Categories = append(payload.Categories, woo.IDRef{ID: id})
	}
	for _, tag := range p.Tags {
		if tag.ID > 0 {
			payload.Tags = append(payload.Tags, woo.IDRef{ID: tag.ID})
		}
	}
	for _, img := range p.Images {
		switch {
		case img.ID > 0:
			payload.Images = append(payload.Images, woo.ImageRef{ID: img.ID})
		case isRemoteURL(img.Src):
			payload.Images = append(payload.Images, woo.ImageRef{Src: img.Src})
		}
	}
	return payload
}

// CandidateToProduct 暂存候选转为本地商品草稿，分类与图片由调用方补全
func CandidateToProduct(siteID int64, c *model.StagedCandidate) *model.Product {
	status := c.Status
	if !status.Valid() {
		status = model.ProductStatusDraft
	}
	return &model.Product{
		SiteID:           siteID,
		Name:             c.Name,
		SKU:              strings.TrimSpace(c.SKU),
		RegularPrice:     c.RegularPrice,
		SalePrice:        c.SalePrice,
		StockQuantity:    c.StockQuantity,
		Status:           status,
		Description:      c.Description,
		ShortDescription: c.ShortDescription,
		Categories:       []model.CategoryRef{},
		Tags:             model.TagsFromNames(c.Tags),
		Images:           []model.ImageRef{},
	}
}

func isRemoteURL(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}
