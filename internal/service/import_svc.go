package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"woo_sync_v1_202610/internal/model"
	"woo_sync_v1_202610/internal/repository"
)

// ==================== 行格式 ====================

// SiteRow 站点导入/导出的一行
type SiteRow struct {
	Name           string `json:"name"`
	URL            string `json:"url"`
	ConsumerKey    string `json:"consumer_key"`
	ConsumerSecret string `json:"consumer_secret"`
	Active         bool   `json:"active"`
	Notes          string `json:"notes"`
}

// ProductRow 商品导入/导出的一行，Site 为站点名称
type ProductRow struct {
	Site          string `json:"site"`
	Name          string `json:"name"`
	SKU           string `json:"sku"`
	RegularPrice  string `json:"regular_price"`
	SalePrice     string `json:"sale_price"`
	StockQuantity *int   `json:"stock_quantity"`
	Status        string `json:"status"`
	Description   string `json:"description"`
}

// RowResult 每个输入行一条，顺序与输入一致
type RowResult struct {
	Row    int    `json:"row"`
	ID     int64  `json:"id,omitempty"`
	Action string `json:"action,omitempty"` // created / updated
	Error  string `json:"error,omitempty"`
}

// ImportService 外部表格数据与本地库之间的转换
type ImportService struct {
	store *repository.Store
	sites *SiteService
	log   *zap.Logger
}

func NewImportService(store *repository.Store, sites *SiteService, log *zap.Logger) *ImportService {
	if log == nil {
		log = zap.NewNop()
	}
	return &ImportService{store: store, sites: sites, log: log.Named("import")}
}

// ==================== 站点 ====================

// ImportSites URL + consumer key 已存在时更新名称/状态/备注
func (s *ImportService) ImportSites(ctx context.Context, rows []SiteRow) []RowResult {
	results := make([]RowResult, 0, len(rows))
	for i, row := range rows {
		res := RowResult{Row: i + 1}
		active := row.Active
		notes := row.Notes
		in := SiteInput{
			Name:           row.Name,
			URL:            row.URL,
			ConsumerKey:    row.ConsumerKey,
			ConsumerSecret: row.ConsumerSecret,
			IsActive:       &active,
			Notes:          &notes,
		}

		existing, err := s.store.Sites.GetByURL(ctx, model.NormalizeSiteURL(row.URL), strings.TrimSpace(row.ConsumerKey))
		switch {
		case err == nil:
			site, uerr := s.sites.Update(ctx, existing.ID, in)
			if uerr != nil {
				res.Error = uerr.Error()
				break
			}
			res.ID, res.Action = site.ID, "updated"
		case repository.IsNotFound(err):
			site, cerr := s.sites.Create(ctx, in)
			if cerr != nil {
				res.Error = cerr.Error()
				break
			}
			res.ID, res.Action = site.ID, "created"
		default:
			res.Error = err.Error()
		}
		results = append(results, res)
	}
	s.log.Info("站点导入完成", zap.Int("rows", len(rows)), zap.Int("failed", countFailed(results)))
	return results
}

// ExportSites 导出全部站点
func (s *ImportService) ExportSites(ctx context.Context) ([]SiteRow, error) {
	var sites []model.Site
	if err := s.store.DB().WithContext(ctx).Order("id ASC").Find(&sites).Error; err != nil {
		return nil, fmt.Errorf("读取站点失败: %w", err)
	}
	rows := make([]SiteRow, 0, len(sites))
	for _, site := range sites {
		rows = append(rows, SiteRow{
			Name:           site.Name,
			URL:            site.URL,
			ConsumerKey:    site.ConsumerKey,
			ConsumerSecret: site.ConsumerSecret,
			Active:         site.IsActive,
			Notes:          site.Notes,
		})
	}
	return rows, nil
}

// ==================== 商品 ====================

// ImportProducts 作为本地编辑写入：按 SKU 合并，行变为待推送
func (s *ImportService) ImportProducts(ctx context.Context, rows []ProductRow) []RowResult {
	siteIDs := make(map[string]int64)
	results := make([]RowResult, 0, len(rows))
	for i, row := range rows {
		res := RowResult{Row: i + 1}
		id, action, err := s.importProduct(ctx, row, siteIDs)
		if err != nil {
			res.Error = err.Error()
		} else {
			res.ID, res.Action = id, action
		}
		results = append(results, res)
	}
	s.log.Info("商品导入完成", zap.Int("rows", len(rows)), zap.Int("failed", countFailed(results)))
	return results
}

func (s *ImportService) importProduct(ctx context.Context, row ProductRow, siteIDs map[string]int64) (int64, string, error) {
	siteName := strings.TrimSpace(row.Site)
	siteID, ok := siteIDs[siteName]
	if !ok {
		site, err := s.store.Sites.GetByName(ctx, siteName)
		if repository.IsNotFound(err) {
			return 0, "", fmt.Errorf("site %q not found", row.Site)
		}
		if err != nil {
			return 0, "", err
		}
		siteID = site.ID
		siteIDs[siteName] = siteID
	}

	name := strings.TrimSpace(row.Name)
	if name == "" {
		return 0, "", errors.New("name is required")
	}
	regular, err := parseRowPrice(row.RegularPrice)
	if err != nil {
		return 0, "", fmt.Errorf("regular_price: %w", err)
	}
	sale, err := parseRowPrice(row.SalePrice)
	if err != nil {
		return 0, "", fmt.Errorf("sale_price: %w", err)
	}
	status := model.ProductStatus(strings.ToLower(strings.TrimSpace(row.Status)))
	if status == "" {
		status = model.ProductStatusDraft
	}
	if !status.Valid() {
		return 0, "", fmt.Errorf("unknown status %q", row.Status)
	}

	sku := strings.TrimSpace(row.SKU)
	record := &model.Product{
		SiteID:     siteID,
		Categories: []model.CategoryRef{},
		Tags:       []model.TagRef{},
		Images:     []model.ImageRef{},
	}
	// 行里没有的字段（分类、图片等）沿用已有商品
	existing, err := s.store.Products.FindBySKU(ctx, siteID, sku)
	if err != nil {
		return 0, "", err
	}
	if existing != nil {
		record = existing
	}
	record.Name = name
	record.SKU = sku
	record.RegularPrice = regular
	record.SalePrice = sale
	record.StockQuantity = row.StockQuantity
	record.Status = status
	record.Description = row.Description

	result, err := s.store.Products.UpsertProduct(ctx, record, repository.UpsertOptions{})
	if err != nil {
		return 0, "", err
	}
	action := "updated"
	if result.Action == repository.UpsertInserted {
		action = "created"
	}
	return result.Product.ID, action, nil
}

// ExportProducts 导出站点的全部本地商品
func (s *ImportService) ExportProducts(ctx context.Context, siteID int64) ([]ProductRow, error) {
	site, err := s.store.Sites.GetByID(ctx, siteID)
	if err != nil {
		return nil, err
	}
	products, err := s.store.Products.ListBySite(ctx, siteID)
	if err != nil {
		return nil, fmt.Errorf("读取商品失败: %w", err)
	}
	rows := make([]ProductRow, 0, len(products))
	for _, p := range products {
		rows = append(rows, ProductRow{
			Site:          site.Name,
			Name:          p.Name,
			SKU:           p.SKU,
			RegularPrice:  formatRowPrice(p.RegularPrice),
			SalePrice:     formatRowPrice(p.SalePrice),
			StockQuantity: p.StockQuantity,
			Status:        string(p.Status),
			Description:   p.Description,
		})
	}
	return rows, nil
}

func parseRowPrice(s string) (decimal.NullDecimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	if d.IsNegative() {
		return decimal.NullDecimal{}, fmt.Errorf("negative price %s", s)
	}
	return decimal.NewNullDecimal(d), nil
}

func formatRowPrice(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.StringFixed(2)
}

func countFailed(results []RowResult) int {
	n := 0
	for _, r := range results {
		if r.Error != "" {
			n++
		}
	}
	return n
}
