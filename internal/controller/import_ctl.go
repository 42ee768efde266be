package controller

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"woo_sync_v1_202610/internal/service"
)

// ImportController 表格行导入导出，导入与导出的行结构一致
type ImportController struct {
	importSvc *service.ImportService
}

func NewImportController(importSvc *service.ImportService) *ImportController {
	return &ImportController{importSvc: importSvc}
}

// ImportSitesReq 站点导入
type ImportSitesReq struct {
	Rows []service.SiteRow `json:"rows" binding:"required"`
}

// ImportProductsReq 商品导入
type ImportProductsReq struct {
	Rows []service.ProductRow `json:"rows" binding:"required"`
}

// ImportSites 每行一条结果，单行失败不影响其余行
// @Router /api/import/sites [post]
func (c *ImportController) ImportSites(ctx *gin.Context) {
	var req ImportSitesReq
	if err := ctx.ShouldBindJSON(&req); err != nil {
		fail(ctx, http.StatusBadRequest, "参数错误: "+err.Error())
		return
	}
	results := c.importSvc.ImportSites(ctx.Request.Context(), req.Rows)
	ok(ctx, "导入完成", summarize(results))
}

// ExportSites 导出全部站点（含凭据）
// @Router /api/export/sites [get]
func (c *ImportController) ExportSites(ctx *gin.Context) {
	rows, err := c.importSvc.ExportSites(ctx.Request.Context())
	if err != nil {
		failErr(ctx, err)
		return
	}
	ok(ctx, "success", rows)
}

// ImportProducts 按站点名称 + SKU 合并
// @Router /api/import/products [post]
func (c *ImportController) ImportProducts(ctx *gin.Context) {
	var req ImportProductsReq
	if err := ctx.ShouldBindJSON(&req); err != nil {
		fail(ctx, http.StatusBadRequest, "参数错误: "+err.Error())
		return
	}
	results := c.importSvc.ImportProducts(ctx.Request.Context(), req.Rows)
	ok(ctx, "导入完成", summarize(results))
}

// ExportProducts 导出站点商品
// @Router /api/export/sites/{id}/products [get]
func (c *ImportController) ExportProducts(ctx *gin.Context) {
	siteID := parseID(ctx, "id")
	if siteID == 0 {
		return
	}
	rows, err := c.importSvc.ExportProducts(ctx.Request.Context(), siteID)
	if err != nil {
		failErr(ctx, err)
		return
	}
	ok(ctx, "success", rows)
}

func summarize(results []service.RowResult) gin.H {
	var created, updated, failed int
	for _, r := range results {
		switch {
		case r.Error != "":
			failed++
		case r.Action == "created":
			created++
		default:
			updated++
		}
	}
	return gin.H{
		"results": results,
		"created": created,
		"updated": updated,
		"failed":  failed,
	}
}
