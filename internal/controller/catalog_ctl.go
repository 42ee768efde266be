package controller

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"woo_sync_v1_202610/internal/model"
	"woo_sync_v1_202610/internal/repository"
	"woo_sync_v1_202610/internal/service"
)

// CatalogController 本地镜像的分类与商品
type CatalogController struct {
	store      *repository.Store
	reconciler *service.ReconcilerService
}

func NewCatalogController(store *repository.Store, reconciler *service.ReconcilerService) *CatalogController {
	return &CatalogController{store: store, reconciler: reconciler}
}

// ListCategories 站点分类镜像
// @Router /api/sites/{id}/categories [get]
func (c *CatalogController) ListCategories(ctx *gin.Context) {
	siteID := parseID(ctx, "id")
	if siteID == 0 {
		return
	}
	cats, err := c.store.Categories.ListBySite(ctx.Request.Context(), siteID)
	if err != nil {
		failErr(ctx, err)
		return
	}
	ok(ctx, "success", cats)
}

// ResolveCategory 分类匹配预览
// @Summary 分类匹配
// @Description 按本地 ID、精确名称、模糊名称依次匹配，未匹配时 method=none
// @Tags Catalog
// @Accept json
// @Param request body model.CategoryHint true "分类提示"
// @Router /api/sites/{id}/categories/resolve [post]
func (c *CatalogController) ResolveCategory(ctx *gin.Context) {
	siteID := parseID(ctx, "id")
	if siteID == 0 {
		return
	}
	var hint model.CategoryHint
	if err := ctx.ShouldBindJSON(&hint); err != nil {
		fail(ctx, http.StatusBadRequest, "参数错误: "+err.Error())
		return
	}
	res, err := c.reconciler.Resolve(ctx.Request.Context(), siteID, hint)
	if err != nil {
		failErr(ctx, err)
		return
	}
	ok(ctx, "success", res)
}

// ListProducts 站点商品
// @Param sync_state query string false "synced / pending / failed / stale"
// @Param keyword query string false "名称 / SKU"
// @Param unsynced query bool false "只看待推送"
// @Param remote_deleted query bool false "远端已删除"
// @Router /api/sites/{id}/products [get]
func (c *CatalogController) ListProducts(ctx *gin.Context) {
	siteID := parseID(ctx, "id")
	if siteID == 0 {
		return
	}
	filter := repository.ProductFilter{
		SiteID:        siteID,
		SyncState:     model.ProductSyncState(ctx.Query("sync_state")),
		Keyword:       ctx.Query("keyword"),
		OnlyUnsynced:  ctx.Query("unsynced") == "true",
		RemoteDeleted: queryBool(ctx, "remote_deleted"),
		Page:          queryInt(ctx, "page", 1),
		PageSize:      queryInt(ctx, "page_size", 20),
	}
	list, total, err := c.store.Products.List(ctx.Request.Context(), filter)
	if err != nil {
		failErr(ctx, err)
		return
	}
	ok(ctx, "success", gin.H{"list": list, "total": total})
}

// RequeueProduct 远端已不存在的商品重新作为新商品推送
// @Router /api/products/{id}/requeue [post]
func (c *CatalogController) RequeueProduct(ctx *gin.Context) {
	id := parseID(ctx, "id")
	if id == 0 {
		return
	}
	if err := c.store.Products.RequeueAsNew(ctx.Request.Context(), id); err != nil {
		failErr(ctx, err)
		return
	}
	ok(ctx, "已重新排队", gin.H{"id": id})
}
