package controller

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"woo_sync_v1_202610/internal/repository"
	"woo_sync_v1_202610/internal/service"
)

type SiteController struct {
	siteSvc *service.SiteService
}

func NewSiteController(siteSvc *service.SiteService) *SiteController {
	return &SiteController{siteSvc: siteSvc}
}

// ListSites 站点列表
// @Summary 站点列表
// @Tags Site
// @Param keyword query string false "名称 / URL 关键词"
// @Param active query bool false "是否启用"
// @Param page query int false "页码" default(1)
// @Param page_size query int false "每页数量" default(20)
// @Router /api/sites [get]
func (c *SiteController) ListSites(ctx *gin.Context) {
	filter := repository.SiteFilter{
		Keyword:  ctx.Query("keyword"),
		Active:   queryBool(ctx, "active"),
		Page:     queryInt(ctx, "page", 1),
		PageSize: queryInt(ctx, "page_size", 20),
	}
	list, total, err := c.siteSvc.List(ctx.Request.Context(), filter)
	if err != nil {
		failErr(ctx, err)
		return
	}
	ok(ctx, "success", gin.H{"list": list, "total": total})
}

// CreateSite 注册站点
// @Summary 注册站点
// @Tags Site
// @Accept json
// @Param request body service.SiteInput true "站点信息"
// @Router /api/sites [post]
func (c *SiteController) CreateSite(ctx *gin.Context) {
	var req service.SiteInput
	if err := ctx.ShouldBindJSON(&req); err != nil {
		fail(ctx, http.StatusBadRequest, "参数错误: "+err.Error())
		return
	}
	site, err := c.siteSvc.Create(ctx.Request.Context(), req)
	if err != nil {
		failErr(ctx, err)
		return
	}
	ok(ctx, "站点已创建", site)
}

// GetSite 站点详情
// @Router /api/sites/{id} [get]
func (c *SiteController) GetSite(ctx *gin.Context) {
	id := parseID(ctx, "id")
	if id == 0 {
		return
	}
	site, err := c.siteSvc.Get(ctx.Request.Context(), id)
	if err != nil {
		failErr(ctx, err)
		return
	}
	ok(ctx, "success", site)
}

// UpdateSite 修改站点，未传字段保持原值
// @Router /api/sites/{id} [put]
func (c *SiteController) UpdateSite(ctx *gin.Context) {
	id := parseID(ctx, "id")
	if id == 0 {
		return
	}
	var req service.SiteInput
	if err := ctx.ShouldBindJSON(&req); err != nil {
		fail(ctx, http.StatusBadRequest, "参数错误: "+err.Error())
		return
	}
	site, err := c.siteSvc.Update(ctx.Request.Context(), id, req)
	if err != nil {
		failErr(ctx, err)
		return
	}
	ok(ctx, "站点已更新", site)
}

// DeleteSite 删除站点
// @Summary 删除站点
// @Description 站点下仍有商品时需要 cascade=true，运行历史保留
// @Tags Site
// @Param cascade query bool false "同时删除商品与分类"
// @Router /api/sites/{id} [delete]
func (c *SiteController) DeleteSite(ctx *gin.Context) {
	id := parseID(ctx, "id")
	if id == 0 {
		return
	}
	cascade := ctx.Query("cascade") == "true"
	if err := c.siteSvc.Delete(ctx.Request.Context(), id, cascade); err != nil {
		failErr(ctx, err)
		return
	}
	ok(ctx, "站点已删除", gin.H{"id": id})
}

// TestConnection 连接测试
// @Summary 连接测试
// @Description 远端错误写在结果中，接口本身返回 200
// @Tags Site
// @Router /api/sites/{id}/test [post]
func (c *SiteController) TestConnection(ctx *gin.Context) {
	id := parseID(ctx, "id")
	if id == 0 {
		return
	}
	res, err := c.siteSvc.TestConnection(ctx.Request.Context(), id)
	if err != nil {
		failErr(ctx, err)
		return
	}
	msg := "连接成功"
	if !res.OK {
		msg = "连接失败"
	}
	ok(ctx, msg, res)
}
