package controller

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"woo_sync_v1_202610/internal/model"
	"woo_sync_v1_202610/internal/repository"
	"woo_sync_v1_202610/internal/service"
)

type CandidateController struct {
	candidateSvc *service.CandidateService
}

func NewCandidateController(candidateSvc *service.CandidateService) *CandidateController {
	return &CandidateController{candidateSvc: candidateSvc}
}

// Scan 扫描文件夹生成暂存候选
// @Summary 扫描文件夹
// @Description root 为空时使用 scan.root
// @Tags Candidate
// @Accept json
// @Param request body service.ScanOptions true "扫描参数"
// @Router /api/candidates/scan [post]
func (c *CandidateController) Scan(ctx *gin.Context) {
	var req service.ScanOptions
	if err := ctx.ShouldBindJSON(&req); err != nil {
		fail(ctx, http.StatusBadRequest, "参数错误: "+err.Error())
		return
	}
	res, err := c.candidateSvc.Scan(ctx.Request.Context(), req)
	if err != nil {
		fail(ctx, http.StatusBadRequest, err.Error())
		return
	}
	ok(ctx, "扫描完成", res)
}

// ListCandidates 暂存候选
// @Router /api/candidates [get]
func (c *CandidateController) ListCandidates(ctx *gin.Context) {
	filter := repository.CandidateFilter{
		SiteID:   queryInt64(ctx, "site_id"),
		State:    model.CandidateState(ctx.Query("state")),
		Page:     queryInt(ctx, "page", 1),
		PageSize: queryInt(ctx, "page_size", 50),
	}
	list, total, err := c.candidateSvc.List(ctx.Request.Context(), filter)
	if err != nil {
		failErr(ctx, err)
		return
	}
	ok(ctx, "success", gin.H{"list": list, "total": total})
}

// DeleteCandidate 删除暂存候选
// @Router /api/candidates/{id} [delete]
func (c *CandidateController) DeleteCandidate(ctx *gin.Context) {
	id := parseID(ctx, "id")
	if id == 0 {
		return
	}
	if err := c.candidateSvc.Delete(ctx.Request.Context(), id); err != nil {
		failErr(ctx, err)
		return
	}
	ok(ctx, "已删除", gin.H{"id": id})
}
