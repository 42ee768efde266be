package controller

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"woo_sync_v1_202610/internal/service"
	"woo_sync_v1_202610/internal/task"
)

// RunController 同步 / 推送 / 批量上传的触发与查询
type RunController struct {
	runs *task.RunManager
}

func NewRunController(runs *task.RunManager) *RunController {
	return &RunController{runs: runs}
}

// BulkUploadReq 批量上传参数
type BulkUploadReq struct {
	CandidateIDs []int64 `json:"candidate_ids" binding:"required,min=1"`
	Policy       string  `json:"policy"`
}

// ==================== Handler 实现 ====================

// TriggerSync 完整同步
// @Summary 手动完整同步
// @Tags Run
// @Param id path int true "站点 ID"
// @Success 202 {object} map[string]interface{}
// @Failure 409 {object} map[string]interface{} "站点正在运行"
// @Failure 429 {object} map[string]interface{} "冷却中"
// @Router /api/sites/{id}/sync [post]
func (c *RunController) TriggerSync(ctx *gin.Context) {
	siteID := parseID(ctx, "id")
	if siteID == 0 {
		return
	}
	h, err := c.runs.StartFullSync(ctx.Request.Context(), siteID)
	if err != nil {
		failErr(ctx, err)
		return
	}
	accepted(ctx, "同步已启动", runRef(h))
}

// TriggerPush 增量推送
// @Summary 推送本地未同步修改
// @Tags Run
// @Router /api/sites/{id}/push [post]
func (c *RunController) TriggerPush(ctx *gin.Context) {
	siteID := parseID(ctx, "id")
	if siteID == 0 {
		return
	}
	h, err := c.runs.StartPush(ctx.Request.Context(), siteID)
	if err != nil {
		failErr(ctx, err)
		return
	}
	accepted(ctx, "推送已启动", runRef(h))
}

// TriggerBulkUpload 批量上传暂存候选
// @Summary 批量上传
// @Tags Run
// @Accept json
// @Param request body BulkUploadReq true "候选 ID 与冲突策略"
// @Router /api/sites/{id}/bulk-upload [post]
func (c *RunController) TriggerBulkUpload(ctx *gin.Context) {
	siteID := parseID(ctx, "id")
	if siteID == 0 {
		return
	}
	var req BulkUploadReq
	if err := ctx.ShouldBindJSON(&req); err != nil {
		fail(ctx, http.StatusBadRequest, "参数错误: "+err.Error())
		return
	}
	policy, err := service.ParseConflictPolicy(req.Policy)
	if err != nil {
		fail(ctx, http.StatusBadRequest, err.Error())
		return
	}
	h, err := c.runs.StartBulkUpload(ctx.Request.Context(), siteID, req.CandidateIDs, policy)
	if err != nil {
		failErr(ctx, err)
		return
	}
	accepted(ctx, "批量上传已启动", runRef(h))
}

// GetRun 运行报告，进行中返回当前状态
// @Router /api/runs/{run_id} [get]
func (c *RunController) GetRun(ctx *gin.Context) {
	rep, err := c.runs.Report(ctx.Request.Context(), ctx.Param("run_id"))
	if err != nil {
		failErr(ctx, err)
		return
	}
	ok(ctx, "success", rep)
}

// CancelRun 请求取消，正在进行的请求会完成
// @Router /api/runs/{run_id}/cancel [post]
func (c *RunController) CancelRun(ctx *gin.Context) {
	runID := ctx.Param("run_id")
	if err := c.runs.Cancel(runID); err != nil {
		failErr(ctx, err)
		return
	}
	ok(ctx, "已请求取消", gin.H{"run_id": runID})
}

// ListSiteRuns 站点运行历史（不含明细）
// @Router /api/sites/{id}/runs [get]
func (c *RunController) ListSiteRuns(ctx *gin.Context) {
	siteID := parseID(ctx, "id")
	if siteID == 0 {
		return
	}
	runs, err := c.runs.History(ctx.Request.Context(), siteID, queryInt(ctx, "limit", 20))
	if err != nil {
		failErr(ctx, err)
		return
	}
	ok(ctx, "success", runs)
}

func runRef(h *task.RunHandle) gin.H {
	return gin.H{
		"run_id":  h.ID(),
		"site_id": h.SiteID(),
		"kind":    h.Kind(),
		"state":   h.State(),
	}
}
