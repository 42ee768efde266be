package controller

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"woo_sync_v1_202610/internal/repository"
	"woo_sync_v1_202610/internal/service"
	"woo_sync_v1_202610/internal/task"
)

// ==================== 响应 ====================

func ok(ctx *gin.Context, message string, data interface{}) {
	ctx.JSON(http.StatusOK, gin.H{"code": 200, "message": message, "data": data})
}

func accepted(ctx *gin.Context, message string, data interface{}) {
	ctx.JSON(http.StatusAccepted, gin.H{"code": 202, "message": message, "data": data})
}

func fail(ctx *gin.Context, status int, message string) {
	ctx.JSON(status, gin.H{"code": status, "message": message})
}

// failErr 按错误类型选择状态码
func failErr(ctx *gin.Context, err error) {
	fail(ctx, statusOf(err), err.Error())
}

func statusOf(err error) int {
	switch {
	case repository.IsNotFound(err), errors.Is(err, task.ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrInvalidSite):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrSiteExists),
		errors.Is(err, repository.ErrSiteInUse),
		errors.Is(err, repository.ErrDuplicateSKU),
		errors.Is(err, task.ErrSiteBusy),
		errors.Is(err, task.ErrSiteInactive):
		return http.StatusConflict
	case errors.Is(err, task.ErrShuttingDown):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// ==================== 参数 ====================

// parseID 解析路径 ID，失败时已写入 400
func parseID(ctx *gin.Context, key string) int64 {
	id, err := strconv.ParseInt(ctx.Param(key), 10, 64)
	if err != nil || id <= 0 {
		fail(ctx, http.StatusBadRequest, "无效的 ID")
		return 0
	}
	return id
}

func queryInt(ctx *gin.Context, key string, def int) int {
	if v, err := strconv.Atoi(ctx.Query(key)); err == nil {
		return v
	}
	return def
}

func queryInt64(ctx *gin.Context, key string) int64 {
	v, _ := strconv.ParseInt(ctx.Query(key), 10, 64)
	return v
}

// queryBool 未传返回 nil
func queryBool(ctx *gin.Context, key string) *bool {
	v, err := strconv.ParseBool(ctx.Query(key))
	if err != nil {
		return nil
	}
	return &v
}
