package router

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"woo_sync_v1_202610/internal/controller"
	"woo_sync_v1_202610/internal/middleware"
)

// Controllers 路由依赖
type Controllers struct {
	Sites      *controller.SiteController
	Runs       *controller.RunController
	Catalog    *controller.CatalogController
	Candidates *controller.CandidateController
	Imports    *controller.ImportController
}

// Options 路由参数
type Options struct {
	Limiter *middleware.TriggerLimiter
	// TriggerCooldown 同一站点手动触发的最小间隔，0 不限制
	TriggerCooldown time.Duration
}

// InitRoutes 注册所有路由
func InitRoutes(r *gin.Engine, ctl Controllers, opts Options) {
	if opts.Limiter == nil {
		opts.Limiter = middleware.NewTriggerLimiter()
	}
	cooldown := func(t middleware.TriggerType) gin.HandlerFunc {
		return middleware.TriggerCooldown(opts.Limiter, t, opts.TriggerCooldown)
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"code": 200, "message": "ok"})
	})

	api := r.Group("/api")
	{
		// 站点
		sites := api.Group("/sites")
		{
			sites.GET("", ctl.Sites.ListSites)
			sites.POST("", ctl.Sites.CreateSite)
			sites.GET("/:id", ctl.Sites.GetSite)
			sites.PUT("/:id", ctl.Sites.UpdateSite)
			// DELETE /api/sites/:id?cascade=true
			sites.DELETE("/:id", ctl.Sites.DeleteSite)
			sites.POST("/:id/test", ctl.Sites.TestConnection)

			// 运行触发，带冷却
			sites.POST("/:id/sync", cooldown(middleware.TriggerSync), ctl.Runs.TriggerSync)
			sites.POST("/:id/push", cooldown(middleware.TriggerPush), ctl.Runs.TriggerPush)
			sites.POST("/:id/bulk-upload", cooldown(middleware.TriggerBulk), ctl.Runs.TriggerBulkUpload)
			sites.GET("/:id/runs", ctl.Runs.ListSiteRuns)

			sites.GET("/:id/categories", ctl.Catalog.ListCategories)
			sites.POST("/:id/categories/resolve", ctl.Catalog.ResolveCategory)
			sites.GET("/:id/products", ctl.Catalog.ListProducts)
		}

		runs := api.Group("/runs")
		{
			runs.GET("/:run_id", ctl.Runs.GetRun)
			runs.POST("/:run_id/cancel", ctl.Runs.CancelRun)
		}

		api.POST("/products/:id/requeue", ctl.Catalog.RequeueProduct)

		candidates := api.Group("/candidates")
		{
			candidates.POST("/scan", ctl.Candidates.Scan)
			candidates.GET("", ctl.Candidates.ListCandidates)
			candidates.DELETE("/:id", ctl.Candidates.DeleteCandidate)
		}

		// 表格导入导出
		api.POST("/import/sites", ctl.Imports.ImportSites)
		api.GET("/export/sites", ctl.Imports.ExportSites)
		api.POST("/import/products", ctl.Imports.ImportProducts)
		api.GET("/export/sites/:id/products", ctl.Imports.ExportProducts)
	}
}
