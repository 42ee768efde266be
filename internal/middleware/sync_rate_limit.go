package middleware

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// ==================== 触发冷却中间件 ====================

// TriggerCooldown 按站点 + 触发类型冷却，只有成功启动的请求才开始计时
//
// 使用示例:
//
//	sites.POST("/:id/sync",
//	    middleware.TriggerCooldown(limiter, middleware.TriggerSync, cfg.Sync.TriggerCooldown),
//	    runCtl.TriggerSync,
//	)
//
// interval 为 0 时不限制
func TriggerCooldown(limiter *TriggerLimiter, t TriggerType, interval time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if interval <= 0 {
			c.Next()
			return
		}

		key := GlobalTriggerKey(t)
		if idStr := c.Param("id"); idStr != "" {
			siteID, err := strconv.ParseInt(idStr, 10, 64)
			if err != nil {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
					"code":    400,
					"message": "无效的站点 ID",
				})
				return
			}
			key = SiteTriggerKey(siteID, t)
		}

		if result := limiter.CheckOnly(key, interval); !result.Allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code":    429,
				"message": formatRetryMessage(result.RetryAfter),
				"data": gin.H{
					"retry_after":  int(math.Ceil(result.RetryAfter.Seconds())),
					"trigger_type": t,
				},
			})
			return
		}

		c.Next()

		if status := c.Writer.Status(); status >= 200 && status < 300 {
			limiter.MarkExecuted(key)
		}
	}
}

// ==================== 辅助函数 ====================

// formatRetryMessage 格式化重试提示信息
func formatRetryMessage(d time.Duration) string {
	seconds := int(math.Ceil(d.Seconds()))

	if seconds < 60 {
		return fmt.Sprintf("触发冷却中，请 %d 秒后重试", seconds)
	}

	minutes := seconds / 60
	remainingSeconds := seconds % 60

	if remainingSeconds == 0 {
		return fmt.Sprintf("触发冷却中，请 %d 分钟后重试", minutes)
	}

	return fmt.Sprintf("触发冷却中，请 %d 分 %d 秒后重试", minutes, remainingSeconds)
}
