package middleware

import (
	"fmt"
	"sync"
	"time"
)

// ==================== TriggerLimiter 手动触发冷却 ====================

// TriggerLimiter 手动触发的冷却计时
// 防止频繁触发同步打满站点的 API 配额
type TriggerLimiter struct {
	locks sync.Map // key -> *lockEntry
	now   func() time.Time
}

// lockEntry 锁条目
type lockEntry struct {
	lastTime time.Time
	mu       sync.Mutex
}

func NewTriggerLimiter() *TriggerLimiter {
	return &TriggerLimiter{now: time.Now}
}

// ==================== 冷却检查 ====================

// CheckResult 检查结果
type CheckResult struct {
	Allowed    bool          // 是否允许
	RetryAfter time.Duration // 剩余冷却时间
}

// Check 检查并在允许时记录本次触发
func (r *TriggerLimiter) Check(key string, interval time.Duration) CheckResult {
	actual, _ := r.locks.LoadOrStore(key, &lockEntry{})
	entry := actual.(*lockEntry)

	entry.mu.Lock()
	defer entry.mu.Unlock()

	now := r.now()
	if elapsed := now.Sub(entry.lastTime); elapsed < interval {
		return CheckResult{RetryAfter: interval - elapsed}
	}
	entry.lastTime = now
	return CheckResult{Allowed: true}
}

// CheckOnly 仅检查，不更新时间
func (r *TriggerLimiter) CheckOnly(key string, interval time.Duration) CheckResult {
	actual, ok := r.locks.Load(key)
	if !ok {
		return CheckResult{Allowed: true}
	}

	entry := actual.(*lockEntry)
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if elapsed := r.now().Sub(entry.lastTime); elapsed < interval {
		return CheckResult{RetryAfter: interval - elapsed}
	}
	return CheckResult{Allowed: true}
}

// MarkExecuted 运行真正启动后记录
func (r *TriggerLimiter) MarkExecuted(key string) {
	actual, _ := r.locks.LoadOrStore(key, &lockEntry{})
	entry := actual.(*lockEntry)

	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.lastTime = r.now()
}

// Reset 清除冷却
func (r *TriggerLimiter) Reset(key string) {
	r.locks.Delete(key)
}

// ==================== Key ====================

// TriggerType 手动触发类型
type TriggerType string

const (
	TriggerSync TriggerType = "sync"
	TriggerPush TriggerType = "push"
	TriggerBulk TriggerType = "bulk_upload"
	TriggerScan TriggerType = "scan"
)

// SiteTriggerKey 站点级 key
func SiteTriggerKey(siteID int64, t TriggerType) string {
	return fmt.Sprintf("site:%d:%s", siteID, t)
}

// GlobalTriggerKey 全局 key
func GlobalTriggerKey(t TriggerType) string {
	return fmt.Sprintf("global:%s", t)
}
