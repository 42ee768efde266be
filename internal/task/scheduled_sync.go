package task

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"woo_sync_v1_202610/internal/repository"
)

// ==================== ScheduledSyncTask 定时全量同步 ====================

// DefaultSyncCron 每 30 分钟
const DefaultSyncCron = "0 */30 * * * *"

// ScheduledSyncTask 定时对所有启用站点执行完整同步
// 站点之间并行，已在运行的站点跳过
type ScheduledSyncTask struct {
	sites   repository.SiteRepository
	runs    *RunManager
	cron    *cron.Cron
	spec    string
	timeout time.Duration
	log     *zap.Logger

	concurrencyLimit int
}

// SweepResult 一轮定时同步的汇总
type SweepResult struct {
	Sites     int
	Succeeded int
	Failed    int
	Busy      int
}

func NewScheduledSyncTask(sites repository.SiteRepository, runs *RunManager, spec string, concurrency int, log *zap.Logger) *ScheduledSyncTask {
	if spec == "" {
		spec = DefaultSyncCron
	}
	if concurrency <= 0 {
		concurrency = 3
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ScheduledSyncTask{
		sites:            sites,
		runs:             runs,
		cron:             cron.New(cron.WithSeconds()),
		spec:             spec,
		timeout:          2 * time.Hour,
		log:              log.Named("scheduler"),
		concurrencyLimit: concurrency,
	}
}

// Start 注册并启动定时任务，cron 表达式非法时返回错误
func (t *ScheduledSyncTask) Start() error {
	if _, err := t.cron.AddFunc(t.spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
		defer cancel()
		t.SyncAll(ctx)
	}); err != nil {
		return err
	}
	t.cron.Start()
	t.log.Info("定时同步已启动", zap.String("cron", t.spec), zap.Int("concurrency", t.concurrencyLimit))
	return nil
}

// Stop 等待正在执行的一轮结束
func (t *ScheduledSyncTask) Stop() {
	ctx := t.cron.Stop()
	<-ctx.Done()
	t.log.Info("定时同步已停止")
}

// SyncAll 同步所有启用站点
func (t *ScheduledSyncTask) SyncAll(ctx context.Context) SweepResult {
	var res SweepResult
	sites, err := t.sites.ListActive(ctx)
	if err != nil {
		t.log.Error("获取站点列表失败", zap.Error(err))
		return res
	}
	res.Sites = len(sites)
	if len(sites) == 0 {
		t.log.Debug("无启用站点需要同步")
		return res
	}

	sem := make(chan struct{}, t.concurrencyLimit)
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)

	for i := range sites {
		siteID := sites[i].ID
		select {
		case <-ctx.Done():
			t.log.Warn("定时同步超时停止")
			wg.Wait()
			return res
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func() {
			defer func() {
				<-sem
				wg.Done()
			}()

			rep, err := t.runs.RunFullSync(ctx, siteID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, ErrSiteBusy):
				res.Busy++
				t.log.Info("站点正在运行，跳过", zap.Int64("site_id", siteID))
			case err != nil:
				res.Failed++
				t.log.Warn("启动站点同步失败", zap.Int64("site_id", siteID), zap.Error(err))
			case rep.Failed():
				res.Failed++
			default:
				res.Succeeded++
			}
		}()
	}
	wg.Wait()

	t.log.Info("定时同步完成",
		zap.Int("sites", res.Sites),
		zap.Int("succeeded", res.Succeeded),
		zap.Int("failed", res.Failed),
		zap.Int("busy", res.Busy),
	)
	return res
}
