package task

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"woo_sync_v1_202610/internal/event"
	"woo_sync_v1_202610/internal/model"
	"woo_sync_v1_202610/internal/repository"
	"woo_sync_v1_202610/internal/service"
	"woo_sync_v1_202610/pkg/logger"
)

// ==================== 错误 ====================

// TaskError 任务层错误
type TaskError string

func (e TaskError) Error() string { return string(e) }

const (
	ErrSiteBusy     TaskError = "site already has a run in progress"
	ErrSiteInactive TaskError = "site is inactive"
	ErrRunNotFound  TaskError = "run not found"
	ErrShuttingDown TaskError = "run manager is shutting down"
)

// ==================== RunHandle ====================

// RunHandle 一次后台运行；取消只在页与条目之间生效，进行中的请求会完成
type RunHandle struct {
	id        string
	siteID    int64
	kind      model.RunKind
	startedAt time.Time

	mu     sync.Mutex
	state  model.RunState
	report *model.RunReport

	canceled atomic.Bool
	done     chan struct{}
}

func newRunHandle(siteID int64, kind model.RunKind, initial model.RunState) *RunHandle {
	return &RunHandle{
		id:        uuid.NewString(),
		siteID:    siteID,
		kind:      kind,
		startedAt: model.Now(),
		state:     initial,
		done:      make(chan struct{}),
	}
}

func (h *RunHandle) ID() string            { return h.id }
func (h *RunHandle) SiteID() int64         { return h.siteID }
func (h *RunHandle) Kind() model.RunKind   { return h.kind }
func (h *RunHandle) Done() <-chan struct{} { return h.done }

// State 当前状态
func (h *RunHandle) State() model.RunState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// SetState 服务层上报状态
func (h *RunHandle) SetState(state model.RunState) {
	h.mu.Lock()
	h.state = state
	h.mu.Unlock()
}

// Cancel 请求取消，可重复调用
func (h *RunHandle) Cancel() { h.canceled.Store(true) }

// Canceled 服务层在页与条目之间检查
func (h *RunHandle) Canceled() bool { return h.canceled.Load() }

// Report 运行结束前返回 nil
func (h *RunHandle) Report() *model.RunReport {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.report
}

// Snapshot 运行中返回仅含状态的报告
func (h *RunHandle) Snapshot() *model.RunReport {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.report != nil {
		return h.report
	}
	return &model.RunReport{
		RunID:     h.id,
		SiteID:    h.siteID,
		Kind:      h.kind,
		State:     h.state,
		StartedAt: h.startedAt,
		Items:     []model.ReportItem{},
		Canceled:  h.canceled.Load(),
	}
}

// Wait 等待运行结束；ctx 结束只停止等待，不取消运行
func (h *RunHandle) Wait(ctx context.Context) (*model.RunReport, error) {
	select {
	case <-h.done:
		return h.Report(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *RunHandle) finish(rep *model.RunReport) {
	h.mu.Lock()
	h.report = rep
	h.state = rep.State
	h.mu.Unlock()
	close(h.done)
}

// ==================== RunManager ====================

// RunManagerDeps 运行管理器依赖
type RunManagerDeps struct {
	Store     *repository.Store
	Sync      *service.SyncService
	Bulk      *service.BulkService
	Locker    SiteLocker
	Publisher event.Publisher
	// HistoryLimit 每个站点保留的运行历史条数，0 不清理
	HistoryLimit int
	Log          *zap.Logger
}

// RunManager 后台运行的启动、查询与取消
type RunManager struct {
	store        *repository.Store
	sync         *service.SyncService
	bulk         *service.BulkService
	locker       SiteLocker
	publisher    event.Publisher
	historyLimit int
	log          *zap.Logger

	mu      sync.Mutex
	runs    map[string]*RunHandle
	closing bool
	wg      sync.WaitGroup
}

func NewRunManager(deps RunManagerDeps) *RunManager {
	if deps.Locker == nil {
		deps.Locker = NewMemoryLocker()
	}
	if deps.Publisher == nil {
		deps.Publisher = event.NoopPublisher{}
	}
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	return &RunManager{
		store:        deps.Store,
		sync:         deps.Sync,
		bulk:         deps.Bulk,
		locker:       deps.Locker,
		publisher:    deps.Publisher,
		historyLimit: deps.HistoryLimit,
		log:          deps.Log.Named("runs"),
		runs:         make(map[string]*RunHandle),
	}
}

type runFunc func(ctx context.Context, site *model.Site, h *RunHandle) *model.RunReport

// StartFullSync 后台执行拉取 + 推送
func (m *RunManager) StartFullSync(ctx context.Context, siteID int64) (*RunHandle, error) {
	return m.start(ctx, siteID, model.RunKindFullSync, model.RunStatePulling,
		func(ctx context.Context, site *model.Site, h *RunHandle) *model.RunReport {
			return m.sync.FullSync(ctx, site, h)
		})
}

// StartPush 后台执行增量推送
func (m *RunManager) StartPush(ctx context.Context, siteID int64) (*RunHandle, error) {
	return m.start(ctx, siteID, model.RunKindIncrementalPush, model.RunStateDiffing,
		func(ctx context.Context, site *model.Site, h *RunHandle) *model.RunReport {
			return m.sync.Push(ctx, site, h)
		})
}

// StartBulkUpload 后台上传候选
func (m *RunManager) StartBulkUpload(ctx context.Context, siteID int64, candidateIDs []int64, policy service.ConflictPolicy) (*RunHandle, error) {
	ids := append([]int64(nil), candidateIDs...)
	return m.start(ctx, siteID, model.RunKindBulkUpload, model.RunStatePushing,
		func(ctx context.Context, site *model.Site, h *RunHandle) *model.RunReport {
			rep, err := m.bulk.UploadByIDs(ctx, site, ids, policy, h)
			if err != nil {
				rep = service.NewReport(ctx, site.ID, model.RunKindBulkUpload)
				rep.State = model.RunStateError
				rep.FatalError = err.Error()
				now := model.Now()
				rep.FinishedAt = &now
			}
			return rep
		})
}

// RunFullSync 同步执行，直到运行结束
func (m *RunManager) RunFullSync(ctx context.Context, siteID int64) (*model.RunReport, error) {
	h, err := m.StartFullSync(ctx, siteID)
	if err != nil {
		return nil, err
	}
	return h.Wait(ctx)
}

// RunIncrementalPush 同步执行增量推送
func (m *RunManager) RunIncrementalPush(ctx context.Context, siteID int64) (*model.RunReport, error) {
	h, err := m.StartPush(ctx, siteID)
	if err != nil {
		return nil, err
	}
	return h.Wait(ctx)
}

// RunBulkUpload 同步执行批量上传
func (m *RunManager) RunBulkUpload(ctx context.Context, siteID int64, candidateIDs []int64, policy service.ConflictPolicy) (*model.RunReport, error) {
	h, err := m.StartBulkUpload(ctx, siteID, candidateIDs, policy)
	if err != nil {
		return nil, err
	}
	return h.Wait(ctx)
}

func (m *RunManager) start(ctx context.Context, siteID int64, kind model.RunKind, initial model.RunState, fn runFunc) (*RunHandle, error) {
	m.mu.Lock()
	closing := m.closing
	m.mu.Unlock()
	if closing {
		return nil, ErrShuttingDown
	}

	site, err := m.store.Sites.GetByID(ctx, siteID)
	if err != nil {
		return nil, err
	}
	if !site.IsActive {
		return nil, ErrSiteInactive
	}

	unlock, err := m.locker.TryLock(ctx, siteID)
	if err != nil {
		return nil, err
	}

	h := newRunHandle(siteID, kind, initial)
	run := &model.SyncRun{
		RunID:     h.id,
		SiteID:    siteID,
		Kind:      kind,
		State:     initial,
		StartedAt: h.startedAt,
		Items:     []model.ReportItem{},
	}
	if err := m.store.Runs.Create(ctx, run); err != nil {
		unlock()
		return nil, err
	}

	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		unlock()
		return nil, ErrShuttingDown
	}
	m.runs[h.id] = h
	m.wg.Add(1)
	m.mu.Unlock()

	// 运行生命周期与发起请求无关
	runCtx := logger.WithRunID(context.WithoutCancel(ctx), h.id)
	go func() {
		defer m.wg.Done()
		m.execute(runCtx, site, h, fn, unlock)
	}()

	m.log.Info("运行已启动",
		zap.String("run_id", h.id),
		zap.Int64("site_id", siteID),
		zap.String("kind", string(kind)),
	)
	return h, nil
}

func (m *RunManager) execute(ctx context.Context, site *model.Site, h *RunHandle, fn runFunc, unlock func()) {
	var rep *model.RunReport
	func() {
		defer func() {
			if r := recover(); r != nil {
				m.log.Error("运行异常退出", zap.String("run_id", h.id), zap.Any("panic", r))
				rep = service.NewReport(ctx, site.ID, h.kind)
				rep.State = model.RunStateError
				rep.FatalError = "internal error"
				now := model.Now()
				rep.FinishedAt = &now
			}
		}()
		rep = fn(ctx, site, h)
	}()
	rep.RunID = h.id
	rep.StartedAt = h.startedAt

	if err := m.store.Runs.Finish(ctx, rep); err != nil {
		m.log.Warn("保存运行历史失败", zap.String("run_id", h.id), zap.Error(err))
	}
	if err := m.store.Runs.Prune(ctx, site.ID, m.historyLimit); err != nil {
		m.log.Warn("清理运行历史失败", zap.Int64("site_id", site.ID), zap.Error(err))
	}
	if err := m.publisher.PublishRunFinished(ctx, event.FromReport(rep)); err != nil {
		m.log.Warn("发布运行事件失败", zap.String("run_id", h.id), zap.Error(err))
	}

	// 历史已落库，之后的查询走数据库
	m.mu.Lock()
	delete(m.runs, h.id)
	m.mu.Unlock()
	unlock()
	h.finish(rep)
}

// ==================== 查询 / 取消 ====================

// Get 只返回进行中的运行
func (m *RunManager) Get(runID string) (*RunHandle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.runs[runID]
	return h, ok
}

// Report 进行中返回快照，已结束从历史读取
func (m *RunManager) Report(ctx context.Context, runID string) (*model.RunReport, error) {
	if h, ok := m.Get(runID); ok {
		return h.Snapshot(), nil
	}
	run, err := m.store.Runs.GetByRunID(ctx, runID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	return run.ToReport(), nil
}

// History 站点最近的运行记录
func (m *RunManager) History(ctx context.Context, siteID int64, limit int) ([]model.SyncRun, error) {
	return m.store.Runs.ListBySite(ctx, siteID, limit)
}

// Cancel 取消进行中的运行
func (m *RunManager) Cancel(runID string) error {
	h, ok := m.Get(runID)
	if !ok {
		return ErrRunNotFound
	}
	h.Cancel()
	m.log.Info("已请求取消运行", zap.String("run_id", runID))
	return nil
}

// Active 进行中的运行
func (m *RunManager) Active() []*RunHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*RunHandle, 0, len(m.runs))
	for _, h := range m.runs {
		out = append(out, h)
	}
	return out
}

// Shutdown 拒绝新运行，取消进行中的运行并等待其结束
func (m *RunManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closing = true
	for _, h := range m.runs {
		h.Cancel()
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Join(ErrShuttingDown, ctx.Err())
	}
}
