package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"woo_sync_v1_202610/internal/model"
	"woo_sync_v1_202610/internal/repository"
	"woo_sync_v1_202610/pkg/logger"
	"woo_sync_v1_202610/pkg/woo"
)

// ==================== 运行控制 ====================

// RunControl 运行句柄提供给服务层的部分：上报状态、检查取消
type RunControl interface {
	SetState(state model.RunState)
	Canceled() bool
}

type nopControl struct{}

func (nopControl) SetState(model.RunState) {}
func (nopControl) Canceled() bool          { return false }

// NopControl 不可取消
var NopControl RunControl = nopControl{}

// ErrRunCanceled 运行被取消，已完成的部分保留
var ErrRunCanceled = errors.New("run canceled")

// 报告中的固定原因
const (
	ReasonCanceled        = "canceled"
	ReasonSiteUnreachable = "site unreachable"
	ReasonRemoteDeleted   = "remote product deleted, review before pushing"
	ReasonStale           = "remote product missing, requeue as new to recreate"
)

// NewReport 创建运行报告，run id 优先取 context 中的值
func NewReport(ctx context.Context, siteID int64, kind model.RunKind) *model.RunReport {
	runID := logger.RunID(ctx)
	if runID == "" {
		runID = uuid.NewString()
	}
	return &model.RunReport{
		RunID:     runID,
		SiteID:    siteID,
		Kind:      kind,
		State:     model.RunStateIdle,
		StartedAt: model.Now(),
		Items:     []model.ReportItem{},
	}
}

// ==================== 同步服务 ====================

// DeletePolicy 远端已删除商品的本地处理方式
type DeletePolicy string

const (
	DeleteSoft DeletePolicy = "soft" // 标记 remote_deleted，保留本地修改
	DeleteHard DeletePolicy = "hard" // 删除本地行
)

// SyncOptions 同步参数
type SyncOptions struct {
	DeletePolicy DeletePolicy
	PageSize     int
}

// SyncService 单站点的拉取 / 比对 / 推送
type SyncService struct {
	store      *repository.Store
	client     *woo.Client
	reconciler *ReconcilerService
	opts       SyncOptions
	log        *zap.Logger
}

func NewSyncService(store *repository.Store, client *woo.Client, reconciler *ReconcilerService, opts SyncOptions, log *zap.Logger) *SyncService {
	if opts.DeletePolicy == "" {
		opts.DeletePolicy = DeleteSoft
	}
	if opts.PageSize <= 0 {
		opts.PageSize = woo.DefaultPageSize
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &SyncService{
		store:      store,
		client:     client,
		reconciler: reconciler,
		opts:       opts,
		log:        log.Named("sync"),
	}
}

// FullSync 先完整拉取再推送
func (s *SyncService) FullSync(ctx context.Context, site *model.Site, ctl RunControl) *model.RunReport {
	rep := NewReport(ctx, site.ID, model.RunKindFullSync)
	err := s.pull(ctx, site, ctl, rep)
	if err == nil {
		err = s.push(ctx, site, ctl, rep)
	}
	s.finish(ctx, site, ctl, rep, err)
	return rep
}

// Pull 仅拉取
func (s *SyncService) Pull(ctx context.Context, site *model.Site, ctl RunControl) *model.RunReport {
	rep := NewReport(ctx, site.ID, model.RunKindPull)
	s.finish(ctx, site, ctl, rep, s.pull(ctx, site, ctl, rep))
	return rep
}

// Push 仅推送本地未同步的修改
func (s *SyncService) Push(ctx context.Context, site *model.Site, ctl RunControl) *model.RunReport {
	rep := NewReport(ctx, site.ID, model.RunKindIncrementalPush)
	s.finish(ctx, site, ctl, rep, s.push(ctx, site, ctl, rep))
	return rep
}

func (s *SyncService) finish(ctx context.Context, site *model.Site, ctl RunControl, rep *model.RunReport, err error) {
	switch {
	case err == nil:
		rep.State = model.RunStateIdle
	case errors.Is(err, ErrRunCanceled):
		rep.State = model.RunStateIdle
		rep.Canceled = true
	default:
		rep.State = model.RunStateError
		rep.FatalError = err.Error()
	}
	ctl.SetState(rep.State)

	now := model.Now()
	rep.FinishedAt = &now
	// 取消后仍需记录站点状态
	if uerr := s.store.Sites.UpdateSyncState(context.WithoutCancel(ctx), site.ID, rep.State, now); uerr != nil {
		s.log.Warn("更新站点同步状态失败", zap.Int64("site_id", site.ID), zap.Error(uerr))
	}

	fields := []zap.Field{
		zap.Int64("site_id", site.ID),
		zap.String("run_id", rep.RunID),
		zap.String("kind", string(rep.Kind)),
		zap.Int("pulled", rep.Pulled),
		zap.Int("created", rep.Count(model.OutcomeCreated)),
		zap.Int("updated", rep.Count(model.OutcomeUpdated)),
		zap.Int("skipped", rep.Count(model.OutcomeSkipped)),
		zap.Int("failed", rep.Count(model.OutcomeFailed)),
		zap.Bool("canceled", rep.Canceled),
	}
	if rep.Failed() {
		s.log.Error("同步失败", append(fields, zap.String("error", rep.FatalError))...)
		return
	}
	s.log.Info("同步完成", fields...)
}

func stopped(ctx context.Context, ctl RunControl) bool {
	return ctl.Canceled() || ctx.Err() != nil
}

// ==================== 拉取 ====================

// pull 读完全部分页后在一个事务中写入，任一页失败则不写入
func (s *SyncService) pull(ctx context.Context, site *model.Site, ctl RunControl, rep *model.RunReport) error {
	ctl.SetState(model.RunStatePulling)
	ep := site.Endpoint()
	checkpoint := func(int) bool { return !stopped(ctx, ctl) }

	categories, err := s.client.CategoryPager(ep, s.opts.PageSize).Collect(ctx, checkpoint)
	if err != nil {
		return pullError("拉取分类失败", err)
	}
	products, err := s.client.ProductPager(ep, s.opts.PageSize).Collect(ctx, checkpoint)
	if err != nil {
		return pullError("拉取商品失败", err)
	}
	if stopped(ctx, ctl) {
		return ErrRunCanceled
	}

	now := model.Now()
	var warnings []string
	var removed int64
	err = s.store.Transaction(ctx, func(tx *repository.Store) error {
		seenCats := make([]int64, 0, len(categories))
		for i := range categories {
			if err := tx.Categories.UpsertCategory(ctx, ToCategoryModel(site.ID, &categories[i])); err != nil {
				return fmt.Errorf("写入分类 %d 失败: %w", categories[i].ID, err)
			}
			seenCats = append(seenCats, categories[i].ID)
		}
		if _, err := tx.Categories.DeleteMissing(ctx, site.ID, seenCats); err != nil {
			return fmt.Errorf("清理分类失败: %w", err)
		}

		seen := make([]int64, 0, len(products))
		for i := range products {
			res, err := tx.Products.UpsertProduct(ctx, ToProductModel(site.ID, &products[i]), repository.UpsertOptions{
				Authoritative: true,
				Now:           now,
			})
			if err != nil {
				return fmt.Errorf("写入商品 %d 失败: %w", products[i].ID, err)
			}
			if res.Warning != "" {
				warnings = append(warnings, res.Warning)
			}
			seen = append(seen, products[i].ID)
		}

		orphans, err := tx.Products.FindOrphanedRemoteIDs(ctx, site.ID, seen)
		if err != nil {
			return err
		}
		if len(orphans) == 0 {
			return nil
		}
		if s.opts.DeletePolicy == DeleteHard {
			removed, err = tx.Products.HardDeleteByRemoteIDs(ctx, site.ID, orphans)
		} else {
			removed, err = tx.Products.MarkRemoteDeleted(ctx, site.ID, orphans, now)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("保存拉取结果失败: %w", err)
	}

	rep.Pulled += len(products)
	rep.Categories += len(categories)
	rep.RemoteDeleted += int(removed)
	for _, w := range warnings {
		rep.Warn(w)
	}
	s.log.Debug("拉取完成",
		zap.Int64("site_id", site.ID),
		zap.Int("products", len(products)),
		zap.Int("categories", len(categories)),
		zap.Int64("remote_deleted", removed),
	)
	return nil
}

func pullError(msg string, err error) error {
	if errors.Is(err, woo.ErrPagingStopped) || errors.Is(err, context.Canceled) {
		return ErrRunCanceled
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// ==================== 比对 ====================

// DiffAction 推送计划中的动作
type DiffAction string

const (
	DiffCreate DiffAction = "create"
	DiffUpdate DiffAction = "update"
	DiffSkip   DiffAction = "skip"
)

// DiffEntry 一个未同步商品的推送计划
type DiffEntry struct {
	Product model.Product `json:"product"`
	Action  DiffAction    `json:"action"`
	Reason  string        `json:"reason,omitempty"`
}

// Diff 按本地 ID 升序列出待推送商品
func (s *SyncService) Diff(ctx context.Context, siteID int64) ([]DiffEntry, error) {
	products, err := s.store.Products.FindUnsyncedProducts(ctx, siteID)
	if err != nil {
		return nil, fmt.Errorf("查询未同步商品失败: %w", err)
	}
	entries := make([]DiffEntry, 0, len(products))
	for _, p := range products {
		entry := DiffEntry{Product: p}
		switch {
		case p.RemoteDeleted:
			entry.Action, entry.Reason = DiffSkip, ReasonRemoteDeleted
		case p.SyncState == model.SyncStateStale:
			entry.Action, entry.Reason = DiffSkip, ReasonStale
		case p.HasRemote():
			entry.Action = DiffUpdate
		default:
			entry.Action = DiffCreate
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// ==================== 推送 ====================

func (s *SyncService) push(ctx context.Context, site *model.Site, ctl RunControl, rep *model.RunReport) error {
	ctl.SetState(model.RunStateDiffing)
	entries, err := s.Diff(ctx, site.ID)
	if err != nil {
		return err
	}

	ctl.SetState(model.RunStatePushing)
	tags := newTagResolver(s.client, site.Endpoint())
	for i := range entries {
		entry := &entries[i]
		if stopped(ctx, ctl) {
			skipRest(rep, entries[i:], model.OutcomeSkipped, ReasonCanceled)
			return ErrRunCanceled
		}
		if entry.Action == DiffSkip {
			rep.Add(model.ReportItem{
				ProductID: entry.Product.ID,
				RemoteID:  remoteIDOf(&entry.Product),
				SKU:       entry.Product.SKU,
				Name:      entry.Product.Name,
				Outcome:   model.OutcomeSkipped,
				Reason:    entry.Reason,
			})
			continue
		}

		item, err := s.pushOne(ctx, site, tags, &entry.Product)
		switch {
		case errors.Is(err, ErrRunCanceled):
			skipRest(rep, entries[i:], model.OutcomeSkipped, ReasonCanceled)
			return err
		case err != nil:
			rep.Add(item)
			skipRest(rep, entries[i+1:], model.OutcomeFailed, ReasonSiteUnreachable)
			return err
		}
		rep.Add(item)
	}
	return nil
}

// pushOne 单条推送，返回的 error 只表示整次运行需要停止
func (s *SyncService) pushOne(ctx context.Context, site *model.Site, tags *tagResolver, p *model.Product) (model.ReportItem, error) {
	item := model.ReportItem{ProductID: p.ID, RemoteID: remoteIDOf(p), SKU: p.SKU, Name: p.Name}
	snapshot := p.UpdatedAt

	refs, warnings, err := s.reconciler.ResolveRefs(ctx, site.ID, p.Categories)
	if err != nil {
		return item, err
	}
	item.Warnings = warnings

	tagRefs, tagWarnings, err := tags.Resolve(ctx, p.Tags)
	if err != nil {
		return s.itemFailed(ctx, p, item, err)
	}
	item.Warnings = append(item.Warnings, tagWarnings...)

	draft := *p
	draft.Categories = refs
	draft.Tags = tagRefs
	payload := ToProductPayload(&draft)

	var remote *woo.RemoteProduct
	if p.HasRemote() {
		item.Outcome = model.OutcomeUpdated
		remote, err = s.client.UpdateProduct(ctx, site.Endpoint(), *p.RemoteID, payload)
	} else {
		item.Outcome = model.OutcomeCreated
		remote, err = s.client.CreateProduct(ctx, site.Endpoint(), payload)
	}
	if err != nil {
		return s.itemFailed(ctx, p, item, err)
	}

	item.RemoteID = remote.ID
	// 远端分配的标签与媒体 ID 写回，之后的推送按 ID 引用
	pushed := ToProductModel(site.ID, remote)
	fresh, err := s.store.Products.MarkPushed(ctx, p.ID, repository.PushedState{
		RemoteID:       remote.ID,
		Snapshot:       snapshot,
		RemoteModified: remote.ModifiedAt,
		Tags:           pushed.Tags,
		Images:         pushed.Images,
	})
	if err != nil {
		return item, fmt.Errorf("记录推送结果失败: %w", err)
	}
	if !fresh {
		item.Warnings = append(item.Warnings, "edited while pushing, queued for the next push")
	}
	return item, nil
}

func (s *SyncService) itemFailed(ctx context.Context, p *model.Product, item model.ReportItem, err error) (model.ReportItem, error) {
	if errors.Is(err, context.Canceled) {
		return item, ErrRunCanceled
	}
	item.Outcome = model.OutcomeFailed
	item.Reason = err.Error()

	if woo.IsFatal(err) {
		return item, err
	}

	var markErr error
	if errors.Is(err, woo.ErrNotFound) {
		item.Reason = ReasonStale + ": " + err.Error()
		markErr = s.store.Products.MarkStale(ctx, p.ID, err.Error())
	} else {
		markErr = s.store.Products.MarkFailed(ctx, p.ID, err.Error())
	}
	s.log.Warn("商品推送失败",
		zap.Int64("site_id", p.SiteID),
		zap.Int64("product_id", p.ID),
		zap.String("kind", string(woo.KindOf(err))),
		zap.Error(err),
	)
	if markErr != nil {
		return item, fmt.Errorf("记录失败状态失败: %w", markErr)
	}
	return item, nil
}

func skipRest(rep *model.RunReport, rest []DiffEntry, outcome model.Outcome, reason string) {
	for i := range rest {
		rep.Add(model.ReportItem{
			ProductID: rest[i].Product.ID,
			RemoteID:  remoteIDOf(&rest[i].Product),
			SKU:       rest[i].Product.SKU,
			Name:      rest[i].Product.Name,
			Outcome:   outcome,
			Reason:    reason,
		})
	}
}

func remoteIDOf(p *model.Product) int64 {
	if p.RemoteID == nil {
		return 0
	}
	return *p.RemoteID
}
