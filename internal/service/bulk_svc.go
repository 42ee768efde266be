package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"woo_sync_v1_202610/internal/model"
	"woo_sync_v1_202610/internal/repository"
	"woo_sync_v1_202610/pkg/woo"
)

// ConflictPolicy SKU 已存在时的处理方式
type ConflictPolicy string

const (
	PolicySkipExisting      ConflictPolicy = "skip-existing-sku"
	PolicyOverwriteExisting ConflictPolicy = "overwrite-existing-sku"
)

// ParseConflictPolicy 空字符串视为 skip-existing-sku
func ParseConflictPolicy(s string) (ConflictPolicy, error) {
	switch ConflictPolicy(s) {
	case "", PolicySkipExisting:
		return PolicySkipExisting, nil
	case PolicyOverwriteExisting:
		return PolicyOverwriteExisting, nil
	}
	return "", fmt.Errorf("unknown conflict policy %q", s)
}

// ConflictError 站点上已有相同 SKU 的商品
type ConflictError struct {
	SKU       string
	ProductID int64 // 本地商品，仅远端存在时为 0
	RemoteID  int64
}

func (e *ConflictError) Error() string {
	if e.RemoteID > 0 {
		return fmt.Sprintf("duplicate: sku %s already exists (remote #%d)", e.SKU, e.RemoteID)
	}
	return fmt.Sprintf("duplicate: sku %s already exists (local #%d)", e.SKU, e.ProductID)
}

// ==================== 批量上传 ====================

// BulkService 把暂存候选按顺序发布到一个站点
type BulkService struct {
	store      *repository.Store
	client     *woo.Client
	reconciler *ReconcilerService
	uploader   ImageUploader
	log        *zap.Logger
}

func NewBulkService(store *repository.Store, client *woo.Client, reconciler *ReconcilerService, uploader ImageUploader, log *zap.Logger) *BulkService {
	if log == nil {
		log = zap.NewNop()
	}
	return &BulkService{
		store:      store,
		client:     client,
		reconciler: reconciler,
		uploader:   uploader,
		log:        log.Named("bulk"),
	}
}

// bulkInput 一行输入，candidate 为空表示候选不存在
type bulkInput struct {
	id        int64
	candidate *model.StagedCandidate
}

// bulkWrites 批次结束时在一个事务中提交
type bulkWrites struct {
	products []*model.Product
	consumed []int64
	failed   map[int64]string
}

// UploadByIDs 按 ID 顺序读取候选后上传，不存在的 ID 记为失败
func (s *BulkService) UploadByIDs(ctx context.Context, site *model.Site, ids []int64, policy ConflictPolicy, ctl RunControl) (*model.RunReport, error) {
	candidates, err := s.store.Candidates.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("读取候选失败: %w", err)
	}
	byID := make(map[int64]*model.StagedCandidate, len(candidates))
	for i := range candidates {
		byID[candidates[i].ID] = &candidates[i]
	}
	inputs := make([]bulkInput, 0, len(ids))
	for _, id := range ids {
		inputs = append(inputs, bulkInput{id: id, candidate: byID[id]})
	}
	return s.run(ctx, site, inputs, policy, ctl), nil
}

// Upload 每个输入恰好产出一行结果，顺序与输入一致
func (s *BulkService) Upload(ctx context.Context, site *model.Site, candidates []model.StagedCandidate, policy ConflictPolicy, ctl RunControl) *model.RunReport {
	inputs := make([]bulkInput, 0, len(candidates))
	for i := range candidates {
		inputs = append(inputs, bulkInput{id: candidates[i].ID, candidate: &candidates[i]})
	}
	return s.run(ctx, site, inputs, policy, ctl)
}

func (s *BulkService) run(ctx context.Context, site *model.Site, inputs []bulkInput, policy ConflictPolicy, ctl RunControl) *model.RunReport {
	rep := NewReport(ctx, site.ID, model.RunKindBulkUpload)
	if policy == "" {
		policy = PolicySkipExisting
	}
	ctl.SetState(model.RunStatePushing)

	writes := &bulkWrites{failed: make(map[int64]string)}
	tags := newTagResolver(s.client, site.Endpoint())
	var fatal error
	for i, in := range inputs {
		if stopped(ctx, ctl) {
			rest(rep, inputs[i:], model.OutcomeSkipped, ReasonCanceled)
			rep.Canceled = true
			break
		}
		item, err := s.uploadOne(ctx, site, in, policy, tags, writes)
		if errors.Is(err, ErrRunCanceled) {
			rest(rep, inputs[i:], model.OutcomeSkipped, ReasonCanceled)
			rep.Canceled = true
			break
		}
		if err != nil && item.Outcome == "" {
			item.Outcome, item.Reason = model.OutcomeFailed, err.Error()
		}
		rep.Add(item)
		if err != nil {
			fatal = err
			rest(rep, inputs[i+1:], model.OutcomeFailed, ReasonSiteUnreachable)
			break
		}
	}

	if err := s.commit(context.WithoutCancel(ctx), writes); err != nil && fatal == nil {
		fatal = fmt.Errorf("保存批量结果失败: %w", err)
	}

	rep.State = model.RunStateIdle
	if fatal != nil {
		rep.State = model.RunStateError
		rep.FatalError = fatal.Error()
	}
	ctl.SetState(rep.State)
	now := model.Now()
	rep.FinishedAt = &now

	s.log.Info("批量上传结束",
		zap.Int64("site_id", site.ID),
		zap.String("run_id", rep.RunID),
		zap.Int("items", len(rep.Items)),
		zap.Int("created", rep.Count(model.OutcomeCreated)),
		zap.Int("updated", rep.Count(model.OutcomeUpdated)),
		zap.Int("skipped", rep.Count(model.OutcomeSkipped)),
		zap.Int("failed", rep.Count(model.OutcomeFailed)),
		zap.String("fatal", rep.FatalError),
	)
	return rep
}

// uploadOne 返回的 error 只表示批次需要停止
func (s *BulkService) uploadOne(ctx context.Context, site *model.Site, in bulkInput, policy ConflictPolicy, tags *tagResolver, writes *bulkWrites) (model.ReportItem, error) {
	item := model.ReportItem{CandidateID: in.id}
	c := in.candidate
	if c == nil {
		item.Outcome, item.Reason = model.OutcomeFailed, "candidate not found"
		return item, nil
	}
	item.SKU, item.Name = c.SKU, c.Name
	if c.Name == "" {
		item.Outcome, item.Reason = model.OutcomeFailed, "name is required"
		writes.failed[c.ID] = item.Reason
		return item, nil
	}

	product := CandidateToProduct(site.ID, c)

	// 1. 分类
	if hint := c.CategoryHint(); !hint.Empty() {
		res, err := s.reconciler.Resolve(ctx, site.ID, hint)
		if err != nil {
			return item, err
		}
		if res.Resolved() {
			product.Categories = []model.CategoryRef{{ID: res.RemoteID, Name: res.Name}}
		} else {
			item.Warnings = append(item.Warnings, res.Warning)
		}
	}

	// 2. SKU 冲突
	targetID, err := s.existingRemoteID(ctx, site, product, policy, &item)
	if err != nil {
		return s.failed(c, item, err, writes)
	}
	if item.Outcome == model.OutcomeSkipped {
		return item, nil
	}

	// 3. 标签
	tagRefs, tagWarnings, err := tags.Resolve(ctx, product.Tags)
	if err != nil {
		return s.failed(c, item, err, writes)
	}
	product.Tags = tagRefs
	item.Warnings = append(item.Warnings, tagWarnings...)

	// 4. 图片
	if targetID > 0 {
		product.RemoteID = model.Int64Ptr(targetID)
	}
	payload := ToProductPayload(product)
	payload.Images = s.images(ctx, site, c, &item)

	// 5. 创建或覆盖
	var remote *woo.RemoteProduct
	if targetID > 0 {
		item.Outcome = model.OutcomeUpdated
		remote, err = s.client.UpdateProduct(ctx, site.Endpoint(), targetID, payload)
	} else {
		item.Outcome = model.OutcomeCreated
		remote, err = s.client.CreateProduct(ctx, site.Endpoint(), payload)
	}
	if err != nil {
		return s.failed(c, item, err, writes)
	}

	item.RemoteID = remote.ID
	writes.products = append(writes.products, ToProductModel(site.ID, remote))
	writes.consumed = append(writes.consumed, c.ID)
	return item, nil
}

// existingRemoteID 先查本地再查远端；skip 策略命中时把 item 标记为跳过
func (s *BulkService) existingRemoteID(ctx context.Context, site *model.Site, product *model.Product, policy ConflictPolicy, item *model.ReportItem) (int64, error) {
	if product.SKU == "" {
		return 0, nil
	}

	var conflict *ConflictError
	local, err := s.store.Products.FindBySKU(ctx, site.ID, product.SKU)
	if err != nil {
		return 0, fmt.Errorf("查询本地 SKU 失败: %w", err)
	}
	if local != nil && local.HasRemote() {
		conflict = &ConflictError{SKU: product.SKU, ProductID: local.ID, RemoteID: *local.RemoteID}
	} else {
		remote, err := s.client.FindProductBySKU(ctx, site.Endpoint(), product.SKU)
		if err != nil {
			return 0, err
		}
		switch {
		case remote != nil:
			conflict = &ConflictError{SKU: product.SKU, RemoteID: remote.ID}
			if local != nil {
				conflict.ProductID = local.ID
			}
		case local != nil:
			// 只有本地草稿：远端创建后合并到该行
			conflict = &ConflictError{SKU: product.SKU, ProductID: local.ID}
		}
	}
	if conflict == nil {
		return 0, nil
	}

	item.ProductID = conflict.ProductID
	if policy == PolicySkipExisting {
		item.Outcome = model.OutcomeSkipped
		item.Reason = conflict.Error()
		return 0, nil
	}
	return conflict.RemoteID, nil
}

// images 远端 URL 直接引用，本地文件先上传；上传失败只记警告
func (s *BulkService) images(ctx context.Context, site *model.Site, c *model.StagedCandidate, item *model.ReportItem) []woo.ImageRef {
	refs := make([]woo.ImageRef, 0, len(c.Images))
	for _, src := range c.Images {
		if isRemoteURL(src) {
			refs = append(refs, woo.ImageRef{Src: src})
			continue
		}
		img, err := UploadFile(ctx, s.uploader, site, src)
		if err != nil {
			item.Warnings = append(item.Warnings, fmt.Sprintf("image %s: %v", src, err))
			continue
		}
		refs = append(refs, img.Ref())
	}
	return refs
}

func (s *BulkService) failed(c *model.StagedCandidate, item model.ReportItem, err error, writes *bulkWrites) (model.ReportItem, error) {
	if errors.Is(err, context.Canceled) {
		return item, ErrRunCanceled
	}
	item.Outcome = model.OutcomeFailed
	item.Reason = err.Error()
	if woo.IsFatal(err) {
		return item, err
	}
	writes.failed[c.ID] = err.Error()
	s.log.Warn("候选上传失败", zap.Int64("candidate_id", c.ID), zap.String("kind", string(woo.KindOf(err))), zap.Error(err))
	return item, nil
}

func (s *BulkService) commit(ctx context.Context, writes *bulkWrites) error {
	if len(writes.products) == 0 && len(writes.consumed) == 0 && len(writes.failed) == 0 {
		return nil
	}
	now := model.Now()
	return s.store.Transaction(ctx, func(tx *repository.Store) error {
		for _, p := range writes.products {
			if _, err := tx.Products.UpsertProduct(ctx, p, repository.UpsertOptions{Authoritative: true, Force: true, Now: now}); err != nil {
				return err
			}
		}
		if err := tx.Candidates.DeleteByIDs(ctx, writes.consumed); err != nil {
			return err
		}
		for id, reason := range writes.failed {
			if err := tx.Candidates.MarkFailed(ctx, id, reason); err != nil {
				return err
			}
		}
		return nil
	})
}

func rest(rep *model.RunReport, inputs []bulkInput, outcome model.Outcome, reason string) {
	for _, in := range inputs {
		item := model.ReportItem{CandidateID: in.id, Outcome: outcome, Reason: reason}
		if in.candidate != nil {
			item.SKU, item.Name = in.candidate.SKU, in.candidate.Name
		}
		rep.Add(item)
	}
}
