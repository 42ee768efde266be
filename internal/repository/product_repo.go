package repository

import (
	"context"
	"fmt"
	"sort"
	"time"
	"unicode/utf8"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"woo_sync_v1_202610/internal/model"
)

// ==================== 接口定义 ====================

// ProductRepository 商品仓储接口
type ProductRepository interface {
	// 基础 CRUD
	Create(ctx context.Context, product *model.Product) error
	GetByID(ctx context.Context, id int64) (*model.Product, error)
	Update(ctx context.Context, product *model.Product) error
	FindBySKU(ctx context.Context, siteID int64, sku string) (*model.Product, error)
	FindByRemoteID(ctx context.Context, siteID, remoteID int64) (*model.Product, error)

	// 同步
	UpsertProduct(ctx context.Context, record *model.Product, opts UpsertOptions) (*UpsertResult, error)
	FindUnsyncedProducts(ctx context.Context, siteID int64) ([]model.Product, error)
	FindOrphanedRemoteIDs(ctx context.Context, siteID int64, seen []int64) ([]int64, error)
	MarkRemoteDeleted(ctx context.Context, siteID int64, remoteIDs []int64, at time.Time) (int64, error)
	HardDeleteByRemoteIDs(ctx context.Context, siteID int64, remoteIDs []int64) (int64, error)
	MarkPushed(ctx context.Context, id int64, pushed PushedState) (bool, error)
	MarkFailed(ctx context.Context, id int64, reason string) error
	MarkStale(ctx context.Context, id int64, reason string) error
	RequeueAsNew(ctx context.Context, id int64) error

	// 列表查询
	List(ctx context.Context, filter ProductFilter) ([]model.Product, int64, error)
	ListBySite(ctx context.Context, siteID int64) ([]model.Product, error)
	CountBySite(ctx context.Context, siteID int64) (int64, error)

	// 事务
	WithTx(tx *gorm.DB) ProductRepository
}

// ==================== 过滤条件 ====================

// ProductFilter 商品过滤条件
type ProductFilter struct {
	SiteID        int64
	SyncState     model.ProductSyncState
	Keyword       string
	OnlyUnsynced  bool
	RemoteDeleted *bool
	Page          int
	PageSize      int
}

// UpsertOptions 写入方式
type UpsertOptions struct {
	// Authoritative 远端数据（仅拉取使用）：覆盖字段并标记已同步
	Authoritative bool
	// Force 与 Authoritative 同用，忽略本地未同步的修改（批量上传覆盖）
	Force bool
	// Now 写入时间，为零时取 model.Now()
	Now time.Time
}

// PushedState 推送成功后远端返回的状态
type PushedState struct {
	RemoteID       int64
	Snapshot       time.Time // 推送前读取的 updated_at
	RemoteModified *time.Time
	// 远端分配了 ID 的标签与图片，为 nil 时不写
	Tags   []model.TagRef
	Images []model.ImageRef
}

// UpsertAction 写入结果
type UpsertAction string

const (
	UpsertInserted  UpsertAction = "inserted"
	UpsertUpdated   UpsertAction = "updated"
	UpsertKeptLocal UpsertAction = "kept_local" // 本地修改更新，只补充远端身份
)

// UpsertResult 写入结果与警告
type UpsertResult struct {
	Product *model.Product
	Action  UpsertAction
	Warning string
}

// ==================== 仓储实现 ====================

type productRepo struct {
	db *gorm.DB
}

// NewProductRepository 创建商品仓储
func NewProductRepository(db *gorm.DB) ProductRepository {
	return &productRepo{db: db}
}

func (r *productRepo) Create(ctx context.Context, product *model.Product) error {
	if err := r.checkSKU(ctx, product.SiteID, product.SKU, 0); err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(product).Error
}

func (r *productRepo) GetByID(ctx context.Context, id int64) (*model.Product, error) {
	var product model.Product
	if err := r.db.WithContext(ctx).First(&product, id).Error; err != nil {
		return nil, err
	}
	return &product, nil
}

// Update 本地编辑：刷新 updated_at，行变为待同步
func (r *productRepo) Update(ctx context.Context, product *model.Product) error {
	if err := r.checkSKU(ctx, product.SiteID, product.SKU, product.ID); err != nil {
		return err
	}
	if product.SyncState != model.SyncStateStale {
		product.SyncState = model.SyncStatePending
	}
	return r.db.WithContext(ctx).Save(product).Error
}

func (r *productRepo) FindBySKU(ctx context.Context, siteID int64, sku string) (*model.Product, error) {
	if sku == "" {
		return nil, nil
	}
	return r.findOne(ctx, "site_id = ? AND sku = ?", siteID, sku)
}

func (r *productRepo) FindByRemoteID(ctx context.Context, siteID, remoteID int64) (*model.Product, error) {
	return r.findOne(ctx, "site_id = ? AND remote_id = ?", siteID, remoteID)
}

// findOne 不存在返回 nil, nil
func (r *productRepo) findOne(ctx context.Context, query string, args ...interface{}) (*model.Product, error) {
	var products []model.Product
	if err := r.db.WithContext(ctx).Where(query, args...).Limit(1).Find(&products).Error; err != nil {
		return nil, err
	}
	if len(products) == 0 {
		return nil, nil
	}
	return &products[0], nil
}

func (r *productRepo) checkSKU(ctx context.Context, siteID int64, sku string, selfID int64) error {
	if sku == "" {
		return nil
	}
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&model.Product{}).
		Where("site_id = ? AND sku = ? AND id <> ?", siteID, sku, selfID).
		Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateSKU, sku)
	}
	return nil
}

// ==================== Upsert ====================

// UpsertProduct 先按 (站点, 远端 ID) 匹配，再按 (站点, SKU)，否则插入
func (r *productRepo) UpsertProduct(ctx context.Context, record *model.Product, opts UpsertOptions) (*UpsertResult, error) {
	now := opts.Now
	if now.IsZero() {
		now = model.Now()
	}

	existing, err := r.match(ctx, record)
	if err != nil {
		return nil, err
	}

	if existing == nil {
		return r.insert(ctx, record, opts.Authoritative, now)
	}
	if !opts.Authoritative {
		return r.applyLocal(ctx, existing, record)
	}
	return r.applyRemote(ctx, existing, record, now, opts.Force)
}

func (r *productRepo) match(ctx context.Context, record *model.Product) (*model.Product, error) {
	if record.HasRemote() {
		p, err := r.FindByRemoteID(ctx, record.SiteID, *record.RemoteID)
		if err != nil || p != nil {
			return p, err
		}
	}
	return r.FindBySKU(ctx, record.SiteID, record.SKU)
}

func (r *productRepo) insert(ctx context.Context, record *model.Product, authoritative bool, now time.Time) (*UpsertResult, error) {
	p := *record
	p.ID = 0
	p.CreatedAt = now
	p.UpdatedAt = now
	if authoritative {
		p.LastSyncedAt = model.TimePtr(now)
		p.SyncState = model.SyncStateSynced
	} else {
		p.LastSyncedAt = nil
		p.SyncState = model.SyncStatePending
	}
	// 远端状态原样保留，本地数据只接受已知状态
	if p.Status == "" || (!authoritative && !p.Status.Valid()) {
		p.Status = model.ProductStatusDraft
	}
	if err := r.db.WithContext(ctx).Create(&p).Error; err != nil {
		return nil, err
	}
	return &UpsertResult{Product: &p, Action: UpsertInserted}, nil
}

// applyLocal 本地数据覆盖，行变为待同步
func (r *productRepo) applyLocal(ctx context.Context, existing, record *model.Product) (*UpsertResult, error) {
	p := *existing
	copyCatalogFields(&p, record, false)
	if record.HasRemote() {
		p.RemoteID = record.RemoteID
	}
	if err := r.Update(ctx, &p); err != nil {
		return nil, err
	}
	return &UpsertResult{Product: &p, Action: UpsertUpdated}, nil
}

// applyRemote 远端数据覆盖
// 本地有未同步修改且修改时间晚于远端 date_modified 时保留本地字段
func (r *productRepo) applyRemote(ctx context.Context, existing, record *model.Product, now time.Time, force bool) (*UpsertResult, error) {
	result := &UpsertResult{}
	if existing.HasRemote() && record.HasRemote() && *existing.RemoteID != *record.RemoteID {
		result.Warning = fmt.Sprintf("sku %s moved from remote #%d to #%d", record.SKU, *existing.RemoteID, *record.RemoteID)
	}

	if !force && existing.IsDirty() && record.RemoteModifiedAt != nil && existing.UpdatedAt.After(*record.RemoteModifiedAt) {
		fields := map[string]interface{}{
			"remote_id":          record.RemoteID,
			"remote_modified_at": record.RemoteModifiedAt,
			"remote_deleted":     false,
			"remote_deleted_at":  nil,
		}
		if err := r.db.WithContext(ctx).Model(&model.Product{}).Where("id = ?", existing.ID).UpdateColumns(fields).Error; err != nil {
			return nil, err
		}
		p := *existing
		p.RemoteID = record.RemoteID
		p.RemoteModifiedAt = record.RemoteModifiedAt
		p.RemoteDeleted = false
		p.RemoteDeletedAt = nil
		result.Product = &p
		result.Action = UpsertKeptLocal
		return result, nil
	}

	p := *existing
	copyCatalogFields(&p, record, true)
	p.RemoteID = record.RemoteID
	p.RemoteModifiedAt = record.RemoteModifiedAt
	p.RemoteDeleted = false
	p.RemoteDeletedAt = nil
	p.SyncState = model.SyncStateSynced
	p.SyncError = ""
	p.UpdatedAt = now
	p.LastSyncedAt = model.TimePtr(now)

	// SKU 被另一行占用时保留原 SKU
	if p.SKU != existing.SKU && p.SKU != "" {
		holder, err := r.FindBySKU(ctx, p.SiteID, p.SKU)
		if err != nil {
			return nil, err
		}
		if holder != nil && holder.ID != existing.ID {
			result.Warning = fmt.Sprintf("sku %s already used by local product #%d, kept %q", p.SKU, holder.ID, existing.SKU)
			p.SKU = existing.SKU
		}
	}

	fields := map[string]interface{}{
		"remote_id":          p.RemoteID,
		"name":               p.Name,
		"sku":                p.SKU,
		"regular_price":      p.RegularPrice,
		"sale_price":         p.SalePrice,
		"stock_quantity":     p.StockQuantity,
		"stock_status":       p.StockStatus,
		"status":             p.Status,
		"description":        p.Description,
		"short_description":  p.ShortDescription,
		"categories":         p.Categories,
		"tags":               p.Tags,
		"images":             p.Images,
		"remote_modified_at": p.RemoteModifiedAt,
		"remote_deleted":     false,
		"remote_deleted_at":  nil,
		"sync_state":         p.SyncState,
		"sync_error":         "",
		"updated_at":         now,
		"last_synced_at":     now,
	}
	if err := r.db.WithContext(ctx).Model(&model.Product{}).Where("id = ?", existing.ID).UpdateColumns(fields).Error; err != nil {
		return nil, err
	}
	result.Product = &p
	result.Action = UpsertUpdated
	return result, nil
}

// copyCatalogFields remote 为 true 时状态按远端原样写入
func copyCatalogFields(dst, src *model.Product, remote bool) {
	dst.Name = src.Name
	dst.SKU = src.SKU
	dst.RegularPrice = src.RegularPrice
	dst.SalePrice = src.SalePrice
	dst.StockQuantity = src.StockQuantity
	dst.StockStatus = src.StockStatus
	if src.Status.Valid() || (remote && src.Status != "") {
		dst.Status = src.Status
	}
	dst.Description = src.Description
	dst.ShortDescription = src.ShortDescription
	dst.Categories = src.Categories
	dst.Tags = src.Tags
	dst.Images = src.Images
}

// ==================== 同步状态 ====================

// FindUnsyncedProducts last_synced_at 为空或早于 updated_at，按 id 升序
func (r *productRepo) FindUnsyncedProducts(ctx context.Context, siteID int64) ([]model.Product, error) {
	var products []model.Product
	err := r.db.WithContext(ctx).
		Where("site_id = ? AND (last_synced_at IS NULL OR last_synced_at < updated_at)", siteID).
		Order("id ASC").
		Find(&products).Error
	return products, err
}

// FindOrphanedRemoteIDs 本地有远端 ID 但本次拉取没有出现的商品
func (r *productRepo) FindOrphanedRemoteIDs(ctx context.Context, siteID int64, seen []int64) ([]int64, error) {
	var ids []int64
	if err := r.db.WithContext(ctx).
		Model(&model.Product{}).
		Where("site_id = ? AND remote_id IS NOT NULL AND remote_deleted = ?", siteID, false).
		Pluck("remote_id", &ids).Error; err != nil {
		return nil, err
	}

	seenSet := make(map[int64]struct{}, len(seen))
	for _, id := range seen {
		seenSet[id] = struct{}{}
	}
	orphans := make([]int64, 0)
	for _, id := range ids {
		if _, ok := seenSet[id]; !ok {
			orphans = append(orphans, id)
		}
	}
	sort.Slice(orphans, func(i, j int) bool { return orphans[i] < orphans[j] })
	return orphans, nil
}

func (r *productRepo) MarkRemoteDeleted(ctx context.Context, siteID int64, remoteIDs []int64, at time.Time) (int64, error) {
	if len(remoteIDs) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).
		Model(&model.Product{}).
		Where("site_id = ? AND remote_id IN ?", siteID, remoteIDs).
		UpdateColumns(map[string]interface{}{
			"remote_deleted":    true,
			"remote_deleted_at": at,
		})
	return res.RowsAffected, res.Error
}

func (r *productRepo) HardDeleteByRemoteIDs(ctx context.Context, siteID int64, remoteIDs []int64) (int64, error) {
	if len(remoteIDs) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).
		Where("site_id = ? AND remote_id IN ?", siteID, remoteIDs).
		Delete(&model.Product{})
	return res.RowsAffected, res.Error
}

// MarkPushed 记录远端 ID；只有推送期间行未被修改时才写入同步时间与远端标签、图片
// 返回 false 表示推送过程中发生了本地修改，行仍待同步
func (r *productRepo) MarkPushed(ctx context.Context, id int64, pushed PushedState) (bool, error) {
	now := model.Now()
	db := r.db.WithContext(ctx)

	if err := db.Model(&model.Product{}).Where("id = ?", id).UpdateColumns(map[string]interface{}{
		"remote_id":          pushed.RemoteID,
		"remote_modified_at": pushed.RemoteModified,
		"sync_error":         "",
	}).Error; err != nil {
		return false, err
	}

	fields := map[string]interface{}{
		"last_synced_at": now,
		"sync_state":     model.SyncStateSynced,
	}
	if pushed.Tags != nil {
		fields["tags"] = datatypes.JSONSlice[model.TagRef](pushed.Tags)
	}
	if pushed.Images != nil {
		fields["images"] = datatypes.JSONSlice[model.ImageRef](pushed.Images)
	}
	res := db.Model(&model.Product{}).
		Where("id = ? AND updated_at <= ?", id, pushed.Snapshot).
		UpdateColumns(fields)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		return true, nil
	}
	return false, db.Model(&model.Product{}).Where("id = ?", id).
		UpdateColumn("sync_state", model.SyncStatePending).Error
}

// MarkFailed 不修改 updated_at，行保持待同步
func (r *productRepo) MarkFailed(ctx context.Context, id int64, reason string) error {
	return r.db.WithContext(ctx).Model(&model.Product{}).Where("id = ?", id).
		UpdateColumns(map[string]interface{}{
			"sync_state": model.SyncStateFailed,
			"sync_error": truncate(reason, 1024),
		}).Error
}

// MarkStale 远端已不存在，不会被自动重建
func (r *productRepo) MarkStale(ctx context.Context, id int64, reason string) error {
	return r.db.WithContext(ctx).Model(&model.Product{}).Where("id = ?", id).
		UpdateColumns(map[string]interface{}{
			"sync_state": model.SyncStateStale,
			"sync_error": truncate(reason, 1024),
		}).Error
}

// RequeueAsNew 清除远端身份，下次推送时按新商品创建
func (r *productRepo) RequeueAsNew(ctx context.Context, id int64) error {
	res := r.db.WithContext(ctx).Model(&model.Product{}).Where("id = ?", id).
		UpdateColumns(map[string]interface{}{
			"remote_id":          nil,
			"remote_modified_at": nil,
			"remote_deleted":     false,
			"remote_deleted_at":  nil,
			"last_synced_at":     nil,
			"sync_state":         model.SyncStatePending,
			"sync_error":         "",
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ==================== 列表 ====================

func (r *productRepo) List(ctx context.Context, filter ProductFilter) ([]model.Product, int64, error) {
	var products []model.Product
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Product{})
	if filter.SiteID > 0 {
		query = query.Where("site_id = ?", filter.SiteID)
	}
	if filter.SyncState != "" {
		query = query.Where("sync_state = ?", filter.SyncState)
	}
	if filter.Keyword != "" {
		like := "%" + filter.Keyword + "%"
		query = query.Where("name LIKE ? OR sku LIKE ?", like, like)
	}
	if filter.OnlyUnsynced {
		query = query.Where("last_synced_at IS NULL OR last_synced_at < updated_at")
	}
	if filter.RemoteDeleted != nil {
		query = query.Where("remote_deleted = ?", *filter.RemoteDeleted)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 20
	}
	err := query.
		Order("id ASC").
		Limit(filter.PageSize).
		Offset((filter.Page - 1) * filter.PageSize).
		Find(&products).Error
	return products, total, err
}

func (r *productRepo) ListBySite(ctx context.Context, siteID int64) ([]model.Product, error) {
	var products []model.Product
	err := r.db.WithContext(ctx).Where("site_id = ?", siteID).Order("id ASC").Find(&products).Error
	return products, err
}

func (r *productRepo) CountBySite(ctx context.Context, siteID int64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Product{}).Where("site_id = ?", siteID).Count(&count).Error
	return count, err
}

func (r *productRepo) WithTx(tx *gorm.DB) ProductRepository {
	return &productRepo{db: tx}
}

// truncate 截断到 n 字节以内，不切开多字节字符
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
