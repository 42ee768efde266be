package repository

import (
	"context"

	"gorm.io/gorm"

	"woo_sync_v1_202610/internal/model"
)

// SyncRunRepository 运行历史仓储接口
type SyncRunRepository interface {
	Create(ctx context.Context, run *model.SyncRun) error
	Finish(ctx context.Context, report *model.RunReport) error
	GetByRunID(ctx context.Context, runID string) (*model.SyncRun, error)
	ListBySite(ctx context.Context, siteID int64, limit int) ([]model.SyncRun, error)
	// Prune 每个站点只保留最近 keep 条
	Prune(ctx context.Context, siteID int64, keep int) error
	WithTx(tx *gorm.DB) SyncRunRepository
}

type syncRunRepo struct {
	db *gorm.DB
}

// NewSyncRunRepository 创建运行历史仓储
func NewSyncRunRepository(db *gorm.DB) SyncRunRepository {
	return &syncRunRepo{db: db}
}

func (r *syncRunRepo) Create(ctx context.Context, run *model.SyncRun) error {
	return r.db.WithContext(ctx).Create(run).Error
}

func (r *syncRunRepo) Finish(ctx context.Context, report *model.RunReport) error {
	run, err := r.GetByRunID(ctx, report.RunID)
	if err != nil {
		return err
	}
	run.ApplyReport(report)
	return r.db.WithContext(ctx).Save(run).Error
}

func (r *syncRunRepo) GetByRunID(ctx context.Context, runID string) (*model.SyncRun, error) {
	var run model.SyncRun
	if err := r.db.WithContext(ctx).Where("run_id = ?", runID).First(&run).Error; err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *syncRunRepo) ListBySite(ctx context.Context, siteID int64, limit int) ([]model.SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}
	var runs []model.SyncRun
	err := r.db.WithContext(ctx).
		Omit("items").
		Where("site_id = ?", siteID).
		Order("id DESC").
		Limit(limit).
		Find(&runs).Error
	return runs, err
}

func (r *syncRunRepo) Prune(ctx context.Context, siteID int64, keep int) error {
	if keep <= 0 {
		return nil
	}
	var ids []int64
	if err := r.db.WithContext(ctx).
		Model(&model.SyncRun{}).
		Where("site_id = ?", siteID).
		Order("id DESC").
		Pluck("id", &ids).Error; err != nil {
		return err
	}
	if len(ids) <= keep {
		return nil
	}
	return r.db.WithContext(ctx).Where("id IN ?", ids[keep:]).Delete(&model.SyncRun{}).Error
}

func (r *syncRunRepo) WithTx(tx *gorm.DB) SyncRunRepository {
	return &syncRunRepo{db: tx}
}
