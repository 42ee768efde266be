package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"woo_sync_v1_202610/internal/model"
)

// CategoryRepository 分类仓储接口，分类只由拉取写入
type CategoryRepository interface {
	UpsertCategory(ctx context.Context, category *model.Category) error
	GetByID(ctx context.Context, id int64) (*model.Category, error)
	GetByRemoteID(ctx context.Context, siteID, remoteID int64) (*model.Category, error)
	// ListBySite 按远端 ID 升序
	ListBySite(ctx context.Context, siteID int64) ([]model.Category, error)
	CountBySite(ctx context.Context, siteID int64) (int64, error)
	// DeleteMissing 删除本次拉取未出现的分类
	DeleteMissing(ctx context.Context, siteID int64, seen []int64) (int64, error)
	WithTx(tx *gorm.DB) CategoryRepository
}

type categoryRepo struct {
	db *gorm.DB
}

// NewCategoryRepository 创建分类仓储
func NewCategoryRepository(db *gorm.DB) CategoryRepository {
	return &categoryRepo{db: db}
}

// UpsertCategory 按 (站点, 远端 ID) 覆盖
func (r *categoryRepo) UpsertCategory(ctx context.Context, category *model.Category) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "site_id"}, {Name: "remote_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "slug", "parent_remote_id", "description", "count", "updated_at",
		}),
	}).Create(category).Error
}

func (r *categoryRepo) GetByID(ctx context.Context, id int64) (*model.Category, error) {
	var category model.Category
	if err := r.db.WithContext(ctx).First(&category, id).Error; err != nil {
		return nil, err
	}
	return &category, nil
}

func (r *categoryRepo) GetByRemoteID(ctx context.Context, siteID, remoteID int64) (*model.Category, error) {
	var category model.Category
	if err := r.db.WithContext(ctx).
		Where("site_id = ? AND remote_id = ?", siteID, remoteID).
		First(&category).Error; err != nil {
		return nil, err
	}
	return &category, nil
}

func (r *categoryRepo) ListBySite(ctx context.Context, siteID int64) ([]model.Category, error) {
	var categories []model.Category
	err := r.db.WithContext(ctx).
		Where("site_id = ?", siteID).
		Order("remote_id ASC").
		Find(&categories).Error
	return categories, err
}

func (r *categoryRepo) CountBySite(ctx context.Context, siteID int64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Category{}).Where("site_id = ?", siteID).Count(&count).Error
	return count, err
}

func (r *categoryRepo) DeleteMissing(ctx context.Context, siteID int64, seen []int64) (int64, error) {
	query := r.db.WithContext(ctx).Where("site_id = ?", siteID)
	if len(seen) > 0 {
		query = query.Where("remote_id NOT IN ?", seen)
	}
	res := query.Delete(&model.Category{})
	return res.RowsAffected, res.Error
}

func (r *categoryRepo) WithTx(tx *gorm.DB) CategoryRepository {
	return &categoryRepo{db: tx}
}
