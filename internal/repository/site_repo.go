package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"woo_sync_v1_202610/internal/model"
)

// ==================== 接口定义 ====================

// SiteRepository 站点仓储接口
type SiteRepository interface {
	Create(ctx context.Context, site *model.Site) error
	GetByID(ctx context.Context, id int64) (*model.Site, error)
	GetByName(ctx context.Context, name string) (*model.Site, error)
	GetByURL(ctx context.Context, url, consumerKey string) (*model.Site, error)
	Update(ctx context.Context, site *model.Site) error
	UpdateSyncState(ctx context.Context, id int64, state model.RunState, at time.Time) error

	List(ctx context.Context, filter SiteFilter) ([]model.Site, int64, error)
	ListActive(ctx context.Context) ([]model.Site, error)

	// Delete cascade=false 时站点下仍有商品返回 ErrSiteInUse
	Delete(ctx context.Context, id int64, cascade bool) error

	WithTx(tx *gorm.DB) SiteRepository
}

// SiteFilter 站点过滤条件
type SiteFilter struct {
	Keyword  string
	Active   *bool
	Page     int
	PageSize int
}

// ==================== 仓储实现 ====================

type siteRepo struct {
	db *gorm.DB
}

// NewSiteRepository 创建站点仓储
func NewSiteRepository(db *gorm.DB) SiteRepository {
	return &siteRepo{db: db}
}

func (r *siteRepo) Create(ctx context.Context, site *model.Site) error {
	return r.db.WithContext(ctx).Create(site).Error
}

func (r *siteRepo) GetByID(ctx context.Context, id int64) (*model.Site, error) {
	var site model.Site
	if err := r.db.WithContext(ctx).First(&site, id).Error; err != nil {
		return nil, err
	}
	return &site, nil
}

func (r *siteRepo) GetByName(ctx context.Context, name string) (*model.Site, error) {
	var site model.Site
	if err := r.db.WithContext(ctx).Where("name = ?", name).Order("id ASC").First(&site).Error; err != nil {
		return nil, err
	}
	return &site, nil
}

func (r *siteRepo) GetByURL(ctx context.Context, url, consumerKey string) (*model.Site, error) {
	var site model.Site
	if err := r.db.WithContext(ctx).
		Where("url = ? AND consumer_key = ?", url, consumerKey).
		First(&site).Error; err != nil {
		return nil, err
	}
	return &site, nil
}

func (r *siteRepo) Update(ctx context.Context, site *model.Site) error {
	return r.db.WithContext(ctx).Save(site).Error
}

func (r *siteRepo) UpdateSyncState(ctx context.Context, id int64, state model.RunState, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&model.Site{}).
		Where("id = ?", id).
		UpdateColumns(map[string]interface{}{
			"last_sync_at":    at,
			"last_sync_state": state,
		}).Error
}

func (r *siteRepo) List(ctx context.Context, filter SiteFilter) ([]model.Site, int64, error) {
	var sites []model.Site
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Site{})
	if filter.Keyword != "" {
		like := "%" + filter.Keyword + "%"
		query = query.Where("name LIKE ? OR url LIKE ?", like, like)
	}
	if filter.Active != nil {
		query = query.Where("is_active = ?", *filter.Active)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 50
	}
	err := query.
		Order("id ASC").
		Limit(filter.PageSize).
		Offset((filter.Page - 1) * filter.PageSize).
		Find(&sites).Error
	return sites, total, err
}

func (r *siteRepo) ListActive(ctx context.Context) ([]model.Site, error) {
	var sites []model.Site
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("id ASC").
		Find(&sites).Error
	return sites, err
}

func (r *siteRepo) Delete(ctx context.Context, id int64, cascade bool) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var site model.Site
		if err := tx.First(&site, id).Error; err != nil {
			return err
		}

		var products int64
		if err := tx.Model(&model.Product{}).Where("site_id = ?", id).Count(&products).Error; err != nil {
			return err
		}
		if products > 0 && !cascade {
			return ErrSiteInUse
		}

		if err := tx.Where("site_id = ?", id).Delete(&model.Product{}).Error; err != nil {
			return err
		}
		if err := tx.Where("site_id = ?", id).Delete(&model.Category{}).Error; err != nil {
			return err
		}
		// 候选只是弱引用，保留并清空站点提示
		if err := tx.Model(&model.StagedCandidate{}).
			Where("site_id = ?", id).
			UpdateColumn("site_id", nil).Error; err != nil {
			return err
		}
		return tx.Delete(&model.Site{}, id).Error
	})
}

func (r *siteRepo) WithTx(tx *gorm.DB) SiteRepository {
	return &siteRepo{db: tx}
}

// IsNotFound 记录不存在
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
