package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"woo_sync_v1_202610/internal/model"
)

// CandidateRepository 暂存候选仓储接口
type CandidateRepository interface {
	Create(ctx context.Context, candidate *model.StagedCandidate) error
	// UpsertByPath 按 source_path 刷新扫描结果，保留人工填写的 SKU/价格/分类
	UpsertByPath(ctx context.Context, candidate *model.StagedCandidate) error
	GetByID(ctx context.Context, id int64) (*model.StagedCandidate, error)
	// GetByIDs 按输入顺序返回，缺失的 ID 跳过
	GetByIDs(ctx context.Context, ids []int64) ([]model.StagedCandidate, error)
	Update(ctx context.Context, candidate *model.StagedCandidate) error
	List(ctx context.Context, filter CandidateFilter) ([]model.StagedCandidate, int64, error)
	Delete(ctx context.Context, id int64) error
	DeleteByIDs(ctx context.Context, ids []int64) error
	MarkFailed(ctx context.Context, id int64, reason string) error
	WithTx(tx *gorm.DB) CandidateRepository
}

// CandidateFilter 候选过滤条件
type CandidateFilter struct {
	SiteID   int64
	State    model.CandidateState
	Page     int
	PageSize int
}

type candidateRepo struct {
	db *gorm.DB
}

// NewCandidateRepository 创建候选仓储
func NewCandidateRepository(db *gorm.DB) CandidateRepository {
	return &candidateRepo{db: db}
}

func (r *candidateRepo) Create(ctx context.Context, candidate *model.StagedCandidate) error {
	if candidate.State == "" {
		candidate.State = model.CandidateStatePending
	}
	return r.db.WithContext(ctx).Create(candidate).Error
}

func (r *candidateRepo) UpsertByPath(ctx context.Context, candidate *model.StagedCandidate) error {
	if candidate.State == "" {
		candidate.State = model.CandidateStatePending
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "source_path"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"images", "image_count", "updated_at",
		}),
	}).Create(candidate).Error
}

func (r *candidateRepo) GetByID(ctx context.Context, id int64) (*model.StagedCandidate, error) {
	var candidate model.StagedCandidate
	if err := r.db.WithContext(ctx).First(&candidate, id).Error; err != nil {
		return nil, err
	}
	return &candidate, nil
}

func (r *candidateRepo) GetByIDs(ctx context.Context, ids []int64) ([]model.StagedCandidate, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []model.StagedCandidate
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	byID := make(map[int64]model.StagedCandidate, len(rows))
	for _, c := range rows {
		byID[c.ID] = c
	}
	ordered := make([]model.StagedCandidate, 0, len(ids))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			ordered = append(ordered, c)
		}
	}
	return ordered, nil
}

func (r *candidateRepo) Update(ctx context.Context, candidate *model.StagedCandidate) error {
	return r.db.WithContext(ctx).Save(candidate).Error
}

func (r *candidateRepo) List(ctx context.Context, filter CandidateFilter) ([]model.StagedCandidate, int64, error) {
	var rows []model.StagedCandidate
	var total int64

	query := r.db.WithContext(ctx).Model(&model.StagedCandidate{})
	if filter.SiteID > 0 {
		query = query.Where("site_id = ?", filter.SiteID)
	}
	if filter.State != "" {
		query = query.Where("state = ?", filter.State)
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
		Find(&rows).Error
	return rows, total, err
}

func (r *candidateRepo) Delete(ctx context.Context, id int64) error {
	res := r.db.WithContext(ctx).Delete(&model.StagedCandidate{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *candidateRepo) DeleteByIDs(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Where("id IN ?", ids).Delete(&model.StagedCandidate{}).Error
}

func (r *candidateRepo) MarkFailed(ctx context.Context, id int64, reason string) error {
	return r.db.WithContext(ctx).Model(&model.StagedCandidate{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"state":      model.CandidateStateFailed,
			"last_error": truncate(reason, 1024),
		}).Error
}

func (r *candidateRepo) WithTx(tx *gorm.DB) CandidateRepository {
	return &candidateRepo{db: tx}
}
