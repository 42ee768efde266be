package repository

import (
	"context"

	"gorm.io/gorm"
)

// Store 本地商品库：所有仓储共享同一连接或同一事务
type Store struct {
	db         *gorm.DB
	Sites      SiteRepository
	Products   ProductRepository
	Categories CategoryRepository
	Candidates CandidateRepository
	Runs       SyncRunRepository
}

// NewStore 创建本地商品库
func NewStore(db *gorm.DB) *Store {
	return &Store{
		db:         db,
		Sites:      NewSiteRepository(db),
		Products:   NewProductRepository(db),
		Categories: NewCategoryRepository(db),
		Candidates: NewCandidateRepository(db),
		Runs:       NewSyncRunRepository(db),
	}
}

// DB 底层连接
func (s *Store) DB() *gorm.DB { return s.db }

// WithTx 各仓储绑定到同一事务
func (s *Store) WithTx(tx *gorm.DB) *Store {
	return &Store{
		db:         tx,
		Sites:      s.Sites.WithTx(tx),
		Products:   s.Products.WithTx(tx),
		Categories: s.Categories.WithTx(tx),
		Candidates: s.Candidates.WithTx(tx),
		Runs:       s.Runs.WithTx(tx),
	}
}

// Transaction fn 中只能使用 tx 上的仓储，任一错误整体回滚
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(s.WithTx(tx))
	})
}
