package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"woo_sync_v1_202610/internal/model"
	"woo_sync_v1_202610/internal/repository"
	"woo_sync_v1_202610/pkg/database"
	"woo_sync_v1_202610/pkg/net"
	"woo_sync_v1_202610/pkg/woo"
	"woo_sync_v1_202610/pkg/woo/wootest"
)

// ==================== 测试辅助 ====================

func setupTestStore(t *testing.T) *repository.Store {
	db, err := database.InitDB(database.Config{Driver: "sqlite", DSN: ":memory:"}, nil, model.AllModels()...)
	if err != nil {
		t.Fatalf("连接测试数据库失败: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return repository.NewStore(db)
}

func newTestDispatcher() *net.Dispatcher {
	return net.NewDispatcher(net.Options{
		Timeout:      2 * time.Second,
		MaxRetries:   1,
		RetryWait:    time.Millisecond,
		RetryMaxWait: 2 * time.Millisecond,
	}, nil)
}

func newTestClient() *woo.Client {
	return woo.NewClient(newTestDispatcher(), 0, nil)
}

// createFakeSite 注册一个指向 fake 的站点
func createFakeSite(t *testing.T, store *repository.Store, srv *wootest.Server, name string) *model.Site {
	ep := srv.Endpoint(0)
	site := &model.Site{
		Name:           name,
		URL:            ep.BaseURL,
		ConsumerKey:    ep.ConsumerKey,
		ConsumerSecret: ep.ConsumerSecret,
		WPUsername:     ep.WPUsername,
		WPAppPassword:  ep.WPAppPassword,
		IsActive:       true,
	}
	require.NoError(t, store.Sites.Create(context.Background(), site))
	return site
}

func addCategories(t *testing.T, store *repository.Store, siteID int64, cats map[int64]string) {
	for remoteID, name := range cats {
		require.NoError(t, store.Categories.UpsertCategory(context.Background(), &model.Category{
			SiteID: siteID, RemoteID: remoteID, Name: name,
		}))
	}
}

func price(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

// stubControl 记录状态变化，cancelAfter 次检查后请求取消
type stubControl struct {
	mu          sync.Mutex
	states      []model.RunState
	checks      int
	cancelAfter int
}

func (c *stubControl) SetState(s model.RunState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states = append(c.states, s)
}

func (c *stubControl) Canceled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks++
	return c.cancelAfter > 0 && c.checks > c.cancelAfter
}

func (c *stubControl) States() []model.RunState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.RunState(nil), c.states...)
}
