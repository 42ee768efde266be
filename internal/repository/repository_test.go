package repository

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"woo_sync_v1_202610/internal/model"
	"woo_sync_v1_202610/pkg/database"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := database.InitDB(database.Config{Driver: "sqlite", DSN: ":memory:"}, nil, model.AllModels()...)
	if err != nil {
		t.Fatalf("连接测试数据库失败: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func createSite(t *testing.T, store *Store, name string) *model.Site {
	site := &model.Site{
		Name:           name,
		URL:            "https://" + name + ".example.com",
		ConsumerKey:    "ck_" + name,
		ConsumerSecret: "cs_" + name,
		IsActive:       true,
	}
	require.NoError(t, store.Sites.Create(context.Background(), site))
	return site
}

func price(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

// ==================== 站点 ====================

func TestSiteRepo_DeleteWithoutCascade(t *testing.T) {
	ctx := context.Background()
	store := NewStore(setupTestDB(t))
	site := createSite(t, store, "alpha")
	require.NoError(t, store.Products.Create(ctx, &model.Product{SiteID: site.ID, Name: "Tee", SKU: "T-1"}))

	err := store.Sites.Delete(ctx, site.ID, false)
	assert.ErrorIs(t, err, ErrSiteInUse)

	_, err = store.Sites.GetByID(ctx, site.ID)
	assert.NoError(t, err)
}

func TestSiteRepo_DeleteCascade(t *testing.T) {
	ctx := context.Background()
	store := NewStore(setupTestDB(t))
	site := createSite(t, store, "alpha")
	other := createSite(t, store, "beta")

	require.NoError(t, store.Products.Create(ctx, &model.Product{SiteID: site.ID, Name: "Tee", SKU: "T-1"}))
	require.NoError(t, store.Products.Create(ctx, &model.Product{SiteID: other.ID, Name: "Tee", SKU: "T-1"}))
	require.NoError(t, store.Categories.UpsertCategory(ctx, &model.Category{SiteID: site.ID, RemoteID: 7, Name: "Shirts"}))
	cand := &model.StagedCandidate{SiteID: model.Int64Ptr(site.ID), SourcePath: "/scan/tee", Name: "Tee"}
	require.NoError(t, store.Candidates.Create(ctx, cand))

	require.NoError(t, store.Sites.Delete(ctx, site.ID, true))

	n, err := store.Products.CountBySite(ctx, site.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
	n, err = store.Categories.CountBySite(ctx, site.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
	n, err = store.Products.CountBySite(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := store.Candidates.GetByID(ctx, cand.ID)
	require.NoError(t, err)
	assert.Nil(t, got.SiteID)

	_, err = store.Sites.GetByID(ctx, site.ID)
	assert.True(t, IsNotFound(err))
}

func TestSiteRepo_ListActive(t *testing.T) {
	ctx := context.Background()
	store := NewStore(setupTestDB(t))
	createSite(t, store, "alpha")
	off := createSite(t, store, "beta")
	off.IsActive = false
	require.NoError(t, store.Sites.Update(ctx, off))

	active, err := store.Sites.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "alpha", active[0].Name)

	all, total, err := store.Sites.List(ctx, SiteFilter{Keyword: "beta"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, off.ID, all[0].ID)
}

// ==================== 商品 ====================

func TestProductRepo_DuplicateSKU(t *testing.T) {
	ctx := context.Background()
	store := NewStore(setupTestDB(t))
	site := createSite(t, store, "alpha")

	require.NoError(t, store.Products.Create(ctx, &model.Product{SiteID: site.ID, Name: "A", SKU: "DUP"}))
	err := store.Products.Create(ctx, &model.Product{SiteID: site.ID, Name: "B", SKU: "DUP"})
	assert.ErrorIs(t, err, ErrDuplicateSKU)

	// 空 SKU 不参与唯一约束
	require.NoError(t, store.Products.Create(ctx, &model.Product{SiteID: site.ID, Name: "C"}))
	require.NoError(t, store.Products.Create(ctx, &model.Product{SiteID: site.ID, Name: "D"}))
}

func TestProductRepo_FindUnsyncedOrderedByID(t *testing.T) {
	ctx := context.Background()
	store := NewStore(setupTestDB(t))
	site := createSite(t, store, "alpha")

	for _, sku := range []string{"C", "A", "B"} {
		require.NoError(t, store.Products.Create(ctx, &model.Product{SiteID: site.ID, Name: sku, SKU: sku}))
	}
	_, err := store.Products.UpsertProduct(ctx, &model.Product{
		SiteID: site.ID, RemoteID: model.Int64Ptr(99), Name: "Synced", SKU: "S",
	}, UpsertOptions{Authoritative: true})
	require.NoError(t, err)

	unsynced, err := store.Products.FindUnsyncedProducts(ctx, site.ID)
	require.NoError(t, err)
	require.Len(t, unsynced, 3)
	assert.Equal(t, []string{"C", "A", "B"}, []string{unsynced[0].SKU, unsynced[1].SKU, unsynced[2].SKU})
	assert.Less(t, unsynced[0].ID, unsynced[1].ID)
}

func TestProductRepo_AuthoritativeUpsertMarksSynced(t *testing.T) {
	ctx := context.Background()
	store := NewStore(setupTestDB(t))
	site := createSite(t, store, "alpha")

	res, err := store.Products.UpsertProduct(ctx, &model.Product{
		SiteID:       site.ID,
		RemoteID:     model.Int64Ptr(501),
		Name:         "Linen Shirt",
		SKU:          "LIN-1",
		RegularPrice: price("49.90"),
		Categories:   []model.CategoryRef{{ID: 7, Name: "Shirts"}},
	}, UpsertOptions{Authoritative: true})
	require.NoError(t, err)
	assert.Equal(t, UpsertInserted, res.Action)

	got, err := store.Products.GetByID(ctx, res.Product.ID)
	require.NoError(t, err)
	assert.False(t, got.IsDirty())
	assert.Equal(t, model.SyncStateSynced, got.SyncState)
	assert.True(t, got.RegularPrice.Decimal.Equal(decimal.RequireFromString("49.9")))
	assert.Equal(t, []int64{7}, model.RemoteCategoryIDs(got.Categories))

	// 再次拉取相同远端 ID 只更新不新增
	res, err = store.Products.UpsertProduct(ctx, &model.Product{
		SiteID: site.ID, RemoteID: model.Int64Ptr(501), Name: "Linen Shirt v2", SKU: "LIN-1",
	}, UpsertOptions{Authoritative: true})
	require.NoError(t, err)
	assert.Equal(t, UpsertUpdated, res.Action)

	n, _ := store.Products.CountBySite(ctx, site.ID)
	assert.Equal(t, int64(1), n)
	got, _ = store.Products.GetByID(ctx, res.Product.ID)
	assert.Equal(t, "Linen Shirt v2", got.Name)
	assert.False(t, got.IsDirty())
}

func TestProductRepo_LocalEditMakesDirty(t *testing.T) {
	ctx := context.Background()
	store := NewStore(setupTestDB(t))
	site := createSite(t, store, "alpha")

	res, err := store.Products.UpsertProduct(ctx, &model.Product{
		SiteID: site.ID, RemoteID: model.Int64Ptr(10), Name: "Mug", SKU: "MUG",
	}, UpsertOptions{Authoritative: true})
	require.NoError(t, err)

	time.Sleep(2 * time.Millisecond)
	p := res.Product
	p.Name = "Mug (blue)"
	require.NoError(t, store.Products.Update(ctx, p))

	got, _ := store.Products.GetByID(ctx, p.ID)
	assert.True(t, got.IsDirty())
	assert.Equal(t, model.SyncStatePending, got.SyncState)
}

func TestProductRepo_PullKeepsNewerLocalEdit(t *testing.T) {
	ctx := context.Background()
	store := NewStore(setupTestDB(t))
	site := createSite(t, store, "alpha")

	remoteModified := model.Now().Add(-time.Hour)
	res, err := store.Products.UpsertProduct(ctx, &model.Product{
		SiteID: site.ID, RemoteID: model.Int64Ptr(10), Name: "Mug", SKU: "MUG", RemoteModifiedAt: &remoteModified,
	}, UpsertOptions{Authoritative: true})
	require.NoError(t, err)

	time.Sleep(2 * time.Millisecond)
	p := res.Product
	p.Name = "Mug (local)"
	require.NoError(t, store.Products.Update(ctx, p))

	res, err = store.Products.UpsertProduct(ctx, &model.Product{
		SiteID: site.ID, RemoteID: model.Int64Ptr(10), Name: "Mug (remote)", SKU: "MUG", RemoteModifiedAt: &remoteModified,
	}, UpsertOptions{Authoritative: true})
	require.NoError(t, err)
	assert.Equal(t, UpsertKeptLocal, res.Action)

	got, _ := store.Products.GetByID(ctx, p.ID)
	assert.Equal(t, "Mug (local)", got.Name)
	assert.True(t, got.IsDirty())
}

func TestProductRepo_ForceOverwritesLocalEdit(t *testing.T) {
	ctx := context.Background()
	store := NewStore(setupTestDB(t))
	site := createSite(t, store, "alpha")

	remoteModified := model.Now().Add(-time.Hour)
	res, err := store.Products.UpsertProduct(ctx, &model.Product{
		SiteID: site.ID, RemoteID: model.Int64Ptr(10), Name: "Mug", SKU: "MUG", RemoteModifiedAt: &remoteModified,
	}, UpsertOptions{Authoritative: true})
	require.NoError(t, err)

	time.Sleep(2 * time.Millisecond)
	p := res.Product
	p.Name = "Mug (local)"
	require.NoError(t, store.Products.Update(ctx, p))

	res, err = store.Products.UpsertProduct(ctx, &model.Product{
		SiteID: site.ID, RemoteID: model.Int64Ptr(10), Name: "Mug (uploaded)", SKU: "MUG", RemoteModifiedAt: &remoteModified,
	}, UpsertOptions{Authoritative: true, Force: true})
	require.NoError(t, err)
	assert.Equal(t, UpsertUpdated, res.Action)

	got, _ := store.Products.GetByID(ctx, p.ID)
	assert.Equal(t, "Mug (uploaded)", got.Name)
	assert.False(t, got.IsDirty())
}

func TestProductRepo_PullOverwritesOlderLocalEdit(t *testing.T) {
	ctx := context.Background()
	store := NewStore(setupTestDB(t))
	site := createSite(t, store, "alpha")

	require.NoError(t, store.Products.Create(ctx, &model.Product{SiteID: site.ID, Name: "Local draft", SKU: "CAP"}))
	remoteModified := model.Now().Add(time.Hour)

	res, err := store.Products.UpsertProduct(ctx, &model.Product{
		SiteID: site.ID, RemoteID: model.Int64Ptr(77), Name: "Remote cap", SKU: "CAP", RemoteModifiedAt: &remoteModified,
	}, UpsertOptions{Authoritative: true})
	require.NoError(t, err)
	assert.Equal(t, UpsertUpdated, res.Action)

	got, _ := store.Products.GetByID(ctx, res.Product.ID)
	assert.Equal(t, "Remote cap", got.Name)
	require.NotNil(t, got.RemoteID)
	assert.Equal(t, int64(77), *got.RemoteID)
	assert.False(t, got.IsDirty())
}

func TestProductRepo_IdentityMismatchRemoteWins(t *testing.T) {
	ctx := context.Background()
	store := NewStore(setupTestDB(t))
	site := createSite(t, store, "alpha")

	_, err := store.Products.UpsertProduct(ctx, &model.Product{
		SiteID: site.ID, RemoteID: model.Int64Ptr(1), Name: "Old", SKU: "HAT",
	}, UpsertOptions{Authoritative: true})
	require.NoError(t, err)

	res, err := store.Products.UpsertProduct(ctx, &model.Product{
		SiteID: site.ID, RemoteID: model.Int64Ptr(2), Name: "New", SKU: "HAT",
	}, UpsertOptions{Authoritative: true})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Warning)

	got, err := store.Products.FindBySKU(ctx, site.ID, "HAT")
	require.NoError(t, err)
	assert.Equal(t, int64(2), *got.RemoteID)
	assert.Equal(t, "New", got.Name)
}

func TestProductRepo_NonAuthoritativeUpsert(t *testing.T) {
	ctx := context.Background()
	store := NewStore(setupTestDB(t))
	site := createSite(t, store, "alpha")

	res, err := store.Products.UpsertProduct(ctx, &model.Product{SiteID: site.ID, Name: "Sock", SKU: "SOCK"}, UpsertOptions{})
	require.NoError(t, err)
	assert.Equal(t, UpsertInserted, res.Action)
	assert.True(t, res.Product.IsDirty())

	res, err = store.Products.UpsertProduct(ctx, &model.Product{SiteID: site.ID, Name: "Sock v2", SKU: "SOCK"}, UpsertOptions{})
	require.NoError(t, err)
	assert.Equal(t, UpsertUpdated, res.Action)

	got, _ := store.Products.FindBySKU(ctx, site.ID, "SOCK")
	assert.Equal(t, "Sock v2", got.Name)
	assert.True(t, got.IsDirty())
}

func TestProductRepo_MarkPushedRespectsConcurrentEdit(t *testing.T) {
	ctx := context.Background()
	store := NewStore(setupTestDB(t))
	site := createSite(t, store, "alpha")

	a := &model.Product{SiteID: site.ID, Name: "A", SKU: "A"}
	b := &model.Product{SiteID: site.ID, Name: "B", SKU: "B"}
	require.NoError(t, store.Products.Create(ctx, a))
	require.NoError(t, store.Products.Create(ctx, b))

	// a 正常推送
	ok, err := store.Products.MarkPushed(ctx, a.ID, PushedState{
		RemoteID: 100,
		Snapshot: a.UpdatedAt,
		Tags:     []model.TagRef{{ID: 31, Name: "eco"}},
		Images:   []model.ImageRef{{ID: 5001, Src: "https://cdn.example.com/a.jpg"}},
	})
	require.NoError(t, err)
	assert.True(t, ok)

	// b 推送过程中被修改
	snapshot := b.UpdatedAt
	time.Sleep(2 * time.Millisecond)
	b.Name = "B edited"
	require.NoError(t, store.Products.Update(ctx, b))

	ok, err = store.Products.MarkPushed(ctx, b.ID, PushedState{
		RemoteID: 101,
		Snapshot: snapshot,
		Tags:     []model.TagRef{{ID: 31, Name: "eco"}},
	})
	require.NoError(t, err)
	assert.False(t, ok)

	pushedA, err := store.Products.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, []model.TagRef{{ID: 31, Name: "eco"}}, []model.TagRef(pushedA.Tags))
	assert.Equal(t, []model.ImageRef{{ID: 5001, Src: "https://cdn.example.com/a.jpg"}}, []model.ImageRef(pushedA.Images))

	// 推送期间的本地修改不被远端标签覆盖
	editedB, err := store.Products.GetByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Empty(t, editedB.Tags)
	assert.Equal(t, int64(101), *editedB.RemoteID)

	unsynced, err := store.Products.FindUnsyncedProducts(ctx, site.ID)
	require.NoError(t, err)
	require.Len(t, unsynced, 1)
	assert.Equal(t, b.ID, unsynced[0].ID)
	assert.Equal(t, int64(101), *unsynced[0].RemoteID)
}

func TestProductRepo_Orphans(t *testing.T) {
	ctx := context.Background()
	store := NewStore(setupTestDB(t))
	site := createSite(t, store, "alpha")

	for _, id := range []int64{1, 2, 3, 4} {
		_, err := store.Products.UpsertProduct(ctx, &model.Product{
			SiteID: site.ID, RemoteID: model.Int64Ptr(id), Name: "P",
		}, UpsertOptions{Authoritative: true})
		require.NoError(t, err)
	}
	require.NoError(t, store.Products.Create(ctx, &model.Product{SiteID: site.ID, Name: "local only"}))

	orphans, err := store.Products.FindOrphanedRemoteIDs(ctx, site.ID, []int64{1, 3})
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 4}, orphans)

	n, err := store.Products.MarkRemoteDeleted(ctx, site.ID, []int64{2}, model.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = store.Products.HardDeleteByRemoteIDs(ctx, site.ID, []int64{4})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// 已标记删除的不再算孤儿
	orphans, err = store.Products.FindOrphanedRemoteIDs(ctx, site.ID, []int64{1, 3})
	require.NoError(t, err)
	assert.Empty(t, orphans)

	deleted, err := store.Products.FindByRemoteID(ctx, site.ID, 2)
	require.NoError(t, err)
	assert.True(t, deleted.RemoteDeleted)
	assert.NotNil(t, deleted.RemoteDeletedAt)
}

func TestProductRepo_StaleAndRequeue(t *testing.T) {
	ctx := context.Background()
	store := NewStore(setupTestDB(t))
	site := createSite(t, store, "alpha")

	p := &model.Product{SiteID: site.ID, Name: "Gone", SKU: "G", RemoteID: model.Int64Ptr(9)}
	require.NoError(t, store.Products.Create(ctx, p))
	require.NoError(t, store.Products.MarkStale(ctx, p.ID, "remote product not found"))

	got, _ := store.Products.GetByID(ctx, p.ID)
	assert.Equal(t, model.SyncStateStale, got.SyncState)
	assert.True(t, p.UpdatedAt.Equal(got.UpdatedAt))

	require.NoError(t, store.Products.RequeueAsNew(ctx, p.ID))
	got, _ = store.Products.GetByID(ctx, p.ID)
	assert.False(t, got.HasRemote())
	assert.Equal(t, model.SyncStatePending, got.SyncState)
	assert.True(t, got.IsDirty())

	assert.True(t, IsNotFound(store.Products.RequeueAsNew(ctx, 999)))
}

func TestProductRepo_RemoteStatusKeptAsReceived(t *testing.T) {
	ctx := context.Background()
	store := NewStore(setupTestDB(t))
	site := createSite(t, store, "alpha")

	res, err := store.Products.UpsertProduct(ctx, &model.Product{
		SiteID: site.ID, RemoteID: model.Int64Ptr(600), Name: "Launch", SKU: "L-1", Status: model.ProductStatusFuture,
	}, UpsertOptions{Authoritative: true})
	require.NoError(t, err)
	got, err := store.Products.GetByID(ctx, res.Product.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProductStatusFuture, got.Status)

	// 插件扩展的状态也原样保存
	_, err = store.Products.UpsertProduct(ctx, &model.Product{
		SiteID: site.ID, RemoteID: model.Int64Ptr(600), Name: "Launch", SKU: "L-1", Status: "wc-archived",
	}, UpsertOptions{Authoritative: true})
	require.NoError(t, err)
	got, err = store.Products.GetByID(ctx, res.Product.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProductStatus("wc-archived"), got.Status)

	// 本地数据的未知状态仍按草稿处理
	local, err := store.Products.UpsertProduct(ctx, &model.Product{SiteID: site.ID, Name: "Draft", SKU: "D-1", Status: "bogus"}, UpsertOptions{})
	require.NoError(t, err)
	assert.Equal(t, model.ProductStatusDraft, local.Product.Status)
}

func TestProductRepo_MarkFailedKeepsUTF8(t *testing.T) {
	ctx := context.Background()
	store := NewStore(setupTestDB(t))
	site := createSite(t, store, "alpha")
	p := &model.Product{SiteID: site.ID, Name: "A", SKU: "A"}
	require.NoError(t, store.Products.Create(ctx, p))

	// 2 字节前缀让 3 字节汉字跨过 1024 边界
	reason := "ab" + strings.Repeat("远端拒绝", 200)
	require.NoError(t, store.Products.MarkFailed(ctx, p.ID, reason))

	got, err := store.Products.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, utf8.ValidString(got.SyncError))
	assert.LessOrEqual(t, len(got.SyncError), 1024)
	assert.True(t, strings.HasPrefix(reason, got.SyncError))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab", truncate("abc", 2))
	assert.Equal(t, "a", truncate("a远", 2))
	assert.Equal(t, "a", truncate("a远", 3))
	assert.Equal(t, "a远", truncate("a远", 4))
	assert.Equal(t, "", truncate("远", 1))
}

func TestStore_TransactionRollsBack(t *testing.T) {
	ctx := context.Background()
	store := NewStore(setupTestDB(t))
	site := createSite(t, store, "alpha")

	boom := errors.New("boom")
	err := store.Transaction(ctx, func(tx *Store) error {
		if err := tx.Products.Create(ctx, &model.Product{SiteID: site.ID, Name: "X", SKU: "X"}); err != nil {
			return err
		}
		if err := tx.Categories.UpsertCategory(ctx, &model.Category{SiteID: site.ID, RemoteID: 7, Name: "Shirts"}); err != nil {
			return err
		}
		if err := tx.Candidates.Create(ctx, &model.StagedCandidate{SourcePath: "/scan/x", Name: "x"}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	n, _ := store.Products.CountBySite(ctx, site.ID)
	assert.Zero(t, n)
	cats, err := store.Categories.ListBySite(ctx, site.ID)
	require.NoError(t, err)
	assert.Empty(t, cats)
	var candidates int64
	require.NoError(t, store.DB().Model(&model.StagedCandidate{}).Count(&candidates).Error)
	assert.Zero(t, candidates)
}

func TestStore_WithTxBindsEveryRepository(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	store := NewStore(db)

	tx := db.Begin()
	bound := store.WithTx(tx)
	site := &model.Site{Name: "tx", URL: "https://tx.example.com", ConsumerKey: "ck_tx", ConsumerSecret: "cs"}
	require.NoError(t, bound.Sites.Create(ctx, site))
	require.NoError(t, bound.Categories.UpsertCategory(ctx, &model.Category{SiteID: site.ID, RemoteID: 1, Name: "A"}))
	require.NoError(t, tx.Rollback().Error)

	_, err := store.Sites.GetByID(ctx, site.ID)
	assert.True(t, IsNotFound(err))
	cats, err := store.Categories.ListBySite(ctx, site.ID)
	require.NoError(t, err)
	assert.Empty(t, cats)
}

// ==================== 分类 & 候选 & 历史 ====================

func TestCategoryRepo_UpsertAndOrder(t *testing.T) {
	ctx := context.Background()
	store := NewStore(setupTestDB(t))
	site := createSite(t, store, "alpha")

	require.NoError(t, store.Categories.UpsertCategory(ctx, &model.Category{SiteID: site.ID, RemoteID: 9, Name: "Hats"}))
	require.NoError(t, store.Categories.UpsertCategory(ctx, &model.Category{SiteID: site.ID, RemoteID: 7, Name: "Shirts"}))
	require.NoError(t, store.Categories.UpsertCategory(ctx, &model.Category{SiteID: site.ID, RemoteID: 9, Name: "Caps"}))

	cats, err := store.Categories.ListBySite(ctx, site.ID)
	require.NoError(t, err)
	require.Len(t, cats, 2)
	assert.Equal(t, int64(7), cats[0].RemoteID)
	assert.Equal(t, "Caps", cats[1].Name)
}

func TestCategoryRepo_DeleteMissing(t *testing.T) {
	ctx := context.Background()
	store := NewStore(setupTestDB(t))
	site := createSite(t, store, "alpha")
	other := createSite(t, store, "beta")

	for _, id := range []int64{7, 8, 9} {
		require.NoError(t, store.Categories.UpsertCategory(ctx, &model.Category{SiteID: site.ID, RemoteID: id, Name: "c"}))
	}
	require.NoError(t, store.Categories.UpsertCategory(ctx, &model.Category{SiteID: other.ID, RemoteID: 8, Name: "c"}))

	n, err := store.Categories.DeleteMissing(ctx, site.ID, []int64{7, 9})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	cats, err := store.Categories.ListBySite(ctx, site.ID)
	require.NoError(t, err)
	require.Len(t, cats, 2)
	assert.Equal(t, int64(9), cats[1].RemoteID)

	count, err := store.Categories.CountBySite(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestCandidateRepo_GetByIDsKeepsOrder(t *testing.T) {
	ctx := context.Background()
	store := NewStore(setupTestDB(t))

	var ids []int64
	for _, path := range []string{"/a", "/b", "/c"} {
		c := &model.StagedCandidate{SourcePath: path, Name: path}
		require.NoError(t, store.Candidates.Create(ctx, c))
		ids = append(ids, c.ID)
	}

	got, err := store.Candidates.GetByIDs(ctx, []int64{ids[2], ids[0], 999, ids[1]})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "/c", got[0].SourcePath)
	assert.Equal(t, "/a", got[1].SourcePath)
	assert.Equal(t, "/b", got[2].SourcePath)
}

func TestCandidateRepo_UpsertByPathKeepsManualFields(t *testing.T) {
	ctx := context.Background()
	store := NewStore(setupTestDB(t))

	c := &model.StagedCandidate{SourcePath: "/scan/tote", Name: "tote", Images: []string{"1.jpg"}, ImageCount: 1}
	require.NoError(t, store.Candidates.Create(ctx, c))
	c.SKU = "TOTE-1"
	require.NoError(t, store.Candidates.Update(ctx, c))

	require.NoError(t, store.Candidates.UpsertByPath(ctx, &model.StagedCandidate{
		SourcePath: "/scan/tote", Name: "tote", Images: []string{"1.jpg", "2.jpg"}, ImageCount: 2,
	}))

	got, err := store.Candidates.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "TOTE-1", got.SKU)
	assert.Equal(t, 2, got.ImageCount)
	assert.Len(t, got.Images, 2)
}

func TestSyncRunRepo_FinishAndPrune(t *testing.T) {
	ctx := context.Background()
	store := NewStore(setupTestDB(t))

	for _, id := range []string{"r1", "r2", "r3"} {
		require.NoError(t, store.Runs.Create(ctx, &model.SyncRun{RunID: id, SiteID: 1, Kind: model.RunKindFullSync, State: model.RunStatePulling, StartedAt: model.Now()}))
	}

	rep := &model.RunReport{RunID: "r3", SiteID: 1, State: model.RunStateIdle, Pulled: 4, FinishedAt: model.TimePtr(model.Now())}
	rep.Add(model.ReportItem{SKU: "A", Outcome: model.OutcomeCreated})
	rep.Add(model.ReportItem{SKU: "B", Outcome: model.OutcomeFailed, Reason: "invalid price"})
	require.NoError(t, store.Runs.Finish(ctx, rep))

	run, err := store.Runs.GetByRunID(ctx, "r3")
	require.NoError(t, err)
	assert.Equal(t, 1, run.Created)
	assert.Equal(t, 1, run.FailedCount)
	assert.Equal(t, 4, run.Pulled)
	require.Len(t, run.Items, 2)
	assert.Equal(t, "invalid price", run.ToReport().Items[1].Reason)

	require.NoError(t, store.Runs.Prune(ctx, 1, 2))
	runs, err := store.Runs.ListBySite(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "r3", runs[0].RunID)
}
