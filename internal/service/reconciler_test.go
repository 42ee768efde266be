package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"woo_sync_v1_202610/internal/model"
)

func newReconciler(t *testing.T) (*ReconcilerService, *model.Site) {
	store := setupTestStore(t)
	site := &model.Site{Name: "alpha", URL: "https://alpha.example.com", ConsumerKey: "ck", ConsumerSecret: "cs", IsActive: true}
	require.NoError(t, store.Sites.Create(context.Background(), site))
	return NewReconcilerService(store.Categories, 0, nil), site
}

func TestReconciler_ExactCaseInsensitive(t *testing.T) {
	store := setupTestStore(t)
	site := &model.Site{Name: "s", URL: "https://s.example.com", ConsumerKey: "ck", ConsumerSecret: "cs"}
	require.NoError(t, store.Sites.Create(context.Background(), site))
	addCategories(t, store, site.ID, map[int64]string{7: "Shirts"})

	svc := NewReconcilerService(store.Categories, 0, nil)
	res, err := svc.Resolve(context.Background(), site.ID, model.CategoryHint{Name: "shirts"})
	require.NoError(t, err)
	assert.Equal(t, int64(7), res.RemoteID)
	assert.Equal(t, MatchExact, res.Method)
	assert.Empty(t, res.Warning)
}

func TestReconciler_LocalIDWins(t *testing.T) {
	store := setupTestStore(t)
	site := &model.Site{Name: "s", URL: "https://s.example.com", ConsumerKey: "ck", ConsumerSecret: "cs"}
	require.NoError(t, store.Sites.Create(context.Background(), site))
	addCategories(t, store, site.ID, map[int64]string{7: "Shirts", 9: "Hats"})
	hats, err := store.Categories.GetByRemoteID(context.Background(), site.ID, 9)
	require.NoError(t, err)

	svc := NewReconcilerService(store.Categories, 0, nil)
	res, err := svc.Resolve(context.Background(), site.ID, model.CategoryHint{CategoryID: hats.ID, Name: "Shirts"})
	require.NoError(t, err)
	assert.Equal(t, int64(9), res.RemoteID)
	assert.Equal(t, MatchLocalID, res.Method)
}

func TestReconciler_ForeignLocalIDFallsBackToName(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	a := &model.Site{Name: "a", URL: "https://a.example.com", ConsumerKey: "ck", ConsumerSecret: "cs"}
	b := &model.Site{Name: "b", URL: "https://b.example.com", ConsumerKey: "ck", ConsumerSecret: "cs"}
	require.NoError(t, store.Sites.Create(ctx, a))
	require.NoError(t, store.Sites.Create(ctx, b))
	addCategories(t, store, a.ID, map[int64]string{3: "Mugs"})
	addCategories(t, store, b.ID, map[int64]string{41: "mugs"})
	onA, err := store.Categories.GetByRemoteID(ctx, a.ID, 3)
	require.NoError(t, err)

	svc := NewReconcilerService(store.Categories, 0, nil)
	res, err := svc.Resolve(ctx, b.ID, model.CategoryHint{CategoryID: onA.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(41), res.RemoteID)
	assert.Equal(t, MatchExact, res.Method)
}

func TestReconciler_MissingLocalIDWithoutName(t *testing.T) {
	svc, site := newReconciler(t)
	res, err := svc.Resolve(context.Background(), site.ID, model.CategoryHint{CategoryID: 999})
	require.NoError(t, err)
	assert.False(t, res.Resolved())
	assert.Equal(t, MatchNone, res.Method)
	assert.Contains(t, res.Warning, "#999")
}

func TestReconciler_AmbiguousExactFallsThrough(t *testing.T) {
	svc := NewReconcilerService(nil, 0, nil)
	cats := []model.Category{
		{BaseModel: model.BaseModel{ID: 1}, RemoteID: 10, Name: "Shirts"},
		{BaseModel: model.BaseModel{ID: 2}, RemoteID: 11, Name: "shirts"},
	}

	res := svc.ResolveAmong(cats, model.CategoryHint{Name: "SHIRTS"})
	assert.False(t, res.Resolved())
	// 两条都能通过模糊匹配，同样视为歧义
	assert.Contains(t, res.Warning, "ambiguous")
}

func TestReconciler_FuzzyAccentsAndSpacing(t *testing.T) {
	svc := NewReconcilerService(nil, 0, nil)
	cats := []model.Category{
		{RemoteID: 4, Name: "Café  Accessories"},
		{RemoteID: 5, Name: "Garden"},
	}

	res := svc.ResolveAmong(cats, model.CategoryHint{Name: "cafe accessories"})
	require.True(t, res.Resolved())
	assert.Equal(t, int64(4), res.RemoteID)
	assert.Equal(t, MatchFuzzy, res.Method)
}

func TestReconciler_FuzzySubstring(t *testing.T) {
	svc := NewReconcilerService(nil, 0, nil)
	cats := []model.Category{
		{RemoteID: 4, Name: "Wall Art Prints"},
		{RemoteID: 5, Name: "Garden"},
	}

	res := svc.ResolveAmong(cats, model.CategoryHint{Name: "wall art"})
	require.True(t, res.Resolved())
	assert.Equal(t, int64(4), res.RemoteID)
	assert.Equal(t, 1.0, res.Score)
}

func TestReconciler_JaroWinklerTypo(t *testing.T) {
	svc := NewReconcilerService(nil, 0, nil)
	cats := []model.Category{
		{RemoteID: 4, Name: "Necklaces"},
		{RemoteID: 5, Name: "Garden"},
	}

	res := svc.ResolveAmong(cats, model.CategoryHint{Name: "Necklases"})
	require.True(t, res.Resolved())
	assert.Equal(t, int64(4), res.RemoteID)
	assert.GreaterOrEqual(t, res.Score, DefaultFuzzyThreshold)
}

func TestReconciler_UnresolvedIsWarningNotError(t *testing.T) {
	svc, site := newReconciler(t)
	res, err := svc.Resolve(context.Background(), site.ID, model.CategoryHint{Name: "Kitchen"})
	require.NoError(t, err)
	assert.False(t, res.Resolved())
	assert.Contains(t, res.Warning, "not found")
}

func TestReconciler_Deterministic(t *testing.T) {
	store := setupTestStore(t)
	site := &model.Site{Name: "s", URL: "https://s.example.com", ConsumerKey: "ck", ConsumerSecret: "cs"}
	require.NoError(t, store.Sites.Create(context.Background(), site))
	addCategories(t, store, site.ID, map[int64]string{
		3: "Rings", 4: "Ring Boxes", 5: "Earrings", 6: "Bracelets", 7: "Anklets",
	})

	svc := NewReconcilerService(store.Categories, 0, nil)
	hints := []model.CategoryHint{{Name: "ring"}, {Name: "Braclets"}, {Name: "earring"}, {Name: "x"}}
	for _, hint := range hints {
		first, err := svc.Resolve(context.Background(), site.ID, hint)
		require.NoError(t, err)
		for i := 0; i < 20; i++ {
			again, err := svc.Resolve(context.Background(), site.ID, hint)
			require.NoError(t, err)
			assert.Equal(t, first, again, hint.Name)
		}
	}
}

func TestReconciler_ResolveRefs(t *testing.T) {
	store := setupTestStore(t)
	site := &model.Site{Name: "s", URL: "https://s.example.com", ConsumerKey: "ck", ConsumerSecret: "cs"}
	require.NoError(t, store.Sites.Create(context.Background(), site))
	addCategories(t, store, site.ID, map[int64]string{7: "Shirts"})

	svc := NewReconcilerService(store.Categories, 0, nil)
	refs, warnings, err := svc.ResolveRefs(context.Background(), site.ID, []model.CategoryRef{
		{ID: 12, Name: "Kept"}, {Name: "shirts"}, {Name: "Unknown"},
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{12, 7}, model.RemoteCategoryIDs(refs))
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "Unknown")
}

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "cafe creme", normalizeName("  Café   Crème "))
	assert.Equal(t, "strasse", normalizeName("STRASSE"))
}
