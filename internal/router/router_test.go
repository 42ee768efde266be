package router

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"woo_sync_v1_202610/internal/config"
	"woo_sync_v1_202610/internal/controller"
	"woo_sync_v1_202610/internal/model"
	"woo_sync_v1_202610/internal/repository"
	"woo_sync_v1_202610/internal/service"
	"woo_sync_v1_202610/internal/task"
	"woo_sync_v1_202610/pkg/database"
	"woo_sync_v1_202610/pkg/net"
	"woo_sync_v1_202610/pkg/woo"
	"woo_sync_v1_202610/pkg/woo/wootest"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// ==================== 测试辅助 ====================

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type testApp struct {
	engine *gin.Engine
	store  *repository.Store
	srv    *wootest.Server
}

func setupApp(t *testing.T, cooldown time.Duration) *testApp {
	db, err := database.InitDB(database.Config{Driver: "sqlite", DSN: ":memory:"}, nil, model.AllModels()...)
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	store := repository.NewStore(db)

	d := net.NewDispatcher(net.Options{
		Timeout:      2 * time.Second,
		MaxRetries:   1,
		RetryWait:    time.Millisecond,
		RetryMaxWait: 2 * time.Millisecond,
	}, nil)
	client := woo.NewClient(d, 0, nil)
	reconciler := service.NewReconcilerService(store.Categories, 0, nil)
	uploader, err := service.NewImageUploader(config.StorageConfig{Driver: "wordpress"}, client)
	require.NoError(t, err)

	sites := service.NewSiteService(store, client, d, nil)
	runs := task.NewRunManager(task.RunManagerDeps{
		Store: store,
		Sync:  service.NewSyncService(store, client, reconciler, service.SyncOptions{}, nil),
		Bulk:  service.NewBulkService(store, client, reconciler, uploader, nil),
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = runs.Shutdown(ctx)
	})

	r := gin.New()
	InitRoutes(r, Controllers{
		Sites:      controller.NewSiteController(sites),
		Runs:       controller.NewRunController(runs),
		Catalog:    controller.NewCatalogController(store, reconciler),
		Candidates: controller.NewCandidateController(service.NewCandidateService(store, config.ScanConfig{}, nil)),
		Imports:    controller.NewImportController(service.NewImportService(store, sites, nil)),
	}, Options{TriggerCooldown: cooldown})

	return &testApp{engine: r, store: store, srv: wootest.NewServer(t)}
}

func (a *testApp) do(t *testing.T, method, path string, body interface{}) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v), string(raw))
	return v
}

// createSite 通过接口注册指向 fake 的站点
func (a *testApp) createSite(t *testing.T, name string) int64 {
	ep := a.srv.Endpoint(0)
	code, env := a.do(t, http.MethodPost, "/api/sites", service.SiteInput{
		Name:           name,
		URL:            ep.BaseURL,
		ConsumerKey:    ep.ConsumerKey,
		ConsumerSecret: ep.ConsumerSecret,
		WPUsername:     ep.WPUsername,
		WPAppPassword:  ep.WPAppPassword,
	})
	require.Equal(t, http.StatusOK, code, env.Message)
	return decode[model.Site](t, env.Data).ID
}

func sitePath(id int64, suffix string) string {
	return "/api/sites/" + strconv.FormatInt(id, 10) + suffix
}

// waitRun 轮询直到运行写入历史
func (a *testApp) waitRun(t *testing.T, runID string) model.RunReport {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		code, env := a.do(t, http.MethodGet, "/api/runs/"+runID, nil)
		require.Equal(t, http.StatusOK, code)
		rep := decode[model.RunReport](t, env.Data)
		if rep.FinishedAt != nil {
			return rep
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("运行 %s 未结束", runID)
	return model.RunReport{}
}

// ==================== 站点 ====================

func TestSites_CRUD(t *testing.T) {
	app := setupApp(t, 0)
	id := app.createSite(t, "alpha")

	ep := app.srv.Endpoint(0)
	code, _ := app.do(t, http.MethodPost, "/api/sites", service.SiteInput{
		Name: "dup", URL: ep.BaseURL, ConsumerKey: ep.ConsumerKey, ConsumerSecret: "other",
	})
	assert.Equal(t, http.StatusConflict, code)

	code, _ = app.do(t, http.MethodPost, "/api/sites", service.SiteInput{Name: "bad", URL: "not a url"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, env := app.do(t, http.MethodGet, "/api/sites?active=true", nil)
	require.Equal(t, http.StatusOK, code)
	list := decode[struct {
		List  []model.Site `json:"list"`
		Total int64        `json:"total"`
	}](t, env.Data)
	assert.Equal(t, int64(1), list.Total)

	notes := "vip"
	code, env = app.do(t, http.MethodPut, sitePath(id, ""), service.SiteInput{Name: "alpha 2", Notes: &notes})
	require.Equal(t, http.StatusOK, code, env.Message)
	site := decode[model.Site](t, env.Data)
	assert.Equal(t, "alpha 2", site.Name)
	assert.Equal(t, "vip", site.Notes)

	code, env = app.do(t, http.MethodPost, sitePath(id, "/test"), nil)
	require.Equal(t, http.StatusOK, code)
	res := decode[service.ConnectionResult](t, env.Data)
	assert.True(t, res.OK, res.Error)

	require.NoError(t, app.store.Products.Create(context.Background(), &model.Product{SiteID: id, Name: "p", SKU: "P-1"}))
	code, _ = app.do(t, http.MethodDelete, sitePath(id, ""), nil)
	assert.Equal(t, http.StatusConflict, code)
	code, _ = app.do(t, http.MethodDelete, sitePath(id, "?cascade=true"), nil)
	assert.Equal(t, http.StatusOK, code)

	code, _ = app.do(t, http.MethodGet, sitePath(id, ""), nil)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = app.do(t, http.MethodGet, "/api/sites/abc", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

// ==================== 运行 ====================

func TestRuns_SyncLifecycle(t *testing.T) {
	app := setupApp(t, time.Minute)
	app.srv.AddProducts(3, "P")
	id := app.createSite(t, "alpha")

	code, env := app.do(t, http.MethodPost, sitePath(id, "/sync"), nil)
	require.Equal(t, http.StatusAccepted, code, env.Message)
	ref := decode[struct {
		RunID string        `json:"run_id"`
		Kind  model.RunKind `json:"kind"`
	}](t, env.Data)
	require.NotEmpty(t, ref.RunID)
	assert.Equal(t, model.RunKindFullSync, ref.Kind)

	rep := app.waitRun(t, ref.RunID)
	assert.Equal(t, model.RunStateIdle, rep.State)
	assert.Equal(t, 3, rep.Pulled)

	// 冷却中
	code, env = app.do(t, http.MethodPost, sitePath(id, "/sync"), nil)
	assert.Equal(t, http.StatusTooManyRequests, code)
	retry := decode[struct {
		RetryAfter int `json:"retry_after"`
	}](t, env.Data)
	assert.Greater(t, retry.RetryAfter, 0)

	code, env = app.do(t, http.MethodGet, sitePath(id, "/runs"), nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decode[[]model.SyncRun](t, env.Data), 1)

	code, env = app.do(t, http.MethodGet, sitePath(id, "/products?page_size=2"), nil)
	require.Equal(t, http.StatusOK, code)
	products := decode[struct {
		List  []model.Product `json:"list"`
		Total int64           `json:"total"`
	}](t, env.Data)
	assert.Equal(t, int64(3), products.Total)
	assert.Len(t, products.List, 2)
}

func TestRuns_Errors(t *testing.T) {
	app := setupApp(t, 0)
	id := app.createSite(t, "alpha")

	code, _ := app.do(t, http.MethodGet, "/api/runs/missing", nil)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = app.do(t, http.MethodPost, "/api/runs/missing/cancel", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = app.do(t, http.MethodPost, sitePath(id, "/bulk-upload"), controller.BulkUploadReq{})
	assert.Equal(t, http.StatusBadRequest, code)
	code, env := app.do(t, http.MethodPost, sitePath(id, "/bulk-upload"), controller.BulkUploadReq{CandidateIDs: []int64{1}, Policy: "merge"})
	assert.Equal(t, http.StatusBadRequest, code, env.Message)

	code, _ = app.do(t, http.MethodPost, sitePath(9999, "/push"), nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestRuns_BulkUploadFromScan(t *testing.T) {
	app := setupApp(t, 0)
	id := app.createSite(t, "alpha")

	root := t.TempDir()
	dir := filepath.Join(root, "Blue Vase")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "1.jpg"), []byte("jpg"), 0o644))

	code, env := app.do(t, http.MethodPost, "/api/candidates/scan", service.ScanOptions{Root: root, SiteID: &id})
	require.Equal(t, http.StatusOK, code, env.Message)
	assert.Len(t, decode[service.ScanResult](t, env.Data).Folders, 1)

	code, env = app.do(t, http.MethodGet, "/api/candidates?site_id="+strconv.FormatInt(id, 10), nil)
	require.Equal(t, http.StatusOK, code)
	cands := decode[struct {
		List []model.StagedCandidate `json:"list"`
	}](t, env.Data)
	require.Len(t, cands.List, 1)

	code, env = app.do(t, http.MethodPost, sitePath(id, "/bulk-upload"), controller.BulkUploadReq{CandidateIDs: []int64{cands.List[0].ID}})
	require.Equal(t, http.StatusAccepted, code, env.Message)
	ref := decode[struct {
		RunID string `json:"run_id"`
	}](t, env.Data)

	rep := app.waitRun(t, ref.RunID)
	require.Len(t, rep.Items, 1)
	assert.Equal(t, model.OutcomeCreated, rep.Items[0].Outcome, rep.Items[0].Reason)
	assert.Equal(t, 1, app.srv.ProductCount())

	code, _ = app.do(t, http.MethodDelete, "/api/candidates/"+strconv.FormatInt(cands.List[0].ID, 10), nil)
	assert.Equal(t, http.StatusNotFound, code, "上传成功后候选已移除")
}

// ==================== 分类 / 商品 ====================

func TestCatalog_ResolveAndRequeue(t *testing.T) {
	app := setupApp(t, 0)
	id := app.createSite(t, "alpha")
	ctx := context.Background()
	require.NoError(t, app.store.Categories.UpsertCategory(ctx, &model.Category{SiteID: id, RemoteID: 15, Name: "Home Decor"}))

	code, env := app.do(t, http.MethodGet, sitePath(id, "/categories"), nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decode[[]model.Category](t, env.Data), 1)

	code, env = app.do(t, http.MethodPost, sitePath(id, "/categories/resolve"), model.CategoryHint{Name: "home decor"})
	require.Equal(t, http.StatusOK, code)
	res := decode[service.Resolution](t, env.Data)
	assert.Equal(t, int64(15), res.RemoteID)
	assert.Equal(t, service.MatchExact, res.Method)

	code, _ = app.do(t, http.MethodPost, "/api/products/4242/requeue", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

// ==================== 导入导出 ====================

func TestImportExport_Sites(t *testing.T) {
	app := setupApp(t, 0)

	code, env := app.do(t, http.MethodPost, "/api/import/sites", controller.ImportSitesReq{Rows: []service.SiteRow{
		{Name: "A", URL: "https://a.example.com", ConsumerKey: "ck_a", ConsumerSecret: "cs_a", Active: true},
		{Name: "", URL: "https://b.example.com", ConsumerKey: "ck_b", ConsumerSecret: "cs_b"},
	}})
	require.Equal(t, http.StatusOK, code)
	sum := decode[struct {
		Results []service.RowResult `json:"results"`
		Created int                 `json:"created"`
		Failed  int                 `json:"failed"`
	}](t, env.Data)
	assert.Len(t, sum.Results, 2)
	assert.Equal(t, 1, sum.Created)
	assert.Equal(t, 1, sum.Failed)

	code, env = app.do(t, http.MethodGet, "/api/export/sites", nil)
	require.Equal(t, http.StatusOK, code)
	rows := decode[[]service.SiteRow](t, env.Data)
	require.Len(t, rows, 1)
	assert.Equal(t, "ck_a", rows[0].ConsumerKey)

	code, env = app.do(t, http.MethodPost, "/api/import/products", controller.ImportProductsReq{Rows: []service.ProductRow{
		{Site: "A", Name: "Mug", SKU: "M-1", RegularPrice: "9.5"},
	}})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, decode[struct {
		Created int `json:"created"`
	}](t, env.Data).Created)

	code, env = app.do(t, http.MethodGet, sitePath(sum.Results[0].ID, "/products"), nil)
	require.Equal(t, http.StatusOK, code)
	code, env = app.do(t, http.MethodGet, "/api/export/sites/"+strconv.FormatInt(sum.Results[0].ID, 10)+"/products", nil)
	require.Equal(t, http.StatusOK, code)
	products := decode[[]service.ProductRow](t, env.Data)
	require.Len(t, products, 1)
	assert.Equal(t, "9.50", products[0].RegularPrice)
}
