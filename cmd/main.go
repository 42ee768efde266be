package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"woo_sync_v1_202610/internal/config"
	"woo_sync_v1_202610/internal/controller"
	"woo_sync_v1_202610/internal/event"
	"woo_sync_v1_202610/internal/middleware"
	"woo_sync_v1_202610/internal/model"
	"woo_sync_v1_202610/internal/repository"
	"woo_sync_v1_202610/internal/router"
	"woo_sync_v1_202610/internal/service"
	"woo_sync_v1_202610/internal/task"
	"woo_sync_v1_202610/pkg/database"
	"woo_sync_v1_202610/pkg/logger"
	"woo_sync_v1_202610/pkg/net"
	"woo_sync_v1_202610/pkg/woo"
)

func main() {
	configDir := flag.String("config", "", "config.toml 所在目录")
	flag.Parse()

	// 1. 配置
	var paths []string
	if *configDir != "" {
		paths = append(paths, *configDir)
	}
	cfg, err := config.Load(paths...)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	// 2. 日志
	zlog, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	defer zlog.Sync()
	zap.ReplaceGlobals(zlog)

	// 3. 数据库
	db, err := database.InitDB(cfg.Database,
		logger.NewGormLogger(zlog, cfg.Database.LogLevel, cfg.Database.SlowThreshold),
		model.AllModels()...,
	)
	if err != nil {
		zlog.Fatal("连接数据库失败", zap.Error(err))
	}

	// 4. 依赖
	deps, err := initDependencies(cfg, db, zlog)
	if err != nil {
		zlog.Fatal("初始化依赖失败", zap.Error(err))
	}

	// 5. 定时同步
	if cfg.Sync.Cron != "" {
		if err := deps.Scheduler.Start(); err != nil {
			zlog.Fatal("启动定时同步失败", zap.Error(err))
		}
	}

	// 6. 路由
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(logger.Recovery(zlog), logger.GinMiddleware(zlog))
	router.InitRoutes(r, deps.Controllers, router.Options{
		Limiter:         middleware.NewTriggerLimiter(),
		TriggerCooldown: cfg.Sync.TriggerCooldown,
	})

	// 7. 启动服务
	startServer(cfg, r, deps, zlog)
}

// ==================== 依赖容器 ====================

// Dependencies 依赖容器
type Dependencies struct {
	Store       *repository.Store
	Dispatcher  *net.Dispatcher
	Runs        *task.RunManager
	Scheduler   *task.ScheduledSyncTask
	Publisher   event.Publisher
	Controllers router.Controllers
}

// initDependencies 初始化所有依赖
func initDependencies(cfg *config.Config, db *gorm.DB, zlog *zap.Logger) (*Dependencies, error) {
	store := repository.NewStore(db)

	// -------- 远端客户端 --------
	dispatcher := net.NewDispatcher(net.Options{
		Timeout:      cfg.Woo.Timeout,
		MaxRetries:   cfg.Woo.MaxRetries,
		RetryWait:    cfg.Woo.RetryWait,
		RetryMaxWait: cfg.Woo.RetryMaxWait,
		MinInterval:  cfg.Woo.MinInterval,
		UserAgent:    cfg.Woo.UserAgent,
	}, zlog)
	client := woo.NewClient(dispatcher, cfg.Woo.MaxPages, zlog)

	// -------- 业务服务 --------
	uploader, err := service.NewImageUploader(cfg.Storage, client)
	if err != nil {
		return nil, err
	}
	reconciler := service.NewReconcilerService(store.Categories, cfg.Sync.FuzzyThreshold, zlog)
	syncSvc := service.NewSyncService(store, client, reconciler, service.SyncOptions{
		DeletePolicy: service.DeletePolicy(cfg.Sync.RemoteDeletePolicy),
		PageSize:     cfg.Woo.PageSize,
	}, zlog)
	bulkSvc := service.NewBulkService(store, client, reconciler, uploader, zlog)
	siteSvc := service.NewSiteService(store, client, dispatcher, zlog)
	candidateSvc := service.NewCandidateService(store, cfg.Scan, zlog)
	importSvc := service.NewImportService(store, siteSvc, zlog)

	// -------- 运行管理 --------
	locker, err := task.NewSiteLocker(context.Background(), cfg.Redis, zlog)
	if err != nil {
		return nil, err
	}
	publisher := event.New(cfg.Kafka, zlog)
	runs := task.NewRunManager(task.RunManagerDeps{
		Store:        store,
		Sync:         syncSvc,
		Bulk:         bulkSvc,
		Locker:       locker,
		Publisher:    publisher,
		HistoryLimit: cfg.Sync.HistoryLimit,
		Log:          zlog,
	})
	scheduler := task.NewScheduledSyncTask(store.Sites, runs, cfg.Sync.Cron, cfg.Sync.MaxConcurrent, zlog)

	return &Dependencies{
		Store:      store,
		Dispatcher: dispatcher,
		Runs:       runs,
		Scheduler:  scheduler,
		Publisher:  publisher,
		Controllers: router.Controllers{
			Sites:      controller.NewSiteController(siteSvc),
			Runs:       controller.NewRunController(runs),
			Catalog:    controller.NewCatalogController(store, reconciler),
			Candidates: controller.NewCandidateController(candidateSvc),
			Imports:    controller.NewImportController(importSvc),
		},
	}, nil
}

// ==================== 服务启动 ====================

// startServer 启动服务并等待退出信号
func startServer(cfg *config.Config, r *gin.Engine, deps *Dependencies, zlog *zap.Logger) {
	srv := &http.Server{
		Addr:    ":" + cfg.App.Port,
		Handler: r,
	}

	go func() {
		zlog.Info("服务启动", zap.String("addr", srv.Addr), zap.String("env", cfg.App.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal("服务启动失败", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zlog.Info("正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		zlog.Error("HTTP 服务强制关闭", zap.Error(err))
	}
	if cfg.Sync.Cron != "" {
		deps.Scheduler.Stop()
	}
	// 进行中的运行在页与条目之间停止，已完成部分保留
	if err := deps.Runs.Shutdown(ctx); err != nil {
		zlog.Warn("等待运行结束超时", zap.Error(err))
	}
	if err := deps.Publisher.Close(); err != nil {
		zlog.Warn("关闭事件发布失败", zap.Error(err))
	}

	zlog.Info("服务已退出")
}
