package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"woo_sync_v1_202610/internal/config"
	"woo_sync_v1_202610/internal/model"
	"woo_sync_v1_202610/internal/repository"
)

// descriptionFile 文件夹内可选的描述文件
const descriptionFile = "description.txt"

// ScanOptions 单次扫描参数，零值字段取配置默认值
type ScanOptions struct {
	Root         string   `json:"root"`
	SiteID       *int64   `json:"site_id"`
	CategoryID   *int64   `json:"category_id"`
	CategoryName string   `json:"category_name"`
	MinImages    int      `json:"min_images"`
	MaxFolders   int      `json:"max_folders"`
	Extensions   []string `json:"extensions"`
}

// ScannedFolder 一个符合条件的文件夹
type ScannedFolder struct {
	Path       string `json:"path"`
	Name       string `json:"name"`
	ImageCount int    `json:"image_count"`
}

// ScanResult 扫描汇总
type ScanResult struct {
	Root      string          `json:"root"`
	Visited   int             `json:"visited"`
	Folders   []ScannedFolder `json:"folders"`
	Truncated bool            `json:"truncated"`
}

// CandidateService 文件夹扫描与暂存候选管理
type CandidateService struct {
	store *repository.Store
	cfg   config.ScanConfig
	log   *zap.Logger
}

func NewCandidateService(store *repository.Store, cfg config.ScanConfig, log *zap.Logger) *CandidateService {
	if log == nil {
		log = zap.NewNop()
	}
	return &CandidateService{store: store, cfg: cfg, log: log.Named("candidate")}
}

// ==================== 扫描 ====================

// Scan 遍历根目录，图片数达到 min_images 的目录写入 / 刷新为暂存候选
// 已存在的候选（按路径）只刷新图片列表，保留人工编辑
func (s *CandidateService) Scan(ctx context.Context, opts ScanOptions) (*ScanResult, error) {
	opts = s.withDefaults(opts)
	if opts.Root == "" {
		return nil, errors.New("scan root is required")
	}
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("解析扫描目录失败: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("扫描目录不可用: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("扫描目录不是文件夹: %s", root)
	}

	exts := make(map[string]struct{}, len(opts.Extensions))
	for _, ext := range opts.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts[ext] = struct{}{}
	}

	res := &ScanResult{Root: root, Folders: []ScannedFolder{}}
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// 无权限的子目录跳过
			s.log.Warn("跳过目录", zap.String("path", path), zap.Error(err))
			if d != nil && d.IsDir() && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(res.Folders) >= opts.MaxFolders {
			res.Truncated = true
			return filepath.SkipAll
		}
		res.Visited++

		images, description, err := readFolder(path, exts)
		if err != nil {
			s.log.Warn("读取目录失败", zap.String("path", path), zap.Error(err))
			return nil
		}
		if len(images) < opts.MinImages || len(images) == 0 {
			return nil
		}

		candidate := &model.StagedCandidate{
			SiteID:       opts.SiteID,
			CategoryID:   opts.CategoryID,
			CategoryName: opts.CategoryName,
			SourcePath:   path,
			Name:         folderName(path, root),
			Status:       model.ProductStatusDraft,
			Description:  description,
			Images:       images,
			ImageCount:   len(images),
			State:        model.CandidateStatePending,
		}
		if err := s.store.Candidates.UpsertByPath(ctx, candidate); err != nil {
			return fmt.Errorf("保存候选失败 %s: %w", path, err)
		}
		res.Folders = append(res.Folders, ScannedFolder{Path: path, Name: candidate.Name, ImageCount: len(images)})
		return nil
	})
	if walkErr != nil {
		return res, walkErr
	}

	s.log.Info("扫描完成",
		zap.String("root", root),
		zap.Int("visited", res.Visited),
		zap.Int("staged", len(res.Folders)),
		zap.Bool("truncated", res.Truncated),
	)
	return res, nil
}

func (s *CandidateService) withDefaults(opts ScanOptions) ScanOptions {
	if opts.Root == "" {
		opts.Root = s.cfg.Root
	}
	if opts.MinImages <= 0 {
		opts.MinImages = s.cfg.MinImages
	}
	if opts.MinImages <= 0 {
		opts.MinImages = 1
	}
	if opts.MaxFolders <= 0 {
		opts.MaxFolders = s.cfg.MaxFolders
	}
	if opts.MaxFolders <= 0 {
		opts.MaxFolders = 5000
	}
	if len(opts.Extensions) == 0 {
		opts.Extensions = s.cfg.Extensions
	}
	if len(opts.Extensions) == 0 {
		opts.Extensions = []string{".jpg", ".jpeg", ".png", ".webp", ".gif"}
	}
	return opts
}

// readFolder 只看当前目录的直接文件，图片按文件名排序
func readFolder(dir string, exts map[string]struct{}) ([]string, string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, "", err
	}
	var images []string
	var description string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.EqualFold(name, descriptionFile) {
			if b, err := os.ReadFile(filepath.Join(dir, name)); err == nil {
				description = strings.TrimSpace(string(b))
			}
			continue
		}
		if _, ok := exts[strings.ToLower(filepath.Ext(name))]; ok {
			images = append(images, filepath.Join(dir, name))
		}
	}
	sort.Strings(images)
	return images, description, nil
}

func folderName(path, root string) string {
	name := filepath.Base(path)
	if name == "." || name == string(filepath.Separator) {
		name = filepath.Base(root)
	}
	return strings.TrimSpace(name)
}

// ==================== 候选管理 ====================

func (s *CandidateService) List(ctx context.Context, filter repository.CandidateFilter) ([]model.StagedCandidate, int64, error) {
	return s.store.Candidates.List(ctx, filter)
}

func (s *CandidateService) Get(ctx context.Context, id int64) (*model.StagedCandidate, error) {
	return s.store.Candidates.GetByID(ctx, id)
}

func (s *CandidateService) Delete(ctx context.Context, id int64) error {
	return s.store.Candidates.Delete(ctx, id)
}
