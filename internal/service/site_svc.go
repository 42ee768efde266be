package service

import (
	"context"
	"errors"
	"fmt"
	neturl "net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"woo_sync_v1_202610/internal/model"
	"woo_sync_v1_202610/internal/repository"
	"woo_sync_v1_202610/pkg/net"
	"woo_sync_v1_202610/pkg/woo"
)

var (
	ErrSiteExists  = errors.New("site already registered")
	ErrInvalidSite = errors.New("invalid site")
)

// SiteInput 创建/更新站点的参数，更新时空字段保持原值
type SiteInput struct {
	Name           string  `json:"name"`
	URL            string  `json:"url"`
	ConsumerKey    string  `json:"consumer_key"`
	ConsumerSecret string  `json:"consumer_secret"`
	WPUsername     string  `json:"wp_username"`
	WPAppPassword  string  `json:"wp_app_password"`
	IsActive       *bool   `json:"is_active"`
	Notes          *string `json:"notes"`
}

// ConnectionResult 连接测试结果，远端错误不作为 error 返回
type ConnectionResult struct {
	OK       bool              `json:"ok"`
	Kind     woo.ErrorKind     `json:"kind,omitempty"`
	Error    string            `json:"error,omitempty"`
	Latency  time.Duration     `json:"latency"`
	Status   *woo.SystemStatus `json:"status,omitempty"`
	CanMedia bool              `json:"can_upload_media"`
}

type SiteService struct {
	store      *repository.Store
	client     *woo.Client
	dispatcher *net.Dispatcher
	log        *zap.Logger
}

func NewSiteService(store *repository.Store, client *woo.Client, dispatcher *net.Dispatcher, log *zap.Logger) *SiteService {
	if log == nil {
		log = zap.NewNop()
	}
	return &SiteService{store: store, client: client, dispatcher: dispatcher, log: log.Named("site")}
}

// ==================== CRUD ====================

func (s *SiteService) Create(ctx context.Context, in SiteInput) (*model.Site, error) {
	site := &model.Site{IsActive: true}
	applySiteInput(site, in)
	if err := validateSite(site); err != nil {
		return nil, err
	}
	if err := s.ensureUnique(ctx, site); err != nil {
		return nil, err
	}
	if err := s.store.Sites.Create(ctx, site); err != nil {
		return nil, fmt.Errorf("创建站点失败: %w", err)
	}
	s.log.Info("站点已创建", zap.Int64("site_id", site.ID), zap.String("url", site.URL))
	return site, nil
}

func (s *SiteService) Get(ctx context.Context, id int64) (*model.Site, error) {
	return s.store.Sites.GetByID(ctx, id)
}

func (s *SiteService) List(ctx context.Context, filter repository.SiteFilter) ([]model.Site, int64, error) {
	return s.store.Sites.List(ctx, filter)
}

// Update 修改连接信息后丢弃缓存的 HTTP 客户端
func (s *SiteService) Update(ctx context.Context, id int64, in SiteInput) (*model.Site, error) {
	site, err := s.store.Sites.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	applySiteInput(site, in)
	if err := validateSite(site); err != nil {
		return nil, err
	}
	if err := s.ensureUnique(ctx, site); err != nil {
		return nil, err
	}
	if err := s.store.Sites.Update(ctx, site); err != nil {
		return nil, fmt.Errorf("更新站点失败: %w", err)
	}
	s.invalidate(site.ID)
	return site, nil
}

// Delete cascade=false 且站点下仍有商品时返回 repository.ErrSiteInUse
func (s *SiteService) Delete(ctx context.Context, id int64, cascade bool) error {
	if err := s.store.Sites.Delete(ctx, id, cascade); err != nil {
		return err
	}
	s.invalidate(id)
	s.log.Info("站点已删除", zap.Int64("site_id", id), zap.Bool("cascade", cascade))
	return nil
}

// TestConnection 读取 system_status，错误分类写入结果
func (s *SiteService) TestConnection(ctx context.Context, id int64) (*ConnectionResult, error) {
	site, err := s.store.Sites.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	status, err := s.client.TestConnection(ctx, site.Endpoint())
	res := &ConnectionResult{Latency: time.Since(start), CanMedia: site.HasMediaCredentials()}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		res.Kind = woo.KindOf(err)
		res.Error = err.Error()
		s.log.Warn("连接测试失败", zap.Int64("site_id", id), zap.String("kind", string(res.Kind)), zap.Error(err))
		return res, nil
	}
	res.OK = true
	res.Status = status
	return res, nil
}

// ==================== 内部方法 ====================

func (s *SiteService) ensureUnique(ctx context.Context, site *model.Site) error {
	existing, err := s.store.Sites.GetByURL(ctx, site.URL, site.ConsumerKey)
	switch {
	case repository.IsNotFound(err):
		return nil
	case err != nil:
		return err
	case existing.ID != site.ID:
		return fmt.Errorf("%w: %s (site #%d)", ErrSiteExists, site.URL, existing.ID)
	}
	return nil
}

func (s *SiteService) invalidate(id int64) {
	if s.dispatcher != nil {
		s.dispatcher.Invalidate(id)
	}
}

func applySiteInput(site *model.Site, in SiteInput) {
	if v := strings.TrimSpace(in.Name); v != "" {
		site.Name = v
	}
	if v := model.NormalizeSiteURL(in.URL); v != "" {
		site.URL = v
	}
	if v := strings.TrimSpace(in.ConsumerKey); v != "" {
		site.ConsumerKey = v
	}
	if v := strings.TrimSpace(in.ConsumerSecret); v != "" {
		site.ConsumerSecret = v
	}
	if v := strings.TrimSpace(in.WPUsername); v != "" {
		site.WPUsername = v
	}
	if in.WPAppPassword != "" {
		site.WPAppPassword = in.WPAppPassword
	}
	if in.IsActive != nil {
		site.IsActive = *in.IsActive
	}
	if in.Notes != nil {
		site.Notes = *in.Notes
	}
}

func validateSite(site *model.Site) error {
	if site.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidSite)
	}
	u, err := neturl.Parse(site.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: url must be http(s): %q", ErrInvalidSite, site.URL)
	}
	if site.ConsumerKey == "" || site.ConsumerSecret == "" {
		return fmt.Errorf("%w: consumer key and secret are required", ErrInvalidSite)
	}
	return nil
}
