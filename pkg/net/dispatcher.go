package net

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Endpoint 一个站点的连接信息
type Endpoint struct {
	SiteID         int64
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	WPUsername     string
	WPAppPassword  string
}

// Secure HTTPS 站点使用 Basic 认证，HTTP 站点使用 OAuth1 签名
func (e Endpoint) Secure() bool {
	return strings.HasPrefix(strings.ToLower(e.BaseURL), "https://")
}

// APIBase WooCommerce REST v3 根路径
func (e Endpoint) APIBase() string {
	return strings.TrimRight(e.BaseURL, "/") + "/wp-json/wc/v3"
}

// MediaURL WordPress 媒体上传地址
func (e Endpoint) MediaURL() string {
	return strings.TrimRight(e.BaseURL, "/") + "/wp-json/wp/v2/media"
}

func (e Endpoint) fingerprint() string {
	return strings.Join([]string{e.BaseURL, e.ConsumerKey, e.ConsumerSecret}, "|")
}

// Options 传输层参数
type Options struct {
	Timeout      time.Duration // 单次请求超时
	MaxRetries   int           // 瞬时错误最大重试次数
	RetryWait    time.Duration // 退避起始间隔
	RetryMaxWait time.Duration // 退避上限，同时限制 Retry-After
	MinInterval  time.Duration // 同一站点两次请求的最小间隔，0 表示不限制
	UserAgent    string
}

// DefaultOptions 默认参数
func DefaultOptions() Options {
	return Options{
		Timeout:      30 * time.Second,
		MaxRetries:   3,
		RetryWait:    500 * time.Millisecond,
		RetryMaxWait: 10 * time.Second,
		MinInterval:  250 * time.Millisecond,
		UserAgent:    "woo-sync/1.0",
	}
}

// ==================== Dispatcher ====================

// Dispatcher 按站点缓存 resty 客户端
// 每个站点独享限速器与认证配置，凭据变化后自动重建
type Dispatcher struct {
	opts    Options
	log     *zap.Logger
	clients sync.Map // siteID -> *siteClient
	now     func() time.Time
}

type siteClient struct {
	fingerprint string
	client      *resty.Client
}

// NewDispatcher 创建调度器
func NewDispatcher(opts Options, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		opts: opts,
		log:  log.Named("dispatcher"),
		now:  time.Now,
	}
}

// R 为指定站点创建请求
func (d *Dispatcher) R(ctx context.Context, ep Endpoint) *resty.Request {
	return d.Client(ep).R().SetContext(ctx)
}

// Client 获取/复用站点客户端
func (d *Dispatcher) Client(ep Endpoint) *resty.Client {
	fp := ep.fingerprint()
	if val, ok := d.clients.Load(ep.SiteID); ok {
		sc := val.(*siteClient)
		if sc.fingerprint == fp {
			return sc.client
		}
		d.log.Info("站点凭据已变更，重建客户端", zap.Int64("site_id", ep.SiteID))
	}

	sc := &siteClient{fingerprint: fp, client: d.newClient(ep)}
	d.clients.Store(ep.SiteID, sc)
	return sc.client
}

// Invalidate 丢弃站点客户端（站点删除或更新后调用）
func (d *Dispatcher) Invalidate(siteID int64) {
	d.clients.Delete(siteID)
}

func (d *Dispatcher) newClient(ep Endpoint) *resty.Client {
	limit := rate.Inf
	if d.opts.MinInterval > 0 {
		limit = rate.Every(d.opts.MinInterval)
	}
	limiter := rate.NewLimiter(limit, 1)

	c := resty.New().
		SetBaseURL(ep.APIBase()).
		SetTimeout(d.opts.Timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", d.opts.UserAgent).
		SetRetryCount(d.opts.MaxRetries).
		SetRetryWaitTime(d.opts.RetryWait).
		SetRetryMaxWaitTime(d.opts.RetryMaxWait).
		SetRetryAfter(retryAfter(d.now)).
		AddRetryCondition(shouldRetry).
		AddRetryHook(func(resp *resty.Response, err error) {
			fields := []zap.Field{zap.Int64("site_id", ep.SiteID)}
			if resp != nil {
				fields = append(fields, zap.Int("status", resp.StatusCode()), zap.Int("attempt", resp.Request.Attempt))
			}
			if err != nil {
				fields = append(fields, zap.Error(err))
			}
			d.log.Warn("请求失败，准备重试", fields...)
		})

	// 每次尝试（含重试）前等待限速器
	c.OnBeforeRequest(func(_ *resty.Client, r *resty.Request) error {
		return limiter.Wait(r.Context())
	})

	if ep.Secure() {
		c.SetBasicAuth(ep.ConsumerKey, ep.ConsumerSecret)
	} else {
		c.SetTransport(newWCSigner(ep.ConsumerKey, ep.ConsumerSecret, c.GetClient().Transport))
	}
	return c
}

// ==================== 重试策略 ====================

// shouldRetry 传输错误、429、5xx 重试
// POST 仅在 429 时重试，避免远端重复创建
func shouldRetry(resp *resty.Response, err error) bool {
	if resp == nil || resp.Request == nil {
		return false
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return false
		}
		return idempotent(resp.Request.Method)
	}
	code := resp.StatusCode()
	switch {
	case code == http.StatusTooManyRequests:
		return true
	case code >= 500:
		return idempotent(resp.Request.Method)
	}
	return false
}

func idempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPut, http.MethodDelete, http.MethodOptions:
		return true
	}
	return false
}

// retryAfter 返回 0 时 resty 使用默认的指数退避
func retryAfter(now func() time.Time) resty.RetryAfterFunc {
	return func(_ *resty.Client, resp *resty.Response) (time.Duration, error) {
		if resp == nil {
			return 0, nil
		}
		return ParseRetryAfter(resp.Header().Get("Retry-After"), now()), nil
	}
}

// ParseRetryAfter 解析 Retry-After（秒数或 HTTP 日期）
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
