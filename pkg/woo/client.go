package woo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"woo_sync_v1_202610/pkg/net"
)

// Client WooCommerce REST v3 客户端
// 无状态，站点信息随每次调用传入
type Client struct {
	dispatcher *net.Dispatcher
	log        *zap.Logger
	maxPages   int
}

// NewClient 创建客户端，maxPages <= 0 时使用默认值
func NewClient(dispatcher *net.Dispatcher, maxPages int, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}
	return &Client{
		dispatcher: dispatcher,
		log:        log.Named("woo"),
		maxPages:   maxPages,
	}
}

// DefaultMaxPages 分页安全上限
const DefaultMaxPages = 500

// DefaultPageSize WooCommerce 允许的最大 per_page
const DefaultPageSize = 100

// ==================== 连接测试 ====================

// TestConnection GET /system_status
func (c *Client) TestConnection(ctx context.Context, ep net.Endpoint) (*SystemStatus, error) {
	const op = "test connection"
	resp, err := c.dispatcher.R(ctx, ep).Get("/system_status")
	if err := classify(op, resp, err); err != nil {
		return nil, err
	}

	var raw systemStatusResp
	if err := json.Unmarshal(resp.Body(), &raw); err != nil {
		return nil, protocolError(op, resp, err)
	}
	return raw.normalize(), nil
}

// ==================== 商品 ====================

// ListProducts 读取一页商品，按 id 升序保证分页稳定
func (c *Client) ListProducts(ctx context.Context, ep net.Endpoint, page, pageSize int) ([]RemoteProduct, error) {
	const op = "list products"
	resp, err := c.dispatcher.R(ctx, ep).
		SetQueryParams(map[string]string{
			"page":     strconv.Itoa(page),
			"per_page": strconv.Itoa(pageSize),
			"orderby":  "id",
			"order":    "asc",
			"status":   "any",
		}).
		Get("/products")
	if err := classify(op, resp, err); err != nil {
		return nil, err
	}

	var raw []productResp
	if err := json.Unmarshal(resp.Body(), &raw); err != nil {
		return nil, protocolError(op, resp, err)
	}
	products := make([]RemoteProduct, 0, len(raw))
	for i := range raw {
		p, err := raw[i].normalize()
		if err != nil {
			return nil, protocolError(op, resp, err)
		}
		products = append(products, *p)
	}
	return products, nil
}

// ProductPager 商品分页迭代器
func (c *Client) ProductPager(ep net.Endpoint, pageSize int) *Pager[RemoteProduct] {
	return newPager(pageSize, c.maxPages, func(ctx context.Context, page, size int) ([]RemoteProduct, error) {
		return c.ListProducts(ctx, ep, page, size)
	})
}

// FindProductBySKU 按 SKU 查找，不存在时返回 nil
func (c *Client) FindProductBySKU(ctx context.Context, ep net.Endpoint, sku string) (*RemoteProduct, error) {
	const op = "find product by sku"
	resp, err := c.dispatcher.R(ctx, ep).
		SetQueryParams(map[string]string{"sku": sku, "status": "any"}).
		Get("/products")
	if err := classify(op, resp, err); err != nil {
		return nil, err
	}

	var raw []productResp
	if err := json.Unmarshal(resp.Body(), &raw); err != nil {
		return nil, protocolError(op, resp, err)
	}
	for i := range raw {
		if raw[i].SKU != sku {
			continue
		}
		p, err := raw[i].normalize()
		if err != nil {
			return nil, protocolError(op, resp, err)
		}
		return p, nil
	}
	return nil, nil
}

// CreateProduct POST /products
func (c *Client) CreateProduct(ctx context.Context, ep net.Endpoint, payload *ProductPayload) (*RemoteProduct, error) {
	const op = "create product"
	resp, err := c.dispatcher.R(ctx, ep).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post("/products")
	if err := classify(op, resp, err); err != nil {
		return nil, err
	}
	return decodeProduct(op, resp)
}

// UpdateProduct PUT /products/{id}，部分更新且幂等
func (c *Client) UpdateProduct(ctx context.Context, ep net.Endpoint, remoteID int64, patch *ProductPayload) (*RemoteProduct, error) {
	const op = "update product"
	resp, err := c.dispatcher.R(ctx, ep).
		SetHeader("Content-Type", "application/json").
		SetPathParam("id", strconv.FormatInt(remoteID, 10)).
		SetBody(patch).
		Put("/products/{id}")
	if err := classify(op, resp, err); err != nil {
		return nil, err
	}
	return decodeProduct(op, resp)
}

// DeleteProduct DELETE /products/{id}?force=true
// 远端已不存在视为成功
func (c *Client) DeleteProduct(ctx context.Context, ep net.Endpoint, remoteID int64) error {
	resp, err := c.dispatcher.R(ctx, ep).
		SetPathParam("id", strconv.FormatInt(remoteID, 10)).
		SetQueryParam("force", "true").
		Delete("/products/{id}")
	if err := classify("delete product", resp, err); err != nil {
		if KindOf(err) == KindNotFound {
			c.log.Debug("商品已不存在，视为删除成功", zap.Int64("site_id", ep.SiteID), zap.Int64("remote_id", remoteID))
			return nil
		}
		return err
	}
	return nil
}

func decodeProduct(op string, resp *resty.Response) (*RemoteProduct, error) {
	var raw productResp
	if err := json.Unmarshal(resp.Body(), &raw); err != nil {
		return nil, protocolError(op, resp, err)
	}
	p, err := raw.normalize()
	if err != nil {
		return nil, protocolError(op, resp, err)
	}
	return p, nil
}

// ==================== 分类 ====================

// ListCategories 读取一页分类
func (c *Client) ListCategories(ctx context.Context, ep net.Endpoint, page, pageSize int) ([]RemoteCategory, error) {
	const op = "list categories"
	resp, err := c.dispatcher.R(ctx, ep).
		SetQueryParams(map[string]string{
			"page":     strconv.Itoa(page),
			"per_page": strconv.Itoa(pageSize),
			"orderby":  "id",
			"order":    "asc",
		}).
		Get("/products/categories")
	if err := classify(op, resp, err); err != nil {
		return nil, err
	}

	var raw []categoryResp
	if err := json.Unmarshal(resp.Body(), &raw); err != nil {
		return nil, protocolError(op, resp, err)
	}
	categories := make([]RemoteCategory, 0, len(raw))
	for i := range raw {
		cat, err := raw[i].normalize()
		if err != nil {
			return nil, protocolError(op, resp, err)
		}
		categories = append(categories, *cat)
	}
	return categories, nil
}

// CategoryPager 分类分页迭代器
func (c *Client) CategoryPager(ep net.Endpoint, pageSize int) *Pager[RemoteCategory] {
	return newPager(pageSize, c.maxPages, func(ctx context.Context, page, size int) ([]RemoteCategory, error) {
		return c.ListCategories(ctx, ep, page, size)
	})
}

// ==================== 标签 ====================

// SearchTags GET /products/tags?search=，按名称模糊匹配
func (c *Client) SearchTags(ctx context.Context, ep net.Endpoint, search string) ([]RemoteTerm, error) {
	const op = "search tags"
	resp, err := c.dispatcher.R(ctx, ep).
		SetQueryParams(map[string]string{
			"search":   search,
			"per_page": strconv.Itoa(DefaultPageSize),
		}).
		Get("/products/tags")
	if err := classify(op, resp, err); err != nil {
		return nil, err
	}

	var raw []termResp
	if err := json.Unmarshal(resp.Body(), &raw); err != nil {
		return nil, protocolError(op, resp, err)
	}
	tags := make([]RemoteTerm, 0, len(raw))
	for i := range raw {
		t, err := raw[i].normalize()
		if err != nil {
			return nil, protocolError(op, resp, err)
		}
		tags = append(tags, *t)
	}
	return tags, nil
}

// CreateTag POST /products/tags
func (c *Client) CreateTag(ctx context.Context, ep net.Endpoint, name string) (*RemoteTerm, error) {
	const op = "create tag"
	resp, err := c.dispatcher.R(ctx, ep).
		SetHeader("Content-Type", "application/json").
		SetBody(&tagPayload{Name: name}).
		Post("/products/tags")
	if err := classify(op, resp, err); err != nil {
		return nil, err
	}

	var raw termResp
	if err := json.Unmarshal(resp.Body(), &raw); err != nil {
		return nil, protocolError(op, resp, err)
	}
	t, err := raw.normalize()
	if err != nil {
		return nil, protocolError(op, resp, err)
	}
	return t, nil
}

// EnsureTag 按名称（大小写不敏感）查找标签，不存在时创建
// 商品请求体只接受标签 ID
func (c *Client) EnsureTag(ctx context.Context, ep net.Endpoint, name string) (*RemoteTerm, error) {
	find := func() (*RemoteTerm, error) {
		tags, err := c.SearchTags(ctx, ep, name)
		if err != nil {
			return nil, err
		}
		for i := range tags {
			if strings.EqualFold(tags[i].Name, name) {
				return &tags[i], nil
			}
		}
		return nil, nil
	}

	if t, err := find(); err != nil || t != nil {
		return t, err
	}
	t, err := c.CreateTag(ctx, ep, name)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Code == "term_exists" {
		// 并发创建或搜索未命中（slug 相同名称不同）
		if found, ferr := find(); ferr == nil && found != nil {
			return found, nil
		}
	}
	return t, err
}

// ==================== 媒体 ====================

// UploadMedia POST /wp-json/wp/v2/media，使用 WordPress 应用密码
func (c *Client) UploadMedia(ctx context.Context, ep net.Endpoint, filename string, data []byte) (*Media, error) {
	const op = "upload media"
	if ep.WPUsername == "" || ep.WPAppPassword == "" {
		return nil, &APIError{Kind: KindAuth, Op: op, Message: "wordpress application password not configured"}
	}

	contentType := mime.TypeByExtension(filepath.Ext(filename))
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	resp, err := c.dispatcher.R(ctx, ep).
		SetBasicAuth(ep.WPUsername, ep.WPAppPassword).
		SetHeader("Content-Type", contentType).
		SetHeader("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(filename))).
		SetBody(data).
		Post(ep.MediaURL())
	if err := classify(op, resp, err); err != nil {
		return nil, err
	}

	var raw mediaResp
	if err := json.Unmarshal(resp.Body(), &raw); err != nil || raw.ID == 0 {
		return nil, protocolError(op, resp, err)
	}
	return &Media{ID: raw.ID, SourceURL: raw.SourceURL}, nil
}
