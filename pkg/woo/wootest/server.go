// Package wootest 提供内存版 WooCommerce REST 服务，供各层测试使用
package wootest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"woo_sync_v1_202610/pkg/net"
)

// Product 服务端保存的商品（与 WooCommerce 字段一致）
type Product struct {
	ID               int64   `json:"id"`
	Name             string  `json:"name"`
	Slug             string  `json:"slug"`
	Type             string  `json:"type"`
	Status           string  `json:"status"`
	SKU              string  `json:"sku"`
	RegularPrice     string  `json:"regular_price"`
	SalePrice        string  `json:"sale_price"`
	ManageStock      bool    `json:"manage_stock"`
	StockQuantity    *int    `json:"stock_quantity"`
	StockStatus      string  `json:"stock_status"`
	Description      string  `json:"description"`
	ShortDescription string  `json:"short_description"`
	Categories       []Term  `json:"categories"`
	Tags             []Term  `json:"tags"`
	Images           []Image `json:"images"`
	DateModifiedGMT  string  `json:"date_modified_gmt"`
}

// Term 分类/标签
type Term struct {
	ID   int64  `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
	Slug string `json:"slug,omitempty"`
}

// Image 商品图片
type Image struct {
	ID  int64  `json:"id,omitempty"`
	Src string `json:"src,omitempty"`
}

// Category 商品分类
type Category struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Parent      int64  `json:"parent"`
	Description string `json:"description"`
	Count       int    `json:"count"`
}

// Server 内存 WooCommerce
type Server struct {
	*httptest.Server

	// ConsumerKey 非空时校验请求的 consumer key
	ConsumerKey string
	// WPUser 非空时校验媒体上传的 WordPress 用户
	WPUser string
	// Now 远端时钟
	Now func() time.Time

	mu           sync.Mutex
	products     map[int64]*Product
	categories   []Category
	tags         []Term
	media        map[int64]string
	nextID       int64
	nextMediaID  int64
	nextTagID    int64
	sideloads    int
	rejectSKUs   map[string]string
	failStatus   int
	requests     []string
	pageOverride map[int]int
}

// NewServer 启动服务，测试结束自动关闭
func NewServer(t testing.TB) *Server {
	s := &Server{
		Now:          func() time.Time { return time.Now().UTC() },
		products:     make(map[int64]*Product),
		media:        make(map[int64]string),
		nextID:       1000,
		nextMediaID:  5000,
		nextTagID:    300,
		rejectSKUs:   make(map[string]string),
		pageOverride: make(map[int]int),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// Endpoint 指向本服务的连接信息，凭据与 ConsumerKey/WPUser 一致
func (s *Server) Endpoint(siteID int64) net.Endpoint {
	key := s.ConsumerKey
	if key == "" {
		key = "ck_test"
	}
	user := s.WPUser
	if user == "" {
		user = "editor"
	}
	return net.Endpoint{
		SiteID:         siteID,
		BaseURL:        s.URL,
		ConsumerKey:    key,
		ConsumerSecret: "cs_test",
		WPUsername:     user,
		WPAppPassword:  "app pass",
	}
}

// ==================== 预置数据 ====================

// AddProduct 预置商品，ID 为 0 时自动分配
// 只有名称的标签登记到标签库，没有 ID 的图片登记到媒体库
func (s *Server) AddProduct(p Product) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == 0 {
		s.nextID++
		p.ID = s.nextID
	}
	p.Tags = append([]Term(nil), p.Tags...)
	for i := range p.Tags {
		if p.Tags[i].ID == 0 {
			p.Tags[i] = s.ensureTag(p.Tags[i].Name)
		} else if !s.hasTag(p.Tags[i].ID) {
			s.tags = append(s.tags, p.Tags[i])
		}
	}
	p.Images = append([]Image(nil), p.Images...)
	for i := range p.Images {
		if p.Images[i].ID == 0 {
			s.nextMediaID++
			p.Images[i].ID = s.nextMediaID
		}
		s.media[p.Images[i].ID] = p.Images[i].Src
	}
	if p.Status == "" {
		p.Status = "publish"
	}
	if p.DateModifiedGMT == "" {
		p.DateModifiedGMT = s.Now().Format("2006-01-02T15:04:05")
	}
	cp := p
	s.products[p.ID] = &cp
	return p.ID
}

// AddProducts 预置 n 个商品
func (s *Server) AddProducts(n int, prefix string) {
	for i := 1; i <= n; i++ {
		s.AddProduct(Product{Name: fmt.Sprintf("%s %d", prefix, i), SKU: fmt.Sprintf("%s-%03d", prefix, i), RegularPrice: "10.00"})
	}
}

// AddCategory 预置分类
func (s *Server) AddCategory(c Category) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.categories = append(s.categories, c)
}

// AddTag 预置标签，返回 ID
func (s *Server) AddTag(name string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureTag(name).ID
}

// Tags 标签库副本
func (s *Server) Tags() []Term {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Term(nil), s.tags...)
}

// Sideloads 按 src 下载生成新媒体的次数
func (s *Server) Sideloads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sideloads
}

func (s *Server) hasTag(id int64) bool {
	for _, t := range s.tags {
		if t.ID == id {
			return true
		}
	}
	return false
}

func (s *Server) ensureTag(name string) Term {
	for _, t := range s.tags {
		if strings.EqualFold(t.Name, name) {
			return t
		}
	}
	s.nextTagID++
	t := Term{ID: s.nextTagID, Name: name, Slug: strings.ToLower(strings.ReplaceAll(name, " ", "-"))}
	s.tags = append(s.tags, t)
	return t
}

// RemoveProduct 模拟远端删除
func (s *Server) RemoveProduct(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.products, id)
}

// Product 读取远端商品副本
func (s *Server) Product(id int64) (Product, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return Product{}, false
	}
	return *p, true
}

// ProductCount 远端商品数
func (s *Server) ProductCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.products)
}

// ==================== 故障注入 ====================

// RejectSKU 创建/更新该 SKU 时返回 400 校验错误
func (s *Server) RejectSKU(sku, field string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectSKUs[sku] = field
}

// FailAll 所有请求返回指定状态码，0 表示恢复
func (s *Server) FailAll(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failStatus = status
}

// ShortPage 强制某页的返回条数（模拟不一致的分页）
func (s *Server) ShortPage(page, size int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pageOverride[page] = size
}

// Requests 已收到的请求（"METHOD /path"）
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

// Count 统计指定方法与路径前缀的请求数
func (s *Server) Count(method, pathPrefix string) int {
	n := 0
	for _, r := range s.Requests() {
		if strings.HasPrefix(r, method+" "+pathPrefix) {
			n++
		}
	}
	return n
}

// ==================== 路由 ====================

const apiPrefix = "/wp-json/wc/v3"

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := r.URL.Path
	s.requests = append(s.requests, r.Method+" "+strings.TrimPrefix(path, apiPrefix))

	if s.failStatus != 0 {
		writeError(w, s.failStatus, "internal_error", "forced failure", nil)
		return
	}

	if strings.HasPrefix(path, "/wp-json/wp/v2/media") {
		s.handleMedia(w, r)
		return
	}
	if !strings.HasPrefix(path, apiPrefix) {
		writeError(w, http.StatusNotFound, "rest_no_route", "No route was found matching the URL and request method.", nil)
		return
	}
	if !s.authorized(r) {
		writeError(w, http.StatusUnauthorized, "woocommerce_rest_cannot_view", "Sorry, you cannot list resources.", nil)
		return
	}

	route := strings.TrimPrefix(path, apiPrefix)
	switch {
	case route == "/system_status" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"environment": map[string]string{
				"home_url":   s.URL,
				"site_url":   s.URL,
				"version":    "8.9.1",
				"wp_version": "6.5.2",
				"language":   "en_US",
			},
			"settings": map[string]string{"currency": "USD"},
		})
	case route == "/products/categories" && r.Method == http.MethodGet:
		s.listCategories(w, r)
	case route == "/products/tags" && r.Method == http.MethodGet:
		s.searchTags(w, r)
	case route == "/products/tags" && r.Method == http.MethodPost:
		s.createTag(w, r)
	case route == "/products" && r.Method == http.MethodGet:
		s.listProducts(w, r)
	case route == "/products" && r.Method == http.MethodPost:
		s.createProduct(w, r)
	case strings.HasPrefix(route, "/products/"):
		id, err := strconv.ParseInt(strings.TrimPrefix(route, "/products/"), 10, 64)
		if err != nil {
			writeError(w, http.StatusNotFound, "rest_no_route", "No route was found matching the URL and request method.", nil)
			return
		}
		switch r.Method {
		case http.MethodPut:
			s.updateProduct(w, r, id)
		case http.MethodDelete:
			s.deleteProduct(w, id)
		default:
			writeError(w, http.StatusMethodNotAllowed, "rest_no_route", "method not allowed", nil)
		}
	default:
		writeError(w, http.StatusNotFound, "rest_no_route", "No route was found matching the URL and request method.", nil)
	}
}

// authorized HTTPS 站点走 Basic，HTTP 站点走 OAuth 1.0a Authorization 头
func (s *Server) authorized(r *http.Request) bool {
	if s.ConsumerKey == "" {
		return true
	}
	if params := OAuthParams(r); params != nil {
		return params["oauth_consumer_key"] == s.ConsumerKey && params["oauth_signature"] != ""
	}
	user, _, ok := r.BasicAuth()
	return ok && user == s.ConsumerKey
}

// OAuthParams 解析 `Authorization: OAuth k="v", ...`，没有该头时返回 nil
func OAuthParams(r *http.Request) map[string]string {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "OAuth ") {
		return nil
	}
	params := make(map[string]string)
	for _, part := range strings.Split(strings.TrimPrefix(h, "OAuth "), ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		if unquoted, err := url.QueryUnescape(strings.Trim(v, `"`)); err == nil {
			params[k] = unquoted
		}
	}
	return params
}

// ==================== 商品 ====================

func (s *Server) sortedProducts() []*Product {
	list := make([]*Product, 0, len(s.products))
	for _, p := range s.products {
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}

func (s *Server) listProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	list := s.sortedProducts()

	if sku := q.Get("sku"); sku != "" {
		var matched []*Product
		for _, p := range list {
			if p.SKU == sku {
				matched = append(matched, p)
			}
		}
		writeJSON(w, http.StatusOK, nonNil(matched))
		return
	}

	page, perPage := paging(q.Get("page"), q.Get("per_page"))
	start := (page - 1) * perPage
	end := start + perPage
	if forced, ok := s.pageOverride[page]; ok {
		end = start + forced
	}
	writeJSON(w, http.StatusOK, nonNil(window(list, start, end)))
}

func (s *Server) createProduct(w http.ResponseWriter, r *http.Request) {
	var p Product
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "rest_invalid_json", "Invalid JSON body passed.", nil)
		return
	}
	if !s.validate(w, &p, 0) {
		return
	}
	s.nextID++
	p.ID = s.nextID
	if p.Status == "" {
		p.Status = "publish"
	}
	s.touch(&p)
	s.products[p.ID] = &p
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) updateProduct(w http.ResponseWriter, r *http.Request, id int64) {
	existing, ok := s.products[id]
	if !ok {
		writeError(w, http.StatusBadRequest, "woocommerce_rest_product_invalid_id", "Invalid ID.", nil)
		return
	}
	body, _ := io.ReadAll(r.Body)
	updated := *existing
	if err := json.Unmarshal(body, &updated); err != nil {
		writeError(w, http.StatusBadRequest, "rest_invalid_json", "Invalid JSON body passed.", nil)
		return
	}
	var stock struct {
		ManageStock *bool `json:"manage_stock"`
	}
	_ = json.Unmarshal(body, &stock)
	if stock.ManageStock != nil && !*stock.ManageStock {
		updated.ManageStock = false
		updated.StockQuantity = nil
	}
	updated.ID = id
	if !s.validate(w, &updated, id) {
		return
	}
	s.touch(&updated)
	s.products[id] = &updated
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) deleteProduct(w http.ResponseWriter, id int64) {
	p, ok := s.products[id]
	if !ok {
		writeError(w, http.StatusNotFound, "woocommerce_rest_product_invalid_id", "Invalid ID.", nil)
		return
	}
	delete(s.products, id)
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) validate(w http.ResponseWriter, p *Product, selfID int64) bool {
	if field, ok := s.rejectSKUs[p.SKU]; ok {
		writeError(w, http.StatusBadRequest, "rest_invalid_param", "Invalid parameter(s): "+field, map[string]string{
			field: field + " is not valid.",
		})
		return false
	}
	for _, price := range []string{p.RegularPrice, p.SalePrice} {
		if price == "" {
			continue
		}
		if _, err := strconv.ParseFloat(price, 64); err != nil {
			writeError(w, http.StatusBadRequest, "rest_invalid_param", "Invalid parameter(s): regular_price", map[string]string{
				"regular_price": "regular_price is not of type string.",
			})
			return false
		}
	}
	if p.SKU != "" {
		for _, other := range s.products {
			if other.ID != selfID && other.SKU == p.SKU {
				writeError(w, http.StatusBadRequest, "product_invalid_sku", "Invalid or duplicated SKU.", nil)
				return false
			}
		}
	}
	return true
}

// touch 更新修改时间并补齐名称/图片
// 与 WooCommerce 一致：没有 ID 的标签被忽略，只有 src 的图片下载为新媒体
func (s *Server) touch(p *Product) {
	p.DateModifiedGMT = s.Now().Format("2006-01-02T15:04:05")
	for i := range p.Categories {
		for _, c := range s.categories {
			if c.ID == p.Categories[i].ID {
				p.Categories[i].Name = c.Name
				p.Categories[i].Slug = c.Slug
			}
		}
	}
	tags := make([]Term, 0, len(p.Tags))
	for _, t := range p.Tags {
		for _, known := range s.tags {
			if t.ID > 0 && known.ID == t.ID {
				tags = append(tags, known)
			}
		}
	}
	p.Tags = tags
	for i := range p.Images {
		img := &p.Images[i]
		switch {
		case img.ID > 0 && img.Src == "":
			img.Src = s.media[img.ID]
			if img.Src == "" {
				img.Src = fmt.Sprintf("%s/uploads/media-%d", s.URL, img.ID)
			}
		case img.ID == 0 && img.Src != "":
			s.nextMediaID++
			s.sideloads++
			img.ID = s.nextMediaID
			s.media[img.ID] = img.Src
		}
	}
	if p.StockQuantity != nil {
		p.ManageStock = true
	}
}

// ==================== 分类 & 媒体 ====================

func (s *Server) listCategories(w http.ResponseWriter, r *http.Request) {
	cats := append([]Category(nil), s.categories...)
	sort.Slice(cats, func(i, j int) bool { return cats[i].ID < cats[j].ID })
	page, perPage := paging(r.URL.Query().Get("page"), r.URL.Query().Get("per_page"))
	writeJSON(w, http.StatusOK, nonNil(window(cats, (page-1)*perPage, page*perPage)))
}

func (s *Server) searchTags(w http.ResponseWriter, r *http.Request) {
	search := strings.ToLower(r.URL.Query().Get("search"))
	matched := make([]Term, 0)
	for _, t := range s.tags {
		if strings.Contains(strings.ToLower(t.Name), search) {
			matched = append(matched, t)
		}
	}
	writeJSON(w, http.StatusOK, matched)
}

func (s *Server) createTag(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.Name) == "" {
		writeError(w, http.StatusBadRequest, "rest_missing_callback_param", "Missing parameter(s): name", nil)
		return
	}
	for _, t := range s.tags {
		if strings.EqualFold(t.Name, body.Name) {
			writeError(w, http.StatusBadRequest, "term_exists", "A term with the name provided already exists with this parent.", nil)
			return
		}
	}
	writeJSON(w, http.StatusCreated, s.ensureTag(body.Name))
}

func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "rest_no_route", "method not allowed", nil)
		return
	}
	user, _, ok := r.BasicAuth()
	if s.WPUser != "" && (!ok || user != s.WPUser) {
		writeError(w, http.StatusUnauthorized, "rest_cannot_create", "Sorry, you are not allowed to upload media.", nil)
		return
	}
	filename := "upload"
	if _, params, err := parseDisposition(r.Header.Get("Content-Disposition")); err == nil {
		filename = params
	}
	s.nextMediaID++
	s.media[s.nextMediaID] = s.URL + "/uploads/" + filename
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":         s.nextMediaID,
		"source_url": s.media[s.nextMediaID],
	})
}

func parseDisposition(v string) (string, string, error) {
	idx := strings.Index(v, "filename=")
	if idx < 0 {
		return "", "", fmt.Errorf("no filename")
	}
	return "attachment", strings.Trim(v[idx+len("filename="):], `"`), nil
}

// ==================== 工具 ====================

func paging(pageStr, perPageStr string) (int, int) {
	page, _ := strconv.Atoi(pageStr)
	perPage, _ := strconv.Atoi(perPageStr)
	if page <= 0 {
		page = 1
	}
	if perPage <= 0 {
		perPage = 10
	}
	return page, perPage
}

func window[T any](list []T, start, end int) []T {
	if start >= len(list) || start < 0 {
		return nil
	}
	if end > len(list) {
		end = len(list)
	}
	if end < start {
		end = start
	}
	return list[start:end]
}

func nonNil[T any](list []T) []T {
	if list == nil {
		return []T{}
	}
	return list
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string, params map[string]string) {
	data := map[string]interface{}{"status": status}
	if params != nil {
		data["params"] = params
	}
	writeJSON(w, status, map[string]interface{}{
		"code":    code,
		"message": message,
		"data":    data,
	})
}
