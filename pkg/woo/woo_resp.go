package woo

// ==========================================
// 原始响应：仅在本包内解码，随即转换为规范化记录
// ==========================================

// productResp GET/POST/PUT /products 响应
type productResp struct {
	ID               int64      `json:"id"`
	Name             string     `json:"name"`
	Slug             string     `json:"slug"`
	Status           string     `json:"status"`
	SKU              string     `json:"sku"`
	RegularPrice     string     `json:"regular_price"`
	SalePrice        string     `json:"sale_price"`
	StockQuantity    *int       `json:"stock_quantity"`
	StockStatus      string     `json:"stock_status"`
	ManageStock      bool       `json:"manage_stock"`
	Description      string     `json:"description"`
	ShortDescription string     `json:"short_description"`
	Categories       []termResp `json:"categories"`
	Tags             []termResp `json:"tags"`
	Images           []struct {
		ID  int64  `json:"id"`
		Src string `json:"src"`
	} `json:"images"`
	DateModifiedGMT string `json:"date_modified_gmt"`
}

// termResp 商品上的分类/标签，也是 GET /products/tags 的元素
type termResp struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// categoryResp GET /products/categories 响应
type categoryResp struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Parent      int64  `json:"parent"`
	Description string `json:"description"`
	Count       int    `json:"count"`
}

// systemStatusResp GET /system_status 响应（只取需要的部分）
type systemStatusResp struct {
	Environment struct {
		HomeURL   string `json:"home_url"`
		SiteURL   string `json:"site_url"`
		Version   string `json:"version"`
		WPVersion string `json:"wp_version"`
		Language  string `json:"language"`
	} `json:"environment"`
	Settings struct {
		Currency string `json:"currency"`
	} `json:"settings"`
}

// mediaResp POST /wp/v2/media 响应
type mediaResp struct {
	ID        int64  `json:"id"`
	SourceURL string `json:"source_url"`
}

// errorResp WooCommerce / WordPress 通用错误体
// {"code":"rest_invalid_param","message":"...","data":{"status":400,"params":{...},"details":{...}}}
type errorResp struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Status  int                        `json:"status"`
		Params  map[string]string          `json:"params"`
		Details map[string]errorDetailResp `json:"details"`
	} `json:"data"`
}

type errorDetailResp struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
