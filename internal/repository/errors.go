package repository

import "errors"

var (
	// ErrSiteInUse 站点下仍有商品，需要显式级联删除
	ErrSiteInUse = errors.New("site still has products")
	// ErrDuplicateSKU 同一站点下非空 SKU 必须唯一
	ErrDuplicateSKU = errors.New("duplicate sku on site")
)
