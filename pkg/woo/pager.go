package woo

import (
	"context"
	"fmt"
)

// FetchPage 读取第 page 页（从 1 开始）
type FetchPage[T any] func(ctx context.Context, page, pageSize int) ([]T, error)

// Pager 惰性、有限、可重启的分页序列
// 某页返回条数少于 pageSize 即视为结束
type Pager[T any] struct {
	fetch    FetchPage[T]
	pageSize int
	maxPages int
	page     int
	done     bool
}

func newPager[T any](pageSize, maxPages int, fetch FetchPage[T]) *Pager[T] {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Pager[T]{fetch: fetch, pageSize: pageSize, maxPages: maxPages}
}

// Next 读取下一页，ok=false 表示序列已结束
// 单页失败时可以再次调用 Next 重试同一页
func (p *Pager[T]) Next(ctx context.Context) (items []T, ok bool, err error) {
	if p.done {
		return nil, false, nil
	}
	next := p.page + 1
	if p.maxPages > 0 && next > p.maxPages {
		p.done = true
		return nil, false, &APIError{
			Kind:    KindProtocol,
			Op:      "paginate",
			Message: fmt.Sprintf("pagination exceeded %d pages", p.maxPages),
		}
	}

	items, err = p.fetch(ctx, next, p.pageSize)
	if err != nil {
		return nil, false, err
	}
	p.page = next
	if len(items) < p.pageSize {
		p.done = true
	}
	return items, true, nil
}

// Page 最近一次成功读取的页码
func (p *Pager[T]) Page() int { return p.page }

// Reset 从第一页重新开始
func (p *Pager[T]) Reset() {
	p.page = 0
	p.done = false
}

// Collect 读完整个序列，每页之后调用 checkpoint，返回 false 时中止
func (p *Pager[T]) Collect(ctx context.Context, checkpoint func(page int) bool) ([]T, error) {
	var all []T
	for {
		items, ok, err := p.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return all, nil
		}
		all = append(all, items...)
		if checkpoint != nil && !checkpoint(p.page) {
			return all, ErrPagingStopped
		}
	}
}

// ErrPagingStopped checkpoint 中止了分页
var ErrPagingStopped = fmt.Errorf("woo: paging stopped")
