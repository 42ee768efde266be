package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"woo_sync_v1_202610/internal/model"
	"woo_sync_v1_202610/pkg/net"
	"woo_sync_v1_202610/pkg/woo"
)

// tagResolver 标签名称解析为远端 ID，单次运行内缓存
// WooCommerce 商品请求体只接受标签 ID
type tagResolver struct {
	client *woo.Client
	ep     net.Endpoint
	cache  map[string]int64
}

func newTagResolver(client *woo.Client, ep net.Endpoint) *tagResolver {
	return &tagResolver{client: client, ep: ep, cache: make(map[string]int64)}
}

// Resolve 没有 ID 的标签按名称查找或创建，单个标签失败只记警告并丢弃
// 返回的 error 为取消或整次运行致命的错误
func (r *tagResolver) Resolve(ctx context.Context, tags []model.TagRef) ([]model.TagRef, []string, error) {
	out := make([]model.TagRef, 0, len(tags))
	var warnings []string
	for _, t := range tags {
		if t.ID > 0 {
			out = append(out, t)
			continue
		}
		name := strings.TrimSpace(t.Name)
		if name == "" {
			continue
		}
		key := strings.ToLower(name)
		id, ok := r.cache[key]
		if !ok {
			remote, err := r.client.EnsureTag(ctx, r.ep, name)
			if err != nil {
				if errors.Is(err, context.Canceled) || woo.IsFatal(err) {
					return nil, warnings, err
				}
				warnings = append(warnings, fmt.Sprintf("tag %q dropped: %v", name, err))
				continue
			}
			id = remote.ID
			r.cache[key] = id
		}
		out = append(out, model.TagRef{ID: id, Name: name})
	}
	return out, warnings, nil
}
