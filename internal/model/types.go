package model

import "strings"

// ==================== JSON 列元素 ====================

// CategoryRef 商品上的分类引用
// ID 为远端分类 ID，仅知道名称时为 0
type CategoryRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name,omitempty"`
}

// TagRef 商品标签，ID 为远端标签 ID，未解析时为 0
type TagRef struct {
	ID   int64  `json:"id,omitempty"`
	Name string `json:"name"`
}

// ImageRef 商品图片，ID 为远端媒体 ID，尚未上传时为 0
type ImageRef struct {
	ID  int64  `json:"id,omitempty"`
	Src string `json:"src"`
}

// RemoteCategoryIDs 返回已映射远端 ID 的分类
func RemoteCategoryIDs(refs []CategoryRef) []int64 {
	ids := make([]int64, 0, len(refs))
	for _, ref := range refs {
		if ref.ID > 0 {
			ids = append(ids, ref.ID)
		}
	}
	return ids
}

// TagsFromNames 去空去重（大小写不敏感），保留首次出现的写法
func TagsFromNames(names []string) []TagRef {
	out := make([]TagRef, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		key := strings.ToLower(n)
		if n == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, TagRef{Name: n})
	}
	return out
}
