package service

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/xrash/smetrics"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"woo_sync_v1_202610/internal/model"
	"woo_sync_v1_202610/internal/repository"
)

// MatchMethod 分类解析命中的步骤
type MatchMethod string

const (
	MatchLocalID MatchMethod = "local_id"
	MatchExact   MatchMethod = "exact"
	MatchFuzzy   MatchMethod = "fuzzy"
	MatchNone    MatchMethod = "none"
)

// DefaultFuzzyThreshold Jaro-Winkler 相似度下限
const DefaultFuzzyThreshold = 0.88

// Resolution 分类解析结果，未解析时 Warning 说明原因
type Resolution struct {
	RemoteID   int64       `json:"remote_id"`
	CategoryID int64       `json:"category_id"`
	Name       string      `json:"name"`
	Method     MatchMethod `json:"method"`
	Score      float64     `json:"score,omitempty"`
	Warning    string      `json:"warning,omitempty"`
}

// Resolved 是否得到远端分类
func (r Resolution) Resolved() bool {
	return r.RemoteID > 0
}

// ReconcilerService 把本地分类线索映射为远端分类 ID
type ReconcilerService struct {
	categories repository.CategoryRepository
	threshold  float64
	log        *zap.Logger
}

// NewReconcilerService threshold <= 0 时使用默认值
func NewReconcilerService(categories repository.CategoryRepository, threshold float64, log *zap.Logger) *ReconcilerService {
	if threshold <= 0 {
		threshold = DefaultFuzzyThreshold
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ReconcilerService{categories: categories, threshold: threshold, log: log.Named("reconciler")}
}

// Resolve 读取站点分类后解析，找不到不是错误
func (s *ReconcilerService) Resolve(ctx context.Context, siteID int64, hint model.CategoryHint) (Resolution, error) {
	cats, err := s.categories.ListBySite(ctx, siteID)
	if err != nil {
		return Resolution{}, fmt.Errorf("读取站点分类失败: %w", err)
	}

	// 其他站点的本地分类 ID：退化为按名称匹配
	if hint.CategoryID > 0 && hint.Name == "" && !containsLocalID(cats, hint.CategoryID) {
		if other, err := s.categories.GetByID(ctx, hint.CategoryID); err == nil {
			hint.Name = other.Name
		} else if !repository.IsNotFound(err) {
			return Resolution{}, err
		}
	}

	res := s.ResolveAmong(cats, hint)
	if !res.Resolved() {
		s.log.Debug("分类未解析", zap.Int64("site_id", siteID), zap.String("name", hint.Name), zap.String("warning", res.Warning))
	}
	return res, nil
}

// ResolveAmong 在给定分类集合中解析，cats 需按远端 ID 升序
func (s *ReconcilerService) ResolveAmong(cats []model.Category, hint model.CategoryHint) Resolution {
	if hint.Empty() {
		return Resolution{Method: MatchNone, Warning: "no category hint"}
	}

	// 1. 本地分类 ID
	if hint.CategoryID > 0 {
		for _, c := range cats {
			if c.ID == hint.CategoryID {
				return resolved(c, MatchLocalID, 1)
			}
		}
	}

	name := strings.TrimSpace(hint.Name)
	if name == "" {
		return Resolution{Method: MatchNone, Warning: fmt.Sprintf("category #%d not found on site", hint.CategoryID)}
	}

	// 2. 忽略大小写的精确匹配
	var exact []model.Category
	for _, c := range cats {
		if strings.EqualFold(strings.TrimSpace(c.Name), name) {
			exact = append(exact, c)
		}
	}
	if len(exact) == 1 {
		return resolved(exact[0], MatchExact, 1)
	}

	// 3. 规范化后的子串 / 相似度匹配
	target := normalizeName(name)
	var (
		best      model.Category
		bestScore float64
		passing   int
	)
	for _, c := range cats {
		score := similarity(normalizeName(c.Name), target)
		if score >= s.threshold {
			passing++
			if score > bestScore {
				best, bestScore = c, score
			}
		}
	}
	if passing == 1 {
		return resolved(best, MatchFuzzy, bestScore)
	}

	warning := fmt.Sprintf("category %q not found on site", name)
	switch {
	case len(exact) > 1:
		warning = fmt.Sprintf("category %q is ambiguous (%d exact matches)", name, len(exact))
	case passing > 1:
		warning = fmt.Sprintf("category %q is ambiguous (%d similar categories)", name, passing)
	}
	return Resolution{Method: MatchNone, Name: name, Warning: warning}
}

// ResolveRefs 为只有名称的分类引用补全远端 ID，无法解析的保留并返回警告
func (s *ReconcilerService) ResolveRefs(ctx context.Context, siteID int64, refs []model.CategoryRef) ([]model.CategoryRef, []string, error) {
	var pending bool
	for _, ref := range refs {
		if ref.ID == 0 {
			pending = true
			break
		}
	}
	if !pending {
		return refs, nil, nil
	}

	cats, err := s.categories.ListBySite(ctx, siteID)
	if err != nil {
		return nil, nil, fmt.Errorf("读取站点分类失败: %w", err)
	}

	out := make([]model.CategoryRef, 0, len(refs))
	var warnings []string
	for _, ref := range refs {
		if ref.ID > 0 {
			out = append(out, ref)
			continue
		}
		res := s.ResolveAmong(cats, model.CategoryHint{Name: ref.Name})
		if !res.Resolved() {
			warnings = append(warnings, res.Warning)
			out = append(out, ref)
			continue
		}
		out = append(out, model.CategoryRef{ID: res.RemoteID, Name: res.Name})
	}
	return out, warnings, nil
}

func resolved(c model.Category, method MatchMethod, score float64) Resolution {
	return Resolution{RemoteID: c.RemoteID, CategoryID: c.ID, Name: c.Name, Method: method, Score: score}
}

func containsLocalID(cats []model.Category, id int64) bool {
	for _, c := range cats {
		if c.ID == id {
			return true
		}
	}
	return false
}

// ==================== 名称规范化 ====================

// normalizeName 去重音、大小写折叠、合并空白
func normalizeName(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}
	return strings.Join(strings.Fields(cases.Fold().String(stripped)), " ")
}

// similarity 子串视为完全匹配，否则取 Jaro-Winkler
func similarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b || strings.Contains(a, b) || strings.Contains(b, a) {
		return 1
	}
	return smetrics.JaroWinkler(a, b, 0.7, 4)
}
