package woo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/go-resty/resty/v2"
)

// ==================== 错误分类 ====================

// ErrorKind 远端错误类型
type ErrorKind string

const (
	KindAuth       ErrorKind = "auth"       // 凭据无效，整次运行致命，不重试
	KindNetwork    ErrorKind = "network"    // 瞬时错误，重试耗尽后抛出
	KindProtocol   ErrorKind = "protocol"   // 意外的响应，仅本次调用失败
	KindValidation ErrorKind = "validation" // 远端拒绝了请求体，单条失败
	KindNotFound   ErrorKind = "not_found"  // 远端资源不存在
)

// 用于 errors.Is 判断
var (
	ErrAuth       = errors.New("woo: authentication rejected")
	ErrNetwork    = errors.New("woo: network failure")
	ErrProtocol   = errors.New("woo: unexpected response")
	ErrValidation = errors.New("woo: payload rejected")
	ErrNotFound   = errors.New("woo: resource not found")
)

// APIError 规范化后的远端错误
type APIError struct {
	Kind       ErrorKind
	Op         string
	StatusCode int
	Code       string
	Message    string
	Fields     map[string]string // 字段级校验信息
	Body       string            // 原始响应片段，仅协议错误保留
	Err        error
}

func (e *APIError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(": ")
	b.WriteString(string(e.Kind))
	if e.StatusCode > 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.StatusCode)
	}
	if e.Code != "" {
		b.WriteString(" ")
		b.WriteString(e.Code)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+": "+e.Fields[k])
		}
		b.WriteString(" [")
		b.WriteString(strings.Join(parts, "; "))
		b.WriteString("]")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *APIError) Unwrap() error { return e.Err }

// Is 使 errors.Is(err, woo.ErrAuth) 等判断生效
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrAuth:
		return e.Kind == KindAuth
	case ErrNetwork:
		return e.Kind == KindNetwork
	case ErrProtocol:
		return e.Kind == KindProtocol
	case ErrValidation:
		return e.Kind == KindValidation
	case ErrNotFound:
		return e.Kind == KindNotFound
	}
	return false
}

// IsFatal 认证失败与重试耗尽的网络错误对整次运行致命
func IsFatal(err error) bool {
	return errors.Is(err, ErrAuth) || errors.Is(err, ErrNetwork)
}

// KindOf 提取错误类型，非远端错误返回空
func KindOf(err error) ErrorKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return ""
}

// ==================== 响应分类 ====================

const bodySnippetLimit = 512

// classify 将 resty 的结果转换为错误，2xx 返回 nil
func classify(op string, resp *resty.Response, err error) error {
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return &APIError{Kind: KindNetwork, Op: op, Err: err}
	}
	if resp == nil {
		return &APIError{Kind: KindNetwork, Op: op, Message: "empty response"}
	}

	code := resp.StatusCode()
	if code >= 200 && code < 300 {
		return nil
	}

	apiErr := &APIError{Op: op, StatusCode: code}
	var body errorResp
	if json.Unmarshal(resp.Body(), &body) == nil {
		apiErr.Code = body.Code
		apiErr.Message = body.Message
	}

	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		apiErr.Kind = KindAuth
	case code == http.StatusNotFound:
		apiErr.Kind = KindNotFound
	case code == http.StatusBadRequest && strings.HasSuffix(apiErr.Code, "_invalid_id"):
		// woocommerce_rest_product_invalid_id 等价于 404
		apiErr.Kind = KindNotFound
	case code == http.StatusBadRequest || code == http.StatusUnprocessableEntity || code == http.StatusConflict:
		apiErr.Kind = KindValidation
		apiErr.Fields = fieldErrors(&body)
	case code == http.StatusTooManyRequests || code >= 500:
		apiErr.Kind = KindNetwork
	default:
		apiErr.Kind = KindProtocol
		apiErr.Body = snippet(resp.Body())
	}
	return apiErr
}

// protocolError 2xx 但响应体无法解析
func protocolError(op string, resp *resty.Response, cause error) error {
	e := &APIError{Kind: KindProtocol, Op: op, Err: cause}
	if resp != nil {
		e.StatusCode = resp.StatusCode()
		e.Body = snippet(resp.Body())
	}
	return e
}

func fieldErrors(body *errorResp) map[string]string {
	fields := make(map[string]string)
	for k, v := range body.Data.Params {
		fields[k] = v
	}
	for k, d := range body.Data.Details {
		if d.Message != "" {
			fields[k] = d.Message
		}
	}
	if len(fields) == 0 {
		return nil
	}
	return fields
}

func snippet(b []byte) string {
	if len(b) > bodySnippetLimit {
		return string(b[:bodySnippetLimit]) + "..."
	}
	return string(b)
}
