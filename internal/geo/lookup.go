package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"strings"

	"golang.org/x/time/rate"
)

var (
	// ErrLookupFailed 上游返回失败状态
	ErrLookupFailed = errors.New("geo lookup failed")
	// ErrNotFound 静态表中没有该地址
	ErrNotFound = errors.New("address not found")
)

// HTTPLookup ip-api 风格的 JSON 查询接口
//
// 响应格式: {"status":"success","countryCode":"DE"}
type HTTPLookup struct {
	endpoint string
	client   *http.Client
	limiter  *rate.Limiter
}

// NewHTTPLookup 创建 HTTP 查询器
//
// 参数:
//   - endpoint: 查询地址，%s 会被替换为 IP，如 "http://ip-api.com/json/%s?fields=status,countryCode"
//   - perSecond: 每秒最多请求数，<= 0 表示不限制
func NewHTTPLookup(endpoint string, perSecond float64, client *http.Client) *HTTPLookup {
	if client == nil {
		client = http.DefaultClient
	}
	limit := rate.Inf
	burst := 1
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
		burst = int(perSecond)
		if burst < 1 {
			burst = 1
		}
	}
	return &HTTPLookup{
		endpoint: endpoint,
		client:   client,
		limiter:  rate.NewLimiter(limit, burst),
	}
}

type lookupResponse struct {
	Status      string `json:"status"`
	CountryCode string `json:"countryCode"`
	Message     string `json:"message"`
}

// Country 查询国家代码，超出上游速率时等待，直到 ctx 超时
func (h *HTTPLookup) Country(ctx context.Context, ip netip.Addr) (string, error) {
	if err := h.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("geo lookup throttled: %w", err)
	}

	url := h.endpoint
	if strings.Contains(url, "%s") {
		url = fmt.Sprintf(url, ip.String())
	} else {
		url = strings.TrimSuffix(url, "/") + "/" + ip.String()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d", ErrLookupFailed, resp.StatusCode)
	}

	var body lookupResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body); err != nil {
		return "", fmt.Errorf("decode geo response: %w", err)
	}
	if body.Status != "success" {
		return "", fmt.Errorf("%w: %s", ErrLookupFailed, body.Message)
	}
	return body.CountryCode, nil
}

// StaticLookup 固定映射表，用于开发与测试
type StaticLookup map[string]string

// Country 查询静态表
func (s StaticLookup) Country(_ context.Context, ip netip.Addr) (string, error) {
	if country, ok := s[ip.String()]; ok {
		return country, nil
	}
	return "", ErrNotFound
}
