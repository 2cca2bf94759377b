package testutil

import (
	"errors"
	"net/http"
	"strings"
	"sync"
)

// ErrInjected 注入的传输错误
var ErrInjected = errors.New("testutil: injected transport failure")

// fault 一条故障规则
type fault struct {
	method string
	prefix string
	times  int
}

// FaultTransport 按方法和路径前缀注入传输失败的 RoundTripper
// 未命中规则的请求交给下一个 Transport
type FaultTransport struct {
	next http.RoundTripper

	mu       sync.Mutex
	faults   []*fault
	requests []string
}

// NewFaultTransport 创建故障注入 Transport，next 为空时使用默认 Transport
func NewFaultTransport(next http.RoundTripper) *FaultTransport {
	if next == nil {
		next = http.DefaultTransport
	}
	return &FaultTransport{next: next}
}

// Fail 之后 times 次匹配 method 与路径前缀的请求返回 ErrInjected
func (t *FaultTransport) Fail(method, pathPrefix string, times int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.faults = append(t.faults, &fault{method: method, prefix: pathPrefix, times: times})
}

// Requests 已发出的请求，形如 "POST /api/v1/messages"
func (t *FaultTransport) Requests() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.requests...)
}

// RoundTrip 实现 http.RoundTripper 接口
func (t *FaultTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.mu.Lock()
	t.requests = append(t.requests, req.Method+" "+req.URL.Path)
	injected := false
	for _, f := range t.faults {
		if f.times > 0 && f.method == req.Method && strings.HasPrefix(req.URL.Path, f.prefix) {
			f.times--
			injected = true
			break
		}
	}
	t.mu.Unlock()

	if injected {
		if req.Body != nil {
			_ = req.Body.Close()
		}
		return nil, ErrInjected
	}
	return t.next.RoundTrip(req)
}
