// Package client 远端消息存储的 HTTP 客户端
// 实现 conversation 包的 MessageAPI、SessionAPI 与 IdentityProvider
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ashwinyue/next-crm/internal/conversation"
	"github.com/ashwinyue/next-crm/internal/pkg/logger"
)

const defaultTimeout = 30 * time.Second

var (
	_ conversation.MessageAPI       = (*Client)(nil)
	_ conversation.SessionAPI       = (*Client)(nil)
	_ conversation.IdentityProvider = (*Client)(nil)
)

// Options 客户端配置
type Options struct {
	// BaseURL 形如 http://localhost:8080/api/v1
	BaseURL  string
	Email    string
	Password string
	// Timeout 非流式请求超时，流式请求只受 ctx 控制
	Timeout   time.Duration
	Transport http.RoundTripper
	Logger    *logger.Logger
}

// Client 远端 API 客户端，可并发使用
type Client struct {
	baseURL  string
	email    string
	password string
	http     *http.Client
	stream   *http.Client
	log      *logger.Logger

	authMu   sync.Mutex // 串行化登录与刷新
	mu       sync.Mutex
	access   string
	refresh  string
	employee *Employee
}

// New 创建客户端
func New(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	transport := opts.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	return &Client{
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		email:    opts.Email,
		password: opts.Password,
		http:     &http.Client{Timeout: timeout, Transport: transport},
		stream:   &http.Client{Transport: transport},
		log:      log,
	}
}

// ========== 错误 ==========

// APIError 服务端返回的错误
type APIError struct {
	Status int    // HTTP 状态码
	Code   int    // 响应体中的 code
	Msg    string // 响应体中的 msg
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("api error (%d): %s", e.Status, e.Msg)
}

// Unwrap 401 视为未认证
func (e *APIError) Unwrap() error {
	if e != nil && e.Status == http.StatusUnauthorized {
		return conversation.ErrUnauthenticated
	}
	return nil
}

// IsNotFound 是否为 404
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

func decodeAPIError(resp *http.Response) error {
	var payload struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&payload)
	if payload.Msg == "" {
		payload.Msg = resp.Status
	}
	return &APIError{Status: resp.StatusCode, Code: payload.Code, Msg: payload.Msg}
}

// ========== 请求 ==========

// envelope 成功响应外层
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
}

// doJSON 发送 JSON 请求，需认证时遇到 401 刷新一次令牌后重试
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any, requireAuth bool) error {
	resp, err := c.send(ctx, c.http, method, path, body, requireAuth)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}
	return nil
}

// send 执行请求并处理 401 重试，调用方负责关闭响应体
// 返回的响应状态码可能是任意值，401 除外
func (c *Client) send(ctx context.Context, hc *http.Client, method, path string, body any, requireAuth bool) (*http.Response, error) {
	var payload []byte
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		payload = buf
	}

	for attempt := 0; ; attempt++ {
		var token string
		if requireAuth {
			t, err := c.accessToken(ctx)
			if err != nil {
				return nil, err
			}
			token = t
		}
		req, err := c.newRequest(ctx, method, path, payload, token)
		if err != nil {
			return nil, err
		}
		resp, err := hc.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusUnauthorized || !requireAuth {
			return resp, nil
		}

		apiErr := decodeAPIError(resp)
		resp.Body.Close()
		if attempt > 0 {
			return nil, apiErr
		}
		if err := c.refreshIfStale(ctx, token); err != nil {
			return nil, err
		}
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, payload []byte, token string) (*http.Request, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

// IsUnauthorized 是否为 401
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized
}
