package client

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ashwinyue/next-crm/internal/conversation"
)

// Employee 当前登录员工
type Employee struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type tokenResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresIn    int64     `json:"expires_in"`
	Employee     *Employee `json:"employee"`
}

// Login 使用配置的邮箱和密码登录
func (c *Client) Login(ctx context.Context) error {
	c.authMu.Lock()
	defer c.authMu.Unlock()
	return c.login(ctx)
}

func (c *Client) login(ctx context.Context) error {
	if c.email == "" || c.password == "" {
		return fmt.Errorf("%w: no credentials configured", conversation.ErrUnauthenticated)
	}
	var resp tokenResponse
	body := map[string]string{"email": c.email, "password": c.password}
	if err := c.doJSON(ctx, http.MethodPost, "/auth/login", body, &resp, false); err != nil {
		c.clearTokens()
		return fmt.Errorf("login: %w", err)
	}
	c.storeTokens(&resp)
	c.log.Info("logged in", "email", c.email)
	return nil
}

// RefreshToken 用刷新令牌换取新的访问令牌，刷新令牌失效时回退到密码登录
func (c *Client) RefreshToken(ctx context.Context) error {
	return c.refreshIfStale(ctx, "")
}

// refreshIfStale 仅当当前访问令牌仍是 stale 时刷新，stale 为空时强制刷新
// 并发请求同时收到 401 时只刷新一次
func (c *Client) refreshIfStale(ctx context.Context, stale string) error {
	c.authMu.Lock()
	defer c.authMu.Unlock()

	c.mu.Lock()
	access, refresh := c.access, c.refresh
	c.mu.Unlock()
	if stale != "" && access != "" && access != stale {
		return nil
	}

	if refresh != "" {
		var resp tokenResponse
		body := map[string]string{"refresh_token": refresh}
		err := c.doJSON(ctx, http.MethodPost, "/auth/refresh", body, &resp, false)
		if err == nil {
			c.storeTokens(&resp)
			return nil
		}
		if !IsUnauthorized(err) {
			return fmt.Errorf("refresh token: %w", err)
		}
		c.log.Debug("refresh token rejected, falling back to login")
	}
	return c.login(ctx)
}

// PrincipalID 当前员工 ID，未登录时先登录
func (c *Client) PrincipalID(ctx context.Context) (string, error) {
	if _, err := c.accessToken(ctx); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.employee == nil {
		return "", conversation.ErrUnauthenticated
	}
	return c.employee.ID, nil
}

// Employee 当前员工信息
func (c *Client) Employee() *Employee {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.employee == nil {
		return nil
	}
	e := *c.employee
	return &e
}

// Me 从服务端读取当前员工
func (c *Client) Me(ctx context.Context) (*Employee, error) {
	var e Employee
	if err := c.doJSON(ctx, http.MethodGet, "/auth/me", nil, &e, true); err != nil {
		return nil, err
	}
	return &e, nil
}

// Logout 注销刷新令牌并清除本地凭证
func (c *Client) Logout(ctx context.Context) error {
	c.authMu.Lock()
	defer c.authMu.Unlock()

	c.mu.Lock()
	refresh := c.refresh
	c.mu.Unlock()
	defer c.clearTokens()

	if refresh == "" {
		return nil
	}
	return c.doJSON(ctx, http.MethodPost, "/auth/logout", map[string]string{"refresh_token": refresh}, nil, false)
}

// accessToken 返回当前访问令牌，没有时登录
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	token := c.access
	c.mu.Unlock()
	if token != "" {
		return token, nil
	}

	c.authMu.Lock()
	defer c.authMu.Unlock()
	c.mu.Lock()
	token = c.access
	c.mu.Unlock()
	if token != "" {
		return token, nil
	}
	if err := c.login(ctx); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.access, nil
}

func (c *Client) storeTokens(resp *tokenResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.access = resp.AccessToken
	if resp.RefreshToken != "" {
		c.refresh = resp.RefreshToken
	}
	if resp.Employee != nil {
		c.employee = resp.Employee
	}
}

func (c *Client) clearTokens() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.access = ""
	c.refresh = ""
	c.employee = nil
}
