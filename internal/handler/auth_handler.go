package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/ashwinyue/next-crm/internal/service"
	"github.com/ashwinyue/next-crm/internal/service/auth"
)

// AuthHandler 认证处理器
type AuthHandler struct {
	svc *service.Services
}

// NewAuthHandler 创建认证处理器
func NewAuthHandler(svc *service.Services) *AuthHandler {
	return &AuthHandler{svc: svc}
}

// Login 员工登录
func (h *AuthHandler) Login(c *gin.Context) {
	var req auth.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid parameters: "+err.Error())
		return
	}

	resp, err := h.svc.Auth.Login(c.Request.Context(), &req)
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, resp)
}

// Refresh 刷新令牌
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req auth.RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid parameters: "+err.Error())
		return
	}

	resp, err := h.svc.Auth.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, resp)
}

// Logout 撤销刷新令牌
func (h *AuthHandler) Logout(c *gin.Context) {
	var req auth.RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid parameters: "+err.Error())
		return
	}
	if err := h.svc.Auth.Logout(c.Request.Context(), req.RefreshToken); err != nil {
		Error(c, err)
		return
	}
	NoContent(c)
}

// Me 当前员工信息
func (h *AuthHandler) Me(c *gin.Context) {
	info, err := h.svc.Auth.GetEmployee(c.Request.Context(), getUserID(c))
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, info)
}
