package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ashwinyue/next-crm/internal/middleware"
	"github.com/ashwinyue/next-crm/internal/service/agent"
	"github.com/ashwinyue/next-crm/internal/service/auth"
	"github.com/ashwinyue/next-crm/internal/service/chat"
)

// ========== 响应格式 ==========

// SuccessResponse 成功响应
type SuccessResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
}

// ErrorResponse 错误响应，Code 与 HTTP 状态码一致
type ErrorResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// Success 成功响应 (200)
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, SuccessResponse{Success: true, Data: data})
}

// Created 创建成功响应 (201)
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, SuccessResponse{Success: true, Data: data})
}

// NoContent 无内容响应 (204)
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

func errorJSON(c *gin.Context, status int, msg string) {
	c.JSON(status, ErrorResponse{Code: status, Msg: msg})
}

// BadRequest 400 错误响应
func BadRequest(c *gin.Context, msg string) { errorJSON(c, http.StatusBadRequest, msg) }

// Unauthorized 401 错误响应
func Unauthorized(c *gin.Context, msg string) { errorJSON(c, http.StatusUnauthorized, msg) }

// Forbidden 403 错误响应
func Forbidden(c *gin.Context, msg string) { errorJSON(c, http.StatusForbidden, msg) }

// NotFound 404 错误响应
func NotFound(c *gin.Context, msg string) { errorJSON(c, http.StatusNotFound, msg) }

// Conflict 409 错误响应
func Conflict(c *gin.Context, msg string) { errorJSON(c, http.StatusConflict, msg) }

// InternalServerError 500 错误响应
func InternalServerError(c *gin.Context, msg string) {
	errorJSON(c, http.StatusInternalServerError, msg)
}

// ServiceUnavailable 503 错误响应
func ServiceUnavailable(c *gin.Context, msg string) {
	errorJSON(c, http.StatusServiceUnavailable, msg)
}

// Error 根据错误类型返回相应的错误响应
func Error(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)

	switch {
	case errors.Is(err, chat.ErrNotFound), errors.Is(err, agent.ErrAgentNotFound):
		NotFound(c, err.Error())
	case errors.Is(err, chat.ErrForbidden), errors.Is(err, agent.ErrBuiltinAgent):
		Forbidden(c, err.Error())
	case errors.Is(err, chat.ErrInvalidInput), errors.Is(err, agent.ErrTitleRequired), errors.Is(err, agent.ErrInvalidTemperature):
		BadRequest(c, err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrEmployeeDisabled):
		Unauthorized(c, err.Error())
	case errors.Is(err, auth.ErrEmailTaken):
		Conflict(c, err.Error())
	case errors.Is(err, chat.ErrModelUnavailable):
		ServiceUnavailable(c, err.Error())
	default:
		InternalServerError(c, "internal server error")
	}
}

// PaginationData 分页响应数据结构
type PaginationData struct {
	Items      interface{} `json:"items"`
	Total      int64       `json:"total"`
	Page       int         `json:"page"`
	PageSize   int         `json:"page_size"`
	TotalPages int         `json:"total_pages,omitempty"`
}

// SuccessWithPagination 分页成功响应
func SuccessWithPagination(c *gin.Context, items interface{}, total int64, page, pageSize int) {
	totalPages := int(total) / pageSize
	if int(total)%pageSize > 0 {
		totalPages++
	}
	c.JSON(http.StatusOK, SuccessResponse{
		Success: true,
		Data: PaginationData{
			Items:      items,
			Total:      total,
			Page:       page,
			PageSize:   pageSize,
			TotalPages: totalPages,
		},
	})
}

// getPagination 获取分页参数
func getPagination(c *gin.Context) (page, size int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ = strconv.Atoi(c.DefaultQuery("size", "20"))
	if page <= 0 {
		page = 1
	}
	if size <= 0 || size > 100 {
		size = 20
	}
	return
}

// getUserID 获取当前员工 ID，RequireAuth 保证存在
func getUserID(c *gin.Context) string {
	id, _ := middleware.GetUserID(c)
	return id
}
