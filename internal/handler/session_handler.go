package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/ashwinyue/next-crm/internal/service"
	"github.com/ashwinyue/next-crm/internal/service/chat"
)

// SessionHandler 会话与话题处理器
type SessionHandler struct {
	svc *service.Services
}

// NewSessionHandler 创建会话处理器
func NewSessionHandler(svc *service.Services) *SessionHandler {
	return &SessionHandler{svc: svc}
}

// CreateSession 创建会话
func (h *SessionHandler) CreateSession(c *gin.Context) {
	var req chat.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	session, err := h.svc.Chat.CreateSession(c.Request.Context(), getUserID(c), &req)
	if err != nil {
		Error(c, err)
		return
	}
	Created(c, session)
}

// ListSessions 列出会话
func (h *SessionHandler) ListSessions(c *gin.Context) {
	page, size := getPagination(c)
	sessions, total, err := h.svc.Chat.ListSessions(c.Request.Context(), getUserID(c), page, size)
	if err != nil {
		Error(c, err)
		return
	}
	SuccessWithPagination(c, sessions, total, page, size)
}

// GetSession 获取会话
func (h *SessionHandler) GetSession(c *gin.Context) {
	session, err := h.svc.Chat.GetSession(c.Request.Context(), getUserID(c), c.Param("id"))
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, session)
}

// UpdateSession 更新会话
func (h *SessionHandler) UpdateSession(c *gin.Context) {
	var req chat.UpdateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	session, err := h.svc.Chat.UpdateSession(c.Request.Context(), getUserID(c), c.Param("id"), &req)
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, session)
}

// DeleteSession 删除会话
func (h *SessionHandler) DeleteSession(c *gin.Context) {
	if err := h.svc.Chat.DeleteSession(c.Request.Context(), getUserID(c), c.Param("id")); err != nil {
		Error(c, err)
		return
	}
	NoContent(c)
}

// CreateTopic 创建话题
func (h *SessionHandler) CreateTopic(c *gin.Context) {
	var req chat.CreateTopicRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	topic, err := h.svc.Chat.CreateTopic(c.Request.Context(), getUserID(c), c.Param("id"), &req)
	if err != nil {
		Error(c, err)
		return
	}
	Created(c, topic)
}

// ListTopics 列出话题
func (h *SessionHandler) ListTopics(c *gin.Context) {
	topics, err := h.svc.Chat.ListTopics(c.Request.Context(), getUserID(c), c.Param("id"))
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, topics)
}
