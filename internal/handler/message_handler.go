package handler

import (
	"errors"
	"io"

	"github.com/gin-gonic/gin"

	"github.com/ashwinyue/next-crm/internal/service"
	"github.com/ashwinyue/next-crm/internal/service/chat"
)

// MessageHandler 消息处理器
type MessageHandler struct {
	svc *service.Services
}

// NewMessageHandler 创建消息处理器
func NewMessageHandler(svc *service.Services) *MessageHandler {
	return &MessageHandler{svc: svc}
}

// ListMessages 列出话题消息
// GET /messages?session_id=&topic_id=
func (h *MessageHandler) ListMessages(c *gin.Context) {
	sessionID := c.Query("session_id")
	if sessionID == "" {
		BadRequest(c, "session_id is required")
		return
	}

	messages, err := h.svc.Chat.ListMessages(c.Request.Context(), getUserID(c), sessionID, c.Query("topic_id"))
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, messages)
}

// CreateMessage 创建用户消息
func (h *MessageHandler) CreateMessage(c *gin.Context) {
	var req chat.CreateMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	msg, err := h.svc.Chat.CreateMessage(c.Request.Context(), getUserID(c), &req)
	if err != nil {
		Error(c, err)
		return
	}
	Created(c, msg)
}

// DeleteMessage 删除消息
func (h *MessageHandler) DeleteMessage(c *gin.Context) {
	if err := h.svc.Chat.DeleteMessage(c.Request.Context(), getUserID(c), c.Param("id")); err != nil {
		Error(c, err)
		return
	}
	NoContent(c)
}

// Reply 流式生成助手回复（SSE）
// 事件：start、delta、end、error；客户端断开即取消生成
func (h *MessageHandler) Reply(c *gin.Context) {
	var req chat.ReplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	sr, err := h.svc.Chat.Reply(c.Request.Context(), getUserID(c), &req)
	if err != nil {
		Error(c, err)
		return
	}
	defer sr.Close()

	// 设置 SSE 响应头
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	var messageID string
	for {
		evt, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			c.SSEvent(chat.ReplyEventError, gin.H{"message_id": messageID, "error": err.Error()})
			c.Writer.Flush()
			return
		}
		if evt.MessageID != "" {
			messageID = evt.MessageID
		}
		c.SSEvent(evt.Type, evt)
		c.Writer.Flush()
	}
}

// StopReply 停止正在生成的回复
func (h *MessageHandler) StopReply(c *gin.Context) {
	stopped, err := h.svc.Chat.StopReply(c.Request.Context(), getUserID(c), c.Param("id"))
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, gin.H{"stopped": stopped})
}
