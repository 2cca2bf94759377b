package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/ashwinyue/next-crm/internal/conversation"
)

// wireMessage 服务端消息结构
type wireMessage struct {
	ID        string          `json:"id"`
	SessionID string          `json:"session_id"`
	TopicID   string          `json:"topic_id"`
	ParentID  string          `json:"parent_id"`
	Role      string          `json:"role"`
	Content   string          `json:"content"`
	Tools     json.RawMessage `json:"tools"`
	Error     json.RawMessage `json:"error"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// toMessage 转换为本地消息，状态由错误载荷推导
func (w *wireMessage) toMessage() *conversation.Message {
	m := &conversation.Message{
		ID:        w.ID,
		Role:      w.Role,
		Content:   w.Content,
		ParentID:  w.ParentID,
		SessionID: w.SessionID,
		TopicID:   w.TopicID,
		Status:    conversation.StatusConfirmed,
		CreatedAt: w.CreatedAt,
		UpdatedAt: w.UpdatedAt,
	}
	if !isNullJSON(w.Tools) {
		m.Tools = append(json.RawMessage(nil), w.Tools...)
	}
	if !isNullJSON(w.Error) {
		var e conversation.MessageError
		if err := json.Unmarshal(w.Error, &e); err == nil && e.Type != "" {
			m.Error = &e
			m.Status = conversation.StatusError
			if e.Type == conversation.ErrorTypeCanceled {
				m.Status = conversation.StatusCanceled
			}
		}
	}
	return m
}

func isNullJSON(raw json.RawMessage) bool {
	s := string(raw)
	return s == "" || s == "null" || s == "[]" || s == "{}"
}

// ListMessagesByTopic 列出话题消息，按创建时间升序
func (c *Client) ListMessagesByTopic(ctx context.Context, sessionID, topicID string) ([]*conversation.Message, error) {
	q := url.Values{}
	q.Set("session_id", sessionID)
	if topicID != "" {
		q.Set("topic_id", topicID)
	}

	var rows []*wireMessage
	if err := c.doJSON(ctx, http.MethodGet, "/messages?"+q.Encode(), nil, &rows, true); err != nil {
		return nil, err
	}
	out := make([]*conversation.Message, 0, len(rows))
	for _, w := range rows {
		out = append(out, w.toMessage())
	}
	return out, nil
}

// CreateMessage 创建用户消息
func (c *Client) CreateMessage(ctx context.Context, input *conversation.CreateMessageInput) (*conversation.Message, error) {
	var w wireMessage
	if err := c.doJSON(ctx, http.MethodPost, "/messages", input, &w, true); err != nil {
		return nil, err
	}
	return w.toMessage(), nil
}

// DeleteMessage 删除消息，服务端已不存在视为成功
func (c *Client) DeleteMessage(ctx context.Context, id string) error {
	err := c.doJSON(ctx, http.MethodDelete, "/messages/"+url.PathEscape(id), nil, nil, true)
	if IsNotFound(err) {
		return nil
	}
	return err
}

// StopReply 请求服务端停止生成
func (c *Client) StopReply(ctx context.Context, id string) (bool, error) {
	var resp struct {
		Stopped bool `json:"stopped"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/messages/"+url.PathEscape(id)+"/stop", nil, &resp, true); err != nil {
		return false, err
	}
	return resp.Stopped, nil
}
