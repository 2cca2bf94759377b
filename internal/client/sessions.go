package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ashwinyue/next-crm/internal/conversation"
)

const sessionPageSize = 100

type sessionPage struct {
	Items      []*conversation.Session `json:"items"`
	Total      int64                   `json:"total"`
	Page       int                     `json:"page"`
	TotalPages int                     `json:"total_pages"`
}

// ListSessions 列出当前员工的全部会话
func (c *Client) ListSessions(ctx context.Context) ([]*conversation.Session, error) {
	var out []*conversation.Session
	for page := 1; ; page++ {
		var p sessionPage
		path := fmt.Sprintf("/sessions?page=%d&size=%d", page, sessionPageSize)
		if err := c.doJSON(ctx, http.MethodGet, path, nil, &p, true); err != nil {
			return nil, err
		}
		out = append(out, p.Items...)
		if page >= p.TotalPages || len(p.Items) == 0 {
			return out, nil
		}
	}
}

// CreateSession 创建会话
func (c *Client) CreateSession(ctx context.Context, input *conversation.CreateSessionInput) (*conversation.Session, error) {
	var s conversation.Session
	if err := c.doJSON(ctx, http.MethodPost, "/sessions", input, &s, true); err != nil {
		return nil, err
	}
	return &s, nil
}

// ListTopics 列出会话话题
func (c *Client) ListTopics(ctx context.Context, sessionID string) ([]*conversation.Topic, error) {
	var topics []*conversation.Topic
	if err := c.doJSON(ctx, http.MethodGet, "/sessions/"+url.PathEscape(sessionID)+"/topics", nil, &topics, true); err != nil {
		return nil, err
	}
	return topics, nil
}

// CreateTopic 创建话题
func (c *Client) CreateTopic(ctx context.Context, input *conversation.CreateTopicInput) (*conversation.Topic, error) {
	var t conversation.Topic
	body := map[string]string{"title": input.Title}
	if err := c.doJSON(ctx, http.MethodPost, "/sessions/"+url.PathEscape(input.SessionID)+"/topics", body, &t, true); err != nil {
		return nil, err
	}
	return &t, nil
}
