package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	crmmodel "github.com/ashwinyue/next-crm/internal/model"
)

// 消息错误类型，与客户端的错误标记一致
const (
	ErrorTypeStream   = "stream_failed"
	ErrorTypeCanceled = "canceled"
)

// MessageError 消息上持久化的错误信息
type MessageError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (e *MessageError) json() datatypes.JSON {
	b, _ := json.Marshal(e)
	return datatypes.JSON(b)
}

// CreateMessageRequest 创建消息请求
type CreateMessageRequest struct {
	SessionID string `json:"session_id"`
	TopicID   string `json:"topic_id"`
	ParentID  string `json:"parent_id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
}

// ListMessages 列出话题消息，生成中的回复带上已生成的部分内容
func (s *Service) ListMessages(ctx context.Context, userID, sessionID, topicID string) ([]*crmmodel.ChatMessage, error) {
	if _, err := s.GetSession(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	if err := s.checkTopic(sessionID, topicID); err != nil {
		return nil, err
	}

	messages, err := s.repo.GetMessagesByTopic(sessionID, topicID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	for _, m := range messages {
		if m.Role != crmmodel.RoleAssistant || len(m.Error) > 0 {
			continue
		}
		if partial, ok := s.streams.Partial(ctx, m.ID); ok {
			m.Content = partial
		}
	}
	return messages, nil
}

// CreateMessage 创建用户消息，助手消息只能由回复生成
func (s *Service) CreateMessage(ctx context.Context, userID string, req *CreateMessageRequest) (*crmmodel.ChatMessage, error) {
	role := req.Role
	if role == "" {
		role = crmmodel.RoleUser
	}
	if role != crmmodel.RoleUser {
		return nil, fmt.Errorf("%w: role %q cannot be created directly", ErrInvalidInput, role)
	}
	if strings.TrimSpace(req.Content) == "" {
		return nil, fmt.Errorf("%w: content is required", ErrInvalidInput)
	}

	session, err := s.GetSession(ctx, userID, req.SessionID)
	if err != nil {
		return nil, err
	}
	if err := s.checkTopic(req.SessionID, req.TopicID); err != nil {
		return nil, err
	}
	if req.ParentID != "" {
		parent, err := s.repo.GetMessageByID(req.ParentID)
		if err != nil {
			return nil, notFound("parent message", err)
		}
		if parent.SessionID != req.SessionID {
			return nil, fmt.Errorf("%w: parent is in another session", ErrInvalidInput)
		}
	}

	msg := &crmmodel.ChatMessage{
		ID:        uuid.New().String(),
		SessionID: req.SessionID,
		TopicID:   req.TopicID,
		ParentID:  req.ParentID,
		UserID:    userID,
		Role:      role,
		Content:   req.Content,
	}
	if err := s.repo.CreateMessage(msg); err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}

	// 刷新会话的更新时间
	if err := s.repo.UpdateSession(session); err != nil {
		s.log.Warn("failed to touch session", "session_id", session.ID, "error", err)
	}
	return msg, nil
}

// GetMessage 获取消息，校验归属
func (s *Service) GetMessage(ctx context.Context, userID, id string) (*crmmodel.ChatMessage, error) {
	msg, err := s.repo.GetMessageByID(id)
	if err != nil {
		return nil, notFound("message", err)
	}
	if _, err := s.GetSession(ctx, userID, msg.SessionID); err != nil {
		return nil, err
	}
	return msg, nil
}

// DeleteMessage 删除消息，正在生成的回复会先被停止
func (s *Service) DeleteMessage(ctx context.Context, userID, id string) error {
	if _, err := s.GetMessage(ctx, userID, id); err != nil {
		return err
	}
	s.streams.Stop(id)
	if err := s.repo.DeleteMessage(id); err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}
