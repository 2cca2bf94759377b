// Package chat 会话、话题与消息的服务端实现，负责生成助手回复
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/google/uuid"
	"gorm.io/gorm"

	crmmodel "github.com/ashwinyue/next-crm/internal/model"
	"github.com/ashwinyue/next-crm/internal/pkg/logger"
	"github.com/ashwinyue/next-crm/internal/repository"
	"github.com/ashwinyue/next-crm/internal/service/stream"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrForbidden        = errors.New("does not belong to current employee")
	ErrInvalidInput     = errors.New("invalid input")
	ErrModelUnavailable = errors.New("chat model is not configured")
)

// defaultSessionTitle 未指定标题时的会话名
const defaultSessionTitle = "新会话"

// AgentResolver 按 ID 解析回复使用的 Agent
type AgentResolver interface {
	Resolve(ctx context.Context, id string) *crmmodel.Agent
}

// Service 聊天服务
type Service struct {
	repo      repository.ChatStore
	agents    AgentResolver
	chatModel model.BaseChatModel
	streams   *stream.Registry
	log       *logger.Logger
}

// NewService 创建聊天服务，chatModel 为空时回复接口返回 ErrModelUnavailable
func NewService(repo repository.ChatStore, agents AgentResolver, chatModel model.BaseChatModel, streams *stream.Registry, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	if streams == nil {
		streams = stream.NewRegistry(nil, log)
	}
	return &Service{
		repo:      repo,
		agents:    agents,
		chatModel: chatModel,
		streams:   streams,
		log:       log,
	}
}

// ========== 会话 ==========

// CreateSessionRequest 创建会话请求
type CreateSessionRequest struct {
	Title   string `json:"title"`
	AgentID string `json:"agent_id"`
}

// UpdateSessionRequest 更新会话请求，nil 字段不修改
type UpdateSessionRequest struct {
	Title   *string `json:"title"`
	AgentID *string `json:"agent_id"`
	Pinned  *bool   `json:"pinned"`
}

// CreateSession 创建会话
func (s *Service) CreateSession(ctx context.Context, userID string, req *CreateSessionRequest) (*crmmodel.ChatSession, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = defaultSessionTitle
	}
	session := &crmmodel.ChatSession{
		ID:      uuid.New().String(),
		UserID:  userID,
		AgentID: req.AgentID,
		Title:   title,
	}
	if err := s.repo.CreateSession(session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, nil
}

// GetSession 获取会话，校验归属
func (s *Service) GetSession(ctx context.Context, userID, id string) (*crmmodel.ChatSession, error) {
	session, err := s.repo.GetSessionByID(id)
	if err != nil {
		return nil, notFound("session", err)
	}
	if session.UserID != userID {
		return nil, ErrForbidden
	}
	return session, nil
}

// ListSessions 列出当前员工的会话
func (s *Service) ListSessions(ctx context.Context, userID string, page, size int) ([]*crmmodel.ChatSession, int64, error) {
	if page <= 0 {
		page = 1
	}
	if size <= 0 || size > 100 {
		size = 20
	}
	sessions, total, err := s.repo.ListSessions(userID, (page-1)*size, size)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, total, nil
}

// UpdateSession 更新会话标题、助手或置顶状态
func (s *Service) UpdateSession(ctx context.Context, userID, id string, req *UpdateSessionRequest) (*crmmodel.ChatSession, error) {
	session, err := s.GetSession(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if req.Title != nil {
		if title := strings.TrimSpace(*req.Title); title != "" {
			session.Title = title
		}
	}
	if req.AgentID != nil {
		session.AgentID = *req.AgentID
	}
	if req.Pinned != nil {
		session.Pinned = *req.Pinned
	}
	if err := s.repo.UpdateSession(session); err != nil {
		return nil, fmt.Errorf("failed to update session: %w", err)
	}
	return session, nil
}

// DeleteSession 删除会话
func (s *Service) DeleteSession(ctx context.Context, userID, id string) error {
	if _, err := s.GetSession(ctx, userID, id); err != nil {
		return err
	}
	if err := s.repo.DeleteSession(id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// ========== 话题 ==========

// CreateTopicRequest 创建话题请求
type CreateTopicRequest struct {
	Title string `json:"title"`
}

// CreateTopic 在会话下创建话题
func (s *Service) CreateTopic(ctx context.Context, userID, sessionID string, req *CreateTopicRequest) (*crmmodel.ChatTopic, error) {
	if _, err := s.GetSession(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	topic := &crmmodel.ChatTopic{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		UserID:    userID,
		Title:     strings.TrimSpace(req.Title),
	}
	if err := s.repo.CreateTopic(topic); err != nil {
		return nil, fmt.Errorf("failed to create topic: %w", err)
	}
	return topic, nil
}

// ListTopics 列出会话下的话题
func (s *Service) ListTopics(ctx context.Context, userID, sessionID string) ([]*crmmodel.ChatTopic, error) {
	if _, err := s.GetSession(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	topics, err := s.repo.ListTopics(sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list topics: %w", err)
	}
	return topics, nil
}

// checkTopic 校验话题属于会话，空话题 ID 表示默认话题
func (s *Service) checkTopic(sessionID, topicID string) error {
	if topicID == "" {
		return nil
	}
	topic, err := s.repo.GetTopicByID(topicID)
	if err != nil {
		return notFound("topic", err)
	}
	if topic.SessionID != sessionID {
		return fmt.Errorf("%w: topic %s is not in session %s", ErrInvalidInput, topicID, sessionID)
	}
	return nil
}

// notFound 将记录不存在转换为 ErrNotFound
func notFound(what string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %w", what, ErrNotFound)
	}
	return fmt.Errorf("failed to get %s: %w", what, err)
}
