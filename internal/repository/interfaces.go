// Package repository 定义数据访问接口
// 接口抽象使依赖注入和单元测试成为可能
package repository

import (
	"time"

	"github.com/ashwinyue/next-crm/internal/model"
)

// ChatStore 聊天数据访问接口
type ChatStore interface {
	CreateSession(session *model.ChatSession) error
	GetSessionByID(id string) (*model.ChatSession, error)
	ListSessions(userID string, offset, limit int) ([]*model.ChatSession, int64, error)
	UpdateSession(session *model.ChatSession) error
	DeleteSession(id string) error

	CreateTopic(topic *model.ChatTopic) error
	GetTopicByID(id string) (*model.ChatTopic, error)
	ListTopics(sessionID string) ([]*model.ChatTopic, error)

	CreateMessage(msg *model.ChatMessage) error
	UpdateMessage(msg *model.ChatMessage) error
	GetMessagesByTopic(sessionID, topicID string) ([]*model.ChatMessage, error)
	GetRecentMessagesByTopic(sessionID, topicID string, before time.Time, limit int) ([]*model.ChatMessage, error)
	GetMessageByID(messageID string) (*model.ChatMessage, error)
	DeleteMessage(messageID string) error
}

// AgentStore Agent 数据访问接口
type AgentStore interface {
	Create(agent *model.Agent) error
	GetByID(id string) (*model.Agent, error)
	List(offset, limit int) ([]*model.Agent, error)
	Update(agent *model.Agent) error
}

// AuthStore 认证数据访问接口
type AuthStore interface {
	CreateEmployee(employee *model.Employee) error
	GetEmployeeByID(id string) (*model.Employee, error)
	GetEmployeeByEmail(email string) (*model.Employee, error)
	CreateToken(token *model.AuthToken) error
	GetTokenByValue(tokenValue string) (*model.AuthToken, error)
	RevokeToken(tokenID string) error
}

// 确保实现了接口
var (
	_ ChatStore  = (*ChatRepository)(nil)
	_ AgentStore = (*AgentRepository)(nil)
	_ AuthStore  = (*AuthRepository)(nil)
)
