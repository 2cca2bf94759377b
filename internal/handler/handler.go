package handler

import (
	"github.com/ashwinyue/next-crm/internal/service"
)

// Handlers 处理器集合
type Handlers struct {
	Auth    *AuthHandler
	Session *SessionHandler
	Message *MessageHandler
	Agent   *AgentHandler
}

// NewHandlers 创建所有处理器
func NewHandlers(svc *service.Services) *Handlers {
	return &Handlers{
		Auth:    NewAuthHandler(svc),
		Session: NewSessionHandler(svc),
		Message: NewMessageHandler(svc),
		Agent:   NewAgentHandler(svc),
	}
}
