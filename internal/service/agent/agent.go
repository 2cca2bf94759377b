// Package agent 管理会话可选用的助手配置
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/ashwinyue/next-crm/internal/model"
	"github.com/ashwinyue/next-crm/internal/repository"
)

var (
	ErrAgentNotFound  = errors.New("agent not found")
	ErrBuiltinAgent   = errors.New("builtin agent is read-only")
	ErrTitleRequired  = errors.New("title is required")
	ErrInvalidTemperature = errors.New("temperature must be between 0 and 2")
)

// Service Agent 服务
type Service struct {
	repo repository.AgentStore
}

// NewService 创建 Agent 服务
func NewService(repo repository.AgentStore) *Service {
	return &Service{repo: repo}
}

// AgentRequest 创建/更新 Agent 请求
type AgentRequest struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Avatar      string   `json:"avatar"`
	SystemRole  string   `json:"system_role"`
	Provider    string   `json:"provider"`
	Model       string   `json:"model"`
	Temperature *float64 `json:"temperature"`
	HistoryLen  *int     `json:"history_count"`
	Plugins     []string `json:"plugins"`
}

func (r *AgentRequest) validate() error {
	if strings.TrimSpace(r.Title) == "" {
		return ErrTitleRequired
	}
	if r.Temperature != nil && (*r.Temperature < 0 || *r.Temperature > 2) {
		return ErrInvalidTemperature
	}
	return nil
}

func (r *AgentRequest) apply(a *model.Agent) {
	a.Title = strings.TrimSpace(r.Title)
	a.Description = r.Description
	a.Avatar = r.Avatar
	a.SystemRole = r.SystemRole
	a.Provider = r.Provider
	a.Model = r.Model
	if r.Temperature != nil {
		a.Temperature = *r.Temperature
	}
	if r.HistoryLen != nil && *r.HistoryLen > 0 {
		a.HistoryLen = *r.HistoryLen
	}
	a.Plugins = pq.StringArray(r.Plugins)
}

// CreateAgent 创建 Agent
func (s *Service) CreateAgent(ctx context.Context, req *AgentRequest) (*model.Agent, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	a := &model.Agent{
		ID:          uuid.New().String(),
		Temperature: 0.7,
		HistoryLen:  20,
	}
	req.apply(a)
	if err := s.repo.Create(a); err != nil {
		return nil, fmt.Errorf("failed to create agent: %w", err)
	}
	return a, nil
}

// GetAgent 获取 Agent，内置 ID 返回内置配置
func (s *Service) GetAgent(ctx context.Context, id string) (*model.Agent, error) {
	if model.IsBuiltinAgentID(id) {
		return model.DefaultAgent(), nil
	}
	a, err := s.repo.GetByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAgentNotFound
		}
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}
	return a, nil
}

// ListAgents 列出 Agent，第一页包含内置助手
func (s *Service) ListAgents(ctx context.Context, page, size int) ([]*model.Agent, error) {
	if page <= 0 {
		page = 1
	}
	if size <= 0 || size > 100 {
		size = 20
	}
	agents, err := s.repo.List((page-1)*size, size)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	if page == 1 {
		agents = append([]*model.Agent{model.DefaultAgent()}, agents...)
	}
	return agents, nil
}

// UpdateAgent 更新 Agent
func (s *Service) UpdateAgent(ctx context.Context, id string, req *AgentRequest) (*model.Agent, error) {
	if model.IsBuiltinAgentID(id) {
		return nil, ErrBuiltinAgent
	}
	if err := req.validate(); err != nil {
		return nil, err
	}
	a, err := s.GetAgent(ctx, id)
	if err != nil {
		return nil, err
	}
	req.apply(a)
	if err := s.repo.Update(a); err != nil {
		return nil, fmt.Errorf("failed to update agent: %w", err)
	}
	return a, nil
}

// Resolve 获取回复使用的 Agent，找不到时回退到内置助手
func (s *Service) Resolve(ctx context.Context, id string) *model.Agent {
	if id == "" {
		return model.DefaultAgent()
	}
	a, err := s.GetAgent(ctx, id)
	if err != nil {
		return model.DefaultAgent()
	}
	if a.HistoryLen <= 0 {
		a.HistoryLen = model.DefaultAgent().HistoryLen
	}
	return a
}
