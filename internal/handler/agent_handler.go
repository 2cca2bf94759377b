package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/ashwinyue/next-crm/internal/service"
	"github.com/ashwinyue/next-crm/internal/service/agent"
)

// AgentHandler 助手配置处理器
type AgentHandler struct {
	svc *service.Services
}

// NewAgentHandler 创建助手处理器
func NewAgentHandler(svc *service.Services) *AgentHandler {
	return &AgentHandler{svc: svc}
}

// CreateAgent 创建 Agent
func (h *AgentHandler) CreateAgent(c *gin.Context) {
	var req agent.AgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	a, err := h.svc.Agent.CreateAgent(c.Request.Context(), &req)
	if err != nil {
		Error(c, err)
		return
	}
	Created(c, a)
}

// GetAgent 获取 Agent
func (h *AgentHandler) GetAgent(c *gin.Context) {
	a, err := h.svc.Agent.GetAgent(c.Request.Context(), c.Param("id"))
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, a)
}

// ListAgents 列出 Agent
func (h *AgentHandler) ListAgents(c *gin.Context) {
	page, size := getPagination(c)
	agents, err := h.svc.Agent.ListAgents(c.Request.Context(), page, size)
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, agents)
}

// UpdateAgent 更新 Agent
func (h *AgentHandler) UpdateAgent(c *gin.Context) {
	var req agent.AgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	a, err := h.svc.Agent.UpdateAgent(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, a)
}
