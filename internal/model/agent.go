package model

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

// 内置 Agent ID
const (
	BuiltinCustomerServiceID = "builtin-customer-service"
)

// IsBuiltinAgentID 检查是否是内置 Agent ID
func IsBuiltinAgentID(id string) bool {
	return id == BuiltinCustomerServiceID
}

// Agent 会话关联的助手配置
type Agent struct {
	ID          string         `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Title       string         `gorm:"size:255;not null" json:"title"`
	Description string         `gorm:"type:text" json:"description"`
	Avatar      string         `gorm:"size:64" json:"avatar,omitempty"`
	SystemRole  string         `gorm:"type:text" json:"system_role"`
	Provider    string         `gorm:"size:32" json:"provider"`
	Model       string         `gorm:"size:64" json:"model"`
	Temperature float64        `gorm:"default:0.7" json:"temperature"`
	HistoryLen  int            `gorm:"default:20" json:"history_count"` // 发送给模型的历史消息条数
	Plugins     pq.StringArray `gorm:"type:text" json:"plugins"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

// TableName 指定表名
func (Agent) TableName() string {
	return "agents"
}

// DefaultAgent 内置客服助手
func DefaultAgent() *Agent {
	return &Agent{
		ID:          BuiltinCustomerServiceID,
		Title:       "客服助手",
		Description: "默认的客户沟通助手",
		SystemRole:  "You are a helpful customer service assistant. Answer concisely and politely.",
		Temperature: 0.7,
		HistoryLen:  20,
	}
}
