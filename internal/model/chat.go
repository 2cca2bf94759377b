package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// 消息角色
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// ChatSession 聊天会话（客户会话通道）
type ChatSession struct {
	ID        string         `gorm:"primaryKey;size:36" json:"id"`
	UserID    string         `gorm:"index;size:36" json:"user_id"`
	AgentID   string         `gorm:"index;size:36" json:"agent_id"`
	Title     string         `gorm:"size:255" json:"title"`
	Pinned    bool           `gorm:"default:false;index" json:"pinned"`
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// ChatTopic 会话下的话题
type ChatTopic struct {
	ID        string         `gorm:"primaryKey;size:36" json:"id"`
	SessionID string         `gorm:"index;size:36;not null" json:"session_id"`
	UserID    string         `gorm:"index;size:36" json:"user_id"`
	Title     string         `gorm:"size:255" json:"title"`
	CreatedAt time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// ChatMessage 聊天消息
// TopicID 为空表示会话的默认话题
type ChatMessage struct {
	ID        string         `gorm:"primaryKey;size:36" json:"id"`
	SessionID string         `gorm:"index;size:36" json:"session_id"`
	TopicID   string         `gorm:"index;size:36" json:"topic_id,omitempty"`
	ParentID  string         `gorm:"index;size:36" json:"parent_id,omitempty"`
	UserID    string         `gorm:"index;size:36" json:"user_id"`
	Role      string         `gorm:"size:20;index" json:"role"` // user, assistant, system
	Content   string         `gorm:"type:text" json:"content"`
	Tools     datatypes.JSON `json:"tools,omitempty"`
	Error     datatypes.JSON `json:"error,omitempty"`
	TokenUsed int            `gorm:"default:0" json:"token_used"`
	CreatedAt time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName 指定表名
func (ChatSession) TableName() string {
	return "chat_sessions"
}

func (ChatTopic) TableName() string {
	return "chat_topics"
}

func (ChatMessage) TableName() string {
	return "chat_messages"
}
