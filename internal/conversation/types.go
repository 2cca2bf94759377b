// Package conversation 客户端会话状态机
// 负责维护当前会话/话题、带乐观写入的消息缓存以及可取消的生成任务，并与远端消息存储保持一致
package conversation

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// 消息角色
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Status 消息本地状态
type Status string

const (
	StatusConfirmed  Status = "confirmed"  // 已与服务端一致
	StatusPending    Status = "pending"    // 乐观写入，等待服务端确认
	StatusStreaming  Status = "streaming"  // 助手回复生成中
	StatusError      Status = "error"      // 失败，可重试或删除
	StatusCanceled   Status = "canceled"   // 用户取消，保留已生成内容
	StatusSuperseded Status = "superseded" // 被重新生成替代
)

// 错误类型，写入 MessageError.Type
const (
	ErrorTypeCreate   = "create_failed"
	ErrorTypeStream   = "stream_failed"
	ErrorTypeDelete   = "delete_failed"
	ErrorTypeCanceled = "canceled"
)

const placeholderPrefix = "tmp_"

var (
	ErrEmptyContent     = errors.New("conversation: content is empty")
	ErrBusy             = errors.New("conversation: another operation is in progress for this topic")
	ErrUnauthenticated  = errors.New("conversation: unauthenticated")
	ErrNoActiveSession  = errors.New("conversation: no active session")
	ErrMessageNotFound  = errors.New("conversation: message not found")
	ErrInvalidTarget    = errors.New("conversation: message cannot be used for this action")
	ErrOrchestratorDone = errors.New("conversation: orchestrator closed")
)

// MessageError 消息上的错误载荷
type MessageError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Message 会话消息
type Message struct {
	ID        string          `json:"id"`
	Role      string          `json:"role"`
	Content   string          `json:"content"`
	ParentID  string          `json:"parent_id,omitempty"`
	SessionID string          `json:"session_id"`
	TopicID   string          `json:"topic_id,omitempty"`
	Tools     json.RawMessage `json:"tools,omitempty"`
	Error     *MessageError   `json:"error,omitempty"`
	Status    Status          `json:"status,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`

	// rev 最近一次本地修改时的存储版本号
	rev uint64
}

// Clone 深拷贝
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	if m.Tools != nil {
		c.Tools = append(json.RawMessage(nil), m.Tools...)
	}
	if m.Error != nil {
		e := *m.Error
		c.Error = &e
	}
	return &c
}

// Session 会话
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	AgentID   string    `json:"agent_id,omitempty"`
	Pinned    bool      `json:"pinned"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Topic 话题
type Topic struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

// ReplyChunk 助手回复流中的一个事件
// MessageID 为服务端分配的助手消息 ID，首个事件即带上；Final 仅在流结束前的最后一个事件中出现
type ReplyChunk struct {
	MessageID string          `json:"message_id,omitempty"`
	Delta     string          `json:"delta,omitempty"`
	Tools     json.RawMessage `json:"tools,omitempty"`
	Final     *Message        `json:"final,omitempty"`
}

// CreateMessageInput 创建消息参数
type CreateMessageInput struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	ParentID  string `json:"parent_id,omitempty"`
	SessionID string `json:"session_id"`
	TopicID   string `json:"topic_id,omitempty"`
}

// ReplyInput 生成助手回复参数
// MessageID 非空时服务端在该消息上原地重新生成
type ReplyInput struct {
	SessionID string `json:"session_id"`
	TopicID   string `json:"topic_id,omitempty"`
	ParentID  string `json:"parent_id"`
	AgentID   string `json:"agent_id,omitempty"`
	MessageID string `json:"message_id,omitempty"`
}

// CreateSessionInput 创建会话参数
type CreateSessionInput struct {
	Title   string `json:"title"`
	AgentID string `json:"agent_id,omitempty"`
}

// CreateTopicInput 创建话题参数
type CreateTopicInput struct {
	SessionID string `json:"session_id"`
	Title     string `json:"title"`
}

// NewPlaceholderID 生成本地占位 ID
func NewPlaceholderID() string {
	return placeholderPrefix + uuid.New().String()
}

// IsPlaceholder 是否为本地占位 ID
func IsPlaceholder(id string) bool {
	return strings.HasPrefix(id, placeholderPrefix)
}

// TopicKey 话题在本地缓存中的键，空话题 ID 表示会话的默认话题
func TopicKey(sessionID, topicID string) string {
	return sessionID + "/" + topicID
}

// statusFromServer 根据服务端错误载荷推导本地状态
func statusFromServer(m *Message) Status {
	if m.Error == nil {
		return StatusConfirmed
	}
	if m.Error.Type == ErrorTypeCanceled {
		return StatusCanceled
	}
	return StatusError
}
