// Package event provides ordered state-change notifications for the conversation core
package event

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType 事件类型
type EventType string

const (
	// EventMessageUpserted 消息新增或更新
	EventMessageUpserted EventType = "message.upserted"
	// EventMessageRemoved 消息移除
	EventMessageRemoved EventType = "message.removed"
	// EventMessageRekeyed 占位消息换成服务端 ID
	EventMessageRekeyed EventType = "message.rekeyed"
	// EventMessagesMerged 话题消息与服务端合并
	EventMessagesMerged EventType = "messages.merged"
	// EventTaskStarted 生成任务开始
	EventTaskStarted EventType = "task.started"
	// EventTaskFinished 生成任务结束或取消
	EventTaskFinished EventType = "task.finished"
	// EventActiveChanged 当前会话/话题切换
	EventActiveChanged EventType = "active.changed"
	// EventOperationState 发送操作状态变化
	EventOperationState EventType = "operation.state"
	// EventUnauthenticated 身份失效，需要外部重新登录
	EventUnauthenticated EventType = "auth.unauthenticated"
)

// Event 状态变化事件
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	SessionID string                 `json:"session_id,omitempty"`
	TopicID   string                 `json:"topic_id,omitempty"`
	MessageID string                 `json:"message_id,omitempty"`
	Data      string                 `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// New 创建事件
func New(eventType EventType, sessionID, topicID, messageID string) *Event {
	return &Event{
		ID:        "evt_" + uuid.New().String(),
		Type:      eventType,
		SessionID: sessionID,
		TopicID:   topicID,
		MessageID: messageID,
		Timestamp: time.Now(),
	}
}

// Store 事件存储接口
type Store interface {
	SaveEvent(ctx context.Context, evt *Event) error
	GetEvents(ctx context.Context, sessionID string) ([]*Event, error)
	ClearEvents(ctx context.Context, sessionID string) error
}

// Handler 事件处理器接口
type Handler interface {
	Handle(ctx context.Context, evt *Event) error
}

// HandlerFunc 函数类型的事件处理器
type HandlerFunc func(ctx context.Context, evt *Event) error

// Handle 实现 Handler 接口
func (f HandlerFunc) Handle(ctx context.Context, evt *Event) error {
	return f(ctx, evt)
}

// ========== Bus ==========

type subscription struct {
	id      uint64
	handler Handler
}

// Bus 事件总线
// Publish 在调用方 goroutine 中按订阅顺序同步投递，保证同一发布者的事件有序
type Bus struct {
	store       Store
	subscribers []subscription
	nextID      uint64
	mu          sync.RWMutex
}

// NewBus 创建事件总线，store 可为 nil
func NewBus(store Store) *Bus {
	return &Bus{store: store}
}

// Subscribe 订阅事件，返回取消订阅函数
func (b *Bus) Subscribe(handler Handler) (func(), error) {
	if handler == nil {
		return nil, fmt.Errorf("handler cannot be nil")
	}

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subscribers = append(b.subscribers, subscription{id: id, handler: handler})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(id) })
	}, nil
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.subscribers {
		if s.id == id {
			b.subscribers = append(b.subscribers[:i:i], b.subscribers[i+1:]...)
			return
		}
	}
}

// Publish 发布事件
// 处理器返回的错误不会中断后续处理器
func (b *Bus) Publish(ctx context.Context, evt *Event) error {
	if b == nil || evt == nil {
		return nil
	}

	if b.store != nil {
		if err := b.store.SaveEvent(ctx, evt); err != nil {
			return fmt.Errorf("failed to save event: %w", err)
		}
	}

	b.mu.RLock()
	subs := make([]subscription, len(b.subscribers))
	copy(subs, b.subscribers)
	b.mu.RUnlock()

	for _, s := range subs {
		_ = s.handler.Handle(ctx, evt)
	}
	return nil
}

// Events 获取会话的历史事件
func (b *Bus) Events(ctx context.Context, sessionID string) ([]*Event, error) {
	if b.store != nil {
		return b.store.GetEvents(ctx, sessionID)
	}
	return []*Event{}, nil
}

// ========== MemoryStore ==========

// MemoryStore 内存事件存储，每个会话最多保留 limit 条
type MemoryStore struct {
	events map[string][]*Event
	limit  int
	mu     sync.Mutex
}

// NewMemoryStore 创建内存事件存储
func NewMemoryStore(limit int) *MemoryStore {
	if limit <= 0 {
		limit = 200
	}
	return &MemoryStore{
		events: make(map[string][]*Event),
		limit:  limit,
	}
}

// SaveEvent 保存事件
func (s *MemoryStore) SaveEvent(ctx context.Context, evt *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := append(s.events[evt.SessionID], evt)
	if len(list) > s.limit {
		list = list[len(list)-s.limit:]
	}
	s.events[evt.SessionID] = list
	return nil
}

// GetEvents 获取会话事件
func (s *MemoryStore) GetEvents(ctx context.Context, sessionID string) ([]*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Event{}, s.events[sessionID]...), nil
}

// ClearEvents 清空会话事件
func (s *MemoryStore) ClearEvents(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.events, sessionID)
	return nil
}
