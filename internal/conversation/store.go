package conversation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ashwinyue/next-crm/internal/service/event"
)

// ackClockSkew 服务端与本地时钟允许的偏差
const ackClockSkew = 30 * time.Second

type tombstone struct {
	key string
	rev uint64
}

// Store 按话题组织的消息缓存
// 服务端是权威来源，本地仅允许未确认的乐观消息以及拉取开始后被本地修改的消息暂时与服务端不一致
type Store struct {
	mu      sync.RWMutex
	topics  map[string]map[string]*Message // topicKey -> id -> message
	index   map[string]string              // id -> topicKey
	removed map[string]tombstone           // 本地已删除的服务端 ID
	rev     uint64
	pub     Publisher
}

// NewStore 创建消息缓存，pub 可为 nil
func NewStore(pub Publisher) *Store {
	if pub == nil {
		pub = nopPublisher{}
	}
	return &Store{
		topics:  make(map[string]map[string]*Message),
		index:   make(map[string]string),
		removed: make(map[string]tombstone),
		pub:     pub,
	}
}

// Revision 当前版本号，每次本地修改递增
func (s *Store) Revision() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rev
}

// AppendOptimistic 乐观写入消息，返回其 ID
// ID 为空时生成占位 ID，Status 为空时记为 pending
func (s *Store) AppendOptimistic(msg *Message) string {
	m := msg.Clone()
	if m.ID == "" {
		m.ID = NewPlaceholderID()
	}
	if m.Status == "" {
		m.Status = StatusPending
	}
	now := time.Now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now

	s.mu.Lock()
	s.rev++
	m.rev = s.rev
	s.put(TopicKey(m.SessionID, m.TopicID), m)
	snapshot := m.Clone()
	s.mu.Unlock()

	s.emit(event.EventMessageUpserted, snapshot)
	return snapshot.ID
}

// Reconcile 用服务端记录替换本地消息
// 若服务端 ID 已被并发拉取写入，则合并为一条
func (s *Store) Reconcile(localID string, server *Message) error {
	s.mu.Lock()
	key, ok := s.index[localID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("reconcile %s: %w", localID, ErrMessageNotFound)
	}
	local := s.topics[key][localID]

	m := server.Clone()
	m.Status = statusFromServer(m)
	if local.Status == StatusSuperseded {
		m.Status = StatusSuperseded
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = local.CreatedAt
	}
	if m.SessionID == "" {
		m.SessionID = local.SessionID
		m.TopicID = local.TopicID
	}
	s.rev++
	m.rev = s.rev

	s.drop(localID)
	if other, exists := s.index[m.ID]; exists {
		delete(s.topics[other], m.ID)
	}
	s.put(TopicKey(m.SessionID, m.TopicID), m)
	snapshot := m.Clone()
	s.mu.Unlock()

	if localID != snapshot.ID {
		s.emit(event.EventMessageRekeyed, snapshot, localID)
	}
	s.emit(event.EventMessageUpserted, snapshot)
	return nil
}

// Rekey 将占位 ID 换成服务端 ID，内容与状态保持不变
// 本地消息已不存在时返回 false
func (s *Store) Rekey(oldID, newID string) bool {
	if oldID == newID {
		return s.has(oldID)
	}

	s.mu.Lock()
	key, ok := s.index[oldID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	m := s.topics[key][oldID]
	s.drop(oldID)
	if other, exists := s.index[newID]; exists {
		delete(s.topics[other], newID)
	}
	m.ID = newID
	s.rev++
	m.rev = s.rev
	s.put(key, m)
	snapshot := m.Clone()
	s.mu.Unlock()

	s.emit(event.EventMessageRekeyed, snapshot, oldID)
	return true
}

// AppendContent 向生成中的消息追加内容，消息不处于 streaming 时忽略
func (s *Store) AppendContent(id, delta string) bool {
	return s.mutate(id, func(m *Message) bool {
		if m.Status != StatusStreaming {
			return false
		}
		m.Content += delta
		return true
	})
}

// SetTools 设置工具调用载荷
func (s *Store) SetTools(id string, tools []byte) bool {
	return s.mutate(id, func(m *Message) bool {
		m.Tools = append([]byte(nil), tools...)
		return true
	})
}

// SetStatus 设置本地状态
func (s *Store) SetStatus(id string, status Status) bool {
	return s.mutate(id, func(m *Message) bool {
		m.Status = status
		return true
	})
}

// CompleteStreaming 生成结束且无服务端终稿时将 streaming 消息记为已确认
func (s *Store) CompleteStreaming(id string) bool {
	return s.mutate(id, func(m *Message) bool {
		if m.Status != StatusStreaming {
			return false
		}
		m.Status = StatusConfirmed
		return true
	})
}

// Fail 标记失败，保留已有内容
func (s *Store) Fail(id string, e *MessageError) bool {
	return s.mutate(id, func(m *Message) bool {
		if m.Status == StatusSuperseded {
			return false
		}
		m.Status = StatusError
		m.Error = e
		return true
	})
}

// MarkCanceled 标记取消，保留已有内容；仅作用于 pending 或 streaming 的消息
func (s *Store) MarkCanceled(id string) bool {
	return s.mutate(id, func(m *Message) bool {
		if m.Status != StatusPending && m.Status != StatusStreaming {
			return false
		}
		m.Status = StatusCanceled
		m.Error = &MessageError{Type: ErrorTypeCanceled, Message: "canceled"}
		return true
	})
}

// MarkSuperseded 标记为已被重新生成替代
func (s *Store) MarkSuperseded(id string) bool {
	return s.mutate(id, func(m *Message) bool {
		m.Status = StatusSuperseded
		return true
	})
}

// ResetForRetry 清除错误并进入指定状态；助手消息同时清空内容
func (s *Store) ResetForRetry(id string, status Status) bool {
	return s.mutate(id, func(m *Message) bool {
		m.Status = status
		m.Error = nil
		if m.Role == RoleAssistant {
			m.Content = ""
			m.Tools = nil
		}
		return true
	})
}

// Remove 移除消息
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	key, ok := s.index[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	m := s.topics[key][id]
	s.drop(id)
	s.rev++
	if !IsPlaceholder(id) {
		s.removed[id] = tombstone{key: key, rev: s.rev}
	}
	s.mu.Unlock()

	s.emit(event.EventMessageRemoved, m)
	return true
}

// Clear 清空话题缓存
func (s *Store) Clear(sessionID, topicID string) {
	key := TopicKey(sessionID, topicID)
	s.mu.Lock()
	for id := range s.topics[key] {
		delete(s.index, id)
	}
	delete(s.topics, key)
	s.rev++
	s.mu.Unlock()
}

// Get 按 ID 获取消息副本
func (s *Store) Get(id string) (*Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.index[id]
	if !ok {
		return nil, false
	}
	return s.topics[key][id].Clone(), true
}

// List 话题内消息，按创建时间升序，时间相同按 ID 字典序
func (s *Store) List(sessionID, topicID string) []*Message {
	s.mu.RLock()
	bucket := s.topics[TopicKey(sessionID, topicID)]
	out := make([]*Message, 0, len(bucket))
	for _, m := range bucket {
		out = append(out, m.Clone())
	}
	s.mu.RUnlock()

	sortMessages(out)
	return out
}

// LatestChild 最近一条未被替代的指定角色子消息
func (s *Store) LatestChild(parentID, role string) (*Message, bool) {
	s.mu.RLock()
	key, ok := s.index[parentID]
	if !ok {
		s.mu.RUnlock()
		return nil, false
	}
	var latest *Message
	for _, m := range s.topics[key] {
		if m.ParentID != parentID || m.Role != role || m.Status == StatusSuperseded {
			continue
		}
		if latest == nil || lessMessage(latest, m) {
			latest = m
		}
	}
	s.mu.RUnlock()

	if latest == nil {
		return nil, false
	}
	return latest.Clone(), true
}

// FetchMessages 拉取话题消息并与本地合并
// 可与进行中的发送并发调用
func (s *Store) FetchMessages(ctx context.Context, api MessageAPI, sessionID, topicID string) error {
	since := s.Revision()
	server, err := api.ListMessagesByTopic(ctx, sessionID, topicID)
	if err != nil {
		return fmt.Errorf("fetch messages: %w", err)
	}
	s.Merge(sessionID, topicID, server, since)
	return nil
}

// Merge 以服务端列表合并话题消息，since 为拉取开始前的版本号
// 服务端数据优先；未确认的本地消息、已被替代的消息以及 since 之后本地修改过的消息保留本地版本
func (s *Store) Merge(sessionID, topicID string, server []*Message, since uint64) {
	key := TopicKey(sessionID, topicID)

	s.mu.Lock()
	local := s.topics[key]
	next := make(map[string]*Message, len(server)+len(local))
	seen := make(map[string]bool, len(server))

	for _, sm := range server {
		seen[sm.ID] = true
		if lm, ok := local[sm.ID]; ok {
			if keepLocal(lm, since) {
				next[sm.ID] = lm
				continue
			}
		} else {
			if t, gone := s.removed[sm.ID]; gone && t.rev > since {
				continue
			}
			if other, elsewhere := s.index[sm.ID]; elsewhere && other != key {
				continue
			}
			if shadowedByPlaceholder(local, sm) {
				continue
			}
		}
		m := sm.Clone()
		m.Status = statusFromServer(m)
		m.SessionID, m.TopicID = sessionID, topicID
		next[m.ID] = m
	}

	for id, lm := range local {
		if seen[id] {
			continue
		}
		if IsPlaceholder(id) || lm.Status == StatusPending || lm.Status == StatusStreaming || lm.rev > since {
			next[id] = lm
		}
	}

	for id := range local {
		if _, ok := next[id]; !ok {
			delete(s.index, id)
		}
	}
	for id := range next {
		s.index[id] = key
	}
	for id, t := range s.removed {
		if t.key == key && t.rev <= since {
			delete(s.removed, id)
		}
	}
	s.topics[key] = next
	s.mu.Unlock()

	evt := event.New(event.EventMessagesMerged, sessionID, topicID, "")
	_ = s.pub.Publish(context.Background(), evt)
}

// ========== 内部方法 ==========

func keepLocal(m *Message, since uint64) bool {
	switch m.Status {
	case StatusPending, StatusStreaming, StatusSuperseded:
		return true
	}
	return m.rev > since
}

// shadowedByPlaceholder 服务端新消息是否对应本地尚未换成服务端 ID 的占位消息
// 早于占位消息创建时间的服务端消息不可能是它的确认
func shadowedByPlaceholder(local map[string]*Message, sm *Message) bool {
	for id, lm := range local {
		if !IsPlaceholder(id) || lm.Role != sm.Role || lm.ParentID != sm.ParentID {
			continue
		}
		if lm.Status != StatusPending && lm.Status != StatusStreaming {
			continue
		}
		if !sm.CreatedAt.IsZero() && sm.CreatedAt.Before(lm.CreatedAt.Add(-ackClockSkew)) {
			continue
		}
		if lm.Role == RoleUser && lm.Content != sm.Content {
			continue
		}
		return true
	}
	return false
}

func (s *Store) has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.index[id]
	return ok
}

// put 需持有写锁
func (s *Store) put(key string, m *Message) {
	bucket := s.topics[key]
	if bucket == nil {
		bucket = make(map[string]*Message)
		s.topics[key] = bucket
	}
	bucket[m.ID] = m
	s.index[m.ID] = key
}

// drop 需持有写锁
func (s *Store) drop(id string) {
	key, ok := s.index[id]
	if !ok {
		return
	}
	delete(s.topics[key], id)
	delete(s.index, id)
}

func (s *Store) mutate(id string, fn func(m *Message) bool) bool {
	s.mu.Lock()
	key, ok := s.index[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	m := s.topics[key][id]
	if !fn(m) {
		s.mu.Unlock()
		return false
	}
	s.rev++
	m.rev = s.rev
	m.UpdatedAt = time.Now()
	snapshot := m.Clone()
	s.mu.Unlock()

	s.emit(event.EventMessageUpserted, snapshot)
	return true
}

func (s *Store) emit(t event.EventType, m *Message, data ...string) {
	evt := event.New(t, m.SessionID, m.TopicID, m.ID)
	if len(data) > 0 {
		evt.Data = data[0]
	}
	if t == event.EventMessageUpserted {
		evt.Metadata = map[string]interface{}{"status": string(m.Status)}
	}
	_ = s.pub.Publish(context.Background(), evt)
}

func lessMessage(a, b *Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func sortMessages(msgs []*Message) {
	sort.Slice(msgs, func(i, j int) bool { return lessMessage(msgs[i], msgs[j]) })
}
