package conversation

import (
	"sort"
	"sync"
)

// URL 参数键
const (
	ParamSession = "session"
	ParamTopic   = "topic"
)

// Active 当前激活的会话与话题
type Active struct {
	SessionID string `json:"session_id"`
	TopicID   string `json:"topic_id"`
}

// Registry 会话/话题注册表
// 只记录指针，不校验引用的会话或话题是否存在
type Registry struct {
	mu       sync.RWMutex
	active   Active
	sessions map[string]*Session
	topics   map[string]map[string]*Topic // sessionID -> topicID -> topic
}

// NewRegistry 创建注册表
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		topics:   make(map[string]map[string]*Topic),
	}
}

// SetActiveSession 切换当前会话
func (r *Registry) SetActiveSession(id string) {
	r.mu.Lock()
	r.active.SessionID = id
	r.mu.Unlock()
}

// SetActiveTopic 切换当前话题，空字符串表示默认话题
func (r *Registry) SetActiveTopic(id string) {
	r.mu.Lock()
	r.active.TopicID = id
	r.mu.Unlock()
}

// InitFromURLParams 从参数源读取会话/话题，缺失的键保持原值
func (r *Registry) InitFromURLParams(params ParamSource) {
	if params == nil {
		return
	}
	if id := params.Get(ParamSession); id != "" {
		r.SetActiveSession(id)
	}
	if id := params.Get(ParamTopic); id != "" {
		r.SetActiveTopic(id)
	}
}

// Active 当前激活的会话与话题
func (r *Registry) Active() Active {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// SetSessions 以服务端列表替换已知会话
func (r *Registry) SetSessions(sessions []*Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions = make(map[string]*Session, len(sessions))
	for _, s := range sessions {
		c := *s
		r.sessions[s.ID] = &c
	}
}

// UpsertSession 新增或更新会话
func (r *Registry) UpsertSession(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *s
	r.sessions[s.ID] = &c
}

// HasSession 会话是否已知
func (r *Registry) HasSession(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[id]
	return ok
}

// Sessions 已知会话，置顶优先，其次按更新时间倒序
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		c := *s
		out = append(out, &c)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Pinned != out[j].Pinned {
			return out[i].Pinned
		}
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// SetTopics 以服务端列表替换会话下的话题
func (r *Registry) SetTopics(sessionID string, topics []*Topic) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m := make(map[string]*Topic, len(topics))
	for _, t := range topics {
		c := *t
		m[t.ID] = &c
	}
	r.topics[sessionID] = m
}

// UpsertTopic 新增或更新话题
func (r *Registry) UpsertTopic(t *Topic) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m := r.topics[t.SessionID]
	if m == nil {
		m = make(map[string]*Topic)
		r.topics[t.SessionID] = m
	}
	c := *t
	m[t.ID] = &c
}

// Topics 会话下的话题，按创建时间升序
func (r *Registry) Topics(sessionID string) []*Topic {
	r.mu.RLock()
	out := make([]*Topic, 0, len(r.topics[sessionID]))
	for _, t := range r.topics[sessionID] {
		c := *t
		out = append(out, &c)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
