package conversation

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ashwinyue/next-crm/internal/service/event"
)

// CancelHandle 生成任务的取消句柄，可重复调用
type CancelHandle struct {
	cancel   context.CancelFunc
	once     sync.Once
	canceled atomic.Bool
}

func newCancelHandle(cancel context.CancelFunc) *CancelHandle {
	return &CancelHandle{cancel: cancel}
}

// Cancel 取消任务，仅首次调用返回 true
func (h *CancelHandle) Cancel() bool {
	fired := false
	h.once.Do(func() {
		h.canceled.Store(true)
		h.cancel()
		fired = true
	})
	return fired
}

// Canceled 是否已被取消
func (h *CancelHandle) Canceled() bool {
	return h.canceled.Load()
}

// release 任务正常结束时释放 context，不记为取消
func (h *CancelHandle) release() {
	h.cancel()
}

// Task 进行中的生成任务
type Task struct {
	MessageID string
	SessionID string
	TopicID   string
	StartedAt time.Time
	handle    *CancelHandle
}

// Tracker 生成任务跟踪器
// 同一消息 ID 同时最多一个任务，重复 Start 会先取消旧任务；跟踪器本身从不重试
type Tracker struct {
	mu    sync.Mutex
	tasks map[string]*Task
	pub   Publisher
}

// NewTracker 创建跟踪器，pub 可为 nil
func NewTracker(pub Publisher) *Tracker {
	if pub == nil {
		pub = nopPublisher{}
	}
	return &Tracker{
		tasks: make(map[string]*Task),
		pub:   pub,
	}
}

// Start 为消息注册新任务，返回任务 context 和取消句柄
func (t *Tracker) Start(parent context.Context, messageID, sessionID, topicID string) (context.Context, *CancelHandle) {
	ctx, cancel := context.WithCancel(parent)
	handle := newCancelHandle(cancel)

	t.mu.Lock()
	if prior, ok := t.tasks[messageID]; ok {
		prior.handle.Cancel()
	}
	t.tasks[messageID] = &Task{
		MessageID: messageID,
		SessionID: sessionID,
		TopicID:   topicID,
		StartedAt: time.Now(),
		handle:    handle,
	}
	t.mu.Unlock()

	_ = t.pub.Publish(context.Background(), event.New(event.EventTaskStarted, sessionID, topicID, messageID))
	return ctx, handle
}

// Cancel 取消并移除任务，任务不存在时返回 false
func (t *Tracker) Cancel(messageID string) bool {
	t.mu.Lock()
	task, ok := t.tasks[messageID]
	if ok {
		delete(t.tasks, messageID)
	}
	t.mu.Unlock()

	if !ok {
		return false
	}
	task.handle.Cancel()
	t.finished(task, "canceled")
	return true
}

// Finish 任务结束后移除，仅当登记的仍是该句柄时生效
func (t *Tracker) Finish(messageID string, handle *CancelHandle) {
	t.mu.Lock()
	task, ok := t.tasks[messageID]
	if ok && task.handle == handle {
		delete(t.tasks, messageID)
	} else {
		ok = false
	}
	t.mu.Unlock()

	handle.release()
	if ok {
		t.finished(task, "settled")
	}
}

// Rekey 占位 ID 换成服务端 ID 后同步任务键
func (t *Tracker) Rekey(oldID, newID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	task, ok := t.tasks[oldID]
	if !ok || oldID == newID {
		return
	}
	delete(t.tasks, oldID)
	task.MessageID = newID
	t.tasks[newID] = task
}

// IsActive 消息是否有进行中的任务
func (t *Tracker) IsActive(messageID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.tasks[messageID]
	return ok
}

// ActiveInTopic 话题内进行中任务的消息 ID
func (t *Tracker) ActiveInTopic(sessionID, topicID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var ids []string
	for id, task := range t.tasks {
		if task.SessionID == sessionID && task.TopicID == topicID {
			ids = append(ids, id)
		}
	}
	return ids
}

// Len 进行中任务数
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tasks)
}

func (t *Tracker) finished(task *Task, reason string) {
	evt := event.New(event.EventTaskFinished, task.SessionID, task.TopicID, task.MessageID)
	evt.Data = reason
	_ = t.pub.Publish(context.Background(), evt)
}
