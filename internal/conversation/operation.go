package conversation

import (
	"context"
	"sync"
)

// OpState 发送操作状态
type OpState string

const (
	OpIdle      OpState = "idle"
	OpDrafting  OpState = "drafting"
	OpSending   OpState = "sending"
	OpStreaming OpState = "streaming"
	OpSucceeded OpState = "succeeded"
	OpFailed    OpState = "failed"
	OpCanceled  OpState = "canceled"
)

// Settled 是否为终态
func (s OpState) Settled() bool {
	return s == OpSucceeded || s == OpFailed || s == OpCanceled
}

// Operation 一次发送、重新生成或重试
type Operation struct {
	SessionID string
	TopicID   string

	mu          sync.Mutex
	state       OpState
	userID      string
	assistantID string
	handle      *CancelHandle
	err         error
	done        chan struct{}
}

func newOperation(sessionID, topicID string) *Operation {
	return &Operation{
		SessionID: sessionID,
		TopicID:   topicID,
		state:     OpSending,
		done:      make(chan struct{}),
	}
}

// State 当前状态
func (op *Operation) State() OpState {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.state
}

// Err 失败原因，成功或取消时为 nil
func (op *Operation) Err() error {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.err
}

// UserMessageID 用户消息 ID，确认前为占位 ID
func (op *Operation) UserMessageID() string {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.userID
}

// AssistantMessageID 助手消息 ID，服务端分配后更新
func (op *Operation) AssistantMessageID() string {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.assistantID
}

// Done 终态时关闭
func (op *Operation) Done() <-chan struct{} {
	return op.done
}

// Wait 等待终态
func (op *Operation) Wait(ctx context.Context) (OpState, error) {
	select {
	case <-op.done:
		return op.State(), op.Err()
	case <-ctx.Done():
		return op.State(), ctx.Err()
	}
}

func (op *Operation) setState(s OpState) {
	op.mu.Lock()
	op.state = s
	op.mu.Unlock()
}

func (op *Operation) setUserID(id string) {
	op.mu.Lock()
	op.userID = id
	op.mu.Unlock()
}

func (op *Operation) setAssistantID(id string) {
	op.mu.Lock()
	op.assistantID = id
	op.mu.Unlock()
}

func (op *Operation) setTask(assistantID string, handle *CancelHandle) {
	op.mu.Lock()
	op.assistantID = assistantID
	op.handle = handle
	op.mu.Unlock()
}

func (op *Operation) taskHandle() *CancelHandle {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.handle
}

// settle 进入终态，重复调用无效
func (op *Operation) settle(s OpState, err error) bool {
	op.mu.Lock()
	defer op.mu.Unlock()
	if op.state.Settled() {
		return false
	}
	op.state = s
	op.err = err
	close(op.done)
	return true
}
