package conversation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
)

// replyScript 控制一次 StreamAssistantReply 的行为
type replyScript struct {
	chunks   []string
	hold     chan struct{} // 非空时发完 chunks 后等待关闭或 ctx 取消
	err      error         // 发完 chunks 后返回的错误
	startErr error         // 直接返回的错误
}

// fakeAPI 内存实现的远端接口
type fakeAPI struct {
	mu       sync.Mutex
	seq      int
	messages map[string]*Message
	sessions []*Session
	topics   map[string][]*Topic

	createGate chan struct{}
	createErr  error
	deleteErr  error
	listErr    error
	scripts    []replyScript

	creates       int
	replyInputs   []*ReplyInput
	deleted       []string
	streamCancels int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		messages: make(map[string]*Message),
		topics:   make(map[string][]*Topic),
	}
}

func (f *fakeAPI) script(s replyScript) {
	f.mu.Lock()
	f.scripts = append(f.scripts, s)
	f.mu.Unlock()
}

func (f *fakeAPI) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s%03d", prefix, f.seq)
}

func (f *fakeAPI) seed(m *Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[m.ID] = m.Clone()
}

func (f *fakeAPI) ListMessagesByTopic(ctx context.Context, sessionID, topicID string) ([]*Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []*Message
	for _, m := range f.messages {
		if m.SessionID == sessionID && m.TopicID == topicID {
			out = append(out, m.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return lessMessage(out[i], out[j]) })
	return out, nil
}

func (f *fakeAPI) CreateMessage(ctx context.Context, input *CreateMessageInput) (*Message, error) {
	f.mu.Lock()
	gate := f.createGate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if f.createErr != nil {
		return nil, f.createErr
	}
	m := &Message{
		ID:        f.nextID("srv_u"),
		Role:      input.Role,
		Content:   input.Content,
		ParentID:  input.ParentID,
		SessionID: input.SessionID,
		TopicID:   input.TopicID,
		CreatedAt: time.Now(),
	}
	f.messages[m.ID] = m
	return m.Clone(), nil
}

func (f *fakeAPI) StreamAssistantReply(ctx context.Context, input *ReplyInput) (*schema.StreamReader[*ReplyChunk], error) {
	f.mu.Lock()
	f.replyInputs = append(f.replyInputs, input)
	var s replyScript
	if len(f.scripts) > 0 {
		s = f.scripts[0]
		f.scripts = f.scripts[1:]
	} else {
		s = replyScript{chunks: []string{"ok"}}
	}
	id := input.MessageID
	if id == "" {
		id = f.nextID("srv_a")
	}
	row := &Message{
		ID:        id,
		Role:      RoleAssistant,
		ParentID:  input.ParentID,
		SessionID: input.SessionID,
		TopicID:   input.TopicID,
		CreatedAt: time.Now(),
	}
	f.messages[id] = row
	f.mu.Unlock()

	if s.startErr != nil {
		return nil, s.startErr
	}

	sr, sw := schema.Pipe[*ReplyChunk](len(s.chunks) + 2)
	go func() {
		defer sw.Close()
		sw.Send(&ReplyChunk{MessageID: id}, nil)

		content := ""
		for _, c := range s.chunks {
			content += c
			sw.Send(&ReplyChunk{MessageID: id, Delta: c}, nil)
		}

		if s.hold != nil {
			select {
			case <-s.hold:
			case <-ctx.Done():
				f.mu.Lock()
				f.streamCancels++
				f.mu.Unlock()
				sw.Send(nil, ctx.Err())
				return
			}
		}
		if s.err != nil {
			sw.Send(nil, s.err)
			return
		}

		f.mu.Lock()
		row.Content = content
		final := row.Clone()
		f.mu.Unlock()
		sw.Send(&ReplyChunk{MessageID: id, Final: final}, nil)
	}()
	return sr, nil
}

func (f *fakeAPI) DeleteMessage(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, id)
	delete(f.messages, id)
	return nil
}

func (f *fakeAPI) ListSessions(ctx context.Context) ([]*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions, nil
}

func (f *fakeAPI) CreateSession(ctx context.Context, input *CreateSessionInput) (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &Session{ID: f.nextID("sess_"), Title: input.Title, AgentID: input.AgentID, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	f.sessions = append(f.sessions, s)
	return s, nil
}

func (f *fakeAPI) ListTopics(ctx context.Context, sessionID string) ([]*Topic, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.topics[sessionID], nil
}

func (f *fakeAPI) CreateTopic(ctx context.Context, input *CreateTopicInput) (*Topic, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &Topic{ID: f.nextID("topic_"), SessionID: input.SessionID, Title: input.Title, CreatedAt: time.Now()}
	f.topics[input.SessionID] = append(f.topics[input.SessionID], t)
	return t, nil
}

// fakeIdentity 可切换的身份提供方
type fakeIdentity struct {
	mu         sync.Mutex
	principal  string
	refreshErr error
	refreshes  int
}

func (f *fakeIdentity) PrincipalID(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.principal == "" {
		return "", ErrUnauthenticated
	}
	return f.principal, nil
}

func (f *fakeIdentity) RefreshToken(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	return f.refreshErr
}

var errNetwork = errors.New("connection reset")

// waitFor 轮询等待条件成立
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitOp(t *testing.T, op *Operation) OpState {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	state, err := op.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("operation did not settle, state = %s", state)
	}
	return state
}
