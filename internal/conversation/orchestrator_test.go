package conversation

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"testing"

	"github.com/ashwinyue/next-crm/internal/service/event"
)

func newTestOrchestrator(t *testing.T, api *fakeAPI) *Orchestrator {
	t.Helper()
	o := New(Options{
		Messages: api,
		Sessions: api,
		Identity: &fakeIdentity{principal: "emp-1"},
		AgentID:  "agent-1",
	})
	t.Cleanup(o.Close)
	return o
}

func withActive(o *Orchestrator, sessionID, topicID string) *Orchestrator {
	o.Registry().SetActiveSession(sessionID)
	o.Registry().SetActiveTopic(topicID)
	return o
}

func byRole(msgs []*Message, role string) []*Message {
	var out []*Message
	for _, m := range msgs {
		if m.Role == role {
			out = append(out, m)
		}
	}
	return out
}

// ========== 发送并确认 ==========

func TestOrchestrator_SendConfirmsOptimisticMessage(t *testing.T) {
	api := newFakeAPI()
	gate := make(chan struct{})
	api.createGate = gate
	o := withActive(newTestOrchestrator(t, api), "s1", "")

	op, err := o.Send(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	msgs := o.Store().List("s1", "")
	if len(msgs) != 1 {
		t.Fatalf("messages before confirmation = %d, want 1", len(msgs))
	}
	if msgs[0].Content != "hello" || msgs[0].Status != StatusPending || !IsPlaceholder(msgs[0].ID) {
		t.Errorf("optimistic message = %+v", msgs[0])
	}
	if got := o.TopicState("s1", ""); got != OpSending {
		t.Errorf("TopicState() = %s, want sending", got)
	}

	close(gate)
	if state := waitOp(t, op); state != OpSucceeded {
		t.Fatalf("operation state = %s, err = %v", state, op.Err())
	}

	users := byRole(o.Store().List("s1", ""), RoleUser)
	if len(users) != 1 {
		t.Fatalf("user messages = %d, want 1", len(users))
	}
	if IsPlaceholder(users[0].ID) || users[0].Status != StatusConfirmed {
		t.Errorf("user message = %+v, want confirmed server id", users[0])
	}
	if users[0].ID != op.UserMessageID() {
		t.Errorf("op.UserMessageID() = %s, want %s", op.UserMessageID(), users[0].ID)
	}

	assistants := byRole(o.Store().List("s1", ""), RoleAssistant)
	if len(assistants) != 1 || assistants[0].Content != "ok" || assistants[0].ParentID != users[0].ID {
		t.Errorf("assistant messages = %+v", assistants)
	}
	if o.Tracker().Len() != 0 {
		t.Error("tracker not cleared after success")
	}
	if got := o.TopicState("s1", ""); got != OpIdle {
		t.Errorf("TopicState() after settle = %s, want idle", got)
	}
}

func TestOrchestrator_SendValidation(t *testing.T) {
	api := newFakeAPI()
	api.createGate = make(chan struct{})
	o := withActive(newTestOrchestrator(t, api), "s1", "")

	if _, err := o.Send(context.Background(), "   "); !errors.Is(err, ErrEmptyContent) {
		t.Errorf("Send(empty) error = %v, want ErrEmptyContent", err)
	}
	if n := len(o.Store().List("s1", "")); n != 0 {
		t.Errorf("empty send touched the store: %d messages", n)
	}

	if _, err := o.Send(context.Background(), "first"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if _, err := o.Send(context.Background(), "second"); !errors.Is(err, ErrBusy) {
		t.Errorf("concurrent Send() error = %v, want ErrBusy", err)
	}
	if n := len(o.Store().List("s1", "")); n != 1 {
		t.Errorf("messages = %d, want 1", n)
	}

	// 其它话题不受影响
	o.Registry().SetActiveTopic("t2")
	if _, err := o.Send(context.Background(), "other topic"); err != nil {
		t.Errorf("Send() in another topic error = %v", err)
	}
}

func TestOrchestrator_DraftState(t *testing.T) {
	o := withActive(newTestOrchestrator(t, newFakeAPI()), "s1", "")

	if got := o.TopicState("s1", ""); got != OpIdle {
		t.Errorf("TopicState() = %s, want idle", got)
	}
	o.SetDraft("typing")
	if got := o.TopicState("s1", ""); got != OpDrafting {
		t.Errorf("TopicState() = %s, want drafting", got)
	}
	o.SetDraft("")
	if got := o.TopicState("s1", ""); got != OpIdle {
		t.Errorf("TopicState() = %s, want idle", got)
	}
}

func TestOrchestrator_SendCreatesSession(t *testing.T) {
	api := newFakeAPI()
	o := newTestOrchestrator(t, api)

	op, err := o.Send(context.Background(), "first message of the day")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	waitOp(t, op)

	active := o.Registry().Active()
	if active.SessionID == "" || !o.Registry().HasSession(active.SessionID) {
		t.Fatalf("active session = %+v, want a created session", active)
	}
	if op.SessionID != active.SessionID {
		t.Errorf("op.SessionID = %s, want %s", op.SessionID, active.SessionID)
	}
	if len(api.sessions) != 1 || api.sessions[0].AgentID != "agent-1" {
		t.Errorf("created sessions = %+v", api.sessions)
	}
}

func TestOrchestrator_CreateFailureThenRetry(t *testing.T) {
	api := newFakeAPI()
	api.createErr = errNetwork
	o := withActive(newTestOrchestrator(t, api), "s1", "")

	op, err := o.Send(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if state := waitOp(t, op); state != OpFailed || !errors.Is(op.Err(), errNetwork) {
		t.Fatalf("state = %s, err = %v", state, op.Err())
	}

	msgs := o.Store().List("s1", "")
	if len(msgs) != 1 || msgs[0].Status != StatusError || msgs[0].Error.Type != ErrorTypeCreate {
		t.Fatalf("after failure = %+v", msgs)
	}
	failedID := msgs[0].ID

	api.mu.Lock()
	api.createErr = nil
	api.mu.Unlock()

	retry, err := o.Retry(context.Background(), failedID)
	if err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if state := waitOp(t, retry); state != OpSucceeded {
		t.Fatalf("retry state = %s, err = %v", state, retry.Err())
	}

	users := byRole(o.Store().List("s1", ""), RoleUser)
	if len(users) != 1 || users[0].Status != StatusConfirmed || users[0].Content != "hello" {
		t.Errorf("user messages after retry = %+v", users)
	}
	if api.creates != 2 {
		t.Errorf("creates = %d, want 2 (no automatic retry)", api.creates)
	}
}

// ========== 生成中重新生成 ==========

func TestOrchestrator_RegenerateWhileStreaming(t *testing.T) {
	api := newFakeAPI()
	api.script(replyScript{chunks: []string{"first "}, hold: make(chan struct{})})
	api.script(replyScript{chunks: []string{"second"}})
	o := withActive(newTestOrchestrator(t, api), "s1", "")

	var mu sync.Mutex
	starts := 0
	_, _ = o.Subscribe(event.HandlerFunc(func(ctx context.Context, evt *event.Event) error {
		if evt.Type == event.EventTaskStarted {
			mu.Lock()
			starts++
			mu.Unlock()
		}
		return nil
	}))

	op, err := o.Send(context.Background(), "question")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	var m1 string
	waitFor(t, "first chunk", func() bool {
		m1 = op.AssistantMessageID()
		got, ok := o.Store().Get(m1)
		return ok && got.Content == "first "
	})
	mu.Lock()
	startsBefore := starts
	mu.Unlock()

	regen, err := o.Regenerate(context.Background(), m1)
	if err != nil {
		t.Fatalf("Regenerate() error = %v", err)
	}
	if state := waitOp(t, op); state != OpCanceled {
		t.Errorf("original operation = %s, want canceled", state)
	}
	if state := waitOp(t, regen); state != OpSucceeded {
		t.Fatalf("regenerate state = %s, err = %v", state, regen.Err())
	}

	api.mu.Lock()
	cancels, replies := api.streamCancels, len(api.replyInputs)
	api.mu.Unlock()
	if cancels != 1 {
		t.Errorf("prior stream cancellations = %d, want 1", cancels)
	}
	if replies != 2 {
		t.Errorf("reply streams = %d, want 2", replies)
	}
	mu.Lock()
	if starts-startsBefore != 1 {
		t.Errorf("tasks started by regenerate = %d, want 1", starts-startsBefore)
	}
	mu.Unlock()

	msgs := o.Store().List("s1", "")
	if users := byRole(msgs, RoleUser); len(users) != 1 {
		t.Errorf("user messages = %d, want 1", len(users))
	}
	var live []*Message
	for _, m := range byRole(msgs, RoleAssistant) {
		if m.ID == m1 && m.Status != StatusSuperseded {
			t.Errorf("old reply %s status = %s, want superseded or removed", m1, m.Status)
		}
		if m.Status != StatusSuperseded {
			live = append(live, m)
		}
	}
	if len(live) != 1 || live[0].Content != "second" || live[0].ParentID != op.UserMessageID() {
		t.Errorf("live assistant replies = %+v", live)
	}
}

func TestOrchestrator_RegenerateFromUserMessage(t *testing.T) {
	api := newFakeAPI()
	o := withActive(newTestOrchestrator(t, api), "s1", "")

	op, _ := o.Send(context.Background(), "question")
	waitOp(t, op)
	userID, oldReply := op.UserMessageID(), op.AssistantMessageID()

	regen, err := o.Regenerate(context.Background(), userID)
	if err != nil {
		t.Fatalf("Regenerate() error = %v", err)
	}
	waitOp(t, regen)

	msgs := o.Store().List("s1", "")
	if len(byRole(msgs, RoleUser)) != 1 {
		t.Errorf("user message duplicated: %v", msgIDs(msgs))
	}
	if _, ok := o.Store().Get(oldReply); ok {
		t.Errorf("old reply %s still present after remote delete", oldReply)
	}
	if assistants := byRole(msgs, RoleAssistant); len(assistants) != 1 || assistants[0].ID != regen.AssistantMessageID() {
		t.Errorf("assistant replies = %v", msgIDs(assistants))
	}

	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.deleted) != 1 || api.deleted[0] != oldReply {
		t.Errorf("deleted = %v, want [%s]", api.deleted, oldReply)
	}
}

func TestOrchestrator_RegenerateBusyOtherMessage(t *testing.T) {
	api := newFakeAPI()
	o := withActive(newTestOrchestrator(t, api), "s1", "")

	first, _ := o.Send(context.Background(), "one")
	waitOp(t, first)

	hold := make(chan struct{})
	defer close(hold)
	api.script(replyScript{hold: hold})
	second, _ := o.Send(context.Background(), "two")
	waitFor(t, "second stream", func() bool { return second.State() == OpStreaming })

	if _, err := o.Regenerate(context.Background(), first.AssistantMessageID()); !errors.Is(err, ErrBusy) {
		t.Errorf("Regenerate() error = %v, want ErrBusy", err)
	}
}

// ========== 发送中拉取 ==========

func TestOrchestrator_FetchDuringSendKeepsOptimistic(t *testing.T) {
	api := newFakeAPI()
	api.seed(&Message{ID: "A", Role: RoleUser, Content: "A", SessionID: "s1", TopicID: "t1", CreatedAt: t0})
	api.seed(&Message{ID: "B", Role: RoleAssistant, Content: "B", ParentID: "A", SessionID: "s1", TopicID: "t1", CreatedAt: t0.Add(1)})
	gate := make(chan struct{})
	api.createGate = gate
	o := withActive(newTestOrchestrator(t, api), "s1", "t1")

	op, err := o.Send(context.Background(), "C")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if err := o.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	msgs := o.Store().List("s1", "t1")
	if len(msgs) != 3 || msgs[0].ID != "A" || msgs[1].ID != "B" || msgs[2].Content != "C" {
		t.Fatalf("merged = %v, want [A B C]", msgIDs(msgs))
	}

	close(gate)
	waitOp(t, op)
	if err := o.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	msgs = o.Store().List("s1", "t1")
	if len(msgs) != 4 {
		t.Errorf("after settle = %v, want A B C reply", msgIDs(msgs))
	}
}

// ========== 流中断 ==========

func TestOrchestrator_StreamFailureKeepsPartialContent(t *testing.T) {
	api := newFakeAPI()
	api.script(replyScript{chunks: []string{"Hel", "lo"}, err: errNetwork})
	o := withActive(newTestOrchestrator(t, api), "s1", "")

	op, _ := o.Send(context.Background(), "hi")
	if state := waitOp(t, op); state != OpFailed {
		t.Fatalf("state = %s, want failed", state)
	}

	reply, ok := o.Store().Get(op.AssistantMessageID())
	if !ok {
		t.Fatal("failed reply removed from store")
	}
	if reply.Content != "Hello" {
		t.Errorf("Content = %q, want Hello", reply.Content)
	}
	if reply.Status != StatusError || reply.Error == nil || reply.Error.Type != ErrorTypeStream {
		t.Errorf("reply = %+v, want stream_failed marker", reply)
	}
	if o.Tracker().IsActive(reply.ID) || o.Tracker().Len() != 0 {
		t.Error("task not removed from tracker")
	}

	retry, err := o.Retry(context.Background(), reply.ID)
	if err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	waitOp(t, retry)
	again, _ := o.Store().Get(reply.ID)
	if again.Status != StatusConfirmed || again.Content != "ok" {
		t.Errorf("after retry = %+v, want regenerated in place", again)
	}
	api.mu.Lock()
	last := api.replyInputs[len(api.replyInputs)-1]
	api.mu.Unlock()
	if last.MessageID != reply.ID {
		t.Errorf("retry MessageID = %q, want %q", last.MessageID, reply.ID)
	}
}

func TestOrchestrator_StreamStartFailure(t *testing.T) {
	api := newFakeAPI()
	api.script(replyScript{startErr: errNetwork})
	o := withActive(newTestOrchestrator(t, api), "s1", "")

	op, _ := o.Send(context.Background(), "hi")
	if state := waitOp(t, op); state != OpFailed {
		t.Fatalf("state = %s, want failed", state)
	}
	reply, ok := o.Store().Get(op.AssistantMessageID())
	if !ok || reply.Status != StatusError {
		t.Errorf("reply = %+v, want error placeholder", reply)
	}
}

// ========== 取消 ==========

func TestOrchestrator_CancelKeepsPartialContent(t *testing.T) {
	api := newFakeAPI()
	api.script(replyScript{chunks: []string{"par", "tial"}, hold: make(chan struct{})})
	o := withActive(newTestOrchestrator(t, api), "s1", "")

	op, _ := o.Send(context.Background(), "hi")
	waitFor(t, "partial content", func() bool {
		m, ok := o.Store().Get(op.AssistantMessageID())
		return ok && m.Content == "partial"
	})

	id := op.AssistantMessageID()
	if !o.Cancel(id) {
		t.Error("Cancel() = false, want true")
	}
	if state := waitOp(t, op); state != OpCanceled || op.Err() != nil {
		t.Fatalf("state = %s, err = %v", state, op.Err())
	}
	if o.Cancel(id) {
		t.Error("second Cancel() = true, want false")
	}

	reply, _ := o.Store().Get(id)
	if reply.Content != "partial" || reply.Status != StatusCanceled {
		t.Errorf("reply = %+v, want canceled with partial content", reply)
	}
}

func TestOrchestrator_CancelDuringCreate(t *testing.T) {
	api := newFakeAPI()
	api.createGate = make(chan struct{})
	o := withActive(newTestOrchestrator(t, api), "s1", "")

	op, _ := o.Send(context.Background(), "hi")
	if !o.Cancel(op.UserMessageID()) {
		t.Fatal("Cancel(user placeholder) = false")
	}
	if state := waitOp(t, op); state != OpCanceled {
		t.Fatalf("state = %s, want canceled", state)
	}
	msg, ok := o.Store().Get(op.UserMessageID())
	if !ok || msg.Status != StatusCanceled {
		t.Errorf("user message = %+v, want canceled placeholder", msg)
	}
}

func TestOrchestrator_ReplyRemovedBeforeStreamEnds(t *testing.T) {
	api := newFakeAPI()
	hold := make(chan struct{})
	api.script(replyScript{chunks: []string{"par", "tial"}, hold: hold})
	o := withActive(newTestOrchestrator(t, api), "s1", "")

	op, _ := o.Send(context.Background(), "hi")
	waitFor(t, "partial content", func() bool {
		m, ok := o.Store().Get(op.AssistantMessageID())
		return ok && m.Content == "partial"
	})

	id := op.AssistantMessageID()
	if !o.Store().Remove(id) {
		t.Fatal("Remove() = false")
	}
	close(hold)

	if state := waitOp(t, op); state != OpCanceled {
		t.Fatalf("state = %s, want canceled", state)
	}
	if _, ok := o.Store().Get(id); ok {
		t.Error("removed reply resurrected")
	}
}

func TestOrchestrator_CloseCancelsStreams(t *testing.T) {
	api := newFakeAPI()
	api.script(replyScript{chunks: []string{"x"}, hold: make(chan struct{})})
	o := withActive(New(Options{Messages: api, Sessions: api}), "s1", "")

	op, _ := o.Send(context.Background(), "hi")
	waitFor(t, "streaming", func() bool { return op.State() == OpStreaming })

	o.Close()
	if op.State() != OpCanceled {
		t.Errorf("state after Close() = %s, want canceled", op.State())
	}
	if _, err := o.Send(context.Background(), "again"); !errors.Is(err, ErrOrchestratorDone) {
		t.Errorf("Send() after Close() error = %v", err)
	}
}

// ========== 删除 ==========

func TestOrchestrator_DeleteMessage(t *testing.T) {
	api := newFakeAPI()
	o := withActive(newTestOrchestrator(t, api), "s1", "")
	op, _ := o.Send(context.Background(), "hi")
	waitOp(t, op)
	id := op.AssistantMessageID()

	api.mu.Lock()
	api.deleteErr = errNetwork
	api.mu.Unlock()
	if err := o.DeleteMessage(context.Background(), id); err != nil {
		t.Fatalf("DeleteMessage() error = %v", err)
	}
	msg, ok := o.Store().Get(id)
	if !ok || msg.Error == nil || msg.Error.Type != ErrorTypeDelete {
		t.Fatalf("after failed delete = %+v, want delete_failed marker", msg)
	}

	api.mu.Lock()
	api.deleteErr = nil
	api.mu.Unlock()
	if _, err := o.Retry(context.Background(), id); err != nil {
		t.Fatalf("Retry(delete) error = %v", err)
	}
	if _, ok := o.Store().Get(id); ok {
		t.Error("message still present after successful delete")
	}

	if err := o.DeleteMessage(context.Background(), "missing"); !errors.Is(err, ErrMessageNotFound) {
		t.Errorf("DeleteMessage(missing) error = %v", err)
	}
}

func TestOrchestrator_DeleteStreamingPlaceholder(t *testing.T) {
	api := newFakeAPI()
	gate := make(chan struct{})
	api.createGate = gate
	o := withActive(newTestOrchestrator(t, api), "s1", "")

	op, _ := o.Send(context.Background(), "hi")
	if err := o.DeleteMessage(context.Background(), op.UserMessageID()); err != nil {
		t.Fatalf("DeleteMessage() error = %v", err)
	}
	close(gate)
	waitOp(t, op)

	if n := len(o.Store().List("s1", "")); n != 0 {
		t.Errorf("messages = %d, want 0", n)
	}
}

// ========== 认证 ==========

func TestOrchestrator_Unauthenticated(t *testing.T) {
	api := newFakeAPI()
	api.createErr = fmt.Errorf("create: %w", ErrUnauthenticated)
	identity := &fakeIdentity{principal: "emp-1"}
	o := withActive(New(Options{Messages: api, Sessions: api, Identity: identity}), "s1", "")
	defer o.Close()

	var mu sync.Mutex
	notified := 0
	_, _ = o.Subscribe(event.HandlerFunc(func(ctx context.Context, evt *event.Event) error {
		if evt.Type == event.EventUnauthenticated {
			mu.Lock()
			notified++
			mu.Unlock()
		}
		return nil
	}))

	op, _ := o.Send(context.Background(), "hi")
	waitOp(t, op)

	if _, err := o.Send(context.Background(), "again"); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("Send() error = %v, want ErrUnauthenticated", err)
	}
	if !o.Snapshot().Unauthenticated {
		t.Error("Snapshot().Unauthenticated = false")
	}
	mu.Lock()
	if notified != 1 {
		t.Errorf("unauthenticated events = %d, want 1", notified)
	}
	mu.Unlock()

	api.mu.Lock()
	api.createErr = nil
	api.mu.Unlock()
	if err := o.Reauthenticate(context.Background()); err != nil {
		t.Fatalf("Reauthenticate() error = %v", err)
	}
	if _, err := o.Send(context.Background(), "again"); err != nil {
		t.Errorf("Send() after reauthenticate error = %v", err)
	}
}

func TestOrchestrator_NoPrincipal(t *testing.T) {
	api := newFakeAPI()
	o := withActive(New(Options{Messages: api, Sessions: api, Identity: &fakeIdentity{}}), "s1", "")
	defer o.Close()

	if _, err := o.Send(context.Background(), "hi"); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("Send() error = %v, want ErrUnauthenticated", err)
	}
	if len(o.Store().List("s1", "")) != 0 {
		t.Error("rejected send mutated the store")
	}
}

// ========== 会话与话题 ==========

func TestOrchestrator_Bootstrap(t *testing.T) {
	api := newFakeAPI()
	api.sessions = []*Session{{ID: "s1", Title: "acme"}, {ID: "s2", Title: "globex"}}
	api.topics["s2"] = []*Topic{{ID: "t1", SessionID: "s2", Title: "billing"}}
	api.seed(&Message{ID: "m1", Role: RoleUser, Content: "invoice?", SessionID: "s2", TopicID: "t1", CreatedAt: t0})
	o := newTestOrchestrator(t, api)

	if err := o.Bootstrap(context.Background(), url.Values{"session": {"s2"}, "topic": {"t1"}}); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}

	view := o.Snapshot()
	if view.Active != (Active{SessionID: "s2", TopicID: "t1"}) {
		t.Errorf("Active = %+v", view.Active)
	}
	if len(view.Sessions) != 2 || len(view.Topics) != 1 {
		t.Errorf("sessions = %d, topics = %d", len(view.Sessions), len(view.Topics))
	}
	if len(view.Messages) != 1 || view.Messages[0].ID != "m1" {
		t.Errorf("messages = %v", msgIDs(view.Messages))
	}
}

func TestOrchestrator_SessionAndTopicSwitching(t *testing.T) {
	api := newFakeAPI()
	o := newTestOrchestrator(t, api)
	ctx := context.Background()

	if _, err := o.CreateTopic(ctx, "orphan"); !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("CreateTopic() without session error = %v", err)
	}

	sess, err := o.CreateSession(ctx, "acme")
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	topic, err := o.CreateTopic(ctx, "billing")
	if err != nil {
		t.Fatalf("CreateTopic() error = %v", err)
	}
	if got := o.Registry().Active(); got != (Active{SessionID: sess.ID, TopicID: topic.ID}) {
		t.Errorf("Active() = %+v", got)
	}

	api.seed(&Message{ID: "d1", Role: RoleUser, SessionID: sess.ID, CreatedAt: t0})
	if err := o.SwitchTopic(ctx, ""); err != nil {
		t.Fatalf("SwitchTopic() error = %v", err)
	}
	if msgs := o.Snapshot().Messages; len(msgs) != 1 || msgs[0].ID != "d1" {
		t.Errorf("default topic messages = %v", msgIDs(msgs))
	}

	if err := o.SwitchSession(ctx, "other"); err != nil {
		t.Fatalf("SwitchSession() error = %v", err)
	}
	if got := o.Registry().Active(); got != (Active{SessionID: "other"}) {
		t.Errorf("Active() after switch = %+v", got)
	}
}

func TestTitleFrom(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"hello", "hello"},
		{"  first line\nsecond", "first line"},
		{"这是一个非常非常非常非常非常非常非常长的客户咨询标题内容", "这是一个非常非常非常非常非常非常非常长的客户咨询…"},
	}
	for _, tt := range tests {
		if got := titleFrom(tt.in); got != tt.want {
			t.Errorf("titleFrom(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
