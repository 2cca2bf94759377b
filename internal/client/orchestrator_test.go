package client

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/ashwinyue/next-crm/internal/conversation"
	"github.com/ashwinyue/next-crm/internal/testutil"
)

// 编排器与真实服务端的端到端测试

func newOrchestrator(t *testing.T, c *Client) *conversation.Orchestrator {
	t.Helper()
	o := conversation.New(conversation.Options{Messages: c, Sessions: c, Identity: c})
	t.Cleanup(o.Close)
	if err := o.Bootstrap(context.Background(), nil); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
	return o
}

func waitSettled(t *testing.T, op *conversation.Operation) conversation.OpState {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	state, _ := op.Wait(ctx)
	if !state.Settled() {
		t.Fatalf("operation did not settle, state = %s", state)
	}
	return state
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestOrchestrator_SendOverHTTP(t *testing.T) {
	s := testutil.NewStack(t)
	c := newTestClient(s, nil)
	o := newOrchestrator(t, c)

	op, err := o.Send(context.Background(), "帮我整理一下客户需求")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if state := waitSettled(t, op); state != conversation.OpSucceeded {
		t.Fatalf("state = %s, err = %v", state, op.Err())
	}

	view := o.Snapshot()
	if len(view.Sessions) != 1 || view.Active.SessionID == "" {
		t.Fatalf("session not created: %+v", view.Active)
	}
	if len(view.Messages) != 2 {
		t.Fatalf("len(Messages) = %d, want 2", len(view.Messages))
	}
	user, assistant := view.Messages[0], view.Messages[1]
	if conversation.IsPlaceholder(user.ID) || conversation.IsPlaceholder(assistant.ID) {
		t.Errorf("placeholder ids left: %s %s", user.ID, assistant.ID)
	}
	if assistant.Content != "Hello" || assistant.ParentID != user.ID || assistant.Status != conversation.StatusConfirmed {
		t.Errorf("assistant = %+v", assistant)
	}

	remote, err := c.ListMessagesByTopic(context.Background(), view.Active.SessionID, "")
	if err != nil || len(remote) != 2 || remote[1].ID != assistant.ID {
		t.Errorf("remote messages = %+v, %v", remote, err)
	}
}

func TestOrchestrator_CancelOverHTTP(t *testing.T) {
	s := testutil.NewStack(t)
	release := make(chan struct{})
	defer close(release)
	s.Model.Hold(release)

	c := newTestClient(s, nil)
	o := newOrchestrator(t, c)

	op, err := o.Send(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	eventually(t, "partial content", func() bool {
		id := op.AssistantMessageID()
		msg, ok := o.Store().Get(id)
		return ok && !conversation.IsPlaceholder(id) && msg.Content == "Hello"
	})

	assistantID := op.AssistantMessageID()
	if !o.Cancel(assistantID) {
		t.Fatal("Cancel() = false")
	}
	if state := waitSettled(t, op); state != conversation.OpCanceled {
		t.Fatalf("state = %s, want canceled", state)
	}
	msg, _ := o.Store().Get(assistantID)
	if msg.Status != conversation.StatusCanceled || msg.Content != "Hello" {
		t.Errorf("assistant = %+v, want canceled with partial content", msg)
	}

	// 服务端随连接断开停止生成并保留已生成内容
	sessionID := o.Snapshot().Active.SessionID
	eventually(t, "server persisted canceled reply", func() bool {
		remote, err := c.ListMessagesByTopic(context.Background(), sessionID, "")
		if err != nil || len(remote) != 2 {
			return false
		}
		r := remote[1]
		return r.ID == assistantID && r.Status == conversation.StatusCanceled && r.Content == "Hello"
	})
}

func TestOrchestrator_CreateFailureOverHTTP(t *testing.T) {
	s := testutil.NewStack(t)
	ft := testutil.NewFaultTransport(nil)
	c := newTestClient(s, ft)
	o := newOrchestrator(t, c)

	if _, err := o.CreateSession(context.Background(), "客户 C"); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	ft.Fail(http.MethodPost, "/api/v1/messages", 1)

	op, err := o.Send(context.Background(), "报价")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if state := waitSettled(t, op); state != conversation.OpFailed {
		t.Fatalf("state = %s, want failed", state)
	}

	user, ok := o.Store().Get(op.UserMessageID())
	if !ok || user.Status != conversation.StatusError || user.Error == nil || user.Error.Type != conversation.ErrorTypeCreate {
		t.Fatalf("user message = %+v, want create_failed", user)
	}

	retry, err := o.Retry(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if state := waitSettled(t, retry); state != conversation.OpSucceeded {
		t.Fatalf("retry state = %s, err = %v", state, retry.Err())
	}
	if n := len(o.Snapshot().Messages); n != 2 {
		t.Errorf("len(Messages) = %d, want 2", n)
	}
}

func TestOrchestrator_BootstrapFromParams(t *testing.T) {
	s := testutil.NewStack(t)
	c := newTestClient(s, nil)
	ctx := context.Background()

	session, _ := c.CreateSession(ctx, &conversation.CreateSessionInput{Title: "客户 D"})
	topic, _ := c.CreateTopic(ctx, &conversation.CreateTopicInput{SessionID: session.ID, Title: "售后"})
	if _, err := c.CreateMessage(ctx, &conversation.CreateMessageInput{
		Role: conversation.RoleUser, Content: "退货流程", SessionID: session.ID, TopicID: topic.ID,
	}); err != nil {
		t.Fatalf("CreateMessage() error = %v", err)
	}

	o := conversation.New(conversation.Options{Messages: c, Sessions: c, Identity: c})
	defer o.Close()
	params := map[string]string{"session": session.ID, "topic": topic.ID}
	if err := o.Bootstrap(ctx, paramMap(params)); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}

	view := o.Snapshot()
	if view.Active.SessionID != session.ID || view.Active.TopicID != topic.ID {
		t.Errorf("Active = %+v", view.Active)
	}
	if len(view.Topics) != 1 || len(view.Messages) != 1 || view.Messages[0].Content != "退货流程" {
		t.Errorf("topics = %d, messages = %+v", len(view.Topics), view.Messages)
	}
}

type paramMap map[string]string

func (p paramMap) Get(key string) string { return p[key] }
