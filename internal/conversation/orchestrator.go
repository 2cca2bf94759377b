package conversation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/ashwinyue/next-crm/internal/pkg/logger"
	"github.com/ashwinyue/next-crm/internal/service/event"
	"golang.org/x/sync/errgroup"
)

const maxTitleRunes = 24

// Options 编排器依赖
type Options struct {
	Messages MessageAPI
	Sessions SessionAPI
	Identity IdentityProvider
	Bus      *event.Bus
	Logger   *logger.Logger
	// AgentID 新建会话和回复时使用的默认 Agent
	AgentID string
}

// Orchestrator 发送/重新生成编排器
// 组合 Registry、Store、Tracker 与远端接口，是唯一把传输错误翻译成消息状态的组件
type Orchestrator struct {
	messages MessageAPI
	sessions SessionAPI
	identity IdentityProvider
	bus      *event.Bus
	log      *logger.Logger
	agentID  string

	registry *Registry
	store    *Store
	tracker  *Tracker

	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu              sync.Mutex
	ops             map[string]*Operation // topicKey -> 进行中的操作
	drafts          map[string]string
	unauthenticated bool
	closed          bool
}

// New 创建编排器，使用完毕需调用 Close
func New(opts Options) *Orchestrator {
	bus := opts.Bus
	if bus == nil {
		bus = event.NewBus(nil)
	}
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	ctx, stop := context.WithCancel(context.Background())

	return &Orchestrator{
		messages: opts.Messages,
		sessions: opts.Sessions,
		identity: opts.Identity,
		bus:      bus,
		log:      log,
		agentID:  opts.AgentID,
		registry: NewRegistry(),
		store:    NewStore(bus),
		tracker:  NewTracker(bus),
		ctx:      ctx,
		stop:     stop,
		ops:      make(map[string]*Operation),
		drafts:   make(map[string]string),
	}
}

// Registry 会话注册表
func (o *Orchestrator) Registry() *Registry { return o.registry }

// Store 消息缓存
func (o *Orchestrator) Store() *Store { return o.store }

// Tracker 任务跟踪器
func (o *Orchestrator) Tracker() *Tracker { return o.tracker }

// Subscribe 订阅状态变化
func (o *Orchestrator) Subscribe(h event.Handler) (func(), error) {
	return o.bus.Subscribe(h)
}

// Close 取消所有进行中的任务并等待其结束
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()

	o.stop()
	o.wg.Wait()
}

// ========== 会话与话题 ==========

// Bootstrap 读取参数源中的会话/话题并并发加载会话列表、话题与消息
func (o *Orchestrator) Bootstrap(ctx context.Context, params ParamSource) error {
	o.registry.InitFromURLParams(params)
	if err := o.ensurePrincipal(ctx); err != nil {
		return err
	}

	active := o.registry.Active()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sessions, err := o.sessions.ListSessions(gctx)
		if err != nil {
			return fmt.Errorf("list sessions: %w", err)
		}
		o.registry.SetSessions(sessions)
		return nil
	})
	if active.SessionID != "" {
		o.loadSession(gctx, g, active)
	}

	err := g.Wait()
	o.noteAuthError(err)
	o.publishActive()
	return err
}

// SwitchSession 切换会话并回到默认话题
func (o *Orchestrator) SwitchSession(ctx context.Context, sessionID string) error {
	o.registry.SetActiveSession(sessionID)
	o.registry.SetActiveTopic("")
	o.publishActive()

	g, gctx := errgroup.WithContext(ctx)
	o.loadSession(gctx, g, o.registry.Active())
	err := g.Wait()
	o.noteAuthError(err)
	return err
}

// SwitchTopic 切换话题，空字符串为默认话题
func (o *Orchestrator) SwitchTopic(ctx context.Context, topicID string) error {
	o.registry.SetActiveTopic(topicID)
	o.publishActive()
	return o.Refresh(ctx)
}

// Refresh 重新拉取当前话题消息
func (o *Orchestrator) Refresh(ctx context.Context) error {
	active := o.registry.Active()
	if active.SessionID == "" {
		return ErrNoActiveSession
	}
	err := o.store.FetchMessages(ctx, o.messages, active.SessionID, active.TopicID)
	o.noteAuthError(err)
	return err
}

// CreateSession 创建会话并设为当前会话
func (o *Orchestrator) CreateSession(ctx context.Context, title string) (*Session, error) {
	sess, err := o.sessions.CreateSession(ctx, &CreateSessionInput{Title: title, AgentID: o.agentID})
	if err != nil {
		o.noteAuthError(err)
		return nil, fmt.Errorf("create session: %w", err)
	}
	o.registry.UpsertSession(sess)
	o.registry.SetActiveSession(sess.ID)
	o.registry.SetActiveTopic("")
	o.publishActive()
	return sess, nil
}

// CreateTopic 在当前会话下创建话题并设为当前话题
func (o *Orchestrator) CreateTopic(ctx context.Context, title string) (*Topic, error) {
	active := o.registry.Active()
	if active.SessionID == "" {
		return nil, ErrNoActiveSession
	}
	topic, err := o.sessions.CreateTopic(ctx, &CreateTopicInput{SessionID: active.SessionID, Title: title})
	if err != nil {
		o.noteAuthError(err)
		return nil, fmt.Errorf("create topic: %w", err)
	}
	o.registry.UpsertTopic(topic)
	o.registry.SetActiveTopic(topic.ID)
	o.publishActive()
	return topic, nil
}

func (o *Orchestrator) loadSession(ctx context.Context, g *errgroup.Group, active Active) {
	g.Go(func() error {
		topics, err := o.sessions.ListTopics(ctx, active.SessionID)
		if err != nil {
			return fmt.Errorf("list topics: %w", err)
		}
		o.registry.SetTopics(active.SessionID, topics)
		return nil
	})
	g.Go(func() error {
		return o.store.FetchMessages(ctx, o.messages, active.SessionID, active.TopicID)
	})
}

// ========== 草稿与状态 ==========

// SetDraft 记录当前话题的输入内容
func (o *Orchestrator) SetDraft(content string) {
	active := o.registry.Active()
	key := TopicKey(active.SessionID, active.TopicID)

	o.mu.Lock()
	if strings.TrimSpace(content) == "" {
		delete(o.drafts, key)
	} else {
		o.drafts[key] = content
	}
	o.mu.Unlock()
}

// TopicState 话题当前的发送状态
func (o *Orchestrator) TopicState(sessionID, topicID string) OpState {
	key := TopicKey(sessionID, topicID)

	o.mu.Lock()
	defer o.mu.Unlock()
	if op, ok := o.ops[key]; ok {
		return op.State()
	}
	if o.drafts[key] != "" {
		return OpDrafting
	}
	return OpIdle
}

// View 供界面渲染的只读快照
type View struct {
	Active          Active
	Sessions        []*Session
	Topics          []*Topic
	Messages        []*Message
	State           OpState
	Generating      []string
	Unauthenticated bool
}

// Snapshot 当前状态快照
func (o *Orchestrator) Snapshot() View {
	active := o.registry.Active()
	o.mu.Lock()
	unauthenticated := o.unauthenticated
	o.mu.Unlock()

	return View{
		Active:          active,
		Sessions:        o.registry.Sessions(),
		Topics:          o.registry.Topics(active.SessionID),
		Messages:        o.store.List(active.SessionID, active.TopicID),
		State:           o.TopicState(active.SessionID, active.TopicID),
		Generating:      o.tracker.ActiveInTopic(active.SessionID, active.TopicID),
		Unauthenticated: unauthenticated,
	}
}

// ========== 发送 ==========

// Send 在当前话题发送用户消息并异步生成回复
// 校验失败时返回错误且不修改消息缓存；之后的失败记录在消息状态上
func (o *Orchestrator) Send(ctx context.Context, content string) (*Operation, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}
	if err := o.checkUsable(); err != nil {
		return nil, err
	}
	if err := o.ensurePrincipal(ctx); err != nil {
		return nil, err
	}
	active, err := o.ensureSession(ctx, content)
	if err != nil {
		return nil, err
	}

	op := newOperation(active.SessionID, active.TopicID)
	if _, err := o.reserve(op, ""); err != nil {
		return nil, err
	}

	userID := o.store.AppendOptimistic(&Message{
		Role:      RoleUser,
		Content:   content,
		SessionID: active.SessionID,
		TopicID:   active.TopicID,
	})
	op.setUserID(userID)
	taskCtx, handle := o.startTask(op, NewPlaceholderID())

	go func() {
		defer o.done(op)
		o.runSend(taskCtx, handle, op, userID, content)
	}()
	return op, nil
}

// Retry 对失败或取消的消息重新进入发送
// 用户消息重新创建，助手消息在原 ID 上重新生成，删除失败的消息重新删除
func (o *Orchestrator) Retry(ctx context.Context, messageID string) (*Operation, error) {
	msg, ok := o.store.Get(messageID)
	if !ok {
		return nil, ErrMessageNotFound
	}
	if msg.Error != nil && msg.Error.Type == ErrorTypeDelete {
		return nil, o.DeleteMessage(ctx, messageID)
	}
	if msg.Status != StatusError && msg.Status != StatusCanceled {
		return nil, ErrInvalidTarget
	}
	if err := o.checkUsable(); err != nil {
		return nil, err
	}

	op := newOperation(msg.SessionID, msg.TopicID)
	switch msg.Role {
	case RoleUser:
		if !IsPlaceholder(msg.ID) {
			return nil, ErrInvalidTarget
		}
		if _, err := o.reserve(op, ""); err != nil {
			return nil, err
		}
		o.store.ResetForRetry(msg.ID, StatusPending)
		op.setUserID(msg.ID)
		taskCtx, handle := o.startTask(op, NewPlaceholderID())
		go func() {
			defer o.done(op)
			o.runSend(taskCtx, handle, op, msg.ID, msg.Content)
		}()

	case RoleAssistant:
		if msg.ParentID == "" || IsPlaceholder(msg.ParentID) {
			return nil, ErrInvalidTarget
		}
		if _, err := o.reserve(op, ""); err != nil {
			return nil, err
		}
		op.setUserID(msg.ParentID)
		taskCtx, handle := o.startTask(op, msg.ID)
		go func() {
			defer o.done(op)
			o.stream(taskCtx, handle, op, msg.ParentID, msg.ID, true)
		}()

	default:
		return nil, ErrInvalidTarget
	}
	return op, nil
}

// Regenerate 为同一用户消息重新生成回复
// messageID 可以是助手消息，也可以是其父用户消息；旧回复被取消一次并标记为已替代，用户消息不会重复
func (o *Orchestrator) Regenerate(ctx context.Context, messageID string) (*Operation, error) {
	msg, ok := o.store.Get(messageID)
	if !ok {
		return nil, ErrMessageNotFound
	}
	if msg.Status == StatusSuperseded {
		return nil, ErrInvalidTarget
	}

	var parentID, oldID string
	switch msg.Role {
	case RoleAssistant:
		parentID, oldID = msg.ParentID, msg.ID
	case RoleUser:
		parentID = msg.ID
		if child, ok := o.store.LatestChild(msg.ID, RoleAssistant); ok {
			oldID = child.ID
		}
	}
	if parentID == "" || IsPlaceholder(parentID) {
		return nil, ErrInvalidTarget
	}
	if err := o.checkUsable(); err != nil {
		return nil, err
	}

	op := newOperation(msg.SessionID, msg.TopicID)
	prev, err := o.reserve(op, oldID)
	if err != nil {
		return nil, err
	}
	if oldID != "" {
		if !o.tracker.Cancel(oldID) && prev != nil {
			prev.taskHandle().Cancel()
		}
		o.store.MarkSuperseded(oldID)
	}
	op.setUserID(parentID)
	taskCtx, handle := o.startTask(op, NewPlaceholderID())
	assistantID := op.AssistantMessageID()

	go func() {
		defer o.done(op)
		if prev != nil {
			select {
			case <-prev.Done():
			case <-o.ctx.Done():
			}
			oldID = prev.AssistantMessageID()
		}
		if oldID != "" {
			o.store.MarkSuperseded(oldID)
			o.dropSuperseded(oldID)
		}
		o.stream(taskCtx, handle, op, parentID, assistantID, false)
	}()
	return op, nil
}

// Cancel 停止消息的生成任务，已生成内容保留并标记为取消
// 也接受仍在创建中的用户消息 ID；重复调用返回 false
func (o *Orchestrator) Cancel(messageID string) bool {
	return o.cancelMessage(messageID)
}

// DeleteMessage 删除消息
// 先取消相关任务；远端删除失败时消息保留并标记 delete_failed
func (o *Orchestrator) DeleteMessage(ctx context.Context, id string) error {
	if _, ok := o.store.Get(id); !ok {
		return ErrMessageNotFound
	}
	o.cancelMessage(id)

	if IsPlaceholder(id) {
		o.store.Remove(id)
		return nil
	}
	if err := o.messages.DeleteMessage(ctx, id); err != nil {
		o.noteAuthError(err)
		o.log.Warn("delete message failed", "message_id", id, "error", err)
		o.store.Fail(id, &MessageError{Type: ErrorTypeDelete, Message: err.Error()})
		return nil
	}
	o.store.Remove(id)
	return nil
}

// Reauthenticate 刷新凭证并解除未认证状态
func (o *Orchestrator) Reauthenticate(ctx context.Context) error {
	if o.identity == nil {
		return nil
	}
	if err := o.identity.RefreshToken(ctx); err != nil {
		o.noteAuthError(err)
		return err
	}
	o.mu.Lock()
	o.unauthenticated = false
	o.mu.Unlock()
	return nil
}

// ========== 异步流程 ==========

// runSend 创建用户消息，成功后进入回复生成
func (o *Orchestrator) runSend(ctx context.Context, handle *CancelHandle, op *Operation, userID, content string) {
	assistantID := op.AssistantMessageID()
	created, err := o.messages.CreateMessage(ctx, &CreateMessageInput{
		Role:      RoleUser,
		Content:   content,
		SessionID: op.SessionID,
		TopicID:   op.TopicID,
	})
	if err != nil {
		o.tracker.Finish(assistantID, handle)
		if handle.Canceled() || errors.Is(err, context.Canceled) {
			o.store.MarkCanceled(userID)
			o.finish(op, OpCanceled, nil)
			return
		}
		o.noteAuthError(err)
		o.log.Warn("create message failed", "session_id", op.SessionID, "error", err)
		o.store.Fail(userID, &MessageError{Type: ErrorTypeCreate, Message: err.Error()})
		o.finish(op, OpFailed, err)
		return
	}

	if err := o.store.Reconcile(userID, created); err != nil {
		// 创建期间本地已删除
		o.tracker.Finish(assistantID, handle)
		o.deleteRemote(created.ID)
		o.finish(op, OpCanceled, nil)
		return
	}
	op.setUserID(created.ID)
	if handle.Canceled() {
		o.tracker.Finish(assistantID, handle)
		o.finish(op, OpCanceled, nil)
		return
	}

	o.stream(ctx, handle, op, created.ID, assistantID, false)
}

// stream 消费回复流，增量写入助手消息
// inPlace 为 true 时在已有助手消息上重新生成
func (o *Orchestrator) stream(ctx context.Context, handle *CancelHandle, op *Operation, parentID, assistantID string, inPlace bool) {
	current := assistantID

	if inPlace {
		o.store.ResetForRetry(current, StatusStreaming)
	} else {
		o.store.AppendOptimistic(&Message{
			ID:        current,
			Role:      RoleAssistant,
			ParentID:  parentID,
			SessionID: op.SessionID,
			TopicID:   op.TopicID,
			Status:    StatusStreaming,
		})
	}
	op.setState(OpStreaming)
	o.publishOp(op)

	input := &ReplyInput{
		SessionID: op.SessionID,
		TopicID:   op.TopicID,
		ParentID:  parentID,
		AgentID:   o.agentFor(op.SessionID),
	}
	if inPlace && !IsPlaceholder(current) {
		input.MessageID = current
	}

	sr, err := o.messages.StreamAssistantReply(ctx, input)
	if err != nil {
		o.settleStream(op, handle, current, err)
		return
	}
	defer sr.Close()

	var final *Message
	for {
		chunk, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			o.settleStream(op, handle, current, err)
			return
		}
		if chunk == nil {
			continue
		}

		if chunk.MessageID != "" && chunk.MessageID != current {
			if !o.store.Rekey(current, chunk.MessageID) {
				// 生成期间本地已删除
				handle.Cancel()
				o.tracker.Finish(current, handle)
				o.deleteRemote(chunk.MessageID)
				o.finish(op, OpCanceled, nil)
				return
			}
			o.tracker.Rekey(current, chunk.MessageID)
			current = chunk.MessageID
			op.setAssistantID(current)
		}
		if chunk.Delta != "" {
			o.store.AppendContent(current, chunk.Delta)
		}
		if len(chunk.Tools) > 0 {
			o.store.SetTools(current, chunk.Tools)
		}
		if chunk.Final != nil {
			final = chunk.Final
		}
	}

	o.tracker.Finish(current, handle)
	if handle.Canceled() {
		o.store.MarkCanceled(current)
		o.finish(op, OpCanceled, nil)
		return
	}
	if final != nil {
		if final.ID == "" {
			final.ID = current
		}
		if err := o.store.Reconcile(current, final); err != nil {
			// 流结束前本地已移除
			o.log.Warn("reconcile assistant reply failed", "message_id", current, "error", err)
			o.finish(op, OpCanceled, nil)
			return
		}
	} else if !o.store.CompleteStreaming(current) {
		o.log.Warn("complete assistant reply failed", "message_id", current, "error", ErrMessageNotFound)
		o.finish(op, OpCanceled, nil)
		return
	}
	o.finish(op, OpSucceeded, nil)
}

// settleStream 流失败或被取消，保留已生成内容
func (o *Orchestrator) settleStream(op *Operation, handle *CancelHandle, id string, err error) {
	o.tracker.Finish(id, handle)
	if handle.Canceled() || errors.Is(err, context.Canceled) {
		o.store.MarkCanceled(id)
		o.finish(op, OpCanceled, nil)
		return
	}
	o.noteAuthError(err)
	o.log.Warn("assistant reply failed", "message_id", id, "error", err)
	o.store.Fail(id, &MessageError{Type: ErrorTypeStream, Message: err.Error()})
	o.finish(op, OpFailed, err)
}

// dropSuperseded 删除已被替代的旧回复，远端失败时保留在本地
func (o *Orchestrator) dropSuperseded(id string) {
	msg, ok := o.store.Get(id)
	if !ok || msg.Status != StatusSuperseded {
		return
	}
	if IsPlaceholder(id) {
		o.store.Remove(id)
		return
	}
	if err := o.messages.DeleteMessage(o.ctx, id); err != nil {
		o.log.Warn("delete superseded message failed", "message_id", id, "error", err)
		return
	}
	o.store.Remove(id)
}

func (o *Orchestrator) deleteRemote(id string) {
	if err := o.messages.DeleteMessage(o.ctx, id); err != nil {
		o.log.Warn("delete orphan message failed", "message_id", id, "error", err)
	}
}

// ========== 内部方法 ==========

func (o *Orchestrator) checkUsable() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrOrchestratorDone
	}
	if o.unauthenticated {
		return ErrUnauthenticated
	}
	return nil
}

// reserve 占用话题的发送槽位
// 话题内已有操作时返回 ErrBusy，除非该操作正在生成的正是 replaceAssistant
func (o *Orchestrator) reserve(op *Operation, replaceAssistant string) (*Operation, error) {
	key := TopicKey(op.SessionID, op.TopicID)

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, ErrOrchestratorDone
	}
	if o.unauthenticated {
		return nil, ErrUnauthenticated
	}
	prev := o.ops[key]
	if prev != nil && (replaceAssistant == "" || prev.AssistantMessageID() != replaceAssistant) {
		return nil, ErrBusy
	}
	o.ops[key] = op
	delete(o.drafts, key)
	o.wg.Add(1)
	return prev, nil
}

func (o *Orchestrator) startTask(op *Operation, assistantID string) (context.Context, *CancelHandle) {
	ctx, handle := o.tracker.Start(o.ctx, assistantID, op.SessionID, op.TopicID)
	op.setTask(assistantID, handle)
	o.publishOp(op)
	return ctx, handle
}

// finish 释放话题槽位并进入终态
func (o *Orchestrator) finish(op *Operation, state OpState, err error) {
	key := TopicKey(op.SessionID, op.TopicID)
	o.mu.Lock()
	if o.ops[key] == op {
		delete(o.ops, key)
	}
	o.mu.Unlock()

	if op.settle(state, err) {
		o.publishOp(op)
	}
}

// done 异步流程退出
func (o *Orchestrator) done(op *Operation) {
	if !op.State().Settled() {
		o.finish(op, OpCanceled, nil)
	}
	o.wg.Done()
}

func (o *Orchestrator) cancelMessage(id string) bool {
	if o.tracker.Cancel(id) {
		return true
	}

	var handle *CancelHandle
	o.mu.Lock()
	for _, op := range o.ops {
		if op.AssistantMessageID() == id || op.UserMessageID() == id {
			handle = op.taskHandle()
			break
		}
	}
	o.mu.Unlock()

	if handle == nil {
		return false
	}
	return handle.Cancel()
}

func (o *Orchestrator) ensurePrincipal(ctx context.Context) error {
	if o.identity == nil {
		return nil
	}
	if _, err := o.identity.PrincipalID(ctx); err != nil {
		o.noteAuthError(err)
		return err
	}
	return nil
}

// ensureSession 没有当前会话时以首条消息创建
func (o *Orchestrator) ensureSession(ctx context.Context, content string) (Active, error) {
	active := o.registry.Active()
	if active.SessionID != "" {
		return active, nil
	}
	if o.sessions == nil {
		return Active{}, ErrNoActiveSession
	}
	if _, err := o.CreateSession(ctx, titleFrom(content)); err != nil {
		return Active{}, err
	}
	return o.registry.Active(), nil
}

func (o *Orchestrator) agentFor(sessionID string) string {
	for _, s := range o.registry.Sessions() {
		if s.ID == sessionID && s.AgentID != "" {
			return s.AgentID
		}
	}
	return o.agentID
}

// noteAuthError 远端返回未认证时进入终态，等待外部重新登录
func (o *Orchestrator) noteAuthError(err error) {
	if err == nil || !errors.Is(err, ErrUnauthenticated) {
		return
	}
	o.mu.Lock()
	already := o.unauthenticated
	o.unauthenticated = true
	o.mu.Unlock()

	if !already {
		o.log.Warn("principal is no longer authenticated")
		_ = o.bus.Publish(context.Background(), event.New(event.EventUnauthenticated, "", "", ""))
	}
}

func (o *Orchestrator) publishOp(op *Operation) {
	evt := event.New(event.EventOperationState, op.SessionID, op.TopicID, op.AssistantMessageID())
	evt.Data = string(op.State())
	_ = o.bus.Publish(context.Background(), evt)
}

func (o *Orchestrator) publishActive() {
	active := o.registry.Active()
	_ = o.bus.Publish(context.Background(), event.New(event.EventActiveChanged, active.SessionID, active.TopicID, ""))
}

func titleFrom(content string) string {
	title := strings.TrimSpace(strings.SplitN(strings.TrimSpace(content), "\n", 2)[0])
	if utf8.RuneCountInString(title) <= maxTitleRunes {
		return title
	}
	return string([]rune(title)[:maxTitleRunes]) + "…"
}
