package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"github.com/kaptinlin/jsonrepair"
	"gorm.io/datatypes"

	crmmodel "github.com/ashwinyue/next-crm/internal/model"
	"github.com/ashwinyue/next-crm/internal/service/callback"
	"github.com/ashwinyue/next-crm/internal/service/stream"
)

// 回复事件类型
const (
	ReplyEventStart = "start"
	ReplyEventDelta = "delta"
	ReplyEventEnd   = "end"
	ReplyEventError = "error"
)

// ReplyRequest 生成助手回复请求
// MessageID 非空时在原助手消息上重新生成
type ReplyRequest struct {
	SessionID string `json:"session_id"`
	TopicID   string `json:"topic_id"`
	ParentID  string `json:"parent_id"`
	AgentID   string `json:"agent_id"`
	MessageID string `json:"message_id"`
}

// ReplyEvent 回复流事件
type ReplyEvent struct {
	Type      string                `json:"-"`
	MessageID string                `json:"message_id,omitempty"`
	Delta     string                `json:"delta,omitempty"`
	Message   *crmmodel.ChatMessage `json:"message,omitempty"`
}

// ToolCall 持久化的工具调用
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Reply 为用户消息生成助手回复
// 助手消息先落库再开始生成，流结束、失败或取消时都会持久化已生成内容
// ctx 结束即取消生成
func (s *Service) Reply(ctx context.Context, userID string, req *ReplyRequest) (*schema.StreamReader[*ReplyEvent], error) {
	if s.chatModel == nil {
		return nil, ErrModelUnavailable
	}
	if req.ParentID == "" {
		return nil, fmt.Errorf("%w: parent_id is required", ErrInvalidInput)
	}

	session, err := s.GetSession(ctx, userID, req.SessionID)
	if err != nil {
		return nil, err
	}
	parent, err := s.repo.GetMessageByID(req.ParentID)
	if err != nil {
		return nil, notFound("parent message", err)
	}
	if parent.SessionID != req.SessionID || parent.TopicID != req.TopicID || parent.Role != crmmodel.RoleUser {
		return nil, fmt.Errorf("%w: parent must be a user message in the same topic", ErrInvalidInput)
	}

	agentID := req.AgentID
	if agentID == "" {
		agentID = session.AgentID
	}
	var agent *crmmodel.Agent
	if s.agents != nil {
		agent = s.agents.Resolve(ctx, agentID)
	} else {
		agent = crmmodel.DefaultAgent()
	}

	input, err := s.buildInput(agent, parent, req.MessageID)
	if err != nil {
		return nil, err
	}

	row, created, err := s.prepareRow(userID, parent, req.MessageID)
	if err != nil {
		return nil, err
	}

	genCtx, cancel := context.WithCancel(ctx)
	genCtx = callbacks.InitCallbacks(genCtx, callback.RunInfo("chat.reply", agent.Provider))
	active := s.streams.Register(session.ID, row.ID, cancel)

	reader, err := s.chatModel.Stream(genCtx, input, modelOptions(agent)...)
	if err != nil {
		cancel()
		s.streams.Unregister(context.WithoutCancel(ctx), active)
		if created {
			if delErr := s.repo.DeleteMessage(row.ID); delErr != nil {
				s.log.Warn("failed to drop reply row", "message_id", row.ID, "error", delErr)
			}
		} else {
			row.Error = (&MessageError{Type: ErrorTypeStream, Message: err.Error()}).json()
			s.persist(row)
		}
		return nil, fmt.Errorf("failed to start reply: %w", err)
	}

	sr, sw := schema.Pipe[*ReplyEvent](16)
	go s.pump(genCtx, cancel, active, row, reader, sw)
	return sr, nil
}

// StopReply 停止正在生成的回复
func (s *Service) StopReply(ctx context.Context, userID, messageID string) (bool, error) {
	if _, err := s.GetMessage(ctx, userID, messageID); err != nil {
		return false, err
	}
	return s.streams.Stop(messageID), nil
}

// prepareRow 新建助手消息，或重置要重新生成的助手消息
func (s *Service) prepareRow(userID string, parent *crmmodel.ChatMessage, messageID string) (*crmmodel.ChatMessage, bool, error) {
	if messageID == "" {
		row := &crmmodel.ChatMessage{
			ID:        uuid.New().String(),
			SessionID: parent.SessionID,
			TopicID:   parent.TopicID,
			ParentID:  parent.ID,
			UserID:    userID,
			Role:      crmmodel.RoleAssistant,
		}
		if err := s.repo.CreateMessage(row); err != nil {
			return nil, false, fmt.Errorf("failed to create reply: %w", err)
		}
		return row, true, nil
	}

	row, err := s.repo.GetMessageByID(messageID)
	if err != nil {
		return nil, false, notFound("message", err)
	}
	if row.Role != crmmodel.RoleAssistant || row.ParentID != parent.ID || row.SessionID != parent.SessionID {
		return nil, false, fmt.Errorf("%w: message %s is not a reply to %s", ErrInvalidInput, messageID, parent.ID)
	}
	row.Content = ""
	row.Tools = nil
	row.Error = nil
	if err := s.repo.UpdateMessage(row); err != nil {
		return nil, false, fmt.Errorf("failed to reset reply: %w", err)
	}
	return row, false, nil
}

// buildInput 组装发送给模型的消息：系统提示 + 截至 parent 的历史
func (s *Service) buildInput(agent *crmmodel.Agent, parent *crmmodel.ChatMessage, skipID string) ([]*schema.Message, error) {
	history, err := s.repo.GetRecentMessagesByTopic(parent.SessionID, parent.TopicID, parent.CreatedAt, agent.HistoryLen+1)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	var input []*schema.Message
	if agent.SystemRole != "" {
		input = append(input, schema.SystemMessage(agent.SystemRole))
	}

	var kept []*crmmodel.ChatMessage
	for _, m := range history {
		if m.ID == skipID || m.ID == parent.ID {
			continue
		}
		// 失败或未完成的回复不进入上下文
		if len(m.Error) > 0 || m.Content == "" {
			continue
		}
		kept = append(kept, m)
	}
	if n := agent.HistoryLen - 1; n >= 0 && len(kept) > n {
		kept = kept[len(kept)-n:]
	}

	for _, m := range kept {
		switch m.Role {
		case crmmodel.RoleUser:
			input = append(input, schema.UserMessage(m.Content))
		case crmmodel.RoleAssistant:
			input = append(input, schema.AssistantMessage(m.Content, nil))
		}
	}
	return append(input, schema.UserMessage(parent.Content)), nil
}

func modelOptions(agent *crmmodel.Agent) []model.Option {
	opts := []model.Option{model.WithTemperature(float32(agent.Temperature))}
	if agent.Model != "" {
		opts = append(opts, model.WithModel(agent.Model))
	}
	return opts
}

// pump 读取模型流，转发增量并在结束时持久化
func (s *Service) pump(ctx context.Context, cancel context.CancelFunc, active *stream.Active, row *crmmodel.ChatMessage, reader *schema.StreamReader[*schema.Message], sw *schema.StreamWriter[*ReplyEvent]) {
	defer sw.Close()
	defer reader.Close()
	defer cancel()

	bg := context.WithoutCancel(ctx)
	defer s.streams.Unregister(bg, active)

	sw.Send(&ReplyEvent{Type: ReplyEventStart, MessageID: row.ID}, nil)

	var (
		content   strings.Builder
		toolParts []*schema.Message
		streamErr error
	)
	for {
		chunk, err := reader.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			streamErr = err
			break
		}
		if chunk == nil {
			continue
		}
		if len(chunk.ToolCalls) > 0 {
			toolParts = append(toolParts, chunk)
		}
		if chunk.Content == "" {
			continue
		}
		content.WriteString(chunk.Content)
		s.streams.Append(bg, active, chunk.Content)
		sw.Send(&ReplyEvent{Type: ReplyEventDelta, MessageID: row.ID, Delta: chunk.Content}, nil)
	}

	row.Content = content.String()
	row.Tools = s.collectTools(toolParts)
	row.Error = nil

	switch {
	case streamErr == nil:
		s.persist(row)
		sw.Send(&ReplyEvent{Type: ReplyEventEnd, MessageID: row.ID, Message: row}, nil)
	case ctx.Err() != nil || active.Stopped():
		row.Error = (&MessageError{Type: ErrorTypeCanceled, Message: "reply canceled"}).json()
		s.persist(row)
		sw.Send(&ReplyEvent{Type: ReplyEventEnd, MessageID: row.ID, Message: row}, nil)
	default:
		s.log.Warn("reply stream failed", "message_id", row.ID, "error", streamErr)
		row.Error = (&MessageError{Type: ErrorTypeStream, Message: streamErr.Error()}).json()
		s.persist(row)
		sw.Send(nil, streamErr)
	}
}

func (s *Service) persist(row *crmmodel.ChatMessage) {
	if err := s.repo.UpdateMessage(row); err != nil {
		s.log.Error("failed to persist reply", "message_id", row.ID, "error", err)
	}
}

// collectTools 合并流式工具调用分片并修复参数 JSON
func (s *Service) collectTools(parts []*schema.Message) datatypes.JSON {
	if len(parts) == 0 {
		return nil
	}

	var calls []schema.ToolCall
	merged, err := schema.ConcatMessages(parts)
	if err != nil {
		s.log.Warn("failed to merge tool call chunks", "error", err)
		for _, p := range parts {
			calls = append(calls, p.ToolCalls...)
		}
	} else {
		calls = merged.ToolCalls
	}

	out := make([]ToolCall, 0, len(calls))
	for _, c := range calls {
		out = append(out, ToolCall{
			ID:        c.ID,
			Name:      c.Function.Name,
			Arguments: repairArguments(c.Function.Arguments),
		})
	}
	b, err := json.Marshal(out)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}

// repairArguments 修复模型生成的不规范 JSON 参数，无法修复时原样返回
func repairArguments(args string) string {
	s := strings.TrimSpace(args)
	if s == "" || json.Valid([]byte(s)) {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	out, err := jsonrepair.JSONRepair(strings.TrimSpace(s))
	if err != nil {
		return args
	}
	return out
}
