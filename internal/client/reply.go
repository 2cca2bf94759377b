package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/ashwinyue/next-crm/internal/conversation"
)

// 回复流事件名，与服务端一致
const (
	eventStart = "start"
	eventDelta = "delta"
	eventEnd   = "end"
	eventError = "error"
)

// ErrStreamInterrupted 流在 end 事件前断开
var ErrStreamInterrupted = errors.New("client: reply stream ended unexpectedly")

// sseEvent 一条 SSE 事件
type sseEvent struct {
	Name string
	Data string
}

// replyPayload 回复事件数据
type replyPayload struct {
	MessageID string       `json:"message_id"`
	Delta     string       `json:"delta"`
	Message   *wireMessage `json:"message"`
	Error     string       `json:"error"`
}

// StreamAssistantReply 请求服务端生成回复并以流的形式返回增量
// 取消 ctx 会断开连接，服务端随之停止生成
func (c *Client) StreamAssistantReply(ctx context.Context, input *conversation.ReplyInput) (*schema.StreamReader[*conversation.ReplyChunk], error) {
	resp, err := c.send(ctx, c.stream, http.MethodPost, "/messages/reply", input, true)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, decodeAPIError(resp)
	}

	sr, sw := schema.Pipe[*conversation.ReplyChunk](16)
	go func() {
		defer sw.Close()
		defer resp.Body.Close()

		ended := false
		err := readSSE(resp.Body, func(evt sseEvent) (bool, error) {
			chunk, done, err := decodeReplyEvent(evt)
			if err != nil {
				return false, err
			}
			if chunk != nil && sw.Send(chunk, nil) {
				return false, context.Canceled
			}
			ended = done
			return !done, nil
		})
		switch {
		case err != nil && ctx.Err() != nil:
			sw.Send(nil, ctx.Err())
		case err != nil:
			sw.Send(nil, err)
		case !ended:
			sw.Send(nil, ErrStreamInterrupted)
		}
	}()
	return sr, nil
}

// decodeReplyEvent 把 SSE 事件翻译成回复增量，done 表示流正常结束
func decodeReplyEvent(evt sseEvent) (chunk *conversation.ReplyChunk, done bool, err error) {
	var p replyPayload
	if evt.Data != "" {
		if err := json.Unmarshal([]byte(evt.Data), &p); err != nil {
			return nil, false, fmt.Errorf("decode %s event: %w", evt.Name, err)
		}
	}

	switch evt.Name {
	case eventStart:
		return &conversation.ReplyChunk{MessageID: p.MessageID}, false, nil
	case eventDelta:
		return &conversation.ReplyChunk{MessageID: p.MessageID, Delta: p.Delta}, false, nil
	case eventEnd:
		chunk := &conversation.ReplyChunk{MessageID: p.MessageID}
		if p.Message != nil {
			chunk.Final = p.Message.toMessage()
			chunk.Tools = chunk.Final.Tools
		}
		return chunk, true, nil
	case eventError:
		if p.Error == "" {
			p.Error = "reply failed"
		}
		return nil, false, errors.New(p.Error)
	default:
		// 未知事件忽略
		return nil, false, nil
	}
}

// readSSE 逐条读取 SSE 事件，fn 返回 false 时停止
// 冒号后的单个空格可有可无，多行 data 以换行拼接
func readSSE(r io.Reader, fn func(sseEvent) (bool, error)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var name string
	var data []string
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if name == "" && len(data) == 0 {
				continue
			}
			evt := sseEvent{Name: name, Data: strings.Join(data, "\n")}
			if evt.Name == "" {
				evt.Name = "message"
			}
			name, data = "", data[:0]
			more, err := fn(evt)
			if err != nil || !more {
				return err
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			name = value
		case "data":
			data = append(data, value)
		}
	}
	return scanner.Err()
}
