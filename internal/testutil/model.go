// Package testutil 提供测试辅助工具
package testutil

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

var _ model.BaseChatModel = (*ScriptedModel)(nil)

// ScriptedModel 按脚本输出的 ChatModel
type ScriptedModel struct {
	mu     sync.Mutex
	chunks []string
	hold   chan struct{}
	err    error
	inputs [][]*schema.Message
}

// NewScriptedModel 创建依次输出 chunks 的模型
func NewScriptedModel(chunks ...string) *ScriptedModel {
	return &ScriptedModel{chunks: chunks}
}

// SetChunks 替换后续调用的输出
func (m *ScriptedModel) SetChunks(chunks ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks = chunks
}

// Hold 发完 chunks 后阻塞，直到 release 关闭或 ctx 取消
func (m *ScriptedModel) Hold(release chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hold = release
}

// FailWith 发完 chunks 后以 err 结束流，nil 恢复正常
func (m *ScriptedModel) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Inputs 历次调用收到的消息
func (m *ScriptedModel) Inputs() [][]*schema.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]*schema.Message(nil), m.inputs...)
}

func (m *ScriptedModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	m.mu.Lock()
	m.inputs = append(m.inputs, input)
	content, err := strings.Join(m.chunks, ""), m.err
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return schema.AssistantMessage(content, nil), nil
}

func (m *ScriptedModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	m.mu.Lock()
	m.inputs = append(m.inputs, input)
	chunks, hold, streamErr := m.chunks, m.hold, m.err
	m.mu.Unlock()

	if len(input) == 0 {
		return nil, errors.New("empty input")
	}

	sr, sw := schema.Pipe[*schema.Message](len(chunks) + 1)
	go func() {
		defer sw.Close()
		for _, c := range chunks {
			if sw.Send(schema.AssistantMessage(c, nil), nil) {
				return
			}
		}
		if hold != nil {
			select {
			case <-hold:
			case <-ctx.Done():
				sw.Send(nil, ctx.Err())
				return
			}
		}
		if streamErr != nil {
			sw.Send(nil, streamErr)
		}
	}()
	return sr, nil
}
