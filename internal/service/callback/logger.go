// Package callback 将 Eino 组件的执行事件写入应用日志
package callback

import (
	"context"
	"sync"
	"time"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/ashwinyue/next-crm/internal/pkg/logger"
)

type startKey struct{}

// Logger 日志回调处理器，实现 callbacks.Handler
type Logger struct {
	log   *logger.Logger
	debug bool
}

var _ callbacks.Handler = (*Logger)(nil)

// NewLogger 创建日志回调处理器
func NewLogger(log *logger.Logger, debug bool) *Logger {
	if log == nil {
		log = logger.Nop()
	}
	return &Logger{log: log.With("component", "eino"), debug: debug}
}

var setupOnce sync.Once

// Setup 注册为全局回调，重复调用只生效一次
func Setup(log *logger.Logger, debug bool) {
	setupOnce.Do(func() {
		callbacks.AppendGlobalHandlers(NewLogger(log, debug))
	})
}

// RunInfo 回复生成使用的运行信息
func RunInfo(name, provider string) *callbacks.RunInfo {
	return &callbacks.RunInfo{Name: name, Type: provider, Component: components.ComponentOfChatModel}
}

func (l *Logger) OnStart(ctx context.Context, info *callbacks.RunInfo, input callbacks.CallbackInput) context.Context {
	if l.debug {
		kv := []interface{}{"name", info.Name, "type", info.Type}
		if in := model.ConvCallbackInput(input); in != nil {
			kv = append(kv, "messages", len(in.Messages))
		}
		l.log.Debug("component start", kv...)
	}
	return context.WithValue(ctx, startKey{}, time.Now())
}

func (l *Logger) OnEnd(ctx context.Context, info *callbacks.RunInfo, output callbacks.CallbackOutput) context.Context {
	if l.debug {
		kv := []interface{}{"name", info.Name, "elapsed", elapsed(ctx)}
		if out := model.ConvCallbackOutput(output); out != nil && out.TokenUsage != nil {
			kv = append(kv, "total_tokens", out.TokenUsage.TotalTokens)
		}
		l.log.Debug("component end", kv...)
	}
	return ctx
}

func (l *Logger) OnError(ctx context.Context, info *callbacks.RunInfo, err error) context.Context {
	l.log.Warn("component error", "name", info.Name, "type", info.Type, "elapsed", elapsed(ctx), "error", err)
	return ctx
}

func (l *Logger) OnStartWithStreamInput(ctx context.Context, info *callbacks.RunInfo, input *schema.StreamReader[callbacks.CallbackInput]) context.Context {
	input.Close()
	return context.WithValue(ctx, startKey{}, time.Now())
}

// OnEndWithStreamOutput 流式输出的副本必须关闭
func (l *Logger) OnEndWithStreamOutput(ctx context.Context, info *callbacks.RunInfo, output *schema.StreamReader[callbacks.CallbackOutput]) context.Context {
	output.Close()
	if l.debug {
		l.log.Debug("component stream opened", "name", info.Name, "elapsed", elapsed(ctx))
	}
	return ctx
}

func elapsed(ctx context.Context) time.Duration {
	if start, ok := ctx.Value(startKey{}).(time.Time); ok {
		return time.Since(start)
	}
	return 0
}
