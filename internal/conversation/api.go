package conversation

import (
	"context"

	"github.com/ashwinyue/next-crm/internal/service/event"
	"github.com/cloudwego/eino/schema"
)

// MessageAPI 远端消息接口
type MessageAPI interface {
	ListMessagesByTopic(ctx context.Context, sessionID, topicID string) ([]*Message, error)
	CreateMessage(ctx context.Context, input *CreateMessageInput) (*Message, error)
	// StreamAssistantReply 返回有序的增量流，以 io.EOF 结束；取消 ctx 即中止生成
	StreamAssistantReply(ctx context.Context, input *ReplyInput) (*schema.StreamReader[*ReplyChunk], error)
	DeleteMessage(ctx context.Context, id string) error
}

// SessionAPI 远端会话/话题接口
type SessionAPI interface {
	ListSessions(ctx context.Context) ([]*Session, error)
	CreateSession(ctx context.Context, input *CreateSessionInput) (*Session, error)
	ListTopics(ctx context.Context, sessionID string) ([]*Topic, error)
	CreateTopic(ctx context.Context, input *CreateTopicInput) (*Topic, error)
}

// IdentityProvider 身份提供方
// 任一方法返回 ErrUnauthenticated 视为终态，由外部负责重新登录
type IdentityProvider interface {
	PrincipalID(ctx context.Context) (string, error)
	RefreshToken(ctx context.Context) error
}

// ParamSource 只读键值参数源，url.Values 即满足
type ParamSource interface {
	Get(key string) string
}

// Publisher 状态变化发布者
type Publisher interface {
	Publish(ctx context.Context, evt *event.Event) error
}

var _ Publisher = (*event.Bus)(nil)

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, *event.Event) error { return nil }
