package service

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/redis/go-redis/v9"

	"github.com/ashwinyue/next-crm/internal/config"
	"github.com/ashwinyue/next-crm/internal/pkg/logger"
	"github.com/ashwinyue/next-crm/internal/repository"
	"github.com/ashwinyue/next-crm/internal/service/agent"
	"github.com/ashwinyue/next-crm/internal/service/auth"
	"github.com/ashwinyue/next-crm/internal/service/callback"
	"github.com/ashwinyue/next-crm/internal/service/chat"
	"github.com/ashwinyue/next-crm/internal/service/stream"
)

// Services 服务集合
type Services struct {
	Chat    *chat.Service
	Agent   *agent.Service
	Auth    *auth.Service
	Streams *stream.Registry

	Config *config.Config
}

// Option 服务构建选项
type Option func(*options)

type options struct {
	chatModel model.BaseChatModel
}

// WithChatModel 使用给定的 ChatModel，不再按配置创建
func WithChatModel(m model.BaseChatModel) Option {
	return func(o *options) { o.chatModel = m }
}

// NewServices 创建所有服务，redisClient 可为空
// 模型创建失败时服务仍可启动，回复接口返回 ErrModelUnavailable
func NewServices(repo *repository.Repositories, cfg *config.Config, redisClient *redis.Client, log *logger.Logger, opts ...Option) (*Services, error) {
	if log == nil {
		log = logger.Nop()
	}
	ctx := context.Background()

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	callback.Setup(log, cfg.App.Debug)

	chatModel := o.chatModel
	if chatModel == nil {
		cm, err := newChatModel(ctx, &cfg.AI)
		if err != nil {
			log.Warn("chat model unavailable, replies are disabled", "provider", cfg.AI.Provider, "error", err)
		} else {
			chatModel = cm
		}
	}

	streams := stream.NewRegistry(redisClient, log.With("component", "stream"))
	agents := agent.NewService(repo.Agent)

	return &Services{
		Chat:    chat.NewService(repo.Chat, agents, chatModel, streams, log.With("component", "chat")),
		Agent:   agents,
		Auth:    auth.NewService(repo.Auth, cfg.Auth),
		Streams: streams,
		Config:  cfg,
	}, nil
}

// newChatModel 按配置的提供方创建 OpenAI 兼容的 ChatModel
func newChatModel(ctx context.Context, cfg *config.AIConfig) (*openai.ChatModel, error) {
	var apiKey, baseURL, modelName string
	var timeout int

	switch cfg.Provider {
	case "openai", "":
		apiKey = cfg.OpenAI.APIKey
		baseURL = cfg.OpenAI.BaseURL
		modelName = cfg.OpenAI.Model
		timeout = cfg.OpenAI.Timeout
	case "deepseek":
		apiKey = cfg.DeepSeek.APIKey
		baseURL = cfg.DeepSeek.BaseURL
		modelName = cfg.DeepSeek.Model
		timeout = cfg.DeepSeek.Timeout
	default:
		return nil, fmt.Errorf("unsupported ai provider: %s", cfg.Provider)
	}

	if apiKey == "" {
		return nil, fmt.Errorf("api_key is required for provider: %s", cfg.Provider)
	}
	if modelName == "" {
		modelName = "gpt-4o-mini"
	}

	return openai.NewChatModel(ctx, &openai.ChatModelConfig{
		APIKey:  apiKey,
		BaseURL: baseURL,
		Model:   modelName,
		Timeout: time.Duration(timeout) * time.Second,
	})
}

// NewRedisClient 创建 Redis 客户端，未启用时返回 nil
func NewRedisClient(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.GetAddr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect redis: %w", err)
	}
	return client, nil
}
