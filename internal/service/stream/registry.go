// Package stream 管理正在生成的助手回复
package stream

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ashwinyue/next-crm/internal/pkg/logger"
)

const (
	// 部分回复在 Redis 中的过期时间
	partialTTL = 10 * time.Minute
	// Redis key 前缀
	partialKeyPrefix = "reply:partial:"
)

// Registry 活跃回复流注册表，按消息 ID 索引
// 部分内容同步镜像到 Redis，供其他实例读取
type Registry struct {
	mu     sync.RWMutex
	active map[string]*Active
	redis  *redis.Client
	log    *logger.Logger
}

// Active 活跃回复流
type Active struct {
	SessionID string
	MessageID string
	CreatedAt time.Time

	cancel    context.CancelFunc
	mu        sync.Mutex
	content   strings.Builder
	updatedAt time.Time
	stopped   bool
}

// NewRegistry 创建注册表，redisClient 可为空
func NewRegistry(redisClient *redis.Client, log *logger.Logger) *Registry {
	if log == nil {
		log = logger.Nop()
	}
	return &Registry{
		active: make(map[string]*Active),
		redis:  redisClient,
		log:    log,
	}
}

// Register 注册回复流，同一消息已有的流会被取消
func (r *Registry) Register(sessionID, messageID string, cancel context.CancelFunc) *Active {
	now := time.Now()
	a := &Active{
		SessionID: sessionID,
		MessageID: messageID,
		CreatedAt: now,
		cancel:    cancel,
		updatedAt: now,
	}

	r.mu.Lock()
	prev := r.active[messageID]
	r.active[messageID] = a
	r.mu.Unlock()

	if prev != nil {
		prev.stop()
	}
	return a
}

// Unregister 注销回复流，仅当 a 仍是该消息的当前流时生效
func (r *Registry) Unregister(ctx context.Context, a *Active) {
	r.mu.Lock()
	current := r.active[a.MessageID] == a
	if current {
		delete(r.active, a.MessageID)
	}
	r.mu.Unlock()

	if current && r.redis != nil {
		if err := r.redis.Del(ctx, partialKeyPrefix+a.MessageID).Err(); err != nil {
			r.log.Warn("failed to delete partial reply", "message_id", a.MessageID, "error", err)
		}
	}
}

// Get 获取活跃流
func (r *Registry) Get(messageID string) *Active {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active[messageID]
}

// Stop 停止回复流
func (r *Registry) Stop(messageID string) bool {
	r.mu.Lock()
	a, ok := r.active[messageID]
	if ok {
		delete(r.active, messageID)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	a.stop()
	return true
}

// Len 活跃流数量
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.active)
}

// Append 追加增量内容并镜像到 Redis
func (r *Registry) Append(ctx context.Context, a *Active, delta string) {
	content := a.appendChunk(delta)
	if r.redis == nil {
		return
	}
	if err := r.redis.Set(ctx, partialKeyPrefix+a.MessageID, content, partialTTL).Err(); err != nil {
		r.log.Warn("failed to mirror partial reply", "message_id", a.MessageID, "error", err)
	}
}

// Partial 获取生成中的部分内容，本地没有时查 Redis
func (r *Registry) Partial(ctx context.Context, messageID string) (string, bool) {
	if a := r.Get(messageID); a != nil {
		return a.Content(), true
	}
	if r.redis == nil {
		return "", false
	}
	content, err := r.redis.Get(ctx, partialKeyPrefix+messageID).Result()
	if err != nil {
		if err != redis.Nil {
			r.log.Warn("failed to load partial reply", "message_id", messageID, "error", err)
		}
		return "", false
	}
	return content, true
}

func (a *Active) appendChunk(delta string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.content.WriteString(delta)
	a.updatedAt = time.Now()
	return a.content.String()
}

// Content 已生成内容
func (a *Active) Content() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.content.String()
}

// Stopped 是否已被停止
func (a *Active) Stopped() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stopped
}

// UpdatedAt 最近一次追加时间
func (a *Active) UpdatedAt() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.updatedAt
}

func (a *Active) stop() {
	a.mu.Lock()
	a.stopped = true
	a.mu.Unlock()
	if a.cancel != nil {
		a.cancel()
	}
}
