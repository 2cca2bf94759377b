package repository

import (
	"time"

	"github.com/ashwinyue/next-crm/internal/model"
	"gorm.io/gorm"
)

// ChatRepository 聊天数据访问
type ChatRepository struct {
	db *gorm.DB
}

// NewChatRepository 创建聊天仓库
func NewChatRepository(db *gorm.DB) *ChatRepository {
	return &ChatRepository{db: db}
}

// ========== 会话 ==========

// CreateSession 创建会话
func (r *ChatRepository) CreateSession(session *model.ChatSession) error {
	return r.db.Create(session).Error
}

// GetSessionByID 获取会话
func (r *ChatRepository) GetSessionByID(id string) (*model.ChatSession, error) {
	var session model.ChatSession
	err := r.db.Where("id = ?", id).First(&session).Error
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// ListSessions 列出会话，置顶优先
func (r *ChatRepository) ListSessions(userID string, offset, limit int) ([]*model.ChatSession, int64, error) {
	var sessions []*model.ChatSession
	var total int64

	query := r.db.Model(&model.ChatSession{})
	if userID != "" {
		query = query.Where("user_id = ?", userID)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := query.Order("pinned DESC").Order("updated_at DESC").Offset(offset).Limit(limit).Find(&sessions).Error
	return sessions, total, err
}

// UpdateSession 更新会话
func (r *ChatRepository) UpdateSession(session *model.ChatSession) error {
	return r.db.Save(session).Error
}

// DeleteSession 软删除会话，消息保留
func (r *ChatRepository) DeleteSession(id string) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&model.ChatTopic{}, "session_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&model.ChatSession{}, "id = ?", id).Error
	})
}

// ========== 话题 ==========

// CreateTopic 创建话题
func (r *ChatRepository) CreateTopic(topic *model.ChatTopic) error {
	return r.db.Create(topic).Error
}

// GetTopicByID 获取话题
func (r *ChatRepository) GetTopicByID(id string) (*model.ChatTopic, error) {
	var topic model.ChatTopic
	err := r.db.Where("id = ?", id).First(&topic).Error
	if err != nil {
		return nil, err
	}
	return &topic, nil
}

// ListTopics 列出会话下的话题
func (r *ChatRepository) ListTopics(sessionID string) ([]*model.ChatTopic, error) {
	var topics []*model.ChatTopic
	err := r.db.Where("session_id = ?", sessionID).Order("created_at ASC").Order("id ASC").Find(&topics).Error
	return topics, err
}

// ========== 消息 ==========

// CreateMessage 创建消息
func (r *ChatRepository) CreateMessage(msg *model.ChatMessage) error {
	return r.db.Create(msg).Error
}

// UpdateMessage 更新消息内容、工具与错误字段，零值同样写入
func (r *ChatRepository) UpdateMessage(msg *model.ChatMessage) error {
	return r.db.Model(msg).Select("content", "tools", "error", "token_used").Updates(msg).Error
}

// GetMessagesByTopic 获取话题消息，topicID 为空时返回默认话题
func (r *ChatRepository) GetMessagesByTopic(sessionID, topicID string) ([]*model.ChatMessage, error) {
	var messages []*model.ChatMessage
	err := r.db.Where("session_id = ? AND topic_id = ?", sessionID, topicID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&messages).Error
	return messages, err
}

// GetRecentMessagesByTopic 获取话题中不晚于 before 的最近 N 条消息（按时间升序返回）
func (r *ChatRepository) GetRecentMessagesByTopic(sessionID, topicID string, before time.Time, limit int) ([]*model.ChatMessage, error) {
	var messages []*model.ChatMessage
	err := r.db.Where("session_id = ? AND topic_id = ?", sessionID, topicID).
		Where("created_at <= ?", before).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// GetMessageByID 获取单条消息
func (r *ChatRepository) GetMessageByID(messageID string) (*model.ChatMessage, error) {
	var message model.ChatMessage
	err := r.db.Where("id = ?", messageID).First(&message).Error
	if err != nil {
		return nil, err
	}
	return &message, nil
}

// DeleteMessage 删除消息
func (r *ChatRepository) DeleteMessage(messageID string) error {
	return r.db.Delete(&model.ChatMessage{}, "id = ?", messageID).Error
}
