package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/haoyun/renmai/internal/schema"
	"gorm.io/gorm"
)

// MessageRepository 私信仓储
type MessageRepository struct {
	db *gorm.DB
}

// NewMessageRepository 创建私信仓储
func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// WithTx 返回绑定到事务的仓储副本
func (r *MessageRepository) WithTx(tx *gorm.DB) *MessageRepository {
	return &MessageRepository{db: tx}
}

// GetConversation 按 ID 查询会话，不存在返回 nil
func (r *MessageRepository) GetConversation(ctx context.Context, id int64) (*schema.Conversation, error) {
	var conv schema.Conversation
	if err := r.db.WithContext(ctx).First(&conv, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("查询会话失败: %w", err)
	}
	return &conv, nil
}

// GetConversationByPair 查询无序对的会话，不存在返回 nil
func (r *MessageRepository) GetConversationByPair(ctx context.Context, a, b int64) (*schema.Conversation, error) {
	u1, u2 := schema.CanonicalPair(a, b)
	var conv schema.Conversation
	err := r.db.WithContext(ctx).
		Where("user1_id = ? AND user2_id = ?", u1, u2).
		First(&conv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("查询会话失败: %w", err)
	}
	return &conv, nil
}

// CreateConversation 创建会话，唯一索引保证每对只有一行
func (r *MessageRepository) CreateConversation(ctx context.Context, conv *schema.Conversation) error {
	if err := r.db.WithContext(ctx).Create(conv).Error; err != nil {
		return fmt.Errorf("创建会话失败: %w", err)
	}
	return nil
}

// ListConversations 列出用户参与的会话，按最近消息时间倒序
func (r *MessageRepository) ListConversations(ctx context.Context, userID int64) ([]schema.Conversation, error) {
	var convs []schema.Conversation
	err := r.db.WithContext(ctx).
		Where("user1_id = ? OR user2_id = ?", userID, userID).
		Order("last_message_at DESC").
		Find(&convs).Error
	if err != nil {
		return nil, fmt.Errorf("查询会话列表失败: %w", err)
	}
	return convs, nil
}

// CreateMessage 写入消息并更新会话的 last_message_at
func (r *MessageRepository) CreateMessage(ctx context.Context, msg *schema.Message) error {
	if err := r.db.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("写入消息失败: %w", err)
	}
	err := r.db.WithContext(ctx).Model(&schema.Conversation{}).
		Where("id = ?", msg.ConversationID).
		Update("last_message_at", msg.CreatedAt).Error
	if err != nil {
		return fmt.Errorf("更新会话时间失败: %w", err)
	}
	return nil
}

// ListMessages 按游标分页拉取消息，afterID=0 表示从头，按 ID 正序
func (r *MessageRepository) ListMessages(ctx context.Context, convID, afterID int64, limit int) ([]schema.Message, error) {
	q := r.db.WithContext(ctx).
		Where("conversation_id = ?", convID)
	if afterID > 0 {
		q = q.Where("id > ?", afterID)
	}

	var msgs []schema.Message
	if err := q.Order("id ASC").Limit(limit).Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("查询消息失败: %w", err)
	}
	return msgs, nil
}

// LatestMessage 查询会话最新一条消息，不存在返回 nil
func (r *MessageRepository) LatestMessage(ctx context.Context, convID int64) (*schema.Message, error) {
	var msg schema.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", convID).
		Order("id DESC").
		First(&msg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("查询最新消息失败: %w", err)
	}
	return &msg, nil
}

// GetCursor 查询已读游标，不存在返回 nil
func (r *MessageRepository) GetCursor(ctx context.Context, convID, userID int64) (*schema.ConversationCursor, error) {
	var cursor schema.ConversationCursor
	err := r.db.WithContext(ctx).
		Where("conversation_id = ? AND user_id = ?", convID, userID).
		First(&cursor).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("查询已读游标失败: %w", err)
	}
	return &cursor, nil
}

// AdvanceCursor 推进已读游标，只前进不后退
func (r *MessageRepository) AdvanceCursor(ctx context.Context, convID, userID, messageID int64) error {
	cursor, err := r.GetCursor(ctx, convID, userID)
	if err != nil {
		return err
	}
	if cursor == nil {
		cursor = &schema.ConversationCursor{
			ConversationID:    convID,
			UserID:            userID,
			LastReadMessageID: messageID,
			UpdatedAt:         time.Now(),
		}
		if err := r.db.WithContext(ctx).Create(cursor).Error; err != nil {
			return fmt.Errorf("创建已读游标失败: %w", err)
		}
		return nil
	}
	if messageID <= cursor.LastReadMessageID {
		return nil
	}
	err = r.db.WithContext(ctx).Model(&schema.ConversationCursor{}).
		Where("id = ?", cursor.ID).
		Update("last_read_message_id", messageID).Error
	if err != nil {
		return fmt.Errorf("推进已读游标失败: %w", err)
	}
	return nil
}

// CountUnread 统计会话内对方发出且超过游标的消息数
func (r *MessageRepository) CountUnread(ctx context.Context, convID, userID int64) (int64, error) {
	lastRead := int64(0)
	cursor, err := r.GetCursor(ctx, convID, userID)
	if err != nil {
		return 0, err
	}
	if cursor != nil {
		lastRead = cursor.LastReadMessageID
	}

	var count int64
	err = r.db.WithContext(ctx).Model(&schema.Message{}).
		Where("conversation_id = ? AND sender_id != ? AND id > ?", convID, userID, lastRead).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("统计未读消息失败: %w", err)
	}
	return count, nil
}
