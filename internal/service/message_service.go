package service

import (
	"context"
	"strings"
	"time"

	"github.com/haoyun/renmai/internal/repository"
	"github.com/haoyun/renmai/internal/schema"
	"gorm.io/gorm"
)

const messageMaxLen = 2000

// MessageService 私信门禁：只有已确认连接的双方才能互发消息。
// 已读状态用每人每会话一个游标表示，未读数 = 对方消息中 id 超过游标的条数。
type MessageService struct {
	db    *gorm.DB
	users *repository.UserRepository
	conns *repository.ConnectionRepository
	msgs  *repository.MessageRepository
	now   func() time.Time
}

// NewMessageService 创建私信服务
func NewMessageService(db *gorm.DB, users *repository.UserRepository, conns *repository.ConnectionRepository, msgs *repository.MessageRepository) *MessageService {
	return &MessageService{
		db:    db,
		users: users,
		conns: conns,
		msgs:  msgs,
		now:   time.Now,
	}
}

// CanMessage 判断两用户是否可互发私信（存在已确认连接，pending 不开任何口子）
func (s *MessageService) CanMessage(ctx context.Context, a, b int64) (bool, error) {
	return s.conns.ConfirmedExists(ctx, a, b)
}

// ConversationView 会话列表条目
type ConversationView struct {
	ID            int64       `json:"id"`
	Other         UserSummary `json:"other"`
	LastMessage   string      `json:"last_message"`
	LastMessageAt *time.Time  `json:"last_message_at"`
	UnreadCount   int64       `json:"unread_count"`
}

// SendToHandle 给指定 handle 用户发消息，必要时创建会话
func (s *MessageService) SendToHandle(ctx context.Context, senderID int64, handle, content string) (*schema.Message, error) {
	to, err := s.users.GetByHandle(ctx, handle)
	if err != nil {
		return nil, err
	}
	if to == nil {
		return nil, NotFound("用户不存在")
	}
	return s.send(ctx, senderID, to.ID, content)
}

// SendToConversation 在已有会话中发消息
func (s *MessageService) SendToConversation(ctx context.Context, senderID, convID int64, content string) (*schema.Message, error) {
	conv, err := s.msgs.GetConversation(ctx, convID)
	if err != nil {
		return nil, err
	}
	if conv == nil || (conv.User1ID != senderID && conv.User2ID != senderID) {
		return nil, NotFound("会话不存在")
	}
	return s.send(ctx, senderID, conv.Other(senderID), content)
}

func (s *MessageService) send(ctx context.Context, senderID, toID int64, content string) (*schema.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, Invalid("消息内容不能为空")
	}
	if len(content) > messageMaxLen {
		return nil, Invalid("消息内容不能超过 2000 字符")
	}
	if senderID == toID {
		return nil, Invalid("不能给自己发消息")
	}

	ok, err := s.CanMessage(ctx, senderID, toID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, Forbidden("只能给已确认连接的用户发消息")
	}

	var msg *schema.Message
	err = s.db.Transaction(func(tx *gorm.DB) error {
		msgs := s.msgs.WithTx(tx)

		conv, err := msgs.GetConversationByPair(ctx, senderID, toID)
		if err != nil {
			return err
		}
		if conv == nil {
			u1, u2 := schema.CanonicalPair(senderID, toID)
			conv = &schema.Conversation{User1ID: u1, User2ID: u2}
			if err := msgs.CreateConversation(ctx, conv); err != nil {
				return err
			}
		}

		msg = &schema.Message{
			ConversationID: conv.ID,
			SenderID:       senderID,
			Content:        content,
			CreatedAt:      s.now(),
		}
		if err := msgs.CreateMessage(ctx, msg); err != nil {
			return err
		}
		// 发送者视角自己的消息天然已读
		return msgs.AdvanceCursor(ctx, conv.ID, senderID, msg.ID)
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// ListConversations 列出会话，附对方摘要、最近消息与未读数
func (s *MessageService) ListConversations(ctx context.Context, userID int64) ([]ConversationView, error) {
	convs, err := s.msgs.ListConversations(ctx, userID)
	if err != nil {
		return nil, err
	}

	otherIDs := make([]int64, 0, len(convs))
	for i := range convs {
		otherIDs = append(otherIDs, convs[i].Other(userID))
	}
	userMap, err := s.users.GetByIDs(ctx, otherIDs)
	if err != nil {
		return nil, err
	}

	views := make([]ConversationView, 0, len(convs))
	for i := range convs {
		c := &convs[i]
		view := ConversationView{
			ID:            c.ID,
			Other:         summarize(userMap[c.Other(userID)]),
			LastMessageAt: c.LastMessageAt,
		}
		latest, err := s.msgs.LatestMessage(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		if latest != nil {
			view.LastMessage = latest.Content
		}
		unread, err := s.msgs.CountUnread(ctx, c.ID, userID)
		if err != nil {
			return nil, err
		}
		view.UnreadCount = unread
		views = append(views, view)
	}
	return views, nil
}

// GetOrCreateConversationWith 按 handle 获取会话（不存在且可互信时创建空会话）
func (s *MessageService) GetOrCreateConversationWith(ctx context.Context, userID int64, handle string) (*schema.Conversation, *UserSummary, error) {
	other, err := s.users.GetByHandle(ctx, handle)
	if err != nil {
		return nil, nil, err
	}
	if other == nil {
		return nil, nil, NotFound("用户不存在")
	}

	ok, err := s.CanMessage(ctx, userID, other.ID)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, Forbidden("只能与已确认连接的用户对话")
	}

	conv, err := s.msgs.GetConversationByPair(ctx, userID, other.ID)
	if err != nil {
		return nil, nil, err
	}
	if conv == nil {
		u1, u2 := schema.CanonicalPair(userID, other.ID)
		conv = &schema.Conversation{User1ID: u1, User2ID: u2}
		if err := s.msgs.CreateConversation(ctx, conv); err != nil {
			return nil, nil, err
		}
	}
	summary := summarize(other)
	return conv, &summary, nil
}

// GetMessages 拉取会话消息并把已读游标推进到本次拉到的最新一条
func (s *MessageService) GetMessages(ctx context.Context, userID, convID, afterID int64, limit int) ([]schema.Message, error) {
	conv, err := s.msgs.GetConversation(ctx, convID)
	if err != nil {
		return nil, err
	}
	if conv == nil || (conv.User1ID != userID && conv.User2ID != userID) {
		return nil, NotFound("会话不存在")
	}

	if limit <= 0 || limit > 200 {
		limit = 200
	}
	msgs, err := s.msgs.ListMessages(ctx, convID, afterID, limit)
	if err != nil {
		return nil, err
	}

	if len(msgs) > 0 {
		newest := msgs[len(msgs)-1].ID
		if err := s.msgs.AdvanceCursor(ctx, convID, userID, newest); err != nil {
			return nil, err
		}
	}
	return msgs, nil
}

// UnreadCount 全部会话未读总数
func (s *MessageService) UnreadCount(ctx context.Context, userID int64) (int64, error) {
	convs, err := s.msgs.ListConversations(ctx, userID)
	if err != nil {
		return 0, err
	}
	var total int64
	for i := range convs {
		n, err := s.msgs.CountUnread(ctx, convs[i].ID, userID)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// PendingConnectionsCount 待确认连接数，导航栏角标用
func (s *MessageService) PendingConnectionsCount(ctx context.Context, userID int64) (int64, error) {
	return s.conns.CountPendingIncoming(ctx, userID)
}
