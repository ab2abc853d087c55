package schema

import "time"

// Conversation 两个用户之间的私信会话，User1ID < User2ID 规范化存储
type Conversation struct {
	ID            int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	User1ID       int64      `gorm:"uniqueIndex:idx_conversations_pair;index" json:"user1_id"`
	User2ID       int64      `gorm:"uniqueIndex:idx_conversations_pair;index" json:"user2_id"`
	LastMessageAt *time.Time `gorm:"index" json:"last_message_at"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

// TableName 指定表名
func (Conversation) TableName() string {
	return "conversations"
}

// Other 返回相对 userID 的另一方
func (c *Conversation) Other(userID int64) int64 {
	if c.User1ID == userID {
		return c.User2ID
	}
	return c.User1ID
}

// Message 私信
type Message struct {
	ID             int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ConversationID int64     `gorm:"index" json:"conversation_id"`
	SenderID       int64     `gorm:"index" json:"sender_id"`
	Content        string    `gorm:"size:2000" json:"content"`
	CreatedAt      time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (Message) TableName() string {
	return "messages"
}

// ConversationCursor 每 (conversation, user) 一行的已读游标。
// 未读数 = 会话中对方发出且 id > LastReadMessageID 的消息数，避免逐条扫描 read 标记。
type ConversationCursor struct {
	ID                int64     `gorm:"primaryKey;autoIncrement"`
	ConversationID    int64     `gorm:"uniqueIndex:idx_conv_cursors;index"`
	UserID            int64     `gorm:"uniqueIndex:idx_conv_cursors;index"`
	LastReadMessageID int64     `gorm:"default:0"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime"`
}

func (ConversationCursor) TableName() string {
	return "conversation_cursors"
}
