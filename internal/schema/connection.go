package schema

import "time"

// Connection 状态机：pending -> confirmed / ignored；ignored 可被重新请求回到 pending。
const (
	ConnectionPending   = "pending"
	ConnectionConfirmed = "confirmed"
	ConnectionIgnored   = "ignored"
)

// Connection 一对用户之间的连接关系，每个无序对最多一行。
// User1ID < User2ID 规范化存储，(user1_id, user2_id) 唯一索引是并发正确性的关键。
type Connection struct {
	ID          int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	User1ID     int64      `gorm:"uniqueIndex:idx_connections_pair;index" json:"user1_id"`
	User2ID     int64      `gorm:"uniqueIndex:idx_connections_pair;index" json:"user2_id"`
	Status      string     `gorm:"size:20;index" json:"status"`
	RequestedBy int64      `json:"requested_by"` // 当前状态的发起方
	Subject     string     `gorm:"size:100" json:"subject"`
	Body        string     `gorm:"size:2000" json:"body"`
	RequestedAt time.Time  `json:"requested_at"`
	RespondedAt *time.Time `json:"responded_at"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName 指定表名
func (Connection) TableName() string {
	return "connections"
}

// Target 返回非发起方（待确认方）的用户 ID
func (c *Connection) Target() int64 {
	if c.RequestedBy == c.User1ID {
		return c.User2ID
	}
	return c.User1ID
}

// Involves 判断用户是否为连接双方之一
func (c *Connection) Involves(userID int64) bool {
	return c.User1ID == userID || c.User2ID == userID
}

// Other 返回相对 userID 的另一方
func (c *Connection) Other(userID int64) int64 {
	if c.User1ID == userID {
		return c.User2ID
	}
	return c.User1ID
}

// CanonicalPair 将无序对规范化为 (小, 大)
func CanonicalPair(a, b int64) (int64, int64) {
	if a > b {
		return b, a
	}
	return a, b
}

// ConnectionClaimLog claim 尝试的追加日志，仅用于滑动窗口限流。
// withdraw 会删除最近一条对应记录以归还配额。
type ConnectionClaimLog struct {
	ID         int64     `gorm:"primaryKey;autoIncrement"`
	FromUserID int64     `gorm:"index:idx_claims_from_to;index"`
	ToUserID   int64     `gorm:"index:idx_claims_from_to"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index"`
}

func (ConnectionClaimLog) TableName() string {
	return "connection_claims_log"
}

// ConnectionVote 第三方对连接可信度的投票，每 (connection, voter) 一行
type ConnectionVote struct {
	ID           int64     `gorm:"primaryKey;autoIncrement"`
	ConnectionID int64     `gorm:"uniqueIndex:idx_conn_votes;index"`
	VoterID      int64     `gorm:"uniqueIndex:idx_conn_votes"`
	Vote         int       // +1 / -1
	CreatedAt    time.Time `gorm:"autoCreateTime"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime"`
}

func (ConnectionVote) TableName() string {
	return "connection_votes"
}

// AbuseReport 滥用举报（连接或帖子二选一），每举报人对同一实体最多一条 pending
type AbuseReport struct {
	ID             int64     `gorm:"primaryKey;autoIncrement"`
	ReporterID     int64     `gorm:"index"`
	ReportedUserID int64     `gorm:"index"`
	ConnectionID   *int64    `gorm:"index"`
	PostID         *int64    `gorm:"index"`
	Reason         string    `gorm:"size:500"`
	Status         string    `gorm:"size:20;default:pending"`
	CreatedAt      time.Time `gorm:"autoCreateTime"`
}

func (AbuseReport) TableName() string {
	return "abuse_reports"
}
