package schema

import "time"

// Post 可见性：public 任何人可见；connections 仅作者的已确认连接可见。
const (
	VisibilityPublic      = "public"
	VisibilityConnections = "connections"
)

// Post 信息流条目。ReplyToID 非空时为评论，RootPostID 冗余存根帖 ID 便于整串查询。
// 评论创建时继承根帖可见性，生效判断始终以根帖当前可见性为准（存储值只是缓存）。
type Post struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	AuthorID      int64     `gorm:"index" json:"author_id"`
	Content       string    `gorm:"size:2000" json:"content"`
	Visibility    string    `gorm:"size:20;index" json:"visibility"`
	ReplyToID     *int64    `gorm:"index" json:"reply_to_id"`
	RootPostID    *int64    `gorm:"index" json:"root_post_id"`
	UpvoteCount   int       `gorm:"default:0" json:"upvote_count"` // 缓存列，全量重算
	DownvoteCount int       `gorm:"default:0" json:"downvote_count"`
	CommentCount  int       `gorm:"default:0" json:"comment_count"`
	CreatedAt     time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName 指定表名
func (Post) TableName() string {
	return "posts"
}

// IsReply 是否为评论
func (p *Post) IsReply() bool {
	return p.ReplyToID != nil
}

// PostVote 帖子投票，每 (post, user) 一行，取值 +1 / -1
type PostVote struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	PostID    int64     `gorm:"uniqueIndex:idx_post_votes;index"`
	UserID    int64     `gorm:"uniqueIndex:idx_post_votes"`
	Value     int
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (PostVote) TableName() string {
	return "post_votes"
}
