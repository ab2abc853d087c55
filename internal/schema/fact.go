package schema

import "time"

// Fact 由作者断言、关于某用户或页面的事实。
// 创建时进入冷却期（public_at），主体可提前批准（approved_at）或否决（vetoed_at）。
type Fact struct {
	ID            int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	AuthorID      int64      `gorm:"index" json:"author_id"`
	SubjectUserID *int64     `gorm:"index" json:"subject_user_id"` // 与 SubjectPageID 二选一
	SubjectPageID *int64     `gorm:"index" json:"subject_page_id"`
	TemplateID    string     `gorm:"size:50" json:"template_id"`
	Content       string     `gorm:"size:1000" json:"content"`
	Mentions      JSONMap    `gorm:"type:text" json:"mentions"` // handle -> {type, name}
	VoteSum       int        `gorm:"default:0" json:"vote_sum"` // 缓存列，每次投票后全量重算
	VoteCount     int        `gorm:"default:0" json:"vote_count"`
	PublicAt      time.Time  `json:"public_at"`
	ApprovedAt    *time.Time `json:"approved_at"`
	VetoedAt      *time.Time `json:"vetoed_at"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName 指定表名
func (Fact) TableName() string {
	return "facts"
}

// IsPublic 是否已公开（未被否决，且已批准或冷却期已过）
func (f *Fact) IsPublic(now time.Time) bool {
	if f.VetoedAt != nil {
		return false
	}
	return f.ApprovedAt != nil || !now.Before(f.PublicAt)
}

// FactVote 对 fact 的评分，取值 [-3, 3]，重复同值视为撤销
type FactVote struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	FactID    int64     `gorm:"uniqueIndex:idx_fact_votes;index"`
	UserID    int64     `gorm:"uniqueIndex:idx_fact_votes"`
	Value     int
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (FactVote) TableName() string {
	return "fact_votes"
}
