package schema

import (
	"strings"
	"time"
)

// 信誉与 karma 的取值边界。karma 每 30 天懒惰回复 1 点，用于限制发起 claim。
const (
	TrustMin = 0.1
	TrustMax = 2.0

	KarmaMax         = 15
	KarmaRegenPeriod = 30 * 24 * time.Hour
)

// User 用户档案
// 数据量级：万级
type User struct {
	ID              int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Handle          string    `gorm:"size:30;uniqueIndex" json:"handle"` // 小写 [a-z0-9_]{3,30}
	Email           string    `gorm:"size:255;uniqueIndex" json:"email"`
	FirstName       string    `gorm:"size:100" json:"first_name"`
	MiddleName      string    `gorm:"size:100" json:"middle_name"`
	LastName        string    `gorm:"size:100" json:"last_name"`
	Headline        string    `gorm:"size:255" json:"headline"`
	AvatarPath      string    `gorm:"size:255" json:"avatar_path"`
	CoverPath       string    `gorm:"size:255" json:"cover_path"`
	Skills          JSONArray `gorm:"type:text" json:"skills"`
	Trustworthiness float64   `gorm:"default:1.0" json:"trustworthiness"` // [0.1, 2.0]，由同行投票调整
	KarmaPoints     int       `gorm:"default:15" json:"karma_points"`     // [0, 15]
	KarmaLastRegen  time.Time `json:"karma_last_regen"`
	NotifyMentions  bool      `gorm:"default:true" json:"notify_mentions"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName 指定表名
func (User) TableName() string {
	return "users"
}

// DisplayName 拼接 first/middle/last 为展示名
func (u *User) DisplayName() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{u.FirstName, u.MiddleName, u.LastName} {
		if strings.TrimSpace(p) != "" {
			parts = append(parts, strings.TrimSpace(p))
		}
	}
	return strings.Join(parts, " ")
}

// UserSession 不透明 bearer token 会话（token 即凭证，签发归身份协作方）
type UserSession struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	Token     string    `gorm:"size:64;uniqueIndex"`
	UserID    int64     `gorm:"index"`
	ExpiresAt time.Time `gorm:"index"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (UserSession) TableName() string {
	return "sessions"
}
