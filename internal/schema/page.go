package schema

import "time"

// 页面类型，决定哪些 fact 模板可用
const (
	PageKindCompany   = "company"
	PageKindEducation = "education"
	PageKindEvent     = "event"
	PageKindProduct   = "product"
	PageKindCommunity = "community"
	PageKindVirtual   = "virtual"
)

// Page 公司/学校等实体页面
type Page struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Handle    string    `gorm:"size:30;uniqueIndex" json:"handle"`
	Name      string    `gorm:"size:255" json:"name"`
	Kind      string    `gorm:"size:20;index" json:"kind"`
	OwnerID   int64     `gorm:"index" json:"owner_id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName 指定表名
func (Page) TableName() string {
	return "pages"
}

// PageEditor 页面编辑者邀请，AcceptedAt 非空才算生效
type PageEditor struct {
	ID         int64      `gorm:"primaryKey;autoIncrement"`
	PageID     int64      `gorm:"uniqueIndex:idx_page_editors;index"`
	UserID     int64      `gorm:"uniqueIndex:idx_page_editors;index"`
	InvitedAt  time.Time  `gorm:"autoCreateTime"`
	AcceptedAt *time.Time `gorm:"index"`
}

func (PageEditor) TableName() string {
	return "page_editors"
}

// PageFollow 页面关注关系
type PageFollow struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	PageID    int64     `gorm:"uniqueIndex:idx_page_follows;index"`
	UserID    int64     `gorm:"uniqueIndex:idx_page_follows;index"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (PageFollow) TableName() string {
	return "page_follows"
}
