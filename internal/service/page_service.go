package service

import (
	"context"
	"strings"

	"github.com/haoyun/renmai/internal/repository"
	"github.com/haoyun/renmai/internal/schema"
)

var pageKinds = map[string]bool{
	schema.PageKindCompany:   true,
	schema.PageKindEducation: true,
	schema.PageKindEvent:     true,
	schema.PageKindProduct:   true,
	schema.PageKindCommunity: true,
	schema.PageKindVirtual:   true,
}

// PageService 实体页面：创建、编辑者邀请、关注
type PageService struct {
	users *repository.UserRepository
	pages *repository.PageRepository
}

// NewPageService 创建页面服务
func NewPageService(users *repository.UserRepository, pages *repository.PageRepository) *PageService {
	return &PageService{users: users, pages: pages}
}

// PageView 页面的 API 视图
type PageView struct {
	ID            int64  `json:"id"`
	Handle        string `json:"handle"`
	Name          string `json:"name"`
	Kind          string `json:"kind"`
	OwnerID       int64  `json:"owner_id"`
	FollowerCount int64  `json:"follower_count"`
	IsEditor      bool   `json:"is_editor"`
	IsFollowing   bool   `json:"is_following"`
}

// Create 创建页面，创建者即所有者
func (s *PageService) Create(ctx context.Context, ownerID int64, handle, name, kind string) (*schema.Page, error) {
	handle = strings.ToLower(strings.TrimSpace(handle))
	if !handlePattern.MatchString(handle) {
		return nil, Invalid("页面 handle 只能包含小写字母、数字和下划线，长度 3-30")
	}
	name = strings.TrimSpace(name)
	if name == "" || len(name) > 255 {
		return nil, Invalid("页面名称长度需在 1-255 字符之间")
	}
	if !pageKinds[kind] {
		return nil, Invalid("未知的页面类型")
	}

	existing, err := s.pages.GetByHandle(ctx, handle)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, Conflict("页面 handle 已被占用")
	}

	page := &schema.Page{Handle: handle, Name: name, Kind: kind, OwnerID: ownerID}
	if err := s.pages.Create(ctx, page); err != nil {
		return nil, err
	}
	return page, nil
}

// Get 按 handle 查看页面，附关注数与观察者关系
func (s *PageService) Get(ctx context.Context, viewerID int64, handle string) (*PageView, error) {
	page, err := s.pages.GetByHandle(ctx, handle)
	if err != nil {
		return nil, err
	}
	if page == nil {
		return nil, NotFound("页面不存在")
	}

	followers, err := s.pages.CountFollowers(ctx, page.ID)
	if err != nil {
		return nil, err
	}

	view := &PageView{
		ID:            page.ID,
		Handle:        page.Handle,
		Name:          page.Name,
		Kind:          page.Kind,
		OwnerID:       page.OwnerID,
		FollowerCount: followers,
	}
	if viewerID != 0 {
		if view.IsEditor, err = s.pages.IsEditor(ctx, page.ID, viewerID); err != nil {
			return nil, err
		}
		if view.IsFollowing, err = s.pages.IsFollower(ctx, page.ID, viewerID); err != nil {
			return nil, err
		}
	}
	return view, nil
}

// Rename 编辑者修改页面名称
func (s *PageService) Rename(ctx context.Context, userID int64, handle, name string) (*schema.Page, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > 255 {
		return nil, Invalid("页面名称长度需在 1-255 字符之间")
	}

	page, err := s.pages.GetByHandle(ctx, handle)
	if err != nil {
		return nil, err
	}
	if page == nil {
		return nil, NotFound("页面不存在")
	}
	isEditor, err := s.pages.IsEditor(ctx, page.ID, userID)
	if err != nil {
		return nil, err
	}
	if !isEditor {
		return nil, Forbidden("只有页面编辑者可以修改页面")
	}

	page.Name = name
	if err := s.pages.Save(ctx, page); err != nil {
		return nil, err
	}
	return page, nil
}

// Follow 关注页面，幂等
func (s *PageService) Follow(ctx context.Context, userID int64, handle string) error {
	page, err := s.pages.GetByHandle(ctx, handle)
	if err != nil {
		return err
	}
	if page == nil {
		return NotFound("页面不存在")
	}
	return s.pages.Follow(ctx, page.ID, userID)
}

// Unfollow 取消关注页面
func (s *PageService) Unfollow(ctx context.Context, userID int64, handle string) error {
	page, err := s.pages.GetByHandle(ctx, handle)
	if err != nil {
		return err
	}
	if page == nil {
		return NotFound("页面不存在")
	}
	return s.pages.Unfollow(ctx, page.ID, userID)
}

// InviteEditor 所有者邀请编辑者，重复邀请幂等
func (s *PageService) InviteEditor(ctx context.Context, ownerID int64, pageHandle, userHandle string) error {
	page, err := s.pages.GetByHandle(ctx, pageHandle)
	if err != nil {
		return err
	}
	if page == nil {
		return NotFound("页面不存在")
	}
	if page.OwnerID != ownerID {
		return Forbidden("只有页面所有者可以邀请编辑者")
	}

	invitee, err := s.users.GetByHandle(ctx, userHandle)
	if err != nil {
		return err
	}
	if invitee == nil {
		return NotFound("用户不存在")
	}
	if invitee.ID == ownerID {
		return Invalid("所有者已是编辑者")
	}
	return s.pages.InviteEditor(ctx, page.ID, invitee.ID)
}

// AcceptEditorInvite 接受编辑者邀请
func (s *PageService) AcceptEditorInvite(ctx context.Context, userID int64, pageHandle string) error {
	page, err := s.pages.GetByHandle(ctx, pageHandle)
	if err != nil {
		return err
	}
	if page == nil {
		return NotFound("页面不存在")
	}

	accepted, err := s.pages.AcceptEditorInvite(ctx, page.ID, userID)
	if err != nil {
		return err
	}
	if !accepted {
		return NotFound("没有待接受的编辑者邀请")
	}
	return nil
}
