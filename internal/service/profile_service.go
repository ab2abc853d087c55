package service

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/haoyun/renmai/internal/repository"
	"github.com/haoyun/renmai/internal/schema"
	"github.com/haoyun/renmai/internal/storage"
)

var handlePattern = regexp.MustCompile(`^[a-z0-9_]{3,30}$`)

// ProfileService 档案管理：个人资料、handle 校验、头像封面、数据导出与注销
type ProfileService struct {
	users *repository.UserRepository
	posts *repository.PostRepository
	facts *repository.FactRepository
	blobs storage.BlobStore
}

// NewProfileService 创建档案服务
func NewProfileService(users *repository.UserRepository, posts *repository.PostRepository, facts *repository.FactRepository, blobs storage.BlobStore) *ProfileService {
	return &ProfileService{users: users, posts: posts, facts: facts, blobs: blobs}
}

// ProfileView 当前用户的完整档案
type ProfileView struct {
	ID             int64    `json:"id"`
	Handle         string   `json:"handle"`
	Email          string   `json:"email"`
	FirstName      string   `json:"first_name"`
	MiddleName     string   `json:"middle_name"`
	LastName       string   `json:"last_name"`
	Headline       string   `json:"headline"`
	AvatarURL      string   `json:"avatar_url"`
	CoverURL       string   `json:"cover_url"`
	Skills         []string `json:"skills"`
	Trustworthy    float64  `json:"trustworthiness"`
	KarmaPoints    int      `json:"karma_points"`
	NotifyMentions bool     `json:"notify_mentions"`
}

func (s *ProfileService) profileView(u *schema.User) *ProfileView {
	return &ProfileView{
		ID:             u.ID,
		Handle:         u.Handle,
		Email:          u.Email,
		FirstName:      u.FirstName,
		MiddleName:     u.MiddleName,
		LastName:       u.LastName,
		Headline:       u.Headline,
		AvatarURL:      s.blobs.URLFor(u.AvatarPath),
		CoverURL:       s.blobs.URLFor(u.CoverPath),
		Skills:         u.Skills,
		Trustworthy:    u.Trustworthiness,
		KarmaPoints:    u.KarmaPoints,
		NotifyMentions: u.NotifyMentions,
	}
}

// Me 返回当前用户档案
func (s *ProfileService) Me(ctx context.Context, userID int64) (*ProfileView, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, NotFound("用户不存在")
	}
	return s.profileView(user), nil
}

// GetByHandle 按 handle 查看用户摘要（公开档案）
func (s *ProfileService) GetByHandle(ctx context.Context, handle string) (*UserSummary, error) {
	user, err := s.users.GetByHandle(ctx, handle)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, NotFound("用户不存在")
	}
	summary := summarize(user)
	summary.AvatarPath = s.blobs.URLFor(user.AvatarPath)
	return &summary, nil
}

// ProfileUpdate 档案更新请求，nil 字段不修改
type ProfileUpdate struct {
	Handle         *string   `json:"handle"`
	FirstName      *string   `json:"first_name"`
	MiddleName     *string   `json:"middle_name"`
	LastName       *string   `json:"last_name"`
	Headline       *string   `json:"headline"`
	Skills         *[]string `json:"skills"`
	NotifyMentions *bool     `json:"notify_mentions"`
}

// Update 部分更新档案。handle 校验字符集与唯一性。
func (s *ProfileService) Update(ctx context.Context, userID int64, input ProfileUpdate) (*ProfileView, error) {
	updates := map[string]any{}

	if input.Handle != nil {
		handle := strings.ToLower(strings.TrimSpace(*input.Handle))
		if !handlePattern.MatchString(handle) {
			return nil, Invalid("handle 只能包含小写字母、数字和下划线，长度 3-30")
		}
		taken, err := s.users.HandleTaken(ctx, handle, userID)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, Conflict("handle 已被占用")
		}
		updates["handle"] = handle
	}
	if input.FirstName != nil {
		updates["first_name"] = strings.TrimSpace(*input.FirstName)
	}
	if input.MiddleName != nil {
		updates["middle_name"] = strings.TrimSpace(*input.MiddleName)
	}
	if input.LastName != nil {
		updates["last_name"] = strings.TrimSpace(*input.LastName)
	}
	if input.Headline != nil {
		headline := strings.TrimSpace(*input.Headline)
		if len(headline) > 255 {
			return nil, Invalid("headline 不能超过 255 字符")
		}
		updates["headline"] = headline
	}
	if input.Skills != nil {
		updates["skills"] = schema.JSONArray(*input.Skills)
	}
	if input.NotifyMentions != nil {
		updates["notify_mentions"] = *input.NotifyMentions
	}

	if err := s.users.UpdateFields(ctx, userID, updates); err != nil {
		return nil, err
	}
	return s.Me(ctx, userID)
}

// CheckHandle 校验 handle 格式与可用性
func (s *ProfileService) CheckHandle(ctx context.Context, userID int64, handle string) (bool, error) {
	handle = strings.ToLower(strings.TrimSpace(handle))
	if !handlePattern.MatchString(handle) {
		return false, nil
	}
	taken, err := s.users.HandleTaken(ctx, handle, userID)
	if err != nil {
		return false, err
	}
	return !taken, nil
}

// SetAvatar 上传头像，替换时删除旧文件
func (s *ProfileService) SetAvatar(ctx context.Context, userID int64, data []byte, contentType string) (string, error) {
	return s.setImage(ctx, userID, data, contentType, "avatar_path")
}

// SetCover 上传封面
func (s *ProfileService) SetCover(ctx context.Context, userID int64, data []byte, contentType string) (string, error) {
	return s.setImage(ctx, userID, data, contentType, "cover_path")
}

func (s *ProfileService) setImage(ctx context.Context, userID int64, data []byte, contentType, column string) (string, error) {
	if !storage.AllowedContentType(contentType) {
		return "", Invalid("仅支持 jpeg/png/webp 图片")
	}
	if len(data) == 0 {
		return "", Invalid("图片内容为空")
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return "", err
	}
	if user == nil {
		return "", NotFound("用户不存在")
	}

	path, err := s.blobs.Store(data, contentType)
	if err != nil {
		return "", err
	}
	if err := s.users.UpdateFields(ctx, userID, map[string]any{column: path}); err != nil {
		return "", err
	}

	old := user.AvatarPath
	if column == "cover_path" {
		old = user.CoverPath
	}
	if old != "" {
		_ = s.blobs.Delete(old) // 旧文件清理失败不影响主流程
	}
	return s.blobs.URLFor(path), nil
}

// AccountExport 用户数据导出（自助下载）
type AccountExport struct {
	Profile ProfileView    `json:"profile"`
	Posts   []ExportedPost `json:"posts"`
	Facts   []ExportedFact `json:"facts"`
}

// ExportedPost 导出的帖子条目
type ExportedPost struct {
	Content    string    `json:"content"`
	Visibility string    `json:"visibility"`
	CreatedAt  time.Time `json:"created_at"`
}

// ExportedFact 导出的事实条目
type ExportedFact struct {
	TemplateID string    `json:"template_id"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}

// Export 导出用户档案与其发布的全部内容
func (s *ProfileService) Export(ctx context.Context, userID int64) (*AccountExport, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, NotFound("用户不存在")
	}

	out := &AccountExport{Profile: *s.profileView(user)}

	posts, err := s.posts.ListByAuthor(ctx, userID, 0)
	if err != nil {
		return nil, err
	}
	for _, p := range posts {
		out.Posts = append(out.Posts, ExportedPost{
			Content:    p.Content,
			Visibility: p.Visibility,
			CreatedAt:  p.CreatedAt,
		})
	}

	facts, err := s.facts.ListByAuthor(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, f := range facts {
		out.Facts = append(out.Facts, ExportedFact{
			TemplateID: f.TemplateID,
			Content:    f.Content,
			CreatedAt:  f.CreatedAt,
		})
	}
	return out, nil
}

// DeleteAccount 永久注销账号：级联清理名下数据，并删除头像封面文件
func (s *ProfileService) DeleteAccount(ctx context.Context, userID int64) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if user == nil {
		return NotFound("用户不存在")
	}

	if err := s.users.PurgeAccount(ctx, userID); err != nil {
		return err
	}

	// 媒体文件清理失败不回滚账号删除
	if user.AvatarPath != "" {
		_ = s.blobs.Delete(user.AvatarPath)
	}
	if user.CoverPath != "" {
		_ = s.blobs.Delete(user.CoverPath)
	}
	return nil
}

// DeleteAvatar 删除头像
func (s *ProfileService) DeleteAvatar(ctx context.Context, userID int64) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if user == nil {
		return NotFound("用户不存在")
	}
	if user.AvatarPath == "" {
		return nil
	}
	if err := s.users.UpdateFields(ctx, userID, map[string]any{"avatar_path": ""}); err != nil {
		return err
	}
	return s.blobs.Delete(user.AvatarPath)
}
