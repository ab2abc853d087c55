package service

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/haoyun/renmai/internal/notify"
	"github.com/haoyun/renmai/internal/repository"
	"github.com/haoyun/renmai/internal/schema"
	"github.com/samber/lo"
	"gorm.io/gorm"
)

const (
	postMaxLen   = 2000
	feedMaxLimit = 50
)

var mentionPattern = regexp.MustCompile(`@([a-z0-9_]{3,30})\b`)

// PostService 信息流：帖子、评论串、投票与基于连接图的可见性过滤
type PostService struct {
	db       *gorm.DB
	users    *repository.UserRepository
	conns    *repository.ConnectionRepository
	posts    *repository.PostRepository
	reports  *repository.ReportRepository
	notifier notify.Notifier
	now      func() time.Time
}

// NewPostService 创建信息流服务
func NewPostService(db *gorm.DB, users *repository.UserRepository, conns *repository.ConnectionRepository, posts *repository.PostRepository, reports *repository.ReportRepository, notifier notify.Notifier) *PostService {
	if notifier == nil {
		notifier = notify.NoopNotifier{}
	}
	return &PostService{
		db:       db,
		users:    users,
		conns:    conns,
		posts:    posts,
		reports:  reports,
		notifier: notifier,
		now:      time.Now,
	}
}

// PostView 帖子的 API 视图
type PostView struct {
	ID            int64       `json:"id"`
	Author        UserSummary `json:"author"`
	Content       string      `json:"content"`
	Visibility    string      `json:"visibility"`
	ReplyToID     *int64      `json:"reply_to_id,omitempty"`
	RootPostID    *int64      `json:"root_post_id,omitempty"`
	UpvoteCount   int         `json:"upvote_count"`
	DownvoteCount int         `json:"downvote_count"`
	CommentCount  int         `json:"comment_count"`
	CreatedAt     time.Time   `json:"created_at"`
	ViewerVote    *int        `json:"viewer_vote,omitempty"`
}

// Create 发布顶层帖子
func (s *PostService) Create(ctx context.Context, authorID int64, content, visibility string) (*schema.Post, error) {
	content = strings.TrimSpace(content)
	if content == "" || len(content) > postMaxLen {
		return nil, Invalid("帖子内容长度需在 1-2000 字符之间")
	}
	if visibility != schema.VisibilityPublic && visibility != schema.VisibilityConnections {
		return nil, Invalid("可见性只能是 public 或 connections")
	}

	post := &schema.Post{
		AuthorID:   authorID,
		Content:    content,
		Visibility: visibility,
	}
	if err := s.posts.Create(ctx, post); err != nil {
		return nil, err
	}

	s.notifyMentions(ctx, authorID, content)
	return post, nil
}

// Reply 评论帖子。可见性继承根帖的存储值；生效判断始终以根帖当前可见性为准。
func (s *PostService) Reply(ctx context.Context, authorID, parentID int64, content string) (*schema.Post, error) {
	content = strings.TrimSpace(content)
	if content == "" || len(content) > postMaxLen {
		return nil, Invalid("评论内容长度需在 1-2000 字符之间")
	}

	parent, err := s.posts.GetByID(ctx, parentID)
	if err != nil {
		return nil, err
	}
	if parent == nil {
		return nil, NotFound("帖子不存在")
	}

	root := parent
	if parent.IsReply() {
		root, err = s.posts.GetByID(ctx, *parent.RootPostID)
		if err != nil {
			return nil, err
		}
		if root == nil {
			return nil, NotFound("帖子不存在")
		}
	}

	visible, err := s.canViewRoot(ctx, authorID, root)
	if err != nil {
		return nil, err
	}
	if !visible {
		return nil, NotFound("帖子不存在")
	}

	reply := &schema.Post{
		AuthorID:   authorID,
		Content:    content,
		Visibility: root.Visibility,
		ReplyToID:  &parent.ID,
		RootPostID: &root.ID,
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		posts := s.posts.WithTx(tx)
		if err := posts.Create(ctx, reply); err != nil {
			return err
		}
		return posts.RecomputeCommentCount(ctx, root.ID)
	})
	if err != nil {
		return nil, err
	}

	s.notifyMentions(ctx, authorID, content)
	return reply, nil
}

// canViewRoot 根帖可见性：public 任何人；connections 要求作者本人或其已确认连接
func (s *PostService) canViewRoot(ctx context.Context, viewerID int64, root *schema.Post) (bool, error) {
	if root.Visibility == schema.VisibilityPublic {
		return true, nil
	}
	if viewerID == 0 {
		return false, nil
	}
	if root.AuthorID == viewerID {
		return true, nil
	}
	return s.conns.ConfirmedExists(ctx, viewerID, root.AuthorID)
}

// List 信息流。匿名只看 public；登录用户看 public ∪ 自己的 ∪ 已连接作者的。
// 连接集合每次请求只查一次。mine 为真时只看自己的。
func (s *PostService) List(ctx context.Context, viewerID, beforeID int64, limit int, mine bool) ([]PostView, error) {
	if limit <= 0 || limit > feedMaxLimit {
		limit = feedMaxLimit
	}

	var (
		posts []schema.Post
		err   error
	)
	switch {
	case mine && viewerID != 0:
		posts, err = s.posts.ListByAuthor(ctx, viewerID, limit)
	case viewerID == 0:
		posts, err = s.posts.ListFeed(ctx, 0, nil, beforeID, limit)
	default:
		connectedIDs, cerr := s.conns.ConnectedIDs(ctx, viewerID)
		if cerr != nil {
			return nil, cerr
		}
		posts, err = s.posts.ListFeed(ctx, viewerID, connectedIDs, beforeID, limit)
	}
	if err != nil {
		return nil, err
	}
	return s.buildPostViews(ctx, viewerID, posts)
}

// Get 返回帖子与整串评论，先校验根帖可见性
func (s *PostService) Get(ctx context.Context, viewerID, postID int64) (*PostView, []PostView, error) {
	post, err := s.posts.GetByID(ctx, postID)
	if err != nil {
		return nil, nil, err
	}
	if post == nil {
		return nil, nil, NotFound("帖子不存在")
	}

	root := post
	if post.IsReply() {
		root, err = s.posts.GetByID(ctx, *post.RootPostID)
		if err != nil {
			return nil, nil, err
		}
		if root == nil {
			return nil, nil, NotFound("帖子不存在")
		}
	}
	visible, err := s.canViewRoot(ctx, viewerID, root)
	if err != nil {
		return nil, nil, err
	}
	if !visible {
		return nil, nil, NotFound("帖子不存在")
	}

	replies, err := s.posts.ListReplies(ctx, root.ID)
	if err != nil {
		return nil, nil, err
	}
	if post.IsReply() {
		// 请求的就是某条评论时，评论串里不再重复它
		replies = lo.Filter(replies, func(p schema.Post, _ int) bool { return p.ID != post.ID })
	}

	postViews, err := s.buildPostViews(ctx, viewerID, append([]schema.Post{*post}, replies...))
	if err != nil {
		return nil, nil, err
	}
	return &postViews[0], postViews[1:], nil
}

// Delete 作者删除帖子，级联删除整串评论并重算父帖评论数
func (s *PostService) Delete(ctx context.Context, userID, postID int64) error {
	post, err := s.posts.GetByID(ctx, postID)
	if err != nil {
		return err
	}
	if post == nil {
		return NotFound("帖子不存在")
	}
	if post.AuthorID != userID {
		return Forbidden("只有作者可以删除帖子")
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		posts := s.posts.WithTx(tx)

		if !post.IsReply() {
			// 顶层帖：连同整串评论一起删除
			replies, err := posts.ListReplies(ctx, post.ID)
			if err != nil {
				return err
			}
			for i := range replies {
				if err := posts.Delete(ctx, replies[i].ID); err != nil {
					return err
				}
			}
			return posts.Delete(ctx, post.ID)
		}

		if err := posts.Delete(ctx, post.ID); err != nil {
			return err
		}
		return posts.RecomputeCommentCount(ctx, *post.RootPostID)
	})
}

// Vote 帖子投票 ±1，不能投自己的帖子，须可见根帖。同值重复视为撤销。
func (s *PostService) Vote(ctx context.Context, userID, postID int64, value int) error {
	if value != 1 && value != -1 {
		return Invalid("帖子投票取值只能是 +1 或 -1")
	}

	post, err := s.posts.GetByID(ctx, postID)
	if err != nil {
		return err
	}
	if post == nil {
		return NotFound("帖子不存在")
	}
	if post.AuthorID == userID {
		return Invalid("不能给自己的帖子投票")
	}

	root := post
	if post.IsReply() {
		root, err = s.posts.GetByID(ctx, *post.RootPostID)
		if err != nil {
			return err
		}
		if root == nil {
			return NotFound("帖子不存在")
		}
	}
	visible, err := s.canViewRoot(ctx, userID, root)
	if err != nil {
		return err
	}
	if !visible {
		return NotFound("帖子不存在")
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		posts := s.posts.WithTx(tx)

		existing, err := posts.GetVote(ctx, postID, userID)
		if err != nil {
			return err
		}
		switch {
		case existing != nil && existing.Value == value:
			if err := posts.DeleteVote(ctx, postID, userID); err != nil {
				return err
			}
		case existing != nil:
			existing.Value = value
			if err := posts.SaveVote(ctx, existing); err != nil {
				return err
			}
		default:
			vote := &schema.PostVote{PostID: postID, UserID: userID, Value: value}
			if err := posts.SaveVote(ctx, vote); err != nil {
				return err
			}
		}
		return posts.RecomputeVoteAggregates(ctx, postID)
	})
}

// RemoveVote 撤销投票并重算缓存列
func (s *PostService) RemoveVote(ctx context.Context, userID, postID int64) error {
	post, err := s.posts.GetByID(ctx, postID)
	if err != nil {
		return err
	}
	if post == nil {
		return NotFound("帖子不存在")
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		posts := s.posts.WithTx(tx)
		if err := posts.DeleteVote(ctx, postID, userID); err != nil {
			return err
		}
		return posts.RecomputeVoteAggregates(ctx, postID)
	})
}

// ChangeVisibility 作者修改顶层帖的可见性，评论随根帖生效
func (s *PostService) ChangeVisibility(ctx context.Context, userID, postID int64, visibility string) error {
	if visibility != schema.VisibilityPublic && visibility != schema.VisibilityConnections {
		return Invalid("可见性只能是 public 或 connections")
	}

	post, err := s.posts.GetByID(ctx, postID)
	if err != nil {
		return err
	}
	if post == nil {
		return NotFound("帖子不存在")
	}
	if post.AuthorID != userID {
		return Forbidden("只有作者可以修改可见性")
	}
	if post.IsReply() {
		return Invalid("评论的可见性随根帖，不能单独修改")
	}

	post.Visibility = visibility
	return s.posts.Save(ctx, post)
}

// Report 举报帖子，每人对同一帖子最多一条待处理举报
func (s *PostService) Report(ctx context.Context, reporterID, postID int64, reason string) error {
	reason = strings.TrimSpace(reason)
	if len(reason) < 10 || len(reason) > 500 {
		return Invalid("举报理由长度需在 10-500 字符之间")
	}

	post, err := s.posts.GetByID(ctx, postID)
	if err != nil {
		return err
	}
	if post == nil {
		return NotFound("帖子不存在")
	}
	if post.AuthorID == reporterID {
		return Invalid("不能举报自己的帖子")
	}

	exists, err := s.reports.HasPendingForPost(ctx, reporterID, postID)
	if err != nil {
		return err
	}
	if exists {
		return Conflict("已有待处理的举报")
	}

	report := &schema.AbuseReport{
		ReporterID:     reporterID,
		ReportedUserID: post.AuthorID,
		PostID:         &postID,
		Reason:         reason,
	}
	return s.reports.Create(ctx, report)
}

// buildPostViews 批量装配帖子视图，附作者摘要与观察者投票
func (s *PostService) buildPostViews(ctx context.Context, viewerID int64, posts []schema.Post) ([]PostView, error) {
	if len(posts) == 0 {
		return []PostView{}, nil
	}

	authorIDs := lo.Uniq(lo.Map(posts, func(p schema.Post, _ int) int64 { return p.AuthorID }))
	authors, err := s.users.GetByIDs(ctx, authorIDs)
	if err != nil {
		return nil, err
	}

	views := make([]PostView, 0, len(posts))
	for i := range posts {
		p := &posts[i]
		view := PostView{
			ID:            p.ID,
			Author:        summarize(authors[p.AuthorID]),
			Content:       p.Content,
			Visibility:    p.Visibility,
			ReplyToID:     p.ReplyToID,
			RootPostID:    p.RootPostID,
			UpvoteCount:   p.UpvoteCount,
			DownvoteCount: p.DownvoteCount,
			CommentCount:  p.CommentCount,
			CreatedAt:     p.CreatedAt,
		}
		if viewerID != 0 {
			vote, err := s.posts.GetVote(ctx, p.ID, viewerID)
			if err != nil {
				return nil, err
			}
			if vote != nil {
				view.ViewerVote = &vote.Value
			}
		}
		views = append(views, view)
	}
	return views, nil
}

// notifyMentions 解析 @handle 并给开启了提醒的用户发通知，尽力而为
func (s *PostService) notifyMentions(ctx context.Context, actorID int64, content string) {
	matches := mentionPattern.FindAllStringSubmatch(content, -1)
	seen := make(map[string]bool, len(matches))
	for _, m := range matches {
		handle := m[1]
		if seen[handle] {
			continue
		}
		seen[handle] = true

		user, err := s.users.GetByHandle(ctx, handle)
		if err != nil || user == nil || user.ID == actorID || !user.NotifyMentions {
			continue
		}
		s.notifier.Notify(notify.Event{
			Kind:    "mention",
			Handle:  user.Handle,
			ActorID: actorID,
		})
	}
}
