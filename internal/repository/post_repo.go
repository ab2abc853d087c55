package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/haoyun/renmai/internal/schema"
	"gorm.io/gorm"
)

// PostRepository 帖子仓储
type PostRepository struct {
	db *gorm.DB
}

// NewPostRepository 创建帖子仓储
func NewPostRepository(db *gorm.DB) *PostRepository {
	return &PostRepository{db: db}
}

// WithTx 返回绑定到事务的仓储副本
func (r *PostRepository) WithTx(tx *gorm.DB) *PostRepository {
	return &PostRepository{db: tx}
}

// Create 创建帖子
func (r *PostRepository) Create(ctx context.Context, post *schema.Post) error {
	if err := r.db.WithContext(ctx).Create(post).Error; err != nil {
		return fmt.Errorf("创建帖子失败: %w", err)
	}
	return nil
}

// GetByID 按 ID 查询帖子，不存在返回 nil
func (r *PostRepository) GetByID(ctx context.Context, id int64) (*schema.Post, error) {
	var post schema.Post
	if err := r.db.WithContext(ctx).First(&post, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("查询帖子失败: %w", err)
	}
	return &post, nil
}

// Save 全量保存帖子
func (r *PostRepository) Save(ctx context.Context, post *schema.Post) error {
	if err := r.db.WithContext(ctx).Save(post).Error; err != nil {
		return fmt.Errorf("保存帖子失败: %w", err)
	}
	return nil
}

// Delete 删除帖子及其投票
func (r *PostRepository) Delete(ctx context.Context, id int64) error {
	if err := r.db.WithContext(ctx).Where("post_id = ?", id).Delete(&schema.PostVote{}).Error; err != nil {
		return fmt.Errorf("删除帖子投票失败: %w", err)
	}
	if err := r.db.WithContext(ctx).Delete(&schema.Post{}, id).Error; err != nil {
		return fmt.Errorf("删除帖子失败: %w", err)
	}
	return nil
}

// ListFeed 拉取信息流候选：公开帖 ∪ 自己的帖 ∪ 已连接作者的帖。
// 只取根帖（评论不直接进流），按创建时间倒序，游标为 beforeID。
func (r *PostRepository) ListFeed(ctx context.Context, viewerID int64, connectedIDs []int64, beforeID int64, limit int) ([]schema.Post, error) {
	q := r.db.WithContext(ctx).Model(&schema.Post{}).
		Where("reply_to_id IS NULL")

	if len(connectedIDs) > 0 {
		q = q.Where("visibility = ? OR author_id = ? OR author_id IN ?",
			schema.VisibilityPublic, viewerID, connectedIDs)
	} else {
		q = q.Where("visibility = ? OR author_id = ?", schema.VisibilityPublic, viewerID)
	}

	if beforeID > 0 {
		q = q.Where("id < ?", beforeID)
	}

	var posts []schema.Post
	if err := q.Order("id DESC").Limit(limit).Find(&posts).Error; err != nil {
		return nil, fmt.Errorf("查询信息流失败: %w", err)
	}
	return posts, nil
}

// ListByAuthor 列出某作者的根帖，按创建时间倒序。limit <= 0 表示不限量。
func (r *PostRepository) ListByAuthor(ctx context.Context, authorID int64, limit int) ([]schema.Post, error) {
	q := r.db.WithContext(ctx).
		Where("author_id = ? AND reply_to_id IS NULL", authorID).
		Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var posts []schema.Post
	err := q.Find(&posts).Error
	if err != nil {
		return nil, fmt.Errorf("查询作者帖子失败: %w", err)
	}
	return posts, nil
}

// ListReplies 列出整串评论（按根帖 ID），按创建时间正序
func (r *PostRepository) ListReplies(ctx context.Context, rootPostID int64) ([]schema.Post, error) {
	var posts []schema.Post
	err := r.db.WithContext(ctx).
		Where("root_post_id = ?", rootPostID).
		Order("id ASC").
		Find(&posts).Error
	if err != nil {
		return nil, fmt.Errorf("查询评论失败: %w", err)
	}
	return posts, nil
}

// GetVote 查询用户对帖子的投票，不存在返回 nil
func (r *PostRepository) GetVote(ctx context.Context, postID, userID int64) (*schema.PostVote, error) {
	var vote schema.PostVote
	err := r.db.WithContext(ctx).
		Where("post_id = ? AND user_id = ?", postID, userID).
		First(&vote).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("查询帖子投票失败: %w", err)
	}
	return &vote, nil
}

// SaveVote 保存（新建或更新）投票
func (r *PostRepository) SaveVote(ctx context.Context, vote *schema.PostVote) error {
	if err := r.db.WithContext(ctx).Save(vote).Error; err != nil {
		return fmt.Errorf("保存帖子投票失败: %w", err)
	}
	return nil
}

// DeleteVote 删除投票
func (r *PostRepository) DeleteVote(ctx context.Context, postID, userID int64) error {
	err := r.db.WithContext(ctx).
		Where("post_id = ? AND user_id = ?", postID, userID).
		Delete(&schema.PostVote{}).Error
	if err != nil {
		return fmt.Errorf("删除帖子投票失败: %w", err)
	}
	return nil
}

// RecomputeVoteAggregates 全量重算帖子的赞踩缓存列
func (r *PostRepository) RecomputeVoteAggregates(ctx context.Context, postID int64) error {
	type agg struct {
		Up   int
		Down int
	}
	var a agg
	err := r.db.WithContext(ctx).Model(&schema.PostVote{}).
		Select("COALESCE(SUM(CASE WHEN value > 0 THEN 1 ELSE 0 END), 0) as up, COALESCE(SUM(CASE WHEN value < 0 THEN 1 ELSE 0 END), 0) as down").
		Where("post_id = ?", postID).
		Scan(&a).Error
	if err != nil {
		return fmt.Errorf("统计帖子票数失败: %w", err)
	}

	err = r.db.WithContext(ctx).Model(&schema.Post{}).
		Where("id = ?", postID).
		Updates(map[string]any{"upvote_count": a.Up, "downvote_count": a.Down}).Error
	if err != nil {
		return fmt.Errorf("更新帖子票数失败: %w", err)
	}
	return nil
}

// RecomputeCommentCount 全量重算根帖的评论数缓存列
func (r *PostRepository) RecomputeCommentCount(ctx context.Context, rootPostID int64) error {
	var count int64
	err := r.db.WithContext(ctx).Model(&schema.Post{}).
		Where("root_post_id = ?", rootPostID).
		Count(&count).Error
	if err != nil {
		return fmt.Errorf("统计评论数失败: %w", err)
	}

	err = r.db.WithContext(ctx).Model(&schema.Post{}).
		Where("id = ?", rootPostID).
		Update("comment_count", count).Error
	if err != nil {
		return fmt.Errorf("更新评论数失败: %w", err)
	}
	return nil
}
