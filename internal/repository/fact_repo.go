package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/haoyun/renmai/internal/schema"
	"gorm.io/gorm"
)

// FactRepository 事实仓储
type FactRepository struct {
	db *gorm.DB
}

// NewFactRepository 创建事实仓储
func NewFactRepository(db *gorm.DB) *FactRepository {
	return &FactRepository{db: db}
}

// WithTx 返回绑定到事务的仓储副本
func (r *FactRepository) WithTx(tx *gorm.DB) *FactRepository {
	return &FactRepository{db: tx}
}

// Create 创建事实
func (r *FactRepository) Create(ctx context.Context, fact *schema.Fact) error {
	if err := r.db.WithContext(ctx).Create(fact).Error; err != nil {
		return fmt.Errorf("创建事实失败: %w", err)
	}
	return nil
}

// GetByID 按 ID 查询事实，不存在返回 nil
func (r *FactRepository) GetByID(ctx context.Context, id int64) (*schema.Fact, error) {
	var fact schema.Fact
	if err := r.db.WithContext(ctx).First(&fact, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("查询事实失败: %w", err)
	}
	return &fact, nil
}

// Save 全量保存事实
func (r *FactRepository) Save(ctx context.Context, fact *schema.Fact) error {
	if err := r.db.WithContext(ctx).Save(fact).Error; err != nil {
		return fmt.Errorf("保存事实失败: %w", err)
	}
	return nil
}

// Delete 删除事实及其投票
func (r *FactRepository) Delete(ctx context.Context, id int64) error {
	if err := r.db.WithContext(ctx).Where("fact_id = ?", id).Delete(&schema.FactVote{}).Error; err != nil {
		return fmt.Errorf("删除事实投票失败: %w", err)
	}
	if err := r.db.WithContext(ctx).Delete(&schema.Fact{}, id).Error; err != nil {
		return fmt.Errorf("删除事实失败: %w", err)
	}
	return nil
}

// ListAboutUser 列出以某用户为主体的事实，按创建时间倒序
func (r *FactRepository) ListAboutUser(ctx context.Context, userID int64) ([]schema.Fact, error) {
	var facts []schema.Fact
	err := r.db.WithContext(ctx).
		Where("subject_user_id = ?", userID).
		Order("created_at DESC").
		Find(&facts).Error
	if err != nil {
		return nil, fmt.Errorf("查询用户事实失败: %w", err)
	}
	return facts, nil
}

// ListAboutPage 列出以某页面为主体的事实，按创建时间倒序
func (r *FactRepository) ListAboutPage(ctx context.Context, pageID int64) ([]schema.Fact, error) {
	var facts []schema.Fact
	err := r.db.WithContext(ctx).
		Where("subject_page_id = ?", pageID).
		Order("created_at DESC").
		Find(&facts).Error
	if err != nil {
		return nil, fmt.Errorf("查询页面事实失败: %w", err)
	}
	return facts, nil
}

// ListByAuthor 列出某作者断言的全部事实，按创建时间倒序
func (r *FactRepository) ListByAuthor(ctx context.Context, authorID int64) ([]schema.Fact, error) {
	var facts []schema.Fact
	err := r.db.WithContext(ctx).
		Where("author_id = ?", authorID).
		Order("created_at DESC").
		Find(&facts).Error
	if err != nil {
		return nil, fmt.Errorf("查询作者事实失败: %w", err)
	}
	return facts, nil
}

// GetVote 查询用户对事实的投票，不存在返回 nil
func (r *FactRepository) GetVote(ctx context.Context, factID, userID int64) (*schema.FactVote, error) {
	var vote schema.FactVote
	err := r.db.WithContext(ctx).
		Where("fact_id = ? AND user_id = ?", factID, userID).
		First(&vote).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("查询事实投票失败: %w", err)
	}
	return &vote, nil
}

// SaveVote 保存（新建或更新）投票
func (r *FactRepository) SaveVote(ctx context.Context, vote *schema.FactVote) error {
	if err := r.db.WithContext(ctx).Save(vote).Error; err != nil {
		return fmt.Errorf("保存事实投票失败: %w", err)
	}
	return nil
}

// DeleteVote 删除投票
func (r *FactRepository) DeleteVote(ctx context.Context, factID, userID int64) error {
	err := r.db.WithContext(ctx).
		Where("fact_id = ? AND user_id = ?", factID, userID).
		Delete(&schema.FactVote{}).Error
	if err != nil {
		return fmt.Errorf("删除事实投票失败: %w", err)
	}
	return nil
}

// RecomputeVoteAggregates 全量重算事实的票数缓存列。
// 投票写入后调用，保证缓存与明细表一致。
func (r *FactRepository) RecomputeVoteAggregates(ctx context.Context, factID int64) error {
	type agg struct {
		Sum   int
		Count int
	}
	var a agg
	err := r.db.WithContext(ctx).Model(&schema.FactVote{}).
		Select("COALESCE(SUM(value), 0) as sum, COUNT(*) as count").
		Where("fact_id = ?", factID).
		Scan(&a).Error
	if err != nil {
		return fmt.Errorf("统计事实票数失败: %w", err)
	}

	err = r.db.WithContext(ctx).Model(&schema.Fact{}).
		Where("id = ?", factID).
		Updates(map[string]any{"vote_sum": a.Sum, "vote_count": a.Count}).Error
	if err != nil {
		return fmt.Errorf("更新事实票数失败: %w", err)
	}
	return nil
}
