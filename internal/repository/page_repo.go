package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/haoyun/renmai/internal/schema"
	"gorm.io/gorm"
)

// PageRepository 页面仓储
type PageRepository struct {
	db *gorm.DB
}

// NewPageRepository 创建页面仓储
func NewPageRepository(db *gorm.DB) *PageRepository {
	return &PageRepository{db: db}
}

// WithTx 返回绑定到事务的仓储副本
func (r *PageRepository) WithTx(tx *gorm.DB) *PageRepository {
	return &PageRepository{db: tx}
}

// Create 创建页面
func (r *PageRepository) Create(ctx context.Context, page *schema.Page) error {
	if err := r.db.WithContext(ctx).Create(page).Error; err != nil {
		return fmt.Errorf("创建页面失败: %w", err)
	}
	return nil
}

// GetByID 按 ID 查询页面，不存在返回 nil
func (r *PageRepository) GetByID(ctx context.Context, id int64) (*schema.Page, error) {
	var page schema.Page
	if err := r.db.WithContext(ctx).First(&page, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("查询页面失败: %w", err)
	}
	return &page, nil
}

// GetByHandle 按 handle 查询页面，不存在返回 nil
func (r *PageRepository) GetByHandle(ctx context.Context, handle string) (*schema.Page, error) {
	var page schema.Page
	err := r.db.WithContext(ctx).
		Where("handle = ?", strings.ToLower(strings.TrimSpace(handle))).
		First(&page).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("查询页面失败: %w", err)
	}
	return &page, nil
}

// GetByIDs 批量查询页面，返回 id -> page 映射
func (r *PageRepository) GetByIDs(ctx context.Context, ids []int64) (map[int64]*schema.Page, error) {
	result := make(map[int64]*schema.Page, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	var pages []schema.Page
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&pages).Error; err != nil {
		return nil, fmt.Errorf("批量查询页面失败: %w", err)
	}
	for i := range pages {
		result[pages[i].ID] = &pages[i]
	}
	return result, nil
}

// Save 全量保存页面
func (r *PageRepository) Save(ctx context.Context, page *schema.Page) error {
	if err := r.db.WithContext(ctx).Save(page).Error; err != nil {
		return fmt.Errorf("保存页面失败: %w", err)
	}
	return nil
}

// IsEditor 判断用户是否为页面的有效编辑者（所有者或已接受邀请）
func (r *PageRepository) IsEditor(ctx context.Context, pageID, userID int64) (bool, error) {
	page, err := r.GetByID(ctx, pageID)
	if err != nil {
		return false, err
	}
	if page == nil {
		return false, nil
	}
	if page.OwnerID == userID {
		return true, nil
	}

	var count int64
	err = r.db.WithContext(ctx).Model(&schema.PageEditor{}).
		Where("page_id = ? AND user_id = ? AND accepted_at IS NOT NULL", pageID, userID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("查询页面编辑者失败: %w", err)
	}
	return count > 0, nil
}

// InviteEditor 邀请编辑者，已存在邀请则不重复创建
func (r *PageRepository) InviteEditor(ctx context.Context, pageID, userID int64) error {
	var count int64
	err := r.db.WithContext(ctx).Model(&schema.PageEditor{}).
		Where("page_id = ? AND user_id = ?", pageID, userID).
		Count(&count).Error
	if err != nil {
		return fmt.Errorf("查询编辑者邀请失败: %w", err)
	}
	if count > 0 {
		return nil
	}
	editor := schema.PageEditor{PageID: pageID, UserID: userID}
	if err := r.db.WithContext(ctx).Create(&editor).Error; err != nil {
		return fmt.Errorf("创建编辑者邀请失败: %w", err)
	}
	return nil
}

// AcceptEditorInvite 接受编辑者邀请，返回是否存在待接受的邀请
func (r *PageRepository) AcceptEditorInvite(ctx context.Context, pageID, userID int64) (bool, error) {
	now := time.Now()
	result := r.db.WithContext(ctx).Model(&schema.PageEditor{}).
		Where("page_id = ? AND user_id = ? AND accepted_at IS NULL", pageID, userID).
		Update("accepted_at", now)
	if result.Error != nil {
		return false, fmt.Errorf("接受编辑者邀请失败: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// IsFollower 判断用户是否关注页面
func (r *PageRepository) IsFollower(ctx context.Context, pageID, userID int64) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&schema.PageFollow{}).
		Where("page_id = ? AND user_id = ?", pageID, userID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("查询页面关注失败: %w", err)
	}
	return count > 0, nil
}

// Follow 关注页面，重复关注为幂等
func (r *PageRepository) Follow(ctx context.Context, pageID, userID int64) error {
	var count int64
	err := r.db.WithContext(ctx).Model(&schema.PageFollow{}).
		Where("page_id = ? AND user_id = ?", pageID, userID).
		Count(&count).Error
	if err != nil {
		return fmt.Errorf("查询页面关注失败: %w", err)
	}
	if count > 0 {
		return nil
	}
	follow := schema.PageFollow{PageID: pageID, UserID: userID}
	if err := r.db.WithContext(ctx).Create(&follow).Error; err != nil {
		return fmt.Errorf("创建页面关注失败: %w", err)
	}
	return nil
}

// Unfollow 取消关注页面
func (r *PageRepository) Unfollow(ctx context.Context, pageID, userID int64) error {
	err := r.db.WithContext(ctx).
		Where("page_id = ? AND user_id = ?", pageID, userID).
		Delete(&schema.PageFollow{}).Error
	if err != nil {
		return fmt.Errorf("取消页面关注失败: %w", err)
	}
	return nil
}

// CountFollowers 统计页面关注数
func (r *PageRepository) CountFollowers(ctx context.Context, pageID int64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&schema.PageFollow{}).
		Where("page_id = ?", pageID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("统计页面关注数失败: %w", err)
	}
	return count, nil
}
