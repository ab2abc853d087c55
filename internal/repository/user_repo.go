package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/haoyun/renmai/internal/schema"
	"gorm.io/gorm"
)

// UserRepository 用户仓储
type UserRepository struct {
	db *gorm.DB
}

// NewUserRepository 创建用户仓储
func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// WithTx 返回绑定到事务的仓储副本
func (r *UserRepository) WithTx(tx *gorm.DB) *UserRepository {
	return &UserRepository{db: tx}
}

// Create 创建用户
func (r *UserRepository) Create(ctx context.Context, user *schema.User) error {
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		return fmt.Errorf("创建用户失败: %w", err)
	}
	return nil
}

// GetByID 按 ID 查询用户，不存在返回 nil
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*schema.User, error) {
	var user schema.User
	if err := r.db.WithContext(ctx).First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("查询用户失败: %w", err)
	}
	return &user, nil
}

// GetByHandle 按 handle 查询用户（忽略大小写），不存在返回 nil
func (r *UserRepository) GetByHandle(ctx context.Context, handle string) (*schema.User, error) {
	var user schema.User
	err := r.db.WithContext(ctx).
		Where("handle = ?", strings.ToLower(strings.TrimSpace(handle))).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("查询用户失败: %w", err)
	}
	return &user, nil
}

// GetByIDs 批量查询用户，返回 id -> user 映射
func (r *UserRepository) GetByIDs(ctx context.Context, ids []int64) (map[int64]*schema.User, error) {
	result := make(map[int64]*schema.User, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	var users []schema.User
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("批量查询用户失败: %w", err)
	}
	for i := range users {
		result[users[i].ID] = &users[i]
	}
	return result, nil
}

// HandleTaken 判断 handle 是否已被其他用户占用
func (r *UserRepository) HandleTaken(ctx context.Context, handle string, excludeID int64) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&schema.User{}).
		Where("handle = ? AND id != ?", strings.ToLower(handle), excludeID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("查询 handle 占用失败: %w", err)
	}
	return count > 0, nil
}

// UpdateFields 部分更新用户字段
func (r *UserRepository) UpdateFields(ctx context.Context, id int64, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Model(&schema.User{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return fmt.Errorf("更新用户失败: %w", err)
	}
	return nil
}

// PurgeAccount 删除账号并级联清理其名下全部数据。
// 单事务执行：先删引用行再删主行；该用户在他人内容上留下的投票和评论
// 删除后，受影响的缓存计数全量重算。
func (r *UserRepository) PurgeAccount(ctx context.Context, userID int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 先记下他人内容里受影响的行，删完后重算计数
		var votedFactIDs, votedPostIDs, replyRootIDs []int64
		if err := tx.Model(&schema.FactVote{}).Where("user_id = ?", userID).
			Pluck("fact_id", &votedFactIDs).Error; err != nil {
			return fmt.Errorf("收集 fact 投票失败: %w", err)
		}
		if err := tx.Model(&schema.PostVote{}).Where("user_id = ?", userID).
			Pluck("post_id", &votedPostIDs).Error; err != nil {
			return fmt.Errorf("收集帖子投票失败: %w", err)
		}
		if err := tx.Model(&schema.Post{}).Distinct("root_post_id").
			Where("author_id = ? AND root_post_id IS NOT NULL", userID).
			Pluck("root_post_id", &replyRootIDs).Error; err != nil {
			return fmt.Errorf("收集评论根帖失败: %w", err)
		}

		connIDs := tx.Model(&schema.Connection{}).Select("id").
			Where("user1_id = ? OR user2_id = ?", userID, userID)
		ownedPageIDs := tx.Model(&schema.Page{}).Select("id").
			Where("owner_id = ?", userID)
		factIDs := tx.Model(&schema.Fact{}).Select("id").
			Where("author_id = ? OR subject_user_id = ? OR subject_page_id IN (?)",
				userID, userID, ownedPageIDs)
		rootIDs := tx.Model(&schema.Post{}).Select("id").
			Where("author_id = ? AND reply_to_id IS NULL", userID)
		postIDs := tx.Model(&schema.Post{}).Select("id").
			Where("author_id = ? OR root_post_id IN (?)", userID, rootIDs)
		convIDs := tx.Model(&schema.Conversation{}).Select("id").
			Where("user1_id = ? OR user2_id = ?", userID, userID)

		del := func(what string, model any, query string, args ...any) error {
			if err := tx.Where(query, args...).Delete(model).Error; err != nil {
				return fmt.Errorf("清理%s失败: %w", what, err)
			}
			return nil
		}

		// 引用行
		if err := del("fact 投票", &schema.FactVote{}, "user_id = ? OR fact_id IN (?)", userID, factIDs); err != nil {
			return err
		}
		if err := del("帖子投票", &schema.PostVote{}, "user_id = ? OR post_id IN (?)", userID, postIDs); err != nil {
			return err
		}
		if err := del("连接投票", &schema.ConnectionVote{}, "voter_id = ? OR connection_id IN (?)", userID, connIDs); err != nil {
			return err
		}
		if err := del("举报", &schema.AbuseReport{},
			"reporter_id = ? OR reported_user_id = ? OR connection_id IN (?) OR post_id IN (?)",
			userID, userID, connIDs, postIDs); err != nil {
			return err
		}
		if err := del("消息", &schema.Message{}, "conversation_id IN (?)", convIDs); err != nil {
			return err
		}
		if err := del("已读游标", &schema.ConversationCursor{}, "user_id = ? OR conversation_id IN (?)", userID, convIDs); err != nil {
			return err
		}

		// 主行
		if err := del("fact", &schema.Fact{},
			"author_id = ? OR subject_user_id = ? OR subject_page_id IN (?)",
			userID, userID, ownedPageIDs); err != nil {
			return err
		}
		if err := del("帖子", &schema.Post{}, "author_id = ? OR root_post_id IN (?)", userID, rootIDs); err != nil {
			return err
		}
		if err := del("连接", &schema.Connection{}, "user1_id = ? OR user2_id = ?", userID, userID); err != nil {
			return err
		}
		if err := del("claim 日志", &schema.ConnectionClaimLog{}, "from_user_id = ? OR to_user_id = ?", userID, userID); err != nil {
			return err
		}
		if err := del("页面编辑者", &schema.PageEditor{}, "user_id = ? OR page_id IN (?)", userID, ownedPageIDs); err != nil {
			return err
		}
		if err := del("页面关注", &schema.PageFollow{}, "user_id = ? OR page_id IN (?)", userID, ownedPageIDs); err != nil {
			return err
		}
		if err := del("页面", &schema.Page{}, "owner_id = ?", userID); err != nil {
			return err
		}
		if err := del("会话", &schema.Conversation{}, "user1_id = ? OR user2_id = ?", userID, userID); err != nil {
			return err
		}
		if err := del("登录会话", &schema.UserSession{}, "user_id = ?", userID); err != nil {
			return err
		}
		if err := del("用户", &schema.User{}, "id = ?", userID); err != nil {
			return err
		}

		// 幸存内容的计数重算；目标行已删除时为空操作
		facts := NewFactRepository(tx)
		for _, id := range votedFactIDs {
			if err := facts.RecomputeVoteAggregates(ctx, id); err != nil {
				return err
			}
		}
		posts := NewPostRepository(tx)
		for _, id := range votedPostIDs {
			if err := posts.RecomputeVoteAggregates(ctx, id); err != nil {
				return err
			}
		}
		for _, id := range replyRootIDs {
			if err := posts.RecomputeCommentCount(ctx, id); err != nil {
				return err
			}
		}
		return nil
	})
}

// AdjustTrust 调整信誉分并截断到 [TrustMin, TrustMax]。
// 读取-计算-写回，调用方负责放入事务。
func (r *UserRepository) AdjustTrust(ctx context.Context, id int64, delta float64) error {
	user, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if user == nil {
		return fmt.Errorf("用户 %d 不存在", id)
	}

	trust := user.Trustworthiness + delta
	if trust < schema.TrustMin {
		trust = schema.TrustMin
	}
	if trust > schema.TrustMax {
		trust = schema.TrustMax
	}

	err = r.db.WithContext(ctx).Model(&schema.User{}).
		Where("id = ?", id).
		Update("trustworthiness", trust).Error
	if err != nil {
		return fmt.Errorf("更新信誉分失败: %w", err)
	}
	return nil
}
