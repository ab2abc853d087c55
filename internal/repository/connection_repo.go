package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/haoyun/renmai/internal/schema"
	"gorm.io/gorm"
)

// ConnectionRepository 连接图仓储
type ConnectionRepository struct {
	db *gorm.DB
}

// NewConnectionRepository 创建连接图仓储
func NewConnectionRepository(db *gorm.DB) *ConnectionRepository {
	return &ConnectionRepository{db: db}
}

// WithTx 返回绑定到事务的仓储副本
func (r *ConnectionRepository) WithTx(tx *gorm.DB) *ConnectionRepository {
	return &ConnectionRepository{db: tx}
}

// GetByID 按 ID 查询连接，不存在返回 nil
func (r *ConnectionRepository) GetByID(ctx context.Context, id int64) (*schema.Connection, error) {
	var conn schema.Connection
	if err := r.db.WithContext(ctx).First(&conn, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("查询连接失败: %w", err)
	}
	return &conn, nil
}

// GetByPair 查询无序对的连接行（每对最多一行）
func (r *ConnectionRepository) GetByPair(ctx context.Context, a, b int64) (*schema.Connection, error) {
	u1, u2 := schema.CanonicalPair(a, b)
	var conn schema.Connection
	err := r.db.WithContext(ctx).
		Where("user1_id = ? AND user2_id = ?", u1, u2).
		First(&conn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("查询连接失败: %w", err)
	}
	return &conn, nil
}

// Create 创建连接行。(user1_id, user2_id) 唯一索引保证并发下每对只有一行。
func (r *ConnectionRepository) Create(ctx context.Context, conn *schema.Connection) error {
	if err := r.db.WithContext(ctx).Create(conn).Error; err != nil {
		return fmt.Errorf("创建连接失败: %w", err)
	}
	return nil
}

// Save 全量保存连接行
func (r *ConnectionRepository) Save(ctx context.Context, conn *schema.Connection) error {
	if err := r.db.WithContext(ctx).Save(conn).Error; err != nil {
		return fmt.Errorf("保存连接失败: %w", err)
	}
	return nil
}

// Delete 删除连接行及其投票
func (r *ConnectionRepository) Delete(ctx context.Context, id int64) error {
	if err := r.db.WithContext(ctx).Where("connection_id = ?", id).Delete(&schema.ConnectionVote{}).Error; err != nil {
		return fmt.Errorf("删除连接投票失败: %w", err)
	}
	if err := r.db.WithContext(ctx).Delete(&schema.Connection{}, id).Error; err != nil {
		return fmt.Errorf("删除连接失败: %w", err)
	}
	return nil
}

// ListConfirmed 列出用户全部已确认连接
func (r *ConnectionRepository) ListConfirmed(ctx context.Context, userID int64) ([]schema.Connection, error) {
	var conns []schema.Connection
	err := r.db.WithContext(ctx).
		Where("status = ?", schema.ConnectionConfirmed).
		Where("user1_id = ? OR user2_id = ?", userID, userID).
		Find(&conns).Error
	if err != nil {
		return nil, fmt.Errorf("查询已确认连接失败: %w", err)
	}
	return conns, nil
}

// ListPendingIncoming 列出等待用户确认的 pending 连接，按请求时间倒序
func (r *ConnectionRepository) ListPendingIncoming(ctx context.Context, userID int64) ([]schema.Connection, error) {
	var conns []schema.Connection
	err := r.db.WithContext(ctx).
		Where("status = ?", schema.ConnectionPending).
		Where("(user1_id = ? OR user2_id = ?) AND requested_by != ?", userID, userID, userID).
		Order("requested_at DESC").
		Find(&conns).Error
	if err != nil {
		return nil, fmt.Errorf("查询待确认连接失败: %w", err)
	}
	return conns, nil
}

// CountPendingIncoming 统计等待用户确认的 pending 连接数（导航栏角标）
func (r *ConnectionRepository) CountPendingIncoming(ctx context.Context, userID int64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&schema.Connection{}).
		Where("status = ?", schema.ConnectionPending).
		Where("(user1_id = ? OR user2_id = ?) AND requested_by != ?", userID, userID, userID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("统计待确认连接失败: %w", err)
	}
	return count, nil
}

// ListIgnoredIncoming 列出用户已忽略的连接，供事后翻看或补确认
func (r *ConnectionRepository) ListIgnoredIncoming(ctx context.Context, userID int64) ([]schema.Connection, error) {
	var conns []schema.Connection
	err := r.db.WithContext(ctx).
		Where("status = ?", schema.ConnectionIgnored).
		Where("(user1_id = ? OR user2_id = ?) AND requested_by != ?", userID, userID, userID).
		Order("responded_at DESC").
		Find(&conns).Error
	if err != nil {
		return nil, fmt.Errorf("查询已忽略连接失败: %w", err)
	}
	return conns, nil
}

// ListSentBy 列出用户发起的全部 claim，按请求时间倒序
func (r *ConnectionRepository) ListSentBy(ctx context.Context, userID int64) ([]schema.Connection, error) {
	var conns []schema.Connection
	err := r.db.WithContext(ctx).
		Where("requested_by = ?", userID).
		Order("requested_at DESC").
		Find(&conns).Error
	if err != nil {
		return nil, fmt.Errorf("查询已发送连接失败: %w", err)
	}
	return conns, nil
}

// ConfirmedExists 判断两用户之间是否存在已确认连接
func (r *ConnectionRepository) ConfirmedExists(ctx context.Context, a, b int64) (bool, error) {
	u1, u2 := schema.CanonicalPair(a, b)
	var count int64
	err := r.db.WithContext(ctx).Model(&schema.Connection{}).
		Where("user1_id = ? AND user2_id = ? AND status = ?", u1, u2, schema.ConnectionConfirmed).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("查询连接状态失败: %w", err)
	}
	return count > 0, nil
}

// ConnectedIDs 返回与用户已确认连接的全部用户 ID。
// 可见性过滤每次请求只计算一次，供 facts/posts 复用。
func (r *ConnectionRepository) ConnectedIDs(ctx context.Context, userID int64) ([]int64, error) {
	conns, err := r.ListConfirmed(ctx, userID)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(conns))
	for i := range conns {
		ids = append(ids, conns[i].Other(userID))
	}
	return ids, nil
}

// SweepStale 将 30 天未响应的 pending 连接批量置为 ignored，返回行数。
// 条件限定 status=pending，与并发 confirm 竞争时后写者胜。
func (r *ConnectionRepository) SweepStale(ctx context.Context, before, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Model(&schema.Connection{}).
		Where("status = ? AND requested_at < ?", schema.ConnectionPending, before).
		Updates(map[string]any{
			"status":       schema.ConnectionIgnored,
			"responded_at": now,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("清扫过期连接失败: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// --- claim 限流日志 ---

// InsertClaimLog 记录一次 claim 尝试，时间戳由调用方提供
func (r *ConnectionRepository) InsertClaimLog(ctx context.Context, fromID, toID int64, at time.Time) error {
	log := schema.ConnectionClaimLog{FromUserID: fromID, ToUserID: toID, CreatedAt: at}
	if err := r.db.WithContext(ctx).Create(&log).Error; err != nil {
		return fmt.Errorf("写入 claim 日志失败: %w", err)
	}
	return nil
}

// CountClaimsPair 统计滑动窗口内 from 对 to 的 claim 次数，窗口边界含端点
func (r *ConnectionRepository) CountClaimsPair(ctx context.Context, fromID, toID int64, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&schema.ConnectionClaimLog{}).
		Where("from_user_id = ? AND to_user_id = ? AND created_at >= ?", fromID, toID, since).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("统计 claim 次数失败: %w", err)
	}
	return count, nil
}

// CountClaimsFrom 统计滑动窗口内 from 发出的全部 claim 次数，窗口边界含端点
func (r *ConnectionRepository) CountClaimsFrom(ctx context.Context, fromID int64, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&schema.ConnectionClaimLog{}).
		Where("from_user_id = ? AND created_at >= ?", fromID, since).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("统计 claim 次数失败: %w", err)
	}
	return count, nil
}

// DeleteNewestClaimLog 删除最近一条 (from, to) 日志，withdraw 归还限流配额
func (r *ConnectionRepository) DeleteNewestClaimLog(ctx context.Context, fromID, toID int64) error {
	var log schema.ConnectionClaimLog
	err := r.db.WithContext(ctx).
		Where("from_user_id = ? AND to_user_id = ?", fromID, toID).
		Order("created_at DESC, id DESC").
		First(&log).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return fmt.Errorf("查询 claim 日志失败: %w", err)
	}
	if err := r.db.WithContext(ctx).Delete(&schema.ConnectionClaimLog{}, log.ID).Error; err != nil {
		return fmt.Errorf("删除 claim 日志失败: %w", err)
	}
	return nil
}

// --- 连接投票 ---

// GetVote 查询投票，不存在返回 nil
func (r *ConnectionRepository) GetVote(ctx context.Context, connID, voterID int64) (*schema.ConnectionVote, error) {
	var vote schema.ConnectionVote
	err := r.db.WithContext(ctx).
		Where("connection_id = ? AND voter_id = ?", connID, voterID).
		First(&vote).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("查询连接投票失败: %w", err)
	}
	return &vote, nil
}

// SaveVote 保存（新建或更新）投票
func (r *ConnectionRepository) SaveVote(ctx context.Context, vote *schema.ConnectionVote) error {
	if err := r.db.WithContext(ctx).Save(vote).Error; err != nil {
		return fmt.Errorf("保存连接投票失败: %w", err)
	}
	return nil
}

// DeleteVote 删除投票
func (r *ConnectionRepository) DeleteVote(ctx context.Context, connID, voterID int64) error {
	err := r.db.WithContext(ctx).
		Where("connection_id = ? AND voter_id = ?", connID, voterID).
		Delete(&schema.ConnectionVote{}).Error
	if err != nil {
		return fmt.Errorf("删除连接投票失败: %w", err)
	}
	return nil
}

// VoteSums 批量统计连接的净票数
func (r *ConnectionRepository) VoteSums(ctx context.Context, connIDs []int64) (map[int64]int, error) {
	result := make(map[int64]int, len(connIDs))
	if len(connIDs) == 0 {
		return result, nil
	}

	type row struct {
		ConnectionID int64
		Sum          int
	}
	var rows []row
	err := r.db.WithContext(ctx).Model(&schema.ConnectionVote{}).
		Select("connection_id, SUM(vote) as sum").
		Where("connection_id IN ?", connIDs).
		Group("connection_id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("统计连接净票数失败: %w", err)
	}
	for _, r := range rows {
		result[r.ConnectionID] = r.Sum
	}
	return result, nil
}
