package repository

import (
	"context"
	"fmt"

	"github.com/haoyun/renmai/internal/schema"
	"gorm.io/gorm"
)

// ReportRepository 滥用举报仓储
type ReportRepository struct {
	db *gorm.DB
}

// NewReportRepository 创建举报仓储
func NewReportRepository(db *gorm.DB) *ReportRepository {
	return &ReportRepository{db: db}
}

// WithTx 返回绑定到事务的仓储副本
func (r *ReportRepository) WithTx(tx *gorm.DB) *ReportRepository {
	return &ReportRepository{db: tx}
}

// Create 创建举报
func (r *ReportRepository) Create(ctx context.Context, report *schema.AbuseReport) error {
	if err := r.db.WithContext(ctx).Create(report).Error; err != nil {
		return fmt.Errorf("创建举报失败: %w", err)
	}
	return nil
}

// HasPendingForConnection 判断举报人对该连接是否已有待处理举报
func (r *ReportRepository) HasPendingForConnection(ctx context.Context, reporterID, connID int64) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&schema.AbuseReport{}).
		Where("reporter_id = ? AND connection_id = ? AND status = ?", reporterID, connID, "pending").
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("查询连接举报失败: %w", err)
	}
	return count > 0, nil
}

// HasPendingForPost 判断举报人对该帖子是否已有待处理举报
func (r *ReportRepository) HasPendingForPost(ctx context.Context, reporterID, postID int64) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&schema.AbuseReport{}).
		Where("reporter_id = ? AND post_id = ? AND status = ?", reporterID, postID, "pending").
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("查询帖子举报失败: %w", err)
	}
	return count > 0, nil
}
