// Package auth 提供不透明 bearer token 的会话认证。
// 密码哈希与凭证签发属于身份协作方，这里只负责 token -> 用户的解析。
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/haoyun/renmai/internal/schema"
	"gorm.io/gorm"
)

// DefaultSessionTTL 会话默认有效期
const DefaultSessionTTL = 30 * 24 * time.Hour

// ErrInvalidToken token 不存在或已过期
var ErrInvalidToken = errors.New("无效的会话 token")

// SessionStore 会话存取
type SessionStore struct {
	db  *gorm.DB
	ttl time.Duration
}

// NewSessionStore 创建会话存储，ttl <= 0 时使用默认值
func NewSessionStore(db *gorm.DB, ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionStore{db: db, ttl: ttl}
}

// Issue 为用户签发新会话，返回不透明 token
func (s *SessionStore) Issue(ctx context.Context, userID int64) (string, error) {
	session := schema.UserSession{
		Token:     uuid.NewString(),
		UserID:    userID,
		ExpiresAt: time.Now().Add(s.ttl),
	}
	if err := s.db.WithContext(ctx).Create(&session).Error; err != nil {
		return "", fmt.Errorf("创建会话失败: %w", err)
	}
	return session.Token, nil
}

// Authenticate 按 token 解析用户 ID，不存在或过期返回 ErrInvalidToken
func (s *SessionStore) Authenticate(ctx context.Context, token string) (int64, error) {
	if token == "" {
		return 0, ErrInvalidToken
	}
	var session schema.UserSession
	err := s.db.WithContext(ctx).
		Where("token = ?", token).
		First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrInvalidToken
		}
		return 0, fmt.Errorf("查询会话失败: %w", err)
	}
	if time.Now().After(session.ExpiresAt) {
		return 0, ErrInvalidToken
	}
	return session.UserID, nil
}

// Revoke 注销会话，token 不存在视为成功
func (s *SessionStore) Revoke(ctx context.Context, token string) error {
	err := s.db.WithContext(ctx).
		Where("token = ?", token).
		Delete(&schema.UserSession{}).Error
	if err != nil {
		return fmt.Errorf("注销会话失败: %w", err)
	}
	return nil
}

// PruneExpired 清理过期会话，返回清理行数
func (s *SessionStore) PruneExpired(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("expires_at < ?", time.Now()).
		Delete(&schema.UserSession{})
	if result.Error != nil {
		return 0, fmt.Errorf("清理过期会话失败: %w", result.Error)
	}
	return result.RowsAffected, nil
}
