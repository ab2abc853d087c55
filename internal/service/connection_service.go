package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/haoyun/renmai/internal/repository"
	"github.com/haoyun/renmai/internal/schema"
	"github.com/samber/lo"
	"gorm.io/gorm"
)

// claim 限流与清扫参数
const (
	claimPairLimit   = 3   // 24h 内对同一目标
	claimGlobalLimit = 100 // 24h 内总量
	claimWindow      = 24 * time.Hour

	staleClaimAge = 30 * 24 * time.Hour // 超期未响应自动忽略

	powerHalfLifeDays = 1095.0 // 三年半衰期
	voteTrustDelta    = 0.01   // 每票对发起方信誉的影响
)

// ConnectionService 连接图引擎：claim 状态机、power 排序、karma 限流、连接投票。
// 所有读改写路径都包在单个事务里，配合 (user1,user2) 唯一索引保证并发安全。
type ConnectionService struct {
	db      *gorm.DB
	users   *repository.UserRepository
	conns   *repository.ConnectionRepository
	reports *repository.ReportRepository
	now     func() time.Time
}

// NewConnectionService 创建连接图引擎
func NewConnectionService(db *gorm.DB, users *repository.UserRepository, conns *repository.ConnectionRepository, reports *repository.ReportRepository) *ConnectionService {
	return &ConnectionService{
		db:      db,
		users:   users,
		conns:   conns,
		reports: reports,
		now:     time.Now,
	}
}

// UserSummary 对外暴露的用户摘要
type UserSummary struct {
	ID         int64  `json:"id"`
	Handle     string `json:"handle"`
	Name       string `json:"name"`
	Headline   string `json:"headline"`
	AvatarPath string `json:"avatar_path"`
}

func summarize(u *schema.User) UserSummary {
	if u == nil {
		return UserSummary{}
	}
	return UserSummary{
		ID:         u.ID,
		Handle:     u.Handle,
		Name:       u.DisplayName(),
		Headline:   u.Headline,
		AvatarPath: u.AvatarPath,
	}
}

// ConnectionView 连接列表条目
type ConnectionView struct {
	ID          int64       `json:"id"`
	Other       UserSummary `json:"other"`
	Status      string      `json:"status"`
	RequestedBy int64       `json:"requested_by"`
	Subject     string      `json:"subject"`
	Body        string      `json:"body"`
	RequestedAt time.Time   `json:"requested_at"`
	VoteSum     int         `json:"vote_sum"`
	Power       float64     `json:"power"`
}

// connectionPower 计算 power = exp(-ln2·days/1095) · (1 + 0.1·voteSum) · (trustA+trustB)/2。
// 时间锚点为 claim 创建时刻，随天数单调衰减。
func connectionPower(requestedAt time.Time, voteSum int, trustA, trustB float64, now time.Time) float64 {
	days := now.Sub(requestedAt).Hours() / 24.0
	if days < 0 {
		days = 0
	}
	decay := math.Exp(-math.Ln2 * days / powerHalfLifeDays)
	return decay * (1.0 + 0.1*float64(voteSum)) * (trustA + trustB) / 2.0
}

// regenKarma 懒惰回复 karma：每满 30 天 +1，封顶 15。回写后刷新 user 内存值。
func (s *ConnectionService) regenKarma(ctx context.Context, users *repository.UserRepository, user *schema.User, now time.Time) error {
	periods := int(now.Sub(user.KarmaLastRegen) / schema.KarmaRegenPeriod)
	if periods < 1 {
		return nil
	}
	karma := user.KarmaPoints + periods
	if karma > schema.KarmaMax {
		karma = schema.KarmaMax
	}
	err := users.UpdateFields(ctx, user.ID, map[string]any{
		"karma_points":     karma,
		"karma_last_regen": now,
	})
	if err != nil {
		return err
	}
	user.KarmaPoints = karma
	user.KarmaLastRegen = now
	return nil
}

// CreateClaim 发起连接请求。检查顺序：karma（先回复）→ 滑动窗口限流 → 对行状态机。
// 对方已有 pending 反向请求时视为互相声明，直接确认。
func (s *ConnectionService) CreateClaim(ctx context.Context, fromID, toID int64, subject, body string) (*schema.Connection, error) {
	if fromID == toID {
		return nil, Invalid("不能与自己建立连接")
	}
	subject = strings.TrimSpace(subject)
	if len(subject) < 3 || len(subject) > 100 {
		return nil, Invalid("主题长度需在 3-100 字符之间")
	}
	if len(body) > 2000 {
		return nil, Invalid("正文长度不能超过 2000 字符")
	}

	now := s.now()
	var result *schema.Connection

	err := s.db.Transaction(func(tx *gorm.DB) error {
		users := s.users.WithTx(tx)
		conns := s.conns.WithTx(tx)

		from, err := users.GetByID(ctx, fromID)
		if err != nil {
			return err
		}
		if from == nil {
			return NotFound("用户不存在")
		}
		if err := s.regenKarma(ctx, users, from, now); err != nil {
			return err
		}
		if from.KarmaPoints <= 0 {
			return Forbidden("karma 不足，账号暂时无法发起连接")
		}

		to, err := users.GetByID(ctx, toID)
		if err != nil {
			return err
		}
		if to == nil {
			return NotFound("目标用户不存在")
		}

		since := now.Add(-claimWindow)
		pairCount, err := conns.CountClaimsPair(ctx, fromID, toID, since)
		if err != nil {
			return err
		}
		if pairCount >= claimPairLimit {
			return RateLimited("24 小时内对同一用户最多发起 3 次连接请求")
		}
		globalCount, err := conns.CountClaimsFrom(ctx, fromID, since)
		if err != nil {
			return err
		}
		if globalCount >= claimGlobalLimit {
			return RateLimited("24 小时内连接请求总量已达上限")
		}

		if err := conns.InsertClaimLog(ctx, fromID, toID, now); err != nil {
			return err
		}

		existing, err := conns.GetByPair(ctx, fromID, toID)
		if err != nil {
			return err
		}

		switch {
		case existing == nil:
			u1, u2 := schema.CanonicalPair(fromID, toID)
			conn := &schema.Connection{
				User1ID:     u1,
				User2ID:     u2,
				Status:      schema.ConnectionPending,
				RequestedBy: fromID,
				Subject:     subject,
				Body:        body,
				RequestedAt: now,
			}
			if err := conns.Create(ctx, conn); err != nil {
				return err
			}
			result = conn
			return nil

		case existing.Status == schema.ConnectionConfirmed:
			return Conflict("连接已经确认")

		case existing.Status == schema.ConnectionPending && existing.RequestedBy == fromID:
			return Conflict("已有待确认的连接请求")

		case existing.Status == schema.ConnectionPending:
			// 对方先发起了请求，互相声明直接确认
			existing.Status = schema.ConnectionConfirmed
			existing.RespondedAt = &now
			if err := conns.Save(ctx, existing); err != nil {
				return err
			}
			result = existing
			return nil

		default: // ignored，重新请求回到 pending
			existing.Status = schema.ConnectionPending
			existing.RequestedBy = fromID
			existing.Subject = subject
			existing.Body = body
			existing.RequestedAt = now
			existing.RespondedAt = nil
			if err := conns.Save(ctx, existing); err != nil {
				return err
			}
			result = existing
			return nil
		}
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Confirm 确认 pending 连接，只有非发起方可以操作
func (s *ConnectionService) Confirm(ctx context.Context, userID, connID int64) (*schema.Connection, error) {
	conn, err := s.conns.GetByID(ctx, connID)
	if err != nil {
		return nil, err
	}
	if conn == nil || !conn.Involves(userID) {
		return nil, NotFound("连接请求不存在")
	}
	if conn.RequestedBy == userID {
		return nil, Forbidden("不能确认自己发起的连接请求")
	}
	if conn.Status != schema.ConnectionPending {
		return nil, NotFound("没有待确认的连接请求")
	}

	now := s.now()
	conn.Status = schema.ConnectionConfirmed
	conn.RespondedAt = &now
	if err := s.conns.Save(ctx, conn); err != nil {
		return nil, err
	}
	return conn, nil
}

// Ignore 忽略连接，只有非发起方可以操作，pending 与 confirmed 均可忽略
func (s *ConnectionService) Ignore(ctx context.Context, userID, connID int64) error {
	conn, err := s.conns.GetByID(ctx, connID)
	if err != nil {
		return err
	}
	if conn == nil || !conn.Involves(userID) {
		return NotFound("连接不存在")
	}
	if conn.RequestedBy == userID {
		return Forbidden("不能忽略自己发起的连接请求")
	}
	if conn.Status == schema.ConnectionIgnored {
		return Conflict("连接已被忽略")
	}

	now := s.now()
	conn.Status = schema.ConnectionIgnored
	conn.RespondedAt = &now
	return s.conns.Save(ctx, conn)
}

// Withdraw 撤回 pending 请求：删除连接行，并删除最近一条 claim 日志归还限流配额
func (s *ConnectionService) Withdraw(ctx context.Context, userID, connID int64) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		conns := s.conns.WithTx(tx)

		conn, err := conns.GetByID(ctx, connID)
		if err != nil {
			return err
		}
		if conn == nil || !conn.Involves(userID) {
			return NotFound("连接请求不存在")
		}
		if conn.Status != schema.ConnectionPending {
			return Conflict("只能撤回待确认的连接请求")
		}
		if conn.RequestedBy != userID {
			return Forbidden("只有发起方可以撤回连接请求")
		}

		if err := conns.Delete(ctx, conn.ID); err != nil {
			return err
		}
		return conns.DeleteNewestClaimLog(ctx, userID, conn.Other(userID))
	})
}

// Disconnect 解除已确认的连接，双方任一方可操作，直接删除行
func (s *ConnectionService) Disconnect(ctx context.Context, userID, connID int64) error {
	conn, err := s.conns.GetByID(ctx, connID)
	if err != nil {
		return err
	}
	if conn == nil || !conn.Involves(userID) {
		return NotFound("连接不存在")
	}
	if conn.Status != schema.ConnectionConfirmed {
		return Conflict("只能解除已确认的连接")
	}
	return s.conns.Delete(ctx, conn.ID)
}

// ListConnections 列出已确认连接，按 power 降序，同分按 ID 升序
func (s *ConnectionService) ListConnections(ctx context.Context, userID int64) ([]ConnectionView, error) {
	conns, err := s.conns.ListConfirmed(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.buildViews(ctx, userID, conns, true)
}

// ListConnectionsOf 按 handle 公开列出某用户的已确认连接，同样按 power 排序
func (s *ConnectionService) ListConnectionsOf(ctx context.Context, handle string) ([]ConnectionView, error) {
	user, err := s.users.GetByHandle(ctx, handle)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, NotFound("用户不存在")
	}
	return s.ListConnections(ctx, user.ID)
}

// ListPending 列出等待当前用户确认的请求
func (s *ConnectionService) ListPending(ctx context.Context, userID int64) ([]ConnectionView, error) {
	conns, err := s.conns.ListPendingIncoming(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.buildViews(ctx, userID, conns, false)
}

// ListSent 列出当前用户发起的请求
func (s *ConnectionService) ListSent(ctx context.Context, userID int64) ([]ConnectionView, error) {
	conns, err := s.conns.ListSentBy(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.buildViews(ctx, userID, conns, false)
}

// ListIgnored 列出当前用户忽略过的请求
func (s *ConnectionService) ListIgnored(ctx context.Context, userID int64) ([]ConnectionView, error) {
	conns, err := s.conns.ListIgnoredIncoming(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.buildViews(ctx, userID, conns, false)
}

// buildViews 批量装配连接视图，ranked 为真时计算 power 并排序
func (s *ConnectionService) buildViews(ctx context.Context, userID int64, conns []schema.Connection, ranked bool) ([]ConnectionView, error) {
	if len(conns) == 0 {
		return []ConnectionView{}, nil
	}

	userIDs := lo.Uniq(lo.FlatMap(conns, func(c schema.Connection, _ int) []int64 {
		return []int64{c.User1ID, c.User2ID}
	}))
	userMap, err := s.users.GetByIDs(ctx, userIDs)
	if err != nil {
		return nil, err
	}

	connIDs := lo.Map(conns, func(c schema.Connection, _ int) int64 { return c.ID })
	voteSums, err := s.conns.VoteSums(ctx, connIDs)
	if err != nil {
		return nil, err
	}

	now := s.now()
	views := make([]ConnectionView, 0, len(conns))
	for i := range conns {
		c := &conns[i]
		view := ConnectionView{
			ID:          c.ID,
			Other:       summarize(userMap[c.Other(userID)]),
			Status:      c.Status,
			RequestedBy: c.RequestedBy,
			Subject:     c.Subject,
			Body:        c.Body,
			RequestedAt: c.RequestedAt,
			VoteSum:     voteSums[c.ID],
		}
		if ranked {
			u1, u2 := userMap[c.User1ID], userMap[c.User2ID]
			trust1, trust2 := 1.0, 1.0
			if u1 != nil {
				trust1 = u1.Trustworthiness
			}
			if u2 != nil {
				trust2 = u2.Trustworthiness
			}
			view.Power = connectionPower(c.RequestedAt, voteSums[c.ID], trust1, trust2, now)
		}
		views = append(views, view)
	}

	if ranked {
		sort.Slice(views, func(i, j int) bool {
			if views[i].Power != views[j].Power {
				return views[i].Power > views[j].Power
			}
			return views[i].ID < views[j].ID
		})
	}
	return views, nil
}

// ConnectionStatus 两用户之间的连接状态汇总
type ConnectionStatus struct {
	Status       string `json:"status"` // none / pending / confirmed / ignored
	ConnectionID int64  `json:"connection_id,omitempty"`
	RequestedBy  int64  `json:"requested_by,omitempty"`
}

// Status 查询当前用户与指定 handle 用户的连接状态
func (s *ConnectionService) Status(ctx context.Context, userID int64, otherHandle string) (*ConnectionStatus, error) {
	other, err := s.users.GetByHandle(ctx, otherHandle)
	if err != nil {
		return nil, err
	}
	if other == nil {
		return nil, NotFound("用户不存在")
	}

	conn, err := s.conns.GetByPair(ctx, userID, other.ID)
	if err != nil {
		return nil, err
	}
	if conn == nil {
		return &ConnectionStatus{Status: "none"}, nil
	}
	return &ConnectionStatus{
		Status:       conn.Status,
		ConnectionID: conn.ID,
		RequestedBy:  conn.RequestedBy,
	}, nil
}

// ConnectedIDs 返回与用户已确认连接的用户 ID 集合，供可见性过滤复用
func (s *ConnectionService) ConnectedIDs(ctx context.Context, userID int64) ([]int64, error) {
	return s.conns.ConnectedIDs(ctx, userID)
}

// IsConnected 判断两用户是否已确认连接
func (s *ConnectionService) IsConnected(ctx context.Context, a, b int64) (bool, error) {
	return s.conns.ConfirmedExists(ctx, a, b)
}

// Vote 对已确认连接投票（±1）。投票人必须与双方都已连接且不是连接当事人。
// 重复同值视为取消并回退信誉增量；改值只应用差额，保证信誉不会被重复叠加。
func (s *ConnectionService) Vote(ctx context.Context, voterID, connID int64, value int) error {
	if value != 1 && value != -1 {
		return Invalid("连接投票取值只能是 +1 或 -1")
	}

	conn, err := s.conns.GetByID(ctx, connID)
	if err != nil {
		return err
	}
	if conn == nil {
		return NotFound("连接不存在")
	}
	if conn.Status != schema.ConnectionConfirmed {
		return Conflict("只能对已确认的连接投票")
	}
	if conn.Involves(voterID) {
		return Forbidden("连接当事人不能为自己的连接投票")
	}
	for _, partyID := range []int64{conn.User1ID, conn.User2ID} {
		ok, err := s.conns.ConfirmedExists(ctx, voterID, partyID)
		if err != nil {
			return err
		}
		if !ok {
			return Forbidden("只有与双方都已连接的用户才能投票")
		}
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		conns := s.conns.WithTx(tx)
		users := s.users.WithTx(tx)

		existing, err := conns.GetVote(ctx, connID, voterID)
		if err != nil {
			return err
		}

		switch {
		case existing == nil:
			vote := &schema.ConnectionVote{ConnectionID: connID, VoterID: voterID, Vote: value}
			if err := conns.SaveVote(ctx, vote); err != nil {
				return err
			}
			return users.AdjustTrust(ctx, conn.RequestedBy, voteTrustDelta*float64(value))

		case existing.Vote == value:
			// 同值视为取消，回退信誉增量
			if err := conns.DeleteVote(ctx, connID, voterID); err != nil {
				return err
			}
			return users.AdjustTrust(ctx, conn.RequestedBy, -voteTrustDelta*float64(value))

		default:
			old := existing.Vote
			existing.Vote = value
			if err := conns.SaveVote(ctx, existing); err != nil {
				return err
			}
			return users.AdjustTrust(ctx, conn.RequestedBy, voteTrustDelta*float64(value-old))
		}
	})
}

// RemoveVote 撤销投票并回退信誉增量
func (s *ConnectionService) RemoveVote(ctx context.Context, voterID, connID int64) error {
	conn, err := s.conns.GetByID(ctx, connID)
	if err != nil {
		return err
	}
	if conn == nil {
		return NotFound("连接不存在")
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		conns := s.conns.WithTx(tx)
		users := s.users.WithTx(tx)

		existing, err := conns.GetVote(ctx, connID, voterID)
		if err != nil {
			return err
		}
		if existing == nil {
			return NotFound("没有可撤销的投票")
		}
		if err := conns.DeleteVote(ctx, connID, voterID); err != nil {
			return err
		}
		return users.AdjustTrust(ctx, conn.RequestedBy, -voteTrustDelta*float64(existing.Vote))
	})
}

// Report 举报连接，理由 10-500 字符，每人对同一连接最多一条待处理举报
func (s *ConnectionService) Report(ctx context.Context, reporterID, connID int64, reason string) error {
	reason = strings.TrimSpace(reason)
	if len(reason) < 10 || len(reason) > 500 {
		return Invalid("举报理由长度需在 10-500 字符之间")
	}

	conn, err := s.conns.GetByID(ctx, connID)
	if err != nil {
		return err
	}
	if conn == nil {
		return NotFound("连接不存在")
	}
	if conn.RequestedBy == reporterID {
		return Forbidden("不能举报自己发起的连接")
	}

	exists, err := s.reports.HasPendingForConnection(ctx, reporterID, connID)
	if err != nil {
		return err
	}
	if exists {
		return Conflict("已有待处理的举报")
	}

	report := &schema.AbuseReport{
		ReporterID:     reporterID,
		ReportedUserID: conn.RequestedBy,
		ConnectionID:   &connID,
		Reason:         reason,
	}
	if err := s.reports.Create(ctx, report); err != nil {
		return fmt.Errorf("提交举报失败: %w", err)
	}
	return nil
}
