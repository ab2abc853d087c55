package service

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/haoyun/renmai/internal/repository"
	"github.com/haoyun/renmai/internal/schema"
	"github.com/haoyun/renmai/internal/testutil"
	"gorm.io/gorm"
)

type graphFixture struct {
	db    *gorm.DB
	users *repository.UserRepository
	conns *repository.ConnectionRepository
	svc   *ConnectionService
	clock time.Time
}

func newGraphFixture(t *testing.T) *graphFixture {
	t.Helper()
	db := testutil.OpenTestDB(t)
	users := repository.NewUserRepository(db)
	conns := repository.NewConnectionRepository(db)
	reports := repository.NewReportRepository(db)

	f := &graphFixture{
		db:    db,
		users: users,
		conns: conns,
		clock: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	f.svc = NewConnectionService(db, users, conns, reports)
	f.svc.now = func() time.Time { return f.clock }
	return f
}

func (f *graphFixture) advance(d time.Duration) {
	f.clock = f.clock.Add(d)
}

func (f *graphFixture) createUser(t *testing.T, handle string) *schema.User {
	t.Helper()
	user := &schema.User{
		Handle:          handle,
		Email:           handle + "@example.com",
		FirstName:       handle,
		Trustworthiness: 1.0,
		KarmaPoints:     15,
		KarmaLastRegen:  f.clock,
	}
	if err := f.users.Create(context.Background(), user); err != nil {
		t.Fatalf("create user %s: %v", handle, err)
	}
	return user
}

func (f *graphFixture) connect(t *testing.T, a, b *schema.User) *schema.Connection {
	t.Helper()
	conn, err := f.svc.CreateClaim(context.Background(), a.ID, b.ID, "colleagues", "")
	if err != nil {
		t.Fatalf("claim %s->%s: %v", a.Handle, b.Handle, err)
	}
	conn, err = f.svc.Confirm(context.Background(), b.ID, conn.ID)
	if err != nil {
		t.Fatalf("confirm %s->%s: %v", a.Handle, b.Handle, err)
	}
	return conn
}

func TestCreateClaimPairCanonical(t *testing.T) {
	f := newGraphFixture(t)
	ctx := context.Background()
	alice := f.createUser(t, "alice")
	bob := f.createUser(t, "bob")

	conn, err := f.svc.CreateClaim(ctx, bob.ID, alice.ID, "met at conf", "hi")
	if err != nil {
		t.Fatalf("create claim: %v", err)
	}
	if conn.User1ID >= conn.User2ID {
		t.Errorf("pair not canonical: (%d, %d)", conn.User1ID, conn.User2ID)
	}
	if conn.Status != schema.ConnectionPending || conn.RequestedBy != bob.ID {
		t.Errorf("unexpected row: status=%s requested_by=%d", conn.Status, conn.RequestedBy)
	}

	// 同发起方重复请求冲突，且不会产生第二行
	if _, err := f.svc.CreateClaim(ctx, bob.ID, alice.ID, "again", ""); KindOf(err) != KindConflict {
		t.Errorf("duplicate claim: want conflict, got %v", err)
	}
	var count int64
	f.db.Model(&schema.Connection{}).Count(&count)
	if count != 1 {
		t.Errorf("connection rows = %d, want 1", count)
	}
}

func TestMutualClaimAutoConfirms(t *testing.T) {
	f := newGraphFixture(t)
	ctx := context.Background()
	alice := f.createUser(t, "alice")
	bob := f.createUser(t, "bob")

	if _, err := f.svc.CreateClaim(ctx, alice.ID, bob.ID, "worked together", ""); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	conn, err := f.svc.CreateClaim(ctx, bob.ID, alice.ID, "worked together", "")
	if err != nil {
		t.Fatalf("mutual claim: %v", err)
	}
	if conn.Status != schema.ConnectionConfirmed {
		t.Errorf("status = %s, want confirmed", conn.Status)
	}
	if conn.RespondedAt == nil {
		t.Error("responded_at not stamped")
	}
}

func TestConfirmAuthorization(t *testing.T) {
	f := newGraphFixture(t)
	ctx := context.Background()
	alice := f.createUser(t, "alice")
	bob := f.createUser(t, "bob")
	carol := f.createUser(t, "carol")

	conn, err := f.svc.CreateClaim(ctx, alice.ID, bob.ID, "classmates", "")
	if err != nil {
		t.Fatalf("create claim: %v", err)
	}

	// 发起方不能确认自己的请求
	if _, err := f.svc.Confirm(ctx, alice.ID, conn.ID); KindOf(err) != KindForbidden {
		t.Errorf("requester confirm: want forbidden, got %v", err)
	}
	// 局外人看不到该请求
	if _, err := f.svc.Confirm(ctx, carol.ID, conn.ID); KindOf(err) != KindNotFound {
		t.Errorf("outsider confirm: want not found, got %v", err)
	}
	// 目标方可以确认
	confirmed, err := f.svc.Confirm(ctx, bob.ID, conn.ID)
	if err != nil {
		t.Fatalf("target confirm: %v", err)
	}
	if confirmed.Status != schema.ConnectionConfirmed {
		t.Errorf("status = %s, want confirmed", confirmed.Status)
	}
}

func TestIgnoredPairRevivesToPending(t *testing.T) {
	f := newGraphFixture(t)
	ctx := context.Background()
	alice := f.createUser(t, "alice")
	bob := f.createUser(t, "bob")

	conn, err := f.svc.CreateClaim(ctx, alice.ID, bob.ID, "old friends", "")
	if err != nil {
		t.Fatalf("create claim: %v", err)
	}
	if err := f.svc.Ignore(ctx, bob.ID, conn.ID); err != nil {
		t.Fatalf("ignore: %v", err)
	}

	// 被忽略后对方重新请求，同一行翻回 pending，发起方换人
	revived, err := f.svc.CreateClaim(ctx, bob.ID, alice.ID, "changed my mind", "")
	if err != nil {
		t.Fatalf("revive claim: %v", err)
	}
	if revived.ID != conn.ID {
		t.Errorf("revived into new row %d, want same row %d", revived.ID, conn.ID)
	}
	if revived.Status != schema.ConnectionPending || revived.RequestedBy != bob.ID {
		t.Errorf("unexpected revived row: status=%s requested_by=%d", revived.Status, revived.RequestedBy)
	}
}

func TestClaimKarmaGate(t *testing.T) {
	f := newGraphFixture(t)
	ctx := context.Background()
	alice := f.createUser(t, "alice")
	bob := f.createUser(t, "bob")

	if err := f.users.UpdateFields(ctx, alice.ID, map[string]any{"karma_points": 0}); err != nil {
		t.Fatalf("zero karma: %v", err)
	}

	if _, err := f.svc.CreateClaim(ctx, alice.ID, bob.ID, "please", ""); KindOf(err) != KindForbidden {
		t.Errorf("zero karma claim: want forbidden, got %v", err)
	}

	// 35 天后懒惰回复 1 点，claim 放行
	f.advance(35 * 24 * time.Hour)
	if _, err := f.svc.CreateClaim(ctx, alice.ID, bob.ID, "please", ""); err != nil {
		t.Fatalf("claim after regen: %v", err)
	}

	refreshed, err := f.users.GetByID(ctx, alice.ID)
	if err != nil {
		t.Fatalf("reload user: %v", err)
	}
	if refreshed.KarmaPoints != 1 {
		t.Errorf("karma = %d, want 1", refreshed.KarmaPoints)
	}
}

func TestKarmaRegenCapped(t *testing.T) {
	f := newGraphFixture(t)
	ctx := context.Background()
	alice := f.createUser(t, "alice")
	bob := f.createUser(t, "bob")

	if err := f.users.UpdateFields(ctx, alice.ID, map[string]any{"karma_points": 10}); err != nil {
		t.Fatalf("set karma: %v", err)
	}

	// 一年未动，回复封顶在 15
	f.advance(365 * 24 * time.Hour)
	if _, err := f.svc.CreateClaim(ctx, alice.ID, bob.ID, "hello", ""); err != nil {
		t.Fatalf("claim: %v", err)
	}
	refreshed, _ := f.users.GetByID(ctx, alice.ID)
	if refreshed.KarmaPoints != schema.KarmaMax {
		t.Errorf("karma = %d, want %d", refreshed.KarmaPoints, schema.KarmaMax)
	}
}

func TestClaimRateLimitWindowAndWithdraw(t *testing.T) {
	f := newGraphFixture(t)
	ctx := context.Background()
	alice := f.createUser(t, "alice")
	bob := f.createUser(t, "bob")

	// 3 次允许（每次撤回后重试，保持 pair 无冲突）
	for i := 0; i < 2; i++ {
		conn, err := f.svc.CreateClaim(ctx, alice.ID, bob.ID, "attempt", "")
		if err != nil {
			t.Fatalf("claim %d: %v", i, err)
		}
		if err := f.svc.Ignore(ctx, bob.ID, conn.ID); err != nil {
			t.Fatalf("ignore %d: %v", i, err)
		}
	}
	conn, err := f.svc.CreateClaim(ctx, alice.ID, bob.ID, "attempt", "")
	if err != nil {
		t.Fatalf("third claim: %v", err)
	}

	// 第 4 次触发对侧限流
	if err := f.svc.Ignore(ctx, bob.ID, conn.ID); err != nil {
		t.Fatalf("ignore third: %v", err)
	}
	if _, err := f.svc.CreateClaim(ctx, alice.ID, bob.ID, "attempt", ""); KindOf(err) != KindRateLimited {
		t.Errorf("fourth claim: want rate limited, got %v", err)
	}

	// 重新发起并撤回，归还一次配额后可再次请求
	conn, err = func() (*schema.Connection, error) {
		f.advance(25 * time.Hour) // 窗口滑出
		return f.svc.CreateClaim(ctx, alice.ID, bob.ID, "fresh window", "")
	}()
	if err != nil {
		t.Fatalf("claim in fresh window: %v", err)
	}
	if err := f.svc.Withdraw(ctx, alice.ID, conn.ID); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	var logs int64
	f.db.Model(&schema.ConnectionClaimLog{}).
		Where("from_user_id = ? AND created_at >= ?", alice.ID, f.clock.Add(-claimWindow)).
		Count(&logs)
	if logs != 0 {
		t.Errorf("claim logs in window after withdraw = %d, want 0", logs)
	}
}

func TestClaimWindowIncludesBoundary(t *testing.T) {
	f := newGraphFixture(t)
	ctx := context.Background()
	alice := f.createUser(t, "alice")
	bob := f.createUser(t, "bob")

	// 三条日志恰好落在窗口起点上，仍然计入配额
	edge := f.clock.Add(-claimWindow)
	for i := 0; i < 3; i++ {
		if err := f.conns.InsertClaimLog(ctx, alice.ID, bob.ID, edge); err != nil {
			t.Fatalf("insert log %d: %v", i, err)
		}
	}
	if _, err := f.svc.CreateClaim(ctx, alice.ID, bob.ID, "boundary", ""); KindOf(err) != KindRateLimited {
		t.Errorf("claim at window edge: want rate limited, got %v", err)
	}

	// 再过一秒，边界日志滑出窗口
	f.advance(time.Second)
	if _, err := f.svc.CreateClaim(ctx, alice.ID, bob.ID, "boundary", ""); err != nil {
		t.Errorf("claim past window edge: %v", err)
	}
}

func TestWithdrawOnlyPendingByRequester(t *testing.T) {
	f := newGraphFixture(t)
	ctx := context.Background()
	alice := f.createUser(t, "alice")
	bob := f.createUser(t, "bob")

	conn, err := f.svc.CreateClaim(ctx, alice.ID, bob.ID, "subject", "")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := f.svc.Withdraw(ctx, bob.ID, conn.ID); KindOf(err) != KindForbidden {
		t.Errorf("target withdraw: want forbidden, got %v", err)
	}

	if _, err := f.svc.Confirm(ctx, bob.ID, conn.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if err := f.svc.Withdraw(ctx, alice.ID, conn.ID); KindOf(err) != KindConflict {
		t.Errorf("withdraw confirmed: want conflict, got %v", err)
	}
}

func TestPowerDecayHalfLife(t *testing.T) {
	requestedAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	day0 := connectionPower(requestedAt, 0, 1.0, 1.0, requestedAt)
	if math.Abs(day0-1.0) > 1e-9 {
		t.Errorf("power at day 0 = %f, want 1.0", day0)
	}

	// 1096 天后衰减到一半以下
	later := connectionPower(requestedAt, 0, 1.0, 1.0, requestedAt.Add(1096*24*time.Hour))
	if later >= 0.5*day0 {
		t.Errorf("power after half-life = %f, want < %f", later, 0.5*day0)
	}

	// 天数单调递减
	prev := day0
	for _, days := range []int{1, 10, 100, 1000} {
		p := connectionPower(requestedAt, 0, 1.0, 1.0, requestedAt.Add(time.Duration(days)*24*time.Hour))
		if p >= prev {
			t.Errorf("power not decreasing at day %d: %f >= %f", days, p, prev)
		}
		prev = p
	}

	// 票数与信誉作为乘数
	boosted := connectionPower(requestedAt, 3, 1.0, 1.0, requestedAt)
	if math.Abs(boosted-1.3) > 1e-9 {
		t.Errorf("power with votes = %f, want 1.3", boosted)
	}
	trusty := connectionPower(requestedAt, 0, 1.5, 0.5, requestedAt)
	if math.Abs(trusty-1.0) > 1e-9 {
		t.Errorf("power with trust = %f, want 1.0", trusty)
	}
}

func TestVoteToggleTrustIdempotent(t *testing.T) {
	f := newGraphFixture(t)
	ctx := context.Background()
	alice := f.createUser(t, "alice")
	bob := f.createUser(t, "bob")
	carol := f.createUser(t, "carol")

	conn := f.connect(t, alice, bob)
	f.connect(t, carol, alice)
	f.connect(t, carol, bob)

	trustOf := func(id int64) float64 {
		u, err := f.users.GetByID(ctx, id)
		if err != nil {
			t.Fatalf("reload: %v", err)
		}
		return u.Trustworthiness
	}
	base := trustOf(alice.ID)

	// 首次投票 +0.01
	if err := f.svc.Vote(ctx, carol.ID, conn.ID, 1); err != nil {
		t.Fatalf("vote: %v", err)
	}
	if got := trustOf(alice.ID); math.Abs(got-(base+0.01)) > 1e-9 {
		t.Errorf("trust after vote = %f, want %f", got, base+0.01)
	}

	// 同值再投视为取消，信誉回退，不会二次叠加
	if err := f.svc.Vote(ctx, carol.ID, conn.ID, 1); err != nil {
		t.Fatalf("toggle vote: %v", err)
	}
	if got := trustOf(alice.ID); math.Abs(got-base) > 1e-9 {
		t.Errorf("trust after toggle = %f, want %f", got, base)
	}

	// 改值只应用差额：+1 -> -1 等于 -0.02
	if err := f.svc.Vote(ctx, carol.ID, conn.ID, 1); err != nil {
		t.Fatalf("revote: %v", err)
	}
	if err := f.svc.Vote(ctx, carol.ID, conn.ID, -1); err != nil {
		t.Fatalf("flip vote: %v", err)
	}
	if got := trustOf(alice.ID); math.Abs(got-(base-0.01)) > 1e-9 {
		t.Errorf("trust after flip = %f, want %f", got, base-0.01)
	}
}

func TestVoteEligibility(t *testing.T) {
	f := newGraphFixture(t)
	ctx := context.Background()
	alice := f.createUser(t, "alice")
	bob := f.createUser(t, "bob")
	carol := f.createUser(t, "carol")
	dave := f.createUser(t, "dave")

	conn := f.connect(t, alice, bob)
	f.connect(t, carol, alice) // carol 只连了一方

	if err := f.svc.Vote(ctx, alice.ID, conn.ID, 1); KindOf(err) != KindForbidden {
		t.Errorf("party vote: want forbidden, got %v", err)
	}
	if err := f.svc.Vote(ctx, carol.ID, conn.ID, 1); KindOf(err) != KindForbidden {
		t.Errorf("half-connected vote: want forbidden, got %v", err)
	}
	if err := f.svc.Vote(ctx, dave.ID, conn.ID, 1); KindOf(err) != KindForbidden {
		t.Errorf("stranger vote: want forbidden, got %v", err)
	}
	if err := f.svc.Vote(ctx, carol.ID, conn.ID, 2); KindOf(err) != KindInvalid {
		t.Errorf("bad value: want invalid, got %v", err)
	}
}

func TestListConnectionsRankedByPower(t *testing.T) {
	f := newGraphFixture(t)
	ctx := context.Background()
	alice := f.createUser(t, "alice")
	bob := f.createUser(t, "bob")
	carol := f.createUser(t, "carol")

	// 旧连接先建，时间推移后再建新连接，新的 power 更高
	f.connect(t, alice, bob)
	f.advance(400 * 24 * time.Hour)
	f.connect(t, alice, carol)

	views, err := f.svc.ListConnections(ctx, alice.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("connections = %d, want 2", len(views))
	}
	if views[0].Other.Handle != "carol" {
		t.Errorf("top connection = %s, want carol", views[0].Other.Handle)
	}
	if views[0].Power <= views[1].Power {
		t.Errorf("ranking broken: %f <= %f", views[0].Power, views[1].Power)
	}
}

// 完整流程：claim -> confirm -> 第三方投票 -> 信誉与票数生效
func TestEndToEndClaimConfirmVote(t *testing.T) {
	f := newGraphFixture(t)
	ctx := context.Background()
	alice := f.createUser(t, "alice")
	bob := f.createUser(t, "bob")
	carol := f.createUser(t, "carol")

	conn, err := f.svc.CreateClaim(ctx, alice.ID, bob.ID, "test", "")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if conn.Status != schema.ConnectionPending || conn.RequestedBy != alice.ID {
		t.Fatalf("unexpected pending row: %+v", conn)
	}

	if _, err := f.svc.Confirm(ctx, bob.ID, conn.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	f.connect(t, carol, alice)
	f.connect(t, carol, bob)
	if err := f.svc.Vote(ctx, carol.ID, conn.ID, 1); err != nil {
		t.Fatalf("vote: %v", err)
	}

	refreshed, _ := f.users.GetByID(ctx, alice.ID)
	if math.Abs(refreshed.Trustworthiness-1.01) > 1e-9 {
		t.Errorf("trust = %f, want 1.01", refreshed.Trustworthiness)
	}

	sums, err := f.conns.VoteSums(ctx, []int64{conn.ID})
	if err != nil {
		t.Fatalf("vote sums: %v", err)
	}
	if sums[conn.ID] != 1 {
		t.Errorf("vote_sum = %d, want 1", sums[conn.ID])
	}

	// 1096 天后未加成的衰减部分低于 0.5
	powerAt := func(at time.Time) float64 {
		return connectionPower(conn.RequestedAt, 0, 1.0, 1.0, at)
	}
	if ratio := powerAt(conn.RequestedAt.Add(1096*24*time.Hour)) / powerAt(conn.RequestedAt); ratio >= 0.5 {
		t.Errorf("decay ratio = %f, want < 0.5", ratio)
	}
}
