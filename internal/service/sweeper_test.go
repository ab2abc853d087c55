package service

import (
	"context"
	"testing"
	"time"

	"github.com/haoyun/renmai/internal/schema"
)

func TestSweeperIgnoresOnlyStalePending(t *testing.T) {
	f := newGraphFixture(t)
	ctx := context.Background()
	alice := f.createUser(t, "alice")
	bob := f.createUser(t, "bob")
	carol := f.createUser(t, "carol")
	dave := f.createUser(t, "dave")

	// 过期的 pending
	stale, err := f.svc.CreateClaim(ctx, alice.ID, bob.ID, "old", "")
	if err != nil {
		t.Fatalf("stale claim: %v", err)
	}
	// 已确认的老连接不受影响
	confirmed := f.connect(t, alice, carol)

	f.advance(31 * 24 * time.Hour)

	// 新鲜的 pending
	fresh, err := f.svc.CreateClaim(ctx, alice.ID, dave.ID, "new", "")
	if err != nil {
		t.Fatalf("fresh claim: %v", err)
	}

	sweeper := NewSweeper(f.conns, time.Hour)
	sweeper.now = func() time.Time { return f.clock }
	sweeper.sweepOnce(ctx)

	reload := func(id int64) *schema.Connection {
		conn, err := f.conns.GetByID(ctx, id)
		if err != nil || conn == nil {
			t.Fatalf("reload %d: %v", id, err)
		}
		return conn
	}

	if got := reload(stale.ID); got.Status != schema.ConnectionIgnored {
		t.Errorf("stale pending = %s, want ignored", got.Status)
	}
	if got := reload(fresh.ID); got.Status != schema.ConnectionPending {
		t.Errorf("fresh pending = %s, want untouched", got.Status)
	}
	if got := reload(confirmed.ID); got.Status != schema.ConnectionConfirmed {
		t.Errorf("confirmed = %s, want untouched", got.Status)
	}

	// 再跑一遍幂等
	sweeper.sweepOnce(ctx)
	if got := reload(stale.ID); got.Status != schema.ConnectionIgnored {
		t.Errorf("second sweep changed status to %s", got.Status)
	}
}
