package service

import (
	"context"
	"testing"

	"github.com/haoyun/renmai/internal/repository"
	"github.com/haoyun/renmai/internal/schema"
)

func newPageService(f *graphFixture) (*PageService, *repository.PageRepository) {
	pages := repository.NewPageRepository(f.db)
	return NewPageService(f.users, pages), pages
}

func TestPageCreateValidation(t *testing.T) {
	f := newGraphFixture(t)
	ctx := context.Background()
	alice := f.createUser(t, "alice")
	svc, _ := newPageService(f)

	if _, err := svc.Create(ctx, alice.ID, "Bad Handle", "Acme", schema.PageKindCompany); KindOf(err) != KindInvalid {
		t.Errorf("bad handle: want invalid, got %v", err)
	}
	if _, err := svc.Create(ctx, alice.ID, "acme", "", schema.PageKindCompany); KindOf(err) != KindInvalid {
		t.Errorf("empty name: want invalid, got %v", err)
	}
	if _, err := svc.Create(ctx, alice.ID, "acme", "Acme", "castle"); KindOf(err) != KindInvalid {
		t.Errorf("unknown kind: want invalid, got %v", err)
	}

	page, err := svc.Create(ctx, alice.ID, "ACME", "Acme Corp", schema.PageKindCompany)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if page.Handle != "acme" || page.OwnerID != alice.ID {
		t.Errorf("unexpected page: %+v", page)
	}

	if _, err := svc.Create(ctx, alice.ID, "acme", "Acme Again", schema.PageKindCompany); KindOf(err) != KindConflict {
		t.Errorf("duplicate handle: want conflict, got %v", err)
	}
}

func TestPageFollowAndView(t *testing.T) {
	f := newGraphFixture(t)
	ctx := context.Background()
	alice := f.createUser(t, "alice")
	bob := f.createUser(t, "bob")
	svc, _ := newPageService(f)

	if _, err := svc.Create(ctx, alice.ID, "acme", "Acme Corp", schema.PageKindCompany); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := svc.Follow(ctx, bob.ID, "acme"); err != nil {
		t.Fatalf("follow: %v", err)
	}
	// 重复关注幂等
	if err := svc.Follow(ctx, bob.ID, "acme"); err != nil {
		t.Fatalf("refollow: %v", err)
	}

	view, err := svc.Get(ctx, bob.ID, "acme")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if view.FollowerCount != 1 || !view.IsFollowing || view.IsEditor {
		t.Errorf("unexpected view: %+v", view)
	}

	// 所有者视角：编辑者为真
	ownerView, err := svc.Get(ctx, alice.ID, "acme")
	if err != nil {
		t.Fatalf("get as owner: %v", err)
	}
	if !ownerView.IsEditor {
		t.Error("owner not reported as editor")
	}

	if err := svc.Unfollow(ctx, bob.ID, "acme"); err != nil {
		t.Fatalf("unfollow: %v", err)
	}
	view, _ = svc.Get(ctx, bob.ID, "acme")
	if view.FollowerCount != 0 || view.IsFollowing {
		t.Errorf("view after unfollow: %+v", view)
	}

	if _, err := svc.Get(ctx, bob.ID, "nope"); KindOf(err) != KindNotFound {
		t.Errorf("missing page: want not found, got %v", err)
	}
}

func TestPageEditorInviteFlow(t *testing.T) {
	f := newGraphFixture(t)
	ctx := context.Background()
	alice := f.createUser(t, "alice")
	bob := f.createUser(t, "bob")
	carol := f.createUser(t, "carol")
	svc, pages := newPageService(f)

	page, err := svc.Create(ctx, alice.ID, "acme", "Acme Corp", schema.PageKindCompany)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// 只有所有者能邀请
	if err := svc.InviteEditor(ctx, bob.ID, "acme", "carol"); KindOf(err) != KindForbidden {
		t.Errorf("non-owner invite: want forbidden, got %v", err)
	}
	if err := svc.InviteEditor(ctx, alice.ID, "acme", "alice"); KindOf(err) != KindInvalid {
		t.Errorf("owner self-invite: want invalid, got %v", err)
	}

	if err := svc.InviteEditor(ctx, alice.ID, "acme", "bob"); err != nil {
		t.Fatalf("invite: %v", err)
	}

	// 邀请未接受前不算编辑者
	isEditor, err := pages.IsEditor(ctx, page.ID, bob.ID)
	if err != nil {
		t.Fatalf("is editor: %v", err)
	}
	if isEditor {
		t.Error("invited but unaccepted user counted as editor")
	}

	// 没有邀请的人不能接受
	if err := svc.AcceptEditorInvite(ctx, carol.ID, "acme"); KindOf(err) != KindNotFound {
		t.Errorf("uninvited accept: want not found, got %v", err)
	}

	if err := svc.AcceptEditorInvite(ctx, bob.ID, "acme"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	isEditor, _ = pages.IsEditor(ctx, page.ID, bob.ID)
	if !isEditor {
		t.Error("accepted invite not granting editor")
	}

	// 编辑者可以改名，非编辑者不行
	if _, err := svc.Rename(ctx, carol.ID, "acme", "Acme Inc"); KindOf(err) != KindForbidden {
		t.Errorf("non-editor rename: want forbidden, got %v", err)
	}
	renamed, err := svc.Rename(ctx, bob.ID, "acme", "Acme Inc")
	if err != nil {
		t.Fatalf("rename: %v", err)
	}
	if renamed.Name != "Acme Inc" {
		t.Errorf("name = %s, want Acme Inc", renamed.Name)
	}
}
