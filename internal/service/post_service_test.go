package service

import (
	"context"
	"testing"

	"github.com/haoyun/renmai/internal/notify"
	"github.com/haoyun/renmai/internal/repository"
	"github.com/haoyun/renmai/internal/schema"
)

// recordingNotifier 收集事件供断言
type recordingNotifier struct {
	events []notify.Event
}

func (n *recordingNotifier) Notify(e notify.Event) { n.events = append(n.events, e) }
func (n *recordingNotifier) Close()                {}

type feedFixture struct {
	*graphFixture
	posts    *repository.PostRepository
	svc      *PostService
	notifier *recordingNotifier
}

func newFeedFixture(t *testing.T) *feedFixture {
	t.Helper()
	g := newGraphFixture(t)
	posts := repository.NewPostRepository(g.db)
	reports := repository.NewReportRepository(g.db)
	notifier := &recordingNotifier{}

	return &feedFixture{
		graphFixture: g,
		posts:        posts,
		svc:          NewPostService(g.db, g.users, g.conns, posts, reports, notifier),
		notifier:     notifier,
	}
}

func (f *feedFixture) post(t *testing.T, author *schema.User, content, visibility string) *schema.Post {
	t.Helper()
	p, err := f.svc.Create(context.Background(), author.ID, content, visibility)
	if err != nil {
		t.Fatalf("create post: %v", err)
	}
	return p
}

func feedContents(views []PostView) []string {
	out := make([]string, 0, len(views))
	for _, v := range views {
		out = append(out, v.Content)
	}
	return out
}

func TestFeedVisibilityComposition(t *testing.T) {
	f := newFeedFixture(t)
	ctx := context.Background()
	alice := f.createUser(t, "alice")
	bob := f.createUser(t, "bob")
	dave := f.createUser(t, "dave")
	f.connect(t, alice, bob)

	f.post(t, alice, "for everyone", schema.VisibilityPublic)
	f.post(t, alice, "for my people", schema.VisibilityConnections)

	// 已确认连接看到两条
	views, err := f.svc.List(ctx, bob.ID, 0, 0, false)
	if err != nil {
		t.Fatalf("list as connection: %v", err)
	}
	if len(views) != 2 {
		t.Errorf("connection feed = %v, want both posts", feedContents(views))
	}

	// 陌生人只看到 public
	views, err = f.svc.List(ctx, dave.ID, 0, 0, false)
	if err != nil {
		t.Fatalf("list as stranger: %v", err)
	}
	if len(views) != 1 || views[0].Content != "for everyone" {
		t.Errorf("stranger feed = %v, want only public", feedContents(views))
	}

	// 匿名同陌生人
	views, err = f.svc.List(ctx, 0, 0, 0, false)
	if err != nil {
		t.Fatalf("list anonymous: %v", err)
	}
	if len(views) != 1 || views[0].Content != "for everyone" {
		t.Errorf("anonymous feed = %v, want only public", feedContents(views))
	}

	// 作者自己总能看到自己的
	views, err = f.svc.List(ctx, alice.ID, 0, 0, true)
	if err != nil {
		t.Fatalf("list mine: %v", err)
	}
	if len(views) != 2 {
		t.Errorf("mine feed = %v, want both posts", feedContents(views))
	}
}

func TestGetCommentOmitsItselfFromThread(t *testing.T) {
	f := newFeedFixture(t)
	ctx := context.Background()
	alice := f.createUser(t, "alice")

	root := f.post(t, alice, "thread", schema.VisibilityPublic)
	first, err := f.svc.Reply(ctx, alice.ID, root.ID, "first")
	if err != nil {
		t.Fatalf("first reply: %v", err)
	}
	if _, err := f.svc.Reply(ctx, alice.ID, root.ID, "second"); err != nil {
		t.Fatalf("second reply: %v", err)
	}

	// 按评论 ID 取：主体是评论本身，评论串里不重复出现
	view, comments, err := f.svc.Get(ctx, alice.ID, first.ID)
	if err != nil {
		t.Fatalf("get comment: %v", err)
	}
	if view.ID != first.ID {
		t.Errorf("post id = %d, want %d", view.ID, first.ID)
	}
	if len(comments) != 1 || comments[0].Content != "second" {
		t.Errorf("thread = %v, want only the other comment", feedContents(comments))
	}
}

func TestFeedPagination(t *testing.T) {
	f := newFeedFixture(t)
	ctx := context.Background()
	alice := f.createUser(t, "alice")

	var ids []int64
	for _, content := range []string{"one", "two", "three"} {
		ids = append(ids, f.post(t, alice, content, schema.VisibilityPublic).ID)
	}

	views, err := f.svc.List(ctx, alice.ID, 0, 2, false)
	if err != nil {
		t.Fatalf("first page: %v", err)
	}
	if len(views) != 2 || views[0].ID != ids[2] || views[1].ID != ids[1] {
		t.Errorf("first page = %v, want newest two", feedContents(views))
	}

	views, err = f.svc.List(ctx, alice.ID, views[1].ID, 2, false)
	if err != nil {
		t.Fatalf("second page: %v", err)
	}
	if len(views) != 1 || views[0].ID != ids[0] {
		t.Errorf("second page = %v, want oldest post", feedContents(views))
	}
}

func TestReplyInheritsRootVisibility(t *testing.T) {
	f := newFeedFixture(t)
	ctx := context.Background()
	alice := f.createUser(t, "alice")
	bob := f.createUser(t, "bob")
	dave := f.createUser(t, "dave")
	f.connect(t, alice, bob)

	root := f.post(t, alice, "inner circle", schema.VisibilityConnections)

	// 陌生人看不到根帖，也就不能评论
	if _, err := f.svc.Reply(ctx, dave.ID, root.ID, "me too"); KindOf(err) != KindNotFound {
		t.Errorf("stranger reply: want not found, got %v", err)
	}

	reply, err := f.svc.Reply(ctx, bob.ID, root.ID, "agreed")
	if err != nil {
		t.Fatalf("reply: %v", err)
	}
	if reply.Visibility != schema.VisibilityConnections {
		t.Errorf("reply visibility = %s, want inherited connections", reply.Visibility)
	}

	// 评论的评论仍然挂在根帖下
	nested, err := f.svc.Reply(ctx, alice.ID, reply.ID, "thanks")
	if err != nil {
		t.Fatalf("nested reply: %v", err)
	}
	if nested.RootPostID == nil || *nested.RootPostID != root.ID {
		t.Errorf("nested reply root = %v, want %d", nested.RootPostID, root.ID)
	}

	refreshed, err := f.posts.GetByID(ctx, root.ID)
	if err != nil {
		t.Fatalf("reload root: %v", err)
	}
	if refreshed.CommentCount != 2 {
		t.Errorf("comment_count = %d, want 2", refreshed.CommentCount)
	}
}

func TestReplyEffectiveVisibilityFollowsRoot(t *testing.T) {
	f := newFeedFixture(t)
	ctx := context.Background()
	alice := f.createUser(t, "alice")
	bob := f.createUser(t, "bob")
	dave := f.createUser(t, "dave")
	f.connect(t, alice, bob)

	root := f.post(t, alice, "thread", schema.VisibilityConnections)
	reply, err := f.svc.Reply(ctx, bob.ID, root.ID, "first")
	if err != nil {
		t.Fatalf("reply: %v", err)
	}

	if _, _, err := f.svc.Get(ctx, dave.ID, reply.ID); KindOf(err) != KindNotFound {
		t.Errorf("stranger get reply: want not found, got %v", err)
	}

	// 根帖改为 public，旧评论随之可见（存储的可见性不变，生效看根帖）
	if err := f.svc.ChangeVisibility(ctx, alice.ID, root.ID, schema.VisibilityPublic); err != nil {
		t.Fatalf("change visibility: %v", err)
	}
	view, comments, err := f.svc.Get(ctx, dave.ID, root.ID)
	if err != nil {
		t.Fatalf("stranger get after public: %v", err)
	}
	if view.ID != root.ID || len(comments) != 1 {
		t.Errorf("thread = (%d, %d comments), want root with 1 comment", view.ID, len(comments))
	}
}

func TestChangeVisibilityRules(t *testing.T) {
	f := newFeedFixture(t)
	ctx := context.Background()
	alice := f.createUser(t, "alice")
	bob := f.createUser(t, "bob")
	f.connect(t, alice, bob)

	root := f.post(t, alice, "thread", schema.VisibilityPublic)
	reply, err := f.svc.Reply(ctx, bob.ID, root.ID, "comment")
	if err != nil {
		t.Fatalf("reply: %v", err)
	}

	if err := f.svc.ChangeVisibility(ctx, bob.ID, root.ID, schema.VisibilityConnections); KindOf(err) != KindForbidden {
		t.Errorf("non-author change: want forbidden, got %v", err)
	}
	if err := f.svc.ChangeVisibility(ctx, bob.ID, reply.ID, schema.VisibilityConnections); KindOf(err) != KindInvalid {
		t.Errorf("reply visibility change: want invalid, got %v", err)
	}
	if err := f.svc.ChangeVisibility(ctx, alice.ID, root.ID, "friends"); KindOf(err) != KindInvalid {
		t.Errorf("bad visibility: want invalid, got %v", err)
	}
}

func TestDeleteRootCascadesThread(t *testing.T) {
	f := newFeedFixture(t)
	ctx := context.Background()
	alice := f.createUser(t, "alice")
	bob := f.createUser(t, "bob")
	f.connect(t, alice, bob)

	root := f.post(t, alice, "thread", schema.VisibilityPublic)
	if _, err := f.svc.Reply(ctx, bob.ID, root.ID, "one"); err != nil {
		t.Fatalf("reply: %v", err)
	}
	if _, err := f.svc.Reply(ctx, bob.ID, root.ID, "two"); err != nil {
		t.Fatalf("reply: %v", err)
	}

	// 只有作者能删
	if err := f.svc.Delete(ctx, bob.ID, root.ID); KindOf(err) != KindForbidden {
		t.Errorf("non-author delete: want forbidden, got %v", err)
	}
	if err := f.svc.Delete(ctx, alice.ID, root.ID); err != nil {
		t.Fatalf("delete root: %v", err)
	}

	var count int64
	f.db.Model(&schema.Post{}).Count(&count)
	if count != 0 {
		t.Errorf("posts remaining = %d, want 0 after cascade", count)
	}
}

func TestDeleteReplyRecountsParent(t *testing.T) {
	f := newFeedFixture(t)
	ctx := context.Background()
	alice := f.createUser(t, "alice")
	bob := f.createUser(t, "bob")
	f.connect(t, alice, bob)

	root := f.post(t, alice, "thread", schema.VisibilityPublic)
	reply, err := f.svc.Reply(ctx, bob.ID, root.ID, "comment")
	if err != nil {
		t.Fatalf("reply: %v", err)
	}

	if err := f.svc.Delete(ctx, bob.ID, reply.ID); err != nil {
		t.Fatalf("delete reply: %v", err)
	}
	refreshed, err := f.posts.GetByID(ctx, root.ID)
	if err != nil {
		t.Fatalf("reload root: %v", err)
	}
	if refreshed.CommentCount != 0 {
		t.Errorf("comment_count = %d, want 0", refreshed.CommentCount)
	}
}

func TestPostVoteToggleRecomputes(t *testing.T) {
	f := newFeedFixture(t)
	ctx := context.Background()
	alice := f.createUser(t, "alice")
	bob := f.createUser(t, "bob")
	carol := f.createUser(t, "carol")
	f.connect(t, alice, bob)
	f.connect(t, alice, carol)

	post := f.post(t, alice, "hot take", schema.VisibilityConnections)

	if err := f.svc.Vote(ctx, alice.ID, post.ID, 1); KindOf(err) != KindInvalid {
		t.Errorf("self vote: want invalid, got %v", err)
	}
	if err := f.svc.Vote(ctx, bob.ID, post.ID, 2); KindOf(err) != KindInvalid {
		t.Errorf("bad value: want invalid, got %v", err)
	}

	counts := func() (int, int) {
		p, err := f.posts.GetByID(ctx, post.ID)
		if err != nil {
			t.Fatalf("reload: %v", err)
		}
		return p.UpvoteCount, p.DownvoteCount
	}

	if err := f.svc.Vote(ctx, bob.ID, post.ID, 1); err != nil {
		t.Fatalf("upvote: %v", err)
	}
	if err := f.svc.Vote(ctx, carol.ID, post.ID, -1); err != nil {
		t.Fatalf("downvote: %v", err)
	}
	if up, down := counts(); up != 1 || down != 1 {
		t.Errorf("counts = (%d, %d), want (1, 1)", up, down)
	}

	// 同值重复视为撤销
	if err := f.svc.Vote(ctx, bob.ID, post.ID, 1); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if up, down := counts(); up != 0 || down != 1 {
		t.Errorf("counts after toggle = (%d, %d), want (0, 1)", up, down)
	}

	// 改值换边
	if err := f.svc.Vote(ctx, carol.ID, post.ID, 1); err != nil {
		t.Fatalf("flip: %v", err)
	}
	if up, down := counts(); up != 1 || down != 0 {
		t.Errorf("counts after flip = (%d, %d), want (1, 0)", up, down)
	}
}

func TestMentionNotifications(t *testing.T) {
	f := newFeedFixture(t)
	alice := f.createUser(t, "alice")
	f.createUser(t, "bob")

	// @bob 重复提及只发一次，@alice 自提不发，@ghost 不存在跳过
	f.post(t, alice, "ping @bob and again @bob, plus @alice and @ghost", schema.VisibilityPublic)

	if len(f.notifier.events) != 1 {
		t.Fatalf("events = %d, want 1", len(f.notifier.events))
	}
	e := f.notifier.events[0]
	if e.Kind != "mention" || e.Handle != "bob" || e.ActorID != alice.ID {
		t.Errorf("unexpected event: %+v", e)
	}
}

func TestPostReportOncePending(t *testing.T) {
	f := newFeedFixture(t)
	ctx := context.Background()
	alice := f.createUser(t, "alice")
	bob := f.createUser(t, "bob")

	post := f.post(t, alice, "spam spam", schema.VisibilityPublic)

	if err := f.svc.Report(ctx, bob.ID, post.ID, "too short"); KindOf(err) != KindInvalid {
		t.Errorf("short reason: want invalid, got %v", err)
	}
	if err := f.svc.Report(ctx, alice.ID, post.ID, "reporting my own post here"); KindOf(err) != KindInvalid {
		t.Errorf("self report: want invalid, got %v", err)
	}
	if err := f.svc.Report(ctx, bob.ID, post.ID, "this post is clearly spam"); err != nil {
		t.Fatalf("report: %v", err)
	}
	if err := f.svc.Report(ctx, bob.ID, post.ID, "this post is clearly spam"); KindOf(err) != KindConflict {
		t.Errorf("duplicate report: want conflict, got %v", err)
	}
}
