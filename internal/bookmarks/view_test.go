package bookmarks

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/smartmark/internal/auth"
	"github.com/MrSnakeDoc/smartmark/internal/domain"
	"github.com/MrSnakeDoc/smartmark/internal/logger"
	"github.com/MrSnakeDoc/smartmark/internal/metrics"
	"github.com/MrSnakeDoc/smartmark/internal/remote"
	"github.com/MrSnakeDoc/smartmark/internal/remote/memory"
)

// recorder is a Sink that keeps everything it is sent.
type recorder struct {
	mu        sync.Mutex
	states    []State
	notices   []string
	signedOut int
}

func (r *recorder) Render(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *recorder) Notice(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, msg)
}

func (r *recorder) SignedOut() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signedOut++
}

func (r *recorder) noticeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.notices)
}

func (r *recorder) sawLoading() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.states {
		if s.Loading && s.SubmitLabel == LabelAdding {
			return true
		}
	}
	return false
}

type fixture struct {
	mem     *memory.Backend
	hub     *auth.Hub
	metrics *metrics.Collector
	log     logger.Logger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := memory.New(memory.Options{Secret: "test-secret", TokenTTL: time.Hour})
	t.Cleanup(func() { _ = mem.Close() })
	return &fixture{
		mem:     mem,
		hub:     auth.NewHub(),
		metrics: metrics.New(),
		log:     logger.New("error", false),
	}
}

func (f *fixture) token(t *testing.T, user string) string {
	t.Helper()
	token, err := f.mem.Issue(auth.Identity{UserID: user, Email: user + "@example.com"})
	require.NoError(t, err)
	return token
}

func (f *fixture) deps() Deps {
	return Deps{Guard: NewGuard(f.log), Hub: f.hub, Logger: f.log, Metrics: f.metrics}
}

// mount returns a mounted view for user, unmounted at cleanup.
func (f *fixture) mount(t *testing.T, user string) (*ListView, *recorder) {
	t.Helper()
	token := f.token(t, user)
	rec := &recorder{}
	v := NewListView(f.mem.ForToken(token), token, rec, f.deps())
	require.NoError(t, v.Mount(context.Background()))
	t.Cleanup(v.Unmount)
	return v, rec
}

func titles(list []domain.Bookmark) []string {
	out := make([]string, len(list))
	for i, b := range list {
		out[i] = b.Title
	}
	return out
}

func ids(list []domain.Bookmark) []string {
	out := make([]string, len(list))
	for i, b := range list {
		out[i] = b.ID
	}
	return out
}

func TestStateConvergesAfterCreatesAndDeletes(t *testing.T) {
	f := newFixture(t)
	v, _ := f.mount(t, "u1")
	ctx := context.Background()

	for _, title := range []string{"a", "b", "c", "d"} {
		require.NoError(t, v.Create(ctx, title, "https://"+title+".example.com"))
	}
	list := v.State().Bookmarks
	require.NoError(t, v.Delete(ctx, list[1].ID))
	require.NoError(t, v.Delete(ctx, list[3].ID))
	require.NoError(t, v.Create(ctx, "e", "https://e.example.com"))

	assert.Equal(t, ids(f.mem.Rows("u1")), ids(v.State().Bookmarks))
	assert.Equal(t, []string{"e", "d", "b"}, titles(v.State().Bookmarks))
}

func TestCreateWithBlankFieldsIssuesNoInsert(t *testing.T) {
	tests := []struct {
		name  string
		title string
		url   string
	}{
		{"empty title", "", "https://example.com"},
		{"empty url", "Docs", ""},
		{"whitespace title", "   ", "https://example.com"},
		{"whitespace url", "Docs", " \t "},
		{"both empty", "", ""},
	}

	f := newFixture(t)
	v, _ := f.mount(t, "u1")

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Create(context.Background(), tt.title, tt.url)
			assert.True(t, errors.Is(err, domain.ErrEmptyInput), "Create() error = %v", err)
		})
	}
	assert.Equal(t, 0, f.mem.Calls(memory.OpInsert))
	assert.Empty(t, v.State().Bookmarks)
}

func TestCreateWithoutSessionIssuesNoInsert(t *testing.T) {
	f := newFixture(t)
	rec := &recorder{}
	v := NewListView(f.mem.ForToken(""), "", rec, f.deps())
	defer v.Unmount()

	err := v.Mount(context.Background())
	assert.True(t, errors.Is(err, remote.ErrNoSession))

	assert.True(t, errors.Is(v.Create(context.Background(), "Docs", "https://example.com"), remote.ErrNoSession))
	assert.True(t, errors.Is(v.Delete(context.Background(), "x"), remote.ErrNoSession))
	assert.Equal(t, 0, f.mem.Calls(memory.OpInsert))
	assert.Equal(t, 0, f.mem.Calls(memory.OpDelete))
	assert.Equal(t, 0, f.mem.Calls(memory.OpList))
}

func TestOptimisticDelete(t *testing.T) {
	f := newFixture(t)
	v, _ := f.mount(t, "u1")
	ctx := context.Background()

	require.NoError(t, v.Create(ctx, "Docs", "https://example.com"))
	id := v.State().Bookmarks[0].ID

	var duringCall []domain.Bookmark
	f.mem.BeforeDelete(func(string, string) { duringCall = v.State().Bookmarks })

	require.NoError(t, v.Delete(ctx, id))
	assert.NotContains(t, ids(duringCall), id, "row must be gone before the remote delete runs")
	assert.Empty(t, v.State().Bookmarks)
}

func TestFailedDeleteRestoresRow(t *testing.T) {
	f := newFixture(t)
	v, rec := f.mount(t, "u1")
	ctx := context.Background()

	require.NoError(t, v.Create(ctx, "Docs", "https://example.com"))
	id := v.State().Bookmarks[0].ID

	var duringCall []domain.Bookmark
	f.mem.BeforeDelete(func(string, string) { duringCall = v.State().Bookmarks })
	boom := errors.New("network down")
	f.mem.FailNext(memory.OpDelete, boom)

	err := v.Delete(ctx, id)
	assert.ErrorIs(t, err, boom)

	assert.Empty(t, duringCall, "row vanishes before the call resolves")
	assert.Equal(t, []string{id}, ids(v.State().Bookmarks), "row reappears after reconciliation")
	assert.Equal(t, []string{NoticeDelete}, v.Notices())
	assert.Equal(t, 1, rec.noticeCount())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Rollbacks))
}

func TestOtherOwnersChangesDoNotRefresh(t *testing.T) {
	f := newFixture(t)
	alice, _ := f.mount(t, "alice")
	bobToken := f.token(t, "bob")
	bob := f.mem.ForToken(bobToken)

	before := f.mem.SelectCalls("alice")
	require.NoError(t, bob.InsertBookmark(context.Background(), domain.NewBookmark{Title: "b", URL: "https://b", Owner: "bob"}))
	alice.onChange("alice", domain.Change{Type: domain.ChangeInsert, Owner: "bob"})

	assert.Equal(t, before, f.mem.SelectCalls("alice"))
	assert.Empty(t, alice.State().Bookmarks)
}

func TestEveryChangeKindRefreshes(t *testing.T) {
	f := newFixture(t)
	v, _ := f.mount(t, "u1")

	for _, kind := range []domain.ChangeType{domain.ChangeInsert, domain.ChangeUpdate, domain.ChangeDelete, domain.ChangeResync} {
		before := f.mem.SelectCalls("u1")
		v.onChange("u1", domain.Change{Type: kind, Owner: "u1"})
		assert.Equal(t, before+1, f.mem.SelectCalls("u1"), "kind %s", kind)
	}
}

// countingClient counts Unsubscribe calls that reach the backend.
type countingClient struct {
	remote.Client
	mu           sync.Mutex
	unsubscribes int
}

type countingSub struct {
	remote.Subscription
	c *countingClient
}

func (s countingSub) Unsubscribe() error {
	s.c.mu.Lock()
	s.c.unsubscribes++
	s.c.mu.Unlock()
	return s.Subscription.Unsubscribe()
}

func (c *countingClient) Subscribe(ctx context.Context, owner string, fn func(domain.Change)) (remote.Subscription, error) {
	sub, err := c.Client.Subscribe(ctx, owner, fn)
	if err != nil {
		return nil, err
	}
	return countingSub{Subscription: sub, c: c}, nil
}

func TestUnmountUnsubscribesExactlyOnce(t *testing.T) {
	f := newFixture(t)
	token := f.token(t, "u1")
	client := &countingClient{Client: f.mem.ForToken(token)}

	v := NewListView(client, token, &recorder{}, f.deps())
	require.NoError(t, v.Mount(context.Background()))
	assert.Equal(t, 1, f.mem.ActiveSubscriptions("u1"))
	assert.Equal(t, 1, f.hub.Len())

	v.Unmount()
	v.Unmount()

	assert.Equal(t, 1, client.unsubscribes)
	assert.Equal(t, 0, f.mem.ActiveSubscriptions("u1"))
	assert.Equal(t, 0, f.hub.Len())
}

func TestRemountKeepsOneSubscription(t *testing.T) {
	f := newFixture(t)
	token := f.token(t, "u1")

	first := NewListView(f.mem.ForToken(token), token, &recorder{}, f.deps())
	require.NoError(t, first.Mount(context.Background()))
	first.Unmount()

	second := NewListView(f.mem.ForToken(token), token, &recorder{}, f.deps())
	require.NoError(t, second.Mount(context.Background()))
	defer second.Unmount()
	assert.Equal(t, 1, f.mem.ActiveSubscriptions("u1"))

	// Re-opening on the same subscriber replaces the previous subscription.
	require.NoError(t, second.subscriber.Open(context.Background(), "u1", func(domain.Change) {}))
	assert.Equal(t, 1, f.mem.ActiveSubscriptions("u1"))
}

func TestDocsBlogScenario(t *testing.T) {
	f := newFixture(t)
	v, _ := f.mount(t, "U1")
	ctx := context.Background()
	require.Empty(t, v.State().Bookmarks)

	require.NoError(t, v.Create(ctx, "Docs", "https://example.com"))
	got := v.State().Bookmarks
	require.Len(t, got, 1)
	assert.Equal(t, "Docs", got[0].Title)
	assert.Equal(t, "https://example.com", got[0].URL)
	assert.Equal(t, "U1", got[0].Owner)

	require.NoError(t, v.Create(ctx, "Blog", "https://blog.example.com"))
	assert.Equal(t, []string{"Blog", "Docs"}, titles(v.State().Bookmarks))

	docs := v.State().Bookmarks[1].ID
	var duringCall []domain.Bookmark
	f.mem.BeforeDelete(func(string, string) { duringCall = v.State().Bookmarks })
	require.NoError(t, v.Delete(ctx, docs))

	assert.Equal(t, []string{"Blog"}, titles(duringCall))
	require.NoError(t, v.Refresh())
	assert.Equal(t, []string{"Blog"}, titles(v.State().Bookmarks))
}

func TestForcedDeleteFailureScenario(t *testing.T) {
	f := newFixture(t)
	v, rec := f.mount(t, "U1")
	ctx := context.Background()

	require.NoError(t, v.Create(ctx, "Docs", "https://example.com"))
	require.NoError(t, v.Create(ctx, "Blog", "https://blog.example.com"))
	docs := v.State().Bookmarks[1].ID

	var duringCall []string
	f.mem.BeforeDelete(func(string, string) { duringCall = titles(v.State().Bookmarks) })
	f.mem.FailNext(memory.OpDelete, errors.New("simulated"))

	assert.Error(t, v.Delete(ctx, docs))
	assert.Equal(t, []string{"Blog"}, duringCall)
	assert.Equal(t, []string{"Blog", "Docs"}, titles(v.State().Bookmarks))
	assert.Equal(t, []string{NoticeDelete}, v.Notices())
	assert.Equal(t, 1, rec.noticeCount())
}

func TestCreateFailureKeepsDraft(t *testing.T) {
	f := newFixture(t)
	v, _ := f.mount(t, "u1")

	f.mem.FailNext(memory.OpInsert, errors.New("insert failed"))
	v.SetDraft("Docs", "https://example.com")
	assert.Error(t, v.Submit(context.Background()))

	s := v.State()
	assert.Equal(t, Draft{Title: "Docs", URL: "https://example.com"}, s.Draft)
	assert.False(t, s.Loading)
	assert.Empty(t, s.Bookmarks)

	require.NoError(t, v.Submit(context.Background()))
	s = v.State()
	assert.Equal(t, Draft{}, s.Draft)
	assert.Equal(t, []string{"Docs"}, titles(s.Bookmarks))
}

func TestCreateReportsLoading(t *testing.T) {
	f := newFixture(t)
	v, rec := f.mount(t, "u1")

	require.NoError(t, v.Create(context.Background(), "Docs", "https://example.com"))
	assert.True(t, rec.sawLoading())
	assert.False(t, v.State().Loading)
	assert.Equal(t, LabelAdd, v.State().SubmitLabel)
}

func TestToggle(t *testing.T) {
	f := newFixture(t)
	v, _ := f.mount(t, "u1")
	calls := f.mem.Calls(memory.OpList)

	assert.True(t, v.State().Visible)
	assert.Equal(t, LabelHide, v.State().ToggleLabel)

	v.Toggle()
	assert.False(t, v.State().Visible)
	assert.Equal(t, LabelShow, v.State().ToggleLabel)

	v.Toggle()
	assert.True(t, v.State().Visible)
	assert.Equal(t, calls, f.mem.Calls(memory.OpList))
}

func TestSignedOutEventReachesOnlyThatView(t *testing.T) {
	f := newFixture(t)
	v1, rec1 := f.mount(t, "u1")
	_, rec2 := f.mount(t, "u2")

	f.hub.Publish(auth.Event{Kind: auth.SignedOut, Token: v1.token})

	assert.Equal(t, 1, rec1.signedOut)
	assert.Equal(t, 0, rec2.signedOut)
	assert.Equal(t, "", v1.Owner())
	assert.True(t, errors.Is(v1.Create(context.Background(), "a", "https://a"), remote.ErrNoSession))
}

func TestUnmountedViewIgnoresLateChanges(t *testing.T) {
	f := newFixture(t)
	v, rec := f.mount(t, "u1")
	v.Unmount()

	rec.mu.Lock()
	renders := len(rec.states)
	rec.mu.Unlock()
	before := f.mem.SelectCalls("u1")

	v.onChange("u1", domain.Change{Type: domain.ChangeInsert, Owner: "u1"})
	v.Toggle()

	assert.Equal(t, before, f.mem.SelectCalls("u1"))
	rec.mu.Lock()
	assert.Equal(t, renders, len(rec.states))
	rec.mu.Unlock()
}

func TestLiveUpdateFromAnotherClient(t *testing.T) {
	f := newFixture(t)
	token := f.token(t, "u1")
	v, _ := f.mount(t, "u1")

	other := f.mem.ForToken(token)
	require.NoError(t, other.InsertBookmark(context.Background(), domain.NewBookmark{Title: "from phone", URL: "https://p", Owner: "u1"}))

	assert.Equal(t, []string{"from phone"}, titles(v.State().Bookmarks))
}

// stallingClient blocks ListBookmarks until its context ends once stall is set.
type stallingClient struct {
	remote.Client
	stall atomic.Bool
}

func (c *stallingClient) ListBookmarks(ctx context.Context, owner string) ([]domain.Bookmark, error) {
	if c.stall.Load() {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return c.Client.ListBookmarks(ctx, owner)
}

func TestReconcileAfterFailedDeleteIsBounded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	token := f.token(t, "u1")
	client := &stallingClient{Client: f.mem.ForToken(token)}
	require.NoError(t, client.InsertBookmark(ctx, domain.NewBookmark{Title: "Docs", URL: "https://docs", Owner: "u1"}))

	d := f.deps()
	d.RefreshTimeout = 50 * time.Millisecond
	rec := &recorder{}
	v := NewListView(client, token, rec, d)
	require.NoError(t, v.Mount(ctx))
	t.Cleanup(v.Unmount)
	rows := v.State().Bookmarks
	require.Len(t, rows, 1)

	client.stall.Store(true)
	f.mem.FailNext(memory.OpDelete, errors.New("boom"))

	done := make(chan error, 1)
	go func() { done <- v.Delete(ctx, rows[0].ID) }()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Delete still waiting on the reconciliation refresh")
	}
	assert.Equal(t, 1, rec.noticeCount())
}
