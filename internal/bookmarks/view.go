package bookmarks

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/MrSnakeDoc/smartmark/internal/auth"
	"github.com/MrSnakeDoc/smartmark/internal/domain"
	"github.com/MrSnakeDoc/smartmark/internal/logger"
	"github.com/MrSnakeDoc/smartmark/internal/metrics"
	"github.com/MrSnakeDoc/smartmark/internal/remote"
)

const (
	LabelHide    = "Hide Bookmarks"
	LabelShow    = "See Your Bookmarks"
	LabelAdd     = "Add Bookmark"
	LabelAdding  = "Adding..."
	NoticeDelete = "Delete failed. Please refresh."
)

var (
	// ErrBusy is returned by Create while a previous submission is in flight.
	ErrBusy = errors.New("a submission is already in flight")
	// ErrUnmounted is returned by operations on a torn-down view.
	ErrUnmounted = errors.New("view is not mounted")
)

// Draft is the content of the add form.
type Draft struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// State is everything a renderer needs to draw the list.
type State struct {
	Visible     bool              `json:"visible"`
	ToggleLabel string            `json:"toggle_label"`
	Loading     bool              `json:"loading"`
	SubmitLabel string            `json:"submit_label"`
	Draft       Draft             `json:"draft"`
	Bookmarks   []domain.Bookmark `json:"bookmarks"`
}

// Sink receives the view's output. Calls are never made while the view's lock is held,
// and may come from any goroutine.
type Sink interface {
	Render(State)
	Notice(message string)
	SignedOut()
}

// Deps are the process-wide collaborators shared by every view.
type Deps struct {
	Guard   *Guard
	Hub     *auth.Hub
	Logger  logger.Logger
	Metrics *metrics.Collector

	// RefreshTimeout bounds each re-fetch the view starts on its own
	// (after mount, a change, a create or a failed delete). 0 = unbounded.
	RefreshTimeout time.Duration
}

// ListView is one mounted bookmark list bound to one access token.
type ListView struct {
	id     string
	token  string
	client remote.Client
	sink   Sink

	guard      *Guard
	hub        *auth.Hub
	store      *Store
	subscriber *Subscriber
	logger     logger.Logger
	metrics    *metrics.Collector
	timeout    time.Duration

	mu       sync.Mutex
	session  *domain.Session
	visible  bool
	loading  bool
	draft    Draft
	notices  []string
	ctx      context.Context
	cancel   context.CancelFunc
	mounted  bool
	stopAuth func()
	unmount  sync.Once
}

func NewListView(client remote.Client, token string, sink Sink, d Deps) *ListView {
	id := ulid.Make().String()
	log := d.Logger.With(logger.String("view", id))
	guard := d.Guard
	if guard == nil {
		guard = NewGuard(log)
	}
	return &ListView{
		id:         id,
		token:      token,
		client:     client,
		sink:       sink,
		guard:      guard,
		hub:        d.Hub,
		store:      NewStore(client, log, d.Metrics),
		subscriber: NewSubscriber(client, log, d.Metrics),
		logger:     log,
		metrics:    d.Metrics,
		timeout:    d.RefreshTimeout,
		visible:    true,
	}
}

func (v *ListView) ID() string { return v.id }

// Mount resolves the session, loads the list and opens the change subscription.
// Without a session it returns remote.ErrNoSession and the view stays inert
// until Unmount. Fetch and subscribe failures are logged, not returned.
func (v *ListView) Mount(parent context.Context) error {
	v.mu.Lock()
	if v.mounted {
		v.mu.Unlock()
		return nil
	}
	v.ctx, v.cancel = context.WithCancel(parent)
	v.mounted = true
	ctx := v.ctx
	v.mu.Unlock()

	v.metrics.ViewMounted()
	if v.hub != nil {
		stop := v.hub.Subscribe(v.onAuthEvent)
		v.mu.Lock()
		v.stopAuth = stop
		v.mu.Unlock()
	}

	session, ok := v.guard.Resolve(ctx, v.client)
	if !ok {
		v.render()
		return remote.ErrNoSession
	}
	if ctx.Err() != nil {
		return ErrUnmounted
	}

	v.mu.Lock()
	v.session = session
	v.mu.Unlock()
	v.logger.Debug("view mounted", logger.String("owner", session.UserID))

	_ = v.refresh(ctx, session.UserID)

	owner := session.UserID
	if err := v.subscriber.Open(ctx, owner, func(c domain.Change) { v.onChange(owner, c) }); err != nil {
		v.logger.Warn("live updates unavailable", logger.Error(err))
	}

	// Unmount may have raced the subscription; make sure it does not outlive the view.
	if ctx.Err() != nil {
		v.subscriber.Close()
		return ErrUnmounted
	}

	v.render()
	return nil
}

// Unmount cancels in-flight work, releases the subscription and stops auth events.
// Safe to call more than once, or on a view that never mounted.
func (v *ListView) Unmount() {
	v.unmount.Do(func() {
		v.mu.Lock()
		wasMounted := v.mounted
		cancel := v.cancel
		stop := v.stopAuth
		v.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if stop != nil {
			stop()
		}
		v.subscriber.Close()
		if wasMounted {
			v.metrics.ViewUnmounted()
		}
		v.logger.Debug("view unmounted")
	})
}

// Owner returns the session user id, or "" before a session is resolved.
func (v *ListView) Owner() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.session == nil {
		return ""
	}
	return v.session.UserID
}

// State returns the current render state.
func (v *ListView) State() State {
	v.mu.Lock()
	s := State{
		Visible:     v.visible,
		ToggleLabel: LabelHide,
		Loading:     v.loading,
		SubmitLabel: LabelAdd,
		Draft:       v.draft,
	}
	v.mu.Unlock()

	if !s.Visible {
		s.ToggleLabel = LabelShow
	}
	if s.Loading {
		s.SubmitLabel = LabelAdding
	}
	s.Bookmarks = v.store.Snapshot()
	return s
}

// Notices returns every user-visible notice raised so far.
func (v *ListView) Notices() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]string, len(v.notices))
	copy(out, v.notices)
	return out
}

// SetDraft updates the add form without submitting.
func (v *ListView) SetDraft(title, url string) {
	v.mu.Lock()
	v.draft = Draft{Title: title, URL: url}
	v.mu.Unlock()
	v.render()
}

// Submit creates a bookmark from the current draft.
func (v *ListView) Submit(ctx context.Context) error {
	v.mu.Lock()
	d := v.draft
	v.mu.Unlock()
	return v.Create(ctx, d.Title, d.URL)
}

// Create inserts a bookmark for the session user. Blank fields, a missing
// session or a submission already in flight make it a no-op. On success the
// draft is cleared and the list re-fetched; on failure the draft is kept.
func (v *ListView) Create(ctx context.Context, title, url string) error {
	v.mu.Lock()
	if v.session == nil {
		v.mu.Unlock()
		return remote.ErrNoSession
	}
	if v.loading {
		v.mu.Unlock()
		return ErrBusy
	}
	nb, err := domain.NewBookmark{Title: title, URL: url, Owner: v.session.UserID}.Normalize()
	if err != nil {
		v.mu.Unlock()
		return err
	}
	v.draft = Draft{Title: title, URL: url}
	v.loading = true
	viewCtx := v.ctx
	v.mu.Unlock()
	v.render()

	err = v.client.InsertBookmark(ctx, nb)

	v.mu.Lock()
	v.loading = false
	if err == nil {
		v.draft = Draft{}
	}
	v.mu.Unlock()

	if err != nil {
		v.logger.Warn("create bookmark failed", logger.Error(err))
		v.render()
		return err
	}

	_ = v.refresh(viewCtx, nb.Owner)
	v.render()
	return nil
}

// Delete removes id from the list at once, then deletes it remotely. If the
// remote delete fails the list is re-fetched and one notice is raised.
func (v *ListView) Delete(ctx context.Context, id string) error {
	v.mu.Lock()
	if v.session == nil {
		v.mu.Unlock()
		return remote.ErrNoSession
	}
	owner := v.session.UserID
	viewCtx := v.ctx
	v.mu.Unlock()

	v.store.Remove(id)
	v.render()

	err := v.client.DeleteBookmark(ctx, id, owner)
	if err == nil {
		return nil
	}

	v.logger.Warn("delete bookmark failed, reconciling", logger.String("id", id), logger.Error(err))
	if viewCtx.Err() != nil {
		return err
	}
	v.metrics.Rollback()
	_ = v.refresh(viewCtx, owner)

	v.mu.Lock()
	v.notices = append(v.notices, NoticeDelete)
	v.mu.Unlock()

	v.sink.Notice(NoticeDelete)
	v.render()
	return err
}

// Toggle shows or hides the list. No remote call is made.
func (v *ListView) Toggle() {
	v.mu.Lock()
	v.visible = !v.visible
	v.mu.Unlock()
	v.render()
}

// Refresh re-fetches the list on demand.
func (v *ListView) Refresh() error {
	v.mu.Lock()
	if v.session == nil {
		v.mu.Unlock()
		return remote.ErrNoSession
	}
	owner := v.session.UserID
	ctx := v.ctx
	v.mu.Unlock()

	err := v.refresh(ctx, owner)
	v.render()
	return err
}

// onChange re-fetches on every notification for owner, whatever its kind.
func (v *ListView) onChange(owner string, c domain.Change) {
	if c.Owner != "" && c.Owner != owner {
		return
	}
	v.mu.Lock()
	ctx := v.ctx
	v.mu.Unlock()
	if ctx.Err() != nil {
		return
	}

	v.logger.Debug("change received", logger.String("type", string(c.Type)))
	_ = v.refresh(ctx, owner)
	v.render()
}

// refresh re-fetches owner's rows within the view's refresh timeout.
func (v *ListView) refresh(ctx context.Context, owner string) error {
	if v.timeout <= 0 {
		return v.store.Refresh(ctx, owner)
	}
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()
	return v.store.Refresh(ctx, owner)
}

func (v *ListView) onAuthEvent(e auth.Event) {
	if e.Kind != auth.SignedOut || e.Token != v.token {
		return
	}
	v.mu.Lock()
	v.session = nil
	v.mu.Unlock()

	v.logger.Info("session signed out")
	v.sink.SignedOut()
}

// render pushes the current state unless the view is gone.
func (v *ListView) render() {
	v.mu.Lock()
	ctx := v.ctx
	v.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	v.sink.Render(v.State())
}
