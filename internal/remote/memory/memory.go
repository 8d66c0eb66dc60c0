// Package memory is an in-process backend: rows, change feed and sessions live in
// maps guarded by a RWMutex. It backs local development and every core test.
package memory

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/MrSnakeDoc/smartmark/internal/auth"
	"github.com/MrSnakeDoc/smartmark/internal/domain"
	"github.com/MrSnakeDoc/smartmark/internal/remote"
)

// Op names a remote operation for fault injection and call counting.
type Op string

const (
	OpGetSession Op = "get_session"
	OpSignOut    Op = "sign_out"
	OpList       Op = "list"
	OpInsert     Op = "insert"
	OpDelete     Op = "delete"
	OpSubscribe  Op = "subscribe"
)

var ErrClosed = errors.New("memory backend closed")

type Options struct {
	Secret   string        // HS256 secret shared by the issuer and verifier
	TokenTTL time.Duration // lifetime of minted dev tokens
	DevUser  auth.Identity // who SignInURL signs in
}

// Backend implements remote.Backend in memory.
type Backend struct {
	mu      sync.RWMutex
	rows    map[string]domain.Bookmark                // ID -> Bookmark
	subs    map[string]map[string]func(domain.Change) // owner -> subscription ID -> callback
	revoked map[string]time.Time                      // token hash -> expiry
	faults  map[Op][]error
	calls   map[Op]int
	selects map[string]int // owner -> ListBookmarks calls
	last    time.Time      // last CreatedAt handed out
	closed  bool

	beforeDelete func(id, owner string)

	issuer   *auth.Issuer
	verifier *auth.Verifier
	devUser  auth.Identity
	ttl      time.Duration
	now      func() time.Time
}

func New(opts Options) *Backend {
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = time.Hour
	}
	return &Backend{
		rows:     make(map[string]domain.Bookmark),
		subs:     make(map[string]map[string]func(domain.Change)),
		revoked:  make(map[string]time.Time),
		faults:   make(map[Op][]error),
		calls:    make(map[Op]int),
		selects:  make(map[string]int),
		issuer:   auth.NewIssuer(opts.Secret, opts.TokenTTL),
		verifier: auth.NewVerifier(opts.Secret),
		devUser:  opts.DevUser,
		ttl:      opts.TokenTTL,
		now:      time.Now,
	}
}

func (b *Backend) Name() string { return "memory" }

func (b *Backend) ForToken(accessToken string) remote.Client {
	return &client{backend: b, token: accessToken}
}

// SignInURL skips the provider round trip: it mints a token for the dev user and
// returns redirectURL carrying it in the fragment, like an implicit OAuth grant.
func (b *Backend) SignInURL(provider, redirectURL string) (string, error) {
	if redirectURL == "" {
		return "", fmt.Errorf("redirect url is required")
	}
	u, err := url.Parse(redirectURL)
	if err != nil {
		return "", fmt.Errorf("invalid redirect url: %w", err)
	}

	token, err := b.Issue(b.devUser)
	if err != nil {
		return "", err
	}

	frag := url.Values{}
	frag.Set("access_token", token)
	frag.Set("token_type", "bearer")
	frag.Set("expires_in", strconv.Itoa(int(b.ttl.Seconds())))
	if provider != "" {
		frag.Set("provider", provider)
	}
	u.Fragment = ""
	return u.String() + "#" + frag.Encode(), nil
}

// Issue mints an access token for id.
func (b *Backend) Issue(id auth.Identity) (string, error) {
	return b.issuer.Mint(id)
}

func (b *Backend) Ping(context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

// Close drops every subscription. Further calls fail with ErrClosed.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = make(map[string]map[string]func(domain.Change))
	return nil
}

// ─────────────────────────────────────────────────────────────────
// Test controls
// ─────────────────────────────────────────────────────────────────

// FailNext makes the next call of op return err. Calls queue in order.
func (b *Backend) FailNext(op Op, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.faults[op] = append(b.faults[op], err)
}

// BeforeDelete installs a hook run at the start of every DeleteBookmark, before any fault.
func (b *Backend) BeforeDelete(fn func(id, owner string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.beforeDelete = fn
}

// Calls returns how many times op was invoked.
func (b *Backend) Calls(op Op) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.calls[op]
}

// SelectCalls returns how many times owner's rows were listed.
func (b *Backend) SelectCalls(owner string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.selects[owner]
}

// ActiveSubscriptions returns the number of live subscriptions on owner's rows.
func (b *Backend) ActiveSubscriptions(owner string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[owner])
}

// Rows returns owner's rows, newest first, bypassing faults and counters.
func (b *Backend) Rows(owner string) []domain.Bookmark {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ownedBy(owner)
}

// Seed stores rows as-is, assigning missing ids and timestamps. No change is published.
func (b *Backend) Seed(rows ...domain.Bookmark) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, row := range rows {
		if row.ID == "" {
			row.ID = uuid.NewString()
		}
		if row.CreatedAt.IsZero() {
			row.CreatedAt = b.nextTimestamp()
		}
		b.rows[row.ID] = row
	}
}

// Sweep forgets revoked tokens that have expired anyway.
func (b *Backend) Sweep(_ context.Context, now time.Time) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for hash, exp := range b.revoked {
		if !exp.After(now) {
			delete(b.revoked, hash)
			n++
		}
	}
	return n, nil
}

// ─────────────────────────────────────────────────────────────────
// internals (b.mu held by caller unless noted)
// ─────────────────────────────────────────────────────────────────

// enter counts op and pops a queued fault. Takes the lock itself.
func (b *Backend) enter(op Op) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.calls[op]++
	if b.closed {
		return ErrClosed
	}
	if queued := b.faults[op]; len(queued) > 0 {
		b.faults[op] = queued[1:]
		return queued[0]
	}
	return nil
}

func (b *Backend) ownedBy(owner string) []domain.Bookmark {
	out := make([]domain.Bookmark, 0)
	for _, row := range b.rows {
		if row.Owner == owner {
			out = append(out, row)
		}
	}
	domain.SortNewestFirst(out)
	return out
}

// nextTimestamp is strictly increasing so ordering stays deterministic in tests.
func (b *Backend) nextTimestamp() time.Time {
	ts := b.now().UTC()
	if !ts.After(b.last) {
		ts = b.last.Add(time.Microsecond)
	}
	b.last = ts
	return ts
}

// publish delivers c to owner's subscribers. Must be called without b.mu held.
func (b *Backend) publish(c domain.Change) {
	b.mu.RLock()
	fns := make([]func(domain.Change), 0, len(b.subs[c.Owner]))
	for _, fn := range b.subs[c.Owner] {
		fns = append(fns, fn)
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		fn(c)
	}
}

// session verifies token against the signing secret and the revocation list.
func (b *Backend) session(token string) (*domain.Session, error) {
	if token == "" {
		return nil, remote.ErrNoSession
	}
	s, err := b.verifier.Verify(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", remote.ErrNoSession, err)
	}

	b.mu.RLock()
	_, revoked := b.revoked[auth.TokenHash(token)]
	b.mu.RUnlock()
	if revoked {
		return nil, fmt.Errorf("%w: token revoked", remote.ErrNoSession)
	}
	return s, nil
}

// ─────────────────────────────────────────────────────────────────
// client
// ─────────────────────────────────────────────────────────────────

// client applies the row policy of the hosted service: every read and
// write is scoped to the caller's own rows.
type client struct {
	backend *Backend
	token   string
}

func (c *client) GetSession(context.Context) (*domain.Session, error) {
	if err := c.backend.enter(OpGetSession); err != nil {
		return nil, err
	}
	return c.backend.session(c.token)
}

func (c *client) SignOut(context.Context) error {
	if err := c.backend.enter(OpSignOut); err != nil {
		return err
	}
	s, err := c.backend.session(c.token)
	if err != nil {
		return err
	}

	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()
	c.backend.revoked[auth.TokenHash(c.token)] = s.ExpiresAt
	return nil
}

func (c *client) ListBookmarks(_ context.Context, owner string) ([]domain.Bookmark, error) {
	if err := c.backend.enter(OpList); err != nil {
		return nil, err
	}
	s, err := c.backend.session(c.token)
	if err != nil {
		return nil, err
	}

	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()
	c.backend.selects[owner]++
	if s.UserID != owner {
		return []domain.Bookmark{}, nil
	}
	return c.backend.ownedBy(owner), nil
}

func (c *client) InsertBookmark(_ context.Context, nb domain.NewBookmark) error {
	if err := c.backend.enter(OpInsert); err != nil {
		return err
	}
	s, err := c.backend.session(c.token)
	if err != nil {
		return err
	}
	if s.UserID != nb.Owner {
		return fmt.Errorf("row policy violation: user %s cannot insert for %s", s.UserID, nb.Owner)
	}

	c.backend.mu.Lock()
	row := domain.Bookmark{
		ID:        uuid.NewString(),
		Title:     nb.Title,
		URL:       nb.URL,
		Owner:     nb.Owner,
		CreatedAt: c.backend.nextTimestamp(),
	}
	c.backend.rows[row.ID] = row
	c.backend.mu.Unlock()

	c.backend.publish(domain.Change{Type: domain.ChangeInsert, Owner: row.Owner, ID: row.ID})
	return nil
}

func (c *client) DeleteBookmark(_ context.Context, id, owner string) error {
	c.backend.mu.RLock()
	hook := c.backend.beforeDelete
	c.backend.mu.RUnlock()
	if hook != nil {
		hook(id, owner)
	}

	if err := c.backend.enter(OpDelete); err != nil {
		return err
	}
	s, err := c.backend.session(c.token)
	if err != nil {
		return err
	}

	c.backend.mu.Lock()
	row, ok := c.backend.rows[id]
	matched := ok && row.Owner == owner && s.UserID == owner
	if matched {
		delete(c.backend.rows, id)
	}
	c.backend.mu.Unlock()

	if matched {
		c.backend.publish(domain.Change{Type: domain.ChangeDelete, Owner: owner, ID: id})
	}
	return nil
}

func (c *client) Subscribe(_ context.Context, owner string, onChange func(domain.Change)) (remote.Subscription, error) {
	if err := c.backend.enter(OpSubscribe); err != nil {
		return nil, err
	}
	if _, err := c.backend.session(c.token); err != nil {
		return nil, err
	}

	id := ulid.Make().String()
	c.backend.mu.Lock()
	if c.backend.subs[owner] == nil {
		c.backend.subs[owner] = make(map[string]func(domain.Change))
	}
	c.backend.subs[owner][id] = onChange
	c.backend.mu.Unlock()

	return &subscription{backend: c.backend, owner: owner, id: id}, nil
}

type subscription struct {
	backend *Backend
	owner   string
	id      string
	once    sync.Once
}

func (s *subscription) ID() string { return s.id }

func (s *subscription) Unsubscribe() error {
	s.once.Do(func() {
		s.backend.mu.Lock()
		defer s.backend.mu.Unlock()
		delete(s.backend.subs[s.owner], s.id)
		if len(s.backend.subs[s.owner]) == 0 {
			delete(s.backend.subs, s.owner)
		}
	})
	return nil
}
