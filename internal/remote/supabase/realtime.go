package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"

	"github.com/MrSnakeDoc/smartmark/internal/domain"
	"github.com/MrSnakeDoc/smartmark/internal/logger"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 1 << 20

	phxJoin    = "phx_join"
	phxLeave   = "phx_leave"
	phxReply   = "phx_reply"
	phxError   = "phx_error"
	phxClose   = "phx_close"
	heartbeat  = "heartbeat"
	pgChanges  = "postgres_changes"
	phxTopic   = "phoenix"
	replyOK    = "ok"
	vsnVersion = "1.0.0"
)

// RealtimeConfig tunes the Phoenix channel client.
type RealtimeConfig struct {
	Heartbeat time.Duration // heartbeat period; the read deadline is twice this
	JoinWait  time.Duration // max wait for the phx_join reply
	Retry     time.Duration // first reconnect wait, doubles up to MaxWait
	MaxWait   time.Duration
}

// withDefaults replaces non-positive values; MaxWait is raised to at least Retry.
func (c RealtimeConfig) withDefaults() RealtimeConfig {
	if c.Heartbeat <= 0 {
		c.Heartbeat = 25 * time.Second
	}
	if c.JoinWait <= 0 {
		c.JoinWait = 10 * time.Second
	}
	if c.Retry <= 0 {
		c.Retry = time.Second
	}
	if c.MaxWait < c.Retry {
		c.MaxWait = max(c.Retry, 30*time.Second)
	}
	return c
}

// message is one Phoenix frame.
type message struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref,omitempty"`
	JoinRef string          `json:"join_ref,omitempty"`
}

type joinPayload struct {
	Config      joinConfig `json:"config"`
	AccessToken string     `json:"access_token,omitempty"`
}

type joinConfig struct {
	Broadcast       map[string]bool   `json:"broadcast"`
	Presence        map[string]string `json:"presence"`
	PostgresChanges []changeFilter    `json:"postgres_changes"`
}

type changeFilter struct {
	Event  string `json:"event"`
	Schema string `json:"schema"`
	Table  string `json:"table"`
	Filter string `json:"filter,omitempty"`
}

type replyPayload struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

type changePayload struct {
	Data struct {
		Type      string         `json:"type"`
		Record    map[string]any `json:"record"`
		OldRecord map[string]any `json:"old_record"`
	} `json:"data"`
}

// realtimeURL turns the project URL into the realtime websocket endpoint.
func realtimeURL(baseURL, apiKey string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/") + "/realtime/v1/websocket")
	if err != nil {
		return "", fmt.Errorf("invalid realtime url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("invalid realtime url scheme %q", u.Scheme)
	}
	q := u.Query()
	q.Set("apikey", apiKey)
	q.Set("vsn", vsnVersion)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// channel is one joined postgres_changes topic. It owns its websocket and
// reconnects until Unsubscribe, emitting a RESYNC change after each rejoin.
type channel struct {
	id       string
	endpoint string
	topic    string
	owner    string
	join     json.RawMessage
	cfg      RealtimeConfig
	dialer   *websocket.Dialer
	onChange func(domain.Change)
	logger   logger.Logger

	ref    atomic.Uint64
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (ch *channel) ID() string { return ch.id }

// Unsubscribe leaves the topic and waits for the connection goroutine to exit.
// It must not be called from inside the callback.
func (ch *channel) Unsubscribe() error {
	ch.once.Do(func() {
		ch.cancel()
		<-ch.done
	})
	return nil
}

func (ch *channel) nextRef() string {
	return strconv.FormatUint(ch.ref.Add(1), 10)
}

func openChannel(ctx context.Context, endpoint, table, schema, owner, token string, cfg RealtimeConfig, dialer *websocket.Dialer, onChange func(domain.Change), log logger.Logger) (*channel, error) {
	join, err := json.Marshal(joinPayload{
		Config: joinConfig{
			Broadcast: map[string]bool{"self": false},
			Presence:  map[string]string{"key": ""},
			PostgresChanges: []changeFilter{{
				Event:  "*",
				Schema: schema,
				Table:  table,
				Filter: "user_id=eq." + owner,
			}},
		},
		AccessToken: token,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode join payload: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	ch := &channel{
		id:       ulid.Make().String(),
		endpoint: endpoint,
		topic:    "realtime:bookmarks-" + owner,
		owner:    owner,
		join:     join,
		cfg:      cfg,
		dialer:   dialer,
		onChange: onChange,
		ctx:      runCtx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	ch.logger = log.With(logger.String("topic", ch.topic), logger.String("subscription", ch.id))

	conn, err := ch.connect(ctx)
	if err != nil {
		cancel()
		return nil, err
	}
	go ch.run(conn)
	return ch, nil
}

// connect dials and joins, waiting for an ok reply.
func (ch *channel) connect(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := ch.dialer.DialContext(ctx, ch.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial realtime: %w", err)
	}
	conn.SetReadLimit(maxMessageSize)

	ref := ch.nextRef()
	if err := ch.write(conn, message{Topic: ch.topic, Event: phxJoin, Payload: ch.join, Ref: ref, JoinRef: ref}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to send join: %w", err)
	}

	deadline := time.Now().Add(ch.cfg.JoinWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetReadDeadline(deadline)

	for {
		var msg message
		if err := conn.ReadJSON(&msg); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("no join reply: %w", err)
		}
		if msg.Event != phxReply || msg.Ref != ref {
			continue
		}

		var reply replyPayload
		if err := json.Unmarshal(msg.Payload, &reply); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("malformed join reply: %w", err)
		}
		if reply.Status != replyOK {
			_ = conn.Close()
			return nil, fmt.Errorf("join rejected: %s %s", reply.Status, string(reply.Response))
		}
		_ = conn.SetReadDeadline(time.Now().Add(2 * ch.cfg.Heartbeat))
		return conn, nil
	}
}

func (ch *channel) run(conn *websocket.Conn) {
	defer close(ch.done)

	for {
		err := ch.serve(conn)
		if ch.ctx.Err() != nil {
			return
		}
		ch.logger.Warn("realtime connection lost, reconnecting", logger.Error(err))

		conn = ch.reconnect()
		if conn == nil {
			return
		}
		ch.logger.Info("realtime channel rejoined")
		ch.onChange(domain.Change{Type: domain.ChangeResync, Owner: ch.owner})
	}
}

// serve pumps one connection until it fails or the channel is closed.
func (ch *channel) serve(conn *websocket.Conn) error {
	readErr := make(chan error, 1)
	go func() {
		for {
			var msg message
			if err := conn.ReadJSON(&msg); err != nil {
				readErr <- err
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(2 * ch.cfg.Heartbeat))
			if err := ch.handle(msg); err != nil {
				readErr <- err
				return
			}
		}
	}()

	ticker := time.NewTicker(ch.cfg.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ch.ctx.Done():
			_ = ch.write(conn, message{Topic: ch.topic, Event: phxLeave, Payload: json.RawMessage(`{}`), Ref: ch.nextRef()})
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			_ = conn.Close()
			<-readErr
			return ch.ctx.Err()

		case err := <-readErr:
			_ = conn.Close()
			return err

		case <-ticker.C:
			if err := ch.write(conn, message{Topic: phxTopic, Event: heartbeat, Payload: json.RawMessage(`{}`), Ref: ch.nextRef()}); err != nil {
				_ = conn.Close()
				<-readErr
				return fmt.Errorf("heartbeat failed: %w", err)
			}
		}
	}
}

func (ch *channel) handle(msg message) error {
	if msg.Topic != ch.topic {
		return nil
	}
	switch msg.Event {
	case pgChanges:
		var p changePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			ch.logger.Warn("malformed change payload", logger.Error(err))
			return nil
		}
		ch.onChange(domain.Change{
			Type:  domain.ChangeType(strings.ToUpper(p.Data.Type)),
			Owner: ch.owner,
			ID:    recordID(p.Data.Record, p.Data.OldRecord),
		})
	case phxError, phxClose:
		return fmt.Errorf("channel %s: %s", ch.topic, msg.Event)
	}
	return nil
}

// reconnect retries with exponential backoff until it rejoins or the channel closes.
func (ch *channel) reconnect() *websocket.Conn {
	wait := ch.cfg.Retry
	for attempt := 1; ; attempt++ {
		timer := time.NewTimer(wait)
		select {
		case <-ch.ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		conn, err := ch.connect(ch.ctx)
		if err == nil {
			return conn
		}
		ch.logger.Warn("realtime reconnect failed",
			logger.Int("attempt", attempt),
			logger.Duration("next_retry_in", wait),
			logger.Error(err))

		wait *= 2
		if wait > ch.cfg.MaxWait {
			wait = ch.cfg.MaxWait
		}
	}
}

func (ch *channel) write(conn *websocket.Conn, msg message) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}

func recordID(records ...map[string]any) string {
	for _, r := range records {
		switch v := r["id"].(type) {
		case string:
			return v
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}
