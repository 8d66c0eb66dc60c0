package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MrSnakeDoc/smartmark/internal/bookmarks"
	"github.com/MrSnakeDoc/smartmark/internal/domain"
	"github.com/MrSnakeDoc/smartmark/internal/httpserver/deps"
	"github.com/MrSnakeDoc/smartmark/internal/httpserver/mw"
	"github.com/MrSnakeDoc/smartmark/internal/logger"
	"github.com/MrSnakeDoc/smartmark/internal/remote"
)

const (
	// Time allowed to write a frame to the browser
	writeWait = 10 * time.Second

	// Time allowed to read the next pong from the browser
	pongWait = 60 * time.Second

	// Ping period, must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 16 * 1024
	sendBufferSize = 64
)

// Frame types sent to the browser.
const (
	FrameState     = "state"
	FrameNotice    = "notice"
	FrameSignedOut = "signed_out"
)

// Frame is one server to browser message.
type Frame struct {
	Type    string           `json:"type"`
	State   *bookmarks.State `json:"state,omitempty"`
	Message string           `json:"message,omitempty"`
}

// Command is one browser to server message.
type Command struct {
	Op    string `json:"op"`
	Title string `json:"title,omitempty"`
	URL   string `json:"url,omitempty"`
	ID    string `json:"id,omitempty"`
}

// Live upgrades to a websocket and mounts one bookmark list for the connection.
// The view lives exactly as long as the socket.
func Live(d deps.Deps) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     mw.CheckOrigin(d.AllowedHosts),
	}

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			d.Logger.Debug("live upgrade failed", logger.Error(err))
			return
		}

		token := mw.Token(r)
		c := newLiveConn(conn, d.Logger)
		view := bookmarks.NewListView(d.Backend.ForToken(token), token, c, bookmarks.Deps{
			Guard:   d.Guard,
			Hub:     d.Hub,
			Logger:  d.Logger,
			Metrics: d.Metrics,

			RefreshTimeout: d.RemoteTimeout,
		})
		c.log = d.Logger.With(logger.String("view", view.ID()))
		c.serve(r.Context(), view, d)
	}
}

// liveConn is the bookmarks.Sink of one socket. Frames are queued to a single
// writer goroutine; after stop nothing more is queued.
type liveConn struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	stop func()
	log  logger.Logger
}

func newLiveConn(conn *websocket.Conn, log logger.Logger) *liveConn {
	c := &liveConn{
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		done: make(chan struct{}),
		log:  log,
	}
	var once sync.Once
	c.stop = func() { once.Do(func() { close(c.done) }) }
	return c
}

func (c *liveConn) Render(s bookmarks.State) { c.push(Frame{Type: FrameState, State: &s}) }

func (c *liveConn) Notice(message string) { c.push(Frame{Type: FrameNotice, Message: message}) }

// SignedOut tells the browser to leave and closes the socket once the frame is written.
func (c *liveConn) SignedOut() {
	c.push(Frame{Type: FrameSignedOut})
	c.stop()
}

func (c *liveConn) push(f Frame) {
	b, err := json.Marshal(f)
	if err != nil {
		c.log.Error("encode live frame", logger.Error(err))
		return
	}

	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- b:
	case <-c.done:
	default:
		c.log.Warn("live client too slow, closing")
		c.stop()
	}
}

func (c *liveConn) serve(parent context.Context, view *bookmarks.ListView, d deps.Deps) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	go func() {
		<-ctx.Done()
		c.stop()
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writePump()
	}()

	if err := view.Mount(ctx); errors.Is(err, remote.ErrNoSession) {
		c.SignedOut()
	} else {
		mw.TagOwner(parent, view.Owner())
	}

	var ops sync.WaitGroup
	c.readPump(ctx, view, d, &ops)

	c.stop()
	cancel()
	view.Unmount()
	ops.Wait()
	<-writerDone
}

// readPump dispatches browser commands until the socket closes. Remote
// operations each run on their own goroutine.
func (c *liveConn) readPump(ctx context.Context, view *bookmarks.ListView, d deps.Deps, ops *sync.WaitGroup) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var cmd Command
		if err := c.conn.ReadJSON(&cmd); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				c.log.Debug("ignoring malformed command", logger.Error(err))
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("live read error", logger.Error(err))
			}
			return
		}

		switch cmd.Op {
		case "draft":
			view.SetDraft(cmd.Title, cmd.URL)
		case "toggle":
			view.Toggle()
		case "create", "delete", "refresh":
			ops.Add(1)
			go func(cmd Command) {
				defer ops.Done()
				c.run(ctx, view, d, cmd)
			}(cmd)
		default:
			c.log.Debug("unknown live command", logger.String("op", cmd.Op))
		}
	}
}

func (c *liveConn) run(ctx context.Context, view *bookmarks.ListView, d deps.Deps, cmd Command) {
	opCtx, cancel := remoteCtx(ctx, d)
	defer cancel()

	var err error
	switch cmd.Op {
	case "create":
		err = view.Create(opCtx, cmd.Title, cmd.URL)
	case "delete":
		err = view.Delete(opCtx, cmd.ID)
	case "refresh":
		err = view.Refresh()
	}

	switch {
	case err == nil:
	case errors.Is(err, domain.ErrEmptyInput), errors.Is(err, bookmarks.ErrBusy):
		c.log.Debug("live command ignored", logger.String("op", cmd.Op), logger.Error(err))
	case errors.Is(err, remote.ErrNoSession):
		c.SignedOut()
	default:
		c.log.Debug("live command failed", logger.String("op", cmd.Op), logger.Error(err))
	}
}

// writePump owns every write to the socket. On stop it flushes queued frames,
// sends a close frame and closes the connection.
func (c *liveConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				c.log.Debug("live write failed", logger.Error(err))
				c.stop()
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.stop()
				return
			}
		case <-c.done:
			c.flush()
			_ = c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *liveConn) flush() {
	for {
		select {
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *liveConn) write(kind int, data []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(kind, data)
}
