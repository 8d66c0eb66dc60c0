package mw

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/MrSnakeDoc/smartmark/internal/logger"
	"github.com/MrSnakeDoc/smartmark/internal/utils"
)

// accessRecord collects what the access line reports. Inner middlewares fill
// it through the request context.
type accessRecord struct {
	status   int
	bytes    int
	owner    string
	upgraded bool
}

// TagOwner records the session owner on the access line of the current request.
func TagOwner(ctx context.Context, owner string) {
	if rec, ok := ctx.Value(accessKey).(*accessRecord); ok {
		rec.owner = owner
	}
}

type recordingWriter struct {
	http.ResponseWriter
	rec *accessRecord
}

func (w *recordingWriter) WriteHeader(code int) {
	w.rec.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *recordingWriter) Write(b []byte) (int, error) {
	if w.rec.status == 0 {
		w.rec.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.rec.bytes += n
	return n, err
}

// Hijack lets the live socket upgrade through the access log.
func (w *recordingWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	w.rec.status = http.StatusSwitchingProtocols
	w.rec.upgraded = true
	return h.Hijack()
}

func (w *recordingWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// healthPaths are logged at debug level.
var healthPaths = map[string]bool{"/healthz": true, "/readyz": true}

// Log returns a middleware that logs one line per HTTP request. A live socket
// is logged once it closes, with the time it stayed open.
func Log(loggerClient logger.Logger, trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &accessRecord{}
			ctx := context.WithValue(r.Context(), accessKey, rec)

			next.ServeHTTP(&recordingWriter{ResponseWriter: w, rec: rec}, r.WithContext(ctx))

			msg := "http_request"
			if rec.upgraded {
				msg = "live_socket_closed"
			}
			fields := []logger.Field{
				logger.String("method", r.Method),
				logger.String("path", r.URL.Path),
				logger.Int("status", rec.status),
				logger.Int("bytes", rec.bytes),
				logger.Duration("duration", time.Since(start)),
				logger.String("remote_ip", utils.ClientIP(r, trustProxy)),
				logger.String("request_id", middleware.GetReqID(r.Context())),
			}
			if rec.owner != "" {
				fields = append(fields, logger.String("owner", rec.owner))
			}
			if healthPaths[r.URL.Path] {
				loggerClient.Debug(msg, fields...)
				return
			}
			fields = append(fields, logger.String("user_agent", r.UserAgent()))
			loggerClient.Info(msg, fields...)
		})
	}
}
