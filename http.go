package talisman

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
)

// BuildFunc creates the Template for one request, with its bindings set.
type BuildFunc func(r *http.Request) (*Template, error)

// flushWriter flushes after every chunk so browsers see output as soon as
// each part of the document resolves.
type flushWriter struct {
	w       io.Writer
	flusher http.Flusher
}

func (fw flushWriter) Write(p []byte) (int, error) {
	n, err := fw.w.Write(p)
	if fw.flusher != nil {
		fw.flusher.Flush()
	}
	return n, err
}

// Handler returns an http.Handler that streams a freshly built template per
// request. The render stops as soon as the client goes away. A build error
// wrapping fs.ErrNotExist is answered with 404, any other with 500.
func Handler(build BuildFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tmpl, err := build(r)
		if err != nil {
			slog.Default().Warn("template build failed", "path", r.URL.Path, "error", err)
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.WriteHeader(buildErrorStatus(err))
			io.WriteString(w, errorDocument(err))
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("X-Content-Type-Options", "nosniff")

		flusher, _ := w.(http.Flusher)
		if err := tmpl.Execute(r.Context(), flushWriter{w: w, flusher: flusher}); err != nil {
			tmpl.log.Info("render stopped", "path", r.URL.Path, "error", err)
		}
	})
}

func buildErrorStatus(err error) int {
	if errors.Is(err, fs.ErrNotExist) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// WebSocketConfig configures WebSocketHandler
type WebSocketConfig struct {
	Build    BuildFunc
	Upgrader *websocket.Upgrader
}

// wsWriter sends every chunk as one text message.
type wsWriter struct {
	conn *websocket.Conn
}

func (ws wsWriter) Write(p []byte) (int, error) {
	if err := ws.conn.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// WebSocketHandler returns an http.Handler that upgrades the connection and
// streams the rendered template as text messages, one per output chunk, in
// document order. The connection is closed normally once rendering ends.
func WebSocketHandler(config WebSocketConfig) http.Handler {
	upgrader := config.Upgrader
	if upgrader == nil {
		upgrader = &websocket.Upgrader{}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tmpl, err := config.Build(r)
		if err != nil {
			slog.Default().Warn("template build failed", "path", r.URL.Path, "error", err)
			status := buildErrorStatus(err)
			http.Error(w, http.StatusText(status), status)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			tmpl.log.Warn("websocket upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		// the client never sends; reading detects it going away
		ctx, cancel := contextWithCancelOnClose(r, conn)
		defer cancel()

		if err := tmpl.Execute(ctx, wsWriter{conn: conn}); err != nil {
			tmpl.log.Info("websocket render stopped", "error", err)
			return
		}

		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if err := conn.WriteMessage(websocket.CloseMessage, msg); err != nil {
			tmpl.log.Debug("websocket close failed", "error", err)
		}
	})
}

// contextWithCancelOnClose derives a context from the request that is
// cancelled once the peer closes the connection or it breaks.
func contextWithCancelOnClose(r *http.Request, conn *websocket.Conn) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(r.Context())
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()
	return ctx, cancel
}
