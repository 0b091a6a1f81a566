// Package echo implements the "echo" mount kind, a compiled-in diagnostic app.
// It reports what the router forwarded and echoes WebSocket messages, which
// makes it useful for smoke-testing a mount before the real sub-app exists.
package echo

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/pitext/router/internal/httputil"
	"github.com/pitext/router/internal/logging"
	"github.com/pitext/router/internal/plugin"
)

// Kind is the manifest name of this mount kind.
const Kind = "echo"

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 << 10
)

func init() {
	plugin.Register(Kind, plugin.KindInfo{
		Description: "Diagnostic app: request echo and WebSocket echo",
		Selectable:  true,
	}, New)
}

// Response is the body returned for plain HTTP requests.
type Response struct {
	App       string   `json:"app"`
	Method    string   `json:"method"`
	Path      string   `json:"path"`
	Prefix    string   `json:"prefix,omitempty"`
	Query     string   `json:"query,omitempty"`
	UserAgent string   `json:"user_agent,omitempty"`
	TraceID   string   `json:"trace_id,omitempty"`
	Namespace []string `json:"namespace"`
}

type app struct {
	ns       *plugin.Namespace
	upgrader websocket.Upgrader
}

// New builds the echo handler. Like proxy and static, export.StripPrefix is
// removed from the request path before routing: "/ws" upgrades to a WebSocket
// echo and everything else is described. Paths outside the prefix are
// described unchanged.
func New(ns *plugin.Namespace, export plugin.Export) (http.Handler, error) {
	a := &app{
		ns: ns,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}

	router := mux.NewRouter()
	router.HandleFunc("/ws", a.handleWebSocket)
	router.PathPrefix("/").HandlerFunc(a.handleDescribe)
	router.NotFoundHandler = http.HandlerFunc(a.handleDescribe)

	strip := strings.TrimRight(export.StripPrefix, "/")
	if strip == "" {
		return router, nil
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rest, ok := strings.CutPrefix(r.URL.Path, strip)
		if !ok || (rest != "" && !strings.HasPrefix(rest, "/")) {
			router.ServeHTTP(w, r)
			return
		}
		if rest == "" {
			rest = "/"
		}
		r2 := r.Clone(context.WithValue(r.Context(), strippedKey{}, strip))
		r2.URL.Path = rest
		r2.URL.RawPath = ""
		router.ServeHTTP(w, r2)
	}), nil
}

type strippedKey struct{}

func (a *app) handleDescribe(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, Response{
		App:       a.ns.App(),
		Method:    r.Method,
		Path:      r.URL.Path,
		Prefix:    stripped(r.Context()),
		Query:     r.URL.RawQuery,
		UserAgent: r.UserAgent(),
		TraceID:   logging.TraceID(r.Context()),
		Namespace: a.ns.Keys(),
	})
}

func stripped(ctx context.Context) string {
	prefix, _ := ctx.Value(strippedKey{}).(string)
	return prefix
}

func (a *app) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		a.handleDescribe(w, r)
		return
	}

	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxMessageSize)

	log := a.ns.Logger().WithContext(r.Context()).WithField("app", a.ns.App())
	log.Debug("echo websocket opened")

	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.WithError(err).Warn("echo websocket closed unexpectedly")
			}
			return
		}
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(mt, msg); err != nil {
			log.WithError(err).Warn("echo websocket write failed")
			return
		}
	}
}
