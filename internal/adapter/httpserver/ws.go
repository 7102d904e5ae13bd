package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/loglens/loglens/internal/adapter/observability"
	"github.com/loglens/loglens/internal/agent"
	"github.com/loglens/loglens/internal/domain"
	"github.com/loglens/loglens/internal/service"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 45 * time.Second
)

// wsClientMessage is one inbound frame: a new query or a cancel request.
type wsClientMessage struct {
	Action         string            `json:"action"`
	Question       string            `json:"question"`
	MaxResults     int               `json:"max_results"`
	ConversationID string            `json:"conversation_id"`
	TimeRange      *domain.TimeRange `json:"time_range,omitempty"`
	Clarifications map[string]string `json:"clarifications,omitempty"`
}

// wsConn serializes concurrent writers (workflow events, alert pushes,
// pings) onto one connection.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) sendJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteJSON(v)
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteMessage(websocket.PingMessage, nil)
}

// StreamHandler upgrades to WebSocket and serves the streaming analysis
// protocol: query/cancel actions in, workflow events and alerts out.
func (s *AnalysisServer) StreamHandler() http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origins := ParseOrigins(s.Cfg.CORSAllowOrigins)
			if len(origins) == 1 && origins[0] == "*" {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, o := range origins {
				if o == origin {
					return true
				}
			}
			return false
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		raw, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already wrote the HTTP error response
			LoggerFrom(r).Warn("websocket upgrade failed", slog.String("error", err.Error()))
			return
		}
		observability.WSConnections.Inc()
		defer observability.WSConnections.Dec()

		lg := LoggerFrom(r)
		conn := &wsConn{conn: raw}
		defer func() { _ = raw.Close() }()

		_ = raw.SetReadDeadline(time.Now().Add(wsPongWait))
		raw.SetPongHandler(func(string) error {
			return raw.SetReadDeadline(time.Now().Add(wsPongWait))
		})

		// connection scope: closing it stops the alert pusher, the pinger
		// and any in-flight query
		connCtx, connCancel := context.WithCancel(r.Context())
		defer connCancel()

		sub := s.Hub.Subscribe()
		defer s.Hub.Unsubscribe(sub)
		go func() {
			ticker := time.NewTicker(wsPingPeriod)
			defer ticker.Stop()
			for {
				select {
				case <-connCtx.Done():
					return
				case alert, ok := <-sub.C:
					if !ok {
						return
					}
					if err := conn.sendJSON(map[string]any{"type": "alert", "data": alert}); err != nil {
						return
					}
				case <-ticker.C:
					if err := conn.ping(); err != nil {
						return
					}
				}
			}
		}()

		var (
			queryMu     sync.Mutex
			queryCancel context.CancelFunc
			queryDone   chan struct{}
		)
		cancelInflight := func() {
			queryMu.Lock()
			cancel, done := queryCancel, queryDone
			queryMu.Unlock()
			if cancel != nil {
				cancel()
				<-done
			}
		}
		defer cancelInflight()

		for {
			var msg wsClientMessage
			if err := raw.ReadJSON(&msg); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					lg.Debug("websocket closed", slog.String("error", err.Error()))
				}
				return
			}

			switch msg.Action {
			case "cancel":
				cancelInflight()

			case "query":
				if msg.Question == "" {
					env := domain.NewEnvelope(domain.CodeMissingParameter, "question is required",
						map[string]any{"field": "question"})
					_ = conn.sendJSON(map[string]any{"type": "error", "data": env})
					continue
				}
				if msg.TimeRange != nil {
					if err := msg.TimeRange.Validate(time.Now().UTC()); err != nil {
						env := domain.NewEnvelope(domain.CodeValidationError, err.Error(),
							map[string]any{"field": "time_range"})
						_ = conn.sendJSON(map[string]any{"type": "error", "data": env})
						continue
					}
				}
				// one query per connection at a time
				cancelInflight()

				qctx, qcancel := context.WithCancel(connCtx)
				done := make(chan struct{})
				queryMu.Lock()
				queryCancel, queryDone = qcancel, done
				queryMu.Unlock()

				req := service.Request{
					Question:       msg.Question,
					MaxResults:     msg.MaxResults,
					ConversationID: msg.ConversationID,
					TimeRange:      msg.TimeRange,
					Clarifications: msg.Clarifications,
				}
				go func() {
					defer close(done)
					defer qcancel()
					s.Stream.Run(qctx, req, func(e agent.Event) {
						payload := map[string]any{"type": e.Type}
						if e.Node != "" {
							payload["node"] = e.Node
						}
						if e.Status != "" {
							payload["status"] = e.Status
						}
						if e.Data != nil {
							payload["data"] = e.Data
						}
						if err := conn.sendJSON(payload); err != nil {
							qcancel()
						}
					})
				}()

			default:
				env := domain.NewEnvelope(domain.CodeInvalidRequest, "unknown action",
					map[string]any{"action": msg.Action})
				_ = conn.sendJSON(map[string]any{"type": "error", "data": env})
			}
		}
	}
}
