package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/loglens/loglens/internal/agent"
	"github.com/loglens/loglens/internal/config"
	"github.com/loglens/loglens/internal/domain"
	"github.com/loglens/loglens/internal/service"
	"github.com/loglens/loglens/pkg/redact"
)

// AnalysisServer aggregates the analysis surface's dependencies.
type AnalysisServer struct {
	Cfg      config.Config
	Stream   *service.StreamService
	Alerts   *service.AlertingService
	Cache    *service.ResultCache
	Conv     *service.ConversationService
	Hub      *service.Hub
	Logs     domain.LogRepository
	DBCheck  func(ctx context.Context) error
}

// NewAnalysisServer constructs the analysis surface.
func NewAnalysisServer(cfg config.Config, stream *service.StreamService, alerts *service.AlertingService, cache *service.ResultCache, conv *service.ConversationService, hub *service.Hub, logs domain.LogRepository, dbCheck func(context.Context) error) *AnalysisServer {
	return &AnalysisServer{
		Cfg: cfg, Stream: stream, Alerts: alerts, Cache: cache,
		Conv: conv, Hub: hub, Logs: logs, DBCheck: dbCheck,
	}
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

func decodeValidated(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument)
	}
	if err := getValidator().Struct(v); err != nil {
		return fmt.Errorf("%w: validation failed: %v", domain.ErrInvalidArgument, err)
	}
	return nil
}

// QueryHandler runs the analysis workflow synchronously and returns the
// terminal outcome. Streaming clients use the WebSocket surface instead.
func (s *AnalysisServer) QueryHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		var req service.Request
		if err := decodeValidated(r, &req); err != nil {
			writeError(w, r, err, nil)
			return
		}
		if req.TimeRange != nil {
			if err := req.TimeRange.Validate(time.Now().UTC()); err != nil {
				writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err),
					map[string]any{"field": "time_range"})
				return
			}
		}

		res := s.Stream.Execute(r.Context(), req)
		switch res.Terminal.Type {
		case "complete":
			writeJSON(w, http.StatusOK, map[string]any{"type": "complete", "data": res.Terminal.Data})
		case "clarification_needed":
			writeJSON(w, http.StatusOK, map[string]any{"type": "clarification_needed", "data": res.Terminal.Data})
		case "cancelled":
			writeJSON(w, http.StatusOK, map[string]any{"type": "cancelled", "data": res.Terminal.Data})
		case "error":
			code := domain.CodeUnknownError
			if c, ok := res.Terminal.Data["error_code"].(string); ok {
				code = domain.ErrorCode(c)
			}
			writeJSON(w, statusFor(code), res.Terminal.Data)
		default:
			writeError(w, r, domain.NewAppError(domain.CodeInternalError, "workflow produced no result", nil), nil)
		}
	}
}

type summarizeRequest struct {
	Messages []agent.SummaryMessage `json:"messages" validate:"required,min=1,max=50"`
}

// SummarizeHandler condenses a conversation into a short summary.
func (s *AnalysisServer) SummarizeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		var req summarizeRequest
		if err := decodeValidated(r, &req); err != nil {
			writeError(w, r, err, nil)
			return
		}
		summary, err := s.Stream.Summarize(r.Context(), req.Messages)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"summary": summary})
	}
}

// ServicesHandler lists distinct service names seen in stored logs.
func (s *AnalysisServer) ServicesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		services, err := s.Logs.Services(r.Context())
		if err != nil {
			writeError(w, r, domain.NewAppError(domain.CodeDatabaseError, "failed to list services", err), nil)
			return
		}
		if services == nil {
			services = []string{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"services": services})
	}
}

// StatsHandler serves aggregate counters over stored logs.
func (s *AnalysisServer) StatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := s.Logs.Stats(r.Context())
		if err != nil {
			writeError(w, r, domain.NewAppError(domain.CodeDatabaseError, "failed to load stats", err), nil)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

// AlertHistoryHandler returns recent anomaly alerts, newest first.
func (s *AnalysisServer) AlertHistoryHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 20
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 || n > 100 {
				writeError(w, r, fmt.Errorf("%w: limit must be 1-100", domain.ErrInvalidArgument),
					map[string]any{"field": "limit"})
				return
			}
			limit = n
		}
		alerts := s.Alerts.History(limit)
		if alerts == nil {
			alerts = []domain.Alert{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts, "count": len(alerts)})
	}
}

// AlertCheckHandler runs the anomaly checks immediately.
func (s *AnalysisServer) AlertCheckHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		alerts, err := s.Alerts.RunChecks(r.Context())
		if err != nil {
			writeError(w, r, domain.NewAppError(domain.CodeDatabaseError, "alert checks failed", err), nil)
			return
		}
		if alerts == nil {
			alerts = []domain.Alert{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts, "count": len(alerts)})
	}
}

// InvalidateCacheHandler drops every cached result. The collector calls
// this after each successful insert.
func (s *AnalysisServer) InvalidateCacheHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		s.Cache.InvalidateAll()
		size, last := s.Cache.Stats()
		writeJSON(w, http.StatusOK, map[string]any{
			"status":           "ok",
			"size":             size,
			"last_invalidated": last.UTC().Format(time.RFC3339),
		})
	}
}

// RootHandler identifies the service.
func (s *AnalysisServer) RootHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"service": "loglens-analysis",
			"status":  "running",
		})
	}
}

// ReadyzHandler probes the database.
func (s *AnalysisServer) ReadyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if s.DBCheck != nil {
			if err := s.DBCheck(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]any{
					"checks": []map[string]any{{"name": "db", "ok": false, "details": redact.Error(err)}},
				})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"checks": []map[string]any{{"name": "db", "ok": true}},
		})
	}
}

// ParseOrigins splits a comma-separated origin list, trimming spaces.
// Empty input allows all origins.
func ParseOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}
