package httpserver

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/loglens/loglens/internal/adapter/observability"
	"github.com/loglens/loglens/internal/config"
	"github.com/loglens/loglens/internal/domain"
	"github.com/loglens/loglens/pkg/redact"
)

// maxIngestBytes caps a decompressed ingest body.
const maxIngestBytes = 32 << 20

// CollectorServer aggregates the ingest surface's dependencies.
type CollectorServer struct {
	Cfg     config.Config
	Logs    domain.LogRepository
	DBCheck func(ctx context.Context) error

	// invalidate notifies the analysis service after a successful insert;
	// nil disables the callback.
	invalidate func()
}

// NewCollectorServer constructs the ingest surface.
func NewCollectorServer(cfg config.Config, logs domain.LogRepository, dbCheck func(context.Context) error) *CollectorServer {
	s := &CollectorServer{Cfg: cfg, Logs: logs, DBCheck: dbCheck}
	if cfg.AnalysisURL != "" {
		client := &http.Client{
			Timeout:   3 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
		target := strings.TrimRight(cfg.AnalysisURL, "/") + "/invalidate_cache"
		s.invalidate = func() {
			resp, err := client.Post(target, "application/json", nil)
			if err != nil {
				slog.Debug("cache invalidation callback failed", slog.String("error", err.Error()))
				return
			}
			_ = resp.Body.Close()
		}
	}
	return s
}

// wireLog is one incoming record in the ingest wire format. created_at is
// Unix seconds; zero means "now".
type wireLog struct {
	CreatedAt      float64        `json:"created_at"`
	Level          string         `json:"level"`
	LogType        string         `json:"log_type"`
	Service        string         `json:"service"`
	Environment    string         `json:"environment"`
	ServiceVersion string         `json:"service_version"`
	TraceID        *string        `json:"trace_id"`
	UserID         *string        `json:"user_id"`
	SessionID      *string        `json:"session_id"`
	ErrorType      *string        `json:"error_type"`
	Message        string         `json:"message"`
	StackTrace     *string        `json:"stack_trace"`
	Path           *string        `json:"path"`
	Method         *string        `json:"method"`
	ActionType     *string        `json:"action_type"`
	FunctionName   *string        `json:"function_name"`
	FilePath       *string        `json:"file_path"`
	DurationMS     *float64       `json:"duration_ms"`
	Metadata       map[string]any `json:"metadata"`
}

// ingestRequest keeps Logs a pointer so a missing field is distinguishable
// from an explicit empty batch.
type ingestRequest struct {
	Logs *[]wireLog `json:"logs"`
}

// toRecord coerces a wire entry into a storable record. Unknown enum values
// fall back to defaults rather than rejecting the batch.
func (w wireLog) toRecord(now time.Time) domain.LogRecord {
	rec := domain.LogRecord{
		Level:          domain.LogLevel(strings.ToUpper(w.Level)),
		LogType:        domain.LogType(strings.ToUpper(w.LogType)),
		Service:        w.Service,
		Environment:    w.Environment,
		ServiceVersion: w.ServiceVersion,
		TraceID:        w.TraceID,
		UserID:         w.UserID,
		SessionID:      w.SessionID,
		ErrorType:      w.ErrorType,
		Message:        w.Message,
		StackTrace:     w.StackTrace,
		Path:           w.Path,
		Method:         w.Method,
		ActionType:     w.ActionType,
		FunctionName:   w.FunctionName,
		FilePath:       w.FilePath,
		DurationMS:     w.DurationMS,
		Metadata:       w.Metadata,
	}
	if !domain.ValidLevel(string(rec.Level)) {
		rec.Level = domain.LevelInfo
	}
	if !domain.ValidLogType(string(rec.LogType)) {
		rec.LogType = domain.TypeBackend
	}
	if rec.Service == "" {
		rec.Service = "unknown"
	}
	if rec.Environment == "" {
		rec.Environment = "development"
	}
	if rec.ServiceVersion == "" {
		rec.ServiceVersion = "v0.0.0-dev"
	}
	if w.CreatedAt > 0 {
		sec := int64(w.CreatedAt)
		nsec := int64((w.CreatedAt - float64(sec)) * 1e9)
		rec.CreatedAt = time.Unix(sec, nsec).UTC()
	} else {
		rec.CreatedAt = now
	}
	return rec
}

// IngestHandler accepts a batch of logs, optionally gzip-compressed.
func (s *CollectorServer) IngestHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := io.Reader(http.MaxBytesReader(w, r.Body, maxIngestBytes))
		if strings.Contains(r.Header.Get("Content-Encoding"), "gzip") {
			gz, err := gzip.NewReader(body)
			if err != nil {
				writeError(w, r, fmt.Errorf("%w: invalid gzip body", domain.ErrInvalidArgument), nil)
				return
			}
			defer func() { _ = gz.Close() }()
			body = gz
		}

		var req ingestRequest
		if err := json.NewDecoder(body).Decode(&req); err != nil {
			writeError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument), nil)
			return
		}
		if req.Logs == nil {
			writeError(w, r, fmt.Errorf("%w: logs field is required", domain.ErrInvalidArgument),
				map[string]any{"field": "logs"})
			return
		}
		if len(*req.Logs) == 0 {
			// an empty batch is a valid no-op
			writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "count": 0})
			return
		}

		now := time.Now().UTC()
		records := make([]domain.LogRecord, 0, len(*req.Logs))
		for _, wl := range *req.Logs {
			records = append(records, wl.toRecord(now))
		}

		count, err := s.Logs.InsertBatch(r.Context(), records)
		if err != nil {
			LoggerFrom(r).Error("ingest insert failed",
				slog.Int("batch_size", len(records)),
				slog.String("error", redact.Error(err)))
			writeError(w, r, domain.NewAppError(domain.CodeDatabaseError, "failed to store logs", err), nil)
			return
		}
		observability.ObserveIngest(count)
		if s.invalidate != nil {
			go s.invalidate()
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "count": count})
	}
}

// StatsHandler serves aggregate counters over stored logs.
func (s *CollectorServer) StatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := s.Logs.Stats(r.Context())
		if err != nil {
			writeError(w, r, domain.NewAppError(domain.CodeDatabaseError, "failed to load stats", err), nil)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

// RootHandler identifies the service.
func (s *CollectorServer) RootHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"service": "loglens-collector",
			"status":  "running",
		})
	}
}

// ReadyzHandler probes the database.
func (s *CollectorServer) ReadyzHandler() http.HandlerFunc {
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
