package domain

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrNotFound          = errors.New("not found")
	ErrRateLimited       = errors.New("rate limited")
	ErrUpstreamTimeout   = errors.New("upstream timeout")
	ErrUpstreamRateLimit = errors.New("upstream rate limit")
	ErrSQLUnsafe         = errors.New("sql rejected by safety validation")
	ErrPoolExhausted     = errors.New("connection pool exhausted")
	ErrInternal          = errors.New("internal error")
)

// LogLevel enumerates log severity levels.
type LogLevel string

const (
	LevelTrace LogLevel = "TRACE"
	LevelDebug LogLevel = "DEBUG"
	LevelInfo  LogLevel = "INFO"
	LevelWarn  LogLevel = "WARN"
	LevelError LogLevel = "ERROR"
	LevelFatal LogLevel = "FATAL"
)

// ValidLevel reports whether s is a member of the closed level set.
func ValidLevel(s string) bool {
	switch LogLevel(s) {
	case LevelTrace, LevelDebug, LevelInfo, LevelWarn, LevelError, LevelFatal:
		return true
	}
	return false
}

// LogType enumerates log source categories.
type LogType string

const (
	TypeBackend  LogType = "BACKEND"
	TypeFrontend LogType = "FRONTEND"
	TypeMobile   LogType = "MOBILE"
	TypeIoT      LogType = "IOT"
	TypeWorker   LogType = "WORKER"
)

// ValidLogType reports whether s is a member of the closed source set.
func ValidLogType(s string) bool {
	switch LogType(s) {
	case TypeBackend, TypeFrontend, TypeMobile, TypeIoT, TypeWorker:
		return true
	}
	return false
}

// LogRecord is the stored log entity. A single wide row with explicit
// nullability; created on ingest, never updated, only soft-deleted.
type LogRecord struct {
	ID             int64
	CreatedAt      time.Time
	Level          LogLevel
	LogType        LogType
	Service        string
	Environment    string
	ServiceVersion string
	TraceID        *string
	UserID         *string
	SessionID      *string
	ErrorType      *string
	Message        string
	StackTrace     *string
	Path           *string
	Method         *string
	ActionType     *string
	FunctionName   *string
	FilePath       *string
	DurationMS     *float64
	Deleted        bool
	Metadata       map[string]any
}

// Focus is the implicit subject of a conversation, derived from the last
// executed SQL.
type Focus struct {
	Service   string `json:"service,omitempty"`
	ErrorType string `json:"error_type,omitempty"`
	TimeRange string `json:"time_range,omitempty"`
}

// IsZero reports whether no focus entity has been captured.
func (f Focus) IsZero() bool { return f.Service == "" && f.ErrorType == "" && f.TimeRange == "" }

// ConversationTurn is one question-and-result within a session.
type ConversationTurn struct {
	Question         string    `json:"question"`
	ResolvedQuestion string    `json:"resolved_question"`
	SQL              string    `json:"sql"`
	ResultCount      int       `json:"result_count"`
	Focus            Focus     `json:"focus"`
	Timestamp        time.Time `json:"timestamp"`
}

// AlertType enumerates anomaly detector findings.
type AlertType string

const (
	AlertErrorRateSpike AlertType = "error_rate_spike"
	AlertSlowAPI        AlertType = "slow_api"
	AlertServiceDown    AlertType = "service_down"
)

// AlertSeverity enumerates alert severities.
type AlertSeverity string

const (
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// Alert is an anomaly-detector finding delivered to stream subscribers and
// retained in bounded history.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  AlertSeverity  `json:"severity"`
	Message   string         `json:"message"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// ColumnInfo describes one column of the logs table for prompt rendering.
type ColumnInfo struct {
	Name     string
	DataType string
	Nullable bool
}

// LevelCount is one bucket of the level distribution.
type LevelCount struct {
	Level string `json:"level"`
	Count int64  `json:"count"`
}

// ServiceCount is one bucket of the per-service distribution.
type ServiceCount struct {
	Service string `json:"service"`
	Count   int64  `json:"count"`
}

// LogStats is the aggregate block served by both HTTP surfaces.
type LogStats struct {
	TotalLogs      int64          `json:"total_logs"`
	ByLevel        []LevelCount   `json:"by_level"`
	TopServices    []ServiceCount `json:"top_services"`
	ErrorsLastHour int64          `json:"errors_last_hour"`
}

// Repositories (ports)

// LogRepository persists and aggregates raw log records.
type LogRepository interface {
	InsertBatch(ctx Context, records []LogRecord) (int, error)
	Stats(ctx Context) (LogStats, error)
	Services(ctx Context) ([]string, error)
}

// SchemaRepository renders table structure and sample rows for prompts.
type SchemaRepository interface {
	TableSchema(ctx Context) (string, error)
	SampleData(ctx Context) (string, error)
}

// QueryRepository executes validated read-only SQL.
type QueryRepository interface {
	// ExecuteSQL returns result rows as JSON-ready maps and the elapsed
	// execution time in milliseconds.
	ExecuteSQL(ctx Context, sql string) ([]map[string]any, float64, error)
}

// Context is an alias to allow decoupling from std context in domain.
// Adapters and services pass context.Context through.
type Context = context.Context
