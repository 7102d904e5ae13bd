// Package logclient is the asynchronous client SDK for shipping application
// logs to the collector. Logging calls never block the caller: entries go
// into a bounded buffer and a background worker batches, compresses, and
// posts them with retries. When the buffer is full, entries are dropped and
// counted rather than applying backpressure.
package logclient

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config tunes the client. Zero values fall back to defaults in New.
type Config struct {
	ServerURL      string `env:"LOG_SERVER_URL" envDefault:"http://localhost:8000"`
	ServiceName    string `env:"SERVICE_NAME" envDefault:"unknown"`
	Environment    string `env:"ENVIRONMENT" envDefault:"development"`
	ServiceVersion string `env:"SERVICE_VERSION" envDefault:"v0.0.0-dev"`
	LogType        string `env:"LOG_TYPE" envDefault:"BACKEND"`
	CapturePanics  bool   `env:"ENABLE_GLOBAL_ERROR_HANDLER" envDefault:"true"`

	BufferSize     int           `env:"LOG_BUFFER_SIZE" envDefault:"10000"`
	BatchSize      int           `env:"LOG_BATCH_SIZE" envDefault:"1000"`
	FlushInterval  time.Duration `env:"LOG_FLUSH_INTERVAL" envDefault:"1s"`
	GzipThreshold  int           `env:"LOG_GZIP_THRESHOLD" envDefault:"100"`
	RequestTimeout time.Duration `env:"LOG_REQUEST_TIMEOUT" envDefault:"5s"`
	MaxRetries     int           `env:"LOG_MAX_RETRIES" envDefault:"3"`
}

// ConfigFromEnv parses client configuration from environment variables.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("op=logclient.ConfigFromEnv: %w", err)
	}
	return cfg, nil
}

// Fields is free-form structured context attached to an entry's metadata.
type Fields map[string]any

// Entry is one outgoing log record in the collector wire format.
type Entry struct {
	CreatedAt      float64  `json:"created_at"`
	Level          string   `json:"level"`
	LogType        string   `json:"log_type"`
	Service        string   `json:"service"`
	Environment    string   `json:"environment"`
	ServiceVersion string   `json:"service_version"`
	TraceID        *string  `json:"trace_id,omitempty"`
	UserID         *string  `json:"user_id,omitempty"`
	SessionID      *string  `json:"session_id,omitempty"`
	ErrorType      *string  `json:"error_type,omitempty"`
	Message        string   `json:"message"`
	StackTrace     *string  `json:"stack_trace,omitempty"`
	Path           *string  `json:"path,omitempty"`
	Method         *string  `json:"method,omitempty"`
	ActionType     *string  `json:"action_type,omitempty"`
	FunctionName   *string  `json:"function_name,omitempty"`
	FilePath       *string  `json:"file_path,omitempty"`
	DurationMS     *float64 `json:"duration_ms,omitempty"`
	Metadata       Fields   `json:"metadata,omitempty"`
}

// Client ships log entries to the collector asynchronously.
type Client struct {
	cfg   Config
	httpc *http.Client

	ch       chan Entry
	flushReq chan chan struct{}
	done     chan struct{}
	wg       sync.WaitGroup
	once     sync.Once

	dropped atomic.Int64
	sent    atomic.Int64
}

// New starts the client's background worker.
func New(cfg Config) *Client {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 10000
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	if cfg.GzipThreshold <= 0 {
		cfg.GzipThreshold = 100
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	c := &Client{
		cfg:      cfg,
		httpc:    &http.Client{Timeout: cfg.RequestTimeout},
		ch:       make(chan Entry, cfg.BufferSize),
		flushReq: make(chan chan struct{}),
		done:     make(chan struct{}),
	}
	c.wg.Add(1)
	go c.worker()
	return c
}

// NewFromEnv builds a client from environment variables.
func NewFromEnv() (*Client, error) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	return New(cfg), nil
}

// Dropped reports entries discarded because the buffer was full or delivery
// failed after all retries.
func (c *Client) Dropped() int64 { return c.dropped.Load() }

// Sent reports entries acknowledged by the collector.
func (c *Client) Sent() int64 { return c.sent.Load() }

func (c *Client) enqueue(e Entry) {
	select {
	case c.ch <- e:
	default:
		c.dropped.Add(1)
	}
}

// clientSourceFile anchors caller lookup: frames from this file are the
// client's own wrappers and are skipped.
var clientSourceFile = func() string {
	_, file, _, _ := runtime.Caller(0)
	return file
}()

// callerLocation finds the first stack frame outside the client (and the
// runtime), best-effort.
func callerLocation() (fn, file string, ok bool) {
	pcs := make([]uintptr, 16)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		f, more := frames.Next()
		if f.File != clientSourceFile && !strings.HasPrefix(f.Function, "runtime.") {
			return f.Function, fmt.Sprintf("%s:%d", f.File, f.Line), true
		}
		if !more {
			return "", "", false
		}
	}
}

func (c *Client) entry(ctx context.Context, level, msg string, fields Fields) Entry {
	e := Entry{
		CreatedAt:      float64(time.Now().UnixNano()) / 1e9,
		Level:          level,
		LogType:        c.cfg.LogType,
		Service:        c.cfg.ServiceName,
		Environment:    c.cfg.Environment,
		ServiceVersion: c.cfg.ServiceVersion,
		Message:        msg,
	}
	if len(fields) > 0 {
		e.Metadata = fields
	}
	if fn, fp, ok := callerLocation(); ok {
		e.FunctionName = &fn
		e.FilePath = &fp
	}
	applyScopes(ctx, &e)
	return e
}

// Debug logs at DEBUG level.
func (c *Client) Debug(ctx context.Context, msg string, fields Fields) {
	c.enqueue(c.entry(ctx, "DEBUG", msg, fields))
}

// Info logs at INFO level.
func (c *Client) Info(ctx context.Context, msg string, fields Fields) {
	c.enqueue(c.entry(ctx, "INFO", msg, fields))
}

// Warn logs at WARN level.
func (c *Client) Warn(ctx context.Context, msg string, fields Fields) {
	c.enqueue(c.entry(ctx, "WARN", msg, fields))
}

// Error logs at ERROR level.
func (c *Client) Error(ctx context.Context, msg string, fields Fields) {
	c.enqueue(c.entry(ctx, "ERROR", msg, fields))
}

// Fatal logs at FATAL level. It does not exit the process.
func (c *Client) Fatal(ctx context.Context, msg string, fields Fields) {
	c.enqueue(c.entry(ctx, "FATAL", msg, fields))
}

// ErrorWithTrace logs an error with its type and a stack snapshot.
func (c *Client) ErrorWithTrace(ctx context.Context, msg string, err error, fields Fields) {
	e := c.entry(ctx, "ERROR", msg, fields)
	if err != nil {
		et := fmt.Sprintf("%T", err)
		e.ErrorType = &et
		if e.Metadata == nil {
			e.Metadata = Fields{}
		}
		e.Metadata["error"] = err.Error()
	}
	buf := make([]byte, 8192)
	n := runtime.Stack(buf, false)
	st := string(buf[:n])
	e.StackTrace = &st
	c.enqueue(e)
}

// CapturePanic logs a recovered panic as FATAL, flushes, and re-panics so
// the surrounding handler chain still sees it. When panic capture is
// disabled the hook is a pure passthrough. Use in a defer:
//
//	defer client.CapturePanic(ctx)
func (c *Client) CapturePanic(ctx context.Context) {
	rec := recover()
	if rec == nil {
		return
	}
	if c.cfg.CapturePanics {
		buf := make([]byte, 8192)
		n := runtime.Stack(buf, false)
		st := string(buf[:n])
		e := c.entry(ctx, "FATAL", fmt.Sprintf("panic: %v", rec), nil)
		e.StackTrace = &st
		c.enqueue(e)
		c.Flush(context.Background())
	}
	panic(rec)
}

// Go runs fn in a goroutine with panic capture.
func (c *Client) Go(ctx context.Context, fn func(context.Context)) {
	go func() {
		defer c.CapturePanic(ctx)
		fn(ctx)
	}()
}

// Timer measures a named operation and logs its duration on Stop.
type Timer struct {
	c      *Client
	ctx    context.Context
	name   string
	start  time.Time
	fields Fields
}

// StartTimer begins measuring a named operation.
func (c *Client) StartTimer(ctx context.Context, name string, fields Fields) *Timer {
	return &Timer{c: c, ctx: ctx, name: name, start: time.Now(), fields: fields}
}

// Stop logs the measured duration at INFO level.
func (t *Timer) Stop() {
	t.c.Measure(t.ctx, t.name, time.Since(t.start), t.fields)
}

// Time runs fn and logs its duration.
func (c *Client) Time(ctx context.Context, name string, fields Fields, fn func()) {
	t := c.StartTimer(ctx, name, fields)
	defer t.Stop()
	fn()
}

// Measure logs an already-measured duration for a named operation.
func (c *Client) Measure(ctx context.Context, name string, d time.Duration, fields Fields) {
	e := c.entry(ctx, "INFO", name, fields)
	ms := float64(d.Microseconds()) / 1000
	e.DurationMS = &ms
	at := "measure"
	e.ActionType = &at
	c.enqueue(e)
}

// Flush blocks until everything buffered so far has been attempted, or ctx
// expires.
func (c *Client) Flush(ctx context.Context) {
	ack := make(chan struct{})
	select {
	case c.flushReq <- ack:
	case <-c.done:
		return
	case <-ctx.Done():
		return
	}
	select {
	case <-ack:
	case <-ctx.Done():
	}
}

// Close flushes pending entries and stops the worker, waiting up to five
// seconds for the final delivery.
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.done)
		done := make(chan struct{})
		go func() {
			c.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
		}
	})
}

func (c *Client) worker() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]Entry, 0, c.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		c.send(batch)
		batch = batch[:0]
	}

	for {
		select {
		case e := <-c.ch:
			batch = append(batch, e)
			if len(batch) >= c.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case ack := <-c.flushReq:
			c.drain(&batch)
			flush()
			close(ack)
		case <-c.done:
			c.drain(&batch)
			flush()
			return
		}
	}
}

// drain moves everything currently buffered into the batch.
func (c *Client) drain(batch *[]Entry) {
	for {
		select {
		case e := <-c.ch:
			*batch = append(*batch, e)
		default:
			return
		}
	}
}

// send posts one batch, retrying transient failures with doubling delays.
// A batch that cannot be delivered is dropped.
func (c *Client) send(batch []Entry) {
	payload, err := json.Marshal(map[string][]Entry{"logs": batch})
	if err != nil {
		c.dropBatch(len(batch), err.Error())
		return
	}

	gzipped := len(batch) >= c.cfg.GzipThreshold
	if gzipped {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(payload); err == nil && zw.Close() == nil {
			payload = buf.Bytes()
		} else {
			gzipped = false
		}
	}

	url := strings.TrimRight(c.cfg.ServerURL, "/") + "/logs"
	delay := time.Second
	lastErr := "retries exhausted"
	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
			case <-c.done:
			}
			delay *= 2
		}
		req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			lastErr = err.Error()
			break
		}
		req.Header.Set("Content-Type", "application/json")
		if gzipped {
			req.Header.Set("Content-Encoding", "gzip")
		}
		resp, err := c.httpc.Do(req)
		if err != nil {
			lastErr = err.Error()
			continue
		}
		_ = resp.Body.Close()
		if resp.StatusCode < 300 {
			c.sent.Add(int64(len(batch)))
			return
		}
		lastErr = resp.Status
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			// the collector rejected the batch; retrying cannot help
			break
		}
	}
	c.dropBatch(len(batch), lastErr)
}

// dropBatch counts an undeliverable batch and leaves a single local
// diagnostic so the loss is observable without the collector.
func (c *Client) dropBatch(n int, reason string) {
	c.dropped.Add(int64(n))
	slog.Warn("log delivery failed, dropping batch",
		slog.Int("batch_size", n),
		slog.String("error", reason))
}
