package logclient

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeCollector struct {
	mu       sync.Mutex
	batches  [][]Entry
	gzipped  []bool
	failures int
	srv      *httptest.Server
}

func newFakeCollector(t *testing.T) *fakeCollector {
	t.Helper()
	fc := &fakeCollector{}
	fc.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/logs", r.URL.Path)

		fc.mu.Lock()
		if fc.failures > 0 {
			fc.failures--
			fc.mu.Unlock()
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fc.mu.Unlock()

		body := io.Reader(r.Body)
		isGzip := strings.Contains(r.Header.Get("Content-Encoding"), "gzip")
		if isGzip {
			zr, err := gzip.NewReader(body)
			require.NoError(t, err)
			body = zr
		}
		var req struct {
			Logs []Entry `json:"logs"`
		}
		require.NoError(t, json.NewDecoder(body).Decode(&req))

		fc.mu.Lock()
		fc.batches = append(fc.batches, req.Logs)
		fc.gzipped = append(fc.gzipped, isGzip)
		fc.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "count": len(req.Logs)})
	}))
	t.Cleanup(fc.srv.Close)
	return fc
}

func (fc *fakeCollector) entries() []Entry {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	var out []Entry
	for _, b := range fc.batches {
		out = append(out, b...)
	}
	return out
}

func testConfig(url string) Config {
	return Config{
		ServerURL:      url,
		ServiceName:    "checkout",
		Environment:    "staging",
		ServiceVersion: "v1.2.3",
		LogType:        "BACKEND",
		FlushInterval:  20 * time.Millisecond,
		GzipThreshold:  100,
	}
}

func TestClient_DeliversEntriesWithServiceIdentity(t *testing.T) {
	fc := newFakeCollector(t)
	c := New(testConfig(fc.srv.URL))
	defer c.Close()

	c.Info(context.Background(), "checkout started", Fields{"order_id": "o-1"})
	c.Error(context.Background(), "payment failed", nil)
	c.Flush(context.Background())

	entries := fc.entries()
	require.Len(t, entries, 2)
	require.Equal(t, "INFO", entries[0].Level)
	require.Equal(t, "checkout", entries[0].Service)
	require.Equal(t, "staging", entries[0].Environment)
	require.Equal(t, "v1.2.3", entries[0].ServiceVersion)
	require.Equal(t, "o-1", entries[0].Metadata["order_id"])
	require.Positive(t, entries[0].CreatedAt)
	require.Equal(t, "ERROR", entries[1].Level)
	require.EqualValues(t, 2, c.Sent())
}

func TestClient_ScopesMergeIntoEntries(t *testing.T) {
	fc := newFakeCollector(t)
	c := New(testConfig(fc.srv.URL))
	defer c.Close()

	ctx := WithRequestScope(context.Background(), RequestScope{TraceID: "t-1", Path: "/pay", Method: "POST"})
	ctx = WithUserScope(ctx, UserScope{UserID: "u-9", SessionID: "s-3"})
	c.Info(ctx, "scoped", nil)
	c.Flush(context.Background())

	entries := fc.entries()
	require.Len(t, entries, 1)
	require.Equal(t, "t-1", *entries[0].TraceID)
	require.Equal(t, "/pay", *entries[0].Path)
	require.Equal(t, "POST", *entries[0].Method)
	require.Equal(t, "u-9", *entries[0].UserID)
	require.Equal(t, "s-3", *entries[0].SessionID)
}

func TestClient_GzipAboveThreshold(t *testing.T) {
	fc := newFakeCollector(t)
	cfg := testConfig(fc.srv.URL)
	cfg.GzipThreshold = 10
	cfg.BatchSize = 50
	c := New(cfg)
	defer c.Close()

	for range 20 {
		c.Info(context.Background(), "bulk", nil)
	}
	c.Flush(context.Background())

	fc.mu.Lock()
	defer fc.mu.Unlock()
	require.NotEmpty(t, fc.gzipped)
	require.True(t, fc.gzipped[0], "batches at or above the threshold must be compressed")
	require.Len(t, fc.batches[0], 20)
}

func TestClient_FullBufferDropsInsteadOfBlocking(t *testing.T) {
	// a stalled collector keeps the worker busy; the tiny buffer then
	// fills and further entries are dropped, never blocking the caller
	release := make(chan struct{})
	stalled := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer stalled.Close()
	defer close(release)

	cfg := testConfig(stalled.URL)
	cfg.BufferSize = 4
	cfg.BatchSize = 1
	cfg.FlushInterval = time.Hour
	cfg.MaxRetries = 1
	cfg.RequestTimeout = 10 * time.Second
	c := New(cfg)

	// first entry occupies the worker in a blocked send
	c.Info(context.Background(), "first", nil)
	require.Eventually(t, func() bool { return len(c.ch) == 0 },
		2*time.Second, time.Millisecond)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range 100 {
			c.Info(context.Background(), "burst", nil)
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("logging call blocked on a full buffer")
	}
	require.Positive(t, c.Dropped())
}

func TestClient_RetriesServerErrors(t *testing.T) {
	fc := newFakeCollector(t)
	fc.failures = 2
	cfg := testConfig(fc.srv.URL)
	c := New(cfg)
	defer c.Close()

	c.Info(context.Background(), "retry me", nil)

	require.Eventually(t, func() bool { return len(fc.entries()) == 1 },
		10*time.Second, 50*time.Millisecond)
	require.EqualValues(t, 1, c.Sent())
	require.Zero(t, c.Dropped())
}

func TestClient_ErrorWithTraceCapturesLocation(t *testing.T) {
	fc := newFakeCollector(t)
	c := New(testConfig(fc.srv.URL))
	defer c.Close()

	c.ErrorWithTrace(context.Background(), "exploded", io.ErrUnexpectedEOF, nil)
	c.Flush(context.Background())

	entries := fc.entries()
	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].ErrorType)
	require.NotNil(t, entries[0].FunctionName)
	require.Contains(t, *entries[0].FunctionName, "TestClient_ErrorWithTraceCapturesLocation")
	require.NotNil(t, entries[0].FilePath)
	require.Contains(t, *entries[0].FilePath, "logclient_test.go")
	require.NotNil(t, entries[0].StackTrace)
	require.Equal(t, "unexpected EOF", entries[0].Metadata["error"])
}

func TestClient_LogCallsCaptureCallerLocation(t *testing.T) {
	fc := newFakeCollector(t)
	c := New(testConfig(fc.srv.URL))
	defer c.Close()

	c.Info(context.Background(), "located", nil)
	c.Flush(context.Background())

	entries := fc.entries()
	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].FunctionName)
	require.Contains(t, *entries[0].FunctionName, "TestClient_LogCallsCaptureCallerLocation")
	require.NotNil(t, entries[0].FilePath)
	require.Contains(t, *entries[0].FilePath, "logclient_test.go")
}

func TestClient_FinalFailureLogsLocalDiagnostic(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failing.Close()

	var out bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&out, nil)))
	defer slog.SetDefault(prev)

	cfg := testConfig(failing.URL)
	cfg.MaxRetries = 1
	c := New(cfg)
	defer c.Close()

	c.Info(context.Background(), "doomed", nil)
	c.Flush(context.Background())

	require.EqualValues(t, 1, c.Dropped())
	require.Contains(t, out.String(), "log delivery failed, dropping batch")
	require.Contains(t, out.String(), "batch_size")
}

func TestClient_CapturePanicLogsAndRethrows(t *testing.T) {
	fc := newFakeCollector(t)
	cfg := testConfig(fc.srv.URL)
	cfg.CapturePanics = true
	c := New(cfg)
	defer c.Close()

	require.PanicsWithValue(t, "boom", func() {
		defer c.CapturePanic(context.Background())
		panic("boom")
	})

	entries := fc.entries()
	require.Len(t, entries, 1)
	require.Equal(t, "FATAL", entries[0].Level)
	require.Contains(t, entries[0].Message, "boom")
	require.NotNil(t, entries[0].StackTrace)
}

func TestClient_CapturePanicDisabledIsPassthrough(t *testing.T) {
	fc := newFakeCollector(t)
	c := New(testConfig(fc.srv.URL))
	defer c.Close()

	require.PanicsWithValue(t, "boom", func() {
		defer c.CapturePanic(context.Background())
		panic("boom")
	})

	c.Flush(context.Background())
	require.Empty(t, fc.entries())
}

func TestClient_MeasureAttachesDuration(t *testing.T) {
	fc := newFakeCollector(t)
	c := New(testConfig(fc.srv.URL))
	defer c.Close()

	c.Measure(context.Background(), "db_query", 1500*time.Millisecond, nil)
	c.Time(context.Background(), "render", nil, func() {})
	c.Flush(context.Background())

	entries := fc.entries()
	require.Len(t, entries, 2)
	require.NotNil(t, entries[0].DurationMS)
	require.InDelta(t, 1500, *entries[0].DurationMS, 0.001)
	require.Equal(t, "db_query", entries[0].Message)
	require.NotNil(t, entries[1].DurationMS)
}

func TestClient_CloseFlushesRemaining(t *testing.T) {
	fc := newFakeCollector(t)
	cfg := testConfig(fc.srv.URL)
	cfg.FlushInterval = time.Hour
	c := New(cfg)

	c.Info(context.Background(), "last words", nil)
	c.Close()

	require.Len(t, fc.entries(), 1)
}
