package httpserver

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loglens/loglens/internal/config"
	"github.com/loglens/loglens/internal/domain"
)

type captureLogRepo struct {
	records []domain.LogRecord
	err     error
	stats   domain.LogStats
}

func (r *captureLogRepo) InsertBatch(_ domain.Context, records []domain.LogRecord) (int, error) {
	if r.err != nil {
		return 0, r.err
	}
	r.records = append(r.records, records...)
	return len(records), nil
}

func (r *captureLogRepo) Stats(domain.Context) (domain.LogStats, error) {
	return r.stats, r.err
}

func (r *captureLogRepo) Services(domain.Context) ([]string, error) { return nil, r.err }

func postLogs(t *testing.T, srv *CollectorServer, body []byte, gzipped bool) *httptest.ResponseRecorder {
	t.Helper()
	if gzipped {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		_, err := zw.Write(body)
		require.NoError(t, err)
		require.NoError(t, zw.Close())
		body = buf.Bytes()
	}
	req := httptest.NewRequest(http.MethodPost, "/logs", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if gzipped {
		req.Header.Set("Content-Encoding", "gzip")
	}
	rec := httptest.NewRecorder()
	srv.IngestHandler().ServeHTTP(rec, req)
	return rec
}

func TestIngest_StoresBatchAndReportsCount(t *testing.T) {
	repo := &captureLogRepo{}
	srv := NewCollectorServer(config.Config{}, repo, nil)

	body := []byte(`{"logs":[
		{"level":"ERROR","log_type":"BACKEND","service":"auth","message":"boom","created_at":1755907200.5},
		{"level":"INFO","service":"auth","message":"ok"}
	]}`)
	rec := postLogs(t, srv, body, false)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "ok", resp["status"])
	require.EqualValues(t, 2, resp["count"])

	require.Len(t, repo.records, 2)
	require.Equal(t, domain.LevelError, repo.records[0].Level)
	require.Equal(t, time.Unix(1755907200, 500000000).UTC(), repo.records[0].CreatedAt)
}

func TestIngest_GzipBody(t *testing.T) {
	repo := &captureLogRepo{}
	srv := NewCollectorServer(config.Config{}, repo, nil)

	rec := postLogs(t, srv, []byte(`{"logs":[{"service":"auth","message":"hi"}]}`), true)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, repo.records, 1)
}

func TestIngest_CoercesDefaults(t *testing.T) {
	repo := &captureLogRepo{}
	srv := NewCollectorServer(config.Config{}, repo, nil)

	rec := postLogs(t, srv, []byte(`{"logs":[{"level":"VERBOSE","log_type":"LAMBDA","message":"m"}]}`), false)
	require.Equal(t, http.StatusOK, rec.Code)

	got := repo.records[0]
	require.Equal(t, domain.LevelInfo, got.Level)
	require.Equal(t, domain.TypeBackend, got.LogType)
	require.Equal(t, "unknown", got.Service)
	require.Equal(t, "development", got.Environment)
	require.Equal(t, "v0.0.0-dev", got.ServiceVersion)
	require.False(t, got.CreatedAt.IsZero())
	require.False(t, got.Deleted)
}

func TestIngest_EmptyBatchIsANoOp(t *testing.T) {
	repo := &captureLogRepo{}
	srv := NewCollectorServer(config.Config{}, repo, nil)

	rec := postLogs(t, srv, []byte(`{"logs":[]}`), false)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "ok", resp["status"])
	require.EqualValues(t, 0, resp["count"])
	require.Empty(t, repo.records)
}

func TestIngest_RejectsMissingLogsAndMalformed(t *testing.T) {
	srv := NewCollectorServer(config.Config{}, &captureLogRepo{}, nil)

	rec := postLogs(t, srv, []byte(`{}`), false)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var env domain.ErrorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.Equal(t, domain.CodeInvalidRequest, env.ErrorCode)
	require.NotEmpty(t, env.RequestID)

	rec = postLogs(t, srv, []byte(`{"logs":null}`), false)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postLogs(t, srv, []byte(`{not json`), false)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// gzip header with a plain body
	req := httptest.NewRequest(http.MethodPost, "/logs", strings.NewReader(`{"logs":[{"message":"m"}]}`))
	req.Header.Set("Content-Encoding", "gzip")
	out := httptest.NewRecorder()
	srv.IngestHandler().ServeHTTP(out, req)
	require.Equal(t, http.StatusBadRequest, out.Code)
}

func TestIngest_DatabaseFailure(t *testing.T) {
	repo := &captureLogRepo{err: errors.New("pq: connection refused")}
	srv := NewCollectorServer(config.Config{}, repo, nil)

	rec := postLogs(t, srv, []byte(`{"logs":[{"message":"m"}]}`), false)
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var env domain.ErrorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.Equal(t, domain.CodeDatabaseError, env.ErrorCode)
}

func TestIngest_NotifiesAnalysisCache(t *testing.T) {
	var calls atomic.Int32
	notify := make(chan struct{}, 1)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/invalidate_cache", r.URL.Path)
		calls.Add(1)
		notify <- struct{}{}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	srv := NewCollectorServer(config.Config{AnalysisURL: ts.URL}, &captureLogRepo{}, nil)
	rec := postLogs(t, srv, []byte(`{"logs":[{"message":"m"}]}`), false)
	require.Equal(t, http.StatusOK, rec.Code)

	select {
	case <-notify:
	case <-time.After(2 * time.Second):
		t.Fatal("cache invalidation callback never fired")
	}
	require.EqualValues(t, 1, calls.Load())
}

func TestCollectorStats(t *testing.T) {
	repo := &captureLogRepo{stats: domain.LogStats{TotalLogs: 42, ErrorsLastHour: 3}}
	srv := NewCollectorServer(config.Config{}, repo, nil)

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	srv.StatsHandler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats domain.LogStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	require.EqualValues(t, 42, stats.TotalLogs)
}
