package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/loglens/loglens/internal/domain"
)

// checkQueryRepo answers each detector query by matching a marker in the
// SQL text.
type checkQueryRepo struct {
	spike   []map[string]any
	slow    []map[string]any
	silent  []map[string]any
	failOn  string
	queries []string
}

func (r *checkQueryRepo) ExecuteSQL(_ domain.Context, sql string) ([]map[string]any, float64, error) {
	r.queries = append(r.queries, sql)
	if r.failOn != "" && strings.Contains(sql, r.failOn) {
		return nil, 0, errors.New("query failed")
	}
	switch {
	case strings.Contains(sql, "INTERVAL '35 minutes'"):
		return r.spike, 1, nil
	case strings.Contains(sql, "duration_ms > 2000"):
		return r.slow, 1, nil
	case strings.Contains(sql, "INTERVAL '1 hour'"):
		return r.silent, 1, nil
	}
	return nil, 0, errors.New("unexpected query")
}

func quietRepo() *checkQueryRepo {
	return &checkQueryRepo{
		spike: []map[string]any{{"recent": int64(2), "baseline": int64(2)}},
	}
}

func TestAlerting_QuietSystemEmitsNothing(t *testing.T) {
	a := NewAlertingService(quietRepo(), NewHub())
	alerts, err := a.RunChecks(context.Background())
	require.NoError(t, err)
	require.Empty(t, alerts)
	require.Empty(t, a.History(0))
}

func TestAlerting_ErrorSpikeSeverity(t *testing.T) {
	tests := []struct {
		name     string
		recent   int64
		baseline int64
		want     domain.AlertSeverity
		none     bool
	}{
		{name: "under threshold", recent: 11, baseline: 10, none: true},
		{name: "warning", recent: 13, baseline: 10, want: domain.SeverityWarning},
		{name: "critical", recent: 20, baseline: 10, want: domain.SeverityCritical},
		{name: "zero baseline skipped", recent: 100, baseline: 0, none: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := quietRepo()
			repo.spike = []map[string]any{{"recent": tt.recent, "baseline": tt.baseline}}
			a := NewAlertingService(repo, NewHub())

			alerts, err := a.RunChecks(context.Background())
			require.NoError(t, err)
			if tt.none {
				require.Empty(t, alerts)
				return
			}
			require.Len(t, alerts, 1)
			require.Equal(t, domain.AlertErrorRateSpike, alerts[0].Type)
			require.Equal(t, tt.want, alerts[0].Severity)
		})
	}
}

func TestAlerting_SlowAPIsAndServiceDown(t *testing.T) {
	repo := quietRepo()
	repo.slow = []map[string]any{
		{"path": "/api/checkout", "service": "payment-api", "cnt": int64(5), "avg_ms": 3100.5},
	}
	repo.silent = []map[string]any{
		{"service": "auth"},
		{"service": "billing"},
	}
	hub := NewHub()
	sub := hub.Subscribe()
	defer hub.Unsubscribe(sub)

	a := NewAlertingService(repo, hub)
	alerts, err := a.RunChecks(context.Background())
	require.NoError(t, err)
	require.Len(t, alerts, 2)

	require.Equal(t, domain.AlertSlowAPI, alerts[0].Type)
	require.Equal(t, domain.SeverityWarning, alerts[0].Severity)

	require.Equal(t, domain.AlertServiceDown, alerts[1].Type)
	require.Equal(t, domain.SeverityCritical, alerts[1].Severity)
	require.Equal(t, []string{"auth", "billing"}, alerts[1].Payload["services"])

	// both alerts reached the subscriber
	require.Equal(t, domain.AlertSlowAPI, (<-sub.C).Type)
	require.Equal(t, domain.AlertServiceDown, (<-sub.C).Type)
}

func TestAlerting_FailedCheckDoesNotBlindOthers(t *testing.T) {
	repo := quietRepo()
	repo.failOn = "duration_ms > 2000"
	repo.silent = []map[string]any{{"service": "auth"}}
	a := NewAlertingService(repo, NewHub())

	alerts, err := a.RunChecks(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "op=alerting.slow_apis")

	// the other two checks still ran and the service-down alert still fired
	require.Len(t, repo.queries, 3)
	require.Len(t, alerts, 1)
	require.Equal(t, domain.AlertServiceDown, alerts[0].Type)
	require.Len(t, a.History(0), 1)
}

func TestAlerting_HistoryBoundedAndNewestFirst(t *testing.T) {
	repo := quietRepo()
	repo.silent = []map[string]any{{"service": "auth"}}
	a := NewAlertingService(repo, NewHub())

	for range maxAlertHistory + 5 {
		_, err := a.RunChecks(context.Background())
		require.NoError(t, err)
	}

	all := a.History(0)
	require.Len(t, all, maxAlertHistory)

	limited := a.History(3)
	require.Len(t, limited, 3)
	require.False(t, limited[0].Timestamp.Before(limited[2].Timestamp))
}
