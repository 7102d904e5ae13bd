package service

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loglens/loglens/internal/adapter/observability"
	"github.com/loglens/loglens/internal/domain"
)

// maxAlertHistory bounds the in-memory alert history.
const maxAlertHistory = 100

// AlertingService is the anomaly detector: three SQL checks against the log
// store, each producing at most one alert per tick. Alerts go into bounded
// history and out to the hub's subscribers.
type AlertingService struct {
	repo domain.QueryRepository
	hub  *Hub

	mu      sync.Mutex
	history []domain.Alert
}

// NewAlertingService constructs the detector.
func NewAlertingService(repo domain.QueryRepository, hub *Hub) *AlertingService {
	return &AlertingService{repo: repo, hub: hub}
}

const errorSpikeSQL = `
SELECT
  (SELECT COUNT(*) FROM logs
     WHERE level IN ('ERROR','FATAL') AND deleted = FALSE
       AND created_at >= NOW() - INTERVAL '5 minutes') AS recent,
  (SELECT COUNT(*) FROM logs
     WHERE level IN ('ERROR','FATAL') AND deleted = FALSE
       AND created_at >= NOW() - INTERVAL '35 minutes'
       AND created_at < NOW() - INTERVAL '30 minutes') AS baseline`

const slowAPISQL = `
SELECT path, service, COUNT(*) AS cnt, ROUND(AVG(duration_ms)::numeric, 1) AS avg_ms
FROM logs
WHERE duration_ms > 2000
  AND path IS NOT NULL
  AND deleted = FALSE
  AND created_at >= NOW() - INTERVAL '10 minutes'
GROUP BY path, service
HAVING COUNT(*) >= 3
ORDER BY avg_ms DESC
LIMIT 5`

const silentServicesSQL = `
SELECT service FROM logs
WHERE deleted = FALSE AND created_at >= NOW() - INTERVAL '1 hour'
GROUP BY service
HAVING MAX(created_at) < NOW() - INTERVAL '5 minutes'
ORDER BY service`

// RunChecks executes all three checks once and returns the alerts emitted.
// Checks run independently; one failing query does not blind the others.
func (a *AlertingService) RunChecks(ctx domain.Context) ([]domain.Alert, error) {
	var alerts []domain.Alert
	var errs []error

	for _, check := range []func(domain.Context) (*domain.Alert, error){
		a.checkErrorSpike,
		a.checkSlowAPIs,
		a.checkServiceDown,
	} {
		alert, err := check(ctx)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if alert != nil {
			alerts = append(alerts, *alert)
		}
	}

	for _, alert := range alerts {
		a.record(alert)
		a.hub.Broadcast(alert)
		observability.ObserveAlert(string(alert.Type), string(alert.Severity))
		slog.Warn("anomaly alert",
			slog.String("type", string(alert.Type)),
			slog.String("severity", string(alert.Severity)),
			slog.String("message", alert.Message))
	}
	return alerts, errors.Join(errs...)
}

// checkErrorSpike compares the last 5 minutes against the 30-35 minutes-ago
// baseline. A zero baseline is skipped.
func (a *AlertingService) checkErrorSpike(ctx domain.Context) (*domain.Alert, error) {
	rows, _, err := a.repo.ExecuteSQL(ctx, errorSpikeSQL)
	if err != nil {
		return nil, fmt.Errorf("op=alerting.error_spike: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	recent := asFloat(rows[0]["recent"])
	baseline := asFloat(rows[0]["baseline"])
	if baseline <= 0 {
		return nil, nil
	}
	spike := (recent - baseline) / baseline * 100
	if spike <= 10 {
		return nil, nil
	}
	severity := domain.SeverityWarning
	if spike > 50 {
		severity = domain.SeverityCritical
	}
	return &domain.Alert{
		Type:     domain.AlertErrorRateSpike,
		Severity: severity,
		Message:  fmt.Sprintf("에러율 급증 감지: 최근 5분간 %.0f건 (기준 대비 +%.1f%%)", recent, spike),
		Payload: map[string]any{
			"recent_count":     recent,
			"baseline_count":   baseline,
			"spike_percentage": spike,
		},
		Timestamp: time.Now().UTC(),
	}, nil
}

// checkSlowAPIs flags (path, service) groups with >=3 calls above 2s in the
// last 10 minutes, top 5 by average duration.
func (a *AlertingService) checkSlowAPIs(ctx domain.Context) (*domain.Alert, error) {
	rows, _, err := a.repo.ExecuteSQL(ctx, slowAPISQL)
	if err != nil {
		return nil, fmt.Errorf("op=alerting.slow_apis: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &domain.Alert{
		Type:      domain.AlertSlowAPI,
		Severity:  domain.SeverityWarning,
		Message:   fmt.Sprintf("느린 API 감지: %d개 엔드포인트가 평균 2초를 초과했습니다", len(rows)),
		Payload:   map[string]any{"slow_apis": rows},
		Timestamp: time.Now().UTC(),
	}, nil
}

// checkServiceDown lists services active in the last hour with no logs in
// the last 5 minutes.
func (a *AlertingService) checkServiceDown(ctx domain.Context) (*domain.Alert, error) {
	rows, _, err := a.repo.ExecuteSQL(ctx, silentServicesSQL)
	if err != nil {
		return nil, fmt.Errorf("op=alerting.service_down: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	services := make([]string, 0, len(rows))
	for _, r := range rows {
		if s, ok := r["service"].(string); ok {
			services = append(services, s)
		}
	}
	return &domain.Alert{
		Type:      domain.AlertServiceDown,
		Severity:  domain.SeverityCritical,
		Message:   fmt.Sprintf("서비스 무응답 감지: %d개 서비스가 5분 이상 로그를 보내지 않았습니다", len(services)),
		Payload:   map[string]any{"services": services},
		Timestamp: time.Now().UTC(),
	}, nil
}

func (a *AlertingService) record(alert domain.Alert) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = append(a.history, alert)
	if len(a.history) > maxAlertHistory {
		a.history = a.history[len(a.history)-maxAlertHistory:]
	}
}

// History returns up to limit most recent alerts, newest first.
func (a *AlertingService) History(limit int) []domain.Alert {
	a.mu.Lock()
	defer a.mu.Unlock()
	if limit <= 0 || limit > len(a.history) {
		limit = len(a.history)
	}
	out := make([]domain.Alert, 0, limit)
	for i := len(a.history) - 1; i >= len(a.history)-limit; i-- {
		out = append(out, a.history[i])
	}
	return out
}

func asFloat(v any) float64 {
	switch t := v.(type) {
	case int64:
		return float64(t)
	case float64:
		return t
	case int:
		return float64(t)
	default:
		return 0
	}
}
