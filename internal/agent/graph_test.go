package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loglens/loglens/internal/adapter/ai"
	"github.com/loglens/loglens/internal/domain"
)

// scriptedLLM answers prompts by matching markers in the prompt text, so a
// whole workflow run can be driven without a provider.
type scriptedLLM struct {
	answers map[string]string // prompt substring -> completion
	errs    map[string]error
}

func (s *scriptedLLM) Provider() string { return "scripted" }
func (s *scriptedLLM) Model() string    { return "scripted" }

func (s *scriptedLLM) Complete(_ domain.Context, req ai.CompletionRequest) (string, error) {
	for marker, err := range s.errs {
		if strings.Contains(req.User, marker) {
			return "", err
		}
	}
	for marker, out := range s.answers {
		if strings.Contains(req.User, marker) {
			return out, nil
		}
	}
	return "", errors.New("scriptedLLM: no answer for prompt")
}

type stubSchemaRepo struct{ err error }

func (s *stubSchemaRepo) TableSchema(domain.Context) (string, error) {
	return "Table: logs\nColumns:\n  - id (bigint, NOT NULL)\n", s.err
}
func (s *stubSchemaRepo) SampleData(domain.Context) (string, error) {
	return "Sample rows:\n  service=payment-api\n", s.err
}

type stubQueryRepo struct {
	rows []map[string]any
	err  error
	got  string
}

func (s *stubQueryRepo) ExecuteSQL(_ domain.Context, sql string) ([]map[string]any, float64, error) {
	s.got = sql
	if s.err != nil {
		return nil, 0, s.err
	}
	return s.rows, 12.34, nil
}

type stubLogRepo struct{ services []string }

func (s *stubLogRepo) InsertBatch(domain.Context, []domain.LogRecord) (int, error) { return 0, nil }
func (s *stubLogRepo) Stats(domain.Context) (domain.LogStats, error) {
	return domain.LogStats{}, nil
}
func (s *stubLogRepo) Services(domain.Context) ([]string, error) { return s.services, nil }

type stubConv struct {
	turns []domain.ConversationTurn
	focus domain.Focus
}

func (s *stubConv) Context(string) ([]domain.ConversationTurn, domain.Focus) {
	return s.turns, s.focus
}

const validSQL = "SELECT id, created_at FROM logs WHERE service = 'payment-api' AND deleted = FALSE ORDER BY created_at DESC LIMIT 100;"

func newTestEngine(llm ai.Client, qr domain.QueryRepository) *Engine {
	return NewEngine(&stubSchemaRepo{}, qr, &stubLogRepo{services: []string{"auth", "payment-api"}}, llm, &stubConv{}, 1024)
}

// happyLLM answers all five stages for a clean run.
func happyLLM() *scriptedLLM {
	return &scriptedLLM{answers: map[string]string{
		"해석된 질문":             "payment-api 최근 1시간 에러 로그",          // resolve_context
		"추출할 필터":             `{"service":"payment-api","time_range":"1h","confidence":0.9}`, // extract_filters
		"분석 항목":              `{"has_service":true,"service_type":"specific","is_aggregation":false,"is_filter_query":true,"has_time":true,"time_clarity":"clear","needs_service_clarification":false,"needs_time_clarification":false}`, // clarifier
		"Generate **ONLY the SQL": "```sql\n" + validSQL + "\n```",     // generate_sql
		"log analysis expert":  "## 요약\n에러가 집중되어 있습니다.",              // generate_insight
	}}
}

func eventTypes(events []Event) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.Type)
	}
	return out
}

func TestEngineRun_HappyPath(t *testing.T) {
	qr := &stubQueryRepo{rows: []map[string]any{{"id": int64(1)}, {"id": int64(2)}}}
	eng := newTestEngine(happyLLM(), qr)

	st := &State{Question: "payment-api 에러", MaxResults: 100, ConversationID: "c1"}
	var emitted []Event
	err := eng.Run(context.Background(), st, func(e Event) { emitted = append(emitted, e) })
	require.NoError(t, err)

	require.Empty(t, st.ErrorMessage)
	require.Equal(t, validSQL, st.GeneratedSQL)
	require.Equal(t, validSQL, qr.got)
	require.Len(t, st.QueryResults, 2)
	require.Equal(t, "payment-api", st.CurrentFocus.Service)
	require.Contains(t, st.Insight, "요약")
	require.NotNil(t, st.Formatted)
	require.Equal(t, 2, st.Formatted.Count)

	// stage visit order is reflected in the emitted node_start sequence
	var visited []string
	for _, e := range emitted {
		if e.Type == "node_start" {
			visited = append(visited, e.Node)
		}
	}
	require.Equal(t, []string{
		"resolve_context", "extract_filters", "clarifier", "retrieve_schema",
		"generate_sql", "validate_sql", "execute_query", "generate_insight",
	}, visited)

	assert.Contains(t, eventTypes(st.Events), "context_resolved")
	assert.Contains(t, eventTypes(st.Events), "filters_extracted")
	assert.Contains(t, eventTypes(st.Events), "clarification_skipped")
}

func TestEngineRun_ValidationRetryExhaustion(t *testing.T) {
	llm := happyLLM()
	// the model keeps proposing DML; validation must reject it three times
	llm.answers["Generate **ONLY the SQL"] = "```sql\nDELETE FROM logs WHERE deleted = FALSE;\n```"

	eng := newTestEngine(llm, &stubQueryRepo{})
	st := &State{Question: "delete logs from yesterday", MaxResults: 100}
	require.NoError(t, eng.Run(context.Background(), st, nil))

	require.Equal(t, 3, st.RetryCount)
	require.Contains(t, st.ErrorMessage, "SQL validation failed after 3 retries")
	require.Empty(t, st.QueryResults)

	failures := 0
	for _, e := range st.Events {
		if e.Type == "validation_failed" {
			failures++
		}
	}
	require.Equal(t, 3, failures)
}

func TestEngineRun_ClarificationEndsRun(t *testing.T) {
	llm := happyLLM()
	llm.answers["분석 항목"] = `{"has_service":false,"service_type":"none","is_aggregation":false,"is_filter_query":true,"has_time":false,"time_clarity":"none","needs_service_clarification":true,"needs_time_clarification":false}`

	eng := newTestEngine(llm, &stubQueryRepo{})
	st := &State{Question: "에러 로그 조회", MaxResults: 100}
	require.NoError(t, eng.Run(context.Background(), st, nil))

	require.Len(t, st.ClarificationsNeeded, 1)
	require.Equal(t, "service", st.ClarificationsNeeded[0].Field)
	require.Equal(t, []string{"auth", "payment-api", "전체"}, st.ClarificationsNeeded[0].Options)
	require.Equal(t, 1, st.ClarificationCount)
	// the run stops before schema retrieval
	require.Empty(t, st.SchemaInfo)
	require.Contains(t, eventTypes(st.Events), "clarification_needed")
}

func TestEngineRun_AggregationNeverClarifiesService(t *testing.T) {
	llm := happyLLM()
	llm.answers["분석 항목"] = `{"has_service":false,"service_type":"aggregation","is_aggregation":true,"is_filter_query":false,"has_time":true,"time_clarity":"clear","needs_service_clarification":true,"needs_time_clarification":false}`

	eng := newTestEngine(llm, &stubQueryRepo{rows: []map[string]any{}})
	st := &State{Question: "최근 24시간 서비스별 에러 개수", MaxResults: 100}
	require.NoError(t, eng.Run(context.Background(), st, nil))

	require.Empty(t, st.ClarificationsNeeded)
}

func TestEngineRun_ClarifierSkipsAfterTwoRounds(t *testing.T) {
	llm := happyLLM()
	eng := newTestEngine(llm, &stubQueryRepo{rows: []map[string]any{}})

	st := &State{Question: "로그", MaxResults: 100, ClarificationCount: 2}
	require.NoError(t, eng.Run(context.Background(), st, nil))

	var skipped *Event
	for i := range st.Events {
		if st.Events[i].Type == "clarification_skipped" {
			skipped = &st.Events[i]
			break
		}
	}
	require.NotNil(t, skipped)
	require.Equal(t, "max_attempts_reached", skipped.Data["reason"])
}

func TestEngineRun_ExecutionFailure(t *testing.T) {
	qr := &stubQueryRepo{err: errors.New("relation does not exist")}
	eng := newTestEngine(happyLLM(), qr)
	st := &State{Question: "payment-api 에러", MaxResults: 100}
	require.NoError(t, eng.Run(context.Background(), st, nil))

	require.NotEmpty(t, st.ErrorMessage)
	require.Empty(t, st.Insight)
	require.Contains(t, eventTypes(st.Events), "execution_failed")
}

func TestEngineRun_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	eng := newTestEngine(happyLLM(), &stubQueryRepo{})
	err := eng.Run(ctx, &State{Question: "q", MaxResults: 10}, nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestEngineRun_StructuredTimeRangeWins(t *testing.T) {
	llm := happyLLM()
	var seenPrompt string
	llm.answers["Generate **ONLY the SQL"] = "```sql\n" + validSQL + "\n```"

	qr := &stubQueryRepo{rows: []map[string]any{}}
	eng := newTestEngine(llm, qr)
	// wrap to capture the SQL prompt
	inner := eng.llm
	eng.llm = llmFunc(func(ctx domain.Context, req ai.CompletionRequest) (string, error) {
		if strings.Contains(req.User, "Generate **ONLY the SQL") {
			seenPrompt = req.User
		}
		return inner.Complete(ctx, req)
	})

	st := &State{
		Question:   "payment-api 에러",
		MaxResults: 100,
		TimeRange:  &domain.TimeRange{Relative: &domain.RelativeRange{Value: 48, Unit: domain.UnitHour}},
	}
	require.NoError(t, eng.Run(context.Background(), st, nil))
	require.Contains(t, seenPrompt, "INTERVAL '48 hours'")
}

type llmFunc func(domain.Context, ai.CompletionRequest) (string, error)

func (f llmFunc) Complete(ctx domain.Context, req ai.CompletionRequest) (string, error) {
	return f(ctx, req)
}
func (f llmFunc) Provider() string { return "func" }
func (f llmFunc) Model() string    { return "func" }
