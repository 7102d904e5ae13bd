package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/loglens/loglens/internal/adapter/observability"
	"github.com/loglens/loglens/internal/agent"
	"github.com/loglens/loglens/internal/domain"
	"github.com/loglens/loglens/pkg/redact"
)

// Request is one analysis question, either fresh or a clarification
// follow-up within an existing conversation.
type Request struct {
	Question       string            `json:"question" validate:"required,min=1,max=2000"`
	MaxResults     int               `json:"max_results" validate:"omitempty,min=1,max=1000"`
	ConversationID string            `json:"conversation_id"`
	TimeRange      *domain.TimeRange `json:"time_range,omitempty"`
	Clarifications map[string]string `json:"clarifications,omitempty"`
}

// Result is the synchronous view of a finished run: the terminal payload
// plus the full event trail.
type Result struct {
	Events   []agent.Event
	Terminal agent.Event
}

// StreamService is the facade over the workflow engine: cache lookups,
// terminal-event shaping, cache population, and turn recording all live
// here so the WebSocket and HTTP surfaces behave identically.
type StreamService struct {
	engine *agent.Engine
	cache  *ResultCache
	conv   *ConversationService
}

// NewStreamService wires the facade.
func NewStreamService(engine *agent.Engine, cache *ResultCache, conv *ConversationService) *StreamService {
	return &StreamService{engine: engine, cache: cache, conv: conv}
}

// Run executes the workflow for one request, emitting events as they
// happen. The last emitted event is always terminal: complete,
// clarification_needed, error, or cancelled.
func (s *StreamService) Run(ctx domain.Context, req Request, emit agent.EmitFunc) {
	if emit == nil {
		emit = func(agent.Event) {}
	}
	if req.MaxResults <= 0 {
		req.MaxResults = 100
	}
	if req.ConversationID == "" {
		req.ConversationID = uuid.NewString()
	}

	key := s.cache.Key(req.Question, req.MaxResults)

	// cache only answers fresh questions; clarification follow-ups and
	// structured time ranges change the effective question
	cacheable := len(req.Clarifications) == 0 && req.TimeRange == nil
	if cacheable {
		if payload, ok := s.cache.Get(key); ok {
			observability.CacheHitsTotal.Inc()
			emit(agent.Event{Type: "cache_hit", Data: map[string]any{"cache_key": key}})
			emit(agent.Event{Type: "complete", Data: payload})
			return
		}
		observability.CacheMissesTotal.Inc()
	}

	st := &agent.State{
		Question:           req.Question,
		MaxResults:         req.MaxResults,
		ConversationID:     req.ConversationID,
		TimeRange:          req.TimeRange,
		UserClarifications: req.Clarifications,
		CacheKey:           key,
	}

	err := s.engine.Run(ctx, st, emit)
	outcome := s.finish(st, req, cacheable, key, err, emit)
	observability.WorkflowRunsTotal.WithLabelValues(outcome).Inc()
}

// finish emits the terminal event and performs post-run bookkeeping.
// Returns the outcome label for metrics.
func (s *StreamService) finish(st *agent.State, req Request, cacheable bool, key string, runErr error, emit agent.EmitFunc) string {
	switch {
	case runErr != nil && (errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded)):
		emit(agent.Event{Type: "cancelled", Data: map[string]any{
			"conversation_id": req.ConversationID,
		}})
		return "cancelled"

	case runErr != nil:
		env := domain.NewEnvelope(domain.CodeOf(runErr), redact.Error(runErr), nil)
		emit(agent.Event{Type: "error", Data: envelopeData(env)})
		return "error"

	case len(st.ClarificationsNeeded) > 0:
		emit(agent.Event{Type: "clarification_needed", Data: map[string]any{
			"clarifications":      st.ClarificationsNeeded,
			"clarification_count": st.ClarificationCount,
			"conversation_id":     req.ConversationID,
			"question":            st.Question,
		}})
		return "clarification"

	case st.ErrorMessage != "":
		env := domain.NewEnvelope(classifyFailure(st), st.ErrorMessage, map[string]any{
			"conversation_id": req.ConversationID,
		})
		emit(agent.Event{Type: "error", Data: envelopeData(env)})
		return "error"

	default:
		payload := s.completionPayload(st, req)
		emit(agent.Event{Type: "complete", Data: payload})
		if cacheable {
			s.cache.Set(key, payload)
		}
		count := 0
		if st.Formatted != nil {
			count = st.Formatted.Count
		}
		s.conv.RecordTurn(req.ConversationID, domain.ConversationTurn{
			Question:         st.Question,
			ResolvedQuestion: st.EffectiveQuestion(),
			SQL:              st.GeneratedSQL,
			ResultCount:      count,
			Focus:            st.CurrentFocus,
			Timestamp:        time.Now().UTC(),
		})
		return "success"
	}
}

func (s *StreamService) completionPayload(st *agent.State, req Request) map[string]any {
	payload := map[string]any{
		"question":          st.Question,
		"resolved_question": st.EffectiveQuestion(),
		"sql":               st.GeneratedSQL,
		"execution_time_ms": st.ExecutionTimeMS,
		"insight":           st.Insight,
		"conversation_id":   req.ConversationID,
	}
	if st.Formatted != nil {
		payload["results"] = st.Formatted.Rows
		payload["count"] = st.Formatted.Count
		payload["displayed"] = st.Formatted.Displayed
		payload["truncated"] = st.Formatted.Truncated
	} else {
		payload["results"] = []map[string]any{}
		payload["count"] = 0
		payload["displayed"] = 0
		payload["truncated"] = false
	}
	return payload
}

// Execute runs the workflow synchronously, collecting the event trail.
// The terminal event is the last one emitted.
func (s *StreamService) Execute(ctx domain.Context, req Request) Result {
	var res Result
	s.Run(ctx, req, func(e agent.Event) { res.Events = append(res.Events, e) })
	if n := len(res.Events); n > 0 {
		res.Terminal = res.Events[n-1]
	}
	return res
}

// Summarize proxies conversation summarization through the engine.
func (s *StreamService) Summarize(ctx domain.Context, messages []agent.SummaryMessage) (string, error) {
	out, err := s.engine.Summarize(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("op=stream.Summarize: %w", err)
	}
	return out, nil
}

// classifyFailure maps a terminal workflow failure to an error code using
// the state the failing stage left behind.
func classifyFailure(st *agent.State) domain.ErrorCode {
	msg := st.ErrorMessage
	switch {
	case strings.HasPrefix(msg, "SQL validation failed"):
		return domain.CodeInvalidSQL
	case strings.HasPrefix(msg, "스키마 조회 실패"):
		return domain.CodeDatabaseError
	case st.ValidationError == "LLM_TIMEOUT":
		return domain.CodeLLMTimeout
	case st.GeneratedSQL != "" && st.QueryResults == nil && st.Formatted == nil:
		// execute_query failed after a validated statement
		return domain.CodeDatabaseError
	case st.Insight != "" && strings.HasPrefix(st.Insight, "인사이트 생성 실패"):
		return domain.CodeLLMError
	default:
		return domain.CodeInternalError
	}
}

func envelopeData(env domain.ErrorEnvelope) map[string]any {
	data := map[string]any{
		"error_code": string(env.ErrorCode),
		"message":    env.Message,
		"request_id": env.RequestID,
		"timestamp":  env.Timestamp,
	}
	if env.Details != nil {
		data["details"] = env.Details
	}
	if env.RetryAfter != nil {
		data["retry_after"] = *env.RetryAfter
	}
	return data
}
