package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/loglens/loglens/internal/adapter/ai"
	"github.com/loglens/loglens/internal/domain"
	"github.com/loglens/loglens/pkg/redact"
)

// resolveContext always runs: it asks the LLM to rewrite the question with
// references ("그 에러", "그 서비스", "그때") replaced by their concrete
// referents from the session's focus and recent turns.
func (e *Engine) resolveContext(ctx context.Context, st *State) {
	history, focus := e.conv.Context(st.ConversationID)
	st.CurrentFocus = focus
	// only the last three turns feed the prompt
	if len(history) > 3 {
		history = history[len(history)-3:]
	}

	prompt := fmt.Sprintf(contextResolutionPrompt, formatHistory(history), formatFocus(focus), st.Question)
	resolved, err := e.llm.Complete(ctx, ai.CompletionRequest{User: prompt, MaxTokens: e.maxTokens})
	if err != nil {
		slog.Warn("context resolution failed, using original question", slog.Any("error", err))
		st.ResolvedQuestion = st.Question
		st.appendEvent(Event{
			Type: "context_resolved", Node: "resolve_context", Status: "completed",
			Data: map[string]any{
				"resolution_needed": false,
				"original_question": st.Question,
				"error":             redact.Error(err),
			},
		})
		return
	}

	resolved = strings.TrimSpace(resolved)
	if resolved == "" {
		resolved = st.Question
	}
	st.ResolvedQuestion = resolved
	modified := resolved != st.Question

	data := map[string]any{
		"resolution_needed": modified,
		"original_question": st.Question,
		"focus":             focus,
	}
	if modified {
		data["resolved_question"] = resolved
	}
	st.appendEvent(Event{Type: "context_resolved", Node: "resolve_context", Status: "completed", Data: data})
}

// extractFilters derives (service, time range, confidence) from the
// question. A client-supplied structured TimeRange wins for the time
// dimension; the rest comes from the LLM under a JSON-schema contract.
func (e *Engine) extractFilters(ctx context.Context, st *State) {
	prompt := fmt.Sprintf(filterExtractionPrompt, timeNow().Format("2006-01-02"), st.EffectiveQuestion())

	out, err := e.llm.Complete(ctx, ai.CompletionRequest{
		User:       prompt,
		MaxTokens:  e.maxTokens,
		JSONSchema: filterSchema,
	})
	if err != nil {
		st.appendEvent(Event{
			Type: "filters_extracted", Node: "extract_filters",
			Data: map[string]any{"service": nil, "time_range": nil, "confidence": 0.0, "error": redact.Error(err)},
		})
		return
	}

	extracted, err := ai.DecodeJSON[FilterExtraction](out)
	if err != nil {
		st.appendEvent(Event{
			Type: "filters_extracted", Node: "extract_filters",
			Data: map[string]any{"service": nil, "time_range": nil, "confidence": 0.0, "error": "unparseable extraction"},
		})
		return
	}

	st.ExtractedService = extracted.Service
	st.ExtractionConfidence = extracted.Confidence
	if st.TimeRange == nil && extracted.TimeRange != "" {
		// out-of-bounds LLM output is discarded, not surfaced
		st.ExtractedTimeRange = ParseShortRange(extracted.TimeRange)
	}

	st.appendEvent(Event{
		Type: "filters_extracted", Node: "extract_filters",
		Data: map[string]any{
			"service":    orNil(extracted.Service),
			"time_range": orNil(extracted.TimeRange),
			"confidence": extracted.Confidence,
		},
	})
}

// clarify analyzes the question and issues structured clarifications when
// defaults cannot be chosen safely. After two clarifications in one run the
// stage no-ops to avoid loops.
func (e *Engine) clarify(ctx context.Context, st *State) {
	if st.ClarificationCount >= 2 {
		st.appendEvent(Event{
			Type: "clarification_skipped", Node: "clarifier",
			Data: map[string]any{
				"reason":  "max_attempts_reached",
				"message": "재질문 최대 횟수 초과 - 현재 정보로 진행합니다",
			},
		})
		return
	}

	out, err := e.llm.Complete(ctx, ai.CompletionRequest{
		User:       fmt.Sprintf(clarifierPrompt, st.EffectiveQuestion()),
		MaxTokens:  e.maxTokens,
		JSONSchema: analysisSchema,
	})
	if err != nil {
		// analysis failure passes the question through rather than blocking
		return
	}
	analysis, err := ai.DecodeJSON[QueryAnalysis](out)
	if err != nil {
		return
	}
	st.QueryAnalysis = &analysis

	var clarifications []Clarification

	// aggregation queries analyze all services; only filter queries without
	// a service get a service clarification
	if analysis.NeedsServiceClarification && !analysis.IsAggregation && st.UserClarifications["service"] == "" {
		services, err := e.logRepo.Services(ctx)
		if err != nil {
			slog.Warn("service list unavailable, skipping clarification", slog.Any("error", err))
		} else if len(services) > 0 {
			clarifications = append(clarifications, Clarification{
				Type:     "missing_info",
				Field:    "service",
				Question: "어떤 서비스의 로그를 분석할까요?",
				Options:  append(services, "전체"),
				Required: false,
			})
		}
	}

	// an explicit structured range from the client settles the time dimension
	timeSettled := st.TimeRange != nil || st.UserClarifications["time"] != ""
	if analysis.NeedsTimeClarification && !timeSettled {
		switch {
		case analysis.TimeClarity == "ambiguous":
			clarifications = append(clarifications, Clarification{
				Type:        "ambiguous_time",
				Field:       "time",
				Question:    "시간 범위를 명확히 해주세요",
				Options:     []string{"최근 1시간", "최근 6시간", "최근 24시간", "최근 48시간", "최근 7일", "사용자 지정..."},
				Required:    true,
				AllowCustom: true,
			})
		case analysis.TimeClarity == "none" && analysis.IsAggregation:
			clarifications = append(clarifications, Clarification{
				Type:        "missing_info",
				Field:       "time",
				Question:    "분석할 기간을 선택하세요",
				Options:     []string{"최근 1시간", "최근 6시간", "최근 24시간", "최근 48시간", "최근 7일", "사용자 지정...", "전체"},
				Required:    false,
				AllowCustom: true,
			})
		}
	}

	if len(clarifications) > 0 {
		st.ClarificationsNeeded = clarifications
		st.ClarificationCount++
		st.appendEvent(Event{
			Type: "clarification_needed", Node: "clarifier",
			Data: map[string]any{
				"questions": clarifications,
				"count":     len(clarifications),
				"analysis":  analysis,
			},
		})
		return
	}

	st.appendEvent(Event{
		Type: "clarification_skipped", Node: "clarifier",
		Data: map[string]any{"reason": "no_clarification_needed", "analysis": analysis},
	})
}

// retrieveSchema loads the table description and the diverse sample.
func (e *Engine) retrieveSchema(ctx context.Context, st *State) {
	schema, err := e.schemaRepo.TableSchema(ctx)
	if err == nil {
		st.SchemaInfo = schema
		st.SampleData, err = e.schemaRepo.SampleData(ctx)
	}
	if err != nil {
		st.ErrorMessage = "스키마 조회 실패: " + redact.Error(err)
		st.appendEvent(Event{
			Type: "node_complete", Node: "retrieve_schema", Status: "failed",
			Data: map[string]any{"error": redact.Error(err)},
		})
		return
	}
	st.appendEvent(Event{
		Type: "node_complete", Node: "retrieve_schema", Status: "completed",
		Data: map[string]any{"schema_retrieved": true, "sample_count": 10},
	})
}

// generateSQL asks the LLM for the statement and extracts it from the
// completion.
func (e *Engine) generateSQL(ctx context.Context, st *State) {
	timeHint := ""
	if tr := st.effectiveTimeRange(); tr != nil {
		timeHint = fmt.Sprintf("\n# Time Range\nUse this exact time condition: %s\n", tr.SQLCondition())
	}
	prompt := fmt.Sprintf(sqlGenerationPrompt,
		st.SchemaInfo, st.SampleData, st.MaxResults, st.EffectiveQuestion(), timeHint)

	out, err := e.llm.Complete(ctx, ai.CompletionRequest{User: prompt, MaxTokens: e.maxTokens})
	if err != nil {
		st.ErrorMessage = redact.Error(err)
		st.ValidationError = "LLM_TIMEOUT"
		st.RetryCount++
		st.appendEvent(Event{
			Type: "node_complete", Node: "generate_sql", Status: "failed",
			Data: map[string]any{"error": redact.Error(err), "error_type": "LLM_TIMEOUT"},
		})
		return
	}

	st.GeneratedSQL = ExtractSQL(out)
	st.appendEvent(Event{
		Type: "node_complete", Node: "generate_sql", Status: "completed",
		Data: map[string]any{"sql_generated": true, "sql_length": len(st.GeneratedSQL)},
	})
}

// validateSQL runs safety then syntax validation; failures loop back into
// regeneration via the routing function.
func (e *Engine) validateSQL(_ context.Context, st *State) {
	if err := ValidateSQLSafety(st.GeneratedSQL); err != nil {
		st.ValidationError = redact.Error(err)
		st.RetryCount++
		st.appendEvent(Event{
			Type: "validation_failed", Node: "validate_sql", Status: "failed",
			Data: map[string]any{"error": st.ValidationError, "retry_count": st.RetryCount},
		})
		return
	}
	if err := ValidateSQLSyntax(st.GeneratedSQL); err != nil {
		st.ValidationError = redact.Error(err)
		st.RetryCount++
		st.appendEvent(Event{
			Type: "validation_failed", Node: "validate_sql", Status: "failed",
			Data: map[string]any{"error": st.ValidationError, "retry_count": st.RetryCount},
		})
		return
	}
	st.ValidationError = ""
	st.appendEvent(Event{
		Type: "node_complete", Node: "validate_sql", Status: "completed",
		Data: map[string]any{"validation_passed": true},
	})
}

// executeQuery runs the validated statement and captures the focus entities
// for the conversation store.
func (e *Engine) executeQuery(ctx context.Context, st *State) {
	rows, elapsed, err := e.queryRepo.ExecuteSQL(ctx, st.GeneratedSQL)
	if err != nil {
		st.ErrorMessage = redact.Error(err)
		st.appendEvent(Event{
			Type: "execution_failed", Node: "execute_query", Status: "failed",
			Data: map[string]any{"error": st.ErrorMessage},
		})
		return
	}

	st.QueryResults = rows
	st.ExecutionTimeMS = elapsed
	st.Formatted = FormatResults(rows, st.MaxResults)
	st.ErrorMessage = ""

	focus := ExtractFocus(st.GeneratedSQL)
	if !focus.IsZero() {
		st.CurrentFocus = focus
	}

	st.appendEvent(Event{
		Type: "node_complete", Node: "execute_query", Status: "completed",
		Data: map[string]any{"result_count": len(rows), "execution_time_ms": elapsed},
	})
}

// generateInsight summarizes the results in prose using at most the first
// 10 rows plus count and elapsed time.
func (e *Engine) generateInsight(ctx context.Context, st *State) {
	preview := st.QueryResults
	if len(preview) > 10 {
		preview = preview[:10]
	}
	previewJSON, _ := json.Marshal(preview)

	prompt := fmt.Sprintf(insightGenerationPrompt,
		st.Question, st.GeneratedSQL, string(previewJSON), len(st.QueryResults), st.ExecutionTimeMS)

	out, err := e.llm.Complete(ctx, ai.CompletionRequest{User: prompt, MaxTokens: e.maxTokens})
	if err != nil {
		st.Insight = "인사이트 생성 실패: " + redact.Error(err)
		st.ErrorMessage = redact.Error(err)
		st.appendEvent(Event{
			Type: "node_complete", Node: "generate_insight", Status: "failed",
			Data: map[string]any{"error": redact.Error(err), "error_type": "LLM_TIMEOUT"},
		})
		return
	}

	st.Insight = out
	st.appendEvent(Event{
		Type: "node_complete", Node: "generate_insight", Status: "completed",
		Data: map[string]any{"insight_generated": true},
	})
}

func (st *State) effectiveTimeRange() *domain.TimeRange {
	if st.TimeRange != nil {
		return st.TimeRange
	}
	return st.ExtractedTimeRange
}

func formatHistory(turns []domain.ConversationTurn) string {
	if len(turns) == 0 {
		return "No previous conversation"
	}
	var b strings.Builder
	for i, t := range turns {
		fmt.Fprintf(&b, "%d. Q: %s\n   SQL: %s\n   Results: %d건\n", i+1, t.Question, t.SQL, t.ResultCount)
	}
	return b.String()
}

func formatFocus(f domain.Focus) string {
	parts := make([]string, 0, 3)
	if f.Service != "" {
		parts = append(parts, "service="+f.Service)
	}
	if f.ErrorType != "" {
		parts = append(parts, "error_type="+f.ErrorType)
	}
	if f.TimeRange != "" {
		parts = append(parts, "time_range="+f.TimeRange)
	}
	if len(parts) == 0 {
		return "(no focus)"
	}
	return strings.Join(parts, ", ")
}

func orNil(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// timeNow is a test seam.
var timeNow = time.Now
