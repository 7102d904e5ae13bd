package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/loglens/loglens/internal/adapter/ai"
	"github.com/loglens/loglens/internal/domain"
)

// ConversationContext supplies the session history and focus consumed by
// context resolution.
type ConversationContext interface {
	Context(conversationID string) ([]domain.ConversationTurn, domain.Focus)
}

// EmitFunc receives workflow events in emission order.
type EmitFunc func(Event)

// Engine wires the node graph to its dependencies.
type Engine struct {
	schemaRepo domain.SchemaRepository
	queryRepo  domain.QueryRepository
	logRepo    domain.LogRepository
	llm        ai.Client
	conv       ConversationContext
	maxTokens  int
}

// NewEngine constructs the workflow engine.
func NewEngine(schemaRepo domain.SchemaRepository, queryRepo domain.QueryRepository, logRepo domain.LogRepository, llm ai.Client, conv ConversationContext, maxTokens int) *Engine {
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	return &Engine{
		schemaRepo: schemaRepo,
		queryRepo:  queryRepo,
		logRepo:    logRepo,
		llm:        llm,
		conv:       conv,
		maxTokens:  maxTokens,
	}
}

// structured-output contracts, derived once from the static types
var (
	filterSchema   = ai.SchemaFor[FilterExtraction]()
	analysisSchema = ai.SchemaFor[QueryAnalysis]()
)

const endNode = ""

// graphNode is one vertex of the workflow: a state-mutating function plus a
// routing function naming the next vertex.
type graphNode struct {
	run  func(context.Context, *State)
	next func(*State) string
}

func (e *Engine) graph() map[string]graphNode {
	return map[string]graphNode{
		"resolve_context": {e.resolveContext, static("extract_filters")},
		"extract_filters": {e.extractFilters, static("clarifier")},
		"clarifier": {e.clarify, func(st *State) string {
			if len(st.ClarificationsNeeded) > 0 {
				// wait for the user's answers
				return endNode
			}
			return "retrieve_schema"
		}},
		"retrieve_schema": {e.retrieveSchema, func(st *State) string {
			if st.ErrorMessage != "" {
				return endNode
			}
			return "generate_sql"
		}},
		"generate_sql": {e.generateSQL, static("validate_sql")},
		"validate_sql": {e.validateSQL, func(st *State) string {
			if st.ValidationError == "" {
				return "execute_query"
			}
			if st.RetryCount < 3 {
				return "generate_sql"
			}
			st.ErrorMessage = fmt.Sprintf("SQL validation failed after 3 retries: %s", st.ValidationError)
			return endNode
		}},
		"execute_query": {e.executeQuery, func(st *State) string {
			if st.ErrorMessage != "" {
				return endNode
			}
			return "generate_insight"
		}},
		"generate_insight": {e.generateInsight, static(endNode)},
	}
}

func static(next string) func(*State) string { return func(*State) string { return next } }

// Run drives the workflow to completion, emitting node_start / node_end and
// every node-appended event in order. Cancellation is honored at stage
// boundaries.
func (e *Engine) Run(ctx context.Context, st *State, emit EmitFunc) error {
	if emit == nil {
		emit = func(Event) {}
	}
	nodes := e.graph()
	cur := "resolve_context"
	for cur != endNode {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("op=agent.Run: %w", err)
		}
		node, ok := nodes[cur]
		if !ok {
			return fmt.Errorf("op=agent.Run: unknown node %q: %w", cur, domain.ErrInternal)
		}

		emit(Event{Type: "node_start", Node: cur})
		before := len(st.Events)
		node.run(ctx, st)
		for _, ev := range st.Events[before:] {
			emit(ev)
		}
		emit(Event{Type: "node_end", Node: cur})

		cur = node.next(st)
	}
	return nil
}

// SummaryMessage is one turn of a conversation handed to Summarize.
type SummaryMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	SQL     string `json:"sql,omitempty"`
	Count   *int   `json:"count,omitempty"`
	Insight string `json:"insight,omitempty"`
}

// Summarize condenses an analyst conversation into a short Korean summary.
func (e *Engine) Summarize(ctx context.Context, messages []SummaryMessage) (string, error) {
	var b strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&b, "[%s] %s\n", m.Role, m.Content)
		if m.SQL != "" {
			fmt.Fprintf(&b, "  SQL: %s\n", m.SQL)
		}
		if m.Count != nil {
			fmt.Fprintf(&b, "  Results: %d건\n", *m.Count)
		}
		if m.Insight != "" {
			fmt.Fprintf(&b, "  Insight: %s\n", m.Insight)
		}
	}
	out, err := e.llm.Complete(ctx, ai.CompletionRequest{
		User:      fmt.Sprintf(summarizePrompt, b.String()),
		MaxTokens: e.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("op=agent.Summarize: %w", err)
	}
	return strings.TrimSpace(out), nil
}
