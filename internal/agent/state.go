// Package agent implements the staged text-to-SQL analysis workflow.
//
// The workflow is modeled as a graph of named nodes over a shared State.
// Each node is a function that mutates its slice of the state and appends
// events; conditional edges are explicit routing functions. Both streaming
// and synchronous execution observe the same event sequence.
package agent

import (
	"github.com/loglens/loglens/internal/domain"
)

// Event is one entry of the workflow's append-only event stream.
type Event struct {
	Type   string         `json:"type"`
	Node   string         `json:"node,omitempty"`
	Status string         `json:"status,omitempty"`
	Data   map[string]any `json:"data,omitempty"`
}

// Clarification is a structured question returned to the caller when the
// engine cannot safely choose defaults.
type Clarification struct {
	Type        string   `json:"type"`
	Field       string   `json:"field"`
	Question    string   `json:"question"`
	Options     []string `json:"options"`
	Required    bool     `json:"required"`
	AllowCustom bool     `json:"allow_custom,omitempty"`
}

// QueryAnalysis is the clarifier's structured view of the question.
type QueryAnalysis struct {
	HasService                bool     `json:"has_service"`
	ServiceType               string   `json:"service_type" jsonschema:"enum=specific,enum=aggregation,enum=none"`
	MentionedServices         []string `json:"mentioned_services,omitempty"`
	IsAggregation             bool     `json:"is_aggregation"`
	IsFilterQuery             bool     `json:"is_filter_query"`
	HasTime                   bool     `json:"has_time"`
	TimeClarity               string   `json:"time_clarity" jsonschema:"enum=clear,enum=ambiguous,enum=none"`
	NeedsServiceClarification bool     `json:"needs_service_clarification"`
	NeedsTimeClarification    bool     `json:"needs_time_clarification"`
	Reasoning                 string   `json:"reasoning,omitempty"`
}

// FilterExtraction is the structured output of the filter-extraction stage.
type FilterExtraction struct {
	Service    string  `json:"service,omitempty"`
	TimeRange  string  `json:"time_range,omitempty"`
	Confidence float64 `json:"confidence"`
}

// FormattedResults is the display block attached to a completed run.
type FormattedResults struct {
	Rows      []map[string]any `json:"rows"`
	Count     int              `json:"count"`
	Displayed int              `json:"displayed"`
	Truncated bool             `json:"truncated"`
}

// State is the workflow-local state threaded through the node graph.
// Events is append-only across nodes.
type State struct {
	// inputs
	Question           string
	MaxResults         int
	ConversationID     string
	TimeRange          *domain.TimeRange
	UserClarifications map[string]string
	ClarificationCount int

	// context resolution
	ResolvedQuestion string
	CurrentFocus     domain.Focus

	// filter extraction
	ExtractedService     string
	ExtractedTimeRange   *domain.TimeRange
	ExtractionConfidence float64

	// clarification
	ClarificationsNeeded []Clarification
	QueryAnalysis        *QueryAnalysis

	// schema
	SchemaInfo string
	SampleData string

	// SQL generation and validation
	GeneratedSQL    string
	ValidationError string
	RetryCount      int

	// execution
	QueryResults    []map[string]any
	ExecutionTimeMS float64
	ErrorMessage    string

	// final output
	Formatted *FormattedResults
	Insight   string

	// cache metadata
	CacheHit bool
	CacheKey string

	Events []Event
}

// EffectiveQuestion returns the resolved question when context resolution
// rewrote it, the original otherwise.
func (s *State) EffectiveQuestion() string {
	if s.ResolvedQuestion != "" {
		return s.ResolvedQuestion
	}
	return s.Question
}

func (s *State) appendEvent(e Event) { s.Events = append(s.Events, e) }
