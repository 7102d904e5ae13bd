package service

import (
	"sync"
	"time"

	"github.com/loglens/loglens/internal/domain"
)

// maxTurns bounds each session's retained history.
const maxTurns = 10

type conversationSession struct {
	turns []domain.ConversationTurn
	focus domain.Focus
}

// ConversationService is the in-memory conversation store. Sessions are
// mutated only by appending a turn after a successful run; no persistence
// across restarts.
type ConversationService struct {
	mu       sync.Mutex
	sessions map[string]*conversationSession
}

// NewConversationService builds an empty store.
func NewConversationService() *ConversationService {
	return &ConversationService{sessions: make(map[string]*conversationSession)}
}

// Context returns the session's turn history (oldest first) and current
// focus. Unknown sessions yield empty values.
func (s *ConversationService) Context(conversationID string) ([]domain.ConversationTurn, domain.Focus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[conversationID]
	if !ok {
		return nil, domain.Focus{}
	}
	turns := make([]domain.ConversationTurn, len(sess.turns))
	copy(turns, sess.turns)
	return turns, sess.focus
}

// RecordTurn appends a completed turn and overwrites the session focus with
// the turn's focus snapshot. History is bounded to the last 10 turns.
func (s *ConversationService) RecordTurn(conversationID string, turn domain.ConversationTurn) {
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[conversationID]
	if !ok {
		sess = &conversationSession{}
		s.sessions[conversationID] = sess
	}
	sess.turns = append(sess.turns, turn)
	if len(sess.turns) > maxTurns {
		sess.turns = sess.turns[len(sess.turns)-maxTurns:]
	}
	sess.focus = turn.Focus
}

// Sessions reports the number of live sessions.
func (s *ConversationService) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
