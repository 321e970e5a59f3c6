// Package qa holds the transient question-answering conversations. History
// lives in memory only and is dropped whenever the active session changes.
package qa

import (
	"context"
	"sync"
	"time"

	"keenscan/internal/models"
	"keenscan/internal/service/ai"
	"keenscan/internal/service/flows"
	"keenscan/internal/service/workspace"
)

type Service struct {
	flows    *flows.Service
	sessions *workspace.Service

	mu       sync.RWMutex
	active   int64
	messages []models.Message
}

func NewService(fl *flows.Service, ws *workspace.Service) *Service {
	return &Service{flows: fl, sessions: ws}
}

// Ask answers a question against the stored text of the given session and
// records both conversation turns. Asking against a different session than
// the previous one clears the conversation first.
func (s *Service) Ask(ctx context.Context, sessionID int64, question string, answerType flows.AnswerType, creds ai.Credentials) (*models.Message, error) {
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	userMsg := models.Message{
		SessionID: sessionID,
		Role:      models.RoleUser,
		Content:   question,
		CreatedAt: time.Now().UTC(),
	}
	s.mu.Lock()
	if s.active != sessionID {
		s.messages = nil
		s.active = sessionID
	}
	s.messages = append(s.messages, userMsg)
	s.mu.Unlock()

	result, err := s.flows.AnswerQuestion(ctx, flows.AnswerRequest{
		Credentials: creds,
		Question:    question,
		Context:     session.Text,
		AnswerType:  answerType,
	})
	if err != nil {
		// The user turn stays in the history so a retry reads naturally.
		return nil, err
	}

	botMsg := models.Message{
		SessionID: sessionID,
		Role:      models.RoleBot,
		Content:   result.Answer,
		CreatedAt: time.Now().UTC(),
	}
	s.mu.Lock()
	if s.active == sessionID {
		s.messages = append(s.messages, botMsg)
	}
	s.mu.Unlock()
	return &botMsg, nil
}

// History returns a copy of the conversation for the session, or nil when the
// session is not the active one.
func (s *Service) History(sessionID int64) []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.active != sessionID {
		return nil
	}
	out := make([]models.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Clear drops the conversation for the session if it is active.
func (s *Service) Clear(sessionID int64) {
	s.mu.Lock()
	if s.active == sessionID {
		s.messages = nil
		s.active = 0
	}
	s.mu.Unlock()
}
