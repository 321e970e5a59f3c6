// Package workspace owns the durable records of the service: extraction
// sessions, pending uploads, and provider API keys.
package workspace

import (
	"database/sql"
	"log"
	"sync"
)

// Service handles session, upload, and API key persistence.
type Service struct {
	db     *sql.DB
	cipher *keyCipher

	subMu       sync.Mutex
	subscribers []func()
}

// NewService builds a workspace service. API keys are encrypted at rest when
// the cipher key environment variable is set; otherwise they are stored as-is
// so a local install works without setup.
func NewService(db *sql.DB) *Service {
	s := &Service{db: db}
	cipher, err := newKeyCipherFromEnv()
	if err != nil {
		log.Printf("api key encryption disabled: %v", err)
	} else {
		s.cipher = cipher
	}
	return s
}

// Subscribe registers a callback fired after every successful session
// mutation. This replaces a reactive live query: callers re-list on notify.
func (s *Service) Subscribe(fn func()) {
	if fn == nil {
		return
	}
	s.subMu.Lock()
	s.subscribers = append(s.subscribers, fn)
	s.subMu.Unlock()
}

func (s *Service) notifySessionsChanged() {
	s.subMu.Lock()
	subs := make([]func(), len(s.subscribers))
	copy(subs, s.subscribers)
	s.subMu.Unlock()
	for _, fn := range subs {
		fn()
	}
}
