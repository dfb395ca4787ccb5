package orchestrator

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Manager holds at most one live session per board and hands out the
// existing one on repeat requests.
type Manager struct {
	gw        Gateway
	subscribe SubscribeFunc
	deduper   Deduper
	logger    *log.Logger
	cfg       Config

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(gw Gateway, subscribe SubscribeFunc, deduper Deduper, logger *log.Logger, cfg Config) *Manager {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Manager{
		gw:        gw,
		subscribe: subscribe,
		deduper:   deduper,
		logger:    logger,
		cfg:       cfg,
		sessions:  make(map[string]*Session),
	}
}

// Session returns the live session for a board, opening one if needed.
// Concurrent callers for the same board share a single session; the loser
// of an open race closes its redundant copy.
func (m *Manager) Session(ctx context.Context, boardID string) (*Session, error) {
	m.mu.Lock()
	if s, ok := m.sessions[boardID]; ok {
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	s, err := Open(ctx, boardID, m.gw, m.subscribe, m.deduper, m.logger, m.cfg)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if existing, ok := m.sessions[boardID]; ok {
		m.mu.Unlock()
		s.Close()
		return existing, nil
	}
	m.sessions[boardID] = s
	m.mu.Unlock()
	return s, nil
}

// Peek returns the session for a board only if one is already open.
func (m *Manager) Peek(boardID string) (*Session, bool) {
	m.mu.Lock()
	s, ok := m.sessions[boardID]
	m.mu.Unlock()
	return s, ok
}

// Close tears down the session for one board.
func (m *Manager) Close(boardID string) {
	m.mu.Lock()
	s, ok := m.sessions[boardID]
	delete(m.sessions, boardID)
	m.mu.Unlock()
	if ok {
		s.Close()
	}
}

// CloseAll tears down every open session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()
	for _, s := range sessions {
		s.Close()
	}
}
