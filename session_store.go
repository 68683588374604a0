package ocrsession

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/sasha-s/go-deadlock"
	"github.com/segmentio/ksuid"
)

// ErrNotFound is returned for operations on a session or image the
// store has never seen, or has already deleted.
var ErrNotFound = errors.New("not found")

// SessionStore persists sessions and their image units. ListImages
// always returns members in ascending order index; everything the
// aggregator derives depends on that.
type SessionStore interface {
	CreateSession(ctx context.Context, session *OcrSession) error
	GetSession(ctx context.Context, id string) (*OcrSession, error)
	ListSessions(ctx context.Context) ([]*OcrSession, error)
	UpdateSession(ctx context.Context, session *OcrSession) error
	DeleteSession(ctx context.Context, id string) error

	AddImage(ctx context.Context, unit *ImageUnit) error
	GetImage(ctx context.Context, id string) (*ImageUnit, error)
	ListImages(ctx context.Context, sessionID string) ([]*ImageUnit, error)
	UpdateImage(ctx context.Context, unit *ImageUnit) error
	DeleteImage(ctx context.Context, id string) error
}

// MemorySessionStore is the in-process store, used by tests and small
// single-node deployments. go-deadlock stands in for sync so lock
// misuse surfaces during development runs.
type MemorySessionStore struct {
	mu       deadlock.RWMutex
	sessions map[string]OcrSession
	images   map[string]ImageUnit
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		sessions: make(map[string]OcrSession),
		images:   make(map[string]ImageUnit),
	}
}

func (s *MemorySessionStore) CreateSession(_ context.Context, session *OcrSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if session.ID == "" {
		session.ID = ksuid.New().String()
	}
	now := time.Now().UTC()
	session.CreatedAt = now
	session.UpdatedAt = now
	s.sessions[session.ID] = *session
	return nil
}

func (s *MemorySessionStore) GetSession(_ context.Context, id string) (*OcrSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "session %s", id)
	}
	return &session, nil
}

func (s *MemorySessionStore) ListSessions(_ context.Context) ([]*OcrSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*OcrSession, 0, len(s.sessions))
	for id := range s.sessions {
		session := s.sessions[id]
		out = append(out, &session)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemorySessionStore) UpdateSession(_ context.Context, session *OcrSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[session.ID]; !ok {
		return errors.Wrapf(ErrNotFound, "session %s", session.ID)
	}
	session.UpdatedAt = time.Now().UTC()
	s.sessions[session.ID] = *session
	return nil
}

func (s *MemorySessionStore) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return errors.Wrapf(ErrNotFound, "session %s", id)
	}
	delete(s.sessions, id)
	for imageID, unit := range s.images {
		if unit.SessionID == id {
			delete(s.images, imageID)
		}
	}
	return nil
}

func (s *MemorySessionStore) AddImage(_ context.Context, unit *ImageUnit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[unit.SessionID]; !ok {
		return errors.Wrapf(ErrNotFound, "session %s", unit.SessionID)
	}
	if unit.ID == "" {
		unit.ID = ksuid.New().String()
	}
	now := time.Now().UTC()
	unit.CreatedAt = now
	unit.UpdatedAt = now
	s.images[unit.ID] = *unit
	return nil
}

func (s *MemorySessionStore) GetImage(_ context.Context, id string) (*ImageUnit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	unit, ok := s.images[id]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "image %s", id)
	}
	return &unit, nil
}

func (s *MemorySessionStore) ListImages(_ context.Context, sessionID string) ([]*ImageUnit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return nil, errors.Wrapf(ErrNotFound, "session %s", sessionID)
	}
	out := make([]*ImageUnit, 0)
	for id := range s.images {
		if s.images[id].SessionID == sessionID {
			unit := s.images[id]
			out = append(out, &unit)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].OrderIndex < out[j].OrderIndex
	})
	return out, nil
}

func (s *MemorySessionStore) UpdateImage(_ context.Context, unit *ImageUnit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.images[unit.ID]; !ok {
		return errors.Wrapf(ErrNotFound, "image %s", unit.ID)
	}
	unit.UpdatedAt = time.Now().UTC()
	s.images[unit.ID] = *unit
	return nil
}

func (s *MemorySessionStore) DeleteImage(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.images[id]; !ok {
		return errors.Wrapf(ErrNotFound, "image %s", id)
	}
	delete(s.images, id)
	return nil
}
