package conversation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/send-money-agent/internal/transfer"
)

// Session is the conversation-scoped transcript and transfer state.
type Session struct {
	ID         string         `json:"session_id"`
	State      transfer.State `json:"state"`
	Transcript []Turn         `json:"transcript"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

func newSession(id string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:         id,
		State:      transfer.NewState(),
		Transcript: []Turn{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Clone copies the session so callers never share the stored value.
func (s *Session) Clone() *Session {
	out := *s
	out.State = s.State.Clone()
	out.Transcript = make([]Turn, len(s.Transcript))
	for i, turn := range s.Transcript {
		out.Transcript[i] = Turn{Role: turn.Role, Parts: append([]Part(nil), turn.Parts...)}
	}
	return &out
}

// SessionStore persists sessions keyed by id.
type SessionStore interface {
	Create(ctx context.Context) (*Session, error)
	Get(ctx context.Context, id string) (*Session, error)
	GetOrCreate(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, session *Session) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]string, error)
}

// MemorySessionStore keeps sessions for the process lifetime.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

var _ SessionStore = (*MemorySessionStore)(nil)

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]*Session)}
}

func (s *MemorySessionStore) Create(ctx context.Context) (*Session, error) {
	sess := newSession(uuid.NewString())
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
	return sess.Clone(), nil
}

func (s *MemorySessionStore) Get(ctx context.Context, id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess.Clone(), nil
}

func (s *MemorySessionStore) GetOrCreate(ctx context.Context, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		sess = newSession(id)
		s.sessions[id] = sess
	}
	return sess.Clone(), nil
}

func (s *MemorySessionStore) Save(ctx context.Context, session *Session) error {
	stored := session.Clone()
	stored.UpdatedAt = time.Now().UTC()
	s.mu.Lock()
	s.sessions[session.ID] = stored
	s.mu.Unlock()
	return nil
}

func (s *MemorySessionStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	delete(s.sessions, id)
	return nil
}

// List returns session ids in creation order.
func (s *MemorySessionStore) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	all := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		all = append(all, sess)
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})
	ids := make([]string, 0, len(all))
	for _, sess := range all {
		ids = append(ids, sess.ID)
	}
	return ids, nil
}
