package memory

import (
	"context"
	"sync"
	"time"

	"github.com/diagnosis/zks-preview/internal/domain"
)

type SessionRepo struct {
	mu       sync.RWMutex
	sessions map[string]*domain.SessionGrant
}

func NewSessionRepo() *SessionRepo {
	return &SessionRepo{sessions: make(map[string]*domain.SessionGrant)}
}

func (r *SessionRepo) Create(_ context.Context, g *domain.SessionGrant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[g.ID] = copyGrant(g)
	return nil
}

func (r *SessionRepo) Get(_ context.Context, id string) (*domain.SessionGrant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.sessions[id]
	if !ok {
		return nil, nil
	}
	return copyGrant(g), nil
}

func (r *SessionRepo) Delete(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[id]
	delete(r.sessions, id)
	return ok, nil
}

func (r *SessionRepo) DeleteByCode(_ context.Context, code string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, g := range r.sessions {
		if g.AccessCode == code {
			delete(r.sessions, id)
			n++
		}
	}
	return n, nil
}

func (r *SessionRepo) ListByCode(_ context.Context, code string) ([]domain.SessionGrant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.SessionGrant
	for _, g := range r.sessions {
		if g.AccessCode == code {
			out = append(out, *copyGrant(g))
		}
	}
	return out, nil
}

func (r *SessionRepo) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, g := range r.sessions {
		if g.ExpiredAt(now) {
			delete(r.sessions, id)
			n++
		}
	}
	return n, nil
}

type AdminSessionRepo struct {
	mu       sync.RWMutex
	sessions map[string]domain.AdminSession
}

func NewAdminSessionRepo() *AdminSessionRepo {
	return &AdminSessionRepo{sessions: make(map[string]domain.AdminSession)}
}

func (r *AdminSessionRepo) Create(_ context.Context, s *domain.AdminSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	cp.Token = ""
	r.sessions[s.ID] = cp
	return nil
}

func (r *AdminSessionRepo) Get(_ context.Context, id string) (*domain.AdminSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (r *AdminSessionRepo) Delete(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[id]
	delete(r.sessions, id)
	return ok, nil
}

func (r *AdminSessionRepo) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, s := range r.sessions {
		if s.ExpiredAt(now) {
			delete(r.sessions, id)
			n++
		}
	}
	return n, nil
}

func copyGrant(g *domain.SessionGrant) *domain.SessionGrant {
	cp := *g
	cp.Token = ""
	if g.BotConfig != nil {
		bc := *g.BotConfig
		cp.BotConfig = &bc
	}
	return &cp
}
