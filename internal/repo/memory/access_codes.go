package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/diagnosis/zks-preview/internal/domain"
)

type usage struct {
	redeemers  []string
	lastAccess *time.Time
}

// AccessCodeRepo keeps codes in process memory. Used by tests and STORE_BACKEND=memory.
type AccessCodeRepo struct {
	mu    sync.RWMutex
	codes map[string]*domain.AccessCode
	usage map[string]*usage
}

func NewAccessCodeRepo() *AccessCodeRepo {
	return &AccessCodeRepo{
		codes: make(map[string]*domain.AccessCode),
		usage: make(map[string]*usage),
	}
}

func (r *AccessCodeRepo) Get(_ context.Context, code string) (*domain.AccessCode, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.codes[code]
	if !ok {
		return nil, nil
	}
	return copyCode(c), nil
}

func (r *AccessCodeRepo) List(_ context.Context) ([]domain.AccessCode, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.AccessCode, 0, len(r.codes))
	for _, c := range r.codes {
		out = append(out, *copyCode(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *AccessCodeRepo) Upsert(_ context.Context, c *domain.AccessCode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codes[c.Code] = copyCode(c)
	r.usage[c.Code] = &usage{}
	return nil
}

func (r *AccessCodeRepo) Delete(_ context.Context, code string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.codes[code]
	delete(r.codes, code)
	delete(r.usage, code)
	return ok, nil
}

func (r *AccessCodeRepo) UpdateEmails(_ context.Context, code string, emails []string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.codes[code]
	if !ok {
		return false, nil
	}
	c.AllowedEmails = append([]string(nil), emails...)
	return true, nil
}

func (r *AccessCodeRepo) RecordRedemption(_ context.Context, code, email string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.usage[code]
	if !ok {
		return nil
	}
	found := false
	for _, e := range u.redeemers {
		if e == email {
			found = true
			break
		}
	}
	if !found {
		u.redeemers = append(u.redeemers, email)
	}
	u.lastAccess = &at
	return nil
}

func (r *AccessCodeRepo) Touch(_ context.Context, code string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.usage[code]; ok {
		u.lastAccess = &at
	}
	return nil
}

func (r *AccessCodeRepo) Usage(_ context.Context, code string) (*domain.UsageStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.usage[code]
	if !ok {
		return nil, nil
	}
	stats := &domain.UsageStats{
		Code:            code,
		UniqueRedeemers: append([]string{}, u.redeemers...),
	}
	if u.lastAccess != nil {
		t := *u.lastAccess
		stats.LastAccess = &t
	}
	return stats, nil
}

func copyCode(c *domain.AccessCode) *domain.AccessCode {
	cp := *c
	cp.AllowedEmails = append([]string(nil), c.AllowedEmails...)
	if c.BotConfig != nil {
		bc := *c.BotConfig
		cp.BotConfig = &bc
	}
	return &cp
}
