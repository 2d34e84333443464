package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/diagnosis/zks-preview/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	testSessionPrefix     = "testsession:"
	testSessionCodePrefix = "testsession:code:"
	adminSessionPrefix    = "adminsession:"
)

// SessionRepo stores grants as JSON with a TTL matching their expiry. A set per
// access code indexes grant ids so a code deletion can revoke them eagerly.
type SessionRepo struct {
	client *redis.Client
	now    func() time.Time
}

func NewSessionRepo(client *redis.Client) *SessionRepo {
	return &SessionRepo{client: client, now: time.Now}
}

func (r *SessionRepo) Create(ctx context.Context, g *domain.SessionGrant) error {
	ttl := g.ExpiresAt.Sub(r.now())
	if ttl <= 0 {
		return nil
	}
	payload, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, testSessionPrefix+g.ID, payload, ttl)
		pipe.SAdd(ctx, testSessionCodePrefix+g.AccessCode, g.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	return nil
}

func (r *SessionRepo) Get(ctx context.Context, id string) (*domain.SessionGrant, error) {
	raw, err := r.client.Get(ctx, testSessionPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	var g domain.SessionGrant
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &g, nil
}

func (r *SessionRepo) Delete(ctx context.Context, id string) (bool, error) {
	g, err := r.Get(ctx, id)
	if err != nil || g == nil {
		return false, err
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, testSessionPrefix+id)
		pipe.SRem(ctx, testSessionCodePrefix+g.AccessCode, id)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	return true, nil
}

func (r *SessionRepo) DeleteByCode(ctx context.Context, code string) (int, error) {
	indexKey := testSessionCodePrefix + code
	ids, err := r.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return 0, fmt.Errorf("list sessions for code: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, testSessionPrefix+id)
	}

	var deleted *redis.IntCmd
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		deleted = pipe.Del(ctx, keys...)
		pipe.Del(ctx, indexKey)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("delete sessions for code: %w", err)
	}
	return int(deleted.Val()), nil
}

func (r *SessionRepo) ListByCode(ctx context.Context, code string) ([]domain.SessionGrant, error) {
	indexKey := testSessionCodePrefix + code
	ids, err := r.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list sessions for code: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, testSessionPrefix+id)
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load sessions for code: %w", err)
	}

	var (
		out   []domain.SessionGrant
		stale []interface{}
	)
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var g domain.SessionGrant
		if err := json.Unmarshal([]byte(s), &g); err != nil {
			return nil, fmt.Errorf("decode session: %w", err)
		}
		out = append(out, g)
	}
	if len(stale) > 0 {
		// Expired keys vanish on their own; keep the index tidy.
		_ = r.client.SRem(ctx, indexKey, stale...).Err()
	}
	return out, nil
}

// DeleteExpired only prunes index sets. Redis expires the grants themselves.
func (r *SessionRepo) DeleteExpired(ctx context.Context, _ time.Time) (int, error) {
	pruned := 0
	iter := r.client.Scan(ctx, 0, testSessionCodePrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		indexKey := iter.Val()
		ids, err := r.client.SMembers(ctx, indexKey).Result()
		if err != nil {
			return pruned, fmt.Errorf("scan session index: %w", err)
		}
		for _, id := range ids {
			n, err := r.client.Exists(ctx, testSessionPrefix+id).Result()
			if err != nil {
				return pruned, fmt.Errorf("check session: %w", err)
			}
			if n == 0 {
				if err := r.client.SRem(ctx, indexKey, id).Err(); err != nil {
					return pruned, fmt.Errorf("prune session index: %w", err)
				}
				pruned++
			}
		}
	}
	if err := iter.Err(); err != nil {
		return pruned, fmt.Errorf("scan session indexes: %w", err)
	}
	return pruned, nil
}

type AdminSessionRepo struct {
	client *redis.Client
	now    func() time.Time
}

func NewAdminSessionRepo(client *redis.Client) *AdminSessionRepo {
	return &AdminSessionRepo{client: client, now: time.Now}
}

type adminSessionRecord struct {
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (r *AdminSessionRepo) Create(ctx context.Context, s *domain.AdminSession) error {
	ttl := s.ExpiresAt.Sub(r.now())
	if ttl <= 0 {
		return nil
	}
	payload, err := json.Marshal(adminSessionRecord{CreatedAt: s.CreatedAt, ExpiresAt: s.ExpiresAt})
	if err != nil {
		return fmt.Errorf("marshal admin session: %w", err)
	}
	if err := r.client.Set(ctx, adminSessionPrefix+s.ID, payload, ttl).Err(); err != nil {
		return fmt.Errorf("store admin session: %w", err)
	}
	return nil
}

func (r *AdminSessionRepo) Get(ctx context.Context, id string) (*domain.AdminSession, error) {
	raw, err := r.client.Get(ctx, adminSessionPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get admin session: %w", err)
	}
	var rec adminSessionRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode admin session: %w", err)
	}
	return &domain.AdminSession{ID: id, CreatedAt: rec.CreatedAt, ExpiresAt: rec.ExpiresAt}, nil
}

func (r *AdminSessionRepo) Delete(ctx context.Context, id string) (bool, error) {
	n, err := r.client.Del(ctx, adminSessionPrefix+id).Result()
	if err != nil {
		return false, fmt.Errorf("delete admin session: %w", err)
	}
	return n > 0, nil
}

func (r *AdminSessionRepo) DeleteExpired(context.Context, time.Time) (int, error) {
	return 0, nil
}
