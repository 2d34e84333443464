package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/diagnosis/zks-preview/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AccessCodeRepo persists access codes in access_codes and their redeemers in
// access_code_redeemers (see migrations/001_access_codes.sql).
type AccessCodeRepo struct{ pool *pgxpool.Pool }

func NewAccessCodeRepo(pool *pgxpool.Pool) *AccessCodeRepo { return &AccessCodeRepo{pool: pool} }

const accessCodeColumns = `code, allowed_emails, customer_name, customer_company, created_at, expires_at, bot_config`

func scanAccessCode(row pgx.Row) (*domain.AccessCode, error) {
	var c domain.AccessCode
	if err := row.Scan(&c.Code, &c.AllowedEmails, &c.CustomerName, &c.CustomerCompany, &c.CreatedAt, &c.ExpiresAt, &c.BotConfig); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *AccessCodeRepo) Get(ctx context.Context, code string) (*domain.AccessCode, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	c, err := scanAccessCode(r.pool.QueryRow(ctx,
		`SELECT `+accessCodeColumns+` FROM access_codes WHERE code = $1`, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get access code: %w", err)
	}
	return c, nil
}

func (r *AccessCodeRepo) List(ctx context.Context) ([]domain.AccessCode, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := r.pool.Query(ctx, `SELECT `+accessCodeColumns+` FROM access_codes ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list access codes: %w", err)
	}
	defer rows.Close()

	var out []domain.AccessCode
	for rows.Next() {
		c, err := scanAccessCode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan access code: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (r *AccessCodeRepo) Upsert(ctx context.Context, c *domain.AccessCode) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	// Replacing a code also resets its usage; both happen or neither does.
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
INSERT INTO access_codes (code, allowed_emails, customer_name, customer_company, created_at, expires_at, bot_config, last_access)
VALUES ($1, $2, $3, $4, $5, $6, $7, NULL)
ON CONFLICT (code) DO UPDATE SET
    allowed_emails   = EXCLUDED.allowed_emails,
    customer_name    = EXCLUDED.customer_name,
    customer_company = EXCLUDED.customer_company,
    created_at       = EXCLUDED.created_at,
    expires_at       = EXCLUDED.expires_at,
    bot_config       = EXCLUDED.bot_config,
    last_access      = NULL
`, c.Code, c.AllowedEmails, c.CustomerName, c.CustomerCompany, c.CreatedAt, c.ExpiresAt, c.BotConfig)
		if err != nil {
			return fmt.Errorf("upsert access code: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM access_code_redeemers WHERE code = $1`, c.Code); err != nil {
			return fmt.Errorf("reset access code usage: %w", err)
		}
		return nil
	})
}

func (r *AccessCodeRepo) Delete(ctx context.Context, code string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	// access_code_redeemers rows go with ON DELETE CASCADE.
	tag, err := r.pool.Exec(ctx, `DELETE FROM access_codes WHERE code = $1`, code)
	if err != nil {
		return false, fmt.Errorf("delete access code: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *AccessCodeRepo) UpdateEmails(ctx context.Context, code string, emails []string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	tag, err := r.pool.Exec(ctx, `UPDATE access_codes SET allowed_emails = $2 WHERE code = $1`, code, emails)
	if err != nil {
		return false, fmt.Errorf("update access code emails: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *AccessCodeRepo) RecordRedemption(ctx context.Context, code, email string, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE access_codes SET last_access = $2 WHERE code = $1`, code, at)
		if err != nil {
			return fmt.Errorf("touch access code: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		_, err = tx.Exec(ctx, `
INSERT INTO access_code_redeemers (code, email, first_redeemed_at)
VALUES ($1, $2, $3)
ON CONFLICT (code, email) DO NOTHING
`, code, email, at)
		if err != nil {
			return fmt.Errorf("record redeemer: %w", err)
		}
		return nil
	})
}

func (r *AccessCodeRepo) Touch(ctx context.Context, code string, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	_, err := r.pool.Exec(ctx, `UPDATE access_codes SET last_access = $2 WHERE code = $1`, code, at)
	if err != nil {
		return fmt.Errorf("touch access code: %w", err)
	}
	return nil
}

func (r *AccessCodeRepo) Usage(ctx context.Context, code string) (*domain.UsageStats, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	stats := &domain.UsageStats{Code: code, UniqueRedeemers: []string{}}
	err := r.pool.QueryRow(ctx, `SELECT last_access FROM access_codes WHERE code = $1`, code).Scan(&stats.LastAccess)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get access code usage: %w", err)
	}

	rows, err := r.pool.Query(ctx, `
SELECT email FROM access_code_redeemers WHERE code = $1 ORDER BY first_redeemed_at
`, code)
	if err != nil {
		return nil, fmt.Errorf("list redeemers: %w", err)
	}
	emails, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan redeemers: %w", err)
	}
	stats.UniqueRedeemers = append(stats.UniqueRedeemers, emails...)
	return stats, nil
}
