package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/adimov-eth/vibecheck-sub001/internal/realtime/domain"
	"github.com/adimov-eth/vibecheck-sub001/internal/realtime/store"
)

type credentialsRepo struct {
	db *sql.DB
}

func (r *credentialsRepo) Get(ctx context.Context) (domain.Credential, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT raw_token, issued_at, expires_at FROM credential WHERE id = 1`)

	var (
		raw       string
		issuedAt  int64
		expiresAt int64
	)
	if err := row.Scan(&raw, &issuedAt, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Credential{}, store.ErrNotFound
		}
		return domain.Credential{}, err
	}

	c := domain.Credential{
		Raw:      raw,
		IssuedAt: time.Unix(issuedAt, 0).UTC(),
	}
	if expiresAt > 0 {
		c.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	}
	return c, nil
}

func (r *credentialsRepo) Put(ctx context.Context, c domain.Credential) error {
	var expiresAt int64
	if c.ExpiryKnown() {
		expiresAt = c.ExpiresAt.Unix()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO credential (id, raw_token, issued_at, expires_at, updated_at)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			raw_token  = excluded.raw_token,
			issued_at  = excluded.issued_at,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at`,
		c.Raw, c.IssuedAt.Unix(), expiresAt, time.Now().Unix())
	return err
}

func (r *credentialsRepo) Delete(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM credential WHERE id = 1`)
	return err
}
