package token

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"sharedview.org/internal/auth"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store on PostgreSQL. One row per token; the full record
// is stored as jsonb so the details union round-trips unchanged. Mutations
// run inside a transaction with `select ... for update`, which is the locked
// read-modify-write scope the contract requires.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Issue(ctx context.Context, details TokenDetails, issuer auth.UserID, now time.Time, validFor *time.Duration) (AuthToken, error) {
	tok := newToken(details, issuer, now, validFor)
	raw, err := EncodeToken(tok)
	if err != nil {
		return AuthToken{}, err
	}
	if _, err := s.db.ExecContext(ctx,
		`insert into auth_tokens(token_id, record, issued_at) values($1,$2,$3)`,
		tok.TokenID, raw, tok.IssuedAt); err != nil {
		return AuthToken{}, fmt.Errorf("token: persist: %w", err)
	}
	return tok, nil
}

func (s *PGStore) Get(ctx context.Context, tokenID string) (AuthToken, bool, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`select record from auth_tokens where token_id=$1`, tokenID).Scan(&raw)
	if err == sql.ErrNoRows {
		return AuthToken{}, false, nil
	}
	if err != nil {
		return AuthToken{}, false, err
	}
	tok, err := DecodeToken(raw)
	if err != nil {
		return AuthToken{}, false, err
	}
	return tok, true, nil
}

func (s *PGStore) Mutate(ctx context.Context, tokenID string, fn func(*AuthToken) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var raw []byte
	err = tx.QueryRowContext(ctx,
		`select record from auth_tokens where token_id=$1 for update`, tokenID).Scan(&raw)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	tok, err := DecodeToken(raw)
	if err != nil {
		return err
	}
	if err := fn(&tok); err != nil {
		return err
	}
	updated, err := EncodeToken(tok)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`update auth_tokens set record=$2 where token_id=$1`, tokenID, updated); err != nil {
		return err
	}
	return tx.Commit()
}
