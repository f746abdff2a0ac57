package token

import (
	"context"
	"sync"
	"time"

	"sharedview.org/internal/auth"
	"sharedview.org/internal/ids"
)

// Store is the persistence contract for issued tokens, keyed by opaque
// token ID. Mutations are read-modify-write sequences; implementations must
// hold their lock (or transaction) from the read through the persist so two
// concurrent mutations can never interleave.
type Store interface {
	// Issue creates, persists and returns a new token.
	Issue(ctx context.Context, details TokenDetails, issuer auth.UserID, now time.Time, validFor *time.Duration) (AuthToken, error)
	// Get returns the token, or found=false when the ID is unknown.
	Get(ctx context.Context, tokenID string) (tok AuthToken, found bool, err error)
	// Mutate runs fn on the live token under the store lock and persists the
	// result. fn returning an error aborts without persisting. An unknown ID
	// yields ErrNotFound.
	Mutate(ctx context.Context, tokenID string, fn func(*AuthToken) error) error
}

// MemoryStore implements Store with in-process concurrency safety. Used by
// tests and DSN-less deployments.
type MemoryStore struct {
	mu     sync.RWMutex
	tokens map[string]AuthToken
}

// NewMemoryStore creates an empty token table.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tokens: make(map[string]AuthToken)}
}

func (s *MemoryStore) Issue(ctx context.Context, details TokenDetails, issuer auth.UserID, now time.Time, validFor *time.Duration) (AuthToken, error) {
	tok := newToken(details, issuer, now, validFor)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[tok.TokenID] = cloneToken(tok)
	return tok, nil
}

func (s *MemoryStore) Get(ctx context.Context, tokenID string) (AuthToken, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tok, ok := s.tokens[tokenID]
	if !ok {
		return AuthToken{}, false, nil
	}
	return cloneToken(tok), true, nil
}

func (s *MemoryStore) Mutate(ctx context.Context, tokenID string, fn func(*AuthToken) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[tokenID]
	if !ok {
		return ErrNotFound
	}
	// fn mutates a copy; the table is only replaced when fn succeeds.
	cp := cloneToken(tok)
	if err := fn(&cp); err != nil {
		return err
	}
	s.tokens[tokenID] = cloneToken(cp)
	return nil
}

var _ Store = (*MemoryStore)(nil)

func newToken(details TokenDetails, issuer auth.UserID, now time.Time, validFor *time.Duration) AuthToken {
	now = now.UTC()
	var validUntil *time.Time
	if validFor != nil {
		u := now.Add(*validFor)
		validUntil = &u
	}
	return AuthToken{
		TokenID:    ids.New(),
		Owner:      details.TokenOwner(),
		Issuer:     issuer,
		IssuedAt:   now,
		ValidUntil: validUntil,
		Details:    cloneDetails(details),
	}
}
