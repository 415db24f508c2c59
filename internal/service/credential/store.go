// Package credential keeps provider credentials sealed at rest. Blobs are
// opaque here: the store neither parses nor validates them.
package credential

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmehdipour/payment-aggregator/internal/model"
	"github.com/jmehdipour/payment-aggregator/internal/repository"
	"github.com/jmoiron/sqlx"
)

// Sealer encrypts blobs before they reach storage.
type Sealer interface {
	Seal(ctx context.Context, plaintext []byte) ([]byte, error)
	Open(ctx context.Context, sealed []byte) ([]byte, error)
}

type Store struct {
	repo   repository.CredentialsRepository
	sealer Sealer
}

func NewStore(repo repository.CredentialsRepository, sealer Sealer) *Store {
	return &Store{repo: repo, sealer: sealer}
}

// Seal returns the at-rest form of blob, for callers writing a new
// provider row themselves.
func (s *Store) Seal(ctx context.Context, blob []byte) ([]byte, error) {
	sealed, err := s.sealer.Seal(ctx, blob)
	if err != nil {
		return nil, redact("seal", "", "", err)
	}
	return sealed, nil
}

// Put replaces the credentials of an existing provider.
func (s *Store) Put(ctx context.Context, tx *sqlx.Tx, projectID, providerName string, blob []byte) error {
	sealed, err := s.sealer.Seal(ctx, blob)
	if err != nil {
		return redact("put", projectID, providerName, err)
	}
	if err := s.repo.Put(ctx, tx, projectID, providerName, sealed); err != nil {
		return redact("put", projectID, providerName, err)
	}
	return nil
}

// Get returns the plaintext blob or ErrNotFound.
func (s *Store) Get(ctx context.Context, projectID, providerName string) ([]byte, error) {
	sealed, err := s.repo.Get(ctx, projectID, providerName)
	if err != nil {
		return nil, redact("get", projectID, providerName, err)
	}
	blob, err := s.sealer.Open(ctx, sealed)
	if err != nil {
		return nil, redact("get", projectID, providerName, err)
	}
	return blob, nil
}

// redact keeps sentinel identity for NotFound and replaces every other cause
// with its type-level description, so no blob or driver echo of a bound
// argument reaches logs.
func redact(op, projectID, providerName string, err error) error {
	if errors.Is(err, model.ErrNotFound) {
		return fmt.Errorf("credential %s project=%s provider=%s: %w", op, projectID, providerName, model.ErrNotFound)
	}
	return fmt.Errorf("credential %s project=%s provider=%s: %w", op, projectID, providerName, errRedacted{cause: err})
}

// errRedacted hides the cause's message but keeps it reachable via errors.Is
// and errors.As for callers that classify storage failures.
type errRedacted struct{ cause error }

func (e errRedacted) Error() string { return "credential operation failed" }
func (e errRedacted) Unwrap() error { return e.cause }
