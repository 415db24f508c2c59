// Package routing orders a project's providers and walks them as a linear
// fallback chain. It never calls providers itself: callers try the current
// candidate and report the outcome back.
package routing

import (
	"context"
	"fmt"

	"github.com/jmehdipour/payment-aggregator/internal/model"
	"github.com/jmoiron/sqlx"
)

// Source lists a project's provider configs.
type Source interface {
	ListByProject(ctx context.Context, tx *sqlx.Tx, projectID string) ([]model.ProviderConfig, error)
}

type Selector struct {
	src Source
}

func NewSelector(src Source) *Selector {
	return &Selector{src: src}
}

// SelectCandidates returns the providers in routing order. A project with
// no providers yields an empty slice and a nil error.
func (s *Selector) SelectCandidates(ctx context.Context, projectID string) ([]model.ProviderConfig, error) {
	list, err := s.src.ListByProject(ctx, nil, projectID)
	if err != nil {
		return nil, fmt.Errorf("select candidates project=%s: %w", projectID, err)
	}
	model.SortProviders(list)
	return list, nil
}

// Begin starts a routing decision for projectID.
func (s *Selector) Begin(ctx context.Context, projectID string) (*Cursor, error) {
	list, err := s.SelectCandidates(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return NewCursor(list), nil
}
