package repository

import (
	"context"

	"github.com/jmehdipour/payment-aggregator/internal/model"
	"github.com/jmoiron/sqlx"
)

// CHAttemptsRepository stores and lists routing attempts in ClickHouse.
type CHAttemptsRepository interface {
	InsertBatch(ctx context.Context, attempts []model.Attempt) error
	ListByProject(ctx context.Context, projectID, providerName string, outcome model.AttemptOutcome, limit, offset int) ([]model.Attempt, error)
}

type chAttemptsRepository struct {
	ch *sqlx.DB // ClickHouse connection
}

func NewCHAttemptsRepository(ch *sqlx.DB) CHAttemptsRepository {
	return &chAttemptsRepository{ch: ch}
}

// InsertBatch writes all attempts of one routing decision in a single batch.
func (r *chAttemptsRepository) InsertBatch(ctx context.Context, attempts []model.Attempt) error {
	if len(attempts) == 0 {
		return nil
	}
	tx, err := r.ch.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO routing_attempts
		    (project_id, payment_id, provider_id, provider_name, position, outcome, reason, created_at)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, a := range attempts {
		if _, err := stmt.ExecContext(ctx,
			a.ProjectID, a.PaymentID, a.ProviderID, a.ProviderName, uint16(a.Position), a.Outcome.String(), a.Reason, a.CreatedAt,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *chAttemptsRepository) ListByProject(ctx context.Context, projectID, providerName string, outcome model.AttemptOutcome, limit, offset int) ([]model.Attempt, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	q := `
		SELECT project_id, payment_id, provider_id, provider_name, toInt32(position) AS position, outcome, reason, created_at
		FROM routing_attempts
		WHERE project_id = ?
	`
	args := []any{projectID}

	if providerName != "" {
		q += " AND provider_name = ?"
		args = append(args, providerName)
	}
	if outcome != "" {
		q += " AND outcome = ?"
		args = append(args, outcome.String())
	}

	q += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows := []model.Attempt{}
	if err := r.ch.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}
