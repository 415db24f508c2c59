package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmehdipour/payment-aggregator/internal/model"
	"github.com/jmoiron/sqlx"
)

// PaymentsRepository persists payment rows and their routing result.
type PaymentsRepository interface {
	InsertQueued(ctx context.Context, tx *sqlx.Tx, p model.Payment) error
	InsertClaimed(ctx context.Context, p model.Payment) error
	Claim(ctx context.Context, id string) error
	UpdateResult(ctx context.Context, id string, status model.PaymentStatus, providerName string, attempts int) error
	Get(ctx context.Context, projectID, id string) (*model.Payment, error)
}

type PaymentsRepositoryImpl struct {
	db *sqlx.DB
}

func NewPaymentsRepository(db *sqlx.DB) *PaymentsRepositoryImpl {
	return &PaymentsRepositoryImpl{db: db}
}

var _ PaymentsRepository = (*PaymentsRepositoryImpl)(nil)

// InsertQueued inserts a new payment row with status=queued.
func (r *PaymentsRepositoryImpl) InsertQueued(ctx context.Context, tx *sqlx.Tx, p model.Payment) error {
	return r.insert(ctx, tx, p, model.PaymentQueued)
}

// InsertClaimed inserts a payment that is routed right away, already in
// status=routing so no worker can pick it up.
func (r *PaymentsRepositoryImpl) InsertClaimed(ctx context.Context, p model.Payment) error {
	return r.insert(ctx, nil, p, model.PaymentRouting)
}

func (r *PaymentsRepositoryImpl) insert(ctx context.Context, tx *sqlx.Tx, p model.Payment, status model.PaymentStatus) error {
	const q = `
		INSERT INTO payments
		    (id, project_id, amount, reference, metadata, status, provider_name, attempts, created_at, updated_at)
		VALUES
		    (?,  ?,          ?,      ?,         ?,        ?,      '',            0,        ?,          ?)
	`
	now := time.Now().UTC()
	return withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q,
			p.ID, p.ProjectID, p.Amount, p.Reference, p.Metadata, status.String(), now, now,
		)
		return err
	})
}

// Claim moves a queued payment to routing. ErrNotFound means the payment
// is gone or someone else already claimed it.
func (r *PaymentsRepositoryImpl) Claim(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE payments
		   SET status = ?, updated_at = ?
		 WHERE id = ? AND status = ?
	`, model.PaymentRouting.String(), time.Now().UTC(), id, model.PaymentQueued.String())
	if err != nil {
		return err
	}
	return expectAffected(res)
}

// UpdateResult closes a claimed payment. Only routing payments move, so a
// redelivered envelope cannot overwrite a settled result. Setting queued
// hands the claim back when no provider was called.
func (r *PaymentsRepositoryImpl) UpdateResult(ctx context.Context, id string, status model.PaymentStatus, providerName string, attempts int) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE payments
		   SET status = ?, provider_name = ?, attempts = ?, updated_at = ?
		 WHERE id = ? AND status = ?
	`, status.String(), providerName, attempts, time.Now().UTC(), id, model.PaymentRouting.String())
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (r *PaymentsRepositoryImpl) Get(ctx context.Context, projectID, id string) (*model.Payment, error) {
	var p model.Payment
	err := r.db.GetContext(ctx, &p, `
		SELECT id, project_id, amount, reference, metadata, status, provider_name, attempts, created_at, updated_at
		  FROM payments
		 WHERE project_id = ? AND id = ?
		 LIMIT 1
	`, projectID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}
