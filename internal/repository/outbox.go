package repository

import (
	"context"
	"time"

	"github.com/jmehdipour/payment-aggregator/internal/model"
	"github.com/jmoiron/sqlx"
)

// OutboxRepository defines persistence methods for the outbox table.
type OutboxRepository interface {
	// Insert writes a single outbox event. If tx is nil, it will open/commit
	// an internal transaction; otherwise it uses the given tx.
	Insert(ctx context.Context, tx *sqlx.Tx, aggregate, aggregateID, topic string, payload []byte) error
	ListByAggregate(ctx context.Context, aggregate, aggregateID string) ([]model.OutboxEvent, error)
}

// OutboxRepositoryImpl is a sqlx-backed implementation.
type OutboxRepositoryImpl struct {
	db *sqlx.DB
}

// NewOutboxRepository constructs an OutboxRepositoryImpl.
func NewOutboxRepository(db *sqlx.DB) *OutboxRepositoryImpl {
	return &OutboxRepositoryImpl{db: db}
}

var _ OutboxRepository = (*OutboxRepositoryImpl)(nil)

// Insert adds an event row to outbox. A CDC connector (Debezium outbox SMT)
// publishes it to Kafka based on the `topic` column.
func (r *OutboxRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, aggregate, aggregateID, topic string, payload []byte) error {
	const q = `
		INSERT INTO outbox (aggregate, aggregate_id, topic, payload, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	return withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q, aggregate, aggregateID, topic, payload, time.Now().UTC())

		return err
	})
}

func (r *OutboxRepositoryImpl) ListByAggregate(ctx context.Context, aggregate, aggregateID string) ([]model.OutboxEvent, error) {
	rows := []model.OutboxEvent{}
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, aggregate, aggregate_id, topic, payload, created_at
		  FROM outbox
		 WHERE aggregate = ? AND aggregate_id = ?
		 ORDER BY id ASC
	`, aggregate, aggregateID)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
