package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmehdipour/payment-aggregator/internal/model"
	"github.com/jmoiron/sqlx"
)

// ProvidersRepository is data access over provider_configs. Invariants
// (single primary, unique names) are enforced by the project service under
// the project row lock, and backed by the (project_id, provider_name) index.
type ProvidersRepository interface {
	ListByProject(ctx context.Context, tx *sqlx.Tx, projectID string) ([]model.ProviderConfig, error)
	Get(ctx context.Context, tx *sqlx.Tx, projectID, id string) (*model.ProviderConfig, error)
	Insert(ctx context.Context, tx *sqlx.Tx, p model.ProviderConfig) error
	Update(ctx context.Context, tx *sqlx.Tx, p model.ProviderConfig) error
	DemotePrimary(ctx context.Context, tx *sqlx.Tx, projectID, keepID string) (int64, error)
	Delete(ctx context.Context, tx *sqlx.Tx, projectID, id string) error
}

type ProvidersRepositoryImpl struct {
	db *sqlx.DB
}

func NewProvidersRepository(db *sqlx.DB) *ProvidersRepositoryImpl {
	return &ProvidersRepositoryImpl{db: db}
}

var _ ProvidersRepository = (*ProvidersRepositoryImpl)(nil)

const providerColumns = `id, project_id, provider_name, credentials, is_primary, priority, created_at, updated_at`

// ListByProject returns the project's providers in routing order.
func (r *ProvidersRepositoryImpl) ListByProject(ctx context.Context, tx *sqlx.Tx, projectID string) ([]model.ProviderConfig, error) {
	rows := []model.ProviderConfig{}
	err := runner(r.db, tx).SelectContext(ctx, &rows, `
		SELECT `+providerColumns+`
		  FROM provider_configs
		 WHERE project_id = ?
		 ORDER BY is_primary DESC, priority ASC, created_at ASC, id ASC
	`, projectID)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *ProvidersRepositoryImpl) Get(ctx context.Context, tx *sqlx.Tx, projectID, id string) (*model.ProviderConfig, error) {
	var p model.ProviderConfig
	err := runner(r.db, tx).GetContext(ctx, &p, `
		SELECT `+providerColumns+`
		  FROM provider_configs
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

func (r *ProvidersRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, p model.ProviderConfig) error {
	const q = `
		INSERT INTO provider_configs
		    (id, project_id, provider_name, credentials, is_primary, priority, created_at, updated_at)
		VALUES
		    (?,  ?,          ?,             ?,           ?,          ?,        ?,          ?)
	`
	_, err := runner(r.db, tx).ExecContext(ctx, q,
		p.ID, p.ProjectID, p.ProviderName, string(p.Credentials), p.IsPrimary, p.Priority, p.CreatedAt, p.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return model.ErrDuplicateProviderName
	}
	return err
}

// Update rewrites the mutable columns: credentials, is_primary, priority.
func (r *ProvidersRepositoryImpl) Update(ctx context.Context, tx *sqlx.Tx, p model.ProviderConfig) error {
	res, err := runner(r.db, tx).ExecContext(ctx, `
		UPDATE provider_configs
		   SET credentials = ?, is_primary = ?, priority = ?, updated_at = ?
		 WHERE project_id = ? AND id = ?
	`, string(p.Credentials), p.IsPrimary, p.Priority, p.UpdatedAt, p.ProjectID, p.ID)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

// DemotePrimary clears is_primary on every provider of the project except keepID.
func (r *ProvidersRepositoryImpl) DemotePrimary(ctx context.Context, tx *sqlx.Tx, projectID, keepID string) (int64, error) {
	res, err := runner(r.db, tx).ExecContext(ctx, `
		UPDATE provider_configs
		   SET is_primary = ?, updated_at = ?
		 WHERE project_id = ? AND is_primary = ? AND id <> ?
	`, false, time.Now().UTC(), projectID, true, keepID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Delete removes one provider owned by projectID.
func (r *ProvidersRepositoryImpl) Delete(ctx context.Context, tx *sqlx.Tx, projectID, id string) error {
	res, err := runner(r.db, tx).ExecContext(ctx,
		`DELETE FROM provider_configs WHERE project_id = ? AND id = ?`, projectID, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}
