package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmehdipour/payment-aggregator/internal/model"
	"github.com/jmoiron/sqlx"
)

type ProjectsRepository interface {
	Insert(ctx context.Context, tx *sqlx.Tx, p model.Project) error
	GetByID(ctx context.Context, id string) (*model.Project, error)
	GetByAPIKeyHash(ctx context.Context, hash string) (*model.Project, error)
	APIKeyHashExists(ctx context.Context, hash string) (bool, error)
	ListByOwner(ctx context.Context, ownerID string) ([]model.Project, error)
	LockForUpdate(ctx context.Context, tx *sqlx.Tx, id string) (*model.Project, error)
	UpdateStatus(ctx context.Context, id string, status model.ProjectStatus) error
	Delete(ctx context.Context, tx *sqlx.Tx, id string) error
}

type ProjectsRepositoryImpl struct {
	db *sqlx.DB
}

func NewProjectsRepository(db *sqlx.DB) *ProjectsRepositoryImpl {
	return &ProjectsRepositoryImpl{db: db}
}

var _ ProjectsRepository = (*ProjectsRepositoryImpl)(nil)

const projectColumns = `id, owner_id, name, description, api_key_hash, api_key_prefix, status, created_at, updated_at`

// Insert writes the project row. The UNIQUE index on api_key_hash is the
// authority on key uniqueness: a collision surfaces as ErrDuplicateKey.
func (r *ProjectsRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, p model.Project) error {
	const q = `
		INSERT INTO projects
		    (id, owner_id, name, description, api_key_hash, api_key_prefix, status, created_at, updated_at)
		VALUES
		    (?,  ?,        ?,    ?,           ?,            ?,              ?,      ?,          ?)
	`
	_, err := runner(r.db, tx).ExecContext(ctx, q,
		p.ID, p.OwnerID, p.Name, p.Description, p.APIKeyHash, p.APIKeyPrefix, p.Status.String(), p.CreatedAt, p.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return model.ErrDuplicateKey
	}
	return err
}

func (r *ProjectsRepositoryImpl) get(ctx context.Context, q execQuerier, where string, arg any) (*model.Project, error) {
	var p model.Project
	err := q.GetContext(ctx, &p, `SELECT `+projectColumns+` FROM projects WHERE `+where+` LIMIT 1`, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *ProjectsRepositoryImpl) GetByID(ctx context.Context, id string) (*model.Project, error) {
	return r.get(ctx, r.db, "id = ?", id)
}

// GetByAPIKeyHash is an indexed exact-match lookup.
func (r *ProjectsRepositoryImpl) GetByAPIKeyHash(ctx context.Context, hash string) (*model.Project, error) {
	return r.get(ctx, r.db, "api_key_hash = ?", hash)
}

func (r *ProjectsRepositoryImpl) APIKeyHashExists(ctx context.Context, hash string) (bool, error) {
	var one int
	err := r.db.QueryRowxContext(ctx, `SELECT 1 FROM projects WHERE api_key_hash = ? LIMIT 1`, hash).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *ProjectsRepositoryImpl) ListByOwner(ctx context.Context, ownerID string) ([]model.Project, error) {
	rows := []model.Project{}
	err := r.db.SelectContext(ctx, &rows,
		`SELECT `+projectColumns+` FROM projects WHERE owner_id = ? ORDER BY created_at ASC, id ASC`, ownerID)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// LockForUpdate loads the project row and holds its lock until tx ends.
// Every provider mutation takes this lock first, so concurrent writers on
// one project serialize.
func (r *ProjectsRepositoryImpl) LockForUpdate(ctx context.Context, tx *sqlx.Tx, id string) (*model.Project, error) {
	if tx == nil {
		return nil, fmt.Errorf("lock project: transaction required")
	}
	return r.get(ctx, tx, "id = ?"+lockClause(tx.DriverName()), id)
}

func (r *ProjectsRepositoryImpl) UpdateStatus(ctx context.Context, id string, status model.ProjectStatus) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE projects SET status = ?, updated_at = ? WHERE id = ?`,
		status.String(), time.Now().UTC(), id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

// Delete removes the project; dependent provider_configs and payments go with it.
func (r *ProjectsRepositoryImpl) Delete(ctx context.Context, tx *sqlx.Tx, id string) error {
	return withTx(ctx, r.db, tx, func(tx *sqlx.Tx) error {
		for _, q := range []string{
			`DELETE FROM provider_configs WHERE project_id = ?`,
			`DELETE FROM payments WHERE project_id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, q, id); err != nil {
				return err
			}
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
		if err != nil {
			return err
		}
		return expectAffected(res)
	})
}

func expectAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return model.ErrNotFound
	}
	return nil
}
