package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/sessionkeeper/internal/common"
	"github.com/dmitrijs2005/sessionkeeper/internal/dbx"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const userColumns = `id, handle, password_hash, status, created_at, updated_at`

func (r *PostgresRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	query :=
		`INSERT INTO users (handle, password_hash, status)
		 VALUES ($1, $2, $3)
		 RETURNING id, created_at, updated_at
		 `

	if user.Status == "" {
		user.Status = models.StatusActive
	}

	err := r.db.QueryRowContext(ctx, query, user.Handle, user.PasswordHash, string(user.Status)).
		Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return nil, common.ErrDuplicateHandle
		}
		return nil, fmt.Errorf("db error: %w", dbx.Classify(err))
	}

	return user, nil
}

func (r *PostgresRepository) GetUserByLogin(ctx context.Context, handle string) (*models.User, error) {
	query :=
		`SELECT ` + userColumns + ` FROM users
		 WHERE handle = $1
		 `
	return r.scanOne(ctx, query, handle)
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query :=
		`SELECT ` + userColumns + ` FROM users
		 WHERE id = $1
		 `
	return r.scanOne(ctx, query, id)
}

func (r *PostgresRepository) LockByID(ctx context.Context, id string) (*models.User, error) {
	query :=
		`SELECT ` + userColumns + ` FROM users
		 WHERE id = $1
		 FOR UPDATE
		 `
	return r.scanOne(ctx, query, id)
}

func (r *PostgresRepository) UpdateStatus(ctx context.Context, id string, status models.Status) error {
	query :=
		`UPDATE users SET status = $2, updated_at = now()
		 WHERE id = $1
		 `
	return r.execOne(ctx, query, id, string(status))
}

func (r *PostgresRepository) UpdatePassword(ctx context.Context, id string, passwordHash string) error {
	query :=
		`UPDATE users SET password_hash = $2, updated_at = now()
		 WHERE id = $1
		 `
	return r.execOne(ctx, query, id, passwordHash)
}

func (r *PostgresRepository) scanOne(ctx context.Context, query string, arg any) (*models.User, error) {
	user := &models.User{}
	var status string

	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&user.ID, &user.Handle, &user.PasswordHash, &status, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", dbx.Classify(err))
	}

	user.Status = models.Status(status)
	return user, nil
}

func (r *PostgresRepository) execOne(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", dbx.Classify(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}
