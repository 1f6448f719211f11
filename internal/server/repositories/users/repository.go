// Package users declares the credential store contract and its Postgres
// implementation.
package users

import (
	"context"

	"github.com/dmitrijs2005/sessionkeeper/internal/server/models"
)

// Repository is the durable store of identities and password hashes.
//
// Handle uniqueness is enforced by a database constraint; Create reports a
// conflict as common.ErrDuplicateHandle. Lookups return common.ErrorNotFound
// when no row matches. Connectivity failures carry
// common.ErrBackendUnavailable.
type Repository interface {
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetUserByLogin(ctx context.Context, handle string) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
	// LockByID loads the user and holds a row lock until the surrounding
	// transaction ends. Only meaningful on a *sql.Tx.
	LockByID(ctx context.Context, id string) (*models.User, error)
	UpdateStatus(ctx context.Context, id string, status models.Status) error
	UpdatePassword(ctx context.Context, id string, passwordHash string) error
}
