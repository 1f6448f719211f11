package dbx

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/dmitrijs2005/sessionkeeper/internal/common"
	"github.com/jackc/pgx/v5/pgconn"
)

// sqlstateUniqueViolation is the Postgres code for a violated UNIQUE constraint.
const sqlstateUniqueViolation = "23505"

// IsUniqueViolation reports whether err was caused by a UNIQUE constraint.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == sqlstateUniqueViolation
}

// IsUnavailable reports whether err means the database could not be reached
// or dropped the connection, as opposed to rejecting the statement.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// class 08: connection exception; 57P0x: server shutting down or starting.
		return strings.HasPrefix(pgErr.Code, "08") || strings.HasPrefix(pgErr.Code, "57P")
	}
	var netErr net.Error
	return errors.As(err, &netErr) || pgconn.Timeout(err)
}

// Classify tags err with common.ErrBackendUnavailable when the database is
// unreachable. Other errors are returned unchanged.
func Classify(err error) error {
	if IsUnavailable(err) {
		return fmt.Errorf("%w: %w", common.ErrBackendUnavailable, err)
	}
	return err
}
