package repository

import (
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	pgUniqueViolation = "23505"
	pgUndefinedTable  = "42P01"
)

// MapError translates driver errors into the caller's domain errors:
// sql.ErrNoRows becomes notFound and a unique violation becomes duplicate.
// Anything else passes through untouched.
func MapError(err error, notFound, duplicate error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return notFound
	}
	if pgCode(err) == pgUniqueViolation {
		return duplicate
	}
	return err
}

// IsUndefinedTable reports whether err is postgres complaining that a relation
// does not exist, which usually means migrations have not run.
func IsUndefinedTable(err error) bool {
	return pgCode(err) == pgUndefinedTable
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
