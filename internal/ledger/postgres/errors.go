package postgres

import (
	"errors"

	"github.com/lib/pq"
)

const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

var (
	ErrSchemaAlreadyRegistered = errors.New("data schema already registered")
	ErrEventSchemaExists       = errors.New("event schema already registered")
	ErrSchemaNotRegistered     = errors.New("data schema not registered")
	ErrMismatchedEventSchemas  = errors.New("event ids and schemas differ in length")
)

// IsUniqueViolation reports whether err is a unique constraint violation,
// optionally of one named constraint
func IsUniqueViolation(err error, constraint string) bool {
	return isViolation(err, pqUniqueViolation, constraint)
}

// IsForeignKeyViolation reports whether err is a foreign key violation,
// optionally of one named constraint
func IsForeignKeyViolation(err error, constraint string) bool {
	return isViolation(err, pqForeignKeyViolation, constraint)
}

func isViolation(err error, code, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	if string(pqErr.Code) != code {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}
