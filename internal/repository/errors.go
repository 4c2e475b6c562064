package repository

import (
	"errors"

	"github.com/lib/pq"
)

// Sentinel errors translated into domain errors by the service layer.
var (
	ErrDuplicate        = errors.New("duplicate record")
	ErrAlreadyPaid      = errors.New("payment already recorded")
	ErrNoActiveStudents = errors.New("no active students")
)

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
