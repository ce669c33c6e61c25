package postgres

import (
	"database/sql"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/lib/pq"

	"qatmarket/pkg/errors"
)

// classify maps driver errors onto the taxonomy: serialization failures and
// deadlocks become conflicts, unique violations become duplicates.
func classify(err error, message string) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected, pgerrcode.LockNotAvailable:
			return fmt.Errorf("%s: %w", message, errors.ErrConcurrencyConflict)
		case pgerrcode.UniqueViolation:
			return fmt.Errorf("%s: %w", message, errors.ErrDuplicate)
		}
	}
	return errors.Wrap(err, message)
}

// affectOne turns a zero-row CAS update into a conflict.
func affectOne(res sql.Result, err error, message string) error {
	if err != nil {
		return classify(err, message)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if n == 0 {
		return errors.ErrConcurrencyConflict
	}
	return nil
}

func notFound(err error, sentinel error, message string) error {
	if err == sql.ErrNoRows {
		return sentinel
	}
	return classify(err, message)
}

