package storage

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/massimocristi1970/financial-reports-app-sub000/internal/dataset"
)

// Sentinel errors for record storage.
var (
	// ErrStorage marks every failure of the persistence layer. Match with errors.Is.
	ErrStorage = errors.New("storage error")

	// ErrNoDatabaseConnection is returned when a database-backed store has no connection.
	ErrNoDatabaseConnection = errors.New("no database connection")

	// ErrStoreClosed is returned by operations on a closed store.
	ErrStoreClosed = errors.New("store is closed")

	// ErrQuotaExceeded is returned when a write would exceed the configured record quota.
	ErrQuotaExceeded = errors.New("storage quota exceeded")

	// ErrInvalidRecord is returned for records without an id or from another dataset type.
	ErrInvalidRecord = errors.New("invalid record")

	// ErrRecordNotFound is returned when a partial update names an id that is not stored.
	ErrRecordNotFound = errors.New("record not found")
)

// StorageError reports a failed store operation. Nothing from the failed operation is
// applied; the caller can retry or surface the error.
type StorageError struct {
	Op          string
	DatasetType dataset.Type
	Err         error
}

func newStorageError(op string, dt dataset.Type, err error) *StorageError {
	return &StorageError{Op: op, DatasetType: dt, Err: err}
}

func (e *StorageError) Error() string {
	if e.DatasetType == "" {
		return fmt.Sprintf("%s: %s: %v", ErrStorage, e.Op, e.Err)
	}

	return fmt.Sprintf("%s: %s %s: %v", ErrStorage, e.Op, e.DatasetType, e.Err)
}

// Unwrap exposes ErrStorage and the underlying cause to errors.Is / errors.As.
func (e *StorageError) Unwrap() []error {
	return []error{ErrStorage, e.Err}
}

// isDatabaseConnectionError checks if an error indicates database connection failure.
// PostgreSQL class 08 codes and the database/sql connection errors qualify.
func isDatabaseConnectionError(err error) bool {
	if err == nil {
		return false
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return strings.HasPrefix(string(pqErr.Code), "08")
	}

	return errors.Is(err, sql.ErrConnDone) || errors.Is(err, driver.ErrBadConn)
}
