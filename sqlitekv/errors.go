package sqlitekv

import "errors"

var (
	// ErrDBRequired indicates a nil database handle was supplied.
	ErrDBRequired = errors.New("sqlitekv: db is required")
	// ErrInvalidTable indicates the configured table name is not a valid identifier.
	ErrInvalidTable = errors.New("sqlitekv: invalid table name")
)
