package types

import "errors"

// Value conversion errors
var (
	// ErrTypeMismatch is returned when a JSON value cannot be stored in a column of the declared type
	ErrTypeMismatch = errors.New("value does not match column type")

	// ErrUnknownColumnType is returned for a column type outside TEXT, INTEGER and REAL
	ErrUnknownColumnType = errors.New("unknown column type")
)
