package sink

import "errors"

// Common sink errors
var (
	ErrNotFound = errors.New("not found")
)
