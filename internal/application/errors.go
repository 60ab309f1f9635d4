package application

import "ledger-service/internal/domain"

// Aliases kept for callers that match on application-level errors. They
// compare by kind, so errors.Is(err, ErrNotFound) holds for any not_found
// domain error.
var (
	ErrNotFound   = domain.ErrNotFound
	ErrConflict   = domain.ErrConflict
	ErrBadRequest = domain.ErrInvalidArgument
)
