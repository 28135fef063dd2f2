package identity

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the identity core. Callers match with errors.Is.
var (
	ErrNormalization      = errors.New("normalization failed")
	ErrUnknownPrimary     = errors.New("target mac does not own an identity in this scope")
	ErrAlreadyMapped      = errors.New("mac already belongs to another identity")
	ErrInvalidAssociation = errors.New("invalid association")
	ErrNotPending         = errors.New("mac is not pending in this scope")
	ErrPersistence        = errors.New("mapping persistence failed")
)

// NormalizationError describes one record dropped by Normalize.
type NormalizationError struct {
	SourceID string
	Value    string
	Reason   string
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("source %s: %s %q", e.SourceID, e.Reason, e.Value)
}

func (e *NormalizationError) Unwrap() error { return ErrNormalization }

func persistenceError(op, scope string, err error) error {
	return fmt.Errorf("%w: %s scope %q: %w", ErrPersistence, op, scope, err)
}
