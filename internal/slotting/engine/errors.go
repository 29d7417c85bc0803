package engine

import (
	"errors"
	"fmt"
)

// Sentinels matched by errors.Is on the typed validation errors below.
var (
	ErrInvalidAttribute = errors.New("invalid medication attribute")
	ErrInvalidShelf     = errors.New("invalid shelf")
)

// InvalidAttributeError reports a malformed medication or batch record.
// It halts the whole planning run.
type InvalidAttributeError struct {
	MedicationID string
	BatchID      string
	Field        string
	Reason       string
}

func (e *InvalidAttributeError) Error() string {
	if e.BatchID != "" {
		return fmt.Sprintf("medication %q batch %q: invalid %s: %s", e.MedicationID, e.BatchID, e.Field, e.Reason)
	}
	return fmt.Sprintf("medication %q: invalid %s: %s", e.MedicationID, e.Field, e.Reason)
}

// Is lets errors.Is(err, ErrInvalidAttribute) match.
func (e *InvalidAttributeError) Is(target error) bool {
	return target == ErrInvalidAttribute
}

// InvalidShelfError reports a malformed shelf or position record.
type InvalidShelfError struct {
	ShelfID    string
	PositionID string
	Field      string
	Reason     string
}

func (e *InvalidShelfError) Error() string {
	if e.PositionID != "" {
		return fmt.Sprintf("shelf %q position %q: invalid %s: %s", e.ShelfID, e.PositionID, e.Field, e.Reason)
	}
	return fmt.Sprintf("shelf %q: invalid %s: %s", e.ShelfID, e.Field, e.Reason)
}

func (e *InvalidShelfError) Is(target error) bool {
	return target == ErrInvalidShelf
}
