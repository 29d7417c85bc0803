package database

import (
	stderrors "errors"
	"strings"

	"github.com/lib/pq"
	"github.com/medflow/medflow-slotting/pkg/errors"
)

// MapPQError converts a PostgreSQL error to an AppError with meaningful messages.
// Returns nil if the error is not a pq.Error.
func MapPQError(err error) *errors.AppError {
	var pqErr *pq.Error
	if !stderrors.As(err, &pqErr) {
		return nil
	}

	switch pqErr.Code {
	// check_violation
	case "23514":
		return mapCheckConstraint(pqErr)

	// unique_violation
	case "23505":
		return errors.Conflict(formatConstraintMessage(pqErr)).WithCause(pqErr)

	// foreign_key_violation
	case "23503":
		return errors.BadRequest("referenced record does not exist")

	// not_null_violation
	case "23502":
		col := pqErr.Column
		if col == "" {
			col = "required field"
		}
		return errors.Validation(map[string]string{
			col: "must not be empty",
		})

	// lock_not_available, query_canceled
	case "55P03", "57014":
		return errors.Unavailable("database operation was cancelled or timed out").WithCause(pqErr)

	default:
		return nil
	}
}

func mapCheckConstraint(pqErr *pq.Error) *errors.AppError {
	constraint := pqErr.Constraint

	switch {
	case strings.Contains(constraint, "quantity_positive"):
		return errors.Validation(map[string]string{"quantity": "must be greater than 0"})
	case strings.Contains(constraint, "quantity_nonneg"):
		return errors.Validation(map[string]string{"quantity": "must not be negative"})
	case strings.Contains(constraint, "grid_bounds"):
		return errors.Validation(map[string]string{"grid": "grid_x must be in [1,10] and grid_y in [1,3]"})
	case strings.Contains(constraint, "weight_nonneg"):
		return errors.Validation(map[string]string{"max_weight_kg": "must not be negative"})
	case strings.Contains(constraint, "velocity_range"):
		return errors.Validation(map[string]string{"velocity_score": "must not be negative"})
	default:
		return errors.BadRequest("data validation failed: " + constraint)
	}
}

func formatConstraintMessage(pqErr *pq.Error) string {
	constraint := pqErr.Constraint

	switch {
	case strings.Contains(constraint, "active_position"):
		return "the position already holds an active placement"
	case strings.Contains(constraint, "active_batch"):
		return "the batch already has an active placement"
	default:
		return "a record with these values already exists"
	}
}
