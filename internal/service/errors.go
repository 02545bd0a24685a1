package service

import (
	"errors"
	"fmt"

	"liveEvents/internal/repo"
)

var (
	ErrNotFound              = errors.New("not found")
	ErrInvalidState          = errors.New("invalid state")
	ErrNotEligible           = errors.New("student is not eligible")
	ErrCapacityExceeded      = errors.New("capacity exceeded")
	ErrDuplicateRelationship = errors.New("duplicate relationship")
	ErrNotRegistered         = fmt.Errorf("student is not registered: %w", ErrNotFound)
	ErrValidation            = errors.New("validation error")
	ErrProtectedDeletion     = errors.New("event has recorded attendance")
)

// fromRepo translates storage sentinels into the service taxonomy.
func fromRepo(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repo.ErrEventNotFound):
		return fmt.Errorf("event: %w", ErrNotFound)
	case errors.Is(err, repo.ErrRelationNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, repo.ErrDuplicateRow):
		return fmt.Errorf("%w: %w", ErrDuplicateRelationship, err)
	}
	return err
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotRegistered):
		return "not_registered"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrNotEligible):
		return "not_eligible"
	case errors.Is(err, ErrDuplicateRelationship):
		return "duplicate"
	case errors.Is(err, ErrCapacityExceeded):
		return "capacity_exceeded"
	}
	return "error"
}
