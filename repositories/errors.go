package repositories

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when an operation addresses a record that does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyExists is returned when a create would violate a uniqueness constraint.
	ErrAlreadyExists = errors.New("record already exists")
	// ErrStoreFailure marks infrastructure errors (connectivity, corruption, driver errors).
	ErrStoreFailure = errors.New("store failure")
)

// translate maps a gorm error onto the repository error taxonomy.
func translate(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%s: %w", op, ErrAlreadyExists)
	default:
		return fmt.Errorf("%s: %w: %w", op, ErrStoreFailure, err)
	}
}
