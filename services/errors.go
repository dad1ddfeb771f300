package services

import "errors"

var (
	// ErrSystemRole is returned when an operation would remove a built-in role.
	ErrSystemRole = errors.New("system roles cannot be deleted")
	// ErrInvalidInput wraps validation failures of service inputs.
	ErrInvalidInput = errors.New("invalid input")
)
