package repository

import "errors"

// Common repository errors
var (
	ErrNotFound       = errors.New("entity not found")
	ErrAlreadyExists  = errors.New("entity already exists")
	ErrOptimisticLock = errors.New("optimistic lock failed")
)
