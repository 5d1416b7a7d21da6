package models

import "errors"

// Errors returned by every store implementation.
var (
	ErrNotFound = errors.New("not found")

	// ErrDuplicate reports a unique constraint violation (cart per user,
	// order per payment intent, email per user).
	ErrDuplicate = errors.New("duplicate record")

	// ErrInsufficientStock is returned by a conditional stock decrement
	// that found fewer units than requested.
	ErrInsufficientStock = errors.New("insufficient stock")
)
