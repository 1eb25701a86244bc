// Package core defines the fundamental types and errors for Companion.
package core

import "errors"

// Core errors that can occur across the system
var (
	// Storage errors
	ErrDatabaseNotFound = errors.New("database not found")
	ErrMigrationFailed  = errors.New("migration failed")
	ErrRecordNotFound   = errors.New("record not found")
	ErrDuplicateRecord  = errors.New("duplicate record")
	ErrTransaction      = errors.New("transaction failed")

	// Commitment errors
	ErrCommitmentNotFound = errors.New("commitment not found")
	ErrHabitNotFound      = errors.New("habit not found")
	ErrHabitExists        = errors.New("habit already exists")
	ErrInvalidStatus      = errors.New("invalid commitment status")

	// Memory errors
	ErrEmbeddingFailed = errors.New("failed to generate embedding")
	ErrRetrievalFailed = errors.New("context retrieval failed")

	// Pipeline errors
	ErrLLMUnavailable = errors.New("LLM service unavailable")
	ErrEmptyMessage   = errors.New("message is empty")

	// Clock errors
	ErrClockNotRunning = errors.New("fake time is not running")

	// Validation errors
	ErrInvalidInput    = errors.New("invalid input")
	ErrMissingRequired = errors.New("missing required field")
)
