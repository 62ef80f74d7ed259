package domain

import "errors"

var (
	// ErrExtraction means the source file is missing or could not be parsed.
	ErrExtraction = errors.New("extraction failed")

	// ErrIndex means the vector index is unavailable or rejected an operation.
	ErrIndex = errors.New("vector index error")

	// ErrGeneration means the language model call failed.
	ErrGeneration = errors.New("generation failed")

	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates malformed or invalid input.
	ErrInvalidInput = errors.New("invalid input")
)
