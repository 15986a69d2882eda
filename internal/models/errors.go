package models

import (
	"errors"
	"fmt"
)

// Caller misuse and data integrity errors are fatal and never retried.
// Service errors are surfaced only after the retry budget is spent.
var (
	// ErrInvalidConfig indicates a component was configured with unusable values.
	ErrInvalidConfig = errors.New("invalid config")

	// ErrInvalidArgument indicates a call received an unusable argument.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrDimensionMismatch indicates vectors of different sizes met in one index.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrEmbeddingService indicates the embedding model failed a request.
	ErrEmbeddingService = errors.New("embedding service error")

	// ErrGeneration indicates the generative model failed to produce a usable draft.
	ErrGeneration = errors.New("generation error")

	// ErrBudgetTooSmall indicates the prompt budget cannot hold the instruction block.
	ErrBudgetTooSmall = errors.New("prompt budget too small")

	// ErrTransient marks an external failure worth retrying (timeouts, rate limits).
	ErrTransient = errors.New("transient failure")
)

// Stage names a step of the drafting pipeline.
type Stage string

const (
	StageIndexing   Stage = "indexing"
	StageRetrieval  Stage = "retrieval"
	StageGeneration Stage = "generation"
)

// StageError reports which pipeline stage failed.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// FailedStage returns the stage recorded in err, if any.
func FailedStage(err error) (Stage, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return "", false
}
