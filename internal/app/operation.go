package app

import (
	"errors"

	"arc-go/internal/arc"
)

// Operation tracks a CLI command that may mutate the index. Operations are
// created in memory with ID=0. Only mutating commands persist them, which
// gives them an ID from the index store.
type Operation struct {
	ID         int64
	Operation  string
	Parameters string
	Status     string
}

// NewOperation creates a new in-memory operation.
func NewOperation(operation, parameters string) *Operation {
	return &Operation{
		Operation:  operation,
		Parameters: parameters,
		Status:     arc.StatusSuccess,
	}
}

// Persisted returns true if this operation has been saved to the index.
func (op *Operation) Persisted() bool {
	return op.ID != 0
}

// Record sets the final status from the outcome of the command. The first
// failure wins; cancellation is recorded as its own status.
func (op *Operation) Record(err error) {
	if err == nil || op.Status != arc.StatusSuccess {
		return
	}
	if errors.Is(err, arc.ErrCancelled) {
		op.Status = arc.StatusCancelled
		return
	}
	op.Status = arc.StatusError
}
