package arc

import "time"

// Operation statuses.
const (
	StatusRunning   = "running"
	StatusSuccess   = "success"
	StatusError     = "error"
	StatusCancelled = "cancelled"
)

// OperationRecord is one entry of the operation history.
type OperationRecord struct {
	ID         int64     `json:"id"`
	Operation  string    `json:"operation"`
	Parameters string    `json:"parameters"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Status     string    `json:"status"`
}

// IndexStore is the durable home of volume metadata. It is the authoritative
// record consulted by every run and by verification.
type IndexStore interface {
	// LoadVolumes returns every persisted volume of a media set, ordered by
	// number, with files in relative-path order.
	LoadVolumes(set string) ([]*Volume, error)

	// SaveVolume persists the complete state of a volume, replacing any
	// previous record. A crash during SaveVolume must leave either the old or
	// the new record, never a mix.
	SaveVolume(v *Volume) error

	// ListSets returns the names of every media set with persisted volumes.
	ListSets() ([]string, error)

	// CreateOperation records the start of an operation and returns its ID.
	CreateOperation(operation, parameters string) (int64, error)

	// FinishOperation records the final status of an operation.
	FinishOperation(id int64, status string) error

	// ListOperations returns at most limit operations, newest first.
	ListOperations(limit int) ([]*OperationRecord, error)

	// Close releases the store.
	Close() error
}
