package apperrors

import "errors"

var (
	// ErrNotFound is returned when a referenced queue, item, trigger or job
	// does not exist.
	ErrNotFound = errors.New("not found")

	// ErrLeaseConflict is returned when a status update is attempted by a
	// claimant that does not own the item's lease, or whose lease has
	// expired. The caller must treat its work as abandoned and stop.
	ErrLeaseConflict = errors.New("lease conflict: item is not owned by this claimant")

	// ErrReferenceConflict is returned when inserting an item whose
	// reference already exists in a queue that enforces unique references.
	ErrReferenceConflict = errors.New("reference already exists in queue")

	// ErrRequeueNotAllowed is returned when a manual requeue is attempted on
	// an item that is not in the terminal failed state.
	ErrRequeueNotAllowed = errors.New("requeue is only allowed from the failed state")

	// ErrQueueNameConflict is returned when creating a queue whose name is
	// already taken.
	ErrQueueNameConflict = errors.New("queue name already exists")

	// ErrImmutableField is returned when an update tries to change a field
	// that is fixed at creation time.
	ErrImmutableField = errors.New("field cannot be changed after creation")

	// ErrPermissionDenied is returned when the permission collaborator
	// rejects an actor/resource/action triple.
	ErrPermissionDenied = errors.New("permission denied")
)
