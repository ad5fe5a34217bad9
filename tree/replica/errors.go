package replica

import "errors"

var (
	// ErrSnapshotNotFound is returned when no snapshot was ever saved for the
	// requested root.
	ErrSnapshotNotFound = errors.New("snapshot not found")
	// ErrProofNotFound is returned when the leaf can not be reached from the
	// requested root: it was never inserted, or only inserted afterwards.
	ErrProofNotFound = errors.New("proof not found")
	// ErrLeafUnknown is returned when the replica has never seen a value.
	ErrLeafUnknown = errors.New("leaf unknown")
)
