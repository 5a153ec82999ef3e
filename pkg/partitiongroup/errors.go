package partitiongroup

import "errors"

// ErrConfigurationConflict is returned (and only logged, never propagated to
// a caller across the wire) when two group records sharing a name disagree
// on their group-type name. The offending record is rejected and local
// state is left unchanged.
var ErrConfigurationConflict = errors.New("partitiongroup: configuration conflict: duplicate group with mismatched type")

// ErrNotStarted is returned by Stop when called before Start has ever run.
var ErrNotStarted = errors.New("partitiongroup: manager not started")

// ErrAlreadyStarted is returned by Start when called more than once.
var ErrAlreadyStarted = errors.New("partitiongroup: manager already started")

// ErrStopped is returned by Start when Stop is called while Start is still
// waiting for bootstrap to finish.
var ErrStopped = errors.New("partitiongroup: manager stopped")
