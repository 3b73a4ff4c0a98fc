// Package model provides parameters and the model dependency graph.
//
// A Graph is an arena of nodes. Parameters are leaf nodes, models
// and likelihoods are derived nodes which depend on parameters or on
// other derived nodes. The graph is sorted once (Freeze) and change
// notification is a dirty-bit pass over the precomputed descendant
// lists. Around every proposal the chain calls StoreState and then
// either AcceptState or RestoreState. The undo buffer is one level
// deep.
package model

import (
	"github.com/op/go-logging"
	"github.com/pkg/errors"
)

// log is the global logging variable.
var log = logging.MustGetLogger("model")

// Errors returned by parameters and graphs.
var (
	ErrIndexOutOfRange = errors.New("index out of range")
	ErrBoundsViolation = errors.New("value outside of bounds")
	ErrNestedStore     = errors.New("state is already stored")
	ErrNotStored       = errors.New("state was not stored")
	ErrCycle           = errors.New("dependency cycle")
	ErrFrozen          = errors.New("graph is frozen")
	ErrNotFrozen       = errors.New("graph is not frozen")
	ErrUnknownNode     = errors.New("unknown node")
)

// ChangeType tags a change event.
type ChangeType int

// Change types.
const (
	// ValueChanged means that a single dimension has a new value.
	ValueChanged ChangeType = iota
	// Added means that a dimension was appended.
	Added
	// Removed means that a dimension was removed.
	Removed
	// AllValuesChanged means that any dimension might have
	// changed. Index is -1.
	AllValuesChanged
	// ModelChanged is received by nodes which depend on the
	// changed variable indirectly.
	ModelChanged
)

// String returns a change type name.
func (t ChangeType) String() string {
	switch t {
	case ValueChanged:
		return "VALUE_CHANGED"
	case Added:
		return "ADDED"
	case Removed:
		return "REMOVED"
	case AllValuesChanged:
		return "ALL_VALUES_CHANGED"
	case ModelChanged:
		return "MODEL_CHANGED"
	}
	return "UNKNOWN"
}

// ChangeEvent describes a change of a variable.
type ChangeEvent struct {
	// Source is the node of the changed parameter.
	Source NodeID
	// Variable is the parameter id.
	Variable string
	// Index is the changed dimension or -1.
	Index int
	Type  ChangeType
}

// Stateful is a graph node which caches derived quantities and
// takes part in the store/restore/accept protocol.
type Stateful interface {
	// StoreState saves everything needed to undo the proposal.
	StoreState() error
	// RestoreState reverts to the stored state.
	RestoreState() error
	// AcceptState discards the stored state.
	AcceptState() error
}

// Listener is implemented by stateful nodes which want to know what
// exactly changed. Direct dependents of a parameter receive every
// event, indirect dependents receive a single ModelChanged event per
// clean to dirty transition.
type Listener interface {
	Changed(ev ChangeEvent)
}

// StateError is returned when a node fails during the
// store/restore/accept protocol. There is no recovery from it.
type StateError struct {
	Node string
	Op   string
	Err  error
}

func (e *StateError) Error() string {
	return e.Op + " " + e.Node + ": " + e.Err.Error()
}

// Cause returns the underlying error.
func (e *StateError) Cause() error {
	return e.Err
}

// Unwrap returns the underlying error.
func (e *StateError) Unwrap() error {
	return e.Err
}
