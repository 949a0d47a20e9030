package graph

import (
	"errors"
	"fmt"
)

// Common errors. Structural failures wrap ErrInvalidGraph so callers can
// classify them with errors.Is without matching message text.
var (
	ErrInvalidGraph      = errors.New("invalid graph")
	ErrDanglingReference = errors.New("dangling reference")
	ErrDuplicateName     = errors.New("duplicate name")
	ErrCycle             = errors.New("graph contains a cycle")
	ErrNotFound          = errors.New("not found")
)

// StructuralError reports a well-formedness violation found during
// validation or rejected by a mutation.
type StructuralError struct {
	Kind   string // "cycle", "dangling_edge", "duplicate_node", "missing_tensor"
	Node   string // node involved, if any
	Tensor string // tensor involved, if any
	Detail string
}

// Error implements the error interface.
func (e *StructuralError) Error() string {
	switch {
	case e.Node != "" && e.Tensor != "":
		return fmt.Sprintf("%s: node %q, tensor %q: %s", e.Kind, e.Node, e.Tensor, e.Detail)
	case e.Node != "":
		return fmt.Sprintf("%s: node %q: %s", e.Kind, e.Node, e.Detail)
	case e.Tensor != "":
		return fmt.Sprintf("%s: tensor %q: %s", e.Kind, e.Tensor, e.Detail)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	}
}

// Unwrap maps the structural kind onto the matching sentinel.
func (e *StructuralError) Unwrap() error {
	if e.Kind == "cycle" {
		return ErrCycle
	}
	return ErrInvalidGraph
}
