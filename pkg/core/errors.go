package core

import "errors"

var (
	// ErrNotFound indicates the requested node or edge id does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidEdge indicates an AddEdge call with fewer than two distinct
	// members, or a member id that does not exist in the store.
	ErrInvalidEdge = errors.New("invalid hyperedge")

	// ErrCorruptAdjacency indicates the adjacency index references an edge
	// that is no longer stored. This is fatal for the affected operation and
	// is never silently repaired; RebuildAdjacency is the explicit recovery
	// path.
	ErrCorruptAdjacency = errors.New("corrupt adjacency index")
)
