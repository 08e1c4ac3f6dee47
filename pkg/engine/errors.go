package engine

import "fmt"

// ValidationError reports a query that parsed but cannot run: no resolvable
// sources, or a THROUGH parameter outside its legal range.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Msg)
	}
	return "validation failed: " + e.Msg
}

// CapacityError reports a propagation run that hit a hard resource cap. The
// run is abandoned but the engine state stays consistent.
type CapacityError struct {
	Resource string // "depth" or "frontier"
	Limit    int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("propagation exceeded %s cap (%d)", e.Resource, e.Limit)
}
