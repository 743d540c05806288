// Package snapshot defines the pre/post tool-call state-capture seam
// the ToolRegistry calls into. It ships only the interface and a
// no-op default; a concrete filesystem or VM snapshotting backend is
// out of scope.
package snapshot

import "context"

// Hook brackets a tool call with optional pre/post state capture.
// Implementations must not block the call on anything beyond what the
// snapshot medium itself requires; ToolRegistry treats a Hook error as
// non-fatal to the call (logged, never propagated).
type Hook interface {
	PreSnapshot(ctx context.Context, sessionID, generation, toolName string) error
	PostSnapshot(ctx context.Context, sessionID, generation, toolName string, result any, callErr error) error
}

// Nop takes no snapshots and never errors; it is the default Hook
// when no concrete snapshot backend is configured.
type Nop struct{}

func (Nop) PreSnapshot(context.Context, string, string, string) error { return nil }

func (Nop) PostSnapshot(context.Context, string, string, string, any, error) error {
	return nil
}

var _ Hook = Nop{}
