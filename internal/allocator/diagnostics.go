package allocator

// Diagnostics is the allocator's logging seam (SPEC_FULL.md §10.1). The
// allocate/deallocate hot path never depends on a concrete logging library:
// callers that want structured logs pass an adapter (internal/remote wraps
// go.uber.org/zap for its control-plane server); callers that want nothing
// use NewNopDiagnostics, the default.
type Diagnostics interface {
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

type nopDiagnostics struct{}

// NewNopDiagnostics returns a Diagnostics that discards everything.
func NewNopDiagnostics() Diagnostics { return nopDiagnostics{} }

func (nopDiagnostics) Warnf(string, ...any)  {}
func (nopDiagnostics) Errorf(string, ...any) {}
