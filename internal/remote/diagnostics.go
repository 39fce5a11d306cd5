package remote

import (
	"go.uber.org/zap"

	"github.com/orizon-lang/qba/internal/allocator"
)

// zapDiagnostics backs allocator.Diagnostics with structured logging for the
// control-plane server, the one place in this repository where logging
// overhead off the allocate/deallocate hot path is acceptable (SPEC_FULL.md
// §10.1; nmxmxh-inos_v1's kernel pulls in the same library for its own
// server-side diagnostics).
type zapDiagnostics struct {
	log *zap.SugaredLogger
}

// NewZapDiagnostics wraps log as an allocator.Diagnostics sink.
func NewZapDiagnostics(log *zap.Logger) allocator.Diagnostics {
	return &zapDiagnostics{log: log.Sugar()}
}

func (d *zapDiagnostics) Warnf(format string, args ...any)  { d.log.Warnf(format, args...) }
func (d *zapDiagnostics) Errorf(format string, args ...any) { d.log.Errorf(format, args...) }
