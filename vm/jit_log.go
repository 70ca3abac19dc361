package vm

import (
	"github.com/tliron/commonlog"
)

// jitLog is the engine's logger. A backend must be imported by the final
// binary (for example commonlog/simple) for output to appear.
var jitLog = commonlog.GetLogger("keel.jit")

// verbose logs a message gated on the engine's verbosity level. Level 1 is
// lifecycle news, 2 is per-unit progress, 3 and up is signaling chatter.
func (j *JIT) verbose(level int, format string, args ...any) {
	if j.opts.Verbose < level {
		return
	}
	switch level {
	case 1:
		jitLog.Noticef(format, args...)
	case 2:
		jitLog.Infof(format, args...)
	default:
		jitLog.Debugf(format, args...)
	}
}
