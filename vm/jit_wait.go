package vm

import (
	"time"
)

// ---------------------------------------------------------------------------
// Synchronous wait
// ---------------------------------------------------------------------------

// WaitIseqFunc blocks until the jit function cell of body leaves
// JITFuncNotReady and returns the final value: an entry address or
// JITFuncNotCompiled. Callers use it when compilation must complete before
// the next dispatch (wait mode).
//
// The wait is a broadcast-and-poll loop in pollQuantum steps. If the
// timeout elapses or the PCH bootstrap has failed, the cell is flipped to
// JITFuncNotCompiled: the worker is presumed dead and the iseq stays
// interpreted for good.
func (j *JIT) WaitIseqFunc(body *IseqBody) JITFunc {
	tries := 0
	maxTries := int(j.opts.WaitTimeout / pollQuantum)

	for body.JITFunc() == JITFuncNotReady {
		tries++
		if tries > maxTries || PCHStatus(j.pchStatus.Load()) == PCHFailed {
			j.engine.Lock()
			body.casJITFunc(JITFuncNotReady, JITFuncNotCompiled)
			j.engine.Unlock()
			if j.opts.Warnings || j.opts.Verbose > 0 {
				jitLog.Warning("JIT warning: timed out to wait for JIT finish")
			}
			break
		}

		j.engine.Lock()
		j.workerWakeup.Broadcast()
		j.engine.Unlock()
		time.Sleep(pollQuantum)
	}

	return body.JITFunc()
}
