package vm

import (
	"sync/atomic"
)

// ---------------------------------------------------------------------------
// Iseq: Bytecode instruction sequence (one method or block)
// ---------------------------------------------------------------------------

// JITFunc is the value of an iseq's jit function cell. It is either one of
// the sentinel states below or the entry address of a loaded native
// artifact. The cell moves out of JITFuncNotReady at most once: to an entry
// address on success, or to JITFuncNotCompiled on failure. JITFuncNotCompiled
// is terminal and never reverted.
type JITFunc uintptr

const (
	// JITFuncNotAdded means the iseq was never submitted for compilation.
	JITFuncNotAdded JITFunc = 0

	// JITFuncNotReady means the iseq is queued or currently being compiled.
	JITFuncNotReady JITFunc = 1

	// JITFuncNotCompiled means compilation failed, timed out, or the worker
	// died. Terminal.
	JITFuncNotCompiled JITFunc = 2
)

// Compiled reports whether f is a native entry address rather than a sentinel.
func (f JITFunc) Compiled() bool {
	return f > JITFuncNotCompiled
}

// IseqBody holds the mutable execution state of an iseq that the JIT engine
// reads and writes: the jit function cell, the call counter used for both
// hotness detection and eviction ordering, and the backlink to the engine's
// unit for this iseq.
type IseqBody struct {
	jitFunc    atomic.Uintptr
	totalCalls atomic.Uint64

	// unit is the JIT engine's handle on this iseq, nil until submitted.
	// Guarded by the engine lock.
	unit *Unit
}

// JITFunc returns the current value of the jit function cell.
func (b *IseqBody) JITFunc() JITFunc {
	return JITFunc(b.jitFunc.Load())
}

// SetJITFunc stores f into the jit function cell unconditionally.
// The engine uses it only to mark a submitted iseq NotReady; every later
// transition goes through casJITFunc. It is also for the backend and the
// interpreter's deoptimization paths.
func (b *IseqBody) SetJITFunc(f JITFunc) {
	b.jitFunc.Store(uintptr(f))
}

// casJITFunc transitions the cell from old to new, reporting success.
func (b *IseqBody) casJITFunc(old, new JITFunc) bool {
	return b.jitFunc.CompareAndSwap(uintptr(old), uintptr(new))
}

// TotalCalls returns the number of times this iseq has been invoked.
func (b *IseqBody) TotalCalls() uint64 {
	return b.totalCalls.Load()
}

// IncrementCalls bumps the invocation counter and returns the new value.
func (b *IseqBody) IncrementCalls() uint64 {
	return b.totalCalls.Add(1)
}

// SetTotalCalls overwrites the invocation counter. Used when restoring an
// iseq from an image.
func (b *IseqBody) SetTotalCalls(n uint64) {
	b.totalCalls.Store(n)
}

// Iseq represents one compiled bytecode method or block.
type Iseq struct {
	Name     string
	Bytecode []byte

	body IseqBody
}

// NewIseq creates an iseq with the given debug name.
func NewIseq(name string) *Iseq {
	return &Iseq{Name: name}
}

// Body returns the iseq's mutable execution state.
func (iseq *Iseq) Body() *IseqBody {
	return &iseq.body
}
