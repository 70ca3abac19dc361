package vm

import (
	"errors"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ---------------------------------------------------------------------------
// JIT: Coordination core for method-level JIT compilation
// ---------------------------------------------------------------------------

// The JIT engine coordinates three asynchronous actors: the mutator (the
// interpreter's main thread), the garbage collector, and one long-lived
// background compiler worker. It owns the submission queue, the bounded
// cache of loaded artifacts, the continuation registry used for liveness,
// the GC rendezvous, and the class-serial validity set. Code generation
// itself lives behind the Backend interface.

// ErrDisabled is returned by operations that require a running JIT engine.
var ErrDisabled = errors.New("JIT engine is not enabled")

// PCHStatus is the state of the backend's precompiled-header bootstrap.
type PCHStatus int32

const (
	PCHNotReady PCHStatus = iota
	PCHFailed
	PCHSuccess
)

const (
	// defaultCacheSize is the permitted number of units with loaded code.
	defaultCacheSize = 1000

	// defaultMinCalls is the call-count threshold for submitting an iseq.
	defaultMinCalls = 5

	// minCacheSize is the lower bound on a configured cache size.
	minCacheSize = 10

	// defaultWaitTimeout bounds WaitIseqFunc.
	defaultWaitTimeout = 60 * time.Second

	// pollQuantum is the sleep used by every poll loop in the engine
	// (Pause with wait, WaitIseqFunc, stopWorkerLoop). Not a busy-wait.
	pollQuantum = time.Millisecond

	// tmpFilePrefix prefixes every file the engine places in the tmp dir.
	tmpFilePrefix = "_keeljit_"

	// headerName is the JIT header location relative to the install prefix.
	headerName = "include/keel_jit_header.h"

	// buildDirEnv overrides the install prefix with a build directory so
	// in-tree test runs find the header without an install step.
	buildDirEnv = "KEEL_SEARCH_BUILD_DIR"
)

// Options configures the JIT engine.
type Options struct {
	// MinCalls is the invocation threshold for hotness. 0 means default (5).
	MinCalls int

	// MaxCacheSize caps the active list. Zero or negative means default
	// (1000); positive values below the minimum are clamped to 10.
	MaxCacheSize int

	Warnings bool
	Verbose  int

	// SaveTemps keeps the precompiled header on disk after Finish.
	SaveTemps bool

	// Wait records the configured wait mode for callers. The engine does
	// not read it: Pause takes its own wait argument.
	Wait bool

	// WaitTimeout bounds WaitIseqFunc. 0 means default (60s).
	WaitTimeout time.Duration

	// Persistence selects the artifact store flushed at Finish.
	Persistence     PersistenceMode
	PersistencePath string
}

// Stats is a snapshot of engine counters.
type Stats struct {
	QueueLength   int
	ActiveLength  int
	CompactLength int
	UnitCount     int
	Compiled      uint64
	Failed        uint64
	Unloaded      uint64
}

// JIT is the engine singleton for one runtime. Operations outside the
// Init..Finish window are no-ops, or return ErrDisabled where the caller
// must be told.
type JIT struct {
	rt      *Runtime
	backend Backend
	opts    Options

	// engine is the lock for everything mutable below except the atomics
	// and validSerials.
	engine       sync.Mutex
	pchWakeup    *sync.Cond // worker -> mutator: PCH bootstrap finished
	clientWakeup *sync.Cond // worker -> GC: compile step finished
	workerWakeup *sync.Cond // mutator -> worker: queue changed or stop
	gcWakeup     *sync.Cond // GC -> worker: GC cycle finished

	queue   unitList // units awaiting compilation, FIFO
	active  unitList // units with loaded code
	compact unitList // artifacts slated for release at Finish

	inGC  bool
	inJIT bool

	firstCont *Cont

	currentUnitNum atomic.Int64
	enabled        atomic.Bool
	callOK         atomic.Bool
	pchStatus      atomic.Int32
	stopWorkerFlag atomic.Bool
	workerStopped  atomic.Bool

	// validSerials maps ClassSerial -> presence. Reads by generated guard
	// code are lock-free; a stale absence only forces a guard miss.
	validSerials sync.Map

	tmpDir     string
	headerFile string
	pchFile    string
	watcher    *fsnotify.Watcher

	store *ArtifactStore

	compiled atomic.Uint64
	failed   atomic.Uint64
	unloaded atomic.Uint64
}

// InitJIT starts the JIT engine: normalizes options, resolves the tmp dir
// and header/PCH paths, seeds the class-serial set, and starts the worker.
// On bootstrap failure the engine comes back disabled rather than erroring;
// every operation on a disabled engine is a no-op.
func InitJIT(rt *Runtime, backend Backend, opts Options) *JIT {
	j := &JIT{rt: rt, backend: backend, opts: opts}
	j.pchWakeup = sync.NewCond(&j.engine)
	j.clientWakeup = sync.NewCond(&j.engine)
	j.workerWakeup = sync.NewCond(&j.engine)
	j.gcWakeup = sync.NewCond(&j.engine)

	j.enabled.Store(true)
	j.callOK.Store(true)
	j.pchStatus.Store(int32(PCHNotReady))

	// Normalize options. A non-positive cache size falls back to the
	// default before the minimum clamp applies, so 0 means 1000, not 10.
	if j.opts.MinCalls == 0 {
		j.opts.MinCalls = defaultMinCalls
	}
	if j.opts.MaxCacheSize <= 0 {
		j.opts.MaxCacheSize = defaultCacheSize
	}
	if j.opts.MaxCacheSize < minCacheSize {
		j.opts.MaxCacheSize = minCacheSize
	}
	if j.opts.WaitTimeout <= 0 {
		j.opts.WaitTimeout = defaultWaitTimeout
	}

	j.tmpDir = systemTmpdir()
	j.verbose(2, "JIT: tmp dir is %s", j.tmpDir)

	if !j.initHeaderFilename() {
		j.enabled.Store(false)
		j.verbose(1, "JIT: failure in header file name initialization")
		return j
	}

	if j.opts.Persistence != PersistenceNone {
		store, err := NewArtifactStore(j.opts.Persistence, j.opts.PersistencePath)
		if err != nil {
			j.verbose(1, "JIT: artifact store unavailable: %v", err)
		} else {
			j.store = store
		}
	}

	// Seed the class-serial set: the root object class, the top-self
	// class, and every class or module named by a root constant.
	j.AddClassSerial(rt.RootClassSerial())
	j.AddClassSerial(rt.TopSelfClassSerial())
	rt.eachConstant(func(name string, e ConstEntry) {
		if isConstName(name) && e.IsClassOrModule {
			j.AddClassSerial(e.Serial)
		}
	})
	rt.RegisterMarkObject(&j.validSerials)

	j.startWorker()
	return j
}

// Enabled reports whether the engine is inside its Init..Finish window.
func (j *JIT) Enabled() bool {
	return j.enabled.Load()
}

// CallEnabled reports whether compiled entry points may be called. The
// interpreter checks this before dispatching through a jit function cell.
func (j *JIT) CallEnabled() bool {
	return j.callOK.Load()
}

// Options returns the normalized options the engine runs with.
func (j *JIT) Options() Options {
	return j.opts
}

// WorkerStopped reports whether the background worker has exited.
func (j *JIT) WorkerStopped() bool {
	return j.workerStopped.Load()
}

// Store returns the configured artifact store, or nil.
func (j *JIT) Store() *ArtifactStore {
	return j.store
}

// Stats returns a snapshot of engine counters.
func (j *JIT) Stats() Stats {
	j.engine.Lock()
	defer j.engine.Unlock()
	return Stats{
		QueueLength:   j.queue.length,
		ActiveLength:  j.active.length,
		CompactLength: j.compact.length,
		UnitCount:     int(j.currentUnitNum.Load()),
		Compiled:      j.compiled.Load(),
		Failed:        j.failed.Load(),
		Unloaded:      j.unloaded.Load(),
	}
}

// queueLength returns the queue length under the engine lock.
func (j *JIT) queueLength() int {
	j.engine.Lock()
	defer j.engine.Unlock()
	return j.queue.length
}

// startWorker launches the background worker goroutine.
func (j *JIT) startWorker() {
	j.stopWorkerFlag.Store(false)
	j.workerStopped.Store(false)
	go j.workerLoop()
}

// stopWorkerLoop asks the worker to exit and waits for it, re-broadcasting
// the wakeup each quantum. Cancellation is cooperative only: forcing the
// worker down would orphan compiler subprocesses and their temp files.
func (j *JIT) stopWorkerLoop() {
	j.stopWorkerFlag.Store(true)
	for !j.workerStopped.Load() {
		j.verbose(3, "JIT: sending cancel signal to worker")
		j.engine.Lock()
		j.workerWakeup.Broadcast()
		j.engine.Unlock()
		runtime.Gosched()
		time.Sleep(pollQuantum)
	}
}

// Pause stops compiling new methods; already-compiled code stays callable.
// With wait set, the queue is flushed first. Returns false if the worker
// was already stopped.
func (j *JIT) Pause(wait bool) (bool, error) {
	if !j.enabled.Load() {
		return false, ErrDisabled
	}
	if j.workerStopped.Load() {
		return false, nil
	}

	if wait {
		for j.queueLength() > 0 {
			j.engine.Lock()
			j.workerWakeup.Broadcast()
			j.engine.Unlock()
			time.Sleep(pollQuantum)
		}
	}

	j.stopWorkerLoop()
	return true, nil
}

// Resume restarts the worker after Pause. Returns false if the worker is
// already running.
func (j *JIT) Resume() (bool, error) {
	if !j.enabled.Load() {
		return false, ErrDisabled
	}
	if !j.workerStopped.Load() {
		return false, nil
	}
	j.startWorker()
	return true, nil
}

// Finish stops the worker, removes the precompiled header unless SaveTemps
// is set, flushes the artifact store, and releases every unit. It must be
// the last engine call; afterwards the engine is disabled.
func (j *JIT) Finish() {
	if !j.enabled.Load() {
		return
	}
	j.verbose(2, "JIT: stopping worker thread")

	// The PCH bootstrap may still be running; let it finish cleanly so the
	// backend does not leave a half-written header behind.
	j.engine.Lock()
	for PCHStatus(j.pchStatus.Load()) == PCHNotReady {
		j.verbose(3, "JIT: waiting for precompiled header bootstrap")
		j.pchWakeup.Wait()
	}
	j.engine.Unlock()

	j.stopWorkerLoop()

	if j.watcher != nil {
		j.watcher.Close()
		j.watcher = nil
	}

	if !j.opts.SaveTemps && j.pchFile != "" {
		os.Remove(j.pchFile)
	}

	if j.store != nil {
		if err := j.store.Flush(); err != nil {
			j.verbose(1, "JIT: artifact store flush failed: %v", err)
		}
		j.store.Close()
	}

	j.callOK.Store(false)

	j.engine.Lock()
	j.freeList(&j.queue)
	j.freeList(&j.active)
	j.freeList(&j.compact)
	j.finishConts()
	j.engine.Unlock()

	j.headerFile, j.pchFile, j.tmpDir = "", "", ""
	j.enabled.Store(false)
	j.verbose(1, "JIT: successful finish")
}

// ChildAfterFork switches the engine off in a forked child. The child did
// not inherit the worker goroutine and must not act as if it had one; the
// engine's resources are leaked in the child.
func (j *JIT) ChildAfterFork() {
	if j.enabled.Load() {
		j.verbose(3, "JIT: switching off JIT in a forked child")
		j.enabled.Store(false)
	}
}

// RegisterCompactedArtifact hands the engine an artifact handle that must
// outlive individual unit eviction, typically the result of the backend
// compacting many units into one loadable object. The handle is released
// at Finish.
func (j *JIT) RegisterCompactedArtifact(handle uintptr) *Unit {
	u := &Unit{
		id:     int(j.currentUnitNum.Add(1)),
		handle: handle,
	}
	j.engine.Lock()
	j.compact.add(u)
	j.engine.Unlock()
	return u
}
