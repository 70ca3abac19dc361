package vm

import (
	"testing"
	"time"
)

// GCStartHook must wait out a compile step in flight before marking the
// collector as running.
func TestGCStartHookWaitsForCompileRegion(t *testing.T) {
	backend := &StubBackend{Block: make(chan struct{})}
	j := InitJIT(newTestRuntime(t), backend, Options{})
	blockClosed := false
	defer func() {
		if !blockClosed {
			close(backend.Block) // unblock the worker so Finish can stop it
		}
		j.GCFinishHook()
		j.Finish()
	}()

	submitHot(j, "gc#inflight", 10)
	waitUntil(t, "worker to enter compile region", j.testInJIT)

	returned := make(chan struct{})
	go func() {
		j.GCStartHook()
		close(returned)
	}()

	select {
	case <-returned:
		t.Fatal("GCStartHook returned while the worker was compiling")
	case <-time.After(50 * time.Millisecond):
	}

	close(backend.Block)
	blockClosed = true

	select {
	case <-returned:
	case <-time.After(5 * time.Second):
		t.Fatal("GCStartHook did not return after the compile step finished")
	}

	if !j.testInGC() {
		t.Error("engine does not believe GC is running after GCStartHook")
	}
}

// No unit enters the compile region between GCStartHook and GCFinishHook.
func TestWorkerStaysOutOfCompileRegionDuringGC(t *testing.T) {
	j := InitJIT(newTestRuntime(t), &StubBackend{}, Options{})
	defer j.Finish()

	j.GCStartHook()

	iseq := submitHot(j, "gc#deferred", 10)
	time.Sleep(50 * time.Millisecond)

	if got := j.Stats().Compiled; got != 0 {
		t.Fatalf("compiled = %d during GC, want 0", got)
	}
	if got := iseq.Body().JITFunc(); got != JITFuncNotReady {
		t.Fatalf("jit_func = %v during GC, want NotReady", got)
	}

	j.GCFinishHook()
	waitUntil(t, "deferred unit to compile", func() bool { return j.Stats().Compiled == 1 })
}

func TestMarkEnumeratesQueuedIseqs(t *testing.T) {
	j := InitJIT(newTestRuntime(t), &StubBackend{}, Options{})
	defer j.Finish()

	if ok, _ := j.Pause(false); !ok {
		t.Fatal("Pause failed")
	}

	a := submitHot(j, "mark#a", 10)
	b := submitHot(j, "mark#b", 10)
	c := submitHot(j, "mark#c", 10)
	_ = a

	var marked []*Iseq
	j.Mark(func(iseq *Iseq) { marked = append(marked, iseq) })
	if len(marked) != 3 {
		t.Fatalf("marked %d iseqs, want 3", len(marked))
	}

	// A collected iseq drops out of the mark walk.
	j.FreeIseq(b)
	marked = nil
	j.Mark(func(iseq *Iseq) { marked = append(marked, iseq) })
	if len(marked) != 2 {
		t.Fatalf("marked %d iseqs after collection, want 2", len(marked))
	}
	for _, iseq := range marked {
		if iseq == b {
			t.Error("collected iseq still marked")
		}
	}
	_ = c
}

// The mark callback may re-enter the engine (marking can trigger engine
// hooks); Mark must not hold the engine lock around it.
func TestMarkCallbackMayReenterEngine(t *testing.T) {
	j := InitJIT(newTestRuntime(t), &StubBackend{}, Options{})
	defer j.Finish()

	if ok, _ := j.Pause(false); !ok {
		t.Fatal("Pause failed")
	}
	submitHot(j, "reenter#a", 10)
	submitHot(j, "reenter#b", 10)

	done := make(chan struct{})
	go func() {
		j.Mark(func(iseq *Iseq) {
			// Simulates mark-triggered allocation entering a GC cycle.
			j.GCStartHook()
			j.GCFinishHook()
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Mark deadlocked against a re-entrant GC hook")
	}
}

func TestFreeIseqSeversUnitBackref(t *testing.T) {
	j := InitJIT(newTestRuntime(t), &StubBackend{}, Options{})
	defer j.Finish()

	if ok, _ := j.Pause(false); !ok {
		t.Fatal("Pause failed")
	}

	iseq := submitHot(j, "free#m", 10)
	u := j.testUnitOf(iseq)
	if u == nil {
		t.Fatal("no unit after submission")
	}

	j.FreeIseq(iseq)
	if j.testUnitOf(iseq) != nil {
		t.Error("iseq still points at a unit after FreeIseq")
	}
	if u.Iseq() != nil {
		t.Error("unit still points at the iseq after FreeIseq")
	}

	// The queued husk is released when the worker reaches it.
	if ok, _ := j.Resume(); !ok {
		t.Fatal("Resume failed")
	}
	waitUntil(t, "queue to drain", func() bool { return j.Stats().QueueLength == 0 })
	if got := j.Stats().Compiled; got != 0 {
		t.Errorf("compiled = %d, want 0 for a collected iseq", got)
	}
}
