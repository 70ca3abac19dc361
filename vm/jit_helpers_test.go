package vm

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// testPrefix stages a throwaway install prefix carrying the JIT header.
func testPrefix(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	include := filepath.Join(dir, "include")
	if err := os.MkdirAll(include, 0755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	header := filepath.Join(include, "keel_jit_header.h")
	if err := os.WriteFile(header, []byte("/* test header */\n"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return dir
}

// newTestRuntime creates a runtime whose prefix holds a readable header.
func newTestRuntime(t *testing.T) *Runtime {
	t.Helper()
	rt := NewRuntime()
	rt.PrefixPath = testPrefix(t)
	return rt
}

// waitUntil polls cond each quantum until it holds, failing the test after
// five seconds.
func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// submitHot creates an iseq with the given call count and submits it.
func submitHot(j *JIT, name string, calls uint64) *Iseq {
	iseq := NewIseq(name)
	iseq.Body().SetTotalCalls(calls)
	j.EnqueueIseq(iseq)
	return iseq
}

// testInJIT reports whether the worker is inside its compile region.
func (j *JIT) testInJIT() bool {
	j.engine.Lock()
	defer j.engine.Unlock()
	return j.inJIT
}

// testInGC reports whether the engine believes a GC cycle is running.
func (j *JIT) testInGC() bool {
	j.engine.Lock()
	defer j.engine.Unlock()
	return j.inGC
}

// testUnitOf returns the engine unit attached to iseq, if any.
func (j *JIT) testUnitOf(iseq *Iseq) *Unit {
	j.engine.Lock()
	defer j.engine.Unlock()
	return iseq.body.unit
}
