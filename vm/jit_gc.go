package vm

// ---------------------------------------------------------------------------
// GC rendezvous
// ---------------------------------------------------------------------------

// The collector and the worker's compile region are mutually exclusive:
// GCStartHook waits out any compile step in flight, and the worker waits
// out any collection before entering its next compile step.

// GCStartHook blocks until the worker is outside its compile region, then
// marks the collector as running. Called by the host GC at cycle start.
func (j *JIT) GCStartHook() {
	if !j.enabled.Load() {
		return
	}
	j.engine.Lock()
	for j.inJIT {
		j.verbose(4, "JIT: waiting for wakeup from a worker for GC")
		j.clientWakeup.Wait()
	}
	j.inGC = true
	j.engine.Unlock()
}

// GCFinishHook marks the collector as done and releases the worker. Called
// by the host GC at cycle end.
func (j *JIT) GCFinishHook() {
	if !j.enabled.Load() {
		return
	}
	j.engine.Lock()
	j.inGC = false
	j.verbose(4, "JIT: sending wakeup signal to worker after GC")
	j.gcWakeup.Broadcast()
	j.engine.Unlock()
}

// FreeIseq severs the unit backref of a collected iseq. The unit itself is
// not freed here; it may be referenced from more than one list while the
// worker moves it, so the eviction sweep and Finish do the job.
func (j *JIT) FreeIseq(iseq *Iseq) {
	if !j.enabled.Load() {
		return
	}
	j.engine.Lock()
	if u := iseq.body.unit; u != nil {
		u.iseq = nil
	}
	iseq.body.unit = nil
	j.engine.Unlock()
}

// Mark calls markFn for every queued iseq so the collector keeps pending
// submissions alive. The engine lock is dropped around each markFn call:
// marking may allocate and re-enter the collector, and GCStartHook would
// then deadlock on the engine lock.
func (j *JIT) Mark(markFn func(*Iseq)) {
	if !j.enabled.Load() {
		return
	}
	j.engine.Lock()
	for u := j.queue.head; u != nil; {
		next := u.next
		if iseq := u.iseq; iseq != nil {
			j.engine.Unlock()
			markFn(iseq)
			j.engine.Lock()
		}
		u = next
	}
	j.engine.Unlock()
}
