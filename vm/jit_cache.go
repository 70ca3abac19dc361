package vm

// ---------------------------------------------------------------------------
// Submission and eviction
// ---------------------------------------------------------------------------

// EnqueueIseq submits an iseq for background compilation. The iseq's jit
// function cell moves to JITFuncNotReady immediately; the worker flips it to
// an entry address or to JITFuncNotCompiled later. If the active cache is
// full, eviction runs before the mutator regains control. Submitting an
// iseq that already has a unit, or whose cell is already the terminal
// JITFuncNotCompiled, is a no-op.
func (j *JIT) EnqueueIseq(iseq *Iseq) {
	if !j.enabled.Load() || PCHStatus(j.pchStatus.Load()) == PCHFailed {
		return
	}

	body := iseq.Body()
	if body.unit != nil || body.JITFunc() == JITFuncNotCompiled {
		return
	}

	body.SetJITFunc(JITFuncNotReady)
	u := j.createUnit(iseq)
	if u == nil {
		// The iseq stays NotReady; a synchronous waiter will time it out
		// to NotCompiled.
		return
	}

	j.engine.Lock()
	j.queue.add(u)
	if j.active.length >= j.opts.MaxCacheSize {
		j.unloadUnits()
	}
	j.verbose(3, "JIT: sending wakeup signal to worker for %s", iseq.Name)
	j.workerWakeup.Broadcast()
	j.engine.Unlock()
}

// markECUnits sets usedCode on every active unit whose iseq sits in a frame
// of ec. Such code may have a return address into it and must not be
// unloaded.
func (j *JIT) markECUnits(ec *ExecutionContext) {
	for _, f := range ec.Frames() {
		if f.PC == 0 {
			continue
		}
		iseq, ok := f.Program.(*Iseq)
		if !ok || iseq == nil {
			continue
		}
		if u := iseq.body.unit; u != nil {
			u.usedCode = true
		}
	}
}

// unloadUnits shrinks the active list below the cache cap, overshooting by
// a tenth so eviction does not run on every submission. Caller holds the
// engine lock.
//
// Units whose iseq was collected go first, unconditionally. Among the rest,
// anything with a frame on a live thread or registered continuation is
// pinned; the remainder are evicted in ascending call-count order until the
// target is reached or nothing evictable is left.
func (j *JIT) unloadUnits() {
	// Sampled before the sweep below; a sweep that frees many collected
	// units therefore shrinks less aggressively than the live count would
	// suggest.
	unitsNum := j.active.length

	for u := j.active.head; u != nil; {
		next := u.next
		if u.iseq == nil { // iseq was collected
			j.active.remove(u)
			j.freeUnit(u)
			j.unloaded.Add(1)
		}
		u = next
	}

	for u := j.active.head; u != nil; u = u.next {
		u.usedCode = false
	}
	for _, th := range j.rt.LivingThreads() {
		j.markECUnits(th.EC)
	}
	for cont := j.firstCont; cont != nil; cont = cont.next {
		j.markECUnits(cont.ec)
	}

	deleteNum := unitsNum / 10
	for j.active.length > j.opts.MaxCacheSize-deleteNum {
		// Find the unit with the minimum total_calls among those not on
		// any stack. Ties go to the earliest list position.
		var worst *Unit
		for u := j.active.head; u != nil; u = u.next {
			if u.usedCode {
				continue
			}
			if worst == nil || worst.iseq.body.TotalCalls() > u.iseq.body.TotalCalls() {
				worst = u
			}
		}
		if worst == nil {
			break
		}

		j.verbose(2, "JIT: unloading unit %d (calls=%d)", worst.id, worst.iseq.body.TotalCalls())
		j.active.remove(worst)
		j.freeUnit(worst)
		j.unloaded.Add(1)
	}

	j.verbose(1, "JIT: too many loaded units -- %d unloaded", unitsNum-j.active.length)
}
