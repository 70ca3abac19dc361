package vm

// ---------------------------------------------------------------------------
// Background worker
// ---------------------------------------------------------------------------

// dequeueUnit pops the oldest queued unit whose iseq is still alive,
// releasing any units whose iseq was collected while queued. Returns nil if
// the queue is empty. Caller holds the engine lock.
func (j *JIT) dequeueUnit() *Unit {
	for u := j.queue.head; u != nil; u = j.queue.head {
		j.queue.remove(u)
		if u.iseq != nil {
			return u
		}
		j.freeUnit(u)
	}
	return nil
}

// workerLoop is the body of the single background worker goroutine. It
// bootstraps the precompiled header once, then drains the queue: one
// compile step at a time, each mutually exclusive with GC.
func (j *JIT) workerLoop() {
	if PCHStatus(j.pchStatus.Load()) == PCHNotReady {
		j.verbose(2, "JIT: bootstrapping precompiled header")
		status := j.backend.BootstrapPCH(j.headerFile, j.pchFile)

		j.engine.Lock()
		j.pchStatus.Store(int32(status))
		j.pchWakeup.Broadcast()
		j.clientWakeup.Broadcast()
		j.engine.Unlock()
	}

	if PCHStatus(j.pchStatus.Load()) != PCHSuccess {
		j.verbose(1, "JIT: precompiled header bootstrap failed, worker exiting")
		j.engine.Lock()
		j.workerStopped.Store(true)
		j.clientWakeup.Broadcast()
		j.engine.Unlock()
		return
	}

	j.engine.Lock()
	for {
		if j.stopWorkerFlag.Load() {
			break
		}

		u := j.dequeueUnit()
		if u == nil {
			j.workerWakeup.Wait()
			continue
		}

		// Never enter the compile region while a GC cycle runs.
		for j.inGC {
			j.gcWakeup.Wait()
		}
		j.inJIT = true
		j.engine.Unlock()

		handle, fn, err := j.backend.Compile(u)

		j.engine.Lock()
		j.inJIT = false
		j.clientWakeup.Broadcast()

		if err != nil || !fn.Compiled() {
			j.failed.Add(1)
			if u.iseq != nil {
				j.verbose(2, "JIT: failed to compile %s: %v", u.iseq.Name, err)
				u.iseq.body.casJITFunc(JITFuncNotReady, JITFuncNotCompiled)
			}
			j.freeUnit(u)
			continue
		}

		if u.iseq == nil {
			// The iseq was collected while we compiled; drop the result.
			if handle != 0 {
				j.backend.Release(handle)
			}
			j.freeUnit(u)
			continue
		}

		if !u.iseq.body.casJITFunc(JITFuncNotReady, fn) {
			// A synchronous waiter already timed this iseq out to
			// NotCompiled; the artifact would be unreachable.
			j.failed.Add(1)
			j.backend.Release(handle)
			j.freeUnit(u)
			continue
		}

		u.handle = handle
		j.active.add(u)
		j.compiled.Add(1)
		if j.store != nil {
			j.store.Record(u.id, u.iseq.Name, u.iseq.body.TotalCalls())
		}
		j.verbose(2, "JIT: compiled %s as unit %d", u.iseq.Name, u.id)
		j.clientWakeup.Broadcast()
	}

	j.workerStopped.Store(true)
	j.clientWakeup.Broadcast()
	j.engine.Unlock()
	j.verbose(3, "JIT: worker stopped")
}
