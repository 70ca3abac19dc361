package vm

// ---------------------------------------------------------------------------
// Cont: Registered continuation execution contexts
// ---------------------------------------------------------------------------

// Cont records an execution context that lives outside the living-thread
// list (a saved fiber or continuation snapshot). The eviction pass walks
// registered continuations so that compiled code with a frame on a suspended
// stack is never unloaded. Order in the list is irrelevant.
type Cont struct {
	ec         *ExecutionContext
	prev, next *Cont
}

// EC returns the continuation's execution context.
func (c *Cont) EC() *ExecutionContext {
	return c.ec
}

// ContNew registers a continuation for ec and returns its record.
func (j *JIT) ContNew(ec *ExecutionContext) *Cont {
	cont := &Cont{ec: ec}

	j.engine.Lock()
	if j.firstCont != nil {
		cont.next = j.firstCont
		j.firstCont.prev = cont
	}
	j.firstCont = cont
	j.engine.Unlock()

	return cont
}

// ContFree unregisters a continuation previously returned by ContNew.
func (j *JIT) ContFree(cont *Cont) {
	j.engine.Lock()
	if cont == j.firstCont {
		j.firstCont = cont.next
		if j.firstCont != nil {
			j.firstCont.prev = nil
		}
	} else {
		cont.prev.next = cont.next
		if cont.next != nil {
			cont.next.prev = cont.prev
		}
	}
	j.engine.Unlock()
}

// finishConts drops all remaining continuation records at teardown.
// Caller holds the engine lock.
func (j *JIT) finishConts() {
	for cont := j.firstCont; cont != nil; {
		next := cont.next
		cont.prev, cont.next = nil, nil
		cont = next
	}
	j.firstCont = nil
}

// contCount returns the number of registered continuations.
func (j *JIT) contCount() int {
	j.engine.Lock()
	defer j.engine.Unlock()
	n := 0
	for cont := j.firstCont; cont != nil; cont = cont.next {
		n++
	}
	return n
}
