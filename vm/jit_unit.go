package vm

// ---------------------------------------------------------------------------
// Unit: The JIT engine's handle on one compilation attempt
// ---------------------------------------------------------------------------

// Unit tracks a single JIT compilation attempt for one iseq. At most one
// unit exists per iseq while the iseq lives. A unit is on exactly one of the
// engine's lists (queue, active, compact) except while the worker carries it
// between queue and active.
//
// The iseq reference is weak: the GC nils it through FreeIseq while the unit
// may still sit on a list. Compacted units have no iseq at all; they only
// carry an artifact handle slated for release at shutdown.
type Unit struct {
	id     int
	iseq   *Iseq   // weak backref; nil once the iseq is collected
	handle uintptr // loaded artifact handle; 0 until compiled

	// usedCode marks units whose compiled entry may be on a live stack.
	// Valid only during an unloadUnits pass.
	usedCode bool

	prev, next *Unit
}

// ID returns the unit's engine-unique id. Ids are assigned monotonically.
func (u *Unit) ID() int {
	return u.id
}

// Iseq returns the unit's source iseq, or nil if it has been collected.
func (u *Unit) Iseq() *Iseq {
	return u.iseq
}

// Handle returns the loaded artifact handle, 0 if not compiled.
func (u *Unit) Handle() uintptr {
	return u.handle
}

// createUnit allocates a unit for iseq and links it into the iseq body.
func (j *JIT) createUnit(iseq *Iseq) *Unit {
	u := &Unit{
		id:   int(j.currentUnitNum.Add(1)),
		iseq: iseq,
	}
	iseq.body.unit = u
	return u
}

// freeUnit releases the unit's artifact through the backend and severs the
// iseq backlink. The iseq itself is untouched. Callers hold the engine lock
// and have already unlinked the unit from its list.
func (j *JIT) freeUnit(u *Unit) {
	if u.iseq != nil {
		if u.iseq.body.unit == u {
			u.iseq.body.unit = nil
		}
		u.iseq = nil
	}
	if u.handle != 0 {
		j.backend.Release(u.handle)
		u.handle = 0
	}
}

// ---------------------------------------------------------------------------
// unitList: Intrusive doubly-linked list with a length counter
// ---------------------------------------------------------------------------

type unitList struct {
	head, tail *Unit
	length     int
}

// add appends u at the tail.
func (l *unitList) add(u *Unit) {
	u.prev = l.tail
	u.next = nil
	if l.tail != nil {
		l.tail.next = u
	} else {
		l.head = u
	}
	l.tail = u
	l.length++
}

// remove unlinks u.
func (l *unitList) remove(u *Unit) {
	if u.prev != nil {
		u.prev.next = u.next
	} else {
		l.head = u.next
	}
	if u.next != nil {
		u.next.prev = u.prev
	} else {
		l.tail = u.prev
	}
	u.prev, u.next = nil, nil
	l.length--
}

// freeList releases every unit on the list. Only called at teardown, after
// the worker has stopped; a unit in flight between queue and active would
// otherwise be missed or double-freed.
func (j *JIT) freeList(l *unitList) {
	for u := l.head; u != nil; {
		next := u.next
		u.prev, u.next = nil, nil
		j.freeUnit(u)
		u = next
	}
	l.head, l.tail, l.length = nil, nil, 0
}
