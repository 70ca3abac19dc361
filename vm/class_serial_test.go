package vm

import (
	"testing"
)

func TestClassSerialSeeding(t *testing.T) {
	rt := newTestRuntime(t)

	widget := rt.NextClassSerial()
	lower := rt.NextClassSerial()
	maxSize := rt.NextClassSerial()
	rt.DefineConstant("Widget", ConstEntry{Serial: widget, IsClassOrModule: true})
	rt.DefineConstant("widget_factory", ConstEntry{Serial: lower, IsClassOrModule: true})
	rt.DefineConstant("MaxSize", ConstEntry{Serial: maxSize, IsClassOrModule: false})

	j := InitJIT(rt, &StubBackend{}, Options{})
	defer j.Finish()

	if !j.HasClassSerial(rt.RootClassSerial()) {
		t.Error("root class serial not seeded")
	}
	if !j.HasClassSerial(rt.TopSelfClassSerial()) {
		t.Error("top-self class serial not seeded")
	}
	if !j.HasClassSerial(widget) {
		t.Error("class constant serial not seeded")
	}
	if j.HasClassSerial(lower) {
		t.Error("non-constant-named entry should not be seeded")
	}
	if j.HasClassSerial(maxSize) {
		t.Error("non-class constant should not be seeded")
	}
}

func TestClassSerialRemoveAndReAdd(t *testing.T) {
	rt := newTestRuntime(t)
	j := InitJIT(rt, &StubBackend{}, Options{})
	defer j.Finish()

	s := rt.NextClassSerial()
	j.AddClassSerial(s)
	if !j.HasClassSerial(s) {
		t.Fatal("serial absent after add")
	}

	j.RemoveClassSerial(s)
	if j.HasClassSerial(s) {
		t.Fatal("serial present after remove")
	}

	// Re-adding restores the pre-removal presence.
	j.AddClassSerial(s)
	if !j.HasClassSerial(s) {
		t.Fatal("serial absent after re-add")
	}
}

func TestClassSerialOpsAreNoOpsWhenDisabled(t *testing.T) {
	rt := newTestRuntime(t)
	j := InitJIT(rt, &StubBackend{}, Options{})
	j.Finish()

	s := rt.NextClassSerial()
	j.AddClassSerial(s)
	if j.HasClassSerial(s) {
		t.Error("AddClassSerial took effect on a finished engine")
	}
}

func TestValidSerialSetIsRegisteredAsGCRoot(t *testing.T) {
	rt := newTestRuntime(t)
	j := InitJIT(rt, &StubBackend{}, Options{})
	defer j.Finish()

	found := false
	for _, obj := range rt.MarkObjects() {
		if obj == &j.validSerials {
			found = true
		}
	}
	if !found {
		t.Error("valid-serial set not registered as a GC root")
	}
}
