package vm

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCheckTmpdir(t *testing.T) {
	if checkTmpdir("") {
		t.Error("empty path accepted")
	}
	if checkTmpdir(filepath.Join(t.TempDir(), "missing")) {
		t.Error("nonexistent directory accepted")
	}

	file := filepath.Join(t.TempDir(), "plain")
	if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if checkTmpdir(file) {
		t.Error("regular file accepted")
	}

	good := t.TempDir()
	if !checkTmpdir(good) {
		t.Error("owner-writable directory rejected")
	}

	loose := filepath.Join(t.TempDir(), "loose")
	if err := os.Mkdir(loose, 0777); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(loose, 0777); err != nil {
		t.Fatal(err)
	}
	if checkTmpdir(loose) {
		t.Error("other-writable directory without sticky bit accepted")
	}

	sticky := filepath.Join(t.TempDir(), "sticky")
	if err := os.Mkdir(sticky, 0777); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(sticky, 0777|os.ModeSticky); err != nil {
		t.Fatal(err)
	}
	if !checkTmpdir(sticky) {
		t.Error("sticky other-writable directory rejected")
	}
}

func TestSystemTmpdirHonorsEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TMPDIR", dir)
	if got := systemTmpdir(); got != dir {
		t.Errorf("systemTmpdir = %q, want $TMPDIR %q", got, dir)
	}

	t.Setenv("TMPDIR", filepath.Join(dir, "missing"))
	other := t.TempDir()
	t.Setenv("TMP", other)
	if got := systemTmpdir(); got != other {
		t.Errorf("systemTmpdir = %q, want $TMP %q", got, other)
	}
}

func TestUniqFilename(t *testing.T) {
	got := UniqFilename("/tmp", 42, "_keeljit_", ".c")
	if got != "/tmp/_keeljit_42.c" {
		t.Errorf("UniqFilename = %q", got)
	}

	// Id 0 substitutes the process id so bootstrap files never collide
	// across processes.
	got = UniqFilename("/tmp", 0, "_keeljit_h", ".h.gch")
	want := fmt.Sprintf("_keeljit_h%d.h.gch", os.Getpid())
	if !strings.HasSuffix(got, want) {
		t.Errorf("UniqFilename = %q, want suffix %q", got, want)
	}
}

func TestPCHFileRemovedAtFinishUnlessSaveTemps(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("TMPDIR", tmp)

	j := InitJIT(newTestRuntime(t), &StubBackend{}, Options{})
	pch := j.pchFile
	waitUntil(t, "PCH bootstrap", func() bool {
		return PCHStatus(j.pchStatus.Load()) == PCHSuccess
	})
	if _, err := os.Stat(pch); err != nil {
		t.Fatalf("PCH file not written: %v", err)
	}
	j.Finish()
	if _, err := os.Stat(pch); !os.IsNotExist(err) {
		t.Errorf("PCH file still present after Finish: %v", err)
	}

	j = InitJIT(newTestRuntime(t), &StubBackend{}, Options{SaveTemps: true})
	pch = j.pchFile
	waitUntil(t, "PCH bootstrap", func() bool {
		return PCHStatus(j.pchStatus.Load()) == PCHSuccess
	})
	j.Finish()
	if _, err := os.Stat(pch); err != nil {
		t.Errorf("PCH file removed despite SaveTemps: %v", err)
	}
}
