package vm

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// ---------------------------------------------------------------------------
// Temp directory and header/PCH path resolution
// ---------------------------------------------------------------------------

// checkTmpdir reports whether dir is usable for the engine's temp files:
// it exists, is a directory, is not writable by others unless the sticky
// bit is set, and the effective user can create files in it.
func checkTmpdir(dir string) bool {
	if dir == "" {
		return false
	}
	st, err := os.Stat(dir)
	if err != nil {
		return false
	}
	if !st.IsDir() {
		return false
	}
	mode := st.Mode()
	if mode.Perm()&0o002 != 0 && mode&os.ModeSticky == 0 {
		return false
	}
	f, err := os.CreateTemp(dir, ".keeljit-probe-")
	if err != nil {
		return false
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	return true
}

// systemTmpdir resolves the directory for generated sources, objects, and
// the precompiled header: $TMPDIR, then $TMP, then the platform default,
// with /tmp as the last resort.
func systemTmpdir() string {
	if dir := os.Getenv("TMPDIR"); checkTmpdir(dir) {
		return dir
	}
	if dir := os.Getenv("TMP"); checkTmpdir(dir) {
		return dir
	}
	if dir := os.TempDir(); checkTmpdir(dir) {
		return dir
	}
	return "/tmp"
}

// UniqFilename returns a unique file name in dir built from prefix, suffix,
// and id. With id == 0 the process id is substituted, so concurrent
// processes never collide on bootstrap files.
func UniqFilename(dir string, id int, prefix, suffix string) string {
	n := id
	if n == 0 {
		n = os.Getpid()
	}
	return filepath.Join(dir, fmt.Sprintf("%s%d%s", prefix, n, suffix))
}

// initHeaderFilename resolves and probes the JIT header under the install
// prefix and derives the PCH output path. Reports false when the header is
// unreadable, which disables the engine.
func (j *JIT) initHeaderFilename() bool {
	basedir := j.rt.PrefixPath
	watch := false
	if dir := os.Getenv(buildDirEnv); dir != "" {
		// In-tree runs use the build directory's header so tests work
		// without an install step. Not intended for production.
		basedir = dir
		watch = true
	}

	j.headerFile = filepath.Join(basedir, headerName)
	f, err := os.Open(j.headerFile)
	if err != nil {
		j.verbose(1, "JIT: cannot access header file: %s", j.headerFile)
		j.headerFile = ""
		return false
	}
	f.Close()

	j.pchFile = UniqFilename(j.tmpDir, 0, tmpFilePrefix+"h", ".h.gch")

	if watch {
		j.watchHeader()
	}
	return true
}

// watchHeader warns when the build-directory header changes on disk while
// the engine runs: already-loaded artifacts were compiled against the old
// header and may be stale. Best-effort; watch failures are only logged.
func (j *JIT) watchHeader() {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		j.verbose(1, "JIT: cannot watch header file: %v", err)
		return
	}
	if err := w.Add(j.headerFile); err != nil {
		j.verbose(1, "JIT: cannot watch header file: %v", err)
		w.Close()
		return
	}
	j.watcher = w

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Rename) {
					jitLog.Warningf("JIT header changed on disk, loaded code may be stale: %s", ev.Name)
				}
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			}
		}
	}()
}
