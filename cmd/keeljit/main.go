// keeljit boots a Keel runtime with the JIT engine and a stub backend,
// runs a synthetic workload against it, and prints cache statistics.
// Useful for smoke-testing the engine without a toolchain installed.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dc0d/onexit"
	"github.com/docker/go-units"
	"github.com/tliron/commonlog"

	"github.com/keelvm/keel/manifest"
	"github.com/keelvm/keel/vm"

	_ "github.com/tliron/commonlog/simple"
)

// artifactSizeEstimate approximates the loaded-code footprint of one unit,
// used only for the human-readable cache size line.
const artifactSizeEstimate = 48 * 1024

func main() {
	projectDir := flag.String("C", ".", "Project directory to search for keel.toml")
	methods := flag.Int("n", 50, "Number of synthetic methods to run hot")
	calls := flag.Int("calls", 20, "Invocations per synthetic method")
	verbosity := flag.Int("v", 0, "JIT verbosity (overrides manifest when set)")
	syncWait := flag.Bool("wait", false, "Block on each compilation result")
	flag.Parse()

	m, err := manifest.FindAndLoad(*projectDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "keeljit: %v\n", err)
		os.Exit(1)
	}

	var opts vm.Options
	if m != nil {
		opts, err = m.Options()
		if err != nil {
			fmt.Fprintf(os.Stderr, "keeljit: %v\n", err)
			os.Exit(1)
		}
	}
	if *verbosity > 0 {
		opts.Verbose = *verbosity
	}
	if *syncWait {
		opts.Wait = true
	}
	commonlog.Configure(opts.Verbose, nil)

	rt := vm.NewRuntime()
	rt.PrefixPath, err = stagePrefix()
	if err != nil {
		fmt.Fprintf(os.Stderr, "keeljit: cannot stage runtime prefix: %v\n", err)
		os.Exit(1)
	}
	defer os.RemoveAll(rt.PrefixPath)

	jit := vm.InitJIT(rt, &vm.StubBackend{}, opts)
	if !jit.Enabled() {
		fmt.Fprintln(os.Stderr, "keeljit: JIT engine failed to initialize")
		os.Exit(1)
	}
	onexit.Register(func() { jit.Finish() })

	runWorkload(rt, jit, *methods, *calls)

	stats := jit.Stats()
	fmt.Printf("units created:   %d\n", stats.UnitCount)
	fmt.Printf("compiled:        %d\n", stats.Compiled)
	fmt.Printf("failed:          %d\n", stats.Failed)
	fmt.Printf("unloaded:        %d\n", stats.Unloaded)
	fmt.Printf("queue length:    %d\n", stats.QueueLength)
	fmt.Printf("active units:    %d (~%s of code)\n",
		stats.ActiveLength, units.HumanSize(float64(stats.ActiveLength*artifactSizeEstimate)))

	jit.Finish()
}

// stagePrefix creates a throwaway install prefix carrying the JIT header,
// standing in for a real runtime installation.
func stagePrefix() (string, error) {
	dir, err := os.MkdirTemp("", "keeljit-prefix-")
	if err != nil {
		return "", err
	}
	include := filepath.Join(dir, "include")
	if err := os.MkdirAll(include, 0755); err != nil {
		return "", err
	}
	header := filepath.Join(include, "keel_jit_header.h")
	if err := os.WriteFile(header, []byte("/* keel jit header */\n"), 0644); err != nil {
		return "", err
	}
	return dir, nil
}

// runWorkload drives synthetic methods hot enough to be submitted, keeping
// one of them live on the main thread's stack the whole time.
func runWorkload(rt *vm.Runtime, jit *vm.JIT, methods, calls int) {
	opts := jit.Options()
	main := rt.SpawnThread()
	defer rt.ExitThread(main)

	pinned := vm.NewIseq("workload#pinned")
	main.EC.PushFrame(vm.ControlFrame{PC: 1, Program: pinned})
	defer main.EC.PopFrame()
	jit.EnqueueIseq(pinned)

	for i := 0; i < methods; i++ {
		iseq := vm.NewIseq(fmt.Sprintf("workload#method_%03d", i))
		for c := 0; c < calls; c++ {
			if int(iseq.Body().IncrementCalls()) == opts.MinCalls {
				jit.EnqueueIseq(iseq)
			}
		}
		if opts.Wait {
			jit.WaitIseqFunc(iseq.Body())
		}
	}

	// Flush the queue so the stats below describe a settled engine.
	jit.Pause(true)
	jit.Resume()
}
