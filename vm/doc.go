// Package vm implements the Keel method-JIT engine.
//
// This package contains:
//   - The JIT coordination core: submission queue, bounded active-code
//     cache with eviction, GC rendezvous, and worker lifecycle
//   - The continuation registry used for stack liveness
//   - The valid class-serial set read by compiled guard code
//   - Artifact persistence (CBOR archive or sqlite index)
//   - The host-runtime model the engine consumes (iseqs, execution
//     contexts, living threads)
//
// Code generation itself is a collaborator behind the Backend interface.
package vm
