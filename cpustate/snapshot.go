// Package cpustate defines the narrow interface the rest of the
// devirtualizer uses to talk about a captured CPU state, without pulling
// in the concrete emulator. The harness package is the only place that
// knows these are backed by Unicorn contexts (spec.md §4.5's
// save-context/restore-context/free-context triple, mirroring the
// teacher's saveRegistersOnceSandBox context handling).
package cpustate

// Snapshot is an opaque, owned capture of CPU register state. Callers
// must call Release exactly once when the snapshot is no longer needed;
// a Harness restores from one with its restoreSnapshot method before re-executing
// from it.
type Snapshot interface {
	Release()
}
