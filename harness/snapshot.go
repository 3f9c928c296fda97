//go:build unicorn
// +build unicorn

package harness

import (
	uc "github.com/unicorn-engine/unicorn/bindings/go/unicorn"

	"github.com/Thiviyan/VMEMU3/cpustate"
)

// ucSnapshot wraps a Unicorn context, giving it the cpustate.Snapshot
// lifetime the rest of the module reasons about without depending on
// Unicorn directly (spec.md §9's "wrap the emulator's
// snapshot-alloc/save/restore/free as a scoped resource whose drop
// releases the snapshot").
type ucSnapshot struct {
	ctx *uc.Context
}

func (s *ucSnapshot) Release() {
	if s.ctx != nil {
		s.ctx.Free()
		s.ctx = nil
	}
}

// snapshotNow captures the emulator's current CPU state.
func (h *Harness) snapshotNow() (cpustate.Snapshot, error) {
	ctx, err := h.mu.Context()
	if err != nil {
		return nil, err
	}
	return &ucSnapshot{ctx: ctx}, nil
}

// restoreSnapshot puts the emulator's CPU state back to what snap
// captured. snap must have come from this Harness's snapshotNow.
func (h *Harness) restoreSnapshot(snap cpustate.Snapshot) error {
	s, ok := snap.(*ucSnapshot)
	if !ok || s.ctx == nil {
		return errInvalidSnapshot
	}
	return h.mu.RestoreContext(s.ctx)
}

// cloneSnapshot produces an independent snapshot with the same contents
// as snap, for the jmp_snapshot capture (spec.md §4.2 step 5f), which
// must outlive the trace entry it was copied from.
func (h *Harness) cloneSnapshot(snap cpustate.Snapshot) (cpustate.Snapshot, error) {
	if err := h.restoreSnapshot(snap); err != nil {
		return nil, err
	}
	return h.snapshotNow()
}
