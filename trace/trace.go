// Package trace implements the handler trace buffer of spec.md §3: the
// ordered sequence of decoded native instructions plus per-instruction
// CPU snapshots that accumulates while one VM handler executes, the
// virtual-stack copy captured at the handler's first instruction, and
// the (VIP-reg, VSP-reg) assignment in effect while it was recorded.
package trace

import (
	"golang.org/x/arch/x86/x86asm"

	"github.com/Thiviyan/VMEMU3/cpustate"
	"github.com/Thiviyan/VMEMU3/decode"
)

// StackCopySize is the fixed size of the virtual-stack snapshot captured
// at the first instruction of each handler (spec.md §3).
const StackCopySize = 64 * 1024

// Record is one emulator instruction record: a decoded native
// instruction paired with the CPU state immediately before it executed.
type Record struct {
	Decoded  decode.Instruction
	Snapshot cpustate.Snapshot
}

// Trace is the handler trace buffer. The zero value is not usable; use
// New. A Trace owns every Snapshot appended to it and must release them
// all via Clear before it goes out of scope.
type Trace struct {
	Records []Record
	Stack   []byte
	VIPReg  x86asm.Reg
	VSPReg  x86asm.Reg
}

// New returns an empty trace tracking the given VIP/VSP register
// assignment.
func New(vipReg, vspReg x86asm.Reg) *Trace {
	return &Trace{VIPReg: vipReg, VSPReg: vspReg}
}

// Append adds one instruction record to the trace. If this is the first
// record since the trace was last cleared, stack is copied into the
// trace's Stack buffer (spec.md §4.2 step 3).
func (t *Trace) Append(inst decode.Instruction, snap cpustate.Snapshot, stack []byte) {
	if len(t.Records) == 0 {
		t.Stack = make([]byte, len(stack))
		copy(t.Stack, stack)
	}
	t.Records = append(t.Records, Record{Decoded: inst, Snapshot: snap})
}

// Len returns the number of records currently buffered.
func (t *Trace) Len() int { return len(t.Records) }

// Last returns the most recently appended record and true, or the zero
// Record and false if the trace is empty.
func (t *Trace) Last() (Record, bool) {
	if len(t.Records) == 0 {
		return Record{}, false
	}
	return t.Records[len(t.Records)-1], true
}

// First returns the trace's first record and true, or the zero Record
// and false if the trace is empty.
func (t *Trace) First() (Record, bool) {
	if len(t.Records) == 0 {
		return Record{}, false
	}
	return t.Records[0], true
}

// Instructions returns the decoded instructions in order, the shape the
// profile registry classifies against.
func (t *Trace) Instructions() []decode.Instruction {
	out := make([]decode.Instruction, len(t.Records))
	for i, r := range t.Records {
		out[i] = r.Decoded
	}
	return out
}

// TruncateAfter drops every record with index > idx, releasing their
// snapshots. It implements the RVA-fetch slice of spec.md §4.2 step 5b:
// callers find the index of the last RVA fetch and keep everything up
// to and including it.
func (t *Trace) TruncateAfter(idx int) {
	for i := idx + 1; i < len(t.Records); i++ {
		t.Records[i].Snapshot.Release()
	}
	t.Records = t.Records[:idx+1]
}

// Clear releases every snapshot owned by the trace and empties it,
// ready for the next handler. Per spec.md §8, after each handler
// terminator the trace must be empty and own no snapshots.
func (t *Trace) Clear() {
	for _, r := range t.Records {
		r.Snapshot.Release()
	}
	t.Records = nil
	t.Stack = nil
}

// SetRegs updates the (VIP-reg, VSP-reg) assignment the trace is
// tagged with, mirroring harness-level register reassignment between
// handlers (spec.md §4.2 step 5e).
func (t *Trace) SetRegs(vipReg, vspReg x86asm.Reg) {
	t.VIPReg = vipReg
	t.VSPReg = vspReg
}
