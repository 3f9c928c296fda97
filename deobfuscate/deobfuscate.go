// Package deobfuscate implements the native deobfuscator spec.md §4.2
// step 5a calls out as an external collaborator: it strips junk
// instructions a VMProtect-style obfuscator interleaves into a handler
// to defeat naive pattern matching, without touching the order or
// semantics of what survives.
package deobfuscate

import (
	"golang.org/x/arch/x86/x86asm"

	"github.com/Thiviyan/VMEMU3/decode"
	"github.com/Thiviyan/VMEMU3/trace"
)

// Run removes junk instructions from tr in place: constant NOPs, and
// "dead pairs" — two adjacent instructions that write and then
// immediately overwrite the same register with no intervening read,
// such as `mov reg, X` followed by `mov reg, Y`. Only MOV/MOV pairs are
// matched; a push/pop of the same register is not removed. Surviving
// records keep their relative order; removed records' snapshots are
// released.
//
// Run is idempotent: running it again over its own output removes
// nothing further, because there are no more junk shapes left to match.
func Run(tr *trace.Trace) {
	keep := make([]bool, len(tr.Records))
	for i := range keep {
		keep[i] = true
	}

	// Dead-pair matching must operate on logical adjacency — adjacency
	// after NOPs are dropped — not raw physical adjacency, or a NOP
	// sitting between two dead writes survives a first pass only to
	// expose the pair to a second one.
	var nonNop []int
	for i, rec := range tr.Records {
		if rec.Decoded.IsNop() {
			keep[i] = false
			continue
		}
		nonNop = append(nonNop, i)
	}

	last := -1
	for _, idx := range nonNop {
		if last != -1 && isDeadPair(tr.Records[last].Decoded, tr.Records[idx].Decoded) {
			keep[last] = false
		}
		last = idx
	}

	survivors := tr.Records[:0]
	for i, rec := range tr.Records {
		if keep[i] {
			survivors = append(survivors, rec)
			continue
		}
		rec.Snapshot.Release()
	}
	tr.Records = survivors
}

// isDeadPair reports whether a writes a register that b immediately
// overwrites via a plain register-or-immediate move, with no memory
// operand on either side (a memory write could be observable, so it is
// never considered dead).
func isDeadPair(a, b decode.Instruction) bool {
	if a.Inst.Op != x86asm.MOV || b.Inst.Op != x86asm.MOV {
		return false
	}
	dstA, ok := a.Inst.Args[0].(x86asm.Reg)
	if !ok {
		return false
	}
	dstB, ok := b.Inst.Args[0].(x86asm.Reg)
	if !ok || dstA != dstB {
		return false
	}
	if _, memSrc := a.Inst.Args[1].(x86asm.Mem); memSrc {
		return false
	}
	if _, memSrc := b.Inst.Args[1].(x86asm.Mem); memSrc {
		return false
	}
	if srcReg, ok := b.Inst.Args[1].(x86asm.Reg); ok && srcReg == dstB {
		return false
	}
	return true
}
