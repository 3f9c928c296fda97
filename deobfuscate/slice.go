package deobfuscate

import (
	"golang.org/x/arch/x86/x86asm"

	"github.com/Thiviyan/VMEMU3/trace"
)

// SliceToRVAFetch implements the handler slicer (spec.md §4.3): scanning
// from the end, it finds the last "MOV reg, DWORD PTR [vipReg]" — the
// RVA fetch that reads the next handler's relative offset — and erases
// every record strictly after it. The fetch itself survives. Reports
// false if no RVA fetch is present, in which case the trace is left
// untouched.
//
// Idempotent: once the trailing instructions beyond the fetch are gone,
// running this again finds the same (now-last) record and truncates
// nothing further.
func SliceToRVAFetch(tr *trace.Trace, vipReg x86asm.Reg) bool {
	for i := len(tr.Records) - 1; i >= 0; i-- {
		if tr.Records[i].Decoded.IsRVAFetch(vipReg) {
			tr.TruncateAfter(i)
			return true
		}
	}
	return false
}

// LastVIPWrite finds the latest record whose decoded instruction writes
// vipReg as its first operand — the handler instruction that sets VIP
// for the first time (spec.md §4.2 step 5c). Reports false if none is
// found.
func LastVIPWrite(tr *trace.Trace, vipReg x86asm.Reg) (int, bool) {
	for i := len(tr.Records) - 1; i >= 0; i-- {
		if tr.Records[i].Decoded.WritesRegister(vipReg) {
			return i, true
		}
	}
	return 0, false
}
