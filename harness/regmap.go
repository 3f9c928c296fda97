//go:build unicorn
// +build unicorn

package harness

import (
	uc "github.com/unicorn-engine/unicorn/bindings/go/unicorn"
	"golang.org/x/arch/x86/x86asm"
)

// regMap translates the decoder's register identifiers into the
// emulator's native register IDs (spec.md §6's reg_map[zydis_reg] ->
// emulator_reg_id, with x86asm standing in for Zydis). Only the
// general-purpose 64-bit registers VIP/VSP assignment and handler
// bodies actually touch are listed, mirroring the scope of the
// teacher's sandBoxRegInfoList.
var regMap = map[x86asm.Reg]int{
	x86asm.RAX: uc.X86_REG_RAX,
	x86asm.RCX: uc.X86_REG_RCX,
	x86asm.RDX: uc.X86_REG_RDX,
	x86asm.RBX: uc.X86_REG_RBX,
	x86asm.RSP: uc.X86_REG_RSP,
	x86asm.RBP: uc.X86_REG_RBP,
	x86asm.RSI: uc.X86_REG_RSI,
	x86asm.RDI: uc.X86_REG_RDI,
	x86asm.R8:  uc.X86_REG_R8,
	x86asm.R9:  uc.X86_REG_R9,
	x86asm.R10: uc.X86_REG_R10,
	x86asm.R11: uc.X86_REG_R11,
	x86asm.R12: uc.X86_REG_R12,
	x86asm.R13: uc.X86_REG_R13,
	x86asm.R14: uc.X86_REG_R14,
	x86asm.R15: uc.X86_REG_R15,
}

func nativeRegID(r x86asm.Reg) (int, bool) {
	id, ok := regMap[r]
	return id, ok
}
