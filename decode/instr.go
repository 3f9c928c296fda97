// Package decode wraps golang.org/x/arch/x86/x86asm into the canonical
// native-instruction record spec.md §3 calls decoded_instr, and supplies
// the handful of structural predicates the tracing callback and slicer
// need (terminator detection, RVA-fetch detection, "first operand is this
// register" detection). x86asm plays the role the source tool's Zydis
// decoder plays — this package is the stand-in for the Zydis-specific
// register enum spec.md §6 calls zydis_reg.
package decode

import (
	"fmt"

	"golang.org/x/arch/x86/x86asm"
)

// Instruction is a fully decoded native instruction plus the address it
// was fetched from.
type Instruction struct {
	Addr uint64
	Inst x86asm.Inst
	Raw  []byte
}

// Decode decodes one instruction from code, which must start at addr.
func Decode(code []byte, addr uint64) (Instruction, error) {
	inst, err := x86asm.Decode(code, 64)
	if err != nil {
		return Instruction{}, fmt.Errorf("decode at 0x%x: %w", addr, err)
	}
	raw := make([]byte, inst.Len)
	copy(raw, code[:inst.Len])
	return Instruction{Addr: addr, Inst: inst, Raw: raw}, nil
}

// Len returns the instruction's encoded length in bytes.
func (i Instruction) Len() int { return i.Inst.Len }

func (i Instruction) String() string { return i.Inst.String() }

// IsInvalid reports whether the decoder rejected the bytes as not a
// recognized opcode at all (distinct from decoding successfully to an
// instruction whose semantics we don't care about).
func (i Instruction) IsInvalid() bool {
	return i.Inst.Op == 0
}

// IsHandlerTerminator reports whether this instruction ends a VM handler:
// a native RET, or a register-indirect JMP (spec.md §4.2 step 4). A direct
// near JMP or a memory-indirect JMP does not count — only JMP reg does,
// matching the original tool's operand-type check.
func (i Instruction) IsHandlerTerminator() bool {
	switch i.Inst.Op {
	case x86asm.RET:
		return true
	case x86asm.JMP:
		if _, ok := i.Inst.Args[0].(x86asm.Reg); ok {
			return true
		}
	}
	return false
}

// WritesRegister reports whether this instruction's first operand (its
// conventional destination in x86) is exactly reg.
func (i Instruction) WritesRegister(reg x86asm.Reg) bool {
	r, ok := i.Inst.Args[0].(x86asm.Reg)
	return ok && r == reg
}

// IsRVAFetch reports whether this instruction is a 32-bit
// "MOV reg, DWORD PTR [vipReg]" load — the handler's read of the next
// handler's relative offset (spec.md §4.2 step 5b, §4.3).
func (i Instruction) IsRVAFetch(vipReg x86asm.Reg) bool {
	if i.Inst.Op != x86asm.MOV {
		return false
	}
	if _, ok := i.Inst.Args[0].(x86asm.Reg); !ok {
		return false
	}
	mem, ok := i.Inst.Args[1].(x86asm.Mem)
	if !ok {
		return false
	}
	return mem.Base == vipReg && i.Inst.MemBytes == 4
}

// IsNop reports whether the instruction is a constant NOP (including the
// multi-byte NOP encodings), one of the junk-instruction shapes the
// deobfuscator elides.
func (i Instruction) IsNop() bool {
	return i.Inst.Op == x86asm.NOP
}
