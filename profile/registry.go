package profile

import (
	"golang.org/x/arch/x86/x86asm"
)

// DefaultRegistry is a minimal handler-profile implementation: it
// recognizes the lconst and sreg shapes the resolver and could_have_jcc
// depend on, and falls back to Unknown for everything else. It never
// returns jmp or vmexit; the harness ends a block only when the registry
// reports one of those, so with this registry alone a block ends at the
// native instruction cap. A production deployment swaps this for a
// richer signature-matching registry without changing the harness.
type DefaultRegistry struct{}

func NewDefaultRegistry() *DefaultRegistry { return &DefaultRegistry{} }

func (r *DefaultRegistry) Describe(m Mnemonic) string { return m.String() }

// Classify inspects the deobfuscated, sliced handler trace and returns
// its v-instruction. It checks two shapes, in this order:
//   - any mov/movabs of a 32- or 64-bit immediate — classified lconst,
//     carrying the last such immediate;
//   - otherwise, any operand that reads or writes through [VSP-reg] —
//     classified sreg.
//
// What the immediate or the [VSP-reg] access feeds into is not checked.
// A trace matching neither shape is Unknown; the
// caller decides (via config.Options.StallOnUnknown) whether that stalls
// for inspection or is merely recorded.
func (r *DefaultRegistry) Classify(vipReg, vspReg x86asm.Reg, trace []CanonicalInstruction) (VInstruction, error) {
	if len(trace) == 0 {
		return VInstruction{Mnemonic: Unknown}, nil
	}

	if imm, size, ok := lastWideImmediate(trace); ok {
		return VInstruction{
			Mnemonic: LConst,
			Imm:      Immediate{HasImm: true, SizeBits: size, Value: imm},
		}, nil
	}

	if touchesMemory(trace, vspReg) {
		return VInstruction{
			Mnemonic: SReg,
			Imm:      sregIndexImmediate(trace),
		}, nil
	}

	return VInstruction{Mnemonic: Unknown}, nil
}

// sregIndexImmediate looks for the 8-bit virtual-register-index immediate
// an sreg handler carries alongside its [vsp-reg] access — e.g. an
// "add reg, imm8" used to compute the virtual register's stack offset.
// Absent one, Imm.HasImm stays false and the caller treats the
// classification as having no recoverable index.
func sregIndexImmediate(trace []CanonicalInstruction) Immediate {
	for _, ci := range trace {
		for _, arg := range ci.Inst.Args {
			imm, ok := arg.(x86asm.Imm)
			if !ok {
				continue
			}
			if imm >= 0 && imm <= 0xFF {
				return Immediate{HasImm: true, SizeBits: 8, Value: uint64(imm)}
			}
		}
	}
	return Immediate{}
}

// lastWideImmediate scans the trace backward for the last MOV/MOVABS
// whose source operand is an immediate at least 32 bits wide.
func lastWideImmediate(trace []CanonicalInstruction) (value uint64, sizeBits int, ok bool) {
	for i := len(trace) - 1; i >= 0; i-- {
		inst := trace[i].Inst
		if inst.Op != x86asm.MOV {
			continue
		}
		imm, isImm := inst.Args[1].(x86asm.Imm)
		if !isImm {
			continue
		}
		bits := immediateWidth(inst)
		if bits < 32 {
			continue
		}
		return uint64(imm), bits, true
	}
	return 0, 0, false
}

// immediateWidth infers the operand width MOVABS/MOV-imm64 use from the
// instruction's own encoded length: a REX.W mov-immediate to a 64-bit
// register encodes a full 8-byte immediate, everything else at most 4.
func immediateWidth(inst x86asm.Inst) int {
	reg, ok := inst.Args[0].(x86asm.Reg)
	if !ok {
		return 32
	}
	if isReg64(reg) && inst.Len >= 10 {
		return 64
	}
	if reg >= x86asm.AL && reg <= x86asm.R15B {
		return 8
	}
	if reg >= x86asm.AX && reg <= x86asm.R15W {
		return 16
	}
	return 32
}

func isReg64(r x86asm.Reg) bool {
	return r >= x86asm.RAX && r <= x86asm.R15
}

// touchesMemory reports whether any instruction in the trace reads or
// writes through [reg].
func touchesMemory(trace []CanonicalInstruction, reg x86asm.Reg) bool {
	for _, ci := range trace {
		for _, arg := range ci.Inst.Args {
			mem, ok := arg.(x86asm.Mem)
			if ok && mem.Base == reg {
				return true
			}
		}
	}
	return false
}
