// Package profile describes the v-instruction shape the external handler
// profile registry classifies traces into (spec.md §3, §6), plus a small
// default registry and an optional disk-backed cache for it. The registry
// itself — real handler-pattern matching — is named in spec.md as an
// external collaborator; DefaultRegistry here is a minimal, heuristic
// stand-in good enough to drive the harness end to end, with the
// interface shaped so a richer registry can be swapped in without
// touching the harness.
package profile

import (
	"fmt"

	"golang.org/x/arch/x86/x86asm"

	"github.com/Thiviyan/VMEMU3/decode"
)

// Mnemonic identifies a v-instruction's abstract operation.
type Mnemonic int

const (
	Unknown Mnemonic = iota
	LConst
	SReg
	LReg
	Jmp
	VMExit
)

func (m Mnemonic) String() string {
	switch m {
	case LConst:
		return "lconst"
	case SReg:
		return "sreg"
	case LReg:
		return "lreg"
	case Jmp:
		return "jmp"
	case VMExit:
		return "vmexit"
	default:
		return "unknown"
	}
}

// Immediate is a v-instruction's optional operand.
type Immediate struct {
	HasImm   bool
	SizeBits int
	Value    uint64
}

// VInstruction is the classifier's output for one handler trace.
type VInstruction struct {
	Mnemonic Mnemonic
	Imm      Immediate
}

func (v VInstruction) String() string {
	if !v.Imm.HasImm {
		return v.Mnemonic.String()
	}
	return fmt.Sprintf("%s 0x%x", v.Mnemonic, v.Imm.Value)
}

// IsLConst64 reports whether v is a 64-bit lconst, the shape
// could_have_jcc (spec.md §4.6) looks for.
func (v VInstruction) IsLConst64() bool {
	return v.Mnemonic == LConst && v.Imm.HasImm && v.Imm.SizeBits == 64
}

// CanonicalInstruction is the {decoded_instr} half of an emulator
// instruction record (spec.md §3) as handed to the classifier — the
// cpu_snapshot half stays in the trace package, since the classifier
// never needs live register values, only the decoded bytes plus the
// VIP/VSP register assignment passed alongside it.
type CanonicalInstruction = decode.Instruction

// Registry is the external handler profile library's interface into the
// core (spec.md §6): classify a sliced, deobfuscated trace into a
// v-instruction given which native registers currently serve as VIP and
// VSP, and describe a mnemonic by name.
type Registry interface {
	Classify(vipReg, vspReg x86asm.Reg, trace []CanonicalInstruction) (VInstruction, error)
	Describe(m Mnemonic) string
}
