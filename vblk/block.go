// Package vblk implements the virtual block and virtual routine data
// model of spec.md §3: a virtual basic block is a maximal run of
// v-instructions ending in jmp or vmexit, and a virtual routine is the
// set of blocks reachable from one VMENTER.
package vblk

import (
	"golang.org/x/arch/x86/x86asm"

	"github.com/Thiviyan/VMEMU3/cpustate"
	"github.com/Thiviyan/VMEMU3/profile"
)

// VIP identifies a block's entry address in both representations spec.md
// §3's invariant ties together: an RVA relative to the protected
// module, and the corresponding address under the PE's preferred image
// base.
type VIP struct {
	RVA     uint64
	ImgBase uint64
}

// IsSet reports whether the block's VIP has been assigned yet.
func (v VIP) IsSet() bool { return v.RVA != 0 || v.ImgBase != 0 }

// VMRegs is the native register assignment serving as VIP and VSP while
// a block is being traced. The obfuscator can, in principle, reassign
// these between blocks.
type VMRegs struct {
	VIPReg x86asm.Reg
	VSPReg x86asm.Reg
}

// BranchKind classifies how a terminal block transfers control.
type BranchKind int

const (
	BranchUnset BranchKind = iota
	BranchAbsolute
	BranchJCC
	BranchVMExit
)

func (k BranchKind) String() string {
	switch k {
	case BranchAbsolute:
		return "absolute"
	case BranchJCC:
		return "jcc"
	case BranchVMExit:
		return "vmexit"
	default:
		return "unset"
	}
}

// JmpSnapshot is the CPU state and virtual-stack copy captured at the
// first native instruction of a block's terminating jmp handler
// (spec.md §3, §4.2 step 5f). It is owned by the Block and must be
// released with Block.Release.
type JmpSnapshot struct {
	CPU   cpustate.Snapshot
	Stack []byte
}

// Block is one virtual basic block under construction or already
// resolved.
type Block struct {
	VIP         VIP
	Regs        VMRegs
	VInstrs     []profile.VInstruction
	JmpSnapshot *JmpSnapshot
	Branches    []uint64
	BranchKind  BranchKind
}

// NewBlock returns an empty block tracking the given VIP/VSP register
// assignment (spec.md §4.8 state "new").
func NewBlock(regs VMRegs) *Block {
	return &Block{Regs: regs}
}

// SetVIP assigns the block's entry address exactly once; subsequent
// calls are no-ops, matching spec.md §3's "a block's vip is set once".
func (b *Block) SetVIP(rva, imgBase uint64) {
	if b.VIP.IsSet() {
		return
	}
	b.VIP = VIP{RVA: rva, ImgBase: imgBase}
}

// Append adds a classified v-instruction to the block in trace order.
func (b *Block) Append(vi profile.VInstruction) {
	b.VInstrs = append(b.VInstrs, vi)
}

// Last returns the block's most recently appended v-instruction and
// true, or the zero value and false if the block is empty.
func (b *Block) Last() (profile.VInstruction, bool) {
	if len(b.VInstrs) == 0 {
		return profile.VInstruction{}, false
	}
	return b.VInstrs[len(b.VInstrs)-1], true
}

// CaptureJmpSnapshot records the CPU state and stack copy for a block
// whose terminator classified as jmp (spec.md §4.2 step 5f). Replaces
// any previously captured snapshot, releasing it first — a block has at
// most one live jmp_snapshot at a time.
func (b *Block) CaptureJmpSnapshot(cpu cpustate.Snapshot, stack []byte) {
	if b.JmpSnapshot != nil {
		b.JmpSnapshot.CPU.Release()
	}
	b.JmpSnapshot = &JmpSnapshot{CPU: cpu, Stack: stack}
}

// Resolve sets the block's final branch kind and successor addresses,
// moving it to a terminal state (spec.md §4.8). Once the kind is set,
// later calls are no-ops.
func (b *Block) Resolve(kind BranchKind, branches ...uint64) {
	if b.BranchKind != BranchUnset {
		return
	}
	b.BranchKind = kind
	b.Branches = branches
}

// Release frees resources the block owns — currently just the
// jmp_snapshot, if any (spec.md §5: "owned by the block; released when
// the block is destroyed").
func (b *Block) Release() {
	if b.JmpSnapshot != nil {
		b.JmpSnapshot.CPU.Release()
		b.JmpSnapshot = nil
	}
}
