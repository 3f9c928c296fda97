package resolver

import (
	"testing"

	"github.com/Thiviyan/VMEMU3/profile"
)

type stubSections struct {
	executable map[uint64]bool
}

func (s stubSections) Executable(moduleBase, address uint64) bool {
	return s.executable[address]
}

func lconst64(v uint64) profile.VInstruction {
	return profile.VInstruction{Mnemonic: profile.LConst, Imm: profile.Immediate{HasImm: true, SizeBits: 64, Value: v}}
}

func TestCouldHaveJCCRequiresThreeLConst64(t *testing.T) {
	vinstrs := []profile.VInstruction{
		lconst64(0x140002000),
		lconst64(0x140003000),
		{Mnemonic: profile.Jmp},
	}
	_, _, ok := CouldHaveJCC(vinstrs, 0x140000000, 0x10000, 0x140000000, stubSections{})
	if ok {
		t.Fatalf("expected none with only two lconst64s")
	}
}

func TestCouldHaveJCCTrueConditional(t *testing.T) {
	vinstrs := []profile.VInstruction{
		lconst64(0x140002000),
		lconst64(0x140003000),
		lconst64(0x0),
		{Mnemonic: profile.Jmp},
	}
	sections := stubSections{executable: map[uint64]bool{0x140002000: true, 0x140003000: true}}
	a1, a2, ok := CouldHaveJCC(vinstrs, 0x140000000, 0x10000, 0x140000000, sections)
	if !ok {
		t.Fatalf("expected a candidate pair")
	}
	if a1 != 0x140002000 || a2 != 0x140003000 {
		t.Fatalf("got (0x%x, 0x%x)", a1, a2)
	}
}

func TestCouldHaveJCCRejectsNonExecutableTarget(t *testing.T) {
	vinstrs := []profile.VInstruction{
		lconst64(0x140002000),
		lconst64(0x140003000),
		lconst64(0x0),
		{Mnemonic: profile.Jmp},
	}
	sections := stubSections{executable: map[uint64]bool{0x140002000: true}}
	_, _, ok := CouldHaveJCC(vinstrs, 0x140000000, 0x10000, 0x140000000, sections)
	if ok {
		t.Fatalf("expected rejection when one target is not executable")
	}
}

func TestCouldHaveJCCRejectsVMExit(t *testing.T) {
	vinstrs := []profile.VInstruction{
		lconst64(0x140002000),
		lconst64(0x140003000),
		lconst64(0x0),
		{Mnemonic: profile.VMExit},
	}
	_, _, ok := CouldHaveJCC(vinstrs, 0x140000000, 0x10000, 0x140000000, stubSections{})
	if ok {
		t.Fatalf("expected none when block ends in vmexit")
	}
}
