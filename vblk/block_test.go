package vblk

import (
	"testing"

	"golang.org/x/arch/x86/x86asm"

	"github.com/Thiviyan/VMEMU3/profile"
)

type fakeSnapshot struct{ released *bool }

func (f fakeSnapshot) Release() { *f.released = true }

func TestSetVIPOnlySetsOnce(t *testing.T) {
	b := NewBlock(VMRegs{VIPReg: x86asm.RSI, VSPReg: x86asm.RDI})
	b.SetVIP(0x1000, 0x140001000)
	b.SetVIP(0x2000, 0x140002000)

	if b.VIP.RVA != 0x1000 || b.VIP.ImgBase != 0x140001000 {
		t.Fatalf("VIP = %+v, want first assignment to stick", b.VIP)
	}
}

func TestCaptureJmpSnapshotReleasesPrevious(t *testing.T) {
	b := NewBlock(VMRegs{})
	released1 := false
	b.CaptureJmpSnapshot(fakeSnapshot{&released1}, []byte{1})
	released2 := false
	b.CaptureJmpSnapshot(fakeSnapshot{&released2}, []byte{2})

	if !released1 {
		t.Fatalf("first snapshot should be released when replaced")
	}
	if released2 {
		t.Fatalf("current snapshot must not be released yet")
	}
	b.Release()
	if !released2 {
		t.Fatalf("Release must release the current snapshot")
	}
}

func TestRoutineByVIPDedupes(t *testing.T) {
	r := NewRoutine(0x1000)
	b := NewBlock(VMRegs{})
	b.SetVIP(0x1000, 0x140001000)
	b.Append(profile.VInstruction{Mnemonic: profile.VMExit})
	b.Resolve(BranchVMExit)
	r.AddBlock(b)

	if got := r.ByVIP(0x1000); got != b {
		t.Fatalf("ByVIP did not return the added block")
	}
	if got := r.ByVIP(0x9999); got != nil {
		t.Fatalf("ByVIP found a block that was never added")
	}
}

func TestRoutineGraphAddsStubsForUnvisitedTargets(t *testing.T) {
	r := NewRoutine(0x1000)
	b := NewBlock(VMRegs{})
	b.SetVIP(0x1000, 0x140001000)
	// Branches carry image-base-relative addresses, matching the space
	// b.VIP.ImgBase (0x140001000) lives in — imageBase is 0x140000000.
	b.Resolve(BranchAbsolute, 0x140002000)
	r.AddBlock(b)

	g, err := r.Graph()
	if err != nil {
		t.Fatalf("Graph: %v", err)
	}
	order, err := g.Order()
	if err != nil {
		t.Fatalf("Order: %v", err)
	}
	if order != 2 {
		t.Fatalf("Order() = %d, want 2 (traced block + stub)", order)
	}

	if _, err := g.Vertex(0x2000); err != nil {
		t.Fatalf("expected a stub vertex translated to RVA 0x2000: %v", err)
	}
}
