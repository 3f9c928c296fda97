//go:build unicorn
// +build unicorn

package harness

import (
	"testing"

	"golang.org/x/arch/x86/x86asm"

	"github.com/Thiviyan/VMEMU3/config"
	"github.com/Thiviyan/VMEMU3/profile"
	"github.com/Thiviyan/VMEMU3/vblk"
	"github.com/Thiviyan/VMEMU3/vmimage"
)

// vmExitHandlerRVA is where the second (vmexit) handler starts, right
// after the first (VIP-discovery prologue) handler.
const vmExitHandlerRVA = 11

// straightLineExitImage encodes the minimal VMENTER scenario 1 spec.md
// §8 describes, plus the VIP-discovery prologue spec.md §4.2 step 5c
// requires before any handler can be classified: a first handler that
// writes the VIP register and ends in ret (consumed as the prologue,
// no v-instruction emitted), then a second handler that classifies as
// vmexit.
//
//	movabs rsi, 0x2000 ; ret
//	movabs rax, 0xdeadbeef ; mov dword ptr [rsi], eax ; ret
func straightLineExitImage() []byte {
	code := []byte{
		0x48, 0xBE, 0x00, 0x20, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // movabs rsi, 0x2000
		0xC3, // ret
		0x48, 0xB8, 0xEF, 0xBE, 0xAD, 0xDE, 0x00, 0x00, 0x00, 0x00, // movabs rax, 0xdeadbeef
		0x89, 0x06, // mov dword ptr [rsi], eax
		0xC3, // ret
	}
	buf := make([]byte, 0x1000)
	copy(buf, code)
	return buf
}

func TestHarnessStraightLineVMExit(t *testing.T) {
	ctx := vmimage.NewVMContext(0x140000000, 0x140000000, 0x1000, 0, x86asm.RSI, x86asm.RDI, straightLineExitImage())
	registry := &stubRegistry{}
	h := New(ctx, registry, stubSections{}, config.DefaultOptions())
	defer h.Close()

	if err := h.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}

	// The prologue's ret pops its target off the native stack, exactly
	// as a VM handler's push/ret dispatch would; seed it with the
	// vmexit handler's address so the ret lands there.
	stackTop := config.StackBase + config.StackSize - config.StackTopReserve
	if err := h.mu.MemWrite(stackTop, leBytes(ctx.ModuleBase+vmExitHandlerRVA)); err != nil {
		t.Fatalf("seed return address: %v", err)
	}

	rtn := vblk.NewRoutine(ctx.VMEntryRVA)
	if err := h.Emulate(rtn, ctx.VMEntryRVA); err != nil {
		t.Fatalf("Emulate: %v", err)
	}

	if len(rtn.Blocks) != 1 {
		t.Fatalf("got %d blocks, want 1", len(rtn.Blocks))
	}
	b := rtn.Blocks[0]
	if b.BranchKind != vblk.BranchVMExit {
		t.Fatalf("BranchKind = %v, want vmexit", b.BranchKind)
	}
	if len(b.Branches) != 0 {
		t.Fatalf("Branches = %v, want empty", b.Branches)
	}
}

type stubRegistry struct{}

func (stubRegistry) Describe(m profile.Mnemonic) string { return m.String() }

func (stubRegistry) Classify(vipReg, vspReg x86asm.Reg, trace []profile.CanonicalInstruction) (profile.VInstruction, error) {
	return profile.VInstruction{Mnemonic: profile.VMExit}, nil
}

type stubSections struct{}

func (stubSections) Executable(moduleBase, address uint64) bool { return true }
