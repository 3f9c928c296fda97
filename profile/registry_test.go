package profile

import (
	"testing"

	"golang.org/x/arch/x86/x86asm"

	"github.com/Thiviyan/VMEMU3/decode"
)

func mustDecode(t *testing.T, code []byte, addr uint64) decode.Instruction {
	t.Helper()
	inst, err := decode.Decode(code, addr)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return inst
}

func TestDefaultRegistryClassifiesLConst64(t *testing.T) {
	// movabs rax, 0x140002000
	code := []byte{0x48, 0xB8, 0x00, 0x20, 0x00, 0x40, 0x01, 0x00, 0x00, 0x00}
	trace := []CanonicalInstruction{mustDecode(t, code, 0x1000)}

	r := NewDefaultRegistry()
	vi, err := r.Classify(x86asm.RSI, x86asm.RDI, trace)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if vi.Mnemonic != LConst {
		t.Fatalf("Mnemonic = %v, want lconst", vi.Mnemonic)
	}
	if !vi.IsLConst64() {
		t.Fatalf("expected 64-bit lconst, got size %d", vi.Imm.SizeBits)
	}
	if vi.Imm.Value != 0x140002000 {
		t.Fatalf("Value = 0x%x, want 0x140002000", vi.Imm.Value)
	}
}

func TestDefaultRegistrySReg(t *testing.T) {
	// mov eax, dword ptr [rdi]
	code := []byte{0x8B, 0x07}
	trace := []CanonicalInstruction{mustDecode(t, code, 0x2000)}

	r := NewDefaultRegistry()
	vi, err := r.Classify(x86asm.RSI, x86asm.RDI, trace)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if vi.Mnemonic != SReg {
		t.Fatalf("Mnemonic = %v, want sreg", vi.Mnemonic)
	}
}

func TestDefaultRegistryUnknown(t *testing.T) {
	// nop
	code := []byte{0x90}
	trace := []CanonicalInstruction{mustDecode(t, code, 0x3000)}

	r := NewDefaultRegistry()
	vi, err := r.Classify(x86asm.RSI, x86asm.RDI, trace)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if vi.Mnemonic != Unknown {
		t.Fatalf("Mnemonic = %v, want unknown", vi.Mnemonic)
	}
}
