package decode

import (
	"testing"

	"golang.org/x/arch/x86/x86asm"
)

func TestIsHandlerTerminator(t *testing.T) {
	cases := []struct {
		name string
		code []byte
		want bool
	}{
		{"ret", []byte{0xC3}, true},
		{"jmp_rsi", []byte{0xFF, 0xE6}, true},          // jmp rsi
		{"jmp_rel32", []byte{0xE9, 0x00, 0x00, 0x00, 0x00}, false},
		{"mov_eax_ecx", []byte{0x89, 0xC8}, false},
	}
	for _, c := range cases {
		inst, err := Decode(c.code, 0x1000)
		if err != nil {
			t.Fatalf("%s: decode: %v", c.name, err)
		}
		if got := inst.IsHandlerTerminator(); got != c.want {
			t.Errorf("%s: IsHandlerTerminator() = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestIsRVAFetch(t *testing.T) {
	// mov eax, dword ptr [rsi]
	code := []byte{0x8B, 0x06}
	inst, err := Decode(code, 0x2000)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !inst.IsRVAFetch(x86asm.RSI) {
		t.Fatalf("expected RVA fetch against RSI")
	}
	if inst.IsRVAFetch(x86asm.RDI) {
		t.Fatalf("did not expect RVA fetch against RDI")
	}
}

func TestWritesRegister(t *testing.T) {
	// mov rsi, rax
	code := []byte{0x48, 0x89, 0xC6}
	inst, err := Decode(code, 0x3000)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !inst.WritesRegister(x86asm.RSI) {
		t.Fatalf("expected write to RSI")
	}
	if inst.WritesRegister(x86asm.RAX) {
		t.Fatalf("did not expect write to RAX")
	}
}
