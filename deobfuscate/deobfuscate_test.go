package deobfuscate

import (
	"testing"

	"golang.org/x/arch/x86/x86asm"

	"github.com/Thiviyan/VMEMU3/decode"
	"github.com/Thiviyan/VMEMU3/trace"
)

type fakeSnapshot struct{ released *bool }

func (f fakeSnapshot) Release() { *f.released = true }

func push(t *testing.T, tr *trace.Trace, code []byte, addr uint64) *bool {
	t.Helper()
	inst, err := decode.Decode(code, addr)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	released := false
	tr.Append(inst, fakeSnapshot{&released}, []byte{0})
	return &released
}

func TestRunRemovesNops(t *testing.T) {
	tr := trace.New(x86asm.RSI, x86asm.RDI)
	push(t, tr, []byte{0x90}, 0x1000)                // nop
	keep := push(t, tr, []byte{0x48, 0x89, 0xC6}, 0x1001) // mov rsi, rax

	Run(tr)

	if tr.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", tr.Len())
	}
	if *keep {
		t.Fatalf("surviving record's snapshot must not be released")
	}
}

func TestRunIsIdempotent(t *testing.T) {
	tr := trace.New(x86asm.RSI, x86asm.RDI)
	push(t, tr, []byte{0x90}, 0x1000)
	push(t, tr, []byte{0x48, 0x89, 0xC6}, 0x1001)

	Run(tr)
	first := len(tr.Records)
	Run(tr)
	if len(tr.Records) != first {
		t.Fatalf("second Run changed trace length: %d -> %d", first, len(tr.Records))
	}
}

func TestRunCollapsesDeadPairAcrossIntermediateNop(t *testing.T) {
	tr := trace.New(x86asm.RSI, x86asm.RDI)
	push(t, tr, []byte{0x48, 0xC7, 0xC0, 0x01, 0x00, 0x00, 0x00}, 0x1000) // mov rax, 1
	push(t, tr, []byte{0x90}, 0x1007)                                    // nop
	keep := push(t, tr, []byte{0x48, 0xC7, 0xC0, 0x02, 0x00, 0x00, 0x00}, 0x1008) // mov rax, 2

	Run(tr)

	if tr.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 (nop and dead first mov both dropped)", tr.Len())
	}
	if *keep {
		t.Fatalf("surviving record's snapshot must not be released")
	}

	first := len(tr.Records)
	Run(tr)
	if len(tr.Records) != first {
		t.Fatalf("second Run changed trace length: %d -> %d, Run is not idempotent", first, len(tr.Records))
	}
}

func TestSliceToRVAFetchTruncatesTail(t *testing.T) {
	tr := trace.New(x86asm.RSI, x86asm.RDI)
	push(t, tr, []byte{0x8B, 0x06}, 0x1000)           // mov eax, [rsi]  (RVA fetch)
	tail := push(t, tr, []byte{0x48, 0x89, 0xC6}, 0x1002) // mov rsi, rax

	ok := SliceToRVAFetch(tr, x86asm.RSI)
	if !ok {
		t.Fatalf("expected RVA fetch to be found")
	}
	if tr.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", tr.Len())
	}
	if !*tail {
		t.Fatalf("truncated tail snapshot must be released")
	}
}

func TestSliceToRVAFetchIdempotent(t *testing.T) {
	tr := trace.New(x86asm.RSI, x86asm.RDI)
	push(t, tr, []byte{0x8B, 0x06}, 0x1000)
	push(t, tr, []byte{0x48, 0x89, 0xC6}, 0x1002)

	SliceToRVAFetch(tr, x86asm.RSI)
	first := len(tr.Records)
	SliceToRVAFetch(tr, x86asm.RSI)
	if len(tr.Records) != first {
		t.Fatalf("second slice changed trace length: %d -> %d", first, len(tr.Records))
	}
}
