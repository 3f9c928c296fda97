package trace

import (
	"testing"

	"golang.org/x/arch/x86/x86asm"

	"github.com/Thiviyan/VMEMU3/decode"
)

type fakeSnapshot struct {
	released *bool
}

func (f fakeSnapshot) Release() { *f.released = true }

func newFakeSnapshot() (fakeSnapshot, *bool) {
	b := false
	return fakeSnapshot{released: &b}, &b
}

func decodeOne(t *testing.T, code []byte, addr uint64) decode.Instruction {
	t.Helper()
	inst, err := decode.Decode(code, addr)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return inst
}

func TestTraceAppendCapturesStackOnce(t *testing.T) {
	tr := New(x86asm.RSI, x86asm.RDI)
	s1, _ := newFakeSnapshot()
	s2, _ := newFakeSnapshot()

	tr.Append(decodeOne(t, []byte{0x90}, 0x1000), s1, []byte{1, 2, 3})
	tr.Append(decodeOne(t, []byte{0x90}, 0x1001), s2, []byte{9, 9, 9})

	if tr.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", tr.Len())
	}
	if len(tr.Stack) != 3 || tr.Stack[0] != 1 {
		t.Fatalf("Stack captured from later Append call, want first-call snapshot")
	}
}

func TestTraceClearReleasesAllSnapshots(t *testing.T) {
	tr := New(x86asm.RSI, x86asm.RDI)
	s1, r1 := newFakeSnapshot()
	s2, r2 := newFakeSnapshot()
	tr.Append(decodeOne(t, []byte{0x90}, 0x1000), s1, []byte{1})
	tr.Append(decodeOne(t, []byte{0x90}, 0x1001), s2, []byte{1})

	tr.Clear()

	if !*r1 || !*r2 {
		t.Fatalf("Clear did not release all snapshots")
	}
	if tr.Len() != 0 {
		t.Fatalf("Len() = %d after Clear, want 0", tr.Len())
	}
}

func TestTraceTruncateAfterReleasesTail(t *testing.T) {
	tr := New(x86asm.RSI, x86asm.RDI)
	s1, r1 := newFakeSnapshot()
	s2, r2 := newFakeSnapshot()
	s3, r3 := newFakeSnapshot()
	tr.Append(decodeOne(t, []byte{0x90}, 0x1000), s1, []byte{1})
	tr.Append(decodeOne(t, []byte{0x90}, 0x1001), s2, []byte{1})
	tr.Append(decodeOne(t, []byte{0x90}, 0x1002), s3, []byte{1})

	tr.TruncateAfter(0)

	if tr.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", tr.Len())
	}
	if *r1 {
		t.Fatalf("kept record's snapshot must not be released")
	}
	if !*r2 || !*r3 {
		t.Fatalf("truncated records' snapshots must be released")
	}
}
