package vmimage

import "testing"

func TestVMContextTranslate(t *testing.T) {
	c := &VMContext{ModuleBase: 0x7fff0000, ImageBase: 0x140000000}
	got := c.Translate(0x140002000)
	want := uint64(0x7fff0000 + 0x2000)
	if got != want {
		t.Fatalf("Translate() = 0x%x, want 0x%x", got, want)
	}
}

func TestVMContextInImage(t *testing.T) {
	c := &VMContext{ImageBase: 0x140000000, ImageSize: 0x10000}
	if !c.InImage(0x140005000) {
		t.Fatalf("expected 0x140005000 to be in image")
	}
	if c.InImage(0x140020000) {
		t.Fatalf("did not expect 0x140020000 to be in image")
	}
}

func TestSectionHelperExecutable(t *testing.T) {
	h := &SectionHelper{sections: []section{
		{virtualAddress: 0x1000, virtualSize: 0x1000, executable: true},
		{virtualAddress: 0x2000, virtualSize: 0x1000, executable: false},
	}}
	const moduleBase = 0x140000000

	if !h.Executable(moduleBase, moduleBase+0x1500) {
		t.Fatalf("expected 0x1500 to be executable")
	}
	if h.Executable(moduleBase, moduleBase+0x2500) {
		t.Fatalf("did not expect 0x2500 to be executable")
	}
	if h.Executable(moduleBase, moduleBase+0x9000) {
		t.Fatalf("address outside all sections must not be executable")
	}
}
