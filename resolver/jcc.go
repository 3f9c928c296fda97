// Package resolver implements the branch resolver of spec.md §4.5-4.6:
// the could_have_jcc predicate that spots a block's virtual-jump tail
// shape, and the section helper contract needed to validate candidate
// targets before the harness spends a speculative re-execution on them.
package resolver

import (
	"github.com/Thiviyan/VMEMU3/profile"
)

// SectionHelper answers whether an address (already translated to
// module-base space) lies in executable memory (spec.md §6). This is
// the out-of-scope section-attribute helper; vmimage supplies the
// default PE-backed implementation.
type SectionHelper interface {
	Executable(moduleBase, address uint64) bool
}

// CouldHaveJCC implements spec.md §4.6: given a block's ordered
// v-instructions plus the image bounds and section helper needed to
// validate candidates, it returns the two addresses a true conditional
// branch would need to validate, or ok=false if the block's shape
// rules that out.
func CouldHaveJCC(vinstrs []profile.VInstruction, imageBase, imageSize, moduleBase uint64, sections SectionHelper) (addr1, addr2 uint64, ok bool) {
	if len(vinstrs) == 0 {
		return 0, 0, false
	}
	if vinstrs[len(vinstrs)-1].Mnemonic == profile.VMExit {
		return 0, 0, false
	}

	var lconst64s []uint64
	for _, vi := range vinstrs {
		if vi.IsLConst64() {
			lconst64s = append(lconst64s, vi.Imm.Value)
		}
	}
	if len(lconst64s) < 3 {
		return 0, 0, false
	}

	a1 := lconst64s[len(lconst64s)-2]
	a2 := lconst64s[len(lconst64s)-1]

	imageEnd := imageBase + imageSize
	if a1 < imageBase || a1 >= imageEnd || a2 < imageBase || a2 >= imageEnd {
		return 0, 0, false
	}

	m1 := a1 - imageBase + moduleBase
	m2 := a2 - imageBase + moduleBase
	if !sections.Executable(moduleBase, m1) || !sections.Executable(moduleBase, m2) {
		return 0, 0, false
	}

	return a1, a2, true
}
