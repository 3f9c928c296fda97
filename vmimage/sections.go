package vmimage

import (
	"debug/pe"
	"fmt"
)

// section is the slice of a PE section header this helper needs,
// captured independently of *pe.File so SectionHelper can outlive the
// file handle the loader closed after flattening the image.
type section struct {
	virtualAddress uint32
	virtualSize    uint32
	executable     bool
}

// SectionHelper answers resolver.SectionHelper's Executable question by
// consulting the protected module's own PE section table (spec.md §6).
type SectionHelper struct {
	sections []section
}

// NewSectionHelper opens path and records each section's bounds and
// IMAGE_SCN_MEM_EXECUTE bit.
func NewSectionHelper(path string) (*SectionHelper, error) {
	f, err := pe.Open(path)
	if err != nil {
		return nil, fmt.Errorf("vmimage: open %s: %w", path, err)
	}
	defer f.Close()

	h := &SectionHelper{}
	for _, s := range f.Sections {
		h.sections = append(h.sections, section{
			virtualAddress: s.VirtualAddress,
			virtualSize:    s.VirtualSize,
			executable:     s.Characteristics&pe.IMAGE_SCN_MEM_EXECUTE != 0,
		})
	}
	return h, nil
}

// Executable reports whether address, a module_base-relative runtime
// address, falls within an executable section.
func (h *SectionHelper) Executable(moduleBase, address uint64) bool {
	if address < moduleBase {
		return false
	}
	rva := address - moduleBase
	for _, s := range h.sections {
		start := uint64(s.virtualAddress)
		end := start + uint64(s.virtualSize)
		if rva >= start && rva < end {
			return s.executable
		}
	}
	return false
}
