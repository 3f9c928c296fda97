//go:build unicorn
// +build unicorn

package harness

import (
	uc "github.com/unicorn-engine/unicorn/bindings/go/unicorn"

	"github.com/Thiviyan/VMEMU3/config"
	"github.com/Thiviyan/VMEMU3/decode"
	"github.com/Thiviyan/VMEMU3/log"
)

// onInterrupt implements spec.md §4.7's interrupt hook: decode the
// instruction at RIP and advance RIP past it, silently skipping the
// integer-overflow/DIV-by-zero traps the obfuscator inserts as
// anti-analysis (scenario 5 of spec.md §8).
func (h *Harness) onInterrupt(mu uc.Unicorn, intno uint32) {
	rip, err := mu.RegRead(uc.X86_REG_RIP)
	if err != nil {
		h.logger.Error(log.ModuleHarness, "interrupt hook: read RIP failed", "err", err)
		return
	}
	code, err := mu.MemRead(rip, 15)
	if err != nil {
		h.logger.Error(log.ModuleHarness, "interrupt hook: read faulting instruction failed", "err", err)
		return
	}
	inst, err := decode.Decode(code, rip)
	if err != nil {
		h.logger.Warn(log.ModuleHarness, "interrupt hook: could not decode faulting instruction, advancing by 1", "rip", rip)
		mu.RegWrite(uc.X86_REG_RIP, rip+1)
		return
	}
	mu.RegWrite(uc.X86_REG_RIP, rip+uint64(inst.Len()))
}

// onInvalidMem implements spec.md §4.7's unmapped-memory hook. Read and
// write faults auto-map one 4 KiB page and continue; fetch faults
// synthesize a return, popping [RSP] into RIP, so a handler that tries
// to call out of the module exits gracefully instead of crashing the
// emulation (scenario 6 of spec.md §8).
func (h *Harness) onInvalidMem(mu uc.Unicorn, access int, address uint64, size int, value int64) bool {
	switch access {
	case uc.MEM_READ_UNMAPPED, uc.MEM_WRITE_UNMAPPED:
		pageAddr := address &^ (config.PageSize - 1)
		if err := mu.MemMap(pageAddr, config.PageSize); err != nil {
			h.logger.Error(log.ModuleHarness, "auto-map page failed", "addr", address, "err", err)
			return false
		}
		return true

	case uc.MEM_FETCH_UNMAPPED:
		return h.synthesizeReturn(mu)

	default:
		return false
	}
}

// synthesizeReturn implements the fetch-unmapped repair: pop the return
// address off the stack into RIP and bump RSP by 8.
func (h *Harness) synthesizeReturn(mu uc.Unicorn) bool {
	rsp, err := mu.RegRead(uc.X86_REG_RSP)
	if err != nil {
		return false
	}
	retAddrBytes, err := mu.MemRead(rsp, 8)
	if err != nil {
		return false
	}
	retAddr := leUint64(retAddrBytes)
	if err := mu.RegWrite(uc.X86_REG_RIP, retAddr); err != nil {
		return false
	}
	if err := mu.RegWrite(uc.X86_REG_RSP, rsp+8); err != nil {
		return false
	}
	return true
}

func leUint64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8 && i < len(b); i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}
