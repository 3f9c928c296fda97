//go:build unicorn
// +build unicorn

package harness

import (
	"fmt"

	uc "github.com/unicorn-engine/unicorn/bindings/go/unicorn"

	"github.com/Thiviyan/VMEMU3/config"
	"github.com/Thiviyan/VMEMU3/decode"
	"github.com/Thiviyan/VMEMU3/deobfuscate"
	"github.com/Thiviyan/VMEMU3/log"
	"github.com/Thiviyan/VMEMU3/profile"
	"github.com/Thiviyan/VMEMU3/trace"
	"github.com/Thiviyan/VMEMU3/vblk"
)

// onCode is the tracing callback, spec.md §4.2. It fires on every native
// instruction executed inside the module range.
func (h *Harness) onCode(mu uc.Unicorn, address uint64, size uint32) {
	code, err := mu.MemRead(address, uint64(size))
	if err != nil {
		h.logger.Error(log.ModuleHarness, "read code failed, stopping", "addr", address, "err", err)
		mu.Stop()
		return
	}

	inst, err := decode.Decode(code, address)
	if err != nil {
		h.logger.Error(log.ModuleHarness, "decode failed, stopping", "addr", address, "err", err)
		mu.Stop()
		return
	}
	if inst.IsInvalid() {
		return
	}

	snap, err := h.snapshotNow()
	if err != nil {
		h.logger.Error(log.ModuleHarness, "snapshot failed, stopping", "addr", address, "err", err)
		mu.Stop()
		return
	}

	stack, err := mu.MemRead(config.StackBase, trace.StackCopySize)
	if err != nil {
		stack = nil
	}
	h.tr.Append(inst, snap, stack)

	h.nativeInstrCount++
	if h.opts.MaxNativeInstructionsPerBlock > 0 && h.nativeInstrCount >= h.opts.MaxNativeInstructionsPerBlock {
		h.logger.Warn(log.ModuleHarness, "native instruction cap reached, stopping", "addr", address)
		mu.Stop()
		return
	}

	if !inst.IsHandlerTerminator() {
		return
	}

	h.onHandlerTerminator(mu)
}

// onHandlerTerminator implements spec.md §4.2 step 5: deobfuscate, slice
// to the RVA fetch, either discover the block's VIP or classify a
// v-instruction, and act on jmp/vmexit.
func (h *Harness) onHandlerTerminator(mu uc.Unicorn) {
	deobfuscate.Run(h.tr)
	deobfuscate.SliceToRVAFetch(h.tr, h.tr.VIPReg)

	if !h.block.VIP.IsSet() {
		h.discoverBlockVIP(mu)
		h.tr.Clear()
		return
	}

	vi, err := h.registry.Classify(h.tr.VIPReg, h.tr.VSPReg, h.tr.Instructions())
	if err != nil {
		h.logger.Error(log.ModuleHarness, "classify failed, stopping", "err", err)
		mu.Stop()
		return
	}
	if vi.Mnemonic == profile.Unknown {
		h.handleUnknown(vi)
	}

	h.block.Append(vi)
	h.tr.SetRegs(h.ctx.GetVIP(), h.ctx.GetVSP())

	switch vi.Mnemonic {
	case profile.Jmp:
		h.captureJmpSnapshot()
		h.tr.Clear()
		mu.Stop()
	case profile.VMExit:
		h.block.Resolve(vblk.BranchVMExit)
		h.tr.Clear()
		mu.Stop()
	default:
		h.tr.Clear()
	}
}

// discoverBlockVIP implements spec.md §4.2 step 5c: when the block has
// no vip yet, this handler is the VM prologue. It restores the snapshot
// of the last instruction that wrote the VIP register, reads that
// register's live value, restores the real live state, and derives the
// block's rva/img_base pair.
func (h *Harness) discoverBlockVIP(mu uc.Unicorn) {
	idx, ok := deobfuscate.LastVIPWrite(h.tr, h.tr.VIPReg)
	if !ok {
		h.logger.Warn(log.ModuleHarness, "prologue handler never wrote VIP register")
		return
	}

	live, err := h.snapshotNow()
	if err != nil {
		h.logger.Error(log.ModuleHarness, "snapshot live state failed", "err", err)
		return
	}
	defer live.Release()

	if err := h.restoreSnapshot(h.tr.Records[idx].Snapshot); err != nil {
		h.logger.Error(log.ModuleHarness, "restore VIP-write snapshot failed", "err", err)
		return
	}

	regID, ok := nativeRegID(h.tr.VIPReg)
	if !ok {
		h.logger.Error(log.ModuleHarness, "no native register mapping for VIP register")
		h.restoreSnapshot(live)
		return
	}
	vipAddr, err := mu.RegRead(regID)
	if err != nil {
		h.logger.Error(log.ModuleHarness, "read VIP register failed", "err", err)
		h.restoreSnapshot(live)
		return
	}

	if err := h.restoreSnapshot(live); err != nil {
		h.logger.Error(log.ModuleHarness, "restore live state failed", "err", err)
		return
	}

	h.block.SetVIP(vipAddr-h.ctx.ModuleBase, vipAddr-h.ctx.ModuleBase+h.ctx.ImageBase)
}

// captureJmpSnapshot implements spec.md §4.2 step 5f: clones the
// snapshot of the handler's first instruction into block.jmp_snapshot,
// together with a copy of the trace's stack buffer.
func (h *Harness) captureJmpSnapshot() {
	first, ok := h.tr.First()
	if !ok {
		return
	}
	clone, err := h.cloneSnapshot(first.Snapshot)
	if err != nil {
		h.logger.Error(log.ModuleHarness, "clone jmp snapshot failed", "err", err)
		return
	}
	stack := make([]byte, len(h.tr.Stack))
	copy(stack, h.tr.Stack)
	h.block.CaptureJmpSnapshot(clone, stack)
}

// handleUnknown implements the classifier-returned-unknown policy knob
// spec.md §7 leaves to configuration: development mode stalls and dumps
// the raw native trace for inspection, production mode just logs and
// lets the block be recorded as un-devirtualized.
func (h *Harness) handleUnknown(vi profile.VInstruction) {
	if !h.opts.StallOnUnknown {
		h.logger.Warn(log.ModuleHarness, "unknown v-instruction, recording and continuing")
		return
	}
	h.logger.Warn(log.ModuleHarness, "unknown v-instruction in development mode, dumping trace", "trace_len", h.tr.Len())
	for _, r := range h.tr.Records {
		h.logger.Warn(log.ModuleHarness, "unknown v-instruction trace", "addr", r.Decoded.Addr, "inst", r.Decoded.String())
	}
	h.logger.Warn(log.ModuleHarness, "stalled for inspection, press enter to continue")
	fmt.Scanln()
}
