//go:build unicorn
// +build unicorn

package harness

import (
	uc "github.com/unicorn-engine/unicorn/bindings/go/unicorn"

	"github.com/Thiviyan/VMEMU3/config"
	"github.com/Thiviyan/VMEMU3/decode"
	"github.com/Thiviyan/VMEMU3/deobfuscate"
	"github.com/Thiviyan/VMEMU3/log"
	"github.com/Thiviyan/VMEMU3/profile"
	"github.com/Thiviyan/VMEMU3/resolver"
	"github.com/Thiviyan/VMEMU3/trace"
	"github.com/Thiviyan/VMEMU3/vblk"
)

// resolveBranch implements the tail of spec.md §4.1's emulate(): once a
// block ends in jmp, decide whether it is really a jcc by running
// could_have_jcc and, if it matches, validating both candidates via
// speculative re-execution (spec.md §4.5-4.6).
func (h *Harness) resolveBranch(b *vblk.Block) {
	a1, a2, ok := resolver.CouldHaveJCC(b.VInstrs, h.ctx.ImageBase, h.ctx.ImageSize, h.ctx.ModuleBase, h.sections)
	if !ok {
		b.Resolve(vblk.BranchAbsolute)
		return
	}

	m1 := h.ctx.Translate(a1)
	m2 := h.ctx.Translate(a2)

	v1 := h.validateCandidate(b, m1)
	v2 := h.validateCandidate(b, m2)

	if v1 && v2 {
		b.Resolve(vblk.BranchJCC, a1, a2)
		return
	}
	b.Resolve(vblk.BranchAbsolute)
}

// validateCandidate implements spec.md §4.5's speculative re-execution
// protocol for one candidate branch_addr (already translated to
// module-base space).
func (h *Harness) validateCandidate(b *vblk.Block, branchAddr uint64) bool {
	if b.JmpSnapshot == nil {
		return false
	}
	h.tr.Clear()

	if err := h.mu.HookDel(h.tracingHook); err != nil {
		h.logger.Error(log.ModuleHarness, "resolver: uninstall tracing hook failed", "err", err)
		return false
	}
	defer func() {
		hook, err := h.mu.HookAdd(uc.HOOK_CODE, h.onCode, h.ctx.ModuleBase, h.ctx.ModuleBase+uint64(len(h.ctx.Bytes())))
		if err != nil {
			h.logger.Error(log.ModuleHarness, "resolver: reinstall tracing hook failed", "err", err)
			return
		}
		h.tracingHook = hook
	}()

	specHook, err := h.mu.HookAdd(uc.HOOK_CODE, h.onSpeculativeCode, h.ctx.ModuleBase, h.ctx.ModuleBase+uint64(len(h.ctx.Bytes())))
	if err != nil {
		h.logger.Error(log.ModuleHarness, "resolver: install speculative hook failed", "err", err)
		return false
	}
	h.speculativeHook = specHook
	defer func() {
		h.mu.HookDel(h.speculativeHook)
	}()

	if err := h.restoreSnapshot(b.JmpSnapshot.CPU); err != nil {
		h.logger.Error(log.ModuleHarness, "resolver: restore jmp_snapshot.cpu failed", "err", err)
		return false
	}
	if err := h.mu.MemWrite(config.StackBase, b.JmpSnapshot.Stack); err != nil {
		h.logger.Error(log.ModuleHarness, "resolver: restore jmp_snapshot.stack failed", "err", err)
		return false
	}

	vspID, ok := nativeRegID(h.ctx.GetVSP())
	if !ok {
		return false
	}
	vsp, err := h.mu.RegRead(vspID)
	if err != nil {
		return false
	}
	if err := h.mu.MemWrite(vsp, leBytes(branchAddr)); err != nil {
		h.logger.Error(log.ModuleHarness, "resolver: overwrite [VSP] with candidate failed", "err", err)
		return false
	}

	h.sregCount = 0
	h.specActive = true
	defer func() { h.specActive = false }()

	rip, err := h.mu.RegRead(uc.X86_REG_RIP)
	if err != nil {
		return false
	}
	if err := h.mu.Start(rip, 0); err != nil {
		h.logger.Warn(log.ModuleHarness, "resolver: speculative run faulted", "err", err)
	}

	return h.sregCount == config.SpeculativeSregThreshold
}

// onSpeculativeCode is the speculative code hook spec.md §4.5 step 2
// describes: it reuses the tracing logic, but after classification only
// sreg is tolerated, and it stops after 10 consecutive sregs.
func (h *Harness) onSpeculativeCode(mu uc.Unicorn, address uint64, size uint32) {
	code, err := mu.MemRead(address, uint64(size))
	if err != nil {
		mu.Stop()
		return
	}
	inst, err := decode.Decode(code, address)
	if err != nil {
		mu.Stop()
		return
	}
	if inst.IsInvalid() {
		return
	}

	snap, err := h.snapshotNow()
	if err != nil {
		mu.Stop()
		return
	}

	stack, _ := mu.MemRead(config.StackBase, trace.StackCopySize)
	h.tr.Append(inst, snap, stack)

	if !inst.IsHandlerTerminator() {
		return
	}

	deobfuscate.Run(h.tr)
	deobfuscate.SliceToRVAFetch(h.tr, h.tr.VIPReg)

	vi, err := h.registry.Classify(h.tr.VIPReg, h.tr.VSPReg, h.tr.Instructions())
	h.tr.Clear()
	if err != nil || vi.Mnemonic != profile.SReg || !isToleratedSregImm(vi.Imm) {
		mu.Stop()
		return
	}

	h.sregCount++
	if h.sregCount >= config.SpeculativeSregThreshold {
		mu.Stop()
	}
}

// isToleratedSregImm implements the sreg immediate shape vmemu_t.cpp's
// branch_pred_spec_exec requires during speculative validation: a
// virtual-register index (an 8-bit immediate), not an arbitrary constant.
func isToleratedSregImm(imm profile.Immediate) bool {
	return imm.HasImm && imm.SizeBits == config.SregImmSizeBits && imm.Value <= config.SregImmMax
}

func leBytes(v uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
	return b
}
