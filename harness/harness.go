//go:build unicorn
// +build unicorn

// Package harness implements the emulator harness of spec.md §4.1: it
// owns a Unicorn CPU emulator instance, the flat physical memory map of
// the guard stack and the protected module's image, and the three hook
// registrations that drive tracing, interrupt repair, and unmapped-
// memory repair while a virtual routine is emulated.
package harness

import (
	"errors"
	"fmt"

	uc "github.com/unicorn-engine/unicorn/bindings/go/unicorn"

	"github.com/Thiviyan/VMEMU3/config"
	"github.com/Thiviyan/VMEMU3/log"
	"github.com/Thiviyan/VMEMU3/profile"
	"github.com/Thiviyan/VMEMU3/resolver"
	"github.com/Thiviyan/VMEMU3/trace"
	"github.com/Thiviyan/VMEMU3/vblk"
	"github.com/Thiviyan/VMEMU3/vmimage"
)

var (
	errInvalidSnapshot = errors.New("harness: snapshot not owned by this harness")
	errNotInitialized  = errors.New("harness: Init was not called or failed")
)

// Harness drives emulation of one virtual routine at a time. A Harness
// is not safe for concurrent use — spec.md §5 mandates single-threaded,
// cooperative scheduling with the emulator.
type Harness struct {
	mu  uc.Unicorn
	ctx *vmimage.VMContext

	registry profile.Registry
	sections resolver.SectionHelper
	opts     config.Options
	logger   log.Logger

	tracingHook uc.Hook
	intrHook    uc.Hook
	faultHook   uc.Hook

	speculativeHook uc.Hook
	specActive      bool
	sregCount       int

	tr    *trace.Trace
	block *vblk.Block
	rtn   *vblk.Routine

	nativeInstrCount int
	initialized      bool
}

// New returns a Harness ready to be Init'd.
func New(ctx *vmimage.VMContext, registry profile.Registry, sections resolver.SectionHelper, opts config.Options) *Harness {
	return &Harness{
		ctx:      ctx,
		registry: registry,
		sections: sections,
		opts:     opts,
		logger:   log.New(),
	}
}

// Init allocates the emulator, creates the stack and module mappings,
// and installs the tracing, interrupt, and fault hooks (spec.md §4.1).
// The harness is unusable if Init returns an error.
func (h *Harness) Init() error {
	mu, err := uc.NewUnicorn(uc.ARCH_X86, uc.MODE_64)
	if err != nil {
		return fmt.Errorf("harness: new emulator: %w", err)
	}
	h.mu = mu

	if err := h.mapStack(); err != nil {
		return err
	}
	if err := h.mapModule(); err != nil {
		return err
	}
	if err := h.installHooks(); err != nil {
		return err
	}

	h.initialized = true
	return nil
}

func (h *Harness) mapStack() error {
	if err := h.mu.MemMap(config.StackBase, config.StackSize); err != nil {
		return fmt.Errorf("harness: map stack: %w", err)
	}
	return nil
}

func (h *Harness) mapModule() error {
	image := h.ctx.Bytes()
	size := alignUp(uint64(len(image)), config.PageSize)
	if err := h.mu.MemMap(h.ctx.ModuleBase, size); err != nil {
		return fmt.Errorf("harness: map module: %w", err)
	}
	if err := h.mu.MemWrite(h.ctx.ModuleBase, image); err != nil {
		return fmt.Errorf("harness: write module image: %w", err)
	}
	return nil
}

func (h *Harness) installHooks() error {
	tracingHook, err := h.mu.HookAdd(uc.HOOK_CODE, h.onCode, h.ctx.ModuleBase, h.ctx.ModuleBase+uint64(len(h.ctx.Bytes())))
	if err != nil {
		return fmt.Errorf("harness: install code hook: %w", err)
	}
	h.tracingHook = tracingHook

	intrHook, err := h.mu.HookAdd(uc.HOOK_INTR, h.onInterrupt, 1, 0)
	if err != nil {
		return fmt.Errorf("harness: install interrupt hook: %w", err)
	}
	h.intrHook = intrHook

	faultHook, err := h.mu.HookAdd(uc.HOOK_MEM_INVALID, h.onInvalidMem, 1, 0)
	if err != nil {
		return fmt.Errorf("harness: install fault hook: %w", err)
	}
	h.faultHook = faultHook

	return nil
}

// Emulate implements spec.md §4.1's emulate(vmenter_rva, vrtn): it seeds
// RIP/RSP, binds a fresh block to the routine, runs the emulator, and on
// voluntary stop resolves the block's branch kind. entryRVA is the
// module-relative address to seed RIP with — the routine's VMENTER RVA
// for the first block, or a resolved branch target's RVA for every
// later block the driver's worklist asks the harness to trace (spec.md
// §2's "caller moves on to the next block" is the driver re-calling
// Emulate with that target).
func (h *Harness) Emulate(rtn *vblk.Routine, entryRVA uint64) (err error) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error(log.ModuleHarness, "recovered from panic during emulate", "panic", r)
			err = fmt.Errorf("harness: emulate: recovered: %v", r)
		}
	}()

	if !h.initialized {
		return errNotInitialized
	}
	h.rtn = rtn

	entry := h.ctx.ModuleBase + entryRVA
	stackTop := config.StackBase + config.StackSize - config.StackTopReserve

	if err := h.mu.RegWrite(uc.X86_REG_RIP, entry); err != nil {
		return fmt.Errorf("harness: seed RIP: %w", err)
	}
	if err := h.mu.RegWrite(uc.X86_REG_RSP, stackTop); err != nil {
		return fmt.Errorf("harness: seed RSP: %w", err)
	}

	h.tr = trace.New(h.ctx.GetVIP(), h.ctx.GetVSP())
	h.block = vblk.NewBlock(vblk.VMRegs{VIPReg: h.ctx.GetVIP(), VSPReg: h.ctx.GetVSP()})
	h.nativeInstrCount = 0

	if err := h.mu.Start(entry, 0); err != nil {
		return fmt.Errorf("harness: start emulation: %w", err)
	}

	return h.finishBlock()
}

// Resume continues tracing a new block by really executing the
// previous terminal block's virtual jmp natively — restoring its
// jmp_snapshot verbatim, with no candidate address substituted — rather
// than reseeding RIP/RSP from scratch. This is how the driver follows
// an absolute block's single successor, whose address isn't known
// without letting the obfuscator's own selector logic run (spec.md
// §4.2's scenario 2 notes the target is "recorded by the enclosing
// driver, not the core"). from must carry a jmp_snapshot.
func (h *Harness) Resume(rtn *vblk.Routine, from *vblk.Block) (err error) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error(log.ModuleHarness, "recovered from panic during resume", "panic", r)
			err = fmt.Errorf("harness: resume: recovered: %v", r)
		}
	}()

	if !h.initialized {
		return errNotInitialized
	}
	if from.JmpSnapshot == nil {
		return fmt.Errorf("harness: Resume requires a block with a jmp_snapshot")
	}
	h.rtn = rtn

	if err := h.restoreSnapshot(from.JmpSnapshot.CPU); err != nil {
		return fmt.Errorf("harness: resume: restore cpu state: %w", err)
	}
	if err := h.mu.MemWrite(config.StackBase, from.JmpSnapshot.Stack); err != nil {
		return fmt.Errorf("harness: resume: restore stack: %w", err)
	}
	rip, err := h.mu.RegRead(uc.X86_REG_RIP)
	if err != nil {
		return fmt.Errorf("harness: resume: read RIP: %w", err)
	}

	h.tr = trace.New(h.ctx.GetVIP(), h.ctx.GetVSP())
	h.block = vblk.NewBlock(vblk.VMRegs{VIPReg: h.ctx.GetVIP(), VSPReg: h.ctx.GetVSP()})
	h.nativeInstrCount = 0

	if err := h.mu.Start(rip, 0); err != nil {
		return fmt.Errorf("harness: resume: start emulation: %w", err)
	}

	return h.finishBlock()
}

func (h *Harness) finishBlock() error {
	if h.block.BranchKind == vblk.BranchVMExit {
		h.rtn.AddBlock(h.block)
		h.tr.Clear()
		return nil
	}

	if last, ok := h.block.Last(); ok && last.Mnemonic == profile.Jmp {
		h.resolveBranch(h.block)
	}

	h.rtn.AddBlock(h.block)
	h.tr.Clear()
	return nil
}

// Close releases the emulator. The harness is unusable afterwards.
func (h *Harness) Close() error {
	if h.mu == nil {
		return nil
	}
	return h.mu.Close()
}

func alignUp(v, align uint64) uint64 {
	if v == 0 {
		return align
	}
	return (v + align - 1) &^ (align - 1)
}
