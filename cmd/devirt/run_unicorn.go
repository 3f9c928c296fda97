//go:build unicorn
// +build unicorn

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/dominikbraun/graph/draw"
	"golang.org/x/arch/x86/x86asm"

	"github.com/Thiviyan/VMEMU3/config"
	"github.com/Thiviyan/VMEMU3/harness"
	"github.com/Thiviyan/VMEMU3/log"
	"github.com/Thiviyan/VMEMU3/profile"
	"github.com/Thiviyan/VMEMU3/vblk"
	"github.com/Thiviyan/VMEMU3/vmimage"
)

const maxBlocksPerRoutine = 100000

func run(opts runOptions) error {
	sections, err := vmimage.NewSectionHelper(opts.ImagePath)
	if err != nil {
		return err
	}
	loader := vmimage.NewPELoader()

	vipReg, err := parseReg(opts.VIPReg)
	if err != nil {
		return err
	}
	vspReg, err := parseReg(opts.VSPReg)
	if err != nil {
		return err
	}

	ctx, err := loader.Load(opts.ImagePath, opts.VMEntryRVA, vipReg, vspReg)
	if err != nil {
		return err
	}

	var registry profile.Registry = profile.NewDefaultRegistry()
	if opts.CachePath != "" {
		cache, err := profile.OpenCache(opts.CachePath)
		if err != nil {
			return err
		}
		defer cache.Close()
		registry = profile.NewCachedRegistry(registry, cache)
	}

	cfg := config.DefaultOptions()
	cfg.StallOnUnknown = opts.Stall
	cfg.UseClassificationCache = opts.CachePath != ""
	cfg.ClassificationCachePath = opts.CachePath
	cfg.MaxNativeInstructionsPerBlock = opts.MaxNative

	h := harness.New(ctx, registry, sections, cfg)
	defer h.Close()
	if err := h.Init(); err != nil {
		return fmt.Errorf("devirt: init harness: %w", err)
	}

	rtn := vblk.NewRoutine(opts.VMEntryRVA)
	if err := exploreRoutine(h, ctx, rtn); err != nil {
		return err
	}

	printRoutine(rtn)

	if opts.GraphOutput != "" {
		if err := writeGraph(rtn, opts.GraphOutput); err != nil {
			return err
		}
	}
	return nil
}

// exploreRoutine drives the worklist named but left unspecified by
// spec.md §2: absolute blocks are followed by really resuming native
// execution through their jmp handler (their single successor isn't
// knowable without doing so); jcc blocks contribute both statically
// known candidate RVAs to a dedup worklist.
func exploreRoutine(h *harness.Harness, ctx *vmimage.VMContext, rtn *vblk.Routine) error {
	worklist := []uint64{ctx.VMEntryRVA}
	visited := map[uint64]bool{}

	for len(worklist) > 0 && len(rtn.Blocks) < maxBlocksPerRoutine {
		rva := worklist[0]
		worklist = worklist[1:]
		if visited[rva] {
			continue
		}

		if err := h.Emulate(rtn, rva); err != nil {
			log.Error(log.ModuleDriver, "emulate failed", "rva", rva, "err", err)
			continue
		}
		visited[rva] = true

		b := rtn.Blocks[len(rtn.Blocks)-1]
		for b.BranchKind == vblk.BranchAbsolute && len(b.Branches) == 0 && len(rtn.Blocks) < maxBlocksPerRoutine {
			if err := h.Resume(rtn, b); err != nil {
				log.Error(log.ModuleDriver, "resume failed", "err", err)
				break
			}
			b = rtn.Blocks[len(rtn.Blocks)-1]
			if b.VIP.IsSet() {
				if visited[b.VIP.RVA] {
					break
				}
				visited[b.VIP.RVA] = true
			}
		}

		switch b.BranchKind {
		case vblk.BranchJCC:
			for _, target := range b.Branches {
				targetRVA := target - ctx.ImageBase
				if !visited[targetRVA] {
					worklist = append(worklist, targetRVA)
				}
			}
		}
	}
	return nil
}

func printRoutine(rtn *vblk.Routine) {
	for _, b := range rtn.Blocks {
		fmt.Printf("block vip=0x%x branch_kind=%s\n", b.VIP.RVA, b.BranchKind)
		for _, vi := range b.VInstrs {
			fmt.Printf("  %s\n", vi)
		}
		for _, br := range b.Branches {
			fmt.Printf("  -> 0x%x\n", br)
		}
	}
}

func writeGraph(rtn *vblk.Routine, path string) error {
	g, err := rtn.Graph()
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return draw.DOT(g, f)
}

func parseReg(name string) (x86asm.Reg, error) {
	switch strings.ToUpper(name) {
	case "RAX":
		return x86asm.RAX, nil
	case "RCX":
		return x86asm.RCX, nil
	case "RDX":
		return x86asm.RDX, nil
	case "RBX":
		return x86asm.RBX, nil
	case "RSP":
		return x86asm.RSP, nil
	case "RBP":
		return x86asm.RBP, nil
	case "RSI":
		return x86asm.RSI, nil
	case "RDI":
		return x86asm.RDI, nil
	case "R8":
		return x86asm.R8, nil
	case "R9":
		return x86asm.R9, nil
	case "R10":
		return x86asm.R10, nil
	case "R11":
		return x86asm.R11, nil
	case "R12":
		return x86asm.R12, nil
	case "R13":
		return x86asm.R13, nil
	case "R14":
		return x86asm.R14, nil
	case "R15":
		return x86asm.R15, nil
	default:
		return 0, fmt.Errorf("devirt: unrecognized register %q", name)
	}
}
