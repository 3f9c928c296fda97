package vblk

import (
	"fmt"

	"github.com/dominikbraun/graph"
)

// Routine is a virtual routine (spec.md §3): the set of blocks reached
// by emulating from one VMENTER RVA.
type Routine struct {
	RVA    uint64
	Blocks []*Block
}

// NewRoutine returns an empty routine rooted at rva.
func NewRoutine(rva uint64) *Routine {
	return &Routine{RVA: rva}
}

// AddBlock appends a resolved block to the routine.
func (r *Routine) AddBlock(b *Block) {
	r.Blocks = append(r.Blocks, b)
}

// ByVIP returns the block whose VIP.RVA equals rva, or nil if none has
// been added yet — the driver's worklist (spec.md §2's "caller moves on
// to the next block, outside this spec") uses this to dedupe addresses
// it has already traced.
func (r *Routine) ByVIP(rva uint64) *Block {
	for _, b := range r.Blocks {
		if b.VIP.RVA == rva {
			return b
		}
	}
	return nil
}

// Release frees every block's owned resources.
func (r *Routine) Release() {
	for _, b := range r.Blocks {
		b.Release()
	}
}

// Graph builds a directed control-flow graph over the routine's blocks,
// vertices keyed by block-entry RVA, edges following Branches. Absolute
// and jcc blocks contribute edges to every recorded branch target;
// vmexit blocks are sinks. Targets not yet present as a traced block
// (the driver hasn't visited them) are added as vertex-only stand-ins so
// the edge can still be recorded.
func (r *Routine) Graph() (graph.Graph[uint64, *Block], error) {
	g := graph.New(func(b *Block) uint64 { return b.VIP.RVA }, graph.Directed())

	for _, b := range r.Blocks {
		if err := g.AddVertex(b); err != nil && err != graph.ErrVertexAlreadyExists {
			return nil, fmt.Errorf("vblk: add vertex 0x%x: %w", b.VIP.RVA, err)
		}
	}

	for _, b := range r.Blocks {
		// b.Branches holds image-base-relative addresses (the raw lconst64
		// immediates), while vertices are keyed by module-relative RVA
		// (b.VIP.RVA); translate before looking up or adding an edge.
		// b.VIP.ImgBase is that same block's own address in image-base
		// space, so the difference recovers the image base to subtract.
		imageBase := b.VIP.ImgBase - b.VIP.RVA

		for _, target := range b.Branches {
			targetRVA := target - imageBase

			if r.ByVIP(targetRVA) == nil {
				stub := NewBlock(b.Regs)
				stub.SetVIP(targetRVA, target)
				if err := g.AddVertex(stub); err != nil && err != graph.ErrVertexAlreadyExists {
					return nil, fmt.Errorf("vblk: add stub vertex 0x%x: %w", targetRVA, err)
				}
			}
			if err := g.AddEdge(b.VIP.RVA, targetRVA); err != nil && err != graph.ErrEdgeAlreadyExists {
				return nil, fmt.Errorf("vblk: add edge 0x%x -> 0x%x: %w", b.VIP.RVA, targetRVA, err)
			}
		}
	}

	return g, nil
}
