// Package config holds the fixed numeric contracts of the devirtualizer
// (spec.md §6) and the small set of knobs that distinguish development
// mode from production mode (spec.md §7, §9).
package config

const (
	// PageSize is the emulator's page granularity; the unmapped-memory fault
	// handler maps exactly one page at a time.
	PageSize = 0x1000

	// StackBase and StackSize describe the guard stack mapped for the whole
	// lifetime of a Harness. StackTopReserve is carved off the top so the
	// seeded RSP always has slack above it.
	StackBase       = uint64(0x0000700000000000)
	StackSize       = uint64(1 << 20) // 1 MiB
	StackTopReserve = uint64(0x1000)  // 4 KiB

	// SpeculativeSregThreshold is the number of consecutive legitimate sreg
	// v-instructions a speculative run must observe to validate a candidate
	// JCC target (spec.md §4.5).
	SpeculativeSregThreshold = 10

	// Lconst64Threshold is the minimum number of 64-bit lconst v-instructions
	// a block must contain before could_have_jcc even looks at the trailing
	// pair (spec.md §4.6).
	Lconst64Threshold = 3

	// RVAFetchSizeBits is the operand width of the "next handler" load that
	// marks the boundary between a handler's semantic body and its
	// address-computation tail (spec.md §4.2 step 5b).
	RVAFetchSizeBits = 32

	// SregImmSizeBits and SregImmMax describe the shape a speculative-run
	// sreg's immediate must have to be tolerated (from original_source's
	// branch_pred_spec_exec: a virtual-register index, not an arbitrary
	// constant).
	SregImmSizeBits = 8
	SregImmMax      = 0xFF
)

// Options configures a single devirtualization run. The zero value is
// production mode: unknown classifications are recorded and execution
// continues.
type Options struct {
	// LogLevel is one of the levels log.ParseLevel accepts.
	LogLevel string

	// StallOnUnknown reproduces the original tool's development-mode
	// behavior of printing the raw native trace and blocking for inspection
	// when the profile registry returns an unknown classification. Default
	// false (production mode, per spec.md §7).
	StallOnUnknown bool

	// UseClassificationCache records whether this run classifies through the
	// bbolt-backed profile cache keyed by a hash of the canonical
	// instruction bytes. The driver sets it from its cache-path flag and
	// wraps the registry itself; the harness does not read this field.
	// Purely a speed optimization; classification results are identical
	// either way.
	UseClassificationCache bool

	// ClassificationCachePath is the bbolt database file backing the cache,
	// used only when UseClassificationCache is true.
	ClassificationCachePath string

	// MaxNativeInstructionsPerBlock bounds the number of native instructions
	// traced for a single block (the count restarts with each block, not
	// with each handler) as a quality-of-implementation safeguard against
	// runaway emulation
	// (spec.md §5 explicitly allows this). Zero means unbounded.
	MaxNativeInstructionsPerBlock int
}

// DefaultOptions returns the production-mode configuration used by the
// driver CLI when no flags override it.
func DefaultOptions() Options {
	return Options{
		LogLevel:                      "info",
		StallOnUnknown:                false,
		UseClassificationCache:        false,
		MaxNativeInstructionsPerBlock: 20000,
	}
}
