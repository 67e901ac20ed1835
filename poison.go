package multipipes

import "github.com/google/uuid"

// PoisonPill is the sentinel item that instructs one Worker to stop
// cleanly. It is distinguishable from any legitimate item flowing through a
// Channel by its type.
//
// A pill only retires the worker whose Task carries a matching Generation —
// the UUID the owning Node minted on its most recent Start(). A pill left
// over from a previous generation (e.g. one pipeline.restart ago, still in
// flight in a channel) is discarded instead of retiring a worker in the new
// generation. See the Generation entry in SPEC_FULL.md's glossary.
type PoisonPill struct {
	Generation uuid.UUID
}

// NewPoisonPill returns a PoisonPill tagged with the given generation.
func NewPoisonPill(generation uuid.UUID) PoisonPill {
	return PoisonPill{Generation: generation}
}

// Matches reports whether the pill belongs to the given generation.
func (p PoisonPill) Matches(generation uuid.UUID) bool {
	return p.Generation == generation
}
