package models

import "fmt"

// MigrationPhase represents the global stage of an index migration.
// Exactly one value is authoritative at a time; transitions go through
// the phase controller only.
type MigrationPhase string

const (
	PhasePreparing      MigrationPhase = "preparing"
	PhaseDualWrite      MigrationPhase = "dual-write"
	PhaseBackfilling    MigrationPhase = "backfilling"
	PhaseCutoverPending MigrationPhase = "cutover-pending"
	PhaseCutover        MigrationPhase = "cutover"
	PhaseComplete       MigrationPhase = "complete"
)

// ParsePhase converts a stored phase string back into a MigrationPhase.
func ParsePhase(s string) (MigrationPhase, error) {
	switch MigrationPhase(s) {
	case PhasePreparing, PhaseDualWrite, PhaseBackfilling,
		PhaseCutoverPending, PhaseCutover, PhaseComplete:
		return MigrationPhase(s), nil
	}
	return "", fmt.Errorf("unknown migration phase %q", s)
}

// TargetWritesEnabled reports whether upserts should be mirrored to the
// target index in this phase.
func (p MigrationPhase) TargetWritesEnabled() bool {
	switch p {
	case PhaseDualWrite, PhaseBackfilling, PhaseCutoverPending:
		return true
	}
	return false
}

// DeletesFenced reports whether target-bound deletes must be deferred
// instead of applied directly.
func (p MigrationPhase) DeletesFenced() bool {
	return p == PhaseBackfilling
}

// Terminal reports whether the migration has finished.
func (p MigrationPhase) Terminal() bool {
	return p == PhaseComplete
}

func (p MigrationPhase) String() string {
	return string(p)
}
