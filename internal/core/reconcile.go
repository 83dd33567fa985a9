package core

import "fmt"

// ReconciliationMismatch reports that the post-backfill document counts
// do not line up within tolerance. It blocks the advance out of
// Backfilling and requires an operator decision.
type ReconciliationMismatch struct {
	LegacyCount int
	TargetCount int
	Tolerance   int
}

func (e *ReconciliationMismatch) Error() string {
	return fmt.Sprintf("reconciliation mismatch: legacy has %d documents, target has %d (tolerance %d)",
		e.LegacyCount, e.TargetCount, e.Tolerance)
}

// reconciled checks the counts within tolerance. A rejected insert means
// the dispatcher already wrote a newer version, so rejections do not
// count against the total; only the absolute document counts matter.
func reconciled(legacyCount, targetCount, tolerance int) bool {
	diff := legacyCount - targetCount
	if diff < 0 {
		diff = -diff
	}
	return diff <= tolerance
}
