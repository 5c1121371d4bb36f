// Package domain holds the funnel's core types: the stage progression,
// identity resolution results, and stage change events.
package domain

import "strings"

// Stage is a canonical funnel stage code.
type Stage string

const (
	StageNew           Stage = "new"
	StageProspecting   Stage = "prospecting"
	StageQualification Stage = "qualification"
	StageOpportunity   Stage = "opportunity"

	// Terminal side-stages, reachable from any linear stage. Re-applying
	// the same terminal stage is a no-op, not an error.
	StageConfirmed Stage = "confirmed"
	StageClosed    Stage = "closed"
)

// linearOrder positions the four linear stages. The progression is
// monotonic only by convention; moving backward is not forbidden.
var linearOrder = map[Stage]int{
	StageNew:           0,
	StageProspecting:   1,
	StageQualification: 2,
	StageOpportunity:   3,
}

var knownStages = map[Stage]struct{}{
	StageNew:           {},
	StageProspecting:   {},
	StageQualification: {},
	StageOpportunity:   {},
	StageConfirmed:     {},
	StageClosed:        {},
}

// stageLabels maps business-facing labels (lowercase) to canonical codes.
// Canonical codes map to themselves so normalization is a fixed point.
var stageLabels = map[string]Stage{
	"nuevos":        StageNew,
	"nuevo":         StageNew,
	"prospectando":  StageProspecting,
	"calificacion":  StageQualification,
	"calificación":  StageQualification,
	"oportunidad":   StageOpportunity,
	"confirmado":    StageConfirmed,
	"cerrado":       StageClosed,
	"new":           StageNew,
	"prospecting":   StageProspecting,
	"qualification": StageQualification,
	"opportunity":   StageOpportunity,
	"confirmed":     StageConfirmed,
	"closed":        StageClosed,
}

// NormalizeStage maps a business-facing stage label to its canonical code,
// case-insensitively. Unknown labels pass through unchanged so experimental
// stage names degrade gracefully; callers that need a strict stage set must
// validate with IsKnownStage.
func NormalizeStage(label string) Stage {
	trimmed := strings.TrimSpace(label)
	if code, ok := stageLabels[strings.ToLower(trimmed)]; ok {
		return code
	}
	return Stage(trimmed)
}

// IsKnownStage reports whether stage is one of the canonical codes.
func IsKnownStage(stage Stage) bool {
	_, ok := knownStages[stage]
	return ok
}

// IsTerminal reports whether stage is one of the two terminal side-stages.
func IsTerminal(stage Stage) bool {
	return stage == StageConfirmed || stage == StageClosed
}

// LinearPosition returns the position of a linear stage and true, or 0 and
// false for terminal or unknown stages.
func LinearPosition(stage Stage) (int, bool) {
	pos, ok := linearOrder[stage]
	return pos, ok
}
