package pipeline

import (
	"fmt"
	"strings"
)

// Stage is a deal lifecycle state. The set is closed.
type Stage string

// Deal stages in lifecycle order. Lost sits outside the linear order.
const (
	StageDiscovered    Stage = "discovered"
	StageContacted     Stage = "contacted"
	StageNegotiating   Stage = "negotiating"
	StagePendingPickup Stage = "pending_pickup"
	StageAcquired      Stage = "acquired"
	StageRefurbishing  Stage = "refurbishing"
	StageListed        Stage = "listed"
	StageSold          Stage = "sold"
	StageLost          Stage = "lost"
)

var linear = []Stage{
	StageDiscovered,
	StageContacted,
	StageNegotiating,
	StagePendingPickup,
	StageAcquired,
	StageRefurbishing,
	StageListed,
	StageSold,
}

// Stages returns every stage, linear order first then lost.
func Stages() []Stage {
	out := make([]Stage, 0, len(linear)+1)
	out = append(out, linear...)
	return append(out, StageLost)
}

// ParseStage validates a stage name.
func ParseStage(raw string) (Stage, error) {
	s := Stage(strings.ToLower(strings.TrimSpace(raw)))
	if s.Valid() {
		return s, nil
	}
	return "", fmt.Errorf("unknown stage %q", raw)
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	return s == StageLost || s.position() >= 0
}

// Terminal reports whether no transition may leave s.
func (s Stage) Terminal() bool {
	return s == StageSold || s == StageLost
}

func (s Stage) position() int {
	for i, st := range linear {
		if st == s {
			return i
		}
	}
	return -1
}

// CanTransition reports whether from → to is allowed: forward along the linear
// order (skips permitted) or to lost, never out of a terminal stage.
func CanTransition(from, to Stage) bool {
	if !from.Valid() || !to.Valid() || from.Terminal() {
		return false
	}
	if to == StageLost {
		return true
	}
	return to.position() > from.position()
}
