package mac

// FallbackPolicy picks the action for a frame whose CSI did not arrive by
// the decision deadline. It runs on the hot path and must not block or
// allocate.
type FallbackPolicy interface {
	FallbackAction(frame uint64, previous int, hasPrevious bool) int
}

// RepeatPrevious re-issues the last committed action, or Default when no
// decision exists yet.
type RepeatPrevious struct {
	Default int
}

func (p RepeatPrevious) FallbackAction(_ uint64, previous int, hasPrevious bool) int {
	if hasPrevious {
		return previous
	}
	return p.Default
}

// FixedAction always schedules the same action.
type FixedAction int

func (a FixedAction) FallbackAction(uint64, int, bool) int { return int(a) }
