package mac

import (
	"fmt"
	"math"
)

// minThroughput floors the historical throughput term so a zero fairness
// weight cannot divide by zero.
const minThroughput = 1e-12

// PFState is the mutable per-scheduler fairness state. It is threaded
// explicitly through Decide and Commit and is only touched on the control
// path.
type PFState struct {
	// History is the cumulative fairness credit per user. Never decreases.
	History []float64
	// LastSE is the channel quality granted the last time a user was
	// scheduled, 0 when the user was not in the last decision.
	LastSE []float64
	// Scheduled marks users in the most recently finalized decision.
	Scheduled []bool
	// Selected is the action chosen for the current frame. Only meaningful
	// when HasSelection is true.
	Selected     int
	HasSelection bool
}

// NewPFState returns the initial state for ues users.
func NewPFState(ues int) *PFState {
	st := &PFState{
		History:   make([]float64, ues),
		LastSE:    make([]float64, ues),
		Scheduled: make([]bool, ues),
	}
	for u := range st.History {
		st.History[u] = InitialHistory
	}
	return st
}

// Clone returns a deep copy of the state.
func (s *PFState) Clone() PFState {
	return PFState{
		History:      append([]float64(nil), s.History...),
		LastSE:       append([]float64(nil), s.LastSE...),
		Scheduled:    append([]bool(nil), s.Scheduled...),
		Selected:     s.Selected,
		HasSelection: s.HasSelection,
	}
}

// ProportionalFairness picks one action per frame from a fixed ActionSet.
// It owns a preallocated metric vector so Decide and Commit never allocate.
type ProportionalFairness struct {
	actions       *ActionSet
	lambda        float64
	defaultAction int
	metric        []float64
}

// NewProportionalFairness returns an engine over actions. lambda and
// defaultAction are assumed validated.
func NewProportionalFairness(actions *ActionSet, lambda float64, defaultAction int) *ProportionalFairness {
	return &ProportionalFairness{
		actions:       actions,
		lambda:        lambda,
		defaultAction: defaultAction,
		metric:        make([]float64, actions.Len()),
	}
}

// ValidateCSI checks that csi holds one finite, non-negative value per user.
func ValidateCSI(csi []float64, ues int) error {
	if len(csi) != ues {
		return fmt.Errorf("%w: got %d values for %d ues", ErrInvalidCSI, len(csi), ues)
	}
	for u, v := range csi {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("%w: ue %d has value %v", ErrInvalidCSI, u, v)
		}
	}
	return nil
}

// Decide selects the action for frame and stores it in st.Selected. Frame 0
// has no throughput history, so it always takes the default action.
func (pf *ProportionalFairness) Decide(st *PFState, frame uint64, csi []float64) (int, error) {
	if err := ValidateCSI(csi, pf.actions.UEs()); err != nil {
		return 0, err
	}
	if frame == 0 {
		st.Selected = pf.defaultAction
		st.HasSelection = true
		return pf.defaultAction, nil
	}

	f := float64(frame)
	best := 0
	bestMetric := math.Inf(-1)
	for a := 0; a < pf.actions.Len(); a++ {
		sum := 0.0
		for _, u := range pf.actions.Users(a) {
			tp := pf.lambda * st.History[u] / f
			if st.Scheduled[u] {
				tp += (1 - pf.lambda) * st.LastSE[u]
			}
			if tp < minThroughput {
				tp = minThroughput
			}
			sum += csi[u] / tp
		}
		pf.metric[a] = sum
		// Strictly greater keeps the lowest action id on ties.
		if sum > bestMetric {
			bestMetric = sum
			best = a
		}
	}

	st.Selected = best
	st.HasSelection = true
	return best, nil
}

// Commit credits the users of st.Selected with their channel quality and
// refreshes the scheduled flags for every user.
func (pf *ProportionalFairness) Commit(st *PFState, csi []float64) error {
	if !st.HasSelection {
		return fmt.Errorf("%w: commit before decide", ErrScheduleNotReady)
	}
	if err := ValidateCSI(csi, pf.actions.UEs()); err != nil {
		return err
	}
	users := pf.actions.Users(st.Selected)
	for _, u := range users {
		st.History[u] += csi[u]
	}
	// users is sorted ascending, so one merge pass marks membership.
	j := 0
	for u := range st.Scheduled {
		if j < len(users) && int(users[j]) == u {
			st.Scheduled[u] = true
			st.LastSE[u] = csi[u]
			j++
			continue
		}
		st.Scheduled[u] = false
		st.LastSE[u] = 0
	}
	return nil
}

// Hold installs action as the current selection without CSI. Scheduled
// flags follow the held action and History is left as it was. Users leaving
// the schedule drop their LastSE; users staying keep it.
func (pf *ProportionalFairness) Hold(st *PFState, action int) {
	st.Selected = action
	st.HasSelection = true
	users := pf.actions.Users(action)
	j := 0
	for u := range st.Scheduled {
		in := j < len(users) && int(users[j]) == u
		if in {
			j++
		}
		st.Scheduled[u] = in
		if !in {
			st.LastSE[u] = 0
		}
	}
}

// Metric returns the metric accumulated for action by the last Decide on a
// frame > 0.
func (pf *ProportionalFairness) Metric(action int) float64 {
	if action < 0 || action >= len(pf.metric) {
		return math.NaN()
	}
	return pf.metric[action]
}
