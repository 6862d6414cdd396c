// Package her produces training minibatches from stored episodes by
// hindsight goal relabeling: replacing the desired goal of a sampled
// transition with a goal actually achieved later in the same episode,
// and recomputing the reward accordingly
package her

import "fmt"

// SchedulePoint is one breakpoint of an entropy-regularization weight
// schedule
type SchedulePoint struct {
	Epoch  float64
	Weight float64
}

// Schedule is a piecewise-linear entropy-regularization weight
// schedule over training epochs. Between breakpoints the weight is
// linearly interpolated; outside the breakpoints it is clamped to the
// nearest endpoint.
type Schedule []SchedulePoint

// Validate returns an error if the schedule is empty or its
// breakpoints are not in strictly increasing epoch order
func (s Schedule) Validate() error {
	if len(s) == 0 {
		return fmt.Errorf("validate: schedule must have at least one " +
			"breakpoint")
	}
	for i := 1; i < len(s); i++ {
		if s[i].Epoch <= s[i-1].Epoch {
			return fmt.Errorf("validate: breakpoint epochs must be "+
				"strictly increasing, got %v after %v", s[i].Epoch,
				s[i-1].Epoch)
		}
	}
	return nil
}

// At returns the weight at the given training epoch
func (s Schedule) At(epoch float64) float64 {
	if epoch <= s[0].Epoch {
		return s[0].Weight
	}
	last := s[len(s)-1]
	if epoch >= last.Epoch {
		return last.Weight
	}

	for i := 1; i < len(s); i++ {
		if epoch > s[i].Epoch {
			continue
		}
		lo, hi := s[i-1], s[i]
		frac := (epoch - lo.Epoch) / (hi.Epoch - lo.Epoch)
		return lo.Weight + frac*(hi.Weight-lo.Weight)
	}

	return last.Weight
}
