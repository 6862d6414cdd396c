package environment

import (
	"fmt"
	"strings"
)

// DefaultGoalDim is the goal width used as a placeholder for
// environments that are not goal-conditioned
const DefaultGoalDim int = 3

// Dims records the widths of the arrays exchanged with an environment
// and a policy: observations, goals, actions, the one-hot skill
// vector, and every named info channel the environment surfaces.
type Dims struct {
	Obs    int
	Goal   int
	Action int
	Skills int
	Info   map[string]int
}

// Validate returns an error describing the first non-positive width
// in the Dims
func (d Dims) Validate() error {
	if d.Obs < 1 {
		return fmt.Errorf("validate: observation width must be positive, "+
			"got %v", d.Obs)
	}
	if d.Goal < 1 {
		return fmt.Errorf("validate: goal width must be positive, got %v",
			d.Goal)
	}
	if d.Action < 1 {
		return fmt.Errorf("validate: action width must be positive, got %v",
			d.Action)
	}
	if d.Skills < 1 {
		return fmt.Errorf("validate: skill width must be positive, got %v",
			d.Skills)
	}
	for key, width := range d.Info {
		if width < 1 {
			return fmt.Errorf("validate: info channel %q width must be "+
				"positive, got %v", key, width)
		}
	}
	return nil
}

// InferDims discovers the Dims of an environment by resetting it and
// taking a single step with a sampled action. The environment must
// report a positive episode horizon and be able to sample actions;
// either missing capability is a configuration error. Environments
// that are not goal-conditioned get a placeholder goal width of
// DefaultGoalDim.
func InferDims(e Environment, numSkills int) (Dims, error) {
	if numSkills < 1 {
		return Dims{}, fmt.Errorf("inferDims: number of skills must be "+
			"positive, got %v", numSkills)
	}
	if e.MaxEpisodeSteps() < 1 {
		return Dims{}, fmt.Errorf("inferDims: environment must report a "+
			"positive maximum episode length, got %v", e.MaxEpisodeSteps())
	}

	sampler, ok := e.(ActionSampler)
	if !ok {
		return Dims{}, fmt.Errorf("inferDims: environment cannot sample " +
			"actions")
	}

	if _, err := e.Reset(); err != nil {
		return Dims{}, fmt.Errorf("inferDims: could not reset "+
			"environment: %v", err)
	}

	action := sampler.SampleAction()
	obs, _, _, info, err := e.Step(action)
	if err != nil {
		return Dims{}, fmt.Errorf("inferDims: could not step "+
			"environment: %v", err)
	}

	dims := Dims{
		Obs:    obs.Observation.Len(),
		Goal:   DefaultGoalDim,
		Action: action.Len(),
		Skills: numSkills,
		Info:   make(map[string]int),
	}
	if obs.GoalConditioned() {
		dims.Goal = obs.DesiredGoal.Len()
		for key, value := range info {
			if strings.Contains(key, "TimeLimit") {
				continue
			}
			dims.Info[key] = len(value)
		}
	}

	return dims, nil
}
