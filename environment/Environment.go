// Package environment outlines the interfaces needed to implement
// goal-conditioned environments for experience generation
package environment

import (
	"image"

	"gonum.org/v1/gonum/mat"
)

// Well-known Info keys. Environments that can detect task success
// surface it under SuccessKey; environments that track their own step
// counter surface it under CurStepKey.
const (
	SuccessKey string = "is_success"
	CurStepKey string = "cur_step"
)

// Info holds the named per-step channels that an environment surfaces
// alongside each transition. Every channel has a fixed width over the
// lifetime of an environment.
type Info map[string][]float64

// Success returns the value of the success flag and whether the
// environment surfaced one on this step
func (i Info) Success() (float64, bool) {
	val, ok := i[SuccessKey]
	if !ok || len(val) == 0 {
		return 0, false
	}
	return val[0], true
}

// CurStep returns the environment-reported step count and whether the
// environment surfaced one on this step
func (i Info) CurStep() (int, bool) {
	val, ok := i[CurStepKey]
	if !ok || len(val) == 0 {
		return 0, false
	}
	return int(val[0]), true
}

// Observation packages together a single observation from an
// environment. Goal-conditioned environments fill in the achieved and
// desired goals; for all other environments both goal fields are nil
// and consumers substitute zero-filled placeholders.
type Observation struct {
	Observation  *mat.VecDense
	AchievedGoal *mat.VecDense
	DesiredGoal  *mat.VecDense
}

// GoalConditioned returns whether the observation carries goals
func (o Observation) GoalConditioned() bool {
	return o.AchievedGoal != nil && o.DesiredGoal != nil
}

// Environment implements a simulated environment that experience can
// be generated from. Environments are stepped until a fixed horizon
// shared by a whole batch of environments, so MaxEpisodeSteps must
// return a positive horizon.
type Environment interface {
	Reset() (Observation, error)
	Step(action mat.Vector) (Observation, float64, bool, Info, error)
	Seed(seed uint64)
	MaxEpisodeSteps() int
}

// RewardComputer is an Environment that can recompute the reward for
// an arbitrary (achieved goal, desired goal) pair. Goal-conditioned
// environments implement this so that transitions can be relabeled
// after the fact.
type RewardComputer interface {
	Environment
	ComputeReward(achievedGoal, desiredGoal mat.Vector, info Info) float64
}

// GoalSetter is an Environment whose desired goal can be overridden
// externally, for example with a generated goal
type GoalSetter interface {
	Environment
	SetGoal(goal mat.Vector)
}

// ActionSampler is an Environment that can sample a uniformly random
// action from its action space
type ActionSampler interface {
	Environment
	SampleAction() *mat.VecDense
}

// RenderMode selects how an environment renders itself
type RenderMode string

const (
	RenderOff      RenderMode = ""
	RenderRGBArray RenderMode = "rgb_array"
	RenderHuman    RenderMode = "human"
)

// Renderer is an Environment that can render itself to an image
type Renderer interface {
	Environment
	Render(mode RenderMode, width, height int) (image.Image, error)
}

// Closer is an Environment that must be closed when no longer needed
type Closer interface {
	Environment
	Close() error
}

// RewardFunc recomputes the reward of a single transition from its
// next achieved goal and the desired goal that ended up attached to
// the transition
type RewardFunc func(achievedGoal, desiredGoal mat.Vector, info Info) float64

// RewardFuncOf returns a RewardFunc backed by the environment's own
// reward computation. The returned function is what keeps relabeled
// transitions consistent with the environment's reward scheme.
func RewardFuncOf(e Environment) (RewardFunc, bool) {
	computer, ok := e.(RewardComputer)
	if !ok {
		return nil, false
	}
	return func(achievedGoal, desiredGoal mat.Vector, info Info) float64 {
		return computer.ComputeReward(achievedGoal, desiredGoal, info)
	}, true
}
