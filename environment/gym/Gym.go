// Package gym exposes OpenAI Gym environments through the
// goal-conditioned environment interface using GoGym.
//
// Gym environments accessed this way are not goal-conditioned: their
// observations carry no goals, so consumers substitute zero-filled
// goal placeholders and hindsight relabeling degenerates to plain
// experience replay.
//
// This is made possible through the Go bindings for OpenAI Gym,
// found at https://github.com/samuelfneumann/GoGym.
package gym

import (
	"fmt"

	"github.com/samuelfneumann/gogym"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"

	env "github.com/samuelfneumann/gohindsight/environment"
)

// Env implements access to an OpenAI Gym environment using GoGym
type Env struct {
	gogym.Environment

	maxEpisodeSteps int
	currentStep     int
	rng             *rand.Rand
}

// New returns a new Env with the given name, which must be a legal
// name from the OpenAI Gym suite
func New(name string, maxEpisodeSteps int, seed uint64) (*Env, error) {
	if maxEpisodeSteps < 1 {
		return nil, fmt.Errorf("new: maximum episode steps must be "+
			"positive, got %v", maxEpisodeSteps)
	}

	goGymEnv, err := gogym.Make(name)
	if err != nil {
		return nil, fmt.Errorf("new: could not create environment: %v",
			err)
	}
	goGymEnv.Seed(int(seed))

	return &Env{
		Environment:     goGymEnv,
		maxEpisodeSteps: maxEpisodeSteps,
		rng:             rand.New(rand.NewSource(seed)),
	}, nil
}

// Seed seeds the underlying Gym environment
func (g *Env) Seed(seed uint64) {
	g.Environment.Seed(int(seed))
	g.rng = rand.New(rand.NewSource(seed))
}

// MaxEpisodeSteps returns the episode cutoff
func (g *Env) MaxEpisodeSteps() int {
	return g.maxEpisodeSteps
}

// Reset resets the environment to some starting state
func (g *Env) Reset() (env.Observation, error) {
	obs, err := g.Environment.Reset()
	if err != nil {
		return env.Observation{}, fmt.Errorf("reset: could not reset "+
			"GoGym environment: %v", err)
	}
	g.currentStep = 0

	return env.Observation{Observation: mat.VecDenseCopyOf(obs)}, nil
}

// Step takes a single environmental step
func (g *Env) Step(action mat.Vector) (env.Observation, float64, bool,
	env.Info, error) {
	obs, reward, done, err := g.Environment.Step(mat.VecDenseCopyOf(action))
	if err != nil {
		return env.Observation{}, 0, false, nil, fmt.Errorf("step: could "+
			"not step GoGym environment: %v", err)
	}
	g.currentStep++

	info := env.Info{
		env.CurStepKey: []float64{float64(g.currentStep)},
	}

	return env.Observation{Observation: mat.VecDenseCopyOf(obs)}, reward,
		done, info, nil
}

// SampleAction returns a uniformly random action from the
// environment's action space
func (g *Env) SampleAction() *mat.VecDense {
	space := g.ActionSpace()

	switch space.(type) {
	case *gogym.BoxSpace:
		low := space.Low()[0]
		high := space.High()[0]
		action := mat.NewVecDense(low.Len(), nil)
		for i := 0; i < low.Len(); i++ {
			span := high.AtVec(i) - low.AtVec(i)
			action.SetVec(i, low.AtVec(i)+g.rng.Float64()*span)
		}
		return action

	case *gogym.DiscreteSpace:
		high := space.High()[0]
		n := int(high.AtVec(0)) + 1
		return mat.NewVecDense(1, []float64{float64(g.rng.Intn(n))})

	default:
		panic(fmt.Sprintf("sampleAction: invalid space type, package gym "+
			"supports only GoGym's BoxSpace or DiscreteSpace, got %T",
			space))
	}
}

// Close performs resource cleanup after the environment is no longer
// needed
func (g *Env) Close() error {
	g.Environment.Close()
	return nil
}
