// Package pointmass implements a goal-conditioned planar point mass.
// The agent accelerates a point around a bounded plane and is asked
// to bring it within a small radius of a desired position. The reward
// is sparse: 0 within the goal radius and -1 everywhere else, so the
// environment pairs naturally with hindsight relabeling.
package pointmass

import (
	"fmt"
	"image"

	"github.com/fogleman/gg"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r1"
	"gonum.org/v1/gonum/stat/distmv"

	env "github.com/samuelfneumann/gohindsight/environment"
	"github.com/samuelfneumann/gohindsight/utils/floatutils"
)

// Physical parameters of the point mass
const (
	Dims       int     = 2
	MaxAccel   float64 = 1.0
	MaxSpeed   float64 = 1.0
	Dt         float64 = 0.1
	GoalRadius float64 = 0.1

	Min float64 = -1.0
	Max float64 = 1.0

	// DistKey is the info channel carrying the current distance to
	// the desired goal
	DistKey string = "dist"

	// DefaultMaxEpisodeSteps is the episode cutoff used when none is
	// given
	DefaultMaxEpisodeSteps int = 50
)

// PointMass implements the point mass environment
type PointMass struct {
	pos  *mat.VecDense
	vel  *mat.VecDense
	goal *mat.VecDense

	goalDist        *distmv.Uniform
	actionDist      *distmv.Uniform
	maxEpisodeSteps int
	currentStep     int
}

// New returns a new PointMass with the given episode cutoff, seeded
// with seed
func New(maxEpisodeSteps int, seed uint64) (*PointMass, error) {
	if maxEpisodeSteps < 1 {
		return nil, fmt.Errorf("new: maximum episode steps must be "+
			"positive, got %v", maxEpisodeSteps)
	}

	p := &PointMass{
		pos:             mat.NewVecDense(Dims, nil),
		vel:             mat.NewVecDense(Dims, nil),
		goal:            mat.NewVecDense(Dims, nil),
		maxEpisodeSteps: maxEpisodeSteps,
	}
	p.Seed(seed)

	return p, nil
}

// Seed seeds the distribution from which desired goals are sampled
func (p *PointMass) Seed(seed uint64) {
	bounds := make([]r1.Interval, Dims)
	for i := range bounds {
		bounds[i] = r1.Interval{Min: Min, Max: Max}
	}
	source := rand.NewSource(seed)
	p.goalDist = distmv.NewUniform(bounds, source)
	p.actionDist = distmv.NewUniform(ActionBounds(), source)
}

// MaxEpisodeSteps returns the episode cutoff
func (p *PointMass) MaxEpisodeSteps() int {
	return p.maxEpisodeSteps
}

// ActionBounds returns the per-dimension bounds of legal actions
func ActionBounds() []r1.Interval {
	bounds := make([]r1.Interval, Dims)
	for i := range bounds {
		bounds[i] = r1.Interval{Min: -MaxAccel, Max: MaxAccel}
	}
	return bounds
}

// Reset places the point mass at the origin at rest and samples a new
// desired goal
func (p *PointMass) Reset() (env.Observation, error) {
	p.pos.Zero()
	p.vel.Zero()
	p.goalDist.Rand(p.goal.RawVector().Data)
	p.currentStep = 0

	return p.observation(), nil
}

// Step accelerates the point mass by the argument action, clipped to
// the legal acceleration, and integrates one timestep
func (p *PointMass) Step(action mat.Vector) (env.Observation, float64,
	bool, env.Info, error) {
	if action.Len() != Dims {
		return env.Observation{}, 0, false, nil, fmt.Errorf("step: "+
			"illegal action length \n\twant(%v)\n\thave(%v)", Dims,
			action.Len())
	}

	for i := 0; i < Dims; i++ {
		accel := floatutils.Clip(action.AtVec(i), -MaxAccel, MaxAccel)
		vel := floatutils.Clip(p.vel.AtVec(i)+accel*Dt, -MaxSpeed,
			MaxSpeed)
		p.vel.SetVec(i, vel)
		p.pos.SetVec(i, floatutils.Clip(p.pos.AtVec(i)+vel*Dt, Min, Max))
	}
	p.currentStep++

	dist := p.distToGoal()
	success := dist <= GoalRadius
	reward := p.ComputeReward(p.pos, p.goal, nil)
	done := success || p.currentStep >= p.maxEpisodeSteps

	info := env.Info{
		env.SuccessKey: []float64{boolToFloat(success)},
		env.CurStepKey: []float64{float64(p.currentStep)},
		DistKey:        []float64{dist},
	}

	return p.observation(), reward, done, info, nil
}

// ComputeReward returns the sparse reward for an arbitrary
// (achieved goal, desired goal) pair: 0 within the goal radius, -1
// everywhere else
func (p *PointMass) ComputeReward(achievedGoal, desiredGoal mat.Vector,
	_ env.Info) float64 {
	diff := mat.NewVecDense(achievedGoal.Len(), nil)
	diff.SubVec(achievedGoal, desiredGoal)
	if mat.Norm(diff, 2) <= GoalRadius {
		return 0
	}
	return -1
}

// SetGoal overrides the desired goal for the current episode
func (p *PointMass) SetGoal(goal mat.Vector) {
	for i := 0; i < Dims && i < goal.Len(); i++ {
		p.goal.SetVec(i, goal.AtVec(i))
	}
}

// SampleAction returns a uniformly random legal action
func (p *PointMass) SampleAction() *mat.VecDense {
	return mat.NewVecDense(Dims, p.actionDist.Rand(nil))
}

// Render draws the current state: the desired goal as a red disc and
// the point mass as a black disc
func (p *PointMass) Render(_ env.RenderMode, width,
	height int) (image.Image, error) {
	if width < 1 || height < 1 {
		return nil, fmt.Errorf("render: illegal image size %vx%v", width,
			height)
	}

	dc := gg.NewContext(width, height)
	dc.SetRGB(1, 1, 1)
	dc.Clear()

	dc.SetRGB(1, 0, 0)
	dc.DrawCircle(toPixel(p.goal.AtVec(0), width),
		toPixel(p.goal.AtVec(1), height),
		GoalRadius/(Max-Min)*float64(width))
	dc.Fill()

	dc.SetRGB(0, 0, 0)
	dc.DrawCircle(toPixel(p.pos.AtVec(0), width),
		toPixel(p.pos.AtVec(1), height), float64(width)/100)
	dc.Fill()

	return dc.Image(), nil
}

func (p *PointMass) observation() env.Observation {
	obs := mat.NewVecDense(2*Dims, nil)
	for i := 0; i < Dims; i++ {
		obs.SetVec(i, p.pos.AtVec(i))
		obs.SetVec(Dims+i, p.vel.AtVec(i))
	}

	return env.Observation{
		Observation:  obs,
		AchievedGoal: mat.VecDenseCopyOf(p.pos),
		DesiredGoal:  mat.VecDenseCopyOf(p.goal),
	}
}

func (p *PointMass) distToGoal() float64 {
	diff := mat.NewVecDense(Dims, nil)
	diff.SubVec(p.pos, p.goal)
	return mat.Norm(diff, 2)
}

func toPixel(coord float64, size int) float64 {
	return (coord - Min) / (Max - Min) * float64(size)
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
