package policy

import (
	"fmt"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r1"
	"gonum.org/v1/gonum/stat/distmv"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/samuelfneumann/gohindsight/utils/floatutils"
)

// Noisy wraps a base policy with the usual off-policy exploration
// scheme: additive Gaussian noise on every action dimension, scaled by
// NoiseEps and the half-range of the action bounds, and with
// probability RandomEps the whole action is replaced by a uniformly
// random one. Noisy actions are clipped to the action bounds. When
// the query sets Exploit, the base policy's actions pass through
// untouched.
//
// Policies queried through the rollout worker normally implement this
// behaviour themselves; Noisy exists for base policies that only know
// how to act greedily.
type Noisy struct {
	base   Policy
	bounds []r1.Interval

	noise   distuv.Normal
	uniform *distmv.Uniform
	rng     *rand.Rand
}

// NewNoisy returns a new Noisy policy wrapping base, with actions
// bounded per-dimension by bounds
func NewNoisy(base Policy, bounds []r1.Interval, seed uint64) (*Noisy,
	error) {
	if base == nil {
		return nil, fmt.Errorf("newNoisy: no base policy given")
	}
	if len(bounds) == 0 {
		return nil, fmt.Errorf("newNoisy: action space must have at " +
			"least one dimension")
	}

	source := rand.NewSource(seed)
	noise := distuv.Normal{Mu: 0.0, Sigma: 1.0, Src: source}
	uniform := distmv.NewUniform(bounds, source)

	return &Noisy{
		base:    base,
		bounds:  bounds,
		noise:   noise,
		uniform: uniform,
		rng:     rand.New(source),
	}, nil
}

// GetActions implements the Policy interface
func (n *Noisy) GetActions(o, z, ag, g *mat.Dense,
	opts ActionOptions) (mat.Matrix, []float64, error) {
	base, qs, err := n.base.GetActions(o, z, ag, g, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("getActions: base policy failed: %v",
			err)
	}
	if opts.Exploit {
		return base, qs, nil
	}

	batch, _ := o.Dims()
	actions := mat.DenseCopyOf(base)
	rows, cols := actions.Dims()
	if rows != batch || cols != len(n.bounds) {
		return nil, nil, fmt.Errorf("getActions: illegal base action "+
			"shape \n\twant(%vx%v)\n\thave(%vx%v)", batch, len(n.bounds),
			rows, cols)
	}

	for i := 0; i < batch; i++ {
		row := actions.RawRowView(i)
		if n.rng.Float64() < opts.RandomEps {
			n.uniform.Rand(row)
			continue
		}
		for j := range row {
			halfRange := (n.bounds[j].Max - n.bounds[j].Min) / 2
			row[j] += opts.NoiseEps * halfRange * n.noise.Rand()
			row[j] = floatutils.Clip(row[j], n.bounds[j].Min,
				n.bounds[j].Max)
		}
	}

	return actions, qs, nil
}
