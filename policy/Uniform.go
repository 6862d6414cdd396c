package policy

import (
	"fmt"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r1"
	"gonum.org/v1/gonum/stat/distmv"
)

// Uniform is a policy that samples every action uniformly from a
// bounded action space, ignoring its inputs. It is useful for
// collecting undirected experience, for example when pretraining a
// skill discriminator, and for exercising experience generation in
// tests.
type Uniform struct {
	actionDim int
	dist      *distmv.Uniform
}

// NewUniform returns a new Uniform policy over the action space with
// the given per-dimension bounds
func NewUniform(bounds []r1.Interval, seed uint64) (*Uniform, error) {
	if len(bounds) == 0 {
		return nil, fmt.Errorf("newUniform: action space must have at " +
			"least one dimension")
	}
	for i, bound := range bounds {
		if bound.Min > bound.Max {
			return nil, fmt.Errorf("newUniform: invalid bounds for action "+
				"dimension %v \n\twant(min <= max)\n\thave(%v > %v)", i,
				bound.Min, bound.Max)
		}
	}

	source := rand.NewSource(seed)
	dist := distmv.NewUniform(bounds, source)

	return &Uniform{actionDim: len(bounds), dist: dist}, nil
}

// GetActions implements the Policy interface. Uniform has no critic,
// so asking for Q estimates is an error.
func (u *Uniform) GetActions(o, z, ag, g *mat.Dense,
	opts ActionOptions) (mat.Matrix, []float64, error) {
	if opts.ComputeQ {
		return nil, nil, fmt.Errorf("getActions: uniform policy cannot " +
			"compute Q estimates")
	}

	batch, _ := o.Dims()
	actions := mat.NewDense(batch, u.actionDim, nil)
	for i := 0; i < batch; i++ {
		u.dist.Rand(actions.RawRowView(i))
	}

	return actions, nil, nil
}
