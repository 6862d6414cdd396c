// Package policy defines the action-producing interface consumed
// during experience generation. How a policy computes its actions,
// network architecture, optimization, parameter averaging, is outside
// this package; experience generation only needs actions and,
// optionally, Q estimates.
package policy

import (
	"io"

	"gonum.org/v1/gonum/mat"
)

// ActionOptions selects how a Policy should produce actions for one
// batched query
type ActionOptions struct {
	// ComputeQ asks the policy to also return its Q estimates for the
	// selected actions
	ComputeQ bool

	// NoiseEps is the scale of additive exploration noise
	NoiseEps float64

	// RandomEps is the probability of replacing the policy's action
	// with a uniformly random one. A RandomEps of 1 forces fully
	// random actions.
	RandomEps float64

	// UseTargetNet asks the policy to act with its target network
	UseTargetNet bool

	// Exploit asks the policy to act optimally, without exploration
	Exploit bool
}

// Policy produces actions for a batch of environments. Each argument
// is batch-major with one row per environment: observations o, one-hot
// skills z, achieved goals ag, and desired goals g. The returned
// actions are one row per environment, though policies serving a
// single environment may return a single unbatched action vector. The
// returned Q estimates are nil unless opts.ComputeQ is set and the
// policy has a critic.
type Policy interface {
	GetActions(o, z, ag, g *mat.Dense, opts ActionOptions) (mat.Matrix,
		[]float64, error)
}

// Snapshotter is a Policy that can serialize itself. The format is
// opaque to this module; callers that trigger a snapshot only choose
// where the bytes go.
type Snapshotter interface {
	Policy
	Snapshot(w io.Writer) error
}
