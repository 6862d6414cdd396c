// Package maze implements goal-conditioned maze environments using
// GoMaze. The achieved goal is the agent's current cell and the
// desired goal is the maze's exit cell, with a sparse reward of 0 at
// the exit and -1 everywhere else.
package maze

import (
	"fmt"
	"math/rand"

	"github.com/samuelfneumann/gomaze"
	"gonum.org/v1/gonum/mat"

	env "github.com/samuelfneumann/gohindsight/environment"
)

// Default start and end positions, letting GoMaze choose
const (
	DefaultStartRow int = -1
	DefaultStartCol int = -1
	DefaultEndRow   int = -1
	DefaultEndCol   int = -1
)

// Maze implements a goal-conditioned maze environment
type Maze struct {
	maze *gomaze.Maze

	rows, cols      int
	init            gomaze.Initer
	maxEpisodeSteps int
	currentStep     int
}

// New returns a new rows x cols Maze generated by init, with episodes
// cut off after maxEpisodeSteps
func New(rows, cols int, init gomaze.Initer, maxEpisodeSteps int) (*Maze,
	error) {
	if maxEpisodeSteps < 1 {
		return nil, fmt.Errorf("new: maximum episode steps must be "+
			"positive, got %v", maxEpisodeSteps)
	}

	maze, err := gomaze.NewMaze(rows, cols, DefaultEndRow, DefaultEndCol,
		DefaultStartRow, DefaultStartCol, init, false)
	if err != nil {
		return nil, fmt.Errorf("new: could not create maze: %v", err)
	}

	return &Maze{
		maze:            maze,
		rows:            rows,
		cols:            cols,
		init:            init,
		maxEpisodeSteps: maxEpisodeSteps,
	}, nil
}

// Seed seeds maze generation. GoMaze draws from the shared random
// source, so the maze is regenerated after reseeding.
func (m *Maze) Seed(seed uint64) {
	rand.Seed(int64(seed))
	maze, err := gomaze.NewMaze(m.rows, m.cols, DefaultEndRow,
		DefaultEndCol, DefaultStartRow, DefaultStartCol, m.init, false)
	if err == nil {
		m.maze = maze
	}
}

// MaxEpisodeSteps returns the episode cutoff
func (m *Maze) MaxEpisodeSteps() int {
	return m.maxEpisodeSteps
}

// Reset places the agent back at the maze's start cell
func (m *Maze) Reset() (env.Observation, error) {
	position := m.maze.Reset()
	m.currentStep = 0

	return m.observation(position), nil
}

// Step moves the agent by the argument action, one of GoMaze's
// discrete movement actions encoded as a single-element vector
func (m *Maze) Step(action mat.Vector) (env.Observation, float64, bool,
	env.Info, error) {
	if action.Len() != 1 {
		return env.Observation{}, 0, false, nil, fmt.Errorf("step: " +
			"actions must be 1-dimensional")
	}

	a := int(action.AtVec(0))
	position, _, _, err := m.maze.Step(a)
	if err != nil {
		return env.Observation{}, 0, false, nil, fmt.Errorf("step: could "+
			"not step maze: %v", err)
	}
	m.currentStep++

	obs := m.observation(position)
	reward := m.ComputeReward(obs.AchievedGoal, obs.DesiredGoal, nil)
	success := m.maze.AtGoal()
	done := success || m.currentStep >= m.maxEpisodeSteps

	info := env.Info{
		env.SuccessKey: []float64{boolToFloat(success)},
		env.CurStepKey: []float64{float64(m.currentStep)},
	}

	return obs, reward, done, info, nil
}

// ComputeReward returns the sparse reward for an arbitrary
// (achieved goal, desired goal) cell pair: 0 when the cells match, -1
// everywhere else
func (m *Maze) ComputeReward(achievedGoal, desiredGoal mat.Vector,
	_ env.Info) float64 {
	if int(achievedGoal.AtVec(0)) == int(desiredGoal.AtVec(0)) &&
		int(achievedGoal.AtVec(1)) == int(desiredGoal.AtVec(1)) {
		return 0
	}
	return -1
}

// SampleAction returns a uniformly random movement action
func (m *Maze) SampleAction() *mat.VecDense {
	return mat.NewVecDense(1, []float64{
		float64(rand.Intn(gomaze.Actions)),
	})
}

func (m *Maze) observation(position []float64) env.Observation {
	goalRow, goalCol := m.maze.Goal()

	// GoMaze reuses its position slice, so each goal needs its own copy
	obs := make([]float64, len(position))
	copy(obs, position)
	achieved := make([]float64, len(position))
	copy(achieved, position)

	return env.Observation{
		Observation:  mat.NewVecDense(len(obs), obs),
		AchievedGoal: mat.NewVecDense(len(achieved), achieved),
		DesiredGoal: mat.NewVecDense(2, []float64{
			float64(goalRow),
			float64(goalCol),
		}),
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
