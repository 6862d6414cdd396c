package environment

import (
	"fmt"
	"testing"

	"gonum.org/v1/gonum/mat"
)

// stubEnv is a goal-conditioned environment with fixed widths for
// exercising dimension inference and caching
type stubEnv struct {
	horizon int
	step    int
	closed  bool
}

func (s *stubEnv) observation() Observation {
	return Observation{
		Observation:  mat.NewVecDense(4, nil),
		AchievedGoal: mat.NewVecDense(2, nil),
		DesiredGoal:  mat.NewVecDense(2, nil),
	}
}

func (s *stubEnv) Reset() (Observation, error) {
	s.step = 0
	return s.observation(), nil
}

func (s *stubEnv) Step(action mat.Vector) (Observation, float64, bool,
	Info, error) {
	s.step++
	info := Info{
		SuccessKey:           {0},
		CurStepKey:           {float64(s.step)},
		"dist":               {1.5},
		"TimeLimit.truncated": {0},
	}
	return s.observation(), -1, s.step >= s.horizon, info, nil
}

func (s *stubEnv) Seed(seed uint64) {}

func (s *stubEnv) MaxEpisodeSteps() int { return s.horizon }

func (s *stubEnv) SampleAction() *mat.VecDense {
	return mat.NewVecDense(3, nil)
}

func (s *stubEnv) Close() error {
	s.closed = true
	return nil
}

func TestInfoAccessors(t *testing.T) {
	info := Info{SuccessKey: {1}, CurStepKey: {7}}

	success, ok := info.Success()
	if !ok || success != 1 {
		t.Errorf("success: want (1, true), have (%v, %v)", success, ok)
	}
	step, ok := info.CurStep()
	if !ok || step != 7 {
		t.Errorf("step count: want (7, true), have (%v, %v)", step, ok)
	}

	if _, ok := (Info{}).Success(); ok {
		t.Error("empty info must not report success")
	}
	if _, ok := (Info{}).CurStep(); ok {
		t.Error("empty info must not report a step count")
	}
}

func TestObservationGoalConditioned(t *testing.T) {
	flat := Observation{Observation: mat.NewVecDense(2, nil)}
	if flat.GoalConditioned() {
		t.Error("observation without goals must not be goal-conditioned")
	}
	if !(&stubEnv{}).observation().GoalConditioned() {
		t.Error("observation with both goals must be goal-conditioned")
	}
}

func TestInferDims(t *testing.T) {
	dims, err := InferDims(&stubEnv{horizon: 10}, 5)
	if err != nil {
		t.Fatalf("could not infer dims: %v", err)
	}

	if dims.Obs != 4 || dims.Goal != 2 || dims.Action != 3 ||
		dims.Skills != 5 {
		t.Errorf("illegal dims: %+v", dims)
	}
	if err := dims.Validate(); err != nil {
		t.Errorf("inferred dims must validate: %v", err)
	}

	// Time-limit bookkeeping channels are not part of the transition
	if _, ok := dims.Info["TimeLimit.truncated"]; ok {
		t.Error("time-limit info channel must be skipped")
	}
	for key, width := range map[string]int{SuccessKey: 1, CurStepKey: 1,
		"dist": 1} {
		if dims.Info[key] != width {
			t.Errorf("info channel %q width: want %v, have %v", key, width,
				dims.Info[key])
		}
	}
}

func TestInferDimsValidation(t *testing.T) {
	if _, err := InferDims(&stubEnv{horizon: 10}, 0); err == nil {
		t.Error("expected an error for a non-positive skill count")
	}
	if _, err := InferDims(&stubEnv{horizon: 0}, 5); err == nil {
		t.Error("expected an error for a missing episode horizon")
	}
}

func TestDimsValidate(t *testing.T) {
	legal := Dims{Obs: 1, Goal: 1, Action: 1, Skills: 1,
		Info: map[string]int{"a": 1}}
	if err := legal.Validate(); err != nil {
		t.Errorf("legal dims rejected: %v", err)
	}

	broken := legal
	broken.Goal = 0
	if err := broken.Validate(); err == nil {
		t.Error("expected an error for a zero goal width")
	}

	broken = legal
	broken.Info = map[string]int{"a": 0}
	if err := broken.Validate(); err == nil {
		t.Error("expected an error for a zero-width info channel")
	}
}

func TestRewardFuncOf(t *testing.T) {
	if _, ok := RewardFuncOf(&stubEnv{}); ok {
		t.Error("plain environments must not yield a reward function")
	}
}

func TestCacheConstructsOnce(t *testing.T) {
	cache := NewCache()

	constructions := 0
	makeEnv := func() (Environment, error) {
		constructions++
		return &stubEnv{horizon: 10}, nil
	}

	first, err := cache.Get("stub", makeEnv)
	if err != nil {
		t.Fatalf("could not get environment: %v", err)
	}
	second, err := cache.Get("stub", makeEnv)
	if err != nil {
		t.Fatalf("could not get environment: %v", err)
	}

	if constructions != 1 {
		t.Errorf("construction count: want 1, have %v", constructions)
	}
	if first != second {
		t.Error("cache must return the same environment for the same key")
	}

	if _, err := cache.Get("other", makeEnv); err != nil {
		t.Fatalf("could not get environment: %v", err)
	}
	if constructions != 2 || cache.Len() != 2 {
		t.Errorf("cache state after two keys: constructions=%v len=%v",
			constructions, cache.Len())
	}
}

func TestCachePropagatesConstructionError(t *testing.T) {
	cache := NewCache()
	makeEnv := func() (Environment, error) {
		return nil, fmt.Errorf("cannot build")
	}

	if _, err := cache.Get("broken", makeEnv); err == nil {
		t.Fatal("expected a construction error")
	}
	if cache.Len() != 0 {
		t.Errorf("failed constructions must not be cached, len=%v",
			cache.Len())
	}
}

func TestCacheCloseClosesEnvironments(t *testing.T) {
	cache := NewCache()
	env := &stubEnv{horizon: 10}
	if _, err := cache.Get("stub", func() (Environment, error) {
		return env, nil
	}); err != nil {
		t.Fatalf("could not get environment: %v", err)
	}

	if err := cache.Close(); err != nil {
		t.Fatalf("could not close cache: %v", err)
	}
	if !env.closed {
		t.Error("cached environment was not closed")
	}
	if cache.Len() != 0 {
		t.Errorf("cache must be empty after closing, len=%v", cache.Len())
	}
}
