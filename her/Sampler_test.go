package her

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/samuelfneumann/gohindsight/environment"
	"github.com/samuelfneumann/gohindsight/rollout"
)

// markerGoal is the desired goal stored in test episodes; no achieved
// goal ever takes this value, so relabeled rows are identifiable
const markerGoal float64 = -1

// testEpisodes builds a batch of width-1 episodes whose observation
// and achieved-goal value at (episode b, timestep t) is 100*b + t, so
// a sampled value decodes back into its episode and timestep
func testEpisodes(t *testing.T, batch, horizon int) *rollout.EpisodeBatch {
	t.Helper()

	stepsOf := func(n int, value func(b, step int) float64) []*mat.Dense {
		out := make([]*mat.Dense, n)
		for step := range out {
			m := mat.NewDense(batch, 1, nil)
			for b := 0; b < batch; b++ {
				m.Set(b, 0, value(b, step))
			}
			out[step] = m
		}
		return out
	}
	coded := func(b, step int) float64 { return float64(100*b + step) }
	constant := func(value float64) func(int, int) float64 {
		return func(int, int) float64 { return value }
	}

	timeMajor := map[string][]*mat.Dense{
		rollout.FieldObs:          stepsOf(horizon+1, coded),
		rollout.FieldAchievedGoal: stepsOf(horizon+1, coded),
		rollout.FieldGoal:         stepsOf(horizon, constant(markerGoal)),
		rollout.FieldAction:       stepsOf(horizon, constant(0)),
		rollout.FieldSkill:        stepsOf(horizon, constant(0)),
		rollout.FieldReward:       stepsOf(horizon, constant(0)),
		rollout.FieldDone:         stepsOf(horizon, constant(0)),
		rollout.FieldValid:        stepsOf(horizon, constant(1)),
		rollout.InfoFieldPrefix + "flag": stepsOf(horizon,
			func(b, step int) float64 { return float64(b) }),
	}

	episodes, err := rollout.ConvertEpisodeToBatchMajor(timeMajor)
	if err != nil {
		t.Fatalf("could not build episode batch: %v", err)
	}
	return episodes
}

// decode recovers the (episode, timestep) pair encoded in a stored
// value
func decode(value float64) (b, step int) {
	v := int(math.Round(value))
	return v / 100, v % 100
}

func zeroReward(achievedGoal, desiredGoal mat.Vector,
	info environment.Info) float64 {
	return 0
}

func flatSchedule(weight float64) Schedule {
	return Schedule{{Epoch: 0, Weight: weight}}
}

func TestConfigCreateValidation(t *testing.T) {
	legal := Config{
		RewardFunc:     zeroReward,
		ReplayStrategy: Future,
		ReplayK:        4,
		EtWSchedule:    flatSchedule(0.2),
	}

	sampler, err := legal.Create(1)
	if err != nil {
		t.Fatalf("legal config rejected: %v", err)
	}
	if p := sampler.FutureP(); math.Abs(p-0.8) > 1e-12 {
		t.Errorf("future probability for k=4: want 0.8, have %v", p)
	}

	broken := legal
	broken.RewardFunc = nil
	if _, err := broken.Create(1); err == nil {
		t.Error("expected an error for a missing reward function")
	}

	broken = legal
	broken.ReplayK = -1
	if _, err := broken.Create(1); err == nil {
		t.Error("expected an error for a negative replay k")
	}

	broken = legal
	broken.ReplayStrategy = Strategy("nonsense")
	if _, err := broken.Create(1); err == nil {
		t.Error("expected an error for an unknown strategy")
	}

	broken = legal
	broken.EtWSchedule = nil
	if _, err := broken.Create(1); err == nil {
		t.Error("expected an error for an empty schedule")
	}
}

func TestSampleFieldShapes(t *testing.T) {
	const n = 64
	episodes := testEpisodes(t, 3, 10)

	sampler, err := Config{
		RewardFunc:     zeroReward,
		ReplayStrategy: Future,
		ReplayK:        4,
		EtWSchedule:    flatSchedule(0.2),
	}.Create(7)
	if err != nil {
		t.Fatalf("could not create sampler: %v", err)
	}

	batch, err := sampler.Sample(episodes, n, 0)
	if err != nil {
		t.Fatalf("could not sample: %v", err)
	}

	wanted := append(episodes.FieldNames(), FieldObsNext,
		FieldAchievedGoalNext, FieldRecomputedReward)
	for _, name := range wanted {
		field, ok := batch.Fields[name]
		if !ok {
			t.Fatalf("sampled batch is missing field %q", name)
		}
		rows, _ := field.Dims()
		if rows != n {
			t.Errorf("field %q rows: want %v, have %v", name, n, rows)
		}
	}

	// o and ag are coded identically, so the successor observation of
	// a transition is its own value plus one
	obs := batch.Fields[rollout.FieldObs]
	obsNext := batch.Fields[FieldObsNext]
	for j := 0; j < n; j++ {
		if obsNext.At(j, 0) != obs.At(j, 0)+1 {
			t.Errorf("successor observation of row %v: want %v, have %v",
				j, obs.At(j, 0)+1, obsNext.At(j, 0))
		}
	}

	if batch.EntropyWeight != 0.2 {
		t.Errorf("entropy weight: want 0.2, have %v", batch.EntropyWeight)
	}
}

func TestSampleRelabelFraction(t *testing.T) {
	const n = 20000
	episodes := testEpisodes(t, 3, 10)

	sampler, err := Config{
		RewardFunc:     zeroReward,
		ReplayStrategy: Future,
		ReplayK:        4,
		EtWSchedule:    flatSchedule(0),
	}.Create(11)
	if err != nil {
		t.Fatalf("could not create sampler: %v", err)
	}

	batch, err := sampler.Sample(episodes, n, 0)
	if err != nil {
		t.Fatalf("could not sample: %v", err)
	}

	relabeled := 0
	goals := batch.Fields[rollout.FieldGoal]
	for j := 0; j < n; j++ {
		if goals.At(j, 0) != markerGoal {
			relabeled++
		}
	}

	fraction := float64(relabeled) / n
	if fraction < 0.77 || fraction > 0.83 {
		t.Errorf("relabel fraction for k=4: want about 0.8, have %v",
			fraction)
	}
}

func TestSampleNeverRelabels(t *testing.T) {
	const n = 1000
	episodes := testEpisodes(t, 3, 10)

	configs := []Config{
		{zeroReward, Future, 0, flatSchedule(0)},
		{zeroReward, None, 4, flatSchedule(0)},
	}
	for _, conf := range configs {
		sampler, err := conf.Create(13)
		if err != nil {
			t.Fatalf("could not create sampler: %v", err)
		}
		if p := sampler.FutureP(); p != 0 {
			t.Errorf("future probability: want 0, have %v", p)
		}

		batch, err := sampler.Sample(episodes, n, 0)
		if err != nil {
			t.Fatalf("could not sample: %v", err)
		}
		goals := batch.Fields[rollout.FieldGoal]
		for j := 0; j < n; j++ {
			if goals.At(j, 0) != markerGoal {
				t.Fatalf("row %v relabeled with future probability 0", j)
			}
		}
	}
}

func TestSampleRelabeledGoalsAreStrictlyFuture(t *testing.T) {
	const n, horizon = 5000, 10
	episodes := testEpisodes(t, 3, horizon)

	sampler, err := Config{
		RewardFunc:     zeroReward,
		ReplayStrategy: Future,
		ReplayK:        4,
		EtWSchedule:    flatSchedule(0),
	}.Create(17)
	if err != nil {
		t.Fatalf("could not create sampler: %v", err)
	}

	batch, err := sampler.Sample(episodes, n, 0)
	if err != nil {
		t.Fatalf("could not sample: %v", err)
	}

	achieved := batch.Fields[rollout.FieldAchievedGoal]
	goals := batch.Fields[rollout.FieldGoal]
	for j := 0; j < n; j++ {
		if goals.At(j, 0) == markerGoal {
			continue
		}

		b, timestep := decode(achieved.At(j, 0))
		goalB, goalT := decode(goals.At(j, 0))
		if goalB != b {
			t.Errorf("row %v relabeled across episodes: %v vs %v", j, b,
				goalB)
		}
		if goalT <= timestep {
			t.Errorf("row %v relabeled with a non-future goal: t=%v, "+
				"goal t=%v", j, timestep, goalT)
		}
		if goalT > horizon {
			t.Errorf("row %v relabeled past the horizon: goal t=%v", j,
				goalT)
		}
	}
}

func TestSampleRecomputesEveryReward(t *testing.T) {
	const n = 500
	episodes := testEpisodes(t, 3, 10)

	// A reward that depends on both arguments, so a stale goal or a
	// wrong successor produces a detectable mismatch
	rewardFunc := func(achievedGoal, desiredGoal mat.Vector,
		info environment.Info) float64 {
		return achievedGoal.AtVec(0) - desiredGoal.AtVec(0)
	}

	sampler, err := Config{
		RewardFunc:     rewardFunc,
		ReplayStrategy: Future,
		ReplayK:        4,
		EtWSchedule:    flatSchedule(0),
	}.Create(19)
	if err != nil {
		t.Fatalf("could not create sampler: %v", err)
	}

	batch, err := sampler.Sample(episodes, n, 0)
	if err != nil {
		t.Fatalf("could not sample: %v", err)
	}

	achievedNext := batch.Fields[FieldAchievedGoalNext]
	goals := batch.Fields[rollout.FieldGoal]
	rewards := batch.Fields[FieldRecomputedReward]
	for j := 0; j < n; j++ {
		want := achievedNext.At(j, 0) - goals.At(j, 0)
		if rewards.At(j, 0) != want {
			t.Errorf("reward of row %v: want %v, have %v", j, want,
				rewards.At(j, 0))
		}
	}
}

func TestSamplePassesInfoChannels(t *testing.T) {
	const n = 500
	episodes := testEpisodes(t, 3, 10)

	// The flag channel of a transition must belong to the same episode
	// as its successor achieved goal
	mismatches := 0
	rewardFunc := func(achievedGoal, desiredGoal mat.Vector,
		info environment.Info) float64 {
		b, _ := decode(achievedGoal.AtVec(0))
		flag, ok := info["flag"]
		if !ok || len(flag) != 1 || flag[0] != float64(b) {
			mismatches++
		}
		return 0
	}

	sampler, err := Config{
		RewardFunc:     rewardFunc,
		ReplayStrategy: Future,
		ReplayK:        4,
		EtWSchedule:    flatSchedule(0),
	}.Create(23)
	if err != nil {
		t.Fatalf("could not create sampler: %v", err)
	}

	if _, err := sampler.Sample(episodes, n, 0); err != nil {
		t.Fatalf("could not sample: %v", err)
	}
	if mismatches != 0 {
		t.Errorf("info channels mismatched their episode %v times",
			mismatches)
	}
}

func TestSampleValidation(t *testing.T) {
	sampler, err := Config{
		RewardFunc:     zeroReward,
		ReplayStrategy: Future,
		ReplayK:        4,
		EtWSchedule:    flatSchedule(0),
	}.Create(29)
	if err != nil {
		t.Fatalf("could not create sampler: %v", err)
	}

	if _, err := sampler.Sample(nil, 10, 0); err == nil {
		t.Error("expected an error for missing episodes")
	}
	if _, err := sampler.Sample(testEpisodes(t, 2, 5), 0, 0); err == nil {
		t.Error("expected an error for a non-positive transition count")
	}
}
