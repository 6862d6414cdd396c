package her

import (
	"fmt"
	"strings"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"

	"github.com/samuelfneumann/gohindsight/environment"
	"github.com/samuelfneumann/gohindsight/rollout"
)

// Strategy selects how sampled transitions are relabeled
type Strategy string

const (
	// Future relabels a transition's desired goal with an achieved
	// goal from a later timestep of the same episode
	Future Strategy = "future"

	// None disables relabeling
	None Strategy = "none"
)

// Names of the fields a sampled batch carries in addition to the
// episode fields
const (
	FieldObsNext          string = "o_2"
	FieldAchievedGoalNext string = "ag_2"
	FieldRecomputedReward string = "r"
)

// Config is the configuration of a hindsight Sampler
type Config struct {
	// RewardFunc recomputes the reward of every sampled transition
	// against whatever desired goal ended up attached to it
	RewardFunc environment.RewardFunc

	// ReplayStrategy selects the relabeling strategy
	ReplayStrategy Strategy

	// ReplayK sets the ratio of relabeled to unrelabeled transitions:
	// on average K relabeled transitions are sampled per original one,
	// giving a relabel probability of K/(K+1)
	ReplayK int

	// EtWSchedule is the entropy-regularization weight schedule
	// applied to every sampled batch
	EtWSchedule Schedule
}

// Create creates and returns the Sampler with the specified Config
func (c Config) Create(seed uint64) (*Sampler, error) {
	if c.RewardFunc == nil {
		return nil, fmt.Errorf("create: no reward function given")
	}
	if c.ReplayK < 0 {
		return nil, fmt.Errorf("create: replay k must be non-negative, "+
			"got %v", c.ReplayK)
	}
	switch c.ReplayStrategy {
	case Future, None:
	default:
		return nil, fmt.Errorf("create: no such replay strategy %q",
			c.ReplayStrategy)
	}
	if err := c.EtWSchedule.Validate(); err != nil {
		return nil, fmt.Errorf("create: illegal schedule: %v", err)
	}

	var futureP float64
	if c.ReplayStrategy == Future {
		futureP = float64(c.ReplayK) / float64(c.ReplayK+1)
	}

	return &Sampler{
		rewardFunc: c.RewardFunc,
		futureP:    futureP,
		schedule:   c.EtWSchedule,
		rng:        rand.New(rand.NewSource(seed)),
	}, nil
}

// Batch is a batch of sampled transitions, one row per transition per
// field, plus the entropy-regularization weight to apply when
// computing the loss over the batch
type Batch struct {
	Fields        map[string]*mat.Dense
	EntropyWeight float64
}

// Sampler samples minibatches of transitions from stored episodes,
// relabeling a fraction of them with hindsight goals. Episodes are
// only ever read, never mutated.
type Sampler struct {
	rewardFunc environment.RewardFunc
	futureP    float64
	schedule   Schedule
	rng        *rand.Rand
}

// FutureP returns the probability with which a sampled transition's
// desired goal is replaced by a future achieved goal
func (s *Sampler) FutureP() float64 {
	return s.futureP
}

// Sample draws n transitions uniformly from the episode batch,
// relabels a FutureP-fraction of them with future achieved goals from
// their own episodes, and recomputes the reward of every transition,
// relabeled or not, with the reward function. The epoch selects the
// entropy-regularization weight from the schedule.
func (s *Sampler) Sample(episodes *rollout.EpisodeBatch, n int,
	epoch float64) (*Batch, error) {
	if episodes == nil {
		return nil, fmt.Errorf("sample: no episodes given")
	}
	if n < 1 {
		return nil, fmt.Errorf("sample: requested transition count must "+
			"be positive, got %v", n)
	}
	horizon := episodes.T
	if horizon < 1 || episodes.BatchSize < 1 {
		return nil, fmt.Errorf("sample: empty episode batch")
	}

	obs := episodes.Field(rollout.FieldObs)
	achieved := episodes.Field(rollout.FieldAchievedGoal)
	goals := episodes.Field(rollout.FieldGoal)
	if obs == nil || achieved == nil || goals == nil {
		return nil, fmt.Errorf("sample: episode batch is missing " +
			"observation or goal fields")
	}
	if obs.Steps() != horizon+1 || achieved.Steps() != horizon+1 {
		return nil, fmt.Errorf("sample: illegal episode steps "+
			"\n\twant(%v)\n\thave(o: %v, ag: %v)", horizon+1, obs.Steps(),
			achieved.Steps())
	}

	// Uniformly choose which (episode, timestep) pairs to replay
	episodeIdxs := make([]int, n)
	timeIdxs := make([]int, n)
	for j := 0; j < n; j++ {
		episodeIdxs[j] = s.rng.Intn(episodes.BatchSize)
		timeIdxs[j] = s.rng.Intn(horizon)
	}

	fields := make(map[string]*mat.Dense)
	for _, name := range episodes.FieldNames() {
		field := episodes.Field(name)
		out := mat.NewDense(n, field.Width(), nil)
		for j := 0; j < n; j++ {
			out.SetRow(j, field.At(episodeIdxs[j], timeIdxs[j]))
		}
		fields[name] = out
	}

	obsNext := mat.NewDense(n, obs.Width(), nil)
	achievedNext := mat.NewDense(n, achieved.Width(), nil)
	for j := 0; j < n; j++ {
		obsNext.SetRow(j, obs.At(episodeIdxs[j], timeIdxs[j]+1))
		achievedNext.SetRow(j, achieved.At(episodeIdxs[j], timeIdxs[j]+1))
	}
	fields[FieldObsNext] = obsNext
	fields[FieldAchievedGoalNext] = achievedNext

	// Hindsight substitution: for a futureP-fraction of transitions,
	// the desired goal becomes an achieved goal from a uniformly
	// chosen strictly-future timestep of the same episode
	relabeledGoals := fields[rollout.FieldGoal]
	for j := 0; j < n; j++ {
		if s.rng.Float64() >= s.futureP {
			continue
		}
		futureT := timeIdxs[j] + 1 + s.rng.Intn(horizon-timeIdxs[j])
		relabeledGoals.SetRow(j, achieved.At(episodeIdxs[j], futureT))
	}

	// Every transition's reward is recomputed against whatever goal
	// ended up attached to it
	rewards := mat.NewDense(n, 1, nil)
	for j := 0; j < n; j++ {
		info := s.transitionInfo(episodes, episodeIdxs[j], timeIdxs[j])
		rewards.Set(j, 0, s.rewardFunc(
			achievedNext.RowView(j),
			relabeledGoals.RowView(j),
			info,
		))
	}
	fields[FieldRecomputedReward] = rewards

	return &Batch{
		Fields:        fields,
		EntropyWeight: s.schedule.At(epoch),
	}, nil
}

// transitionInfo reassembles the environment info channels of a
// single stored transition
func (s *Sampler) transitionInfo(episodes *rollout.EpisodeBatch,
	episodeIdx, timeIdx int) environment.Info {
	info := make(environment.Info)
	for _, name := range episodes.FieldNames() {
		if !strings.HasPrefix(name, rollout.InfoFieldPrefix) {
			continue
		}
		key := strings.TrimPrefix(name, rollout.InfoFieldPrefix)
		values := episodes.Field(name).At(episodeIdx, timeIdx)
		channel := make([]float64, len(values))
		copy(channel, values)
		info[key] = channel
	}
	return info
}
