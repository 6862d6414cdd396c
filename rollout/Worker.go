package rollout

import (
	"errors"
	"fmt"
	"image"
	"os"

	"gonum.org/v1/gonum/mat"

	"github.com/samuelfneumann/gohindsight/environment"
	"github.com/samuelfneumann/gohindsight/policy"
	"github.com/samuelfneumann/gohindsight/tracker"
	"github.com/samuelfneumann/gohindsight/utils/floatutils"
)

// DefaultMaxRetries bounds how often a rollout is restarted after a
// simulator fault or a non-finite observation before giving up
const DefaultMaxRetries int = 10

// Render sizes matching the two render modes
const (
	rgbArraySize      int = 200
	humanRenderWidth  int = 1648
	humanRenderHeight int = 992
)

// Config is the configuration of a rollout Worker. It is read once at
// construction and never mutated afterwards.
type Config struct {
	// RolloutBatchSize is the number of environments stepped in
	// lockstep per rollout
	RolloutBatchSize int

	// Exploit zeroes all exploration parameters so the policy acts
	// optimally
	Exploit bool

	// UseTargetNet asks the policy to act with its target network
	UseTargetNet bool

	// ComputeQ records the policy's Q estimates alongside actions
	ComputeQ bool

	// NoiseEps is the scale of additive exploration noise passed to
	// the policy
	NoiseEps float64

	// RandomEps is the probability of a fully random action passed to
	// the policy
	RandomEps float64

	// HistoryLen is the capacity of the statistics windows; when not
	// positive, tracker.DefaultHistoryLen is used
	HistoryLen int

	// Render captures one image per environment per timestep when not
	// RenderOff
	Render environment.RenderMode

	// MaxRetries bounds rollout restarts after simulator faults and
	// non-finite observations; when not positive, DefaultMaxRetries is
	// used
	MaxRetries int
}

// restartError marks a fault that discards the in-progress rollout
// and restarts it from scratch rather than failing the caller
type restartError struct {
	cause error
}

func (e *restartError) Error() string {
	return e.cause.Error()
}

func (e *restartError) Unwrap() error {
	return e.cause
}

// Worker generates experience by driving a batch of environments in
// lockstep with a policy for a shared, fixed horizon. Environments
// that terminate early are kept in the batch and continue to be
// stepped; their subsequent timesteps are only marked invalid.
//
// A Worker is single-threaded: one rollout mutates the live buffers
// in place and completed episodes are copied out. Use one Worker per
// worker process.
type Worker struct {
	envs      []environment.Environment
	renderers []environment.Renderer
	pol       policy.Policy
	dims      environment.Dims
	logger    Logger
	conf      Config

	// T is the shared horizon, taken from the environments' maximum
	// episode steps
	T int

	// Live buffers, one row per environment, mutated in place during
	// a rollout
	g         *mat.Dense
	initialO  *mat.Dense
	initialAg *mat.Dense

	history    *tracker.History
	maxRetries int
}

// NewWorker returns a new Worker generating experience from
// conf.RolloutBatchSize environments created by makeEnv, acted in by
// pol. The dims describe the widths of every exchanged array and are
// validated against an actual reset observation; a mismatch is a
// contract violation surfaced here, at construction.
func NewWorker(makeEnv func() (environment.Environment, error),
	pol policy.Policy, dims environment.Dims, logger Logger,
	conf Config) (*Worker, error) {
	if conf.RolloutBatchSize < 1 {
		return nil, fmt.Errorf("newWorker: rollout batch size must be "+
			"positive, got %v", conf.RolloutBatchSize)
	}
	if pol == nil {
		return nil, fmt.Errorf("newWorker: no policy given")
	}
	if err := dims.Validate(); err != nil {
		return nil, fmt.Errorf("newWorker: illegal dims: %v", err)
	}
	if logger == nil {
		logger = NewNopLogger()
	}

	envs := make([]environment.Environment, conf.RolloutBatchSize)
	for i := range envs {
		env, err := makeEnv()
		if err != nil {
			return nil, fmt.Errorf("newWorker: could not create "+
				"environment %v: %v", i, err)
		}
		envs[i] = env
	}

	horizon := envs[0].MaxEpisodeSteps()
	if horizon < 1 {
		return nil, fmt.Errorf("newWorker: environment must report a "+
			"positive maximum episode length, got %v", horizon)
	}

	var renderers []environment.Renderer
	if conf.Render != environment.RenderOff {
		renderers = make([]environment.Renderer, len(envs))
		for i, env := range envs {
			renderer, ok := env.(environment.Renderer)
			if !ok {
				return nil, fmt.Errorf("newWorker: rendering enabled but "+
					"environment %v cannot render", i)
			}
			renderers[i] = renderer
		}
	}

	maxRetries := conf.MaxRetries
	if maxRetries < 1 {
		maxRetries = DefaultMaxRetries
	}

	history, err := tracker.NewHistory(conf.HistoryLen,
		conf.RolloutBatchSize)
	if err != nil {
		return nil, fmt.Errorf("newWorker: %v", err)
	}

	w := &Worker{
		envs:       envs,
		renderers:  renderers,
		pol:        pol,
		dims:       dims,
		logger:     logger,
		conf:       conf,
		T:          horizon,
		g:          mat.NewDense(conf.RolloutBatchSize, dims.Goal, nil),
		initialO:   mat.NewDense(conf.RolloutBatchSize, dims.Obs, nil),
		initialAg:  mat.NewDense(conf.RolloutBatchSize, dims.Goal, nil),
		history:    history,
		maxRetries: maxRetries,
	}

	if err := w.ResetAllRollouts(nil); err != nil {
		return nil, fmt.Errorf("newWorker: %v", err)
	}

	return w, nil
}

// resetRollout resets the i'th environment, re-samples its goal, and
// updates the corresponding rows of the live buffers. A non-nil
// generatedGoal overrides the environment's own desired goal with row
// i of the array.
func (w *Worker) resetRollout(i int, generatedGoal *mat.Dense) error {
	obs, err := w.envs[i].Reset()
	if err != nil {
		return fmt.Errorf("resetRollout: could not reset environment "+
			"%v: %v", i, err)
	}

	if obs.Observation.Len() != w.dims.Obs {
		return fmt.Errorf("resetRollout: illegal observation width "+
			"\n\twant(%v)\n\thave(%v)", w.dims.Obs, obs.Observation.Len())
	}

	if obs.GoalConditioned() {
		if obs.DesiredGoal.Len() != w.dims.Goal {
			return fmt.Errorf("resetRollout: illegal goal width "+
				"\n\twant(%v)\n\thave(%v)", w.dims.Goal,
				obs.DesiredGoal.Len())
		}
		w.g.SetRow(i, obs.DesiredGoal.RawVector().Data)
		if generatedGoal != nil {
			w.g.SetRow(i, generatedGoal.RawRowView(i))
			if setter, ok := w.envs[i].(environment.GoalSetter); ok {
				setter.SetGoal(generatedGoal.RowView(i))
			}
		}
		w.initialAg.SetRow(i, obs.AchievedGoal.RawVector().Data)
	} else {
		zeroRow(w.g, i)
		zeroRow(w.initialAg, i)
	}
	w.initialO.SetRow(i, obs.Observation.RawVector().Data)

	return nil
}

// ResetAllRollouts resets every environment in the batch. A non-nil
// generatedGoal must be a (RolloutBatchSize x goal width) array and
// overrides every environment's desired goal row-by-row.
func (w *Worker) ResetAllRollouts(generatedGoal *mat.Dense) error {
	if generatedGoal != nil {
		rows, cols := generatedGoal.Dims()
		if rows != w.conf.RolloutBatchSize || cols != w.dims.Goal {
			return fmt.Errorf("resetAllRollouts: illegal generated goal "+
				"shape \n\twant(%vx%v)\n\thave(%vx%v)",
				w.conf.RolloutBatchSize, w.dims.Goal, rows, cols)
		}
	}
	for i := range w.envs {
		if err := w.resetRollout(i, generatedGoal); err != nil {
			return err
		}
	}
	return nil
}

// Seed seeds each environment with a distinct seed derived from the
// given global seed
func (w *Worker) Seed(seed uint64) {
	for i, env := range w.envs {
		env.Seed(seed + 1000*uint64(i))
	}
}

// GenerateRollouts performs RolloutBatchSize rollouts in lockstep for
// the shared horizon with the current policy acting in every
// environment.
//
// A non-nil generatedGoal overrides each environment's desired goal
// with the corresponding row. The skills array assigns one one-hot
// skill row per environment and is consumed as given. Setting
// randomAction forces fully random actions regardless of the
// configured exploration parameters, which is how data for skill
// discriminator pretraining is collected.
//
// Simulator faults and non-finite observations discard the
// in-progress rollout and restart it from scratch, at most MaxRetries
// times before the fault is returned to the caller.
func (w *Worker) GenerateRollouts(generatedGoal, skills *mat.Dense,
	randomAction bool) (*EpisodeBatch, error) {
	if skills == nil {
		return nil, fmt.Errorf("generateRollouts: no skills given")
	}
	rows, cols := skills.Dims()
	if rows != w.conf.RolloutBatchSize || cols != w.dims.Skills {
		return nil, fmt.Errorf("generateRollouts: illegal skill shape "+
			"\n\twant(%vx%v)\n\thave(%vx%v)", w.conf.RolloutBatchSize,
			w.dims.Skills, rows, cols)
	}

	for attempt := 0; ; attempt++ {
		episode, err := w.rollout(generatedGoal, skills, randomAction)
		if err == nil {
			return episode, nil
		}

		var restart *restartError
		if !errors.As(err, &restart) {
			return nil, fmt.Errorf("generateRollouts: %v", err)
		}
		if attempt >= w.maxRetries {
			return nil, fmt.Errorf("generateRollouts: no clean rollout "+
				"after %v attempts: %v", attempt+1, err)
		}
		w.logger.Warningf("restarting rollout (attempt %v): %v",
			attempt+1, err)
	}
}

// rollout performs a single rollout attempt. Errors wrapped in
// restartError invalidate only this attempt.
func (w *Worker) rollout(generatedGoal, skills *mat.Dense,
	randomAction bool) (*EpisodeBatch, error) {
	if err := w.ResetAllRollouts(generatedGoal); err != nil {
		return nil, err
	}

	batch := w.conf.RolloutBatchSize

	o := mat.DenseCopyOf(w.initialO)
	ag := mat.DenseCopyOf(w.initialAg)
	z := mat.DenseCopyOf(skills)

	var obs, ags, zs, us, gs []*mat.Dense
	var rewards, dones, valids, successes []*mat.Dense
	infoValues := make(map[string][]*mat.Dense, len(w.dims.Info))

	curValid := onesVec(batch)
	lengths := fullVec(batch, -1)
	onceSuccesses := make([]float64, batch)
	returns := make([]float64, batch)
	var qs []float64

	var frames [][]image.Image
	if w.renderers != nil {
		frames = make([][]image.Image, batch)
		for i := range frames {
			frames[i] = make([]image.Image, 0, w.T)
		}
	}

	noiseEps, randomEps := w.conf.NoiseEps, w.conf.RandomEps
	if w.conf.Exploit {
		noiseEps, randomEps = 0, 0
	}
	if randomAction {
		// Uniform actions regardless of the configured exploration
		randomEps = 1
	}

	for t := 0; t < w.T; t++ {
		uRaw, q, err := w.pol.GetActions(o, z, ag, w.g,
			policy.ActionOptions{
				ComputeQ:     w.conf.ComputeQ,
				NoiseEps:     noiseEps,
				RandomEps:    randomEps,
				UseTargetNet: w.conf.UseTargetNet,
				Exploit:      w.conf.Exploit,
			})
		if err != nil {
			return nil, fmt.Errorf("rollout: could not get actions: %v",
				err)
		}
		if w.conf.ComputeQ {
			if len(q) == 0 {
				return nil, fmt.Errorf("rollout: policy returned no Q " +
					"estimates")
			}
			qs = append(qs, q...)
		}

		u, err := normalizeActions(uRaw, batch, w.dims.Action)
		if err != nil {
			return nil, fmt.Errorf("rollout: %v", err)
		}

		oNew := mat.NewDense(batch, w.dims.Obs, nil)
		agNew := mat.NewDense(batch, w.dims.Goal, nil)
		success := mat.NewDense(batch, 1, nil)
		curReward := mat.NewDense(batch, 1, nil)
		curDone := mat.NewDense(batch, 1, nil)

		for i := range w.envs {
			obsNew, reward, done, info, err := w.envs[i].Step(u.RowView(i))
			if err != nil {
				return nil, &restartError{fmt.Errorf("simulator fault in "+
					"environment %v at timestep %v: %v", i, t, err)}
			}

			if flag, ok := info.Success(); ok {
				success.Set(i, 0, flag)
			}
			curReward.Set(i, 0, reward)
			if done {
				curDone.Set(i, 0, 1)
			}

			if (done || t == w.T-1) && lengths[i] < 0 {
				if curStep, ok := info.CurStep(); ok {
					lengths[i] = float64(curStep)
				} else {
					lengths[i] = float64(t + 1)
				}
			}
			if success.At(i, 0) > 0 {
				onceSuccesses[i] = 1
			}
			if curValid[i] > 0 {
				returns[i] += reward
			}

			if obsNew.GoalConditioned() {
				oNew.SetRow(i, obsNew.Observation.RawVector().Data)
				agNew.SetRow(i, obsNew.AchievedGoal.RawVector().Data)
				for key, width := range w.dims.Info {
					value, ok := info[key]
					if !ok || len(value) != width {
						return nil, fmt.Errorf("rollout: illegal info "+
							"channel %q at timestep %v \n\twant(width "+
							"%v)\n\thave(width %v)", key, t, width,
							len(value))
					}
					recordInfo(infoValues, key, t, i, batch, width, value)
				}
			} else {
				oNew.SetRow(i, obsNew.Observation.RawVector().Data)
				// Achieved goal stays a zero-filled placeholder
			}

			if w.renderers != nil {
				frame, err := w.renderFrame(i)
				if err != nil {
					return nil, fmt.Errorf("rollout: %v", err)
				}
				frames[i] = append(frames[i], frame)
			}
		}

		if !floatutils.AllFinite(oNew.RawMatrix().Data) {
			return nil, &restartError{fmt.Errorf("NaN caught during " +
				"rollout generation")}
		}

		// The live buffers are overwritten in place on the next
		// iteration, so only copies may be appended
		obs = append(obs, mat.DenseCopyOf(o))
		rewards = append(rewards, curReward)
		dones = append(dones, curDone)
		valids = append(valids, mat.NewDense(batch, 1, copyOf(curValid)))
		zs = append(zs, mat.DenseCopyOf(z))
		ags = append(ags, mat.DenseCopyOf(ag))
		successes = append(successes, success)
		us = append(us, u)
		gs = append(gs, mat.DenseCopyOf(w.g))

		o.Copy(oNew)
		ag.Copy(agNew)

		// Once done, an environment stays invalid for the rest of the
		// rollout even though it keeps being stepped
		for i := 0; i < batch; i++ {
			if curDone.At(i, 0) > 0 {
				curValid[i] = 0
			}
		}
	}

	obs = append(obs, mat.DenseCopyOf(o))
	ags = append(ags, mat.DenseCopyOf(ag))
	w.initialO.Copy(o)

	// Success on the final step is what counts as rollout success
	finalSuccess := successes[len(successes)-1]

	w.history.Record(
		floatutils.Mean(finalSuccess.RawMatrix().Data),
		floatutils.Mean(onceSuccesses),
		floatutils.Mean(returns),
		floatutils.Mean(lengths),
	)
	if w.conf.ComputeQ {
		w.history.RecordQ(floatutils.Mean(qs))
	}

	timeMajor := map[string][]*mat.Dense{
		FieldObs:          obs,
		FieldSkill:        zs,
		FieldAction:       us,
		FieldGoal:         gs,
		FieldAchievedGoal: ags,
		FieldReward:       rewards,
		FieldDone:         dones,
		FieldValid:        valids,
	}
	for key, values := range infoValues {
		timeMajor[InfoFieldPrefix+key] = values
	}

	episode, err := ConvertEpisodeToBatchMajor(timeMajor)
	if err != nil {
		return nil, fmt.Errorf("rollout: %v", err)
	}
	episode.Frames = frames

	return episode, nil
}

// renderFrame captures one image of environment i at the size
// selected by the configured render mode
func (w *Worker) renderFrame(i int) (image.Image, error) {
	var width, height int
	switch w.conf.Render {
	case environment.RenderRGBArray:
		width, height = rgbArraySize, rgbArraySize
	case environment.RenderHuman:
		width, height = humanRenderWidth, humanRenderHeight
	default:
		return nil, fmt.Errorf("renderFrame: no such render mode %q",
			w.conf.Render)
	}

	frame, err := w.renderers[i].Render(w.conf.Render, width, height)
	if err != nil {
		return nil, fmt.Errorf("renderFrame: could not render "+
			"environment %v: %v", i, err)
	}
	return frame, nil
}

// SavePolicy triggers the policy's own snapshot serialization and
// writes it to path. The snapshot format belongs to the policy.
func (w *Worker) SavePolicy(path string) error {
	snapshotter, ok := w.pol.(policy.Snapshotter)
	if !ok {
		return fmt.Errorf("savePolicy: policy cannot snapshot itself")
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("savePolicy: could not create snapshot file: %v",
			err)
	}
	defer file.Close()

	if err := snapshotter.Snapshot(file); err != nil {
		return fmt.Errorf("savePolicy: could not snapshot policy: %v", err)
	}
	return nil
}

// ClearHistory empties all statistics windows
func (w *Worker) ClearHistory() {
	w.history.Clear()
}

// CurrentSuccessRate returns the mean success rate over the current
// statistics window, or NaN before any rollout completes
func (w *Worker) CurrentSuccessRate() float64 {
	return w.history.CurrentSuccessRate()
}

// CurrentMeanQ returns the mean Q estimate over the current
// statistics window, or NaN before any Q estimates are recorded
func (w *Worker) CurrentMeanQ() float64 {
	return w.history.CurrentMeanQ()
}

// NumEpisodes returns the total number of episodes generated by the
// worker
func (w *Worker) NumEpisodes() int {
	return w.history.NumEpisodes()
}

// Logs returns all collected statistics as named values, each name
// prefixed with "<prefix>/" when prefix is not empty
func (w *Worker) Logs(prefix string) []tracker.Log {
	return w.history.Logs(prefix)
}

// Horizon returns the shared rollout horizon T
func (w *Worker) Horizon() int {
	return w.T
}

// normalizeActions reshapes a policy's raw action output into a
// (batch x actionDim) matrix. Unbatched policies serving a single
// environment may return a plain vector, which becomes a batch of
// one; any other shape mismatch is a contract violation.
func normalizeActions(raw mat.Matrix, batch, actionDim int) (*mat.Dense,
	error) {
	if raw == nil {
		return nil, fmt.Errorf("normalizeActions: policy returned no " +
			"actions")
	}

	if vec, ok := raw.(mat.Vector); ok {
		if batch != 1 || vec.Len() != actionDim {
			return nil, fmt.Errorf("normalizeActions: illegal unbatched "+
				"action length \n\twant(batch 1, width %v)\n\thave(batch "+
				"%v, width %v)", actionDim, batch, vec.Len())
		}
		u := mat.NewDense(1, actionDim, nil)
		for j := 0; j < actionDim; j++ {
			u.Set(0, j, vec.AtVec(j))
		}
		return u, nil
	}

	rows, cols := raw.Dims()
	if rows != batch || cols != actionDim {
		return nil, fmt.Errorf("normalizeActions: illegal action shape "+
			"\n\twant(%vx%v)\n\thave(%vx%v)", batch, actionDim, rows, cols)
	}
	return mat.DenseCopyOf(raw), nil
}

// recordInfo stores one environment's info channel value at timestep
// t, creating the channel's time-major buffers on first use
func recordInfo(infoValues map[string][]*mat.Dense, key string,
	t, i, batch, width int, value []float64) {
	steps := infoValues[key]
	for len(steps) <= t {
		steps = append(steps, mat.NewDense(batch, width, nil))
	}
	steps[t].SetRow(i, value)
	infoValues[key] = steps
}

func onesVec(n int) []float64 {
	ones := make([]float64, n)
	for i := range ones {
		ones[i] = 1
	}
	return ones
}

func fullVec(n int, value float64) []float64 {
	full := make([]float64, n)
	for i := range full {
		full[i] = value
	}
	return full
}

func copyOf(values []float64) []float64 {
	out := make([]float64, len(values))
	copy(out, values)
	return out
}

func zeroRow(m *mat.Dense, i int) {
	_, cols := m.Dims()
	for j := 0; j < cols; j++ {
		m.Set(i, j, 0)
	}
}
