// Package rollout generates batches of experience by driving many
// environments in lockstep with a policy
package rollout

import (
	"fmt"
	"image"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"
)

// Names of the fields every episode batch carries. Observations and
// achieved goals have one more step than the other fields because
// they include the state after the final action.
const (
	FieldObs          string = "o"
	FieldAchievedGoal string = "ag"
	FieldSkill        string = "z"
	FieldAction       string = "u"
	FieldGoal         string = "g"
	FieldReward       string = "myr"
	FieldDone         string = "myd"
	FieldValid        string = "myv"

	// InfoFieldPrefix prefixes the name of every recorded info channel
	InfoFieldPrefix string = "info_"
)

// Field is one named chunk of an episode batch: a batch-major
// [batch x steps x width] array backed by a flat slice
type Field struct {
	batch int
	steps int
	width int
	data  []float64
}

// NewField returns a new zero-filled Field
func NewField(batch, steps, width int) (*Field, error) {
	if batch < 1 || steps < 1 || width < 1 {
		return nil, fmt.Errorf("newField: dimensions must be positive, "+
			"got (%v, %v, %v)", batch, steps, width)
	}
	return &Field{
		batch: batch,
		steps: steps,
		width: width,
		data:  make([]float64, batch*steps*width),
	}, nil
}

// Batch returns the number of episodes in the field
func (f *Field) Batch() int { return f.batch }

// Steps returns the number of timesteps per episode in the field
func (f *Field) Steps() int { return f.steps }

// Width returns the per-timestep width of the field
func (f *Field) Width() int { return f.width }

// At returns the values of episode b at timestep t. The returned
// slice aliases the field's backing array.
func (f *Field) At(b, t int) []float64 {
	start := (b*f.steps + t) * f.width
	return f.data[start : start+f.width]
}

// Scalar returns the single value of episode b at timestep t for
// width-1 fields
func (f *Field) Scalar(b, t int) float64 {
	return f.data[(b*f.steps+t)*f.width]
}

// Set copies values into episode b at timestep t
func (f *Field) Set(b, t int, values []float64) error {
	if len(values) != f.width {
		return fmt.Errorf("set: illegal width \n\twant(%v)\n\thave(%v)",
			f.width, len(values))
	}
	copy(f.At(b, t), values)
	return nil
}

// Episode returns episode b as a (steps x width) matrix viewing the
// field's backing array
func (f *Field) Episode(b int) *mat.Dense {
	start := b * f.steps * f.width
	return mat.NewDense(f.steps, f.width,
		f.data[start:start+f.steps*f.width])
}

// Tensor returns a copy of the field as a [batch, steps, width]
// tensor for downstream gradient computation
func (f *Field) Tensor() *tensor.Dense {
	backing := make([]float64, len(f.data))
	copy(backing, f.data)
	return tensor.New(
		tensor.WithShape(f.batch, f.steps, f.width),
		tensor.WithBacking(backing),
	)
}

// EpisodeBatch is a completed batch of fixed-horizon episodes, one
// per environment, stored batch-major by named field. Consumers of an
// EpisodeBatch read it but never mutate it.
type EpisodeBatch struct {
	// T is the shared horizon: every per-step field has T steps, and
	// the observation and achieved-goal fields have T+1
	T int

	// BatchSize is the number of parallel episodes
	BatchSize int

	fields map[string]*Field

	// Frames holds one rendered image per environment per timestep
	// when rendering was enabled, and is nil otherwise
	Frames [][]image.Image
}

// Field returns the named field, or nil if the batch has no such
// field
func (e *EpisodeBatch) Field(name string) *Field {
	return e.fields[name]
}

// FieldNames returns the names of all fields in the batch in sorted
// order
func (e *EpisodeBatch) FieldNames() []string {
	names := make([]string, 0, len(e.fields))
	for name := range e.fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ConvertEpisodeToBatchMajor converts time-major rollout buffers into
// a batch-major EpisodeBatch. Each input field is a list of
// per-timestep (batch x width) matrices; the output stores the same
// values so that output.Field(name).At(b, t) equals row b of
// timeMajor[name][t]. Field names and per-field widths are preserved
// exactly; no other transformation is applied.
func ConvertEpisodeToBatchMajor(
	timeMajor map[string][]*mat.Dense) (*EpisodeBatch, error) {
	actions, ok := timeMajor[FieldAction]
	if !ok || len(actions) == 0 {
		return nil, fmt.Errorf("convertEpisodeToBatchMajor: episode has "+
			"no %q field", FieldAction)
	}
	horizon := len(actions)
	batchSize, _ := actions[0].Dims()

	fields := make(map[string]*Field, len(timeMajor))
	for name, steps := range timeMajor {
		if len(steps) == 0 {
			return nil, fmt.Errorf("convertEpisodeToBatchMajor: field %q "+
				"is empty", name)
		}
		batch, width := steps[0].Dims()
		if batch != batchSize {
			return nil, fmt.Errorf("convertEpisodeToBatchMajor: field %q "+
				"illegal batch size \n\twant(%v)\n\thave(%v)", name,
				batchSize, batch)
		}

		field, err := NewField(batch, len(steps), width)
		if err != nil {
			return nil, fmt.Errorf("convertEpisodeToBatchMajor: field "+
				"%q: %v", name, err)
		}
		for t, step := range steps {
			stepBatch, stepWidth := step.Dims()
			if stepBatch != batch || stepWidth != width {
				return nil, fmt.Errorf("convertEpisodeToBatchMajor: field "+
					"%q timestep %v illegal shape \n\twant(%vx%v)"+
					"\n\thave(%vx%v)", name, t, batch, width, stepBatch,
					stepWidth)
			}
			for b := 0; b < batch; b++ {
				copy(field.At(b, t), step.RawRowView(b))
			}
		}
		fields[name] = field
	}

	return &EpisodeBatch{
		T:         horizon,
		BatchSize: batchSize,
		fields:    fields,
	}, nil
}
