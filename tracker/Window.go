// Package tracker records rolling statistics of completed rollouts
// for logging and early-stopping decisions
package tracker

import (
	"encoding/gob"
	"fmt"
	"os"

	"github.com/samuelfneumann/gohindsight/utils/floatutils"
)

// Window is a fixed-capacity FIFO of scalars. Appending to a full
// Window evicts the oldest value first.
type Window struct {
	capacity int
	values   []float64
}

// NewWindow returns a new Window holding at most capacity values
func NewWindow(capacity int) (*Window, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("newWindow: capacity must be positive, "+
			"got %v", capacity)
	}
	return &Window{
		capacity: capacity,
		values:   make([]float64, 0, capacity),
	}, nil
}

// Append adds a value to the window, evicting the oldest value if the
// window is at capacity
func (w *Window) Append(value float64) {
	if len(w.values) >= w.capacity {
		copy(w.values, w.values[1:])
		w.values = w.values[:len(w.values)-1]
	}
	w.values = append(w.values, value)
}

// Len returns the number of values currently in the window
func (w *Window) Len() int {
	return len(w.values)
}

// Mean returns the mean of the values currently in the window. An
// empty window yields NaN, signalling that no data has been recorded.
func (w *Window) Mean() float64 {
	return floatutils.Mean(w.values)
}

// Clear empties the window
func (w *Window) Clear() {
	w.values = w.values[:0]
}

// Values returns a copy of the values currently in the window, oldest
// first
func (w *Window) Values() []float64 {
	values := make([]float64, len(w.values))
	copy(values, w.values)
	return values
}

// Save saves the window's current values to disk
func (w *Window) Save(filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("save: could not open save file: %v", err)
	}
	defer file.Close()

	en := gob.NewEncoder(file)
	if err := en.Encode(w.values); err != nil {
		return fmt.Errorf("save: could not encode window data: %v", err)
	}
	return nil
}

// LoadWindowData loads and returns the data saved by a Window
func LoadWindowData(filename string) ([]float64, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("loadWindowData: could not open data "+
			"file: %v", err)
	}
	defer file.Close()

	dec := gob.NewDecoder(file)
	var data []float64
	if err := dec.Decode(&data); err != nil {
		return nil, fmt.Errorf("loadWindowData: could not decode data: %v",
			err)
	}

	return data, nil
}
