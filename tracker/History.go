package tracker

import (
	"fmt"
)

// DefaultHistoryLen is the window capacity used when no history
// length is configured
const DefaultHistoryLen int = 100

// Log is a single named statistic emitted for logging
type Log struct {
	Name  string
	Value float64
}

// History tracks rolling windows of the statistics of completed
// rollouts: final-step success rate, once-ever success rate, return,
// episode length, and mean Q estimate. One scalar is appended to each
// window per completed rollout.
type History struct {
	rolloutBatchSize int

	success     *Window
	onceSuccess *Window
	returns     *Window
	length      *Window
	q           *Window

	nEpisodes int
}

// NewHistory returns a new History with windows of capacity
// historyLen, tracking rollouts of rolloutBatchSize parallel episodes
func NewHistory(historyLen, rolloutBatchSize int) (*History, error) {
	if historyLen < 1 {
		historyLen = DefaultHistoryLen
	}
	if rolloutBatchSize < 1 {
		return nil, fmt.Errorf("newHistory: rollout batch size must be "+
			"positive, got %v", rolloutBatchSize)
	}

	windows := make([]*Window, 5)
	for i := range windows {
		window, err := NewWindow(historyLen)
		if err != nil {
			return nil, fmt.Errorf("newHistory: %v", err)
		}
		windows[i] = window
	}

	return &History{
		rolloutBatchSize: rolloutBatchSize,
		success:          windows[0],
		onceSuccess:      windows[1],
		returns:          windows[2],
		length:           windows[3],
		q:                windows[4],
	}, nil
}

// Record appends one completed rollout's statistics to the windows
func (h *History) Record(successRate, onceSuccessRate, meanReturn,
	meanLength float64) {
	h.success.Append(successRate)
	h.onceSuccess.Append(onceSuccessRate)
	h.returns.Append(meanReturn)
	h.length.Append(meanLength)
	h.nEpisodes += h.rolloutBatchSize
}

// RecordQ appends one completed rollout's mean Q estimate. Rollouts
// generated without Q computation record nothing here.
func (h *History) RecordQ(meanQ float64) {
	h.q.Append(meanQ)
}

// Clear empties all windows. The total episode count is not a window
// and survives clearing.
func (h *History) Clear() {
	h.success.Clear()
	h.onceSuccess.Clear()
	h.returns.Clear()
	h.length.Clear()
	h.q.Clear()
}

// CurrentSuccessRate returns the mean success rate over the current
// window, or NaN if no rollouts have been recorded
func (h *History) CurrentSuccessRate() float64 {
	return h.success.Mean()
}

// CurrentMeanQ returns the mean Q estimate over the current window,
// or NaN if no Q estimates have been recorded
func (h *History) CurrentMeanQ() float64 {
	return h.q.Mean()
}

// NumEpisodes returns the total number of episodes recorded since the
// History was created
func (h *History) NumEpisodes() int {
	return h.nEpisodes
}

// Logs returns all collected statistics as an ordered list of named
// values. A non-empty prefix that does not already end in "/" is
// joined to every name with "/".
func (h *History) Logs(prefix string) []Log {
	logs := []Log{
		{"num_trajs", float64(h.success.Len() * h.rolloutBatchSize)},
		{"success_rate", h.success.Mean()},
		{"once_success_rate", h.onceSuccess.Mean()},
		{"return", h.returns.Mean()},
		{"episode_length", h.length.Mean()},
	}
	if h.q.Len() > 0 {
		logs = append(logs, Log{"mean_Q", h.q.Mean()})
	}
	logs = append(logs, Log{"episode", float64(h.nEpisodes)})

	if prefix == "" || prefix[len(prefix)-1] == '/' {
		return logs
	}
	for i := range logs {
		logs[i].Name = prefix + "/" + logs[i].Name
	}
	return logs
}
