package tracker

import (
	"math"
	"path/filepath"
	"strings"
	"testing"
)

func TestWindowEvictsOldest(t *testing.T) {
	window, err := NewWindow(3)
	if err != nil {
		t.Fatalf("could not create window: %v", err)
	}

	for _, value := range []float64{1, 2, 3, 4, 5} {
		window.Append(value)
	}

	if window.Len() != 3 {
		t.Fatalf("window length: want 3, have %v", window.Len())
	}
	want := []float64{3, 4, 5}
	for i, value := range window.Values() {
		if value != want[i] {
			t.Errorf("window value %v: want %v, have %v", i, want[i], value)
		}
	}
	if window.Mean() != 4 {
		t.Errorf("window mean: want 4, have %v", window.Mean())
	}
}

func TestWindowEmptyMeanIsNaN(t *testing.T) {
	window, err := NewWindow(5)
	if err != nil {
		t.Fatalf("could not create window: %v", err)
	}
	if !math.IsNaN(window.Mean()) {
		t.Errorf("empty window mean: want NaN, have %v", window.Mean())
	}

	window.Append(1)
	window.Clear()
	if !math.IsNaN(window.Mean()) {
		t.Errorf("cleared window mean: want NaN, have %v", window.Mean())
	}
}

func TestWindowIllegalCapacity(t *testing.T) {
	if _, err := NewWindow(0); err == nil {
		t.Error("expected an error for a zero-capacity window")
	}
}

func TestWindowSaveLoad(t *testing.T) {
	window, err := NewWindow(4)
	if err != nil {
		t.Fatalf("could not create window: %v", err)
	}
	window.Append(1.5)
	window.Append(-2.5)

	filename := filepath.Join(t.TempDir(), "window.bin")
	if err := window.Save(filename); err != nil {
		t.Fatalf("could not save window: %v", err)
	}

	data, err := LoadWindowData(filename)
	if err != nil {
		t.Fatalf("could not load window data: %v", err)
	}
	if len(data) != 2 || data[0] != 1.5 || data[1] != -2.5 {
		t.Errorf("loaded data mismatch: have %v", data)
	}
}

func TestHistoryLogsOrder(t *testing.T) {
	history, err := NewHistory(10, 2)
	if err != nil {
		t.Fatalf("could not create history: %v", err)
	}
	history.Record(1, 1, -3, 7)

	logs := history.Logs("")
	wantNames := []string{"num_trajs", "success_rate", "once_success_rate",
		"return", "episode_length", "episode"}
	if len(logs) != len(wantNames) {
		t.Fatalf("log count: want %v, have %v", len(wantNames), len(logs))
	}
	for i, log := range logs {
		if log.Name != wantNames[i] {
			t.Errorf("log %v name: want %q, have %q", i, wantNames[i],
				log.Name)
		}
	}

	if logs[0].Value != 2 {
		t.Errorf("num_trajs: want 2, have %v", logs[0].Value)
	}
	if logs[3].Value != -3 {
		t.Errorf("return: want -3, have %v", logs[3].Value)
	}
	if logs[5].Value != 2 {
		t.Errorf("episode: want 2, have %v", logs[5].Value)
	}
}

func TestHistoryLogsMeanQOnlyWhenRecorded(t *testing.T) {
	history, err := NewHistory(10, 1)
	if err != nil {
		t.Fatalf("could not create history: %v", err)
	}
	history.Record(0, 0, 0, 1)

	for _, log := range history.Logs("") {
		if log.Name == "mean_Q" {
			t.Fatal("mean_Q must not appear before any Q is recorded")
		}
	}

	history.RecordQ(2.5)
	found := false
	for _, log := range history.Logs("") {
		if log.Name == "mean_Q" {
			found = true
			if log.Value != 2.5 {
				t.Errorf("mean_Q: want 2.5, have %v", log.Value)
			}
		}
	}
	if !found {
		t.Error("mean_Q missing after a Q was recorded")
	}
}

func TestHistoryLogsPrefix(t *testing.T) {
	history, err := NewHistory(10, 1)
	if err != nil {
		t.Fatalf("could not create history: %v", err)
	}
	history.Record(0, 0, 0, 1)

	for _, log := range history.Logs("worker") {
		if log.Name[:7] != "worker/" {
			t.Errorf("log %q not prefixed with %q", log.Name, "worker/")
		}
	}

	// A prefix already ending in "/" leaves names untouched
	for _, log := range history.Logs("worker/") {
		if strings.HasPrefix(log.Name, "worker/") {
			t.Errorf("log %q must not be prefixed", log.Name)
		}
	}
}

func TestHistoryClearKeepsEpisodeCount(t *testing.T) {
	history, err := NewHistory(10, 3)
	if err != nil {
		t.Fatalf("could not create history: %v", err)
	}
	history.Record(1, 1, 5, 5)
	history.Record(0, 1, 5, 5)

	if history.NumEpisodes() != 6 {
		t.Fatalf("episode count: want 6, have %v", history.NumEpisodes())
	}

	history.Clear()
	if !math.IsNaN(history.CurrentSuccessRate()) {
		t.Errorf("cleared success rate: want NaN, have %v",
			history.CurrentSuccessRate())
	}
	if history.NumEpisodes() != 6 {
		t.Errorf("episode count must survive clearing: want 6, have %v",
			history.NumEpisodes())
	}
}

func TestHistoryWindowsRoll(t *testing.T) {
	history, err := NewHistory(2, 1)
	if err != nil {
		t.Fatalf("could not create history: %v", err)
	}
	history.Record(0, 0, 0, 1)
	history.Record(1, 1, 1, 1)
	history.Record(1, 1, 1, 1)

	// Only the two most recent rollouts remain in the window
	if rate := history.CurrentSuccessRate(); rate != 1 {
		t.Errorf("success rate: want 1, have %v", rate)
	}
	if history.NumEpisodes() != 3 {
		t.Errorf("episode count: want 3, have %v", history.NumEpisodes())
	}
}
