package checkpoint

import (
	"path/filepath"
	"testing"
)

func TestCheckpointRoundTrip(tst *testing.T) {
	db, err := Open(filepath.Join(tst.TempDir(), "cp.db"))
	if err != nil {
		tst.Fatal("Error: ", err)
	}
	defer db.Close()

	cpIO := NewCheckpointIO(db, []byte("chain1"), 10)
	if data, err := cpIO.Load(); err != nil || data != nil {
		tst.Fatal("Expected no checkpoint, got", data, err)
	}

	tuning := 0.5
	saved := &Data{
		RunID:      "run",
		Parameters: map[string][]float64{"mean": {5}, "x": {1, 2}},
		Posterior:  -12.5,
		Iter:       1000,
		Operators: map[string]OperatorData{
			"scale": {Weight: 0.5, BaseWeight: 1, Tuning: &tuning, Count: 1000, Accepted: 250, Rejected: 750, SumAcceptProb: 301.5},
			"uni":   {Weight: 2, BaseWeight: 2},
			"adapt": {Weight: 1, BaseWeight: 1, State: []byte(`{"t":10}`)},
		},
	}
	if err := cpIO.Save(saved); err != nil {
		tst.Fatal("Error: ", err)
	}
	if cpIO.Old() {
		tst.Error("Checkpoint should not be old right after saving")
	}

	data, err := cpIO.Load()
	if err != nil || data == nil {
		tst.Fatal("Error loading checkpoint: ", err)
	}
	if data.Iter != 1000 || data.Posterior != -12.5 || data.RunID != "run" {
		tst.Error("Wrong checkpoint:", data)
	}
	if x := data.Parameters["x"]; len(x) != 2 || x[1] != 2 {
		tst.Error("Wrong parameter values:", x)
	}
	op := data.Operators["scale"]
	if op.Tuning == nil || *op.Tuning != 0.5 || op.Accepted != 250 || op.BaseWeight != 1 || op.SumAcceptProb != 301.5 {
		tst.Error("Wrong operator data:", op)
	}
	if st := string(data.Operators["adapt"].State); st != `{"t":10}` {
		tst.Error("Wrong operator state:", st)
	}
	if data.Operators["uni"].Tuning != nil {
		tst.Error("Tuning should be absent")
	}

	// other chains do not see it
	other := NewCheckpointIO(db, []byte("chain2"), 10)
	if data, _ := other.Load(); data != nil {
		tst.Error("Unexpected checkpoint for another key")
	}
}

func TestCheckpointOld(tst *testing.T) {
	cpIO := NewCheckpointIO(nil, []byte("k"), 0)
	if err := cpIO.Save(&Data{}); err != nil {
		tst.Error("Saving without a database should do nothing, got", err)
	}
	cpIO.seconds = -1
	if !cpIO.Old() {
		tst.Error("Checkpoint should be old")
	}
}
