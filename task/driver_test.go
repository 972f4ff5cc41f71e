package task

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/kvasirlab/fluorpred/datasets"
	"github.com/kvasirlab/fluorpred/regress"
)

// captureSink records every logged metric.
type captureSink struct {
	values map[string][]float64
}

func newCaptureSink() *captureSink {
	return &captureSink{values: make(map[string][]float64)}
}

func (c *captureSink) Log(name string, value float64) {
	c.values[name] = append(c.values[name], value)
}

// echoBase maps each token to a constant feature vector so predictions are
// well defined without a pretrained model.
type echoBase struct{ dim int }

func (e *echoBase) EmbeddingDim() int { return e.dim }

func (e *echoBase) ExtractFeatures(tokens [][]int32, lengths []int, msaBlock [][]int32) ([]regress.Features, error) {
	out := make(regress.Features, len(tokens))
	for b, row := range tokens {
		m := make([][]float32, len(row))
		for t, tok := range row {
			vec := make([]float32, e.dim)
			for d := range vec {
				vec[d] = float32(tok%5) * 0.2
			}
			m[t] = vec
		}
		out[b] = m
	}
	return []regress.Features{out}, nil
}

func testDataset(t *testing.T, split string) *datasets.Dataset {
	t.Helper()
	root := t.TempDir()
	records := []datasets.Record{
		{Primary: "MSKGEELFTG", LogFluorescence: []float32{3.2}},
		{Primary: "MSKGEELFTA", LogFluorescence: []float32{2.7}},
		{Primary: "MSKGEELYTG", LogFluorescence: []float32{1.4}},
		{Primary: "MSKDEELFTG", LogFluorescence: []float32{2.1}},
	}
	dir := filepath.Join(root, datasets.TaskName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("creating task dir: %v", err)
	}
	data, err := json.Marshal(records)
	if err != nil {
		t.Fatalf("marshaling records: %v", err)
	}
	name := filepath.Join(dir, datasets.TaskName+"_"+split+".json")
	if err := os.WriteFile(name, data, 0o644); err != nil {
		t.Fatalf("writing split: %v", err)
	}
	ds, err := datasets.New(datasets.Config{DataPath: root, Split: split})
	if err != nil {
		t.Fatalf("datasets.New failed: %v", err)
	}
	return ds
}

func newTestDriver(t *testing.T, sink Sink) *Driver {
	t.Helper()
	reg, err := regress.New(&echoBase{dim: 6}, regress.Config{HiddenSize: 8, Seed: 11})
	if err != nil {
		t.Fatalf("regress.New failed: %v", err)
	}
	return NewDriver(reg, sink)
}

func TestValidEpochLogsCorrelation(t *testing.T) {
	sink := newCaptureSink()
	d := newTestDriver(t, sink)
	ds := testDataset(t, "valid")

	corr, logged, err := d.RunEpoch(ds, Valid, 2)
	if err != nil {
		t.Fatalf("RunEpoch failed: %v", err)
	}
	if !logged {
		t.Fatalf("valid epoch must log a correlation")
	}
	if corr < -1 || corr > 1 {
		t.Fatalf("correlation %v outside [-1, 1]", corr)
	}

	for _, key := range []string{"loss/valid", "mse/valid", "mae/valid", "spearmanr/valid"} {
		if len(sink.values[key]) == 0 {
			t.Fatalf("metric %s was never logged", key)
		}
	}
	if len(sink.values["loss/valid"]) != 2 {
		t.Fatalf("4 examples at batch size 2 should log loss twice, got %d", len(sink.values["loss/valid"]))
	}
}

func TestTrainEpochHasNoCorrelation(t *testing.T) {
	sink := newCaptureSink()
	d := newTestDriver(t, sink)
	ds := testDataset(t, "train")

	_, logged, err := d.RunEpoch(ds, Train, 2)
	if err != nil {
		t.Fatalf("RunEpoch failed: %v", err)
	}
	if logged {
		t.Fatalf("train epochs log no correlation")
	}
	if len(sink.values["spearmanr/train"]) != 0 {
		t.Fatalf("spearmanr/train must never be logged")
	}
	if len(sink.values["loss/train"]) == 0 {
		t.Fatalf("train steps must log loss")
	}
}

func TestModesKeepSeparateAccumulators(t *testing.T) {
	sink := newCaptureSink()
	d := newTestDriver(t, sink)
	trainDS := testDataset(t, "train")
	validDS := testDataset(t, "valid")

	if _, _, err := d.RunEpoch(trainDS, Train, 4); err != nil {
		t.Fatalf("train epoch failed: %v", err)
	}
	if _, _, err := d.RunEpoch(validDS, Valid, 4); err != nil {
		t.Fatalf("valid epoch failed: %v", err)
	}

	// Valid's running MSE after its first (only) step must reflect only
	// the 4 valid examples, not the preceding train steps.
	if got := len(sink.values["mse/valid"]); got != 1 {
		t.Fatalf("expected 1 valid accuracy log, got %d", got)
	}
}

func TestEpochEndResetsState(t *testing.T) {
	d := newTestDriver(t, nil)
	ds := testDataset(t, "test")

	if _, _, err := d.RunEpoch(ds, Test, 2); err != nil {
		t.Fatalf("first epoch failed: %v", err)
	}
	// A second epoch must start from empty accumulators and still produce
	// a well-defined correlation.
	if _, logged, err := d.RunEpoch(ds, Test, 2); err != nil || !logged {
		t.Fatalf("second epoch failed: corr logged=%v err=%v", logged, err)
	}
}
