package task

import (
	"fmt"

	"github.com/kvasirlab/fluorpred/datasets"
	"github.com/kvasirlab/fluorpred/regress"
)

// StepOutput carries one step's results forward to the accuracy and
// epoch-end stages.
type StepOutput struct {
	Loss    float32
	Preds   []float32
	Targets []float32
}

// Driver runs the per-step and per-epoch bookkeeping around the regressor.
// Each mode owns its accumulator pair; a step in one mode never touches
// another mode's state.
type Driver struct {
	reg     *regress.Regressor
	sink    Sink
	metrics [3]modeMetrics
}

// NewDriver binds a regressor to a metrics sink. A nil sink discards
// metrics.
func NewDriver(reg *regress.Regressor, sink Sink) *Driver {
	if sink == nil {
		sink = NopSink{}
	}
	return &Driver{reg: reg, sink: sink}
}

// ComputeLoss runs the regressor on one batch and logs the mean-squared
// error. Train mode takes an optimizer step; valid and test only evaluate.
func (d *Driver) ComputeLoss(batch *datasets.Batch, mode Mode) (*StepOutput, error) {
	var (
		loss  float32
		preds []float32
		err   error
	)
	if mode == Train {
		loss, preds, err = d.reg.TrainStep(batch.Tokens, batch.Lengths, batch.Context, batch.Features, batch.Targets)
	} else {
		preds, err = d.reg.Forward(batch.Tokens, batch.Lengths, batch.Context, batch.Features)
		if err == nil {
			for i := range preds {
				diff := preds[i] - batch.Targets[i]
				loss += diff * diff / float32(len(preds))
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%s step: %w", mode, err)
	}
	d.sink.Log("loss/"+mode.String(), float64(loss))
	return &StepOutput{Loss: loss, Preds: preds, Targets: batch.Targets}, nil
}

// ComputeAndLogAccuracy folds one step's predictions into the mode's
// running mean-squared and mean-absolute error and logs both.
func (d *Driver) ComputeAndLogAccuracy(out *StepOutput, mode Mode) {
	m := &d.metrics[mode]
	m.update(out.Preds, out.Targets)
	d.sink.Log("mse/"+mode.String(), m.mse.value())
	d.sink.Log("mae/"+mode.String(), m.mae.value())
}

// Step is ComputeLoss followed by ComputeAndLogAccuracy.
func (d *Driver) Step(batch *datasets.Batch, mode Mode) (*StepOutput, error) {
	out, err := d.ComputeLoss(batch, mode)
	if err != nil {
		return nil, err
	}
	d.ComputeAndLogAccuracy(out, mode)
	return out, nil
}

// EpochEnd finalizes an epoch for the mode and resets its accumulators.
// For valid and test it computes and logs the Spearman rank correlation
// over the whole epoch's predictions; train epochs log no correlation and
// the returned bool is false.
func (d *Driver) EpochEnd(mode Mode) (float64, bool, error) {
	m := &d.metrics[mode]
	defer m.reset()

	if mode == Train {
		return 0, false, nil
	}
	corr, err := Spearman(m.preds, m.targets)
	if err != nil {
		return 0, false, fmt.Errorf("%s epoch correlation: %w", mode, err)
	}
	d.sink.Log("spearmanr/"+mode.String(), corr)
	return corr, true, nil
}

// RunEpoch drives one full pass over the dataset in batchSize chunks:
// Step per batch, then EpochEnd. It returns the epoch's correlation for
// valid/test (false for train).
func (d *Driver) RunEpoch(ds *datasets.Dataset, mode Mode, batchSize int) (float64, bool, error) {
	if batchSize < 1 {
		batchSize = 32
	}
	for start := 0; start < ds.Len(); start += batchSize {
		end := start + batchSize
		if end > ds.Len() {
			end = ds.Len()
		}
		examples := make([]*datasets.Example, 0, end-start)
		for i := start; i < end; i++ {
			ex, err := ds.Get(i)
			if err != nil {
				return 0, false, err
			}
			examples = append(examples, ex)
		}
		batch, err := ds.Collate(examples)
		if err != nil {
			return 0, false, err
		}
		if _, err := d.Step(batch, mode); err != nil {
			return 0, false, err
		}
	}
	return d.EpochEnd(mode)
}
