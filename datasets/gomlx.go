package datasets

import (
	"fmt"
	"io"

	"github.com/gomlx/gomlx/pkg/core/tensors"
)

// Loader adapts a Dataset to the gomlx train.Dataset interface: it walks
// the split in fixed-size batches and yields gomlx tensors. Token rows (and
// feature stacks, when caching is on) become the network inputs; the
// log-fluorescence column becomes the label.
type Loader struct {
	// BatchSize for yielded batches (default 32).
	BatchSize int

	ds     *Dataset
	cursor int
}

// NewLoader wraps a dataset for gomlx training loops.
func NewLoader(ds *Dataset) *Loader {
	return &Loader{BatchSize: 32, ds: ds}
}

// Name identifies the dataset to the training loop.
func (l *Loader) Name() string {
	return fmt.Sprintf("%s/%s", TaskName, l.ds.Split())
}

// Yield returns the next batch as gomlx tensors. The last partial batch is
// yielded as-is; after the split is exhausted it returns io.EOF until
// Restart is called.
func (l *Loader) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	if l.cursor >= l.ds.Len() {
		return nil, nil, nil, io.EOF
	}
	size := l.BatchSize
	if size <= 0 {
		size = 32
	}
	end := l.cursor + size
	if end > l.ds.Len() {
		end = l.ds.Len()
	}

	examples := make([]*Example, 0, end-l.cursor)
	for i := l.cursor; i < end; i++ {
		ex, err := l.ds.Get(i)
		if err != nil {
			return nil, nil, nil, err
		}
		examples = append(examples, ex)
	}
	l.cursor = end

	batch, err := l.ds.Collate(examples)
	if err != nil {
		return nil, nil, nil, err
	}

	lengths := make([]int32, len(batch.Lengths))
	for i, v := range batch.Lengths {
		lengths[i] = int32(v)
	}
	inputs = []*tensors.Tensor{
		tensors.FromAnyValue(batch.Tokens),
		tensors.FromAnyValue(lengths),
	}
	if batch.Features != nil {
		inputs = append(inputs, tensors.FromAnyValue(batch.Features))
	}

	// Targets as a (batch, 1) column.
	column := make([][]float32, len(batch.Targets))
	for i, v := range batch.Targets {
		column[i] = []float32{v}
	}
	labels = []*tensors.Tensor{tensors.FromAnyValue(column)}
	return nil, inputs, labels, nil
}

// Restart resets the loader for a new epoch.
func (l *Loader) Restart() error {
	l.cursor = 0
	return nil
}
