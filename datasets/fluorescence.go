package datasets

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kvasirlab/fluorpred/align"
	"github.com/kvasirlab/fluorpred/embedcache"
	"github.com/kvasirlab/fluorpred/msa"
	"github.com/kvasirlab/fluorpred/tokenizer"
)

// TaskName names the task directory under the data root.
const TaskName = "fluorescence"

// MSAFile is the wild-type GFP alignment consulted when MSA mode is on,
// relative to the data root.
const MSAFile = "fluorescence/wtGFP.a3m"

// Splits lists the dataset splits in their canonical order.
var Splits = []string{"train", "valid", "test"}

// Record is one labeled example as stored in the split files.
type Record struct {
	Primary         string    `json:"primary"`
	LogFluorescence []float32 `json:"log_fluorescence"`
}

// Example is the per-access tensor bundle for one record.
type Example struct {
	// Tokens is the encoded (and, in MSA mode, aligned) query sequence.
	Tokens []int32

	// Context is the shared MSA block, nil when MSA mode is off. It is
	// owned by the dataset and must not be mutated.
	Context [][]int32

	// Target is the scalar log-fluorescence value.
	Target float32

	// Features is the cached base-model output for this example, present
	// only when embedding caching is enabled.
	Features [][]float32
}

// Stacked returns the query token row prepended to the MSA context block,
// the (1+numContext) x seqLen view fed to MSA-aware base models.
func (e *Example) Stacked() [][]int32 {
	out := make([][]int32, 0, 1+len(e.Context))
	out = append(out, e.Tokens)
	return append(out, e.Context...)
}

// Batch is a collated, right-padded stack of examples.
type Batch struct {
	// Tokens holds the query rows padded to the batch max length with the
	// tokenizer's pad index.
	Tokens [][]int32

	// Context is the shared MSA block (nil when MSA mode is off).
	Context [][]int32

	// Lengths holds each row's true unpadded width.
	Lengths []int

	// Features holds cached base-model outputs padded with zero rows, nil
	// when embedding caching is off. Indexed [example][position][dim].
	Features [][][]float32

	// Targets is the (batch, 1) target column, one value per example.
	Targets []float32
}

// Config configures a fluorescence dataset instance.
type Config struct {
	// DataPath is the data root; split files live under it as
	// fluorescence/fluorescence_{split}.json.
	DataPath string

	// Split selects train, valid or test.
	Split string

	// UseMSA turns on alignment against the wtGFP reference and attaches
	// the subsampled MSA context block to every example.
	UseMSA bool

	// MaxTokensPerMSA is the token budget for the context block
	// (default 16384).
	MaxTokensPerMSA int

	// CachedEmbeddings makes Get attach precomputed base-model features.
	// The cache must already be populated; a miss is an error, not a
	// fallback to live computation.
	CachedEmbeddings bool

	// Store backs the embedding cache. Required when CachedEmbeddings is
	// set; also used by the populate pass.
	Store embedcache.Store
}

// Dataset serves fluorescence examples for one split. The reference
// sequence, aligner and MSA block are computed once at construction and are
// immutable afterwards, so a Dataset is safe for concurrent reads.
type Dataset struct {
	cfg     Config
	tok     *tokenizer.Tokenizer
	records []Record

	aligner *align.Aligner
	context *msa.Context
}

// New loads the split file and, in MSA mode, parses and subsamples the
// alignment into the shared context block.
func New(cfg Config) (*Dataset, error) {
	if !validSplit(cfg.Split) {
		return nil, fmt.Errorf("unknown split %q, want one of %v", cfg.Split, Splits)
	}
	if cfg.MaxTokensPerMSA == 0 {
		cfg.MaxTokensPerMSA = 1 << 14
	}
	if cfg.CachedEmbeddings && cfg.Store == nil {
		return nil, fmt.Errorf("cached embeddings enabled but no store configured")
	}

	records, err := loadSplit(cfg.DataPath, cfg.Split)
	if err != nil {
		return nil, err
	}

	d := &Dataset{
		cfg:     cfg,
		tok:     tokenizer.NewIUPAC(),
		records: records,
	}

	if cfg.UseMSA {
		seqs, err := msa.ParseFile(filepath.Join(cfg.DataPath, filepath.FromSlash(MSAFile)))
		if err != nil {
			return nil, err
		}
		// The budget is measured in encoded query rows: the length of the
		// first record fixes the row size, matching the training corpus.
		refTokenLen := len(d.tok.Encode(records[0].Primary))
		ctx, err := msa.BuildContext(seqs, d.tok, cfg.MaxTokensPerMSA, refTokenLen)
		if err != nil {
			return nil, fmt.Errorf("building MSA context for split %s: %w", cfg.Split, err)
		}
		aligner, err := align.New(ctx.Reference)
		if err != nil {
			return nil, fmt.Errorf("building aligner for split %s: %w", cfg.Split, err)
		}
		d.context = ctx
		d.aligner = aligner
	}
	return d, nil
}

func validSplit(split string) bool {
	for _, s := range Splits {
		if s == split {
			return true
		}
	}
	return false
}

func loadSplit(dataPath, split string) ([]Record, error) {
	path := filepath.Join(dataPath, TaskName, fmt.Sprintf("%s_%s.json", TaskName, split))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading split %s: %w", split, err)
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parsing split %s: %w", split, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("split %s is empty", split)
	}
	for i, r := range records {
		if r.Primary == "" {
			return nil, fmt.Errorf("split %s record %d has no sequence", split, i)
		}
		if len(r.LogFluorescence) == 0 {
			return nil, fmt.Errorf("split %s record %d has no target", split, i)
		}
	}
	return records, nil
}

// Len returns the number of records in the split.
func (d *Dataset) Len() int {
	return len(d.records)
}

// Split returns the split this dataset serves.
func (d *Dataset) Split() string {
	return d.cfg.Split
}

// Reference returns the MSA reference sequence, or "" when MSA mode is off.
func (d *Dataset) Reference() string {
	if d.context == nil {
		return ""
	}
	return d.context.Reference
}

// ContextSize returns the number of MSA context rows (0 when MSA is off).
func (d *Dataset) ContextSize() int {
	if d.context == nil {
		return 0
	}
	return d.context.NumSequences()
}

// Get builds the tensor bundle for one record: align (MSA mode), tokenize,
// attach the shared context block, the target and, when enabled, the cached
// features.
func (d *Dataset) Get(index int) (*Example, error) {
	return d.get(index, d.cfg.CachedEmbeddings)
}

func (d *Dataset) get(index int, withFeatures bool) (*Example, error) {
	if index < 0 || index >= len(d.records) {
		return nil, fmt.Errorf("split %s: index %d out of range [0, %d)", d.cfg.Split, index, len(d.records))
	}
	rec := d.records[index]

	seq := rec.Primary
	if d.cfg.UseMSA {
		aligned, err := d.aligner.MaybeAlign(seq)
		if err != nil {
			return nil, fmt.Errorf("split %s index %d: %w", d.cfg.Split, index, err)
		}
		seq = aligned
	}

	ex := &Example{
		Tokens: d.tok.Encode(seq),
		Target: rec.LogFluorescence[0],
	}
	if d.cfg.UseMSA {
		ex.Context = d.context.Block
	}
	if withFeatures {
		features, err := d.LoadEmbedding(index)
		if err != nil {
			return nil, err
		}
		ex.Features = features
	}
	return ex, nil
}

// Collate right-pads a list of bundles into a Batch. Token rows pad with
// the tokenizer's pad index, feature rows pad with zero vectors, and
// lengths reflect true unpadded widths.
func (d *Dataset) Collate(examples []*Example) (*Batch, error) {
	if len(examples) == 0 {
		return nil, fmt.Errorf("cannot collate an empty batch")
	}

	maxLen := 0
	for _, ex := range examples {
		if len(ex.Tokens) > maxLen {
			maxLen = len(ex.Tokens)
		}
	}

	b := &Batch{
		Tokens:  make([][]int32, len(examples)),
		Lengths: make([]int, len(examples)),
		Targets: make([]float32, len(examples)),
	}
	if d.cfg.UseMSA {
		b.Context = d.context.Block
	}
	for i, ex := range examples {
		row := make([]int32, maxLen)
		for j := range row {
			row[j] = tokenizer.PadIndex
		}
		copy(row, ex.Tokens)
		b.Tokens[i] = row
		b.Lengths[i] = len(ex.Tokens)
		b.Targets[i] = ex.Target
	}

	if examples[0].Features != nil {
		maxFeat, dim := 0, 0
		for i, ex := range examples {
			if ex.Features == nil {
				return nil, fmt.Errorf("example %d in batch has no cached features while others do", i)
			}
			if len(ex.Features) > maxFeat {
				maxFeat = len(ex.Features)
			}
			if len(ex.Features) > 0 {
				dim = len(ex.Features[0])
			}
		}
		b.Features = make([][][]float32, len(examples))
		for i, ex := range examples {
			padded := make([][]float32, maxFeat)
			for t := 0; t < maxFeat; t++ {
				if t < len(ex.Features) {
					padded[t] = ex.Features[t]
				} else {
					padded[t] = make([]float32, dim)
				}
			}
			b.Features[i] = padded
		}
	}
	return b, nil
}
