// Package regress implements a scalar regression head over per-position
// protein embeddings: a learned attention pooling collapses a variable-length
// feature sequence to a fixed vector, and a two-layer MLP maps that vector to
// a predicted log-fluorescence value.
//
// The base model producing the embeddings is an external collaborator behind
// the BaseModel interface and stays frozen; only the head's parameters are
// trained here.
package regress

import (
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Features holds per-position embeddings for one batch, indexed as
// [example][position][dim]. Positions are right-padded with zero vectors.
type Features [][][]float32

// BaseModel is the pretrained protein model the head sits on.
type BaseModel interface {
	// ExtractFeatures runs the model on a token batch and returns one
	// feature tensor per layer. tokens is right-padded with the pad index,
	// lengths holds true (unpadded) widths, msa is the optional shared
	// context block (nil when MSA mode is off).
	ExtractFeatures(tokens [][]int32, lengths []int, msa [][]int32) ([]Features, error)

	// EmbeddingDim reports the width of the feature vectors.
	EmbeddingDim() int
}

// maskFill is the score assigned to padding positions before the softmax;
// large enough in magnitude to saturate to ~0 weight.
const maskFill = -1e4

// Config holds regressor hyperparameters. Zero values take the defaults
// noted per field.
type Config struct {
	// HiddenSize is the MLP hidden dimension (default 512).
	HiddenSize int

	// Dropout on attention weights, training-time only (default 0.1).
	Dropout float64

	// LearningRate for the Adam optimizer (default 1e-3).
	LearningRate float64

	// Adam moment decay rates and epsilon (defaults 0.9, 0.999, 1e-8).
	Beta1   float64
	Beta2   float64
	Epsilon float64

	// ClipNorm bounds the global gradient norm per step (default 5.0).
	ClipNorm float64

	// Seed for weight init and dropout. If zero, a time-based seed is used.
	Seed int64
}

func (c Config) withDefaults() Config {
	if c.HiddenSize == 0 {
		c.HiddenSize = 512
	}
	if c.Dropout == 0 {
		c.Dropout = 0.1
	}
	if c.LearningRate == 0 {
		c.LearningRate = 1e-3
	}
	if c.Beta1 == 0 {
		c.Beta1 = 0.9
	}
	if c.Beta2 == 0 {
		c.Beta2 = 0.999
	}
	if c.Epsilon == 0 {
		c.Epsilon = 1e-8
	}
	if c.ClipNorm == 0 {
		c.ClipNorm = 5.0
	}
	if c.Seed == 0 {
		c.Seed = time.Now().UnixNano()
	}
	return c
}

// Regressor is the attention-pooling regression head.
type Regressor struct {
	Config Config

	base BaseModel
	dim  int
	rng  *rand.Rand

	// Scoring layer (dim -> 1).
	scoreW []float32
	scoreB float32

	// Two-layer head (dim -> hidden -> 1).
	w1 [][]float32 // hidden x dim
	b1 []float32
	w2 []float32 // hidden
	b2 float32

	opt *adamState
}

// New builds a regressor over base with Xavier-initialized parameters.
func New(base BaseModel, cfg Config) (*Regressor, error) {
	if base == nil {
		return nil, fmt.Errorf("base model is nil")
	}
	dim := base.EmbeddingDim()
	if dim <= 0 {
		return nil, fmt.Errorf("base model reports embedding dim %d", dim)
	}
	cfg = cfg.withDefaults()

	r := &Regressor{
		Config: cfg,
		base:   base,
		dim:    dim,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
	}
	r.scoreW = r.initVector(dim, dim, 1)
	r.w1 = make([][]float32, cfg.HiddenSize)
	for i := range r.w1 {
		r.w1[i] = r.initVector(dim, dim, cfg.HiddenSize)
	}
	r.b1 = make([]float32, cfg.HiddenSize)
	r.w2 = r.initVector(cfg.HiddenSize, cfg.HiddenSize, 1)
	r.opt = newAdamState(r)
	return r, nil
}

// initVector draws n weights from a Xavier uniform range for fanIn/fanOut.
func (r *Regressor) initVector(n, fanIn, fanOut int) []float32 {
	limit := float32(math.Sqrt(6.0 / float64(fanIn+fanOut)))
	v := make([]float32, n)
	for i := range v {
		v[i] = (r.rng.Float32()*2 - 1) * limit
	}
	return v
}

// EmbeddingDim returns the base model's feature width.
func (r *Regressor) EmbeddingDim() int {
	return r.dim
}

// forwardCache keeps per-example intermediates needed by backprop.
type forwardCache struct {
	features [][]float32 // T x D
	attn     []float32   // post-softmax weights
	dropMask []float32   // dropout multipliers (nil at inference)
	pooled   []float32   // D
	hiddenU  []float32   // pre-activation hidden
	hidden   []float32   // post-ReLU hidden
	effLen   int
}

// Forward predicts one scalar per example. If features is nil, the base
// model's first-layer features are extracted from the tokens. The returned
// slice has exactly one value per example (the (batch, 1) column).
func (r *Regressor) Forward(tokens [][]int32, lengths []int, msa [][]int32, features Features) ([]float32, error) {
	preds, _, err := r.forward(tokens, lengths, msa, features, false)
	return preds, err
}

func (r *Regressor) forward(tokens [][]int32, lengths []int, msa [][]int32, features Features, training bool) ([]float32, []*forwardCache, error) {
	batch := len(tokens)
	if batch == 0 {
		return nil, nil, fmt.Errorf("empty batch")
	}
	if len(lengths) != batch {
		return nil, nil, fmt.Errorf("lengths has %d entries for batch of %d", len(lengths), batch)
	}

	if features == nil {
		layers, err := r.base.ExtractFeatures(tokens, lengths, msa)
		if err != nil {
			return nil, nil, fmt.Errorf("extracting features: %w", err)
		}
		if len(layers) == 0 {
			return nil, nil, fmt.Errorf("base model returned no feature layers")
		}
		features = layers[0]
	}
	if len(features) != batch {
		return nil, nil, fmt.Errorf("features has %d examples for batch of %d", len(features), batch)
	}

	invSqrtDim := float32(1.0 / math.Sqrt(float64(r.dim)))
	preds := make([]float32, batch)
	caches := make([]*forwardCache, batch)
	for b := 0; b < batch; b++ {
		f := features[b]
		featLen := len(f)
		if featLen == 0 {
			return nil, nil, fmt.Errorf("example %d has empty features", b)
		}
		tokenLen := len(tokens[b])

		// The base model may add or drop special positions; shift the true
		// length accordingly and clamp so the mask never degenerates.
		effLen := lengths[b] - (tokenLen - featLen)
		if effLen < 1 {
			effLen = 1
		}
		if effLen > featLen {
			effLen = featLen
		}

		// Scaled attention scores with padding masked out.
		scores := make([]float32, featLen)
		for t := 0; t < featLen; t++ {
			if t >= effLen {
				scores[t] = maskFill
				continue
			}
			row := f[t]
			if len(row) != r.dim {
				return nil, nil, fmt.Errorf("example %d position %d has dim %d, model expects %d", b, t, len(row), r.dim)
			}
			s := r.scoreB
			for d := 0; d < r.dim; d++ {
				s += r.scoreW[d] * row[d]
			}
			scores[t] = s * invSqrtDim
		}
		attn := softmax(scores)

		var dropMask []float32
		if training && r.Config.Dropout > 0 {
			dropMask = make([]float32, featLen)
			keep := float32(1.0 / (1.0 - r.Config.Dropout))
			for t := range dropMask {
				if r.rng.Float64() < r.Config.Dropout {
					dropMask[t] = 0
				} else {
					dropMask[t] = keep
				}
			}
		}

		pooled := make([]float32, r.dim)
		for t := 0; t < featLen; t++ {
			w := attn[t]
			if dropMask != nil {
				w *= dropMask[t]
			}
			if w == 0 {
				continue
			}
			row := f[t]
			for d := 0; d < r.dim; d++ {
				pooled[d] += w * row[d]
			}
		}

		hiddenU := make([]float32, len(r.w1))
		hidden := make([]float32, len(r.w1))
		for j := range r.w1 {
			s := r.b1[j]
			wj := r.w1[j]
			for d := 0; d < r.dim; d++ {
				s += wj[d] * pooled[d]
			}
			hiddenU[j] = s
			if s > 0 {
				hidden[j] = s
			}
		}
		y := r.b2
		for j := range hidden {
			y += r.w2[j] * hidden[j]
		}
		preds[b] = y
		caches[b] = &forwardCache{
			features: f,
			attn:     attn,
			dropMask: dropMask,
			pooled:   pooled,
			hiddenU:  hiddenU,
			hidden:   hidden,
			effLen:   effLen,
		}
	}
	return preds, caches, nil
}

// AttentionWeights returns the post-softmax attention distribution per
// example, without dropout. Exposed for inspection and tests.
func (r *Regressor) AttentionWeights(tokens [][]int32, lengths []int, msa [][]int32, features Features) ([][]float32, error) {
	_, caches, err := r.forward(tokens, lengths, msa, features, false)
	if err != nil {
		return nil, err
	}
	out := make([][]float32, len(caches))
	for i, c := range caches {
		out[i] = c.attn
	}
	return out, nil
}

func softmax(scores []float32) []float32 {
	max := scores[0]
	for _, s := range scores[1:] {
		if s > max {
			max = s
		}
	}
	out := make([]float32, len(scores))
	var sum float32
	for i, s := range scores {
		e := float32(math.Exp(float64(s - max)))
		out[i] = e
		sum += e
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
