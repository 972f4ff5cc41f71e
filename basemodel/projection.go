// Package basemodel provides a lightweight, deterministic reference
// implementation of the regress.BaseModel contract: a seeded random
// projection of token identities with local context mixing. It stands in
// for a pretrained protein language model in smoke tests, cache population
// dry runs and CLI examples; swap in a real model for meaningful results.
package basemodel

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/kvasirlab/fluorpred/regress"
)

// Projection embeds each token through a fixed random table and averages a
// small window of neighbors so features carry local context. With an MSA
// block present, each position additionally mixes in the mean embedding of
// its alignment column.
type Projection struct {
	dim    int
	window int
	table  [][]float32 // vocabSize x dim
}

// NewProjection builds a projection embedder. window is the one-sided
// neighbor radius (0 disables mixing).
func NewProjection(vocabSize, dim, window int, seed int64) (*Projection, error) {
	if vocabSize <= 0 || dim <= 0 {
		return nil, fmt.Errorf("vocab size %d and dim %d must be positive", vocabSize, dim)
	}
	if window < 0 {
		window = 0
	}
	rng := rand.New(rand.NewSource(seed))
	limit := float32(math.Sqrt(3.0 / float64(dim)))
	table := make([][]float32, vocabSize)
	for i := range table {
		row := make([]float32, dim)
		for d := range row {
			row[d] = (rng.Float32()*2 - 1) * limit
		}
		table[i] = row
	}
	return &Projection{dim: dim, window: window, table: table}, nil
}

// EmbeddingDim reports the feature width.
func (p *Projection) EmbeddingDim() int {
	return p.dim
}

func (p *Projection) embed(tok int32) []float32 {
	i := int(tok)
	if i < 0 || i >= len(p.table) {
		i = 0
	}
	return p.table[i]
}

// ExtractFeatures returns a single feature layer with one vector per token
// position. Feature length equals token length: this embedder adds no
// special positions.
func (p *Projection) ExtractFeatures(tokens [][]int32, lengths []int, msaBlock [][]int32) ([]regress.Features, error) {
	// Column means of the MSA block, shared across the batch.
	var columnMean [][]float32
	if len(msaBlock) > 0 {
		cols := len(msaBlock[0])
		columnMean = make([][]float32, cols)
		inv := float32(1.0 / float64(len(msaBlock)))
		for c := 0; c < cols; c++ {
			mean := make([]float32, p.dim)
			for _, row := range msaBlock {
				e := p.embed(row[c])
				for d := 0; d < p.dim; d++ {
					mean[d] += e[d] * inv
				}
			}
			columnMean[c] = mean
		}
	}

	layer := make(regress.Features, len(tokens))
	for b, row := range tokens {
		f := make([][]float32, len(row))
		for t := range row {
			vec := make([]float32, p.dim)
			lo, hi := t-p.window, t+p.window
			if lo < 0 {
				lo = 0
			}
			if hi >= len(row) {
				hi = len(row) - 1
			}
			inv := float32(1.0 / float64(hi-lo+1))
			for u := lo; u <= hi; u++ {
				e := p.embed(row[u])
				for d := 0; d < p.dim; d++ {
					vec[d] += e[d] * inv
				}
			}
			if columnMean != nil && t < len(columnMean) {
				for d := 0; d < p.dim; d++ {
					vec[d] = 0.5*vec[d] + 0.5*columnMean[t][d]
				}
			}
			f[t] = vec
		}
		layer[b] = f
	}
	return []regress.Features{layer}, nil
}
