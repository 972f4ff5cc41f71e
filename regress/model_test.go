package regress

import (
	"math"
	"testing"
)

// stubBase deterministically embeds tokens so tests can run without a real
// pretrained model. It prepends one extra position per example, mimicking a
// base model that adds a leading special token.
type stubBase struct {
	dim   int
	extra int
}

func (s *stubBase) EmbeddingDim() int { return s.dim }

func (s *stubBase) ExtractFeatures(tokens [][]int32, lengths []int, msa [][]int32) ([]Features, error) {
	out := make(Features, len(tokens))
	for b, row := range tokens {
		featLen := len(row) + s.extra
		f := make([][]float32, featLen)
		for t := range f {
			vec := make([]float32, s.dim)
			for d := range vec {
				tok := int32(0)
				if t >= s.extra {
					tok = row[t-s.extra]
				}
				vec[d] = float32(tok%7) * 0.1 * float32(d%3+1)
			}
			f[t] = vec
		}
		out[b] = f
	}
	return []Features{out}, nil
}

func makeBatch(widths []int, maxLen int) ([][]int32, []int) {
	tokens := make([][]int32, len(widths))
	lengths := make([]int, len(widths))
	for i, w := range widths {
		row := make([]int32, maxLen)
		for j := 0; j < w; j++ {
			row[j] = int32(j%20 + 5)
		}
		tokens[i] = row
		lengths[i] = w
	}
	return tokens, lengths
}

func TestForwardOutputShape(t *testing.T) {
	base := &stubBase{dim: 8, extra: 1}
	r, err := New(base, Config{HiddenSize: 16, Seed: 1})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	tokens, lengths := makeBatch([]int{10, 15, 12}, 15)
	preds, err := r.Forward(tokens, lengths, nil, nil)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	if len(preds) != 3 {
		t.Fatalf("expected one prediction per example, got %d", len(preds))
	}
	for i, p := range preds {
		if math.IsNaN(float64(p)) || math.IsInf(float64(p), 0) {
			t.Fatalf("prediction %d is not finite: %v", i, p)
		}
	}
}

func TestForwardWithPrecomputedFeatures(t *testing.T) {
	base := &stubBase{dim: 4}
	r, err := New(base, Config{HiddenSize: 8, Seed: 2})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	tokens, lengths := makeBatch([]int{5, 3}, 5)
	layers, err := base.ExtractFeatures(tokens, lengths, nil)
	if err != nil {
		t.Fatalf("ExtractFeatures failed: %v", err)
	}

	fromTokens, err := r.Forward(tokens, lengths, nil, nil)
	if err != nil {
		t.Fatalf("Forward from tokens failed: %v", err)
	}
	fromFeatures, err := r.Forward(tokens, lengths, nil, layers[0])
	if err != nil {
		t.Fatalf("Forward from features failed: %v", err)
	}
	for i := range fromTokens {
		if fromTokens[i] != fromFeatures[i] {
			t.Fatalf("prediction %d differs between token and feature paths: %v vs %v",
				i, fromTokens[i], fromFeatures[i])
		}
	}
}

func TestAttentionWeightsMaskAndSum(t *testing.T) {
	// One extra feature position per example: valid length = length - (tokenLen - featLen) = length + 1.
	base := &stubBase{dim: 8, extra: 1}
	r, err := New(base, Config{HiddenSize: 16, Seed: 3})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	tokens, lengths := makeBatch([]int{10, 15, 12}, 15)
	weights, err := r.AttentionWeights(tokens, lengths, nil, nil)
	if err != nil {
		t.Fatalf("AttentionWeights failed: %v", err)
	}

	for b, w := range weights {
		effLen := lengths[b] + 1
		var sum float64
		for _, v := range w {
			sum += float64(v)
		}
		if math.Abs(sum-1.0) > 1e-4 {
			t.Fatalf("example %d attention sums to %v, want 1", b, sum)
		}
		for pos := effLen; pos < len(w); pos++ {
			if w[pos] > 1e-6 {
				t.Fatalf("example %d masked position %d has weight %v", b, pos, w[pos])
			}
		}
	}
}

func TestDegenerateLengthClamped(t *testing.T) {
	base := &stubBase{dim: 4}
	r, err := New(base, Config{HiddenSize: 8, Seed: 4})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	// Length 0 would yield a non-positive effective length; it must clamp
	// to 1 instead of producing NaN attention.
	tokens, _ := makeBatch([]int{4}, 4)
	preds, err := r.Forward(tokens, []int{0}, nil, nil)
	if err != nil {
		t.Fatalf("Forward failed: %v", err)
	}
	if math.IsNaN(float64(preds[0])) {
		t.Fatalf("degenerate length produced NaN prediction")
	}

	weights, err := r.AttentionWeights(tokens, []int{0}, nil, nil)
	if err != nil {
		t.Fatalf("AttentionWeights failed: %v", err)
	}
	if w := weights[0][0]; math.Abs(float64(w)-1.0) > 1e-4 {
		t.Fatalf("clamped example should attend fully to position 0, got %v", w)
	}
}

func TestTrainStepReducesLoss(t *testing.T) {
	base := &stubBase{dim: 6}
	r, err := New(base, Config{HiddenSize: 12, Seed: 5, Dropout: 0.05, LearningRate: 2e-2})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	tokens, lengths := makeBatch([]int{8, 8, 8, 8}, 8)
	// Targets far from the near-zero initial predictions so the first loss
	// is large and the downward trend is unambiguous.
	targets := []float32{2, 2, 2, 2}

	first, _, err := r.TrainStep(tokens, lengths, nil, nil, targets)
	if err != nil {
		t.Fatalf("TrainStep failed: %v", err)
	}
	var last float32
	for i := 0; i < 300; i++ {
		last, _, err = r.TrainStep(tokens, lengths, nil, nil, targets)
		if err != nil {
			t.Fatalf("TrainStep %d failed: %v", i, err)
		}
	}
	if last >= first {
		t.Fatalf("loss did not decrease: first %v, last %v", first, last)
	}
}

func TestNewRejectsBadBase(t *testing.T) {
	if _, err := New(nil, Config{}); err == nil {
		t.Fatalf("nil base model must be rejected")
	}
	if _, err := New(&stubBase{dim: 0}, Config{}); err == nil {
		t.Fatalf("zero embedding dim must be rejected")
	}
}
