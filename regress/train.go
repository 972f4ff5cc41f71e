package regress

import (
	"fmt"
	"math"
)

// The base model is frozen: gradients stop at the features, and only the
// scoring layer and MLP head are updated. Backprop is hand-rolled through
// the head, the pooling matmul, the dropout mask and the softmax.

// gradSet mirrors the regressor's trainable parameters.
type gradSet struct {
	scoreW []float32
	scoreB float32
	w1     [][]float32
	b1     []float32
	w2     []float32
	b2     float32
}

func newGradSet(r *Regressor) *gradSet {
	g := &gradSet{
		scoreW: make([]float32, r.dim),
		w1:     make([][]float32, len(r.w1)),
		b1:     make([]float32, len(r.b1)),
		w2:     make([]float32, len(r.w2)),
	}
	for j := range g.w1 {
		g.w1[j] = make([]float32, r.dim)
	}
	return g
}

func (g *gradSet) slices() [][]float32 {
	out := make([][]float32, 0, len(g.w1)+3)
	out = append(out, g.scoreW)
	out = append(out, g.w1...)
	out = append(out, g.b1, g.w2)
	return out
}

// adamState carries first/second moment estimates per parameter.
type adamState struct {
	step   int
	m, v   [][]float32
	mS, vS [2]float64 // scoreB, b2
}

func newAdamState(r *Regressor) *adamState {
	shapes := r.paramSlices()
	a := &adamState{
		m: make([][]float32, len(shapes)),
		v: make([][]float32, len(shapes)),
	}
	for i, p := range shapes {
		a.m[i] = make([]float32, len(p))
		a.v[i] = make([]float32, len(p))
	}
	return a
}

// paramSlices returns the vector-shaped parameters in a stable order
// matching gradSet.slices.
func (r *Regressor) paramSlices() [][]float32 {
	out := make([][]float32, 0, len(r.w1)+3)
	out = append(out, r.scoreW)
	out = append(out, r.w1...)
	out = append(out, r.b1, r.w2)
	return out
}

// TrainStep runs one forward/backward pass over the batch and applies an
// Adam update to the head. Targets must have one value per example. It
// returns the batch mean-squared-error and the step's predictions.
func (r *Regressor) TrainStep(tokens [][]int32, lengths []int, msa [][]int32, features Features, targets []float32) (float32, []float32, error) {
	preds, caches, err := r.forward(tokens, lengths, msa, features, true)
	if err != nil {
		return 0, nil, err
	}
	batch := len(preds)
	if len(targets) != batch {
		return 0, nil, fmt.Errorf("targets has %d entries for batch of %d", len(targets), batch)
	}

	var loss float32
	g := newGradSet(r)
	invBatch := float32(1.0 / float64(batch))
	invSqrtDim := float32(1.0 / math.Sqrt(float64(r.dim)))
	for b := 0; b < batch; b++ {
		diff := preds[b] - targets[b]
		loss += diff * diff * invBatch
		dy := 2 * diff * invBatch
		c := caches[b]

		// Head.
		g.b2 += dy
		du := make([]float32, len(r.w1))
		for j := range r.w1 {
			g.w2[j] += dy * c.hidden[j]
			if c.hiddenU[j] > 0 {
				du[j] = dy * r.w2[j]
			}
		}
		dp := make([]float32, r.dim)
		for j := range r.w1 {
			if du[j] == 0 {
				continue
			}
			g.b1[j] += du[j]
			wj := r.w1[j]
			gj := g.w1[j]
			for d := 0; d < r.dim; d++ {
				gj[d] += du[j] * c.pooled[d]
				dp[d] += du[j] * wj[d]
			}
		}

		// Pooling and dropout back to the attention weights.
		featLen := len(c.features)
		da := make([]float32, featLen)
		for t := 0; t < featLen; t++ {
			row := c.features[t]
			var s float32
			for d := 0; d < r.dim; d++ {
				s += row[d] * dp[d]
			}
			if c.dropMask != nil {
				s *= c.dropMask[t]
			}
			da[t] = s
		}

		// Softmax Jacobian, then through the masked fill: padding positions
		// received a constant score, so no gradient reaches the scorer there.
		var sumAD float32
		for t := 0; t < featLen; t++ {
			sumAD += c.attn[t] * da[t]
		}
		for t := 0; t < c.effLen; t++ {
			dz := c.attn[t] * (da[t] - sumAD) * invSqrtDim
			if dz == 0 {
				continue
			}
			g.scoreB += dz
			row := c.features[t]
			for d := 0; d < r.dim; d++ {
				g.scoreW[d] += dz * row[d]
			}
		}
	}

	r.clip(g)
	r.opt.update(r, g)
	return loss, preds, nil
}

// clip rescales the gradients in place when their global norm exceeds
// Config.ClipNorm.
func (r *Regressor) clip(g *gradSet) {
	var sq float64
	for _, s := range g.slices() {
		for _, v := range s {
			sq += float64(v) * float64(v)
		}
	}
	sq += float64(g.scoreB)*float64(g.scoreB) + float64(g.b2)*float64(g.b2)
	norm := math.Sqrt(sq)
	if norm <= r.Config.ClipNorm || norm == 0 {
		return
	}
	scale := float32(r.Config.ClipNorm / norm)
	for _, s := range g.slices() {
		for i := range s {
			s[i] *= scale
		}
	}
	g.scoreB *= scale
	g.b2 *= scale
}

// update applies one Adam step with bias correction.
func (a *adamState) update(r *Regressor, g *gradSet) {
	a.step++
	cfg := r.Config
	corr1 := 1 - math.Pow(cfg.Beta1, float64(a.step))
	corr2 := 1 - math.Pow(cfg.Beta2, float64(a.step))
	lr := cfg.LearningRate * math.Sqrt(corr2) / corr1

	params := r.paramSlices()
	grads := g.slices()
	for i, p := range params {
		gi := grads[i]
		mi := a.m[i]
		vi := a.v[i]
		for j := range p {
			gv := float64(gi[j])
			mv := cfg.Beta1*float64(mi[j]) + (1-cfg.Beta1)*gv
			vv := cfg.Beta2*float64(vi[j]) + (1-cfg.Beta2)*gv*gv
			mi[j] = float32(mv)
			vi[j] = float32(vv)
			p[j] -= float32(lr * mv / (math.Sqrt(vv) + cfg.Epsilon))
		}
	}

	scalars := [2]*float32{&r.scoreB, &r.b2}
	sgrads := [2]float32{g.scoreB, g.b2}
	for i, p := range scalars {
		gv := float64(sgrads[i])
		a.mS[i] = cfg.Beta1*a.mS[i] + (1-cfg.Beta1)*gv
		a.vS[i] = cfg.Beta2*a.vS[i] + (1-cfg.Beta2)*gv*gv
		*p -= float32(lr * a.mS[i] / (math.Sqrt(a.vS[i]) + cfg.Epsilon))
	}
}
