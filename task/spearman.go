package task

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Spearman computes the Spearman rank correlation between two paired
// samples: Pearson correlation over tie-averaged ranks.
func Spearman(x, y []float32) (float64, error) {
	if len(x) != len(y) {
		return 0, fmt.Errorf("sample sizes differ: %d vs %d", len(x), len(y))
	}
	if len(x) < 2 {
		return 0, fmt.Errorf("need at least 2 samples, got %d", len(x))
	}
	return stat.Correlation(ranks(x), ranks(y), nil), nil
}

// ranks assigns 1-based ranks with ties receiving the average of their
// occupied positions.
func ranks(v []float32) []float64 {
	n := len(v)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return v[order[a]] < v[order[b]] })

	r := make([]float64, n)
	for i := 0; i < n; {
		j := i
		for j+1 < n && v[order[j+1]] == v[order[i]] {
			j++
		}
		avg := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			r[order[k]] = avg
		}
		i = j + 1
	}
	return r
}
