// Package align provides global pairwise alignment of a query sequence
// against a fixed reference sequence using the BLOSUM62 substitution matrix.
//
// The aligner is constructed once with the reference and reused for every
// query. Gaps may be inserted into the query only; the reference is always
// consumed in full, so an aligned query has exactly the reference's length.
package align

import (
	"fmt"
	"strings"
)

// Gap is the symbol inserted into the query at gapped positions.
const Gap = '-'

// Aligner aligns query sequences against a fixed reference. Immutable after
// construction and safe for concurrent use.
type Aligner struct {
	reference string

	// Score added for each gap column inserted into the query. Zero matches
	// the usual configuration where only the substitution matrix drives the
	// alignment.
	GapScore int
}

// New returns an Aligner for the given reference sequence.
func New(reference string) (*Aligner, error) {
	if len(reference) == 0 {
		return nil, fmt.Errorf("reference sequence is empty")
	}
	return &Aligner{reference: reference}, nil
}

// Reference returns the reference sequence.
func (a *Aligner) Reference() string {
	return a.reference
}

// MaybeAlign returns the query aligned to the reference. A query whose
// length already equals the reference's is assumed pre-aligned and returned
// unchanged. A query longer than the reference cannot be aligned without
// truncating the reference, which is a hard error.
func (a *Aligner) MaybeAlign(query string) (string, error) {
	if len(query) == len(a.reference) {
		return query, nil
	}
	return a.Align(query)
}

// Align performs a global alignment of query against the reference. The
// result is the gapped query row of the first optimal alignment; it always
// has exactly the reference's length.
func (a *Aligner) Align(query string) (string, error) {
	n := len(a.reference)
	m := len(query)
	if m > n {
		return "", fmt.Errorf("query length %d exceeds reference length %d: no alignment without truncating the reference", m, n)
	}

	const negInf = int(-1) << 30

	// score[i][j]: best score aligning reference[:i] with query[:j].
	// Allowed moves are a substitution column (consumes one of each) or a
	// gap column in the query (consumes one reference residue).
	score := make([][]int, n+1)
	for i := range score {
		score[i] = make([]int, m+1)
	}
	for j := 1; j <= m; j++ {
		score[0][j] = negInf // reference may not be gapped
	}
	for i := 1; i <= n; i++ {
		for j := 0; j <= m; j++ {
			best := negInf
			if score[i-1][j] > negInf {
				best = score[i-1][j] + a.GapScore
			}
			if j > 0 && score[i-1][j-1] > negInf {
				if s := score[i-1][j-1] + substitutionScore(a.reference[i-1], query[j-1]); s > best {
					best = s
				}
			}
			score[i][j] = best
		}
	}
	if score[n][m] <= negInf {
		return "", fmt.Errorf("no valid global alignment of query (len %d) to reference (len %d)", m, n)
	}

	// Traceback, preferring substitution columns so the first optimal
	// alignment is deterministic.
	var sb strings.Builder
	sb.Grow(n)
	aligned := make([]byte, n)
	i, j := n, m
	for i > 0 {
		if j > 0 && score[i-1][j-1] > negInf &&
			score[i][j] == score[i-1][j-1]+substitutionScore(a.reference[i-1], query[j-1]) {
			aligned[i-1] = query[j-1]
			i--
			j--
			continue
		}
		aligned[i-1] = Gap
		i--
	}
	if j != 0 {
		return "", fmt.Errorf("alignment traceback left %d unconsumed query residues", j)
	}
	sb.Write(aligned)
	return sb.String(), nil
}
