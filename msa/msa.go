// Package msa parses multiple sequence alignments in a3m/aligned-FASTA form
// and subsamples them into a fixed token-budgeted context block.
//
// The first sequence of a parsed alignment is the reference; every other row
// is aligned relative to it. A Context is built once per dataset and shared
// read-only across all examples.
package msa

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// Sequence is one alignment row with its FASTA header.
type Sequence struct {
	Header string
	Seq    string
}

// Parse reads an a3m or aligned-FASTA stream. Insertion columns (lowercase
// residues and '.') are stripped so every returned row has the reference's
// column count.
func Parse(r io.Reader) ([]Sequence, error) {
	var (
		out    []Sequence
		header string
		sb     strings.Builder
		open   bool
	)
	flush := func() {
		if open {
			out = append(out, Sequence{Header: header, Seq: sb.String()})
			sb.Reset()
		}
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if line[0] == '>' {
			flush()
			header = strings.TrimSpace(line[1:])
			open = true
			continue
		}
		if !open {
			return nil, fmt.Errorf("sequence data before first FASTA header")
		}
		for i := 0; i < len(line); i++ {
			c := line[i]
			if c == '.' || (c >= 'a' && c <= 'z') {
				continue // insertion column
			}
			sb.WriteByte(c)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading alignment: %w", err)
	}
	flush()
	if len(out) == 0 {
		return nil, fmt.Errorf("alignment contains no sequences")
	}

	want := len(out[0].Seq)
	for i, s := range out {
		if len(s.Seq) != want {
			return nil, fmt.Errorf("row %d (%s) has %d columns after insertion removal, reference has %d",
				i, s.Header, len(s.Seq), want)
		}
	}
	return out, nil
}

// ParseFile is Parse over the contents of path.
func ParseFile(path string) ([]Sequence, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening alignment %s: %w", path, err)
	}
	defer f.Close()

	seqs, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parsing alignment %s: %w", path, err)
	}
	return seqs, nil
}

// identity returns the fraction of columns where both rows carry the same
// residue. Rows must have equal length (guaranteed by Parse).
func identity(a, b string) float64 {
	if len(a) == 0 {
		return 0
	}
	same := 0
	for i := 0; i < len(a); i++ {
		if a[i] == b[i] {
			same++
		}
	}
	return float64(same) / float64(len(a))
}

// Subsample selects up to want rows from the alignment, always keeping the
// first (reference) row first. Selection is greedy maximum-diversity: each
// step adds the row whose highest identity to the already-selected set is
// lowest, so the survivors cover the alignment's sequence space.
func Subsample(seqs []Sequence, want int) []Sequence {
	if want <= 0 {
		return nil
	}
	if len(seqs) <= want {
		return seqs
	}

	selected := make([]Sequence, 0, want)
	selected = append(selected, seqs[0])

	// maxID[i] tracks row i's highest identity to any selected row.
	maxID := make([]float64, len(seqs))
	used := make([]bool, len(seqs))
	used[0] = true
	for i := 1; i < len(seqs); i++ {
		maxID[i] = identity(seqs[i].Seq, seqs[0].Seq)
	}

	for len(selected) < want {
		best := -1
		for i := 1; i < len(seqs); i++ {
			if used[i] {
				continue
			}
			if best < 0 || maxID[i] < maxID[best] {
				best = i
			}
		}
		if best < 0 {
			break
		}
		used[best] = true
		selected = append(selected, seqs[best])
		for i := 1; i < len(seqs); i++ {
			if used[i] {
				continue
			}
			if id := identity(seqs[i].Seq, seqs[best].Seq); id > maxID[i] {
				maxID[i] = id
			}
		}
	}
	return selected
}
