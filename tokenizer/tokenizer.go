// Package tokenizer encodes protein sequences into integer token arrays
// using the IUPAC amino-acid vocabulary. The vocabulary reserves a handful
// of special indices (padding, mask, classification, separator, unknown)
// ahead of the residue codes, plus a gap token so aligned sequences from an
// MSA encode without loss.
package tokenizer

import "fmt"

// Special token indices. PadIndex is the value used to right-pad token
// arrays when collating batches.
const (
	PadIndex  = 0
	MaskIndex = 1
	ClsIndex  = 2
	SepIndex  = 3
	UnkIndex  = 4
)

// GapRune is the gap symbol produced by alignment and present in MSA rows.
const GapRune = '-'

// iupacResidues lists the residue alphabet in vocabulary order. Indices
// start right after the special tokens.
const iupacResidues = "ABCDEFGHIKLMNOPQRSTUVWXYZ"

// Tokenizer maps residue characters to vocabulary indices.
type Tokenizer struct {
	vocab map[rune]int32
}

// NewIUPAC returns a tokenizer over the IUPAC amino-acid vocabulary with a
// trailing gap token. The returned tokenizer is immutable and safe for
// concurrent use.
func NewIUPAC() *Tokenizer {
	vocab := make(map[rune]int32, len(iupacResidues)+1)
	next := int32(UnkIndex + 1)
	for _, r := range iupacResidues {
		vocab[r] = next
		next++
	}
	vocab[GapRune] = next
	return &Tokenizer{vocab: vocab}
}

// VocabSize returns the total number of token indices, specials included.
func (t *Tokenizer) VocabSize() int {
	return UnkIndex + 1 + len(t.vocab)
}

// Encode converts a sequence into one token per residue. Characters outside
// the vocabulary map to the unknown token.
func (t *Tokenizer) Encode(sequence string) []int32 {
	tokens := make([]int32, 0, len(sequence))
	for _, r := range sequence {
		idx, ok := t.vocab[r]
		if !ok {
			idx = UnkIndex
		}
		tokens = append(tokens, idx)
	}
	return tokens
}

// EncodeStrict is Encode except that characters outside the vocabulary are
// an error instead of mapping to the unknown token.
func (t *Tokenizer) EncodeStrict(sequence string) ([]int32, error) {
	tokens := make([]int32, 0, len(sequence))
	for i, r := range sequence {
		idx, ok := t.vocab[r]
		if !ok {
			return nil, fmt.Errorf("character %q at position %d is not in the vocabulary", r, i)
		}
		tokens = append(tokens, idx)
	}
	return tokens, nil
}
