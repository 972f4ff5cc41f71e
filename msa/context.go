package msa

import "fmt"

// Encoder converts a sequence string into integer tokens. Satisfied by
// tokenizer.Tokenizer.
type Encoder interface {
	Encode(sequence string) []int32
}

// Context is the token-budgeted MSA block shared read-only across every
// example of a dataset. Total token count of the block plus one query row
// never exceeds the configured budget.
type Context struct {
	// Reference is the first row of the source alignment; dataset queries
	// are aligned against it.
	Reference string

	// Block holds the encoded context rows, each of reference length.
	Block [][]int32
}

// NumSequences returns the number of context rows.
func (c *Context) NumSequences() int {
	return len(c.Block)
}

// BuildContext subsamples an alignment into a Context that fits maxTokens.
// refTokenLen is the encoded length of a dataset query (one row); the block
// gets floor(maxTokens/refTokenLen) - 1 rows so a query plus the block stays
// within budget. A budget too small for the reference plus one row is a
// configuration error.
func BuildContext(seqs []Sequence, enc Encoder, maxTokens, refTokenLen int) (*Context, error) {
	if refTokenLen <= 0 {
		return nil, fmt.Errorf("reference token length must be positive, got %d", refTokenLen)
	}
	maxSeqs := maxTokens / refTokenLen
	if maxSeqs < 2 {
		return nil, fmt.Errorf("token budget %d too small for a query plus one context sequence of length %d", maxTokens, refTokenLen)
	}

	chosen := Subsample(seqs, maxSeqs-1)
	block := make([][]int32, 0, len(chosen))
	for _, s := range chosen {
		block = append(block, enc.Encode(s.Seq))
	}
	return &Context{Reference: seqs[0].Seq, Block: block}, nil
}
