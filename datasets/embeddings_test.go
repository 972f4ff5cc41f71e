package datasets

import (
	"context"
	"errors"
	"testing"

	"github.com/kvasirlab/fluorpred/embedcache"
	"github.com/kvasirlab/fluorpred/regress"
)

// fakeBase derives features deterministically from tokens: featLen equals
// tokenLen and each vector encodes the token value.
type fakeBase struct {
	dim   int
	calls int
}

func (f *fakeBase) EmbeddingDim() int { return f.dim }

func (f *fakeBase) ExtractFeatures(tokens [][]int32, lengths []int, msaBlock [][]int32) ([]regress.Features, error) {
	f.calls++
	out := make(regress.Features, len(tokens))
	for b, row := range tokens {
		m := make([][]float32, len(row))
		for t, tok := range row {
			vec := make([]float32, f.dim)
			for d := range vec {
				vec[d] = float32(tok) + float32(d)*0.01
			}
			m[t] = vec
		}
		out[b] = m
	}
	return []regress.Features{out}, nil
}

func newCachedDataset(t *testing.T) (*Dataset, *embedcache.FSStore) {
	t.Helper()
	root := t.TempDir()
	writeSplit(t, root, "train", testRecords())
	store, err := embedcache.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore failed: %v", err)
	}
	ds, err := New(Config{DataPath: root, Split: "train", CachedEmbeddings: true, Store: store})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return ds, store
}

func TestEmbeddingKeyIsDeterministic(t *testing.T) {
	ds, _ := newCachedDataset(t)
	if got := ds.EmbeddingKey(7); got != "train_7.fpt" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestGetFailsOnCacheMiss(t *testing.T) {
	ds, _ := newCachedDataset(t)
	_, err := ds.Get(0)
	if err == nil {
		t.Fatalf("Get must fail when the cache is unpopulated")
	}
	if !errors.Is(err, embedcache.ErrNotFound) {
		t.Fatalf("cache miss should surface ErrNotFound, got %v", err)
	}
}

func TestPopulateEmbeddingIdempotent(t *testing.T) {
	ds, store := newCachedDataset(t)
	base := &fakeBase{dim: 4}

	if err := ds.PopulateEmbedding(base, 0); err != nil {
		t.Fatalf("first populate failed: %v", err)
	}
	first, err := store.Get(ds.EmbeddingKey(0))
	if err != nil {
		t.Fatalf("reading populated entry failed: %v", err)
	}

	// Second call must be a no-op: no model invocation, same bytes.
	calls := base.calls
	if err := ds.PopulateEmbedding(base, 0); err != nil {
		t.Fatalf("second populate failed: %v", err)
	}
	if base.calls != calls {
		t.Fatalf("populate re-ran the base model on an existing entry")
	}
	second, err := store.Get(ds.EmbeddingKey(0))
	if err != nil {
		t.Fatalf("re-reading entry failed: %v", err)
	}
	if string(first) != string(second) {
		t.Fatalf("entry content changed across idempotent populate calls")
	}
}

func TestPopulateAllThenGet(t *testing.T) {
	ds, _ := newCachedDataset(t)
	base := &fakeBase{dim: 4}

	if err := ds.PopulateAllEmbeddings(context.Background(), base, 2); err != nil {
		t.Fatalf("PopulateAllEmbeddings failed: %v", err)
	}

	for i := 0; i < ds.Len(); i++ {
		ex, err := ds.Get(i)
		if err != nil {
			t.Fatalf("Get(%d) after populate failed: %v", i, err)
		}
		if ex.Features == nil {
			t.Fatalf("Get(%d) did not attach cached features", i)
		}
		if len(ex.Features) != len(ex.Tokens) {
			t.Fatalf("Get(%d): feature length %d, token length %d", i, len(ex.Features), len(ex.Tokens))
		}
	}
}

func TestCollatePadsFeaturesWithZeros(t *testing.T) {
	ds, _ := newCachedDataset(t)
	base := &fakeBase{dim: 3}
	if err := ds.PopulateAllEmbeddings(context.Background(), base, 1); err != nil {
		t.Fatalf("PopulateAllEmbeddings failed: %v", err)
	}

	examples := make([]*Example, ds.Len())
	for i := range examples {
		ex, err := ds.Get(i)
		if err != nil {
			t.Fatalf("Get(%d) failed: %v", i, err)
		}
		examples[i] = ex
	}
	batch, err := ds.Collate(examples)
	if err != nil {
		t.Fatalf("Collate failed: %v", err)
	}
	if batch.Features == nil {
		t.Fatalf("collated batch lost the cached features")
	}

	maxFeat := 0
	for _, ex := range examples {
		if len(ex.Features) > maxFeat {
			maxFeat = len(ex.Features)
		}
	}
	for i, f := range batch.Features {
		if len(f) != maxFeat {
			t.Fatalf("example %d features padded to %d, want %d", i, len(f), maxFeat)
		}
		for tpos := len(examples[i].Features); tpos < maxFeat; tpos++ {
			for d, v := range f[tpos] {
				if v != 0 {
					t.Fatalf("example %d padding position %d dim %d is %v, want 0", i, tpos, d, v)
				}
			}
		}
	}
}
