package datasets

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/kvasirlab/fluorpred/embedcache"
	"github.com/kvasirlab/fluorpred/regress"
)

// Embedding cache entries are keyed deterministically by (split, index, MSA
// flag) so concurrent processes sharing a cache directory agree on names.
// Population is an offline pre-pass run before frozen-base training; the
// read path never falls back to live computation.

// EmbeddingKey returns the cache entry name for one example.
func (d *Dataset) EmbeddingKey(index int) string {
	suffix := ""
	if d.cfg.UseMSA {
		suffix = "_msa"
	}
	return fmt.Sprintf("%s_%d%s.fpt", d.cfg.Split, index, suffix)
}

// LoadEmbedding reads the cached feature matrix for one example. A missing
// entry is an error telling the caller to run the populate pass first.
func (d *Dataset) LoadEmbedding(index int) ([][]float32, error) {
	if d.cfg.Store == nil {
		return nil, fmt.Errorf("split %s: no embedding store configured", d.cfg.Split)
	}
	name := d.EmbeddingKey(index)
	data, err := d.cfg.Store.Get(name)
	if errors.Is(err, embedcache.ErrNotFound) {
		return nil, fmt.Errorf("split %s index %d: embedding %s not cached; run the populate pass first: %w",
			d.cfg.Split, index, name, err)
	}
	if err != nil {
		return nil, fmt.Errorf("split %s index %d: %w", d.cfg.Split, index, err)
	}
	m, err := embedcache.DecodeMatrix(data)
	if err != nil {
		return nil, fmt.Errorf("split %s index %d: %w", d.cfg.Split, index, err)
	}
	return m, nil
}

// PopulateEmbedding computes and persists one example's features through
// the base model. Existing entries are left untouched, so repeated calls
// are no-ops.
func (d *Dataset) PopulateEmbedding(model regress.BaseModel, index int) error {
	if d.cfg.Store == nil {
		return fmt.Errorf("split %s: no embedding store configured", d.cfg.Split)
	}
	name := d.EmbeddingKey(index)
	ok, err := d.cfg.Store.Exists(name)
	if err != nil {
		return fmt.Errorf("split %s index %d: %w", d.cfg.Split, index, err)
	}
	if ok {
		return nil
	}

	// Single-example batch through the regular collate step, without the
	// cached-feature attachment the read path would demand.
	ex, err := d.get(index, false)
	if err != nil {
		return err
	}
	batch, err := d.Collate([]*Example{ex})
	if err != nil {
		return fmt.Errorf("split %s index %d: %w", d.cfg.Split, index, err)
	}
	layers, err := model.ExtractFeatures(batch.Tokens, batch.Lengths, batch.Context)
	if err != nil {
		return fmt.Errorf("split %s index %d: extracting features: %w", d.cfg.Split, index, err)
	}
	if len(layers) == 0 || len(layers[0]) == 0 {
		return fmt.Errorf("split %s index %d: base model returned no features", d.cfg.Split, index)
	}

	payload, err := embedcache.EncodeMatrix(layers[0][0])
	if err != nil {
		return fmt.Errorf("split %s index %d: %w", d.cfg.Split, index, err)
	}
	if err := d.cfg.Store.Put(name, payload); err != nil {
		return fmt.Errorf("split %s index %d: %w", d.cfg.Split, index, err)
	}
	return nil
}

// PopulateAllEmbeddings runs PopulateEmbedding for every index. workers
// bounds concurrency (values < 1 mean sequential). Safe to re-run after an
// interruption: atomic writes mean entries are either absent or complete.
func (d *Dataset) PopulateAllEmbeddings(ctx context.Context, model regress.BaseModel, workers int) error {
	if workers < 1 {
		workers = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for index := 0; index < d.Len(); index++ {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return d.PopulateEmbedding(model, index)
		})
	}
	return g.Wait()
}
