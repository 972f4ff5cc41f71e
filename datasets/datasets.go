// Package datasets loads the fluorescence regression splits and turns raw
// records into model-ready batches.
//
// Each split is a JSON file of {primary, log_fluorescence} records under the
// task directory. Per example, Get aligns the sequence against the wtGFP
// reference (MSA mode), tokenizes it, attaches the shared MSA context block
// and, when embedding caching is on, the precomputed base-model features.
// Collate right-pads examples into batches: token rows pad with the
// tokenizer's pad index, feature rows pad with zeros, and a lengths vector
// preserves true widths.
//
// The embedding cache is an offline pre-pass (PopulateAllEmbeddings) for
// frozen-base training; reads never fall back to live computation. A Loader
// bridges a Dataset to gomlx training loops, yielding batches as gomlx
// tensors.
package datasets
