// Command fluorpred drives the fluorescence regression task end to end:
// fetching the dataset, populating the embedding cache, and training and
// evaluating the attention-pooling head.
//
// Usage:
//
//	fluorpred download -data DIR
//	fluorpred embed    -data DIR -embeddings DIR [-split train] [-use-msa] [-workers N]
//	fluorpred train    -data DIR [-embeddings DIR -cached] [-epochs N] [-plot out.png]
//
// Object-storage caching is configured through the environment (or a .env
// file): FLUORPRED_MINIO_ENDPOINT, FLUORPRED_MINIO_BUCKET,
// FLUORPRED_MINIO_ACCESS_KEY, FLUORPRED_MINIO_SECRET_KEY and optionally
// FLUORPRED_MINIO_PREFIX. When unset, embeddings live on the local
// filesystem.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/kvasirlab/fluorpred/basemodel"
	"github.com/kvasirlab/fluorpred/datasets"
	"github.com/kvasirlab/fluorpred/embedcache"
	"github.com/kvasirlab/fluorpred/regress"
	"github.com/kvasirlab/fluorpred/task"
	"github.com/kvasirlab/fluorpred/tokenizer"
)

func main() {
	// A missing .env is fine; the environment may be set directly.
	_ = godotenv.Load()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(log)

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	var err error
	switch os.Args[1] {
	case "download":
		err = runDownload(os.Args[2:])
	case "embed":
		err = runEmbed(os.Args[2:], log)
	case "train":
		err = runTrain(os.Args[2:], log)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Error("command failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: fluorpred <download|embed|train> [flags]")
}

func runDownload(args []string) error {
	fs := flag.NewFlagSet("download", flag.ExitOnError)
	dataDir := fs.String("data", "data", "directory to extract the dataset into")
	fs.Parse(args)

	slog.Info("fetching dataset archive", "url", datasets.DataURL, "dest", *dataDir)
	return datasets.Download(context.Background(), *dataDir)
}

// openStore picks the embedding backend: object storage when the minio
// environment is configured, the local filesystem otherwise.
func openStore(dir string) (embedcache.Store, error) {
	endpoint := os.Getenv("FLUORPRED_MINIO_ENDPOINT")
	if endpoint == "" {
		return embedcache.NewFSStore(dir)
	}
	bucket := os.Getenv("FLUORPRED_MINIO_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("FLUORPRED_MINIO_ENDPOINT set but FLUORPRED_MINIO_BUCKET missing")
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds: credentials.NewStaticV4(
			os.Getenv("FLUORPRED_MINIO_ACCESS_KEY"),
			os.Getenv("FLUORPRED_MINIO_SECRET_KEY"),
			"",
		),
		Secure: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to object storage: %w", err)
	}
	return embedcache.NewMinioStore(client, bucket, os.Getenv("FLUORPRED_MINIO_PREFIX")), nil
}

func runEmbed(args []string, log *slog.Logger) error {
	fs := flag.NewFlagSet("embed", flag.ExitOnError)
	dataDir := fs.String("data", "data", "dataset root directory")
	embedDir := fs.String("embeddings", "embeddings", "embedding cache directory (filesystem backend)")
	split := fs.String("split", "", "split to populate (default: all)")
	useMSA := fs.Bool("use-msa", false, "attach the wtGFP MSA context")
	maxTokens := fs.Int("max-tokens-msa", 1<<14, "MSA token budget")
	dim := fs.Int("dim", 128, "embedding dimension of the projection base model")
	window := fs.Int("window", 2, "context window of the projection base model")
	workers := fs.Int("workers", 1, "concurrent population workers")
	seed := fs.Int64("seed", 42, "base model seed")
	fs.Parse(args)

	store, err := openStore(*embedDir)
	if err != nil {
		return err
	}
	base, err := basemodel.NewProjection(tokenizer.NewIUPAC().VocabSize(), *dim, *window, *seed)
	if err != nil {
		return err
	}

	splits := datasets.Splits
	if *split != "" {
		splits = []string{*split}
	}
	for _, s := range splits {
		ds, err := datasets.New(datasets.Config{
			DataPath:        *dataDir,
			Split:           s,
			UseMSA:          *useMSA,
			MaxTokensPerMSA: *maxTokens,
			Store:           store,
		})
		if err != nil {
			return err
		}
		log.Info("populating embeddings", "split", s, "examples", ds.Len(), "workers", *workers)
		if err := ds.PopulateAllEmbeddings(context.Background(), base, *workers); err != nil {
			return err
		}
	}
	return nil
}

func runTrain(args []string, log *slog.Logger) error {
	fs := flag.NewFlagSet("train", flag.ExitOnError)
	dataDir := fs.String("data", "data", "dataset root directory")
	embedDir := fs.String("embeddings", "embeddings", "embedding cache directory (filesystem backend)")
	cached := fs.Bool("cached", false, "train on precomputed embeddings (requires an embed pass)")
	useMSA := fs.Bool("use-msa", false, "attach the wtGFP MSA context")
	maxTokens := fs.Int("max-tokens-msa", 1<<14, "MSA token budget")
	epochs := fs.Int("epochs", 10, "training epochs")
	batchSize := fs.Int("batch-size", 32, "batch size")
	hidden := fs.Int("hidden", 512, "MLP hidden size")
	dropout := fs.Float64("dropout", 0.1, "attention dropout")
	lr := fs.Float64("lr", 1e-3, "learning rate")
	dim := fs.Int("dim", 128, "embedding dimension of the projection base model")
	window := fs.Int("window", 2, "context window of the projection base model")
	seed := fs.Int64("seed", 42, "seed for base model and head init")
	plotPath := fs.String("plot", "", "write a predicted-vs-target scatter PNG after the test pass")
	fs.Parse(args)

	var store embedcache.Store
	if *cached {
		var err error
		store, err = openStore(*embedDir)
		if err != nil {
			return err
		}
	}
	newSplit := func(split string) (*datasets.Dataset, error) {
		return datasets.New(datasets.Config{
			DataPath:         *dataDir,
			Split:            split,
			UseMSA:           *useMSA,
			MaxTokensPerMSA:  *maxTokens,
			CachedEmbeddings: *cached,
			Store:            store,
		})
	}
	trainDS, err := newSplit("train")
	if err != nil {
		return err
	}
	validDS, err := newSplit("valid")
	if err != nil {
		return err
	}
	testDS, err := newSplit("test")
	if err != nil {
		return err
	}

	base, err := basemodel.NewProjection(tokenizer.NewIUPAC().VocabSize(), *dim, *window, *seed)
	if err != nil {
		return err
	}
	reg, err := regress.New(base, regress.Config{
		HiddenSize:   *hidden,
		Dropout:      *dropout,
		LearningRate: *lr,
		Seed:         *seed,
	})
	if err != nil {
		return err
	}

	driver := task.NewDriver(reg, &task.SlogSink{Logger: log})
	for epoch := 1; epoch <= *epochs; epoch++ {
		if _, _, err := driver.RunEpoch(trainDS, task.Train, *batchSize); err != nil {
			return fmt.Errorf("epoch %d: %w", epoch, err)
		}
		corr, _, err := driver.RunEpoch(validDS, task.Valid, *batchSize)
		if err != nil {
			return fmt.Errorf("epoch %d: %w", epoch, err)
		}
		log.Info("epoch complete", "epoch", epoch, "spearmanr_valid", corr)
	}

	corr, _, err := driver.RunEpoch(testDS, task.Test, *batchSize)
	if err != nil {
		return err
	}
	log.Info("test complete", "spearmanr_test", corr)

	if *plotPath != "" {
		if err := writeScatter(reg, testDS, *batchSize, *plotPath); err != nil {
			return err
		}
		log.Info("scatter plot written", "path", *plotPath)
	}
	return nil
}

// writeScatter renders predicted vs. target log-fluorescence on the test
// split.
func writeScatter(reg *regress.Regressor, ds *datasets.Dataset, batchSize int, path string) error {
	pts := make(plotter.XYs, 0, ds.Len())
	for start := 0; start < ds.Len(); start += batchSize {
		end := start + batchSize
		if end > ds.Len() {
			end = ds.Len()
		}
		examples := make([]*datasets.Example, 0, end-start)
		for i := start; i < end; i++ {
			ex, err := ds.Get(i)
			if err != nil {
				return err
			}
			examples = append(examples, ex)
		}
		batch, err := ds.Collate(examples)
		if err != nil {
			return err
		}
		preds, err := reg.Forward(batch.Tokens, batch.Lengths, batch.Context, batch.Features)
		if err != nil {
			return err
		}
		for i, p := range preds {
			pts = append(pts, plotter.XY{X: float64(batch.Targets[i]), Y: float64(p)})
		}
	}

	p := plot.New()
	p.Title.Text = "Fluorescence prediction (test)"
	p.X.Label.Text = "target log-fluorescence"
	p.Y.Label.Text = "predicted log-fluorescence"
	scatter, err := plotter.NewScatter(pts)
	if err != nil {
		return fmt.Errorf("building scatter: %w", err)
	}
	p.Add(scatter, plotter.NewGrid())
	if err := p.Save(6*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("saving plot %s: %w", path, err)
	}
	return nil
}
