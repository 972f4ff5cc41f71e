package datasets

import (
	"io"
	"testing"
)

func TestLoaderYieldAndRestart(t *testing.T) {
	root := t.TempDir()
	writeSplit(t, root, "valid", testRecords())
	ds, err := New(Config{DataPath: root, Split: "valid"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	loader := NewLoader(ds)
	loader.BatchSize = 2

	_, inputs, labels, err := loader.Yield()
	if err != nil {
		t.Fatalf("first Yield failed: %v", err)
	}
	if len(inputs) != 2 {
		t.Fatalf("expected tokens and lengths tensors, got %d inputs", len(inputs))
	}
	if len(labels) != 1 || labels[0] == nil {
		t.Fatalf("expected one label tensor")
	}

	// 3 records with batch size 2: one full batch, one partial, then EOF.
	if _, _, _, err := loader.Yield(); err != nil {
		t.Fatalf("second Yield failed: %v", err)
	}
	if _, _, _, err := loader.Yield(); err != io.EOF {
		t.Fatalf("exhausted loader should return io.EOF, got %v", err)
	}

	if err := loader.Restart(); err != nil {
		t.Fatalf("Restart failed: %v", err)
	}
	if _, _, _, err := loader.Yield(); err != nil {
		t.Fatalf("Yield after Restart failed: %v", err)
	}
}
