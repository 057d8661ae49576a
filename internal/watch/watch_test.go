package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestOutputFor(t *testing.T) {
	cfg := Config{InputDir: "/in", OutputDir: "/out"}
	got := outputFor(cfg, filepath.Join("/in", "sub", "page.pdf"))
	want := filepath.Join("/out", "sub", "page.out")
	if got != want {
		t.Fatalf("outputFor = %q, want %q", got, want)
	}
}

func TestIsBundleFile(t *testing.T) {
	cases := map[string]bool{
		"scan.pdf": true,
		"scan.png": true,
		"scan.txt": false,
		"readme":   false,
	}
	for name, want := range cases {
		if got := isBundleFile(name); got != want {
			t.Fatalf("isBundleFile(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestIsUpToDate(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.pdf")
	out := filepath.Join(dir, "in.out")

	if err := os.WriteFile(in, []byte("a"), 0o644); err != nil {
		t.Fatal(err)
	}
	if isUpToDate(in, out) {
		t.Fatalf("expected not up to date when output missing")
	}

	if err := os.WriteFile(out, []byte("b"), 0o644); err != nil {
		t.Fatal(err)
	}
	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(out, future, future); err != nil {
		t.Fatal(err)
	}
	if !isUpToDate(in, out) {
		t.Fatalf("expected up to date when output newer than input")
	}
}
