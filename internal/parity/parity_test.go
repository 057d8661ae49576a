package parity

import (
	"bytes"
	"testing"
)

func makePages(n, length int) [][]byte {
	pages := make([][]byte, n)
	for i := range pages {
		p := make([]byte, length)
		for j := range p {
			p[j] = byte((i*31 + j*7) % 256)
		}
		pages[i] = p
	}
	return pages
}

func TestEncodeReconstructNoLoss(t *testing.T) {
	e := New(4, 2, 16)
	data := makePages(4, 100)
	parity, err := e.Encode(data)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(parity) != 2 {
		t.Fatalf("expected 2 parity shards, got %d", len(parity))
	}
	for i, p := range parity {
		if len(p) != 100 {
			t.Fatalf("parity shard %d is %d bytes, want the data page length 100", i, len(p))
		}
	}

	all := append(append([][]byte{}, data...), parity...)
	got, err := e.Reconstruct(all)
	if err != nil {
		t.Fatalf("reconstruct: %v", err)
	}
	for i, p := range data {
		if !bytes.Equal(got[i][:len(p)], p) {
			t.Fatalf("page %d mismatch after no-op reconstruct", i)
		}
	}
}

func TestReconstructRecoversMissingDataPages(t *testing.T) {
	e := New(4, 2, 16)
	data := makePages(4, 100)
	parity, err := e.Encode(data)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	shards := make([][]byte, 6)
	shards[0] = nil // lost page
	shards[1] = data[1]
	shards[2] = nil // lost page
	shards[3] = data[3]
	shards[4] = parity[0]
	shards[5] = parity[1]

	got, err := e.Reconstruct(shards)
	if err != nil {
		t.Fatalf("reconstruct: %v", err)
	}
	if !bytes.Equal(got[0][:100], data[0]) {
		t.Fatalf("page 0 not recovered")
	}
	if !bytes.Equal(got[2][:100], data[2]) {
		t.Fatalf("page 2 not recovered")
	}
}

func TestReconstructUnrecoverable(t *testing.T) {
	e := New(4, 2, 16)
	data := makePages(4, 64)
	parity, err := e.Encode(data)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	shards := make([][]byte, 6)
	shards[3] = data[3]
	shards[4] = parity[0]
	// Only 2 of 6 shards available; need at least 4.
	_ = shards[5]

	_, err = e.Reconstruct(shards)
	if err == nil {
		t.Fatalf("expected unrecoverable error")
	}
	if _, ok := err.(*Unrecoverable); !ok {
		t.Fatalf("expected *Unrecoverable, got %T: %v", err, err)
	}
}

func TestEncodeShardCountMismatch(t *testing.T) {
	e := New(4, 2, 16)
	if _, err := e.Encode(makePages(3, 16)); err == nil {
		t.Fatalf("expected error for wrong data page count")
	}
}
