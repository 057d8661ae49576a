// Package parity computes and recovers cross-page Reed-Solomon parity:
// parity is striped bytewise across the full set of data pages in a
// document, not per-page, so that whole lost or unreadable pages (not
// just damaged cells within one) can be recovered from the rest.
package parity

import (
	"fmt"

	"github.com/klauspost/reedsolomon"
)

// DefaultStride is the number of bytes read from each page per RS
// codeword generation round, bounding memory use independent of how
// large the document's pages are.
const DefaultStride = 256

// Unrecoverable is returned when too many shards (data or parity pages)
// are missing for the configured redundancy to reconstruct them.
type Unrecoverable struct {
	Missing, Available, Needed int
}

func (e *Unrecoverable) Error() string {
	return fmt.Sprintf("parity: unrecoverable: %d shards missing, %d available, need %d", e.Missing, e.Available, e.Needed)
}

// Engine computes and recovers parity across a fixed-size set of data
// pages (shards), each page treated as a byte stream padded to a common
// length.
type Engine struct {
	DataShards   int
	ParityShards int
	Stride       int
}

// New builds an Engine for the given data/parity shard counts. stride<=0
// selects DefaultStride.
func New(dataShards, parityShards, stride int) *Engine {
	if stride <= 0 {
		stride = DefaultStride
	}
	return &Engine{DataShards: dataShards, ParityShards: parityShards, Stride: stride}
}

func padTo(b []byte, n int) []byte {
	if len(b) >= n {
		return b[:n]
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}

// Encode computes e.ParityShards parity byte streams from the given data
// page byte streams (shorter pages are zero-padded to the longest). The
// returned parity streams are each exactly as long as the longest data
// page, so a parity page packed with the same layout can always carry
// its whole buffer.
func (e *Engine) Encode(dataPages [][]byte) ([][]byte, error) {
	if len(dataPages) != e.DataShards {
		return nil, fmt.Errorf("parity: expected %d data pages, got %d", e.DataShards, len(dataPages))
	}
	length := 0
	for _, p := range dataPages {
		if len(p) > length {
			length = len(p)
		}
	}

	enc, err := reedsolomon.New(e.DataShards, e.ParityShards)
	if err != nil {
		return nil, fmt.Errorf("parity: new encoder: %w", err)
	}

	parity := make([][]byte, e.ParityShards)
	for i := range parity {
		parity[i] = make([]byte, length)
	}
	padded := make([][]byte, e.DataShards)
	for i, p := range dataPages {
		padded[i] = padTo(p, length)
	}

	for off := 0; off < length; off += e.Stride {
		end := off + e.Stride
		if end > length {
			end = length
		}
		shards := make([][]byte, e.DataShards+e.ParityShards)
		for i := 0; i < e.DataShards; i++ {
			shards[i] = padded[i][off:end]
		}
		for i := 0; i < e.ParityShards; i++ {
			shards[e.DataShards+i] = parity[i][off:end]
		}
		if err := enc.Encode(shards); err != nil {
			return nil, fmt.Errorf("parity: encode stride at offset %d: %w", off, err)
		}
	}
	return parity, nil
}

// Reconstruct recovers missing shards in place: shards is the full
// dataPages+parityPages set (length DataShards+ParityShards), with a nil
// entry for every shard not available (an unread or damaged page). All
// non-nil shards must share the same length (the common padded length).
// Reconstructed data shards are returned; parity shards are also
// recovered internally but not returned, since only the document's data
// bytes are needed by a caller.
func (e *Engine) Reconstruct(shards [][]byte) ([][]byte, error) {
	if len(shards) != e.DataShards+e.ParityShards {
		return nil, fmt.Errorf("parity: expected %d total shards, got %d", e.DataShards+e.ParityShards, len(shards))
	}

	available := 0
	length := 0
	for _, s := range shards {
		if s != nil {
			available++
			if len(s) > length {
				length = len(s)
			}
		}
	}
	if available < e.DataShards {
		return nil, &Unrecoverable{
			Missing:   e.DataShards + e.ParityShards - available,
			Available: available,
			Needed:    e.DataShards,
		}
	}

	enc, err := reedsolomon.New(e.DataShards, e.ParityShards)
	if err != nil {
		return nil, fmt.Errorf("parity: new encoder: %w", err)
	}

	out := make([][]byte, e.DataShards+e.ParityShards)
	present := make([]bool, len(shards))
	for i, s := range shards {
		if s != nil {
			present[i] = true
			out[i] = padTo(s, length)
		} else {
			out[i] = make([]byte, length)
		}
	}

	for off := 0; off < length; off += e.Stride {
		end := off + e.Stride
		if end > length {
			end = length
		}
		strideShards := make([][]byte, len(out))
		for i := range out {
			if present[i] {
				strideShards[i] = out[i][off:end]
			} else {
				strideShards[i] = nil
			}
		}
		if err := enc.Reconstruct(strideShards); err != nil {
			return nil, fmt.Errorf("parity: reconstruct stride at offset %d: %w", off, err)
		}
		for i := range out {
			if !present[i] {
				copy(out[i][off:end], strideShards[i])
			}
		}
	}

	return out[:e.DataShards], nil
}
