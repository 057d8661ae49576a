// Package integrity computes and verifies the document hash stamped into
// every frame header.
package integrity

import (
	"bytes"
	"hash/crc32"
	"io"
)

// ChunkSize is the block size used to chunk the document before hashing.
// The last chunk is zero-padded out to this size.
const ChunkSize = 1024 * 1024

// Hash returns the low 24 bits of the document hash for a byte stream of
// known total length: the stream is split into ChunkSize blocks (the last
// zero-padded), each block's CRC32 is appended big-endian to a byte buffer,
// and the final hash is CRC32 of that buffer, truncated to 24 bits.
//
// Hash depends only on length and content, never on page layout, palette,
// or plane count.
func Hash(r io.Reader, length uint64) (uint32, error) {
	var concatenated []byte
	buf := make([]byte, ChunkSize)

	var read uint64
	for read < length {
		n, err := io.ReadFull(r, buf)
		if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
			return 0, err
		}
		for i := n; i < ChunkSize; i++ {
			buf[i] = 0
		}
		sum := crc32.ChecksumIEEE(buf)
		concatenated = append(concatenated,
			byte(sum>>24), byte(sum>>16), byte(sum>>8), byte(sum))
		read += ChunkSize
	}

	return crc32.ChecksumIEEE(concatenated) & 0x00FFFFFF, nil
}

// HashBytes is a convenience wrapper around Hash for an in-memory buffer.
// The buffer's own length is used as the document length, matching the
// semantics expected by callers that already hold the full document.
func HashBytes(data []byte) uint32 {
	h, _ := Hash(bytes.NewReader(data), uint64(len(data)))
	return h
}
