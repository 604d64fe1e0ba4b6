// Package sha256 checksums output objects as they are streamed to storage.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
)

// Digest identifies the content of one object.
type Digest struct {
	SHA256 string `json:"sha256"`
	Bytes  int64  `json:"bytes"`
}

// Of returns the digest of data.
func Of(data []byte) Digest {
	sum := sha256.Sum256(data)
	return Digest{SHA256: hex.EncodeToString(sum[:]), Bytes: int64(len(data))}
}

// Reader hashes everything read through it, so the digest covers exactly
// the bytes a store consumed.
type Reader struct {
	r io.Reader
	h hash.Hash
	n int64
}

// NewReader wraps r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r, h: sha256.New()}
}

// Read implements io.Reader.
func (r *Reader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n > 0 {
		r.h.Write(p[:n])
		r.n += int64(n)
	}
	return n, err //nolint:wrapcheck // io.EOF must pass through unwrapped
}

// Digest returns the digest of the bytes read so far.
func (r *Reader) Digest() Digest {
	return Digest{SHA256: hex.EncodeToString(r.h.Sum(nil)), Bytes: r.n}
}
