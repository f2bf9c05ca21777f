package shm

import (
	"sync"
	"sync/atomic"
)

// Blob is a reference-counted handle to a sealed segment. It carries
// EXIF, XMP, and ICC payloads as well as the pixel buffer itself, and
// is serialized on the wire as a bare descriptor.
type Blob struct {
	sealed *Sealed
	refs   *atomic.Int32
	mu     *sync.Mutex
}

// NewBlob wraps a sealed segment. The blob takes ownership.
func NewBlob(sealed *Sealed) *Blob {
	refs := &atomic.Int32{}
	refs.Store(1)
	return &Blob{sealed: sealed, refs: refs, mu: &sync.Mutex{}}
}

// BlobFromBytes copies data into a fresh sealed segment. Used by
// loaders for metadata payloads.
func BlobFromBytes(data []byte) (*Blob, error) {
	seg, err := Create(uint64(len(data)))
	if err != nil {
		return nil, err
	}
	copy(seg.Bytes(), data)
	fd, err := seg.IntoFD()
	if err != nil {
		return nil, err
	}
	m := &Mapping{fd: fd}
	sealed, err := m.Seal()
	if err != nil {
		m.Close()
		return nil, err
	}
	return NewBlob(sealed), nil
}

// Ref returns a new handle sharing the same segment.
func (b *Blob) Ref() *Blob {
	b.refs.Add(1)
	return &Blob{sealed: b.sealed, refs: b.refs, mu: b.mu}
}

// Bytes returns the read-only contents.
func (b *Blob) Bytes() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sealed.Bytes()
}

// FD returns the sealed descriptor for transport. Ownership stays with
// the blob.
func (b *Blob) FD() int {
	return b.sealed.FD()
}

// Close drops one reference; the segment is destroyed with the last
// one.
func (b *Blob) Close() error {
	if b.refs.Add(-1) == 0 {
		b.mu.Lock()
		defer b.mu.Unlock()
		return b.sealed.Close()
	}
	return nil
}
