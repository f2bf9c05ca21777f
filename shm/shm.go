// Package shm provides the sealed shared-memory segments used to move
// pixel data between loader processes and the host. A segment moves
// through four phases: writable in the creating process, in flight as a
// bare file descriptor, writable in the receiving process, and finally
// sealed and shared read-only. Each phase has its own type so that the
// transitions consume their input.
package shm

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// ErrOutOfMemory reports that creating or mapping a segment failed for
// lack of memory, as opposed to a generic I/O failure.
var ErrOutOfMemory = errors.New("shm: out of memory")

// ErrSealFailed reports that applying seals did not succeed within the
// retry budget.
var ErrSealFailed = errors.New("shm: sealing failed")

const allSeals = unix.F_SEAL_SHRINK | unix.F_SEAL_GROW | unix.F_SEAL_WRITE | unix.F_SEAL_SEAL

// sealAttempts bounds the retry loop around F_ADD_SEALS for transient
// EBUSY from a racing mapping teardown.
const sealAttempts = 3

// Segment is a writable, growable anonymous memory object owned by the
// creating process. It is the loader-side phase of the pixel buffer.
type Segment struct {
	fd   int
	data []byte
}

// Create allocates an anonymous sealable memory object of n bytes and
// maps it writable.
func Create(n uint64) (*Segment, error) {
	fd, err := unix.MemfdCreate("glycin-frame", unix.MFD_CLOEXEC|unix.MFD_ALLOW_SEALING)
	if err != nil {
		return nil, wrapAlloc("memfd_create", err)
	}
	if err := unix.Ftruncate(fd, int64(n)); err != nil {
		unix.Close(fd)
		return nil, wrapAlloc("ftruncate", err)
	}
	if n == 0 {
		return &Segment{fd: fd}, nil
	}
	data, err := unix.Mmap(fd, 0, int(n), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, wrapAlloc("mmap", err)
	}
	return &Segment{fd: fd, data: data}, nil
}

// Bytes returns the writable mapping.
func (s *Segment) Bytes() []byte {
	return s.data
}

// IntoFD releases the writable mapping and yields the descriptor for
// transport. The segment must not be used afterwards.
func (s *Segment) IntoFD() (int, error) {
	if s.data != nil {
		if err := unix.Munmap(s.data); err != nil {
			unix.Close(s.fd)
			return -1, fmt.Errorf("shm: munmap: %w", err)
		}
		s.data = nil
	}
	fd := s.fd
	s.fd = -1
	return fd, nil
}

// Close discards the segment without handing it off.
func (s *Segment) Close() error {
	if s.data != nil {
		unix.Munmap(s.data)
		s.data = nil
	}
	if s.fd >= 0 {
		err := unix.Close(s.fd)
		s.fd = -1
		return err
	}
	return nil
}

// Mapping is a host-side writable view of a received segment. It is the
// post-processing phase: the host may rewrite pixels, truncate the
// object, and finally seal it.
type Mapping struct {
	fd   int
	data []byte
}

// OpenWritable maps the descriptor writable. The mapping takes
// ownership of fd.
func OpenWritable(fd int) (*Mapping, error) {
	size, err := fdSize(fd)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	if size == 0 {
		return &Mapping{fd: fd}, nil
	}
	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, wrapAlloc("mmap", err)
	}
	return &Mapping{fd: fd, data: data}, nil
}

// Bytes returns the writable view.
func (m *Mapping) Bytes() []byte {
	return m.data
}

// Len returns the mapping length in bytes.
func (m *Mapping) Len() int {
	return len(m.data)
}

// Truncate shrinks the backing object to n bytes and remaps. Used when
// rows are repacked contiguously; the previous view becomes invalid.
func (m *Mapping) Truncate(n uint64) error {
	if err := unix.Munmap(m.data); err != nil {
		return fmt.Errorf("shm: munmap: %w", err)
	}
	m.data = nil
	if err := unix.Ftruncate(m.fd, int64(n)); err != nil {
		return fmt.Errorf("shm: ftruncate: %w", err)
	}
	data, err := unix.Mmap(m.fd, 0, int(n), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return wrapAlloc("mmap", err)
	}
	m.data = data
	return nil
}

// Seal drops the writable mapping and makes the object immutable
// against shrink, grow, write, and further sealing. On success the
// mapping is consumed and the sealed descriptor is returned.
func (m *Mapping) Seal() (*Sealed, error) {
	if m.data != nil {
		if err := unix.Munmap(m.data); err != nil {
			return nil, fmt.Errorf("shm: munmap: %w", err)
		}
		m.data = nil
	}
	var err error
	for i := 0; i < sealAttempts; i++ {
		_, err = unix.FcntlInt(uintptr(m.fd), unix.F_ADD_SEALS, allSeals)
		if err == nil {
			fd := m.fd
			m.fd = -1
			return &Sealed{fd: fd}, nil
		}
		if err != unix.EBUSY {
			break
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrSealFailed, err)
}

// Close discards the mapping and its descriptor.
func (m *Mapping) Close() error {
	if m.data != nil {
		unix.Munmap(m.data)
		m.data = nil
	}
	if m.fd >= 0 {
		err := unix.Close(m.fd)
		m.fd = -1
		return err
	}
	return nil
}

// Sealed is an immutable segment. Its bytes can be mapped read-only any
// number of times; all views observe identical contents.
type Sealed struct {
	fd   int
	data []byte
}

// OpenSealed adopts a descriptor that is already sealed. It takes
// ownership of fd.
func OpenSealed(fd int) *Sealed {
	return &Sealed{fd: fd}
}

// Seals returns the seal set currently applied to the object.
func (s *Sealed) Seals() (int, error) {
	return unix.FcntlInt(uintptr(s.fd), unix.F_GET_SEALS, 0)
}

// Bytes returns a read-only mapping of the full object, establishing it
// on first use.
func (s *Sealed) Bytes() ([]byte, error) {
	if s.data == nil {
		size, err := fdSize(s.fd)
		if err != nil {
			return nil, err
		}
		if size == 0 {
			return nil, nil
		}
		data, err := unix.Mmap(s.fd, 0, size, unix.PROT_READ, unix.MAP_SHARED)
		if err != nil {
			return nil, wrapAlloc("mmap", err)
		}
		s.data = data
	}
	return s.data, nil
}

// FD returns the underlying descriptor. The Sealed retains ownership.
func (s *Sealed) FD() int {
	return s.fd
}

// Close drops the mapping and the descriptor.
func (s *Sealed) Close() error {
	if s.data != nil {
		unix.Munmap(s.data)
		s.data = nil
	}
	if s.fd >= 0 {
		err := unix.Close(s.fd)
		s.fd = -1
		return err
	}
	return nil
}

func fdSize(fd int) (int, error) {
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return 0, fmt.Errorf("shm: fstat: %w", err)
	}
	return int(st.Size), nil
}

func wrapAlloc(op string, err error) error {
	if err == unix.ENOMEM {
		return fmt.Errorf("%w: %s: %v", ErrOutOfMemory, op, err)
	}
	return fmt.Errorf("shm: %s: %w", op, err)
}
