package shm

import (
	"bytes"
	"testing"

	"golang.org/x/sys/unix"
)

func TestSegmentLifecycle(t *testing.T) {
	seg, err := Create(64)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	data := seg.Bytes()
	if len(data) != 64 {
		t.Fatalf("expected 64 writable bytes, got %d", len(data))
	}
	for i := range data {
		data[i] = byte(i)
	}

	fd, err := seg.IntoFD()
	if err != nil {
		t.Fatalf("IntoFD failed: %v", err)
	}

	mapping, err := OpenWritable(fd)
	if err != nil {
		t.Fatalf("OpenWritable failed: %v", err)
	}
	if mapping.Len() != 64 {
		t.Errorf("mapping length = %d, want 64", mapping.Len())
	}
	if mapping.Bytes()[63] != 63 {
		t.Errorf("contents not preserved across handoff")
	}

	sealed, err := mapping.Seal()
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	defer sealed.Close()

	got, err := sealed.Bytes()
	if err != nil {
		t.Fatalf("Bytes failed: %v", err)
	}
	want := make([]byte, 64)
	for i := range want {
		want[i] = byte(i)
	}
	if !bytes.Equal(got, want) {
		t.Error("sealed contents differ from written data")
	}
}

func TestSealMonotonicity(t *testing.T) {
	seg, err := Create(16)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	copy(seg.Bytes(), "sealed pixels")

	fd, err := seg.IntoFD()
	if err != nil {
		t.Fatalf("IntoFD failed: %v", err)
	}
	mapping, err := OpenWritable(fd)
	if err != nil {
		t.Fatalf("OpenWritable failed: %v", err)
	}
	sealed, err := mapping.Seal()
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	defer sealed.Close()

	seals, err := sealed.Seals()
	if err != nil {
		t.Fatalf("Seals failed: %v", err)
	}
	if seals&allSeals != allSeals {
		t.Errorf("seal set = %#x, want all of %#x", seals, allSeals)
	}

	// Writes must fail after sealing.
	if _, err := unix.Write(sealed.FD(), []byte("x")); err == nil {
		t.Error("write to sealed segment succeeded")
	}
	// So must resizing.
	if err := unix.Ftruncate(sealed.FD(), 4); err == nil {
		t.Error("shrinking sealed segment succeeded")
	}
	if err := unix.Ftruncate(sealed.FD(), 64); err == nil {
		t.Error("growing sealed segment succeeded")
	}

	// Independent read-only views observe identical bytes.
	a, err := sealed.Bytes()
	if err != nil {
		t.Fatalf("Bytes failed: %v", err)
	}
	dup, err := unix.Dup(sealed.FD())
	if err != nil {
		t.Fatalf("dup failed: %v", err)
	}
	other := OpenSealed(dup)
	defer other.Close()
	b, err := other.Bytes()
	if err != nil {
		t.Fatalf("Bytes on dup failed: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Error("independent mappings observe different contents")
	}
}

func TestMappingTruncate(t *testing.T) {
	seg, err := Create(100)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	for i := range seg.Bytes() {
		seg.Bytes()[i] = 0xAB
	}
	fd, err := seg.IntoFD()
	if err != nil {
		t.Fatalf("IntoFD failed: %v", err)
	}
	mapping, err := OpenWritable(fd)
	if err != nil {
		t.Fatalf("OpenWritable failed: %v", err)
	}
	defer mapping.Close()

	if err := mapping.Truncate(40); err != nil {
		t.Fatalf("Truncate failed: %v", err)
	}
	if mapping.Len() != 40 {
		t.Errorf("length after truncate = %d, want 40", mapping.Len())
	}
	if mapping.Bytes()[39] != 0xAB {
		t.Error("contents lost on truncate")
	}
}

func TestBlobRefCounting(t *testing.T) {
	blob, err := BlobFromBytes([]byte("icc profile bytes"))
	if err != nil {
		t.Fatalf("BlobFromBytes failed: %v", err)
	}

	ref := blob.Ref()
	if err := blob.Close(); err != nil {
		t.Fatalf("closing first handle failed: %v", err)
	}

	// The second handle keeps the segment alive.
	data, err := ref.Bytes()
	if err != nil {
		t.Fatalf("Bytes after partial close failed: %v", err)
	}
	if string(data) != "icc profile bytes" {
		t.Errorf("unexpected blob contents: %q", data)
	}

	if err := ref.Close(); err != nil {
		t.Fatalf("closing last handle failed: %v", err)
	}
}
