package sandbox

import (
	"slices"
	"strings"
	"testing"
)

func TestDeriveLimit(t *testing.T) {
	const gib = 1024 * 1024 * 1024
	tests := []struct {
		name      string
		available uint64
		want      uint64
	}{
		{
			name:      "typical desktop",
			available: 8 * gib,
			want:      (8*gib - headroom) / 5 * 4,
		},
		{
			name:      "clamped to ten gib",
			available: 64 * gib,
			want:      (10*gib - headroom) / 5 * 4,
		},
		{
			name:      "less than headroom",
			available: 100 * 1024 * 1024,
			want:      fallbackLimit,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := deriveLimit(tt.available); got != tt.want {
				t.Errorf("deriveLimit(%d) = %d, want %d", tt.available, got, tt.want)
			}
		})
	}
}

func TestLimitFromMeminfo(t *testing.T) {
	meminfo := `MemTotal:       16262192 kB
MemFree:         8612708 kB
MemAvailable:   12345600 kB
Buffers:          271200 kB
`
	got := limitFromMeminfo(strings.NewReader(meminfo))
	want := deriveLimit(12345600 * 1024)
	if got != want {
		t.Errorf("limitFromMeminfo = %d, want %d", got, want)
	}
}

func TestLimitFromMeminfoMissingField(t *testing.T) {
	got := limitFromMeminfo(strings.NewReader("MemTotal: 1 kB\n"))
	if got != fallbackLimit {
		t.Errorf("limitFromMeminfo = %d, want fallback %d", got, fallbackLimit)
	}
}

func TestBwrapArgsLayout(t *testing.T) {
	args := bwrapArgs("/home/user/loaders/png", []string{"/data/pictures"}, 3)

	mustContain := [][]string{
		{"--unshare-all"},
		{"--die-with-parent"},
		{"--chdir", "/"},
		{"--clearenv"},
		{"--ro-bind", "/usr", "/usr"},
		{"--dev", "/dev"},
		{"--tmpfs", "/tmp-home"},
		{"--setenv", "HOME", "/tmp-home"},
		{"--tmpfs", "/tmp-run"},
		{"--setenv", "XDG_RUNTIME_DIR", "/tmp-run"},
		{"--ro-bind", "/data/pictures", "/data/pictures"},
		// Loader outside /usr is bound to itself.
		{"--ro-bind", "/home/user/loaders/png", "/home/user/loaders/png"},
		{"--seccomp", "3"},
	}
	for _, seq := range mustContain {
		if !containsSeq(args, seq) {
			t.Errorf("args missing %v:\n%v", seq, args)
		}
	}
}

func TestBwrapArgsLoaderInUsr(t *testing.T) {
	args := bwrapArgs("/usr/libexec/image-loaders/png", nil, -1)

	if containsSeq(args, []string{"--ro-bind", "/usr/libexec/image-loaders/png"}) {
		t.Error("loader under /usr should not be bound separately")
	}
	if slices.Contains(args, "--seccomp") {
		t.Error("seccomp arg present without a filter descriptor")
	}
}

func containsSeq(haystack, needle []string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if slices.Equal(haystack[i:i+len(needle)], needle) {
			return true
		}
	}
	return false
}
