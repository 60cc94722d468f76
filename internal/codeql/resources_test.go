package codeql

import (
	"testing"

	"scanstep/internal/logging"
)

type fakeHost struct {
	mem  uint64
	cpus int
}

func (h fakeHost) TotalMemoryBytes() (uint64, error) { return h.mem, nil }
func (h fakeHost) LogicalCPUs() (int, error)        { return h.cpus, nil }

func TestMemoryMB(t *testing.T) {
	host := fakeHost{mem: 8 * 1024 * 1024 * 1024}

	got, err := MemoryMB("", host)
	if err != nil || got != 8192-256 {
		t.Fatalf("default: got %d, %v", got, err)
	}
	got, err = MemoryMB(" 2048.7 ", host)
	if err != nil || got != 2048 {
		t.Fatalf("explicit: got %d, %v", got, err)
	}
	for _, bad := range []string{"lots", "0", "-5"} {
		if _, err := MemoryMB(bad, host); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestThreads(t *testing.T) {
	host := fakeHost{cpus: 4}
	log := logging.Nop()

	tests := []struct {
		in   string
		want int
	}{
		{"", 4},
		{"2", 2},
		{"16", 4},
		{"-1", -1},
		{"-9", -4},
	}
	for _, tt := range tests {
		got, err := Threads(tt.in, host, log)
		if err != nil || got != tt.want {
			t.Fatalf("Threads(%q) = %d, %v; want %d", tt.in, got, err, tt.want)
		}
	}
	if _, err := Threads("many", host, log); err == nil {
		t.Fatalf("expected error")
	}
}
