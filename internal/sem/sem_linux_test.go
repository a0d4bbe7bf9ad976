//go:build linux && (amd64 || arm64)

package sem

import (
	"encoding/binary"
	"os"
	"testing"
)

// TestObjectLayout tests that the backing object carries the count in the
// low half of the first 64-bit word
func TestObjectLayout(t *testing.T) {
	name := testName(t)

	s, err := OpenOrCreate(name, 5)
	if err != nil {
		t.Fatalf("Failed to create semaphore: %v", err)
	}
	defer s.Close()
	s.TryWait()

	raw, err := os.ReadFile(Path(name))
	if err != nil {
		t.Fatalf("Failed to read semaphore object: %v", err)
	}
	if len(raw) != semSize {
		t.Fatalf("Expected %d byte object, got %d", semSize, len(raw))
	}
	if d := binary.NativeEndian.Uint64(raw[:8]); d != 4 {
		t.Errorf("Expected data word 4, got %#x", d)
	}

	info, err := os.Stat(Path(name))
	if err != nil {
		t.Fatalf("Failed to stat semaphore object: %v", err)
	}
	if info.Mode().Perm() != objectMode {
		t.Errorf("Expected mode %o, got %o", objectMode, info.Mode().Perm())
	}
}

func TestUnlinkRemovesObject(t *testing.T) {
	name := testName(t)

	s, err := OpenOrCreate(name, 0)
	if err != nil {
		t.Fatalf("Failed to create semaphore: %v", err)
	}
	defer s.Close()

	if err := Unlink(name); err != nil {
		t.Fatalf("Unlink failed: %v", err)
	}
	if _, err := os.Stat(Path(name)); !os.IsNotExist(err) {
		t.Errorf("Semaphore object still present: %v", err)
	}

	// The mapping outlives the name.
	if err := s.Signal(); err != nil {
		t.Errorf("Signal after Unlink failed: %v", err)
	}
	if !s.TryWait() {
		t.Error("TryWait after Unlink should see the signal")
	}
}
