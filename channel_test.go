package tpuipc

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	"gosuda.org/tpuipc/internal/shm"
)

// testConfig returns a channel configuration with names unique to the test
// and registers removal of its objects
func testConfig(t testing.TB, payloadSize int) Config {
	t.Helper()
	id := uuid.NewString()[:8]
	cfg := Config{
		RegionName:   "/tpuipc-test-region-" + id + "-",
		RequestName:  "/tpuipc-test-request-" + id + "-",
		ResponseName: "/tpuipc-test-response-" + id + "-",
		Index:        0,
		PayloadSize:  payloadSize,
	}
	t.Cleanup(func() { Remove(cfg) })
	return cfg
}

// TestChannelCreation tests the creation of channels
// It verifies that the first handle creates the channel and later ones attach
func TestChannelCreation(t *testing.T) {
	cfg := testConfig(t, 1024)

	primary, err := OpenChannel(cfg)
	if err != nil {
		t.Fatalf("Failed to create primary channel: %v", err)
	}
	defer primary.Close()

	if primary.Mode() != ChannelModePrimary {
		t.Error("First channel handle should be in primary mode")
	}
	if len(primary.Payload()) != 1024 {
		t.Errorf("Expected payload of 1024 bytes, got %d", len(primary.Payload()))
	}
	if primary.Result() != 0 {
		t.Errorf("Fresh channel should have zero result, got %v", primary.Result())
	}

	secondary, err := OpenChannel(cfg)
	if err != nil {
		t.Fatalf("Failed to open secondary channel: %v", err)
	}
	defer secondary.Close()

	if secondary.Mode() != ChannelModeSecondary {
		t.Error("Second channel handle should be in secondary mode")
	}
}

// TestChannelOpenRecordSizeMismatch tests that a handle configured with
// another payload size cannot attach to, or resize, a live channel
func TestChannelOpenRecordSizeMismatch(t *testing.T) {
	cfg := testConfig(t, 4096)

	primary, err := OpenChannel(cfg)
	if err != nil {
		t.Fatalf("Failed to create primary channel: %v", err)
	}
	defer primary.Close()

	other := cfg
	other.PayloadSize = 16
	_, err = OpenChannel(other)
	if !errors.Is(err, ErrRecordSize) {
		t.Fatalf("Expected ErrRecordSize, got %v", err)
	}
	var rerr *ResourceError
	if !errors.As(err, &rerr) || rerr.Name != cfg.Names().Region {
		t.Errorf("Expected ResourceError for %s, got %v", cfg.Names().Region, err)
	}
	if _, err := OpenProducer(other); !errors.Is(err, ErrRecordSize) {
		t.Errorf("Expected producer open to fail with ErrRecordSize, got %v", err)
	}

	// The primary mapping is still fully backed.
	payload := primary.Payload()
	for i := range payload {
		payload[i] = byte(i)
	}
	if payload[len(payload)-1] != byte(len(payload)-1) {
		t.Error("Primary payload corrupted")
	}
	primary.SetResult(0.5)
	if primary.Result() != 0.5 {
		t.Errorf("Expected result 0.5, got %v", primary.Result())
	}

	// Matching size still attaches.
	secondary, err := OpenChannel(cfg)
	if err != nil {
		t.Fatalf("Failed to open secondary channel: %v", err)
	}
	defer secondary.Close()
	if secondary.Result() != 0.5 {
		t.Errorf("Secondary should see result 0.5, got %v", secondary.Result())
	}
}

// TestChannelOpenKeepsRecord tests that attaching to an existing channel does
// not re-zero a record holding an in-flight result
func TestChannelOpenKeepsRecord(t *testing.T) {
	cfg := testConfig(t, 64)

	primary, err := OpenChannel(cfg)
	if err != nil {
		t.Fatalf("Failed to create primary channel: %v", err)
	}
	defer primary.Close()

	primary.SetResult(0.42)
	copy(primary.Payload(), "payload in flight")

	secondary, err := OpenChannel(cfg)
	if err != nil {
		t.Fatalf("Failed to open secondary channel: %v", err)
	}
	defer secondary.Close()

	if got := secondary.Result(); got != 0.42 {
		t.Errorf("Expected result 0.42 to survive open, got %v", got)
	}
	if got := string(secondary.Payload()[:17]); got != "payload in flight" {
		t.Errorf("Payload was reset on open: %q", got)
	}

	// Both handles share one record.
	secondary.SetResult(1.5)
	if got := primary.Result(); got != 1.5 {
		t.Errorf("Result written through secondary not visible: %v", got)
	}
}

// TestChannelRecordLayout tests that RESULT sits at offset 0 and PAYLOAD at
// offset 4 of the shared region
func TestChannelRecordLayout(t *testing.T) {
	cfg := testConfig(t, 8)

	ch, err := OpenChannel(cfg)
	if err != nil {
		t.Fatalf("Failed to create channel: %v", err)
	}
	defer ch.Close()

	mem := ch.region.Bytes()
	if len(mem) != 4+8 {
		t.Fatalf("Expected record of 12 bytes, got %d", len(mem))
	}

	ch.SetResult(1.0)
	// 1.0f is 0x3f800000 in native (little-endian on supported hosts) order.
	if mem[3] != 0x3f || mem[2] != 0x80 {
		t.Errorf("Result not stored at offset 0: % x", mem[:4])
	}

	ch.Payload()[0] = 0xAB
	if mem[4] != 0xAB {
		t.Error("Payload does not start at offset 4")
	}
}

func TestChannelNames(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Index = 3
	names := cfg.Names()

	if names.Region != "/my_shared_memory3" {
		t.Errorf("Unexpected region name %q", names.Region)
	}
	if names.Request != "/my_sender_semaphore3" {
		t.Errorf("Unexpected request name %q", names.Request)
	}
	if names.Response != "/my_receiver_semaphore3" {
		t.Errorf("Unexpected response name %q", names.Response)
	}
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("Default config should be valid: %v", err)
	}

	cfg := DefaultConfig()
	cfg.PayloadSize = 0
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig for zero payload, got %v", err)
	}

	cfg = DefaultConfig()
	cfg.Index = -1
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig for negative index, got %v", err)
	}

	cfg = DefaultConfig()
	cfg.ResponseName = cfg.RequestName
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig for shared semaphore name, got %v", err)
	}

	if _, err := OpenChannel(cfg); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("OpenChannel should validate, got %v", err)
	}
}

func TestParseSize(t *testing.T) {
	n, err := ParseSize("150528")
	if err != nil || n != 150528 {
		t.Errorf("Expected 150528, got %d (%v)", n, err)
	}
	n, err = ParseSize("147KiB")
	if err != nil || n != 150528 {
		t.Errorf("Expected 150528, got %d (%v)", n, err)
	}
	if _, err := ParseSize("lots"); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig, got %v", err)
	}
	if ImageSize(224, 224, 3) != 150528 {
		t.Error("ImageSize(224, 224, 3) should be 150528")
	}
}

// TestChannelCloseUnlink tests the release and removal of named objects
func TestChannelCloseUnlink(t *testing.T) {
	cfg := testConfig(t, 16)

	ch, err := OpenChannel(cfg)
	if err != nil {
		t.Fatalf("Failed to create channel: %v", err)
	}

	if err := ch.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := ch.Close(); err != nil {
		t.Errorf("Second Close should be a no-op, got %v", err)
	}
	if ch.Payload() != nil {
		t.Error("Payload should be released after Close")
	}
	if !shm.Exists(cfg.Names().Region) {
		t.Fatal("Close must not remove the region name")
	}

	// Reopening after Close attaches to the surviving objects.
	again, err := OpenChannel(cfg)
	if err != nil {
		t.Fatalf("Failed to reopen channel: %v", err)
	}
	if again.Mode() != ChannelModeSecondary {
		t.Error("Reopened channel should be in secondary mode")
	}

	if err := again.Destroy(); err != nil {
		t.Fatalf("Destroy failed: %v", err)
	}
	if shm.Exists(cfg.Names().Region) {
		t.Error("Destroy should remove the region name")
	}
	if err := Remove(cfg); err != nil {
		t.Errorf("Remove of missing objects should succeed, got %v", err)
	}

	// A removed channel is created afresh.
	fresh, err := OpenChannel(cfg)
	if err != nil {
		t.Fatalf("Failed to recreate channel: %v", err)
	}
	defer fresh.Destroy()
	if fresh.Mode() != ChannelModePrimary {
		t.Error("Recreated channel should be in primary mode")
	}
}

func TestOpenChannelResourceError(t *testing.T) {
	cfg := testConfig(t, 16)
	cfg.RegionName = "/tpuipc/nested-"

	_, err := OpenChannel(cfg)
	var rerr *ResourceError
	if !errors.As(err, &rerr) {
		t.Fatalf("Expected ResourceError, got %v", err)
	}
	if rerr.Op != "open" || !strings.HasPrefix(rerr.Name, "/tpuipc/nested-") {
		t.Errorf("Unexpected error details: %+v", rerr)
	}
}
