//go:build linux && (amd64 || arm64)

package tpuipc

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"testing"
	"time"

	"gosuda.org/tpuipc/internal/engine"
)

const helperEnv = "TPUIPC_HELPER_CHANNEL"

// TestHelperProducer is the producer half of TestCrossProcessRoundTrip. It
// only runs when re-executed by that test.
func TestHelperProducer(t *testing.T) {
	env := os.Getenv(helperEnv)
	if env == "" {
		t.Skip("helper process only")
	}

	parts := strings.Split(env, ",")
	size, _ := strconv.Atoi(parts[3])
	cfg := Config{
		RegionName:   parts[0],
		RequestName:  parts[1],
		ResponseName: parts[2],
		PayloadSize:  size,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := WaitChannel(ctx, cfg); err != nil {
		t.Fatalf("Server channel did not appear: %v", err)
	}

	p, err := OpenProducer(cfg)
	if err != nil {
		t.Fatalf("Failed to open producer: %v", err)
	}
	defer p.Close()

	if p.Channel().Mode() != ChannelModeSecondary {
		t.Errorf("Producer should attach to the server's channel")
	}
	for i := 0; i < 3; i++ {
		score, err := p.Call(make([]byte, size))
		if err != nil {
			t.Fatalf("Call failed: %v", err)
		}
		fmt.Printf("score=%v\n", score)
	}
}

// TestCrossProcessRoundTrip tests the handshake between two processes that
// share nothing but the named objects
func TestCrossProcessRoundTrip(t *testing.T) {
	if os.Getenv(helperEnv) != "" {
		t.Skip("running as helper")
	}

	cfg := testConfig(t, ImageSize(224, 224, 3))
	srv, _ := startServer(t, cfg, engine.NewConstant(cfg.PayloadSize, 0.42))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, os.Args[0], "-test.run=^TestHelperProducer$", "-test.count=1")
	cmd.Env = append(os.Environ(), helperEnv+"="+strings.Join([]string{
		cfg.RegionName, cfg.RequestName, cfg.ResponseName, strconv.Itoa(cfg.PayloadSize),
	}, ","))

	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("Producer process failed: %v\n%s", err, out)
	}
	if n := strings.Count(string(out), "score=0.42"); n != 3 {
		t.Errorf("Expected 3 results of 0.42 from producer, got %d\n%s", n, out)
	}
	if srv.Cycles() != 3 {
		t.Errorf("Expected 3 served cycles, got %d", srv.Cycles())
	}
}
