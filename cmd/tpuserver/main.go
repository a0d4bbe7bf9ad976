// Command tpuserver serves inference requests arriving over shared memory
// channels, one channel per device index.
//
// Stop it with SIGINT or SIGTERM to release and remove the channel objects.
// After a crash the objects stay behind; remove them with -cleanup.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dc0d/onexit"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"gosuda.org/tpuipc"
	"gosuda.org/tpuipc/internal/engine"
)

var log = logrus.New()

func main() {
	cfg := tpuipc.DefaultConfig()

	model := flag.String("model_path", "mean", "Model reference: mean, const:<score>.")
	devices := flag.String("device_index", "0", "Comma-separated device indices, one channel each.")
	width := flag.Int("width", 224, "Input image width.")
	height := flag.Int("height", 224, "Input image height.")
	channels := flag.Int("channels", 3, "Input image channels.")
	payloadSize := flag.String("payload_size", "", "Payload size (e.g. 150528 or 147KiB); overrides width/height/channels.")
	flag.StringVar(&cfg.RegionName, "region", cfg.RegionName, "Shared region base name.")
	flag.StringVar(&cfg.RequestName, "request", cfg.RequestName, "Request-ready semaphore base name.")
	flag.StringVar(&cfg.ResponseName, "response", cfg.ResponseName, "Response-ready semaphore base name.")
	grace := flag.Duration("shutdown_timeout", 5*time.Second, "How long to wait for a loop busy in inference on shutdown.")
	cleanup := flag.Bool("cleanup", false, "Remove the channel objects and exit.")
	debug := flag.Bool("debug", os.Getenv("TPUIPC_DEBUG") != "", "Enable debug logging.")
	flag.Parse()

	if *debug {
		log.SetLevel(logrus.DebugLevel)
	}
	tpuipc.SetLogger(log.WithField("logger", "tpuipc"))

	cfg.PayloadSize = tpuipc.ImageSize(*width, *height, *channels)
	if *payloadSize != "" {
		n, err := tpuipc.ParseSize(*payloadSize)
		if err != nil {
			log.Fatal(err)
		}
		cfg.PayloadSize = n
	}

	indices, err := parseIndices(*devices)
	if err != nil {
		log.Fatal(err)
	}

	if *cleanup {
		failed := false
		for _, idx := range indices {
			c := cfg
			c.Index = idx
			if err := tpuipc.Remove(c); err != nil {
				log.WithError(err).Error("cleanup failed")
				failed = true
				continue
			}
			log.WithField("region", c.Names().Region).Info("channel objects removed")
		}
		if failed {
			os.Exit(1)
		}
		return
	}

	// onexit owns SIGINT and SIGTERM and runs this hook on the first one.
	f := &fleet{grace: *grace}
	onexit.Register(func() {
		if err := f.shutdown(); err != nil {
			log.WithError(err).Warn("channel teardown incomplete")
		}
	})

	for _, idx := range indices {
		c := cfg
		c.Index = idx
		w, err := startWorker(c, *model)
		if err != nil {
			log.WithError(err).Error("startup failed")
			onexit.ForceExit(1)
		}
		if !f.add(w) {
			w.release()
			break
		}
	}

	g, ctx := errgroup.WithContext(context.Background())
	if !f.start(g) {
		<-onexit.Done()
		os.Exit(exitCode(f.result()))
	}
	go func() {
		<-ctx.Done()
		f.stop()
	}()

	served := make(chan error, 1)
	go func() { served <- g.Wait() }()

	select {
	case err := <-served:
		if !errors.Is(err, tpuipc.ErrServerClosed) {
			log.WithError(err).Error("server failed")
			onexit.ForceExit(1)
		}
		onexit.ForceExit(exitCode(f.shutdown()))
	case <-onexit.Done():
		log.Info("shut down")
		os.Exit(exitCode(f.result()))
	}
}

func exitCode(err error) int {
	if err != nil {
		return 1
	}
	return 0
}

// startWorker opens the channel and engine for one device.
func startWorker(cfg tpuipc.Config, model string) (*worker, error) {
	ch, err := tpuipc.OpenChannel(cfg)
	if err != nil {
		return nil, err
	}
	names := ch.Names()
	entry := log.WithField("region", names.Region).WithField("device", cfg.Index)

	if ch.Mode() == tpuipc.ChannelModeSecondary {
		entry.Warn("attached to existing channel objects; a previous server may not have shut down cleanly")
	}

	eng, err := engine.Open(model, cfg.PayloadSize)
	if err != nil {
		ch.Destroy()
		return nil, err
	}

	srv, err := tpuipc.NewServer(ch, eng)
	if err != nil {
		eng.Close()
		ch.Destroy()
		return nil, err
	}

	entry.WithField("model", model).
		WithField("mode", ch.Mode()).
		WithField("payload", tpuipc.HumanSize(cfg.PayloadSize)).
		Info("channel ready")

	return newWorker(cfg, ch, eng, srv), nil
}

func parseIndices(s string) ([]int, error) {
	var indices []int
	seen := map[int]bool{}
	for _, field := range strings.Split(s, ",") {
		idx, err := strconv.Atoi(strings.TrimSpace(field))
		if err != nil || idx < 0 {
			return nil, errors.New("invalid device index " + strconv.Quote(field))
		}
		if seen[idx] {
			continue
		}
		seen[idx] = true
		indices = append(indices, idx)
	}
	return indices, nil
}
