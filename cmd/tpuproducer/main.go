// Command tpuproducer sends a raw RGB image to a running tpuserver and reports
// the score and round-trip latency of each request.
//
// Convert an image to a raw pixel array with, for example:
//
//	convert cat.bmp -resize 224x224! cat.rgb
//
// The payload size is taken from the flags, never from the file, and must
// match the server's.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"gosuda.org/tpuipc"
)

var log = logrus.New()

func main() {
	cfg := tpuipc.DefaultConfig()

	imagePath := flag.String("image_path", "cat.rgb", "Raw RGB pixel array; its size must match the payload size.")
	iterations := flag.Int("iterations", 100, "Number of requests to send.")
	width := flag.Int("width", 224, "Input image width.")
	height := flag.Int("height", 224, "Input image height.")
	channels := flag.Int("channels", 3, "Input image channels.")
	payloadSize := flag.String("payload_size", "", "Payload size (e.g. 150528 or 147KiB); overrides width/height/channels.")
	wait := flag.Duration("wait", 10*time.Second, "How long to wait for the server to create the channel.")
	flag.IntVar(&cfg.Index, "device_index", cfg.Index, "Device index of the channel.")
	flag.StringVar(&cfg.RegionName, "region", cfg.RegionName, "Shared region base name.")
	flag.StringVar(&cfg.RequestName, "request", cfg.RequestName, "Request-ready semaphore base name.")
	flag.StringVar(&cfg.ResponseName, "response", cfg.ResponseName, "Response-ready semaphore base name.")
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

	payload, err := readPayload(*imagePath, cfg.PayloadSize)
	if err != nil {
		log.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *wait)
	err = tpuipc.WaitChannel(ctx, cfg)
	cancel()
	if err != nil {
		log.WithError(err).Fatal("server channel not available")
	}

	p, err := tpuipc.OpenProducer(cfg)
	if err != nil {
		log.WithError(err).Fatal("failed to open channel")
	}
	defer p.Close()

	entry := log.WithField("region", cfg.Names().Region)
	entry.WithField("payload", tpuipc.HumanSize(len(payload))).Info("sending requests")

	var total, fastest, slowest time.Duration
	for i := 0; i < *iterations; i++ {
		start := time.Now()
		score, err := p.Call(payload)
		if err != nil {
			log.WithError(err).Fatal("request failed")
		}
		took := time.Since(start)

		total += took
		if i == 0 || took < fastest {
			fastest = took
		}
		if took > slowest {
			slowest = took
		}
		entry.WithField("request", i+1).
			WithField("score", score).
			WithField("took", took).
			Debug("response received")
	}

	if *iterations > 0 {
		entry.WithField("requests", *iterations).
			WithField("avg", total/time.Duration(*iterations)).
			WithField("min", fastest).
			WithField("max", slowest).
			Info("done")
	}
}

// readPayload reads the raw image at path and checks it carries exactly size
// bytes, the payload size of the channel.
func readPayload(path string, size int) ([]byte, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(payload) != size {
		return nil, fmt.Errorf("%s: %w: file has %d bytes, channel carries %d", path, tpuipc.ErrPayloadSize, len(payload), size)
	}
	return payload, nil
}
