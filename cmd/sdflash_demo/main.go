// Command sdflash_demo runs the full device stack end to end without
// hardware: it brings a simulated card up through the bus arbiter and the
// negotiator, adapts a file-backed block device to the page-addressed flash
// contract, and runs an erase/write/read smoke pass over it.
package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sushant-115/sdflash/core/blockdev"
	"github.com/sushant-115/sdflash/core/bringup"
	"github.com/sushant-115/sdflash/core/bus"
	"github.com/sushant-115/sdflash/core/flash"
	internaltelemetry "github.com/sushant-115/sdflash/internal/telemetry"
	"github.com/sushant-115/sdflash/pkg/logger"
	"github.com/sushant-115/sdflash/pkg/telemetry"
)

const (
	defaultImagePath = "data/sdcard.img"
	defaultPageSize  = 512
	defaultCapacity  = 16 * 1024 * 1024 // 16 MiB
	defaultBlockSize = 512
	smokePages       = 16 // pages exercised by the smoke pass
)

// simTransport stands in for a serial peripheral. It refuses the first few
// transfers to exercise the negotiator's retry loop, the way a real card
// does while its supply settles.
type simTransport struct {
	cfg           bus.Config
	settlePending int
}

var errCardNotResponding = errors.New("card not responding")

func (tr *simTransport) Configure(cfg bus.Config) error {
	if cfg.Frequency == 0 {
		return fmt.Errorf("zero clock frequency")
	}
	tr.cfg = cfg
	return nil
}

func (tr *simTransport) Transfer(ctx context.Context, tx, rx []byte) error {
	if tr.settlePending > 0 {
		tr.settlePending--
		return errCardNotResponding
	}
	return nil
}

// simCard implements the negotiator's device contract on top of a bus
// handle. Reset clocks dummy bytes with nothing selected (the pre-init
// settling a real card needs) and Init stands in for the capability
// handshake; both go through the arbiter so they contend like real traffic.
type simCard struct {
	handle *bus.Device
}

func (c *simCard) Reset(ctx context.Context) error {
	dummy := bytes.Repeat([]byte{0xFF}, 10)
	return c.handle.Transfer(ctx, dummy, nil)
}

func (c *simCard) Init(ctx context.Context) error {
	return c.handle.Transfer(ctx, []byte{0x40, 0, 0, 0, 0, 0x95}, nil)
}

func (c *simCard) SetConfig(cfg bus.Config) {
	c.handle.SetConfig(cfg)
}

func main() {
	imagePath := flag.String("image", defaultImagePath, "path of the backing card image")
	pageSize := flag.Int("page-size", defaultPageSize, "page size in bytes")
	capacity := flag.Int64("capacity", defaultCapacity, "usable capacity in bytes")
	metricsPort := flag.Int("metrics-port", 0, "prometheus port, 0 disables the endpoint")
	logLevel := flag.String("log-level", "info", "minimum log level")
	flag.Parse()

	log, err := logger.New(logger.Config{Level: *logLevel, Format: "console"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(log, *imagePath, *pageSize, *capacity, *metricsPort); err != nil {
		log.Fatal("Demo failed", zap.Error(err))
	}
}

func run(log *zap.Logger, imagePath string, pageSize int, capacity int64, metricsPort int) error {
	ctx := context.Background()

	tel, telShutdown, err := telemetry.New(telemetry.Config{
		Enabled:        metricsPort > 0,
		ServiceName:    "sdflash_demo",
		PrometheusPort: metricsPort,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer telShutdown(ctx)

	metrics, err := internaltelemetry.NewDeviceMetrics(tel.Meter)
	if err != nil {
		return fmt.Errorf("failed to create device metrics: %w", err)
	}

	// Electrical side: shared bus, one card handle, bring-up. The simulated
	// card refuses its first transfers, so the retry loop gets real work.
	transport := &simTransport{settlePending: 3}
	b := bus.New(transport, log, metrics)
	card := &simCard{handle: b.Device("sdcard", bus.DefaultNegotiationConfig)}

	neg := bringup.New(bus.DefaultNegotiationConfig, bus.DefaultOperatingConfig,
		bringup.DefaultRetryDelay, log, metrics)
	if err := neg.Negotiate(ctx, card); err != nil {
		return fmt.Errorf("bring-up failed: %w", err)
	}

	// Storage side: file-backed card image behind the block-buffering
	// wrapper, adapted to the page contract.
	if err := os.MkdirAll("data", 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	dev, err := blockdev.NewFileDevice(imagePath, defaultBlockSize, capacity, log)
	if err != nil {
		return fmt.Errorf("failed to open card image: %w", err)
	}
	defer dev.Close()

	fl, err := flash.NewBlockFlash(blockdev.NewBufDevice(dev), pageSize, capacity)
	if err != nil {
		return fmt.Errorf("failed to build page adapter: %w", err)
	}
	log.Info("Page adapter ready",
		zap.Int("pageSize", pageSize),
		zap.Int("pageCount", fl.PageCount()))

	if err := smokePass(ctx, fl); err != nil {
		return err
	}
	if err := dev.Sync(); err != nil {
		return err
	}
	log.Info("Smoke pass complete", zap.Int("pages", smokePages))
	return nil
}

// smokePass erases a handful of pages, writes an identifiable payload to
// each and reads it back, failing loudly on any mismatch.
func smokePass(ctx context.Context, fl *flash.BlockFlash) error {
	for i := 0; i < smokePages; i++ {
		page := flash.PageID(i)
		if err := fl.Erase(ctx, page); err != nil {
			return fmt.Errorf("erase of page %d failed: %w", i, err)
		}

		payload := []byte(uuid.New().String())
		if err := fl.Write(ctx, page, 0, payload); err != nil {
			return fmt.Errorf("write to page %d failed: %w", i, err)
		}

		got := make([]byte, len(payload))
		if err := fl.Read(ctx, page, 0, got); err != nil {
			return fmt.Errorf("read of page %d failed: %w", i, err)
		}
		if !bytes.Equal(payload, got) {
			return fmt.Errorf("page %d round-trip mismatch: wrote %q, read %q", i, payload, got)
		}
	}
	return nil
}
