// Package bus provides arbitration for a serial transport shared by several
// logical devices. Each device carries its own transfer configuration (for
// now, clock frequency); the arbiter guarantees that one transaction at a
// time owns the transport and that the owner's configuration is applied
// before its bytes move.
package bus

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	internaltelemetry "github.com/sushant-115/sdflash/internal/telemetry"
)

// Config is the transfer configuration applied to the transport for the
// duration of one device's transaction.
type Config struct {
	// Frequency is the serial clock rate in Hz.
	Frequency uint32 `yaml:"frequency"`
}

// Default configurations for the two bring-up phases. 400 kHz is universally
// safe for card identification; 25 MHz is the standard-speed maximum.
var (
	DefaultNegotiationConfig = Config{Frequency: 400_000}
	DefaultOperatingConfig   = Config{Frequency: 25_000_000}
)

// Transport is the raw shared resource underneath the arbiter: a serial
// peripheral (or a simulation of one) that can be reconfigured and can move
// bytes full-duplex. Implementations are not expected to be safe for
// concurrent use; serialization is this package's job.
type Transport interface {
	// Configure applies a transfer configuration. It is called under the
	// bus lock before every transaction.
	Configure(cfg Config) error
	// Transfer clocks tx out and rx in simultaneously. Either slice may be
	// nil for a half-duplex transfer.
	Transfer(ctx context.Context, tx, rx []byte) error
}

// Bus serializes access to one shared Transport. All device handles created
// from the same Bus contend on the same lock.
type Bus struct {
	mu        sync.Mutex
	transport Transport
	logger    *zap.Logger
	metrics   *internaltelemetry.DeviceMetrics
}

// New creates a Bus owning the given transport. metrics may be nil, in which
// case no instruments are recorded. The bus should be constructed once at
// startup and shared by handle; there is deliberately no package-level
// default instance.
func New(transport Transport, logger *zap.Logger, metrics *internaltelemetry.DeviceMetrics) *Bus {
	return &Bus{
		transport: transport,
		logger:    logger.Named("bus"),
		metrics:   metrics,
	}
}

// Device is a per-device handle on a shared Bus. Using the handle acquires
// the bus, applies this device's configuration, performs the transfer, and
// releases. Nothing is retried and no state is held between transactions.
type Device struct {
	bus  *Bus
	name string
	id   uuid.UUID

	cfgMu sync.Mutex
	cfg   Config
}

// Device creates a handle for one logical device with its own transfer
// configuration. The name shows up in logs; the generated handle ID
// disambiguates two handles created under the same name.
func (b *Bus) Device(name string, cfg Config) *Device {
	return &Device{
		bus:  b,
		name: name,
		id:   uuid.New(),
		cfg:  cfg,
	}
}

// Config returns the configuration the next transaction will apply.
func (d *Device) Config() Config {
	d.cfgMu.Lock()
	defer d.cfgMu.Unlock()
	return d.cfg
}

// SetConfig swaps the handle's transfer configuration. The change takes
// effect on the next transaction; a transaction already holding the bus is
// unaffected. This is the negotiation-to-operating rate switch.
func (d *Device) SetConfig(cfg Config) {
	d.cfgMu.Lock()
	defer d.cfgMu.Unlock()
	d.cfg = cfg
}

// Transact acquires exclusive use of the transport, applies this device's
// configuration and runs fn against the raw transport. Errors from Configure
// and fn are returned unchanged; this layer adds no retry and no
// classification.
func (d *Device) Transact(ctx context.Context, fn func(t Transport) error) error {
	start := time.Now()

	d.bus.mu.Lock()
	defer d.bus.mu.Unlock()

	// The lock wait is a suspension point; honor a cancellation that
	// happened while queued rather than touching the transport.
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := d.bus.transport.Configure(d.Config()); err != nil {
		return err
	}
	err := fn(d.bus.transport)

	if d.bus.metrics != nil {
		d.bus.metrics.TransfersCounter.Add(ctx, 1)
		d.bus.metrics.TransferLatencyHist.Record(ctx, time.Since(start).Microseconds())
	}
	if err != nil {
		d.bus.logger.Debug("Transaction failed",
			zap.String("device", d.name),
			zap.String("handle", d.id.String()),
			zap.Error(err))
	}
	return err
}

// Transfer is a convenience for the common single-transfer transaction:
// acquire, configure, move tx/rx, release.
func (d *Device) Transfer(ctx context.Context, tx, rx []byte) error {
	return d.Transact(ctx, func(t Transport) error {
		err := t.Transfer(ctx, tx, rx)
		if err == nil && d.bus.metrics != nil {
			n := len(tx)
			if len(rx) > n {
				n = len(rx)
			}
			d.bus.metrics.TransferBytesCounter.Add(ctx, int64(n))
		}
		return err
	})
}
