// Package bringup drives a raw storage device from power-on to an
// operationally-ready state. Bring-up failures are hardware settling time,
// not logical errors, so the policy is unbounded retry with a fixed short
// delay between attempts: the device is assumed eventually present. The only
// exit besides success is cancellation of the caller's context.
package bringup

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sushant-115/sdflash/core/bus"
	internaltelemetry "github.com/sushant-115/sdflash/internal/telemetry"
)

// DefaultRetryDelay is the pause between failed bring-up attempts. Tens of
// milliseconds is plenty for card power-on settling.
const DefaultRetryDelay = 10 * time.Millisecond

// Device is what a raw card driver must expose to be negotiated. The two
// phases mirror card bring-up: Reset covers pre-initialization settling
// (dummy clocking, software reset), Init is the capability handshake that
// leaves the card addressable. SetConfig swaps the transfer configuration
// the driver uses for subsequent transfers.
type Device interface {
	Reset(ctx context.Context) error
	Init(ctx context.Context) error
	SetConfig(cfg bus.Config)
}

// Negotiator brings devices up under a low, universally-safe transfer rate
// and switches them to the negotiated operating rate once ready.
type Negotiator struct {
	low     bus.Config
	high    bus.Config
	delay   time.Duration
	logger  *zap.Logger
	metrics *internaltelemetry.DeviceMetrics
}

// New creates a Negotiator. low is applied for the whole handshake, high
// after it succeeds. A non-positive delay falls back to DefaultRetryDelay;
// metrics may be nil.
func New(low, high bus.Config, delay time.Duration, logger *zap.Logger, metrics *internaltelemetry.DeviceMetrics) *Negotiator {
	if delay <= 0 {
		delay = DefaultRetryDelay
	}
	return &Negotiator{
		low:     low,
		high:    high,
		delay:   delay,
		logger:  logger.Named("bringup"),
		metrics: metrics,
	}
}

// Negotiate runs both bring-up phases to completion. It retries each phase
// indefinitely at the fixed delay, so the only error it can return is the
// context's. On return with nil, the device is ready and configured at the
// operating rate.
func (n *Negotiator) Negotiate(ctx context.Context, dev Device) error {
	dev.SetConfig(n.low)

	if err := n.attemptLoop(ctx, "reset", dev.Reset); err != nil {
		return err
	}
	if err := n.attemptLoop(ctx, "init", dev.Init); err != nil {
		return err
	}

	// From here on every transfer runs at the negotiated maximum. There is
	// no rollback: if the operating rate faults, that surfaces as an
	// ordinary I/O error to whoever is using the device.
	dev.SetConfig(n.high)
	n.logger.Info("Device initialization complete",
		zap.Uint32("frequency", n.high.Frequency))
	return nil
}

// attemptLoop retries one bring-up phase until it succeeds or ctx is done.
// Attempts are paced by a limiter at the fixed delay, which doubles as the
// suspension point between tries.
func (n *Negotiator) attemptLoop(ctx context.Context, phase string, attempt func(context.Context) error) error {
	limiter := rate.NewLimiter(rate.Every(n.delay), 1)
	for tries := 1; ; tries++ {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		if n.metrics != nil {
			n.metrics.BringupAttemptsCounter.Add(ctx, 1)
		}

		err := attempt(ctx)
		if err == nil {
			n.logger.Info("Bring-up phase complete",
				zap.String("phase", phase),
				zap.Int("tries", tries))
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		n.logger.Warn("Bring-up attempt failed, retrying",
			zap.String("phase", phase),
			zap.Int("tries", tries),
			zap.Error(err))
	}
}
