package internaltelemetry

import (
	"go.opentelemetry.io/otel/metric"
)

// DeviceMetrics holds all the metric instruments for device I/O: bus
// transactions issued through the arbiter and bring-up attempts made by the
// negotiator. One bundle is shared by every handle on a bus.
type DeviceMetrics struct {
	TransfersCounter       metric.Int64Counter
	TransferBytesCounter   metric.Int64Counter
	TransferLatencyHist    metric.Int64Histogram
	BringupAttemptsCounter metric.Int64Counter
}

// NewDeviceMetrics creates and registers all the metrics for device I/O.
func NewDeviceMetrics(meter metric.Meter) (*DeviceMetrics, error) {
	transfersCounter, err := meter.Int64Counter(
		"sdflash.bus.transfers_total",
		metric.WithDescription("Total number of bus transactions completed."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	transferBytesCounter, err := meter.Int64Counter(
		"sdflash.bus.transfer_bytes_total",
		metric.WithDescription("Total number of bytes moved across the bus."),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	transferLatencyHist, err := meter.Int64Histogram(
		"sdflash.bus.transfer_duration",
		metric.WithDescription("The latency of bus transactions, lock wait included."),
		metric.WithUnit("us"),
	)
	if err != nil {
		return nil, err
	}

	bringupAttemptsCounter, err := meter.Int64Counter(
		"sdflash.bringup.attempts_total",
		metric.WithDescription("Total number of bring-up attempts, failures included."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	return &DeviceMetrics{
		TransfersCounter:       transfersCounter,
		TransferBytesCounter:   transferBytesCounter,
		TransferLatencyHist:    transferLatencyHist,
		BringupAttemptsCounter: bringupAttemptsCounter,
	}, nil
}
