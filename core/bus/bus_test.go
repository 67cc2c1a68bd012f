package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// --- Test Helpers ---

// transferEvent records one edge of a transfer for serialization checks.
type transferEvent struct {
	kind string // "start" or "end"
	freq uint32 // configuration in force when the transfer ran
}

// recordingTransport logs configuration changes and transfer start/end
// ordering. It deliberately sleeps inside Transfer so that an arbiter bug
// would give concurrent transfers a real chance to interleave.
type recordingTransport struct {
	mu     sync.Mutex
	cfg    Config
	events []transferEvent
}

func (tr *recordingTransport) Configure(cfg Config) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.cfg = cfg
	return nil
}

func (tr *recordingTransport) Transfer(ctx context.Context, tx, rx []byte) error {
	tr.mu.Lock()
	freq := tr.cfg.Frequency
	tr.events = append(tr.events, transferEvent{kind: "start", freq: freq})
	tr.mu.Unlock()

	time.Sleep(100 * time.Microsecond)

	tr.mu.Lock()
	tr.events = append(tr.events, transferEvent{kind: "end", freq: freq})
	tr.mu.Unlock()
	return nil
}

func setupBus(t *testing.T) (*Bus, *recordingTransport) {
	t.Helper()
	tr := &recordingTransport{}
	return New(tr, zap.NewNop(), nil), tr
}

// --- Test Cases ---

// TestBus_SerializesConcurrentDevices drives two logical devices from two
// goroutines and verifies that transfers never interleave: every start is
// immediately followed by its own end, and each pair ran under a single
// configuration.
func TestBus_SerializesConcurrentDevices(t *testing.T) {
	b, tr := setupBus(t)
	devA := b.Device("a", Config{Frequency: 400_000})
	devB := b.Device("b", Config{Frequency: 25_000_000})

	const perDevice = 50
	var wg sync.WaitGroup
	for _, dev := range []*Device{devA, devB} {
		wg.Add(1)
		go func(d *Device) {
			defer wg.Done()
			for i := 0; i < perDevice; i++ {
				require.NoError(t, d.Transfer(context.Background(), []byte{0xFF}, nil))
			}
		}(dev)
	}
	wg.Wait()

	require.Len(t, tr.events, 4*perDevice)
	for i := 0; i < len(tr.events); i += 2 {
		start, end := tr.events[i], tr.events[i+1]
		require.Equal(t, "start", start.kind, "event %d", i)
		require.Equal(t, "end", end.kind, "event %d", i+1)
		require.Equal(t, start.freq, end.freq,
			"transfer %d saw a configuration change mid-flight", i/2)
	}
}

// TestBus_AppliesDeviceConfigPerTransaction verifies each handle's
// configuration is applied before its transfer, whatever ran previously.
func TestBus_AppliesDeviceConfigPerTransaction(t *testing.T) {
	b, tr := setupBus(t)
	slow := b.Device("slow", Config{Frequency: 400_000})
	fast := b.Device("fast", Config{Frequency: 25_000_000})
	ctx := context.Background()

	require.NoError(t, slow.Transfer(ctx, []byte{1}, nil))
	require.NoError(t, fast.Transfer(ctx, []byte{2}, nil))
	require.NoError(t, slow.Transfer(ctx, []byte{3}, nil))

	require.Equal(t, uint32(400_000), tr.events[0].freq)
	require.Equal(t, uint32(25_000_000), tr.events[2].freq)
	require.Equal(t, uint32(400_000), tr.events[4].freq)
}

// TestDevice_SetConfigTakesEffectNextTransaction covers the
// negotiation-to-operating rate switch on a live handle.
func TestDevice_SetConfigTakesEffectNextTransaction(t *testing.T) {
	b, tr := setupBus(t)
	dev := b.Device("card", DefaultNegotiationConfig)
	ctx := context.Background()

	require.NoError(t, dev.Transfer(ctx, []byte{1}, nil))
	dev.SetConfig(DefaultOperatingConfig)
	require.NoError(t, dev.Transfer(ctx, []byte{2}, nil))

	require.Equal(t, DefaultNegotiationConfig.Frequency, tr.events[0].freq)
	require.Equal(t, DefaultOperatingConfig.Frequency, tr.events[2].freq)
	require.Equal(t, DefaultOperatingConfig, dev.Config())
}

// failingTransport returns fixed errors so pass-through can be checked.
type failingTransport struct {
	configureErr error
	transferErr  error
}

func (tr *failingTransport) Configure(cfg Config) error { return tr.configureErr }
func (tr *failingTransport) Transfer(ctx context.Context, tx, rx []byte) error {
	return tr.transferErr
}

// TestDevice_ErrorsPassThrough verifies the arbiter neither retries nor
// wraps: transport errors come back unchanged.
func TestDevice_ErrorsPassThrough(t *testing.T) {
	cfgErr := errors.New("clock out of range")
	xferErr := errors.New("bus fault")
	ctx := context.Background()

	b := New(&failingTransport{configureErr: cfgErr}, zap.NewNop(), nil)
	dev := b.Device("card", DefaultNegotiationConfig)
	require.Equal(t, cfgErr, dev.Transfer(ctx, []byte{1}, nil))

	b = New(&failingTransport{transferErr: xferErr}, zap.NewNop(), nil)
	dev = b.Device("card", DefaultNegotiationConfig)
	require.Equal(t, xferErr, dev.Transfer(ctx, []byte{1}, nil))
}

// TestDevice_CancelledContextSkipsTransport verifies a cancellation observed
// after the lock wait returns without touching the transport.
func TestDevice_CancelledContextSkipsTransport(t *testing.T) {
	b, tr := setupBus(t)
	dev := b.Device("card", DefaultNegotiationConfig)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := dev.Transfer(ctx, []byte{1}, nil)
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, tr.events)
}
