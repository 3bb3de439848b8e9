package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"psu-sequencer/internal/config"
	"psu-sequencer/internal/discovery"
	"psu-sequencer/internal/protocol"
	"psu-sequencer/internal/protocol/memory"
	"psu-sequencer/internal/sequencer"
	"psu-sequencer/pkg/driver"
)

func testConfig() *config.Config {
	return &config.Config{
		Serial: config.SerialConfig{Port: "/dev/ttyTEST0", BaudRate: 9600, DataBits: 8, StopBits: 1, Parity: "none"},
		Device: config.DeviceConfig{VendorMarker: "HAMEG", SettleDelay: 500 * time.Millisecond},
	}
}

// links hands out a fresh memory link per connection and keeps them for inspection.
type links struct {
	identity string
	made     []*memory.Link
}

func (l *links) connect(cfg *protocol.SerialConfig, logger *zap.Logger) protocol.DeviceProtocol {
	link := memory.New(l.identity)
	l.made = append(l.made, link)
	return link
}

// clock forwards waits to the most recent link so they land in its event log.
func (l *links) Sleep(ctx context.Context, d time.Duration) error {
	return l.made[len(l.made)-1].Sleep(ctx, d)
}

type stubScanner struct {
	ports []*discovery.DiscoveredPort
}

func (s stubScanner) Scan(ctx context.Context) ([]*discovery.DiscoveredPort, error) {
	return s.ports, nil
}

func newTestService(identity string) (*PSUService, *links) {
	l := &links{identity: identity}
	svc := NewPSUService(testConfig(), sequencer.NewDefaultRegistry(zap.NewNop()), nil, l.connect, l, zap.NewNop())
	return svc, l
}

func TestRunSequence(t *testing.T) {
	svc, l := newTestService("HAMEG,HMP4040,103781,HW50020001/SW2.51")

	result, err := svc.RunSequence(context.Background(), sequencer.PowerOnName)
	if err != nil {
		t.Fatalf("RunSequence: %v", err)
	}
	if result.RunID == "" || result.Sequence != sequencer.PowerOnName || result.Steps != 4 {
		t.Fatalf("result = %+v", result)
	}
	if result.Device == nil || result.Device.SerialNumber != "103781" {
		t.Fatalf("device = %+v", result.Device)
	}

	if len(l.made) != 1 {
		t.Fatalf("connections = %d, want 1", len(l.made))
	}
	if opened, closed := l.made[0].OpenCloseCounts(); opened != 1 || closed != 1 {
		t.Fatalf("open/close = %d/%d, want 1/1", opened, closed)
	}
	if got := len(l.made[0].Commands()); got != 25 {
		t.Fatalf("commands = %d, want 25", got)
	}
}

func TestRunSequenceWrongDevice(t *testing.T) {
	svc, l := newTestService("ACME,PS-1")

	_, err := svc.RunSequence(context.Background(), sequencer.PowerOffName)
	var wrong *driver.WrongDeviceError
	if !errors.As(err, &wrong) {
		t.Fatalf("error = %v, want WrongDeviceError", err)
	}
	if wrong.Identity != "ACME,PS-1" {
		t.Errorf("identity = %q", wrong.Identity)
	}
	if _, closed := l.made[0].OpenCloseCounts(); closed != 1 {
		t.Error("link not closed after mismatch")
	}
}

func TestRunSequenceUnknown(t *testing.T) {
	svc, l := newTestService("HAMEG")

	if _, err := svc.RunSequence(context.Background(), "reboot"); !errors.Is(err, sequencer.ErrUnknownSequence) {
		t.Fatalf("error = %v", err)
	}
	if len(l.made) != 0 {
		t.Fatal("port opened for unknown sequence")
	}
}

func TestRunSequenceOpenFailure(t *testing.T) {
	cause := errors.New("no such device")
	connect := func(cfg *protocol.SerialConfig, logger *zap.Logger) protocol.DeviceProtocol {
		link := memory.New("HAMEG")
		link.OpenErr = cause
		return link
	}
	svc := NewPSUService(testConfig(), sequencer.NewDefaultRegistry(zap.NewNop()), nil, connect, nil, zap.NewNop())

	if _, err := svc.RunSequence(context.Background(), sequencer.PowerOnName); !errors.Is(err, cause) {
		t.Fatalf("error = %v", err)
	}
}

func TestIdentify(t *testing.T) {
	svc, l := newTestService("HAMEG,HMP2030,0,HW1/SW2")

	info, err := svc.Identify(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if info.Model != "HMP2030" {
		t.Fatalf("model = %q", info.Model)
	}
	if got := l.made[0].Commands(); len(got) != 1 || got[0] != "*IDN?" {
		t.Fatalf("commands = %q", got)
	}
}

func TestPreviewAndSequences(t *testing.T) {
	svc, l := newTestService("HAMEG")

	steps, err := svc.Preview(sequencer.PowerOffName)
	if err != nil {
		t.Fatal(err)
	}
	if len(steps) == 0 || steps[0].Command != "*IDN?" {
		t.Fatalf("preview = %v", steps)
	}
	if len(l.made) != 0 {
		t.Fatal("preview touched the serial port")
	}

	if got := svc.Sequences(); len(got) != 2 {
		t.Fatalf("sequences = %v", got)
	}
}

func TestListPorts(t *testing.T) {
	svc, _ := newTestService("HAMEG")
	if _, err := svc.ListPorts(context.Background()); err == nil {
		t.Fatal("expected error without scanner")
	}

	want := []*discovery.DiscoveredPort{{Name: "/dev/ttyUSB0", Confidence: 0.95}}
	svc.scanner = stubScanner{ports: want}
	got, err := svc.ListPorts(context.Background())
	if err != nil || len(got) != 1 || got[0].Name != "/dev/ttyUSB0" {
		t.Fatalf("ListPorts = %v, %v", got, err)
	}
}

func TestSilentPSUReleasesSession(t *testing.T) {
	silent := true
	connect := func(cfg *protocol.SerialConfig, logger *zap.Logger) protocol.DeviceProtocol {
		if silent {
			silent = false
			return &memory.Link{}
		}
		return memory.New("HAMEG,HMP4040,103781,HW50020001/SW2.51")
	}
	svc := NewPSUService(testConfig(), sequencer.NewDefaultRegistry(zap.NewNop()), nil, connect, nil, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := svc.RunSequenceToCompletion(ctx, sequencer.PowerOnName); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("run against silent PSU = %v, want deadline exceeded", err)
	}

	idCtx, idCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer idCancel()
	info, err := svc.Identify(idCtx)
	if err != nil {
		t.Fatalf("Identify after abandoned run: %v", err)
	}
	if info.Model != "HMP4040" {
		t.Fatalf("model = %q", info.Model)
	}
}

func TestWaitForSessionHonoursContext(t *testing.T) {
	opened := make(chan struct{})
	connect := func(cfg *protocol.SerialConfig, logger *zap.Logger) protocol.DeviceProtocol {
		close(opened)
		return &memory.Link{}
	}
	svc := NewPSUService(testConfig(), sequencer.NewDefaultRegistry(zap.NewNop()), nil, connect, nil, zap.NewNop())

	runCtx, stopRun := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := svc.RunSequence(runCtx, sequencer.PowerOffName)
		done <- err
	}()
	<-opened

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := svc.Identify(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Identify while busy = %v, want deadline exceeded", err)
	}

	stopRun()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("blocked run = %v, want canceled", err)
	}
}

func TestRunToCompletionIgnoresLateCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var link *memory.Link
	connect := func(cfg *protocol.SerialConfig, logger *zap.Logger) protocol.DeviceProtocol {
		link = memory.New("HAMEG,HMP4040,103781,HW50020001/SW2.51")
		return cancelAfterRead{Link: link, cancel: cancel}
	}
	svc := NewPSUService(testConfig(), sequencer.NewDefaultRegistry(zap.NewNop()), nil, connect, nil, zap.NewNop())
	svc.clock = clockFunc(func(ctx context.Context, d time.Duration) error { return link.Sleep(ctx, d) })

	result, err := svc.RunSequenceToCompletion(ctx, sequencer.PowerOnName)
	if err != nil {
		t.Fatalf("RunSequenceToCompletion: %v", err)
	}
	if result.Steps != 4 || len(link.Commands()) != 25 {
		t.Fatalf("steps = %d, commands = %d", result.Steps, len(link.Commands()))
	}
}

func TestWrongDeviceIsNotAnError(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	l := &links{identity: "ACME,PS-1"}
	svc := NewPSUService(testConfig(), sequencer.NewDefaultRegistry(zap.NewNop()), nil, l.connect, l, zap.New(core))

	if _, err := svc.RunSequence(context.Background(), sequencer.PowerOnName); !errors.Is(err, driver.ErrWrongDevice) {
		t.Fatalf("error = %v", err)
	}
	if n := logs.FilterLevelExact(zapcore.ErrorLevel).Len(); n != 0 {
		t.Fatalf("error entries = %d, want 0", n)
	}
	if logs.FilterMessage("Operation aborted").Len() != 1 {
		t.Fatal("aborted run not logged")
	}
}

// cancelAfterRead cancels the caller's context as soon as *IDN? is answered.
type cancelAfterRead struct {
	*memory.Link
	cancel context.CancelFunc
}

func (c cancelAfterRead) ReadLine(ctx context.Context) (string, error) {
	line, err := c.Link.ReadLine(ctx)
	c.cancel()
	return line, err
}

type clockFunc func(ctx context.Context, d time.Duration) error

func (f clockFunc) Sleep(ctx context.Context, d time.Duration) error { return f(ctx, d) }
