package hameg

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"psu-sequencer/internal/model"
	"psu-sequencer/internal/protocol/memory"
	"psu-sequencer/pkg/driver"
)

func newTestDriver(t *testing.T, identity string) (*HAMEGDriver, *memory.Link) {
	t.Helper()
	link := memory.New(identity)
	if err := link.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	d := NewHAMEGDriver(link, Config{}, link, zap.NewNop(), "/dev/ttyTEST0")
	return d, link
}

func TestIdentify(t *testing.T) {
	d, link := newTestDriver(t, "HAMEG,HMP4040,103781,HW50020001/SW2.51")

	info, err := d.Identify(context.Background())
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if info.Model != "HMP4040" || info.Raw != "HAMEG,HMP4040,103781,HW50020001/SW2.51" {
		t.Errorf("info = %+v", info)
	}
	if got := link.Commands(); !reflect.DeepEqual(got, []string{"*IDN?"}) {
		t.Errorf("commands = %v", got)
	}
}

func TestIdentifyWrongDevice(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	link := memory.New("UNKNOWN,1234")
	if err := link.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	d := NewHAMEGDriver(link, Config{}, link, zap.New(core), "/dev/ttyTEST0")

	_, err := d.Identify(context.Background())
	if !errors.Is(err, driver.ErrWrongDevice) {
		t.Fatalf("Identify error = %v, want ErrWrongDevice", err)
	}
	var wrong *driver.WrongDeviceError
	if !errors.As(err, &wrong) || wrong.Identity != "UNKNOWN,1234" || wrong.Expected != "HAMEG" {
		t.Fatalf("unexpected error detail: %#v", err)
	}
	if logs.FilterMessage("Wrong device").Len() != 1 {
		t.Error("mismatch was not logged")
	}
	if n := logs.FilterLevelExact(zapcore.ErrorLevel).Len(); n != 0 {
		t.Errorf("mismatch logged %d error entries, want warn only", n)
	}
}

func TestIdentifyTimeout(t *testing.T) {
	link := &memory.Link{}
	if err := link.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	d := NewHAMEGDriver(link, Config{IdentifyTimeout: 10 * time.Millisecond}, link, zap.NewNop(), "")

	_, err := d.Identify(context.Background())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Identify error = %v, want deadline exceeded", err)
	}
}

func TestConfigureChannelSettlesBeforeOutputOn(t *testing.T) {
	d, link := newTestDriver(t, "")

	err := d.ConfigureChannel(context.Background(), model.Protected{
		Channel:   1,
		Voltage:   decimal.NewFromFloat(5.0),
		Current:   decimal.NewFromFloat(1.0),
		FuseLinks: []model.ChannelID{2, 3, 4},
		FuseDelay: 100 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("ConfigureChannel: %v", err)
	}

	want := []memory.Event{
		{Command: "INST OUT1"},
		{Command: "FUSE:LINK 2"},
		{Command: "FUSE:LINK 3"},
		{Command: "FUSE:LINK 4"},
		{Command: "FUSE:DEL 100"},
		{Command: "FUSE on"},
		{Command: "SOUR:VOLT 5.0"},
		{Command: "SOUR:CURR 1.0"},
		{Sleep: 500 * time.Millisecond},
		{Command: "OUTP ON"},
	}
	if got := link.Events(); !reflect.DeepEqual(got, want) {
		t.Fatalf("events:\n got %v\nwant %v", got, want)
	}
}

func TestApplyVariants(t *testing.T) {
	tests := []struct {
		name string
		plan model.ChannelPlan
		want []string
	}{
		{
			name: "passthrough",
			plan: model.Passthrough{Channel: 2, Voltage: decimal.Zero},
			want: []string{"INST OUT2", "SOUR:VOLT 0.0", "OUTP ON"},
		},
		{
			name: "disable",
			plan: model.Disable{Channel: 3},
			want: []string{"INST OUT3", "OUTP OFF"},
		},
		{
			name: "protected",
			plan: model.Protected{
				Channel:   4,
				Voltage:   decimal.Zero,
				Current:   decimal.RequireFromString("0.15"),
				FuseLinks: []model.ChannelID{1, 3},
				FuseDelay: 100 * time.Millisecond,
			},
			want: []string{"INST OUT4", "FUSE:LINK 1", "FUSE:LINK 3", "FUSE:DEL 100", "FUSE on",
				"SOUR:VOLT 0.0", "SOUR:CURR 0.15", "OUTP ON"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, link := newTestDriver(t, "")
			if err := d.Apply(context.Background(), tt.plan); err != nil {
				t.Fatalf("Apply: %v", err)
			}
			if got := link.Commands(); !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("commands:\n got %v\nwant %v", got, tt.want)
			}
		})
	}
}

func TestDisableHasNoSettle(t *testing.T) {
	d, link := newTestDriver(t, "")
	if err := d.DisableChannel(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	for _, e := range link.Events() {
		if e.Sleep != 0 {
			t.Fatalf("unexpected wait %v when disabling", e.Sleep)
		}
	}
}

func TestApplyRejectsInvalidPlan(t *testing.T) {
	d, link := newTestDriver(t, "")

	invalid := []model.ChannelPlan{
		nil,
		model.Disable{Channel: 5},
		model.Passthrough{Channel: 1, Voltage: decimal.NewFromInt(-1)},
		model.Protected{Channel: 1, FuseLinks: []model.ChannelID{1}},
	}
	for _, plan := range invalid {
		if err := d.Apply(context.Background(), plan); err == nil {
			t.Errorf("Apply(%#v) succeeded", plan)
		}
	}
	if got := link.Commands(); len(got) != 0 {
		t.Fatalf("invalid plans sent commands: %v", got)
	}
}

func TestWriteFailureStopsChannel(t *testing.T) {
	d, link := newTestDriver(t, "")
	link.FailWriteAt = 2

	err := d.EnableChannelPassthrough(context.Background(), model.Passthrough{Channel: 2, Voltage: decimal.Zero})
	if !errors.Is(err, memory.ErrInjected) {
		t.Fatalf("error = %v, want injected failure", err)
	}
	if got := link.Commands(); !reflect.DeepEqual(got, []string{"INST OUT2"}) {
		t.Fatalf("commands after failure = %v", got)
	}
}

func TestSettleHonoursCancellation(t *testing.T) {
	d, link := newTestDriver(t, "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := d.ConfigureChannel(ctx, model.Protected{Channel: 1, Voltage: decimal.Zero, Current: decimal.Zero})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want canceled", err)
	}
	if len(link.Commands()) != 0 {
		t.Fatalf("commands sent after cancellation: %v", link.Commands())
	}
}
