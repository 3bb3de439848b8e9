package protocol

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/jacobsa/go-serial/serial"
	"go.uber.org/zap"
)

type fakePort struct {
	io.Reader
	written bytes.Buffer
	closed  bool
	onClose func()
}

func (p *fakePort) Write(b []byte) (int, error) { return p.written.Write(b) }

func (p *fakePort) Close() error {
	p.closed = true
	if p.onClose != nil {
		p.onClose()
	}
	return nil
}

func testConfig() *SerialConfig {
	return &SerialConfig{Port: "/dev/ttyTEST0", BaudRate: 9600, DataBits: 8, StopBits: 1, Parity: "none"}
}

func TestOpenForcesHardwareFlowControl(t *testing.T) {
	var got serial.OpenOptions
	port := &fakePort{Reader: strings.NewReader("")}
	conn := NewSerialConnectionWithOpener(testConfig(), func(o serial.OpenOptions) (io.ReadWriteCloser, error) {
		got = o
		return port, nil
	}, zap.NewNop())

	if err := conn.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer conn.Close()

	if !got.RTSCTSFlowControl {
		t.Error("RTS/CTS flow control must be enabled")
	}
	if got.PortName != "/dev/ttyTEST0" || got.BaudRate != 9600 || got.DataBits != 8 || got.StopBits != 1 {
		t.Errorf("unexpected options: %+v", got)
	}
	if got.ParityMode != serial.PARITY_NONE {
		t.Errorf("parity = %v, want none", got.ParityMode)
	}
	if got.MinimumReadSize != 1 {
		t.Errorf("minimum read size = %d, want 1", got.MinimumReadSize)
	}
}

func TestOpenFailureIsWrapped(t *testing.T) {
	cause := errors.New("no such device")
	conn := NewSerialConnectionWithOpener(testConfig(), func(serial.OpenOptions) (io.ReadWriteCloser, error) {
		return nil, cause
	}, zap.NewNop())

	err := conn.Open(context.Background())
	if !errors.Is(err, cause) {
		t.Fatalf("Open error = %v, want wrapped %v", err, cause)
	}
	if conn.IsOpen() {
		t.Fatal("connection reported open after failure")
	}
}

func TestWriteAndReadLine(t *testing.T) {
	port := &fakePort{Reader: strings.NewReader("HAMEG,HMP4040,012345,HW50020001/SW2.51\r\n")}
	conn := NewSerialConnectionWithOpener(testConfig(), func(serial.OpenOptions) (io.ReadWriteCloser, error) {
		return port, nil
	}, zap.NewNop())

	ctx := context.Background()
	if err := conn.Write(ctx, []byte("*IDN?\n")); err == nil {
		t.Fatal("write before open should fail")
	}
	if err := conn.Open(ctx); err != nil {
		t.Fatal(err)
	}
	if err := conn.Write(ctx, []byte("*IDN?\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	line, err := conn.ReadLine(ctx)
	if err != nil {
		t.Fatalf("ReadLine: %v", err)
	}
	if line != "HAMEG,HMP4040,012345,HW50020001/SW2.51" {
		t.Errorf("line = %q", line)
	}
	if port.written.String() != "*IDN?\n" {
		t.Errorf("written = %q", port.written.String())
	}

	stats := conn.Stats()
	if stats.BytesWritten != 6 || stats.OperationCount != 2 || !stats.IsConnected {
		t.Errorf("stats = %+v", stats)
	}

	if err := conn.Close(); err != nil {
		t.Fatal(err)
	}
	if !port.closed || conn.IsOpen() {
		t.Error("port not closed")
	}
}

func TestReadLineUnterminatedAtEOF(t *testing.T) {
	port := &fakePort{Reader: strings.NewReader("HAMEG")}
	conn := NewSerialConnectionWithOpener(testConfig(), func(serial.OpenOptions) (io.ReadWriteCloser, error) {
		return port, nil
	}, zap.NewNop())
	if err := conn.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	line, err := conn.ReadLine(context.Background())
	if err != nil || line != "HAMEG" {
		t.Fatalf("ReadLine = %q, %v", line, err)
	}
	if _, err := conn.ReadLine(context.Background()); err == nil {
		t.Fatal("expected error on empty EOF")
	}
}

func TestReadLineHonoursContext(t *testing.T) {
	pr, pw := io.Pipe()
	port := &fakePort{Reader: pr, onClose: func() { pw.Close() }}
	conn := NewSerialConnectionWithOpener(testConfig(), func(serial.OpenOptions) (io.ReadWriteCloser, error) {
		return port, nil
	}, zap.NewNop())
	if err := conn.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := conn.ReadLine(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("ReadLine error = %v, want deadline exceeded", err)
	}

	// The abandoned read still owns the reader; the session must be over.
	if conn.IsOpen() || !port.closed {
		t.Fatal("port left open after abandoned read")
	}
	if _, err := conn.ReadLine(context.Background()); err == nil || !strings.Contains(err.Error(), "not open") {
		t.Fatalf("second ReadLine error = %v, want not open", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("Close after abandoned read: %v", err)
	}
}

func TestUnsupportedParity(t *testing.T) {
	cfg := testConfig()
	cfg.Parity = "mark"
	conn := NewSerialConnectionWithOpener(cfg, func(serial.OpenOptions) (io.ReadWriteCloser, error) {
		t.Fatal("opener must not be called")
		return nil, nil
	}, zap.NewNop())
	if err := conn.Open(context.Background()); err == nil {
		t.Fatal("expected parity error")
	}
}
