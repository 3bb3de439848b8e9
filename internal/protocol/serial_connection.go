// internal/protocol/serial_connection.go
package protocol

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/jacobsa/go-serial/serial"
	"go.uber.org/zap"
)

// PortOpener opens the underlying serial device
type PortOpener func(options serial.OpenOptions) (io.ReadWriteCloser, error)

// SerialConnection implements DeviceProtocol for serial connections
type SerialConnection struct {
	config *SerialConfig
	open   PortOpener
	port   io.ReadWriteCloser
	reader *bufio.Reader
	logger *zap.Logger
	mutex  sync.Mutex
	isOpen bool
	stats  ProtocolStats
}

// NewSerialConnection creates a new serial connection backed by the system port
func NewSerialConnection(config *SerialConfig, logger *zap.Logger) DeviceProtocol {
	return NewSerialConnectionWithOpener(config, serial.Open, logger)
}

// NewSerialConnectionWithOpener creates a serial connection with a custom port opener
func NewSerialConnectionWithOpener(config *SerialConfig, opener PortOpener, logger *zap.Logger) *SerialConnection {
	return &SerialConnection{
		config: config,
		open:   opener,
		logger: logger.With(
			zap.String("protocol", "serial"),
			zap.String("port", config.Port),
		),
	}
}

// openOptions translates the configuration into driver options.
// RTS/CTS is always on: without it the PSU drops commands silently.
func (sc *SerialConnection) openOptions() (serial.OpenOptions, error) {
	options := serial.OpenOptions{
		PortName:              sc.config.Port,
		BaudRate:              uint(sc.config.BaudRate),
		DataBits:              uint(sc.config.DataBits),
		StopBits:              uint(sc.config.StopBits),
		RTSCTSFlowControl:     true,
		InterCharacterTimeout: uint(sc.config.InterCharTimeout.Milliseconds()),
		MinimumReadSize:       1,
	}

	switch sc.config.Parity {
	case "none", "":
		options.ParityMode = serial.PARITY_NONE
	case "odd":
		options.ParityMode = serial.PARITY_ODD
	case "even":
		options.ParityMode = serial.PARITY_EVEN
	default:
		return options, fmt.Errorf("unsupported parity: %s", sc.config.Parity)
	}

	return options, nil
}

// Open opens the serial connection
func (sc *SerialConnection) Open(ctx context.Context) error {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()

	if sc.isOpen {
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	options, err := sc.openOptions()
	if err != nil {
		return err
	}

	sc.logger.Info("Opening serial port",
		zap.Int("baud_rate", sc.config.BaudRate),
		zap.Bool("rts_cts", options.RTSCTSFlowControl),
	)

	port, err := sc.open(options)
	if err != nil {
		sc.logger.Error("Failed to open serial port", zap.Error(err))
		return fmt.Errorf("failed to open serial port %s: %w", sc.config.Port, err)
	}

	sc.port = port
	sc.reader = bufio.NewReader(port)
	sc.isOpen = true
	sc.stats.IsConnected = true
	sc.stats.LastActivity = time.Now()

	sc.logger.Info("Serial port opened successfully")
	return nil
}

// Close closes the serial connection
func (sc *SerialConnection) Close() error {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()

	return sc.closeLocked()
}

// closeLocked closes the port; callers hold sc.mutex
func (sc *SerialConnection) closeLocked() error {
	if !sc.isOpen || sc.port == nil {
		return nil
	}

	err := sc.port.Close()
	sc.port = nil
	sc.reader = nil
	sc.isOpen = false
	sc.stats.IsConnected = false

	if err != nil {
		sc.logger.Error("Failed to close serial port", zap.Error(err))
		return fmt.Errorf("failed to close serial port: %w", err)
	}

	sc.logger.Info("Serial port closed",
		zap.Int64("bytes_written", sc.stats.BytesWritten),
		zap.Int64("bytes_read", sc.stats.BytesRead),
		zap.Int64("operations", sc.stats.OperationCount),
		zap.Int64("errors", sc.stats.ErrorCount),
	)
	return nil
}

// IsOpen returns whether the connection is open
func (sc *SerialConnection) IsOpen() bool {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()
	return sc.isOpen && sc.port != nil
}

// Write writes data to the serial port
func (sc *SerialConnection) Write(ctx context.Context, data []byte) error {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()

	if !sc.isOpen || sc.port == nil {
		return fmt.Errorf("serial port not open")
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	startTime := time.Now()
	n, err := sc.port.Write(data)
	if err != nil {
		sc.stats.ErrorCount++
		sc.logger.Error("Serial write failed", zap.Error(err))
		return fmt.Errorf("failed to write to serial port: %w", err)
	}

	if n != len(data) {
		sc.stats.ErrorCount++
		return fmt.Errorf("incomplete write: wrote %d of %d bytes", n, len(data))
	}

	sc.stats.BytesWritten += int64(n)
	sc.stats.OperationCount++
	sc.stats.LastActivity = time.Now()
	sc.updateAverageLatency(time.Since(startTime))

	sc.logger.Debug("Serial write completed", zap.Int("bytes", n))
	return nil
}

// ReadLine reads one newline-terminated response and strips the line ending.
// The read itself cannot be interrupted, so a cancelled ctx closes the port:
// the abandoned read keeps the buffered reader and the session is over.
func (sc *SerialConnection) ReadLine(ctx context.Context) (string, error) {
	sc.mutex.Lock()
	if !sc.isOpen || sc.reader == nil {
		sc.mutex.Unlock()
		return "", fmt.Errorf("serial port not open")
	}
	reader := sc.reader
	sc.mutex.Unlock()

	type result struct {
		line string
		err  error
	}
	done := make(chan result, 1)

	go func() {
		line, err := reader.ReadString('\n')
		done <- result{line: line, err: err}
	}()

	select {
	case res := <-done:
		sc.mutex.Lock()
		defer sc.mutex.Unlock()

		if res.err != nil && !(res.err == io.EOF && res.line != "") {
			sc.stats.ErrorCount++
			return "", fmt.Errorf("failed to read from serial port: %w", res.err)
		}

		sc.stats.BytesRead += int64(len(res.line))
		sc.stats.OperationCount++
		sc.stats.LastActivity = time.Now()

		return strings.TrimRight(res.line, "\r\n"), nil

	case <-ctx.Done():
		sc.mutex.Lock()
		defer sc.mutex.Unlock()

		sc.logger.Warn("Read abandoned, closing serial port", zap.Error(ctx.Err()))
		_ = sc.closeLocked()
		return "", ctx.Err()
	}
}

// Stats returns a snapshot of the connection statistics
func (sc *SerialConnection) Stats() ProtocolStats {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()
	return sc.stats
}

// updateAverageLatency updates the running average latency
func (sc *SerialConnection) updateAverageLatency(newLatency time.Duration) {
	if sc.stats.AverageLatency == 0 {
		sc.stats.AverageLatency = newLatency
	} else {
		sc.stats.AverageLatency = (sc.stats.AverageLatency + newLatency) / 2
	}
}
