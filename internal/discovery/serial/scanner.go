// internal/discovery/serial/scanner.go
package serial

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.bug.st/serial/enumerator"
	"go.uber.org/zap"

	"psu-sequencer/internal/discovery"
)

// PortLister returns the serial ports present on the host
type PortLister func() ([]*enumerator.PortDetails, error)

// ftdiVendor is the USB vendor of the HAMEG HO7xx/HO8xx interface cards.
const ftdiVendor = "0403"

// hamegInterfaces maps FTDI product IDs to HAMEG interface cards.
var hamegInterfaces = map[string]string{
	"ed71": "HO870",
	"ed72": "HO720",
	"ed73": "HO730",
	"ed74": "HO820",
}

// Scanner implements discovery.PortScanner over the OS port enumerator
type Scanner struct {
	logger *zap.Logger
	list   PortLister
	marker string
}

// NewScanner creates a scanner backed by go.bug.st/serial/enumerator
func NewScanner(logger *zap.Logger, vendorMarker string) *Scanner {
	return NewScannerWithLister(logger, vendorMarker, enumerator.GetDetailedPortsList)
}

// NewScannerWithLister creates a scanner with a custom port lister
func NewScannerWithLister(logger *zap.Logger, vendorMarker string, list PortLister) *Scanner {
	return &Scanner{
		logger: logger.With(zap.String("scanner", "serial")),
		list:   list,
		marker: strings.ToUpper(vendorMarker),
	}
}

// Scan lists serial ports, most likely PSU first
func (s *Scanner) Scan(ctx context.Context) ([]*discovery.DiscoveredPort, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	details, err := s.list()
	if err != nil {
		return nil, fmt.Errorf("failed to get serial ports: %w", err)
	}

	ports := make([]*discovery.DiscoveredPort, 0, len(details))
	for _, d := range details {
		if d == nil {
			continue
		}
		ports = append(ports, s.classify(d))
	}

	sort.SliceStable(ports, func(i, j int) bool {
		if ports[i].Confidence != ports[j].Confidence {
			return ports[i].Confidence > ports[j].Confidence
		}
		return ports[i].Name < ports[j].Name
	})

	s.logger.Info("Serial scan completed", zap.Int("ports_found", len(ports)))
	return ports, nil
}

// classify scores how likely a port leads to the PSU
func (s *Scanner) classify(d *enumerator.PortDetails) *discovery.DiscoveredPort {
	port := &discovery.DiscoveredPort{
		Name:         d.Name,
		IsUSB:        d.IsUSB,
		VID:          strings.ToLower(d.VID),
		PID:          strings.ToLower(d.PID),
		SerialNumber: d.SerialNumber,
		Product:      d.Product,
	}

	switch {
	case port.VID == ftdiVendor && hamegInterfaces[port.PID] != "":
		port.Interface = hamegInterfaces[port.PID]
		port.Confidence = 0.95
	case s.marker != "" && strings.Contains(strings.ToUpper(d.Product), s.marker):
		port.Confidence = 0.8
	case s.marker != "" && strings.Contains(strings.ToUpper(d.Name), s.marker):
		// udev symlinks such as /dev/ttyHAMEG0
		port.Confidence = 0.7
	case port.VID == ftdiVendor:
		port.Confidence = 0.3
	case d.IsUSB:
		port.Confidence = 0.1
	}

	return port
}
