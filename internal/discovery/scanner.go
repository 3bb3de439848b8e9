// internal/discovery/scanner.go
package discovery

import "context"

// PortScanner lists candidate serial ports for the PSU
type PortScanner interface {
	Scan(ctx context.Context) ([]*DiscoveredPort, error)
}

// DiscoveredPort represents one serial port found on the host
type DiscoveredPort struct {
	Name         string  `json:"name"`
	IsUSB        bool    `json:"is_usb"`
	VID          string  `json:"vid,omitempty"`
	PID          string  `json:"pid,omitempty"`
	SerialNumber string  `json:"serial_number,omitempty"`
	Product      string  `json:"product,omitempty"`
	Interface    string  `json:"interface,omitempty"` // known HAMEG interface card, if recognised
	Confidence   float64 `json:"confidence"`          // 0.0-1.0
}
