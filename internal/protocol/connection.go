// internal/protocol/connection.go
package protocol

import (
	"time"

	"psu-sequencer/internal/config"
)

// SerialConfig represents serial connection configuration
type SerialConfig struct {
	Port             string        `json:"port"`
	BaudRate         int           `json:"baud_rate"`
	DataBits         int           `json:"data_bits"`
	StopBits         int           `json:"stop_bits"`
	Parity           string        `json:"parity"`
	InterCharTimeout time.Duration `json:"inter_char_timeout"`
}

// NewSerialConfig copies the application serial settings
func NewSerialConfig(cfg *config.SerialConfig) *SerialConfig {
	return &SerialConfig{
		Port:             cfg.Port,
		BaudRate:         cfg.BaudRate,
		DataBits:         cfg.DataBits,
		StopBits:         cfg.StopBits,
		Parity:           cfg.Parity,
		InterCharTimeout: cfg.InterCharTimeout,
	}
}
