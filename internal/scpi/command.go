// Package scpi builds the SCPI command lines understood by HAMEG HMP supplies.
package scpi

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"psu-sequencer/internal/model"
)

// Terminator ends every command line on the wire.
const Terminator = "\n"

// Command is one SCPI line without its terminator.
type Command string

// Line returns the bytes written to the device.
func (c Command) Line() []byte {
	return []byte(string(c) + Terminator)
}

func (c Command) String() string {
	return string(c)
}

// Fixed commands.
const (
	Identify  Command = "*IDN?"
	FuseOn    Command = "FUSE on"
	OutputOn  Command = "OUTP ON"
	OutputOff Command = "OUTP OFF"
)

// SelectInstrument makes ch the target of following commands.
func SelectInstrument(ch model.ChannelID) Command {
	return Command(fmt.Sprintf("INST OUT%d", ch))
}

// FuseLink links the fuse of the selected channel to ch.
func FuseLink(ch model.ChannelID) Command {
	return Command(fmt.Sprintf("FUSE:LINK %d", ch))
}

// FuseDelay sets the fuse trip delay in whole milliseconds.
func FuseDelay(d time.Duration) Command {
	return Command(fmt.Sprintf("FUSE:DEL %d", d.Milliseconds()))
}

// SourceVoltage sets the output voltage of the selected channel.
func SourceVoltage(v decimal.Decimal) Command {
	return Command("SOUR:VOLT " + FormatValue(v))
}

// SourceCurrent sets the current limit of the selected channel.
func SourceCurrent(a decimal.Decimal) Command {
	return Command("SOUR:CURR " + FormatValue(a))
}

// FormatValue renders a setpoint with at least one fractional digit and
// no trailing zeros beyond that: 0 -> "0.0", 0.050 -> "0.05".
func FormatValue(v decimal.Decimal) string {
	if v.Equal(v.Truncate(0)) {
		return v.Truncate(0).StringFixed(1)
	}
	return v.String()
}
