// internal/model/channel.go
package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ChannelID identifies one PSU output
type ChannelID int

const (
	MinChannel ChannelID = 1
	MaxChannel ChannelID = 4
)

// Validate checks that the channel exists on a four-output supply
func (c ChannelID) Validate() error {
	if c < MinChannel || c > MaxChannel {
		return fmt.Errorf("channel %d out of range %d-%d", c, MinChannel, MaxChannel)
	}
	return nil
}

// ChannelPlan describes what a sequence step does to one output.
// It is one of Passthrough, Protected or Disable.
type ChannelPlan interface {
	Target() ChannelID
	OutputEnabled() bool
	Validate() error
	isChannelPlan()
}

// Passthrough sets a voltage and enables the output without fuse setup
type Passthrough struct {
	Channel ChannelID       `json:"channel"`
	Voltage decimal.Decimal `json:"voltage"`
}

// Protected configures electronic fuse protection before enabling the output
type Protected struct {
	Channel   ChannelID       `json:"channel"`
	Voltage   decimal.Decimal `json:"voltage"`
	Current   decimal.Decimal `json:"current"`
	FuseLinks []ChannelID     `json:"fuse_links"`
	FuseDelay time.Duration   `json:"fuse_delay"`
}

// Disable switches the output off
type Disable struct {
	Channel ChannelID `json:"channel"`
}

func (p Passthrough) Target() ChannelID { return p.Channel }
func (p Protected) Target() ChannelID   { return p.Channel }
func (p Disable) Target() ChannelID     { return p.Channel }

func (Passthrough) OutputEnabled() bool { return true }
func (Protected) OutputEnabled() bool   { return true }
func (Disable) OutputEnabled() bool     { return false }

func (Passthrough) isChannelPlan() {}
func (Protected) isChannelPlan()   {}
func (Disable) isChannelPlan()     {}

func (p Passthrough) Validate() error {
	if err := p.Channel.Validate(); err != nil {
		return err
	}
	if p.Voltage.IsNegative() {
		return fmt.Errorf("channel %d: negative voltage %s", p.Channel, p.Voltage)
	}
	return nil
}

func (p Protected) Validate() error {
	if err := p.Channel.Validate(); err != nil {
		return err
	}
	if p.Voltage.IsNegative() {
		return fmt.Errorf("channel %d: negative voltage %s", p.Channel, p.Voltage)
	}
	if p.Current.IsNegative() {
		return fmt.Errorf("channel %d: negative current %s", p.Channel, p.Current)
	}
	if p.FuseDelay < 0 {
		return fmt.Errorf("channel %d: negative fuse delay %v", p.Channel, p.FuseDelay)
	}

	seen := make(map[ChannelID]bool, len(p.FuseLinks))
	for _, link := range p.FuseLinks {
		if err := link.Validate(); err != nil {
			return fmt.Errorf("channel %d fuse link: %w", p.Channel, err)
		}
		if link == p.Channel {
			return fmt.Errorf("channel %d: fuse linked to itself", p.Channel)
		}
		if seen[link] {
			return fmt.Errorf("channel %d: duplicate fuse link %d", p.Channel, link)
		}
		seen[link] = true
	}
	return nil
}

func (p Disable) Validate() error {
	return p.Channel.Validate()
}
