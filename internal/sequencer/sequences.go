package sequencer

import (
	"time"

	"github.com/shopspring/decimal"

	"psu-sequencer/internal/model"
)

// Sequence names
const (
	PowerOnName  = "poweron"
	PowerOffName = "poweroff"
)

func volts(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// PowerOn arms channels 2 and 4 at 0 V, then brings up 1 (5 V) and 3 (3 V)
// with their fuses linked to every other output.
func PowerOn() model.Sequence {
	return model.Sequence{
		Name:        PowerOnName,
		Description: "Arm CH2/CH4 at 0 V, enable CH1 at 5.0 V/1.0 A and CH3 at 3.0 V/0.05 A with linked fuses",
		Steps: []model.ChannelPlan{
			model.Passthrough{Channel: 2, Voltage: volts("0.0")},
			model.Passthrough{Channel: 4, Voltage: volts("0.0")},
			model.Protected{
				Channel:   1,
				Voltage:   volts("5.0"),
				Current:   volts("1.0"),
				FuseLinks: []model.ChannelID{2, 3, 4},
				FuseDelay: 100 * time.Millisecond,
			},
			model.Protected{
				Channel:   3,
				Voltage:   volts("3.0"),
				Current:   volts("0.05"),
				FuseLinks: []model.ChannelID{1, 2, 4},
				FuseDelay: 200 * time.Millisecond,
			},
		},
	}
}

// PowerOff re-arms channels 2 and 4 at 0 V with fuses linked to 1 and 3,
// then switches 1 and 3 off.
func PowerOff() model.Sequence {
	armed := func(ch model.ChannelID) model.Protected {
		return model.Protected{
			Channel:   ch,
			Voltage:   volts("0.0"),
			Current:   volts("0.15"),
			FuseLinks: []model.ChannelID{1, 3},
			FuseDelay: 100 * time.Millisecond,
		}
	}

	return model.Sequence{
		Name:        PowerOffName,
		Description: "Arm CH2/CH4 at 0 V/0.15 A, disable CH1 and CH3",
		Steps: []model.ChannelPlan{
			armed(2),
			armed(4),
			model.Disable{Channel: 1},
			model.Disable{Channel: 3},
		},
		FinalSettle: time.Second,
	}
}
