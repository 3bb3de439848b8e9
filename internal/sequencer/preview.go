package sequencer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"psu-sequencer/internal/driver/hameg"
	"psu-sequencer/internal/model"
	"psu-sequencer/internal/protocol/memory"
)

// PreviewStep is one line of a sequence preview
type PreviewStep struct {
	Command string        `json:"command,omitempty"`
	Wait    time.Duration `json:"wait,omitempty"`
}

func (s PreviewStep) String() string {
	if s.Command != "" {
		return s.Command
	}
	return fmt.Sprintf("# wait %v", s.Wait)
}

// Preview runs seq against an in-memory link and returns the exact lines
// and waits a real run would produce, starting with the identity query.
func Preview(seq model.Sequence, config hameg.Config) ([]PreviewStep, error) {
	if config.VendorMarker == "" {
		config.VendorMarker = "HAMEG"
	}

	link := memory.New(config.VendorMarker + ",preview")
	ctx := context.Background()
	if err := link.Open(ctx); err != nil {
		return nil, err
	}
	defer link.Close()

	psu := hameg.NewHAMEGDriver(link, config, link, zap.NewNop(), "preview")
	if _, err := NewRunner(psu, link, zap.NewNop()).Run(ctx, seq); err != nil {
		return nil, err
	}

	events := link.Events()
	steps := make([]PreviewStep, 0, len(events))
	for _, e := range events {
		steps = append(steps, PreviewStep{Command: e.Command, Wait: e.Sleep})
	}
	return steps, nil
}
