package model

import (
	"fmt"
	"time"
)

// Sequence is an ordered list of channel steps applied after the identity check
type Sequence struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Steps       []ChannelPlan `json:"steps"`
	// FinalSettle is waited once after the last step.
	FinalSettle time.Duration `json:"final_settle"`
}

// Validate checks every step of the sequence
func (s Sequence) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("sequence name is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("sequence %s has no steps", s.Name)
	}
	for i, step := range s.Steps {
		if step == nil {
			return fmt.Errorf("sequence %s step %d is empty", s.Name, i+1)
		}
		if err := step.Validate(); err != nil {
			return fmt.Errorf("sequence %s step %d: %w", s.Name, i+1, err)
		}
	}
	if s.FinalSettle < 0 {
		return fmt.Errorf("sequence %s: negative final settle", s.Name)
	}
	return nil
}
