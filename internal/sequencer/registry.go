// internal/sequencer/registry.go
package sequencer

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"psu-sequencer/internal/model"
)

// SequenceFactory builds a fresh sequence value for every run
type SequenceFactory func() model.Sequence

// Registry manages the named sequences a PSU can be driven through
type Registry struct {
	sequences map[string]SequenceFactory
	mu        sync.RWMutex
	logger    *zap.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		sequences: make(map[string]SequenceFactory),
		logger:    logger,
	}
}

// NewDefaultRegistry creates a registry holding the power-on and power-off flows
func NewDefaultRegistry(logger *zap.Logger) *Registry {
	r := NewRegistry(logger)
	r.Register(PowerOnName, PowerOn)
	r.Register(PowerOffName, PowerOff)
	return r
}

// Register registers a sequence factory under name
func (r *Registry) Register(name string, factory SequenceFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sequences[name] = factory
	r.logger.Debug("Sequence registered", zap.String("sequence", name))
}

// Get builds the named sequence
func (r *Registry) Get(name string) (model.Sequence, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, exists := r.sequences[name]
	if !exists {
		return model.Sequence{}, fmt.Errorf("%w: %s", ErrUnknownSequence, name)
	}
	return factory(), nil
}

// List returns all registered sequence names in sorted order
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.sequences))
	for name := range r.sequences {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
