// Package backtest provides the rule-strategy processor factory and a
// fixed-stake backtest runner over historical betting recommendations.
package backtest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Recommendation is one historical bet recommendation with its known
// outcome. Odds are decimal odds.
type Recommendation struct {
	GameID     string    `json:"game_id"`
	Market     string    `json:"market"`
	Selection  string    `json:"selection"`
	Confidence float64   `json:"confidence"`
	Odds       float64   `json:"odds"`
	Won        bool      `json:"won"`
	GameDate   time.Time `json:"game_date"`
}

// Processor produces betting recommendations with confidence scores for a
// date range. Implementations wrap rule engines, model inference, or
// historical replays; the runner treats them uniformly.
type Processor interface {
	Recommendations(ctx context.Context, start, end time.Time) ([]Recommendation, error)
}

// BuilderFunc constructs a processor from free-form rule parameters.
type BuilderFunc func(params map[string]any) (Processor, error)

// Factory resolves processor-type names to builders through a closed
// registration map assembled at startup. Unknown types are an error, never
// a silent fallthrough.
type Factory struct {
	logger   *zap.Logger
	mu       sync.RWMutex
	builders map[string]BuilderFunc
}

// NewFactory creates an empty processor factory.
func NewFactory(logger *zap.Logger) *Factory {
	return &Factory{
		logger:   logger.Named("backtest.factory"),
		builders: make(map[string]BuilderFunc),
	}
}

// Register adds a builder for a processor type. Registering a duplicate
// type replaces the previous builder.
func (f *Factory) Register(processorType string, builder BuilderFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builders[processorType] = builder
	f.logger.Debug("Processor type registered", zap.String("type", processorType))
}

// Create builds a processor for the given type.
func (f *Factory) Create(processorType string, params map[string]any) (Processor, error) {
	f.mu.RLock()
	builder, ok := f.builders[processorType]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown processor type %q", processorType)
	}
	proc, err := builder(params)
	if err != nil {
		return nil, fmt.Errorf("build processor %q: %w", processorType, err)
	}
	return proc, nil
}

// Types returns the registered processor type names, sorted.
func (f *Factory) Types() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	names := make([]string, 0, len(f.builders))
	for name := range f.builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
