package rl

import (
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// factory builds a fresh Algorithm instance for a registered name.
type factory func(logger *zap.Logger) Algorithm

// Engine is the RL policy surface the orchestrator (C8) drives: predict,
// record, train, and swap algorithms by name without the caller needing to
// know which implementation currently backs it.
type Engine struct {
	mu        sync.RWMutex
	name      string
	algorithm Algorithm
	registry  map[string]factory
	logger    *zap.Logger
}

// NewEngine builds an Engine with the reference tabular Q-learning
// algorithm registered and active under the name "q_learning", per §4.7.
func NewEngine(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		registry: map[string]factory{
			"q_learning": func(l *zap.Logger) Algorithm { return newQLearning(l) },
		},
		logger: logger.Named("rl"),
	}
	e.name = "q_learning"
	e.algorithm = e.registry[e.name](e.logger)
	return e
}

// RegisterAlgorithm adds a new named algorithm factory to the registry.
// Intended for callers embedding alternative policies; the reference
// implementation only registers "q_learning".
func (e *Engine) RegisterAlgorithm(name string, f factory) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.registry[name] = f
}

// SetAlgorithm swaps the active algorithm by name, starting it fresh. The
// name must already be registered.
func (e *Engine) SetAlgorithm(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	f, ok := e.registry[name]
	if !ok {
		return fmt.Errorf("rl: unknown algorithm %q", name)
	}
	e.name = name
	e.algorithm = f(e.logger)
	return nil
}

// AlgorithmName returns the active algorithm's registered name.
func (e *Engine) AlgorithmName() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.name
}

// Predict asks the active algorithm for an action given a state.
func (e *Engine) Predict(s State) Action {
	e.mu.RLock()
	alg := e.algorithm
	e.mu.RUnlock()
	return alg.Predict(s)
}

// Record stores an experience with the active algorithm.
func (e *Engine) Record(exp Experience) {
	e.mu.RLock()
	alg := e.algorithm
	e.mu.RUnlock()
	alg.Record(exp)
}

// Train runs one batched update pass on the active algorithm, returning its
// loss (0 when the replay buffer is still below batch size).
func (e *Engine) Train() float64 {
	e.mu.RLock()
	alg := e.algorithm
	e.mu.RUnlock()
	return alg.Train()
}

// GetParams returns the active algorithm's tunables as JSON.
func (e *Engine) GetParams() (json.RawMessage, error) {
	e.mu.RLock()
	alg := e.algorithm
	e.mu.RUnlock()
	return alg.Params()
}

// SetParams applies a JSON-encoded partial/full set of tunables to the
// active algorithm.
func (e *Engine) SetParams(raw json.RawMessage) error {
	e.mu.RLock()
	alg := e.algorithm
	e.mu.RUnlock()
	return alg.SetParams(raw)
}

// Stats reports the active algorithm's learning-progress snapshot.
func (e *Engine) Stats() EngineStats {
	e.mu.RLock()
	alg := e.algorithm
	e.mu.RUnlock()
	return alg.Stats()
}
