package settlement

import (
	"sync"

	"github.com/game-lobby/internal/game"
)

// Input is everything an evaluator may look at. Evaluation must be a pure function of it
// so that a recorded history can be replayed to the same result.
type Input struct {
	GameID     string
	Type       game.Type
	Config     game.Config
	Players    []string
	Final      game.State
	History    []game.Entry
	Thresholds game.Thresholds
}

// Result is the outcome of a game
type Result struct {
	// Winners in rank order; empty means nobody won and stakes are refunded
	Winners []string `json:"winners"`
	// Deltas is each player's net stake change in the token's base unit
	Deltas map[string]string `json:"deltas"`
	// Disqualified players were caught by the anti-cheat replay
	Disqualified []string `json:"disqualified,omitempty"`
	// Decided is true once the game's win condition is met
	Decided bool `json:"decided"`
}

// Evaluator computes a Result for one game type
type Evaluator interface {
	Evaluate(in Input) (Result, error)
}

// EvaluatorFunc adapts a function to Evaluator
type EvaluatorFunc func(in Input) (Result, error)

func (f EvaluatorFunc) Evaluate(in Input) (Result, error) { return f(in) }

// Registry selects the evaluator for a game type
type Registry struct {
	byType   map[game.Type]Evaluator
	fallback Evaluator
	mu       sync.RWMutex
}

// NewRegistry creates a registry that uses fallback for unregistered types
func NewRegistry(fallback Evaluator) *Registry {
	if fallback == nil {
		fallback = NewScoreEvaluator()
	}
	return &Registry{
		byType:   make(map[game.Type]Evaluator),
		fallback: fallback,
	}
}

// Register installs the evaluator of a game type
func (r *Registry) Register(t game.Type, e Evaluator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byType[t] = e
}

// For returns the evaluator of a game type
func (r *Registry) For(t game.Type) Evaluator {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.byType[t]; ok {
		return e
	}
	return r.fallback
}

// Evaluate runs the evaluator selected by in.Type
func (r *Registry) Evaluate(in Input) (Result, error) {
	return r.For(in.Type).Evaluate(in)
}
