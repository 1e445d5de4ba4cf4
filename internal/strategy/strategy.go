// Package strategy defines the Strategy interface for signal generators and
// provides a Registry that builds them by name from typed parameters.
package strategy

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"tradesim/internal/domain"
)

// Strategy is the interface that all signal generators must implement.
type Strategy interface {
	// Name returns the unique identifier for this strategy.
	Name() string

	// Generate returns the signal for symbol on the date of the last bar in
	// history. history holds only bars dated on or before that date, in
	// increasing date order.
	Generate(symbol string, history []domain.Bar) domain.Signal
}

// Params decodes a strategy's parameter document into a typed struct.
// *yaml.Node satisfies it, so parameters can be read straight from config.
type Params interface {
	Decode(v any) error
}

// Factory builds a Strategy from its parameters. A nil Params means "use
// defaults". Factories validate eagerly and wrap domain.ErrInvalidParameter.
type Factory func(params Params) (Strategy, error)

// Values wraps an in-memory value (a struct or a map) as Params.
func Values(v any) Params {
	return valueParams{v: v}
}

type valueParams struct {
	v any
}

// Decode round-trips the wrapped value through YAML so field names follow
// the same yaml tags as a config file.
func (p valueParams) Decode(dst any) error {
	data, err := yaml.Marshal(p.v)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, dst)
}

// Registry holds a named collection of strategy factories.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates an empty strategy Registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register adds a factory to the registry under name, replacing any
// previous registration.
func (r *Registry) Register(name string, f Factory) {
	r.factories[name] = f
}

// Get retrieves a factory by name. The second return value indicates whether
// the strategy was found.
func (r *Registry) Get(name string) (Factory, bool) {
	f, ok := r.factories[name]
	return f, ok
}

// List returns a sorted slice of all registered strategy names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New builds the named strategy from params.
func (r *Registry) New(name string, params Params) (Strategy, error) {
	f, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown strategy %q", domain.ErrInvalidParameter, name)
	}
	return f(params)
}

// DecodeParams decodes params into dst, leaving dst untouched when params is
// nil or an empty document. Decode failures wrap domain.ErrInvalidParameter.
func DecodeParams(params Params, dst any) error {
	if params == nil {
		return nil
	}
	if n, ok := params.(*yaml.Node); ok && (n == nil || n.Kind == 0) {
		return nil
	}
	if err := params.Decode(dst); err != nil {
		return fmt.Errorf("%w: decoding params: %v", domain.ErrInvalidParameter, err)
	}
	return nil
}
