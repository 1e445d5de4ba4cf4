package strategy

import (
	"errors"
	"testing"

	"gopkg.in/yaml.v3"

	"tradesim/internal/domain"
)

// stubStrategy is a minimal Strategy implementation used in registry tests.
type stubStrategy struct {
	name string
}

func (s *stubStrategy) Name() string { return s.name }
func (s *stubStrategy) Generate(symbol string, history []domain.Bar) domain.Signal {
	return domain.Hold(symbol, history[len(history)-1].Timestamp)
}

func stubFactory(name string) Factory {
	return func(Params) (Strategy, error) { return &stubStrategy{name: name}, nil }
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	r.Register("test-strategy", stubFactory("test-strategy"))

	f, ok := r.Get("test-strategy")
	if !ok {
		t.Fatal("Get returned false for registered strategy")
	}
	s, err := f(nil)
	if err != nil {
		t.Fatalf("factory returned error: %v", err)
	}
	if s.Name() != "test-strategy" {
		t.Errorf("factory built strategy with Name() = %q, want %q", s.Name(), "test-strategy")
	}
}

func TestRegistryGet_NotFound(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Get("nonexistent")
	if ok {
		t.Error("Get returned true for unregistered strategy")
	}
}

func TestRegistryNew_Unknown(t *testing.T) {
	r := NewRegistry()
	_, err := r.New("nonexistent", nil)
	if !errors.Is(err, domain.ErrInvalidParameter) {
		t.Errorf("New(unknown) error = %v, want ErrInvalidParameter", err)
	}
}

func TestRegistryList(t *testing.T) {
	r := NewRegistry()
	r.Register("beta", stubFactory("beta"))
	r.Register("alpha", stubFactory("alpha"))

	names := r.List()
	if len(names) != 2 {
		t.Fatalf("List returned %d names, want 2", len(names))
	}
	// List returns sorted names.
	if names[0] != "alpha" || names[1] != "beta" {
		t.Errorf("List returned %v, want [alpha beta]", names)
	}
}

type windowParams struct {
	Fast int `yaml:"fast"`
	Slow int `yaml:"slow"`
}

func TestDecodeParams(t *testing.T) {
	t.Run("values", func(t *testing.T) {
		p := windowParams{Fast: 1, Slow: 1}
		if err := DecodeParams(Values(map[string]int{"fast": 3}), &p); err != nil {
			t.Fatalf("DecodeParams: %v", err)
		}
		if p.Fast != 3 || p.Slow != 1 {
			t.Errorf("decoded %+v, want fast=3 slow=1", p)
		}
	})

	t.Run("yaml node", func(t *testing.T) {
		var doc struct {
			Params yaml.Node `yaml:"params"`
		}
		if err := yaml.Unmarshal([]byte("params:\n  fast: 5\n  slow: 9\n"), &doc); err != nil {
			t.Fatal(err)
		}
		var p windowParams
		if err := DecodeParams(&doc.Params, &p); err != nil {
			t.Fatalf("DecodeParams: %v", err)
		}
		if p.Fast != 5 || p.Slow != 9 {
			t.Errorf("decoded %+v, want fast=5 slow=9", p)
		}
	})

	t.Run("empty node keeps defaults", func(t *testing.T) {
		p := windowParams{Fast: 2, Slow: 4}
		if err := DecodeParams(&yaml.Node{}, &p); err != nil {
			t.Fatalf("DecodeParams: %v", err)
		}
		if p.Fast != 2 || p.Slow != 4 {
			t.Errorf("decoded %+v, want defaults kept", p)
		}
	})

	t.Run("bad type", func(t *testing.T) {
		var p windowParams
		err := DecodeParams(Values(map[string]string{"fast": "quick"}), &p)
		if !errors.Is(err, domain.ErrInvalidParameter) {
			t.Errorf("DecodeParams error = %v, want ErrInvalidParameter", err)
		}
	})
}
