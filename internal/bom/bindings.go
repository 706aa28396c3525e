package bom

import (
	"github.com/fenceworks/estimator/internal/formula"
	"github.com/fenceworks/estimator/internal/model"
)

// Bindings is the variable binding context of one run: caller inputs merged
// over variable defaults, plus component outputs as they are computed.
// Lookups resolve computed outputs first, then inputs.
type Bindings struct {
	inputs  map[string]any
	outputs map[string]float64
}

// Bind merges caller-supplied variables over the snapshot's declared
// defaults. Values are not validated here; invalid values surface at first
// formula reference.
func Bind(vars []model.ProductVariable, supplied map[string]any) *Bindings {
	b := &Bindings{
		inputs:  make(map[string]any, len(vars)+len(supplied)),
		outputs: make(map[string]float64),
	}
	for _, v := range vars {
		if v.Default != nil {
			b.inputs[v.Name] = v.Default
		}
	}
	for k, v := range supplied {
		if v != nil {
			b.inputs[k] = v
		}
	}
	return b
}

// Lookup implements formula.Scope.
func (b *Bindings) Lookup(name string) (formula.Value, bool) {
	if b == nil {
		return formula.Value{}, false
	}
	if out, ok := b.outputs[name]; ok {
		return formula.Number(out), true
	}
	if in, ok := b.inputs[name]; ok {
		return formula.ValueOf(in)
	}
	return formula.Value{}, false
}

// Input returns a bound input variable.
func (b *Bindings) Input(name string) (any, bool) {
	v, ok := b.inputs[name]
	return v, ok
}

// Output returns a computed component output.
func (b *Bindings) Output(name string) (float64, bool) {
	v, ok := b.outputs[name]
	return v, ok
}

// SetOutput records a computed component quantity under its output name.
func (b *Bindings) SetOutput(name string, qty float64) {
	b.outputs[name] = qty
}

// Inputs returns a copy of the bound inputs.
func (b *Bindings) Inputs() map[string]any {
	out := make(map[string]any, len(b.inputs))
	for k, v := range b.inputs {
		out[k] = v
	}
	return out
}
