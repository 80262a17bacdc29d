package domain

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ParameterRange describes one tunable bot parameter.
type ParameterRange struct {
	Name   string   `json:"name" yaml:"name"`
	Min    float64  `json:"min" yaml:"min"`
	Max    float64  `json:"max" yaml:"max"`
	Step   float64  `json:"step" yaml:"step"`
	Anchor *float64 `json:"anchor,omitempty" yaml:"anchor,omitempty"` // values align to anchor + k*step
}

// ParameterSet is one concrete assignment of every tunable parameter.
type ParameterSet map[string]float64

// Names returns the parameter names in sorted order.
func (p ParameterSet) Names() []string {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Key returns a canonical "a=1|b=2" encoding, stable across map order.
func (p ParameterSet) Key() string {
	var sb strings.Builder
	for i, name := range p.Names() {
		if i > 0 {
			sb.WriteByte('|')
		}
		sb.WriteString(name)
		sb.WriteByte('=')
		sb.WriteString(strconv.FormatFloat(p[name], 'g', -1, 64))
	}
	return sb.String()
}

// Get returns the value of name or def when absent.
func (p ParameterSet) Get(name string, def float64) float64 {
	if v, ok := p[name]; ok {
		return v
	}
	return def
}

// Clone returns a copy.
func (p ParameterSet) Clone() ParameterSet {
	c := make(ParameterSet, len(p))
	for k, v := range p {
		c[k] = v
	}
	return c
}

// ParseParameterSet parses "a=1|b=2", the form Key produces. Commas are
// accepted as separators too.
func ParseParameterSet(s string) (ParameterSet, error) {
	p := make(ParameterSet)
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == '|' || r == ',' })
	for _, f := range fields {
		name, raw, ok := strings.Cut(strings.TrimSpace(f), "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("parameter %q: want name=value", f)
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", name, err)
		}
		p[name] = v
	}
	return p, nil
}
