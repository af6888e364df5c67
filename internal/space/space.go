package space

import (
	"fmt"
	"math"

	"github.com/danielpatrickdp/hpsearch/internal/trial"
	"golang.org/x/exp/constraints"
)

// #region space
// Space is an ordered list of parameter declarations. Declaration order is the
// evaluation order: a dependent bound may only reference an earlier parameter.
type Space struct {
	params []Param
	index  map[string]int
}

// New validates the declarations and builds a Space.
func New(params ...Param) (*Space, error) {
	if len(params) == 0 {
		return nil, fmt.Errorf("%w: no parameters declared", ErrInvalidSpace)
	}
	s := &Space{index: make(map[string]int, len(params))}
	for i, p := range params {
		if p.Name == "" {
			return nil, fmt.Errorf("%w: parameter %d has no name", ErrInvalidSpace, i)
		}
		if _, dup := s.index[p.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate parameter %q", ErrInvalidSpace, p.Name)
		}
		if err := s.check(p); err != nil {
			return nil, err
		}
		s.index[p.Name] = i
		s.params = append(s.params, p)
	}
	return s, nil
}

func (s *Space) check(p Param) error {
	switch p.Kind {
	case KindCategorical:
		if len(p.Choices) == 0 {
			return fmt.Errorf("%w: %q has no choices", ErrInvalidSpace, p.Name)
		}
		return nil
	case KindFloat, KindInt:
	default:
		return fmt.Errorf("%w: %q has unknown kind %q", ErrInvalidSpace, p.Name, p.Kind)
	}
	if p.Kind == KindInt && (p.LowRef != "" || p.HighRef != "") {
		return fmt.Errorf("%w: int %q cannot take a dependent bound", ErrInvalidSpace, p.Name)
	}

	for _, ref := range []string{p.LowRef, p.HighRef} {
		if ref == "" {
			continue
		}
		// Only parameters already in s are earlier in declaration order.
		i, ok := s.index[ref]
		if !ok {
			return fmt.Errorf("%w: %q references %q which is not declared before it", ErrInvalidSpace, p.Name, ref)
		}
		if !s.params[i].Numeric() {
			return fmt.Errorf("%w: %q references categorical %q", ErrInvalidSpace, p.Name, ref)
		}
	}
	if p.LowRef == "" && p.HighRef == "" && p.Low > p.High {
		return fmt.Errorf("%w: %q has low %g > high %g", ErrInvalidSpace, p.Name, p.Low, p.High)
	}
	if p.Log && p.LowRef == "" && p.Low <= 0 {
		return fmt.Errorf("%w: log-scale %q needs low > 0", ErrInvalidSpace, p.Name)
	}
	return nil
}

// Params returns the declarations in evaluation order.
func (s *Space) Params() []Param {
	out := make([]Param, len(s.params))
	copy(out, s.params)
	return out
}

// Len returns the number of declared parameters.
func (s *Space) Len() int {
	return len(s.params)
}

// Lookup returns the declaration for name.
func (s *Space) Lookup(name string) (Param, bool) {
	i, ok := s.index[name]
	if !ok {
		return Param{}, false
	}
	return s.params[i], true
}

// #endregion space

// #region bounds
// Bounds resolves the numeric bounds of p given the values already fixed in
// the same proposal.
func (s *Space) Bounds(p Param, fixed trial.Params) (float64, float64, error) {
	low, high := p.Low, p.High
	if p.LowRef != "" {
		v, ok := fixed[p.LowRef]
		if !ok {
			return 0, 0, fmt.Errorf("%q: bound %q not yet sampled", p.Name, p.LowRef)
		}
		low = v
	}
	if p.HighRef != "" {
		v, ok := fixed[p.HighRef]
		if !ok {
			return 0, 0, fmt.Errorf("%q: bound %q not yet sampled", p.Name, p.HighRef)
		}
		high = v
	}
	if low > high {
		return 0, 0, fmt.Errorf("%w: %q resolved to empty range [%g, %g]", ErrOutOfDomain, p.Name, low, high)
	}
	if p.Log && low <= 0 {
		return 0, 0, fmt.Errorf("%w: log-scale %q resolved low %g <= 0", ErrOutOfDomain, p.Name, low)
	}
	return low, high, nil
}

// #endregion bounds

// #region validate
// Validate checks that params covers exactly the declared parameters and
// every value lies within its (resolved) domain. Values are never clamped.
func (s *Space) Validate(params trial.Params) error {
	for name := range params {
		if _, ok := s.index[name]; !ok {
			return fmt.Errorf("%w: undeclared parameter %q", ErrOutOfDomain, name)
		}
	}
	for _, p := range s.params {
		v, ok := params[p.Name]
		if !ok {
			return fmt.Errorf("%w: missing parameter %q", ErrOutOfDomain, p.Name)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %q is not finite", ErrOutOfDomain, p.Name)
		}
		switch p.Kind {
		case KindCategorical:
			if v != math.Trunc(v) || v < 0 || int(v) >= len(p.Choices) {
				return fmt.Errorf("%w: %q choice index %g not in [0, %d)", ErrOutOfDomain, p.Name, v, len(p.Choices))
			}
			continue
		case KindInt:
			if v != math.Trunc(v) {
				return fmt.Errorf("%w: %q value %g is not an integer", ErrOutOfDomain, p.Name, v)
			}
		}
		low, high, err := s.Bounds(p, params)
		if err != nil {
			return err
		}
		if v < low || v > high {
			return fmt.Errorf("%w: %q value %g not in [%g, %g]", ErrOutOfDomain, p.Name, v, low, high)
		}
	}
	return nil
}

// #endregion validate

// #region decode
// Decode converts internal values to their external form: float64 for float,
// int for int and the declared choice for categorical.
func (s *Space) Decode(params trial.Params) map[string]any {
	out := make(map[string]any, len(params))
	for name, v := range params {
		p, ok := s.Lookup(name)
		if !ok {
			out[name] = v
			continue
		}
		switch p.Kind {
		case KindInt:
			out[name] = int(v)
		case KindCategorical:
			i := int(v)
			if i >= 0 && i < len(p.Choices) {
				out[name] = p.Choices[i]
			} else {
				out[name] = v
			}
		default:
			out[name] = v
		}
	}
	return out
}

// #endregion decode

// #region helpers
// Clamp limits v to [lo, hi].
func Clamp[T constraints.Integer | constraints.Float](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// #endregion helpers
