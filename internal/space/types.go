package space

import "errors"

// #region kind
// Kind is the domain type of a parameter.
type Kind string

const (
	KindFloat       Kind = "float"
	KindInt         Kind = "int"
	KindCategorical Kind = "categorical"
)

// #endregion kind

// #region errors
var (
	// ErrOutOfDomain is returned when a proposed value lies outside its declared domain.
	ErrOutOfDomain = errors.New("value out of domain")
	// ErrInvalidSpace is returned for malformed parameter declarations.
	ErrInvalidSpace = errors.New("invalid search space")
)

// #endregion errors

// #region param
// Param declares one searchable parameter. LowRef and HighRef name an
// earlier-declared numeric parameter whose sampled value is used as the bound.
type Param struct {
	Name    string
	Kind    Kind
	Low     float64
	High    float64
	Log     bool
	LowRef  string
	HighRef string
	Choices []any
}

// Float declares a continuous parameter on [low, high].
func Float(name string, low, high float64) Param {
	return Param{Name: name, Kind: KindFloat, Low: low, High: high}
}

// Int declares an integer parameter on [low, high].
func Int(name string, low, high int) Param {
	return Param{Name: name, Kind: KindInt, Low: float64(low), High: float64(high)}
}

// Categorical declares a parameter over a fixed set of choices.
func Categorical(name string, choices ...any) Param {
	return Param{Name: name, Kind: KindCategorical, Choices: choices}
}

// WithLog samples the parameter on a log scale.
func (p Param) WithLog() Param {
	p.Log = true
	return p
}

// WithLowRef bounds the parameter below by the value of ref.
func (p Param) WithLowRef(ref string) Param {
	p.LowRef = ref
	return p
}

// WithHighRef bounds the parameter above by the value of ref.
func (p Param) WithHighRef(ref string) Param {
	p.HighRef = ref
	return p
}

// Numeric reports whether the parameter is float or int.
func (p Param) Numeric() bool {
	return p.Kind == KindFloat || p.Kind == KindInt
}

// #endregion param
