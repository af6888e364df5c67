package space

import (
	"math"
	"testing"

	"github.com/danielpatrickdp/hpsearch/internal/trial"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func yoloSpace(t *testing.T) *Space {
	t.Helper()
	s, err := New(
		Categorical("imgsz", 96),
		Float("dropout", 0.0, 0.8),
		Float("lr0", 0.0001, 0.02).WithLog(),
		Float("lrf", 0.0001, 0).WithHighRef("lr0").WithLog(),
		Int("batch", 16, 256),
	)
	require.NoError(t, err)
	return s
}

func TestNewRejectsForwardReference(t *testing.T) {
	_, err := New(
		Float("lrf", 0.0001, 0).WithHighRef("lr0"),
		Float("lr0", 0.0001, 0.02),
	)
	assert.ErrorIs(t, err, ErrInvalidSpace)
}

func TestNewRejectsMalformed(t *testing.T) {
	cases := map[string][]Param{
		"empty":         nil,
		"duplicate":     {Float("a", 0, 1), Float("a", 0, 1)},
		"inverted":      {Float("a", 1, 0)},
		"log-nonpos":    {Float("a", 0, 1).WithLog()},
		"no-choices":    {Categorical("c")},
		"unknown-kind":  {{Name: "x", Kind: "vector"}},
		"ref-to-choice": {Categorical("c", 1, 2), Float("a", 0, 0).WithHighRef("c")},
		"int-low-ref":   {Float("a", 0, 10), Int("b", 0, 10).WithLowRef("a")},
		"int-high-ref":  {Float("a", 0, 10), Int("b", 0, 10).WithHighRef("a")},
	}
	for name, params := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := New(params...)
			assert.ErrorIs(t, err, ErrInvalidSpace)
		})
	}
}

func TestBoundsResolvesDependency(t *testing.T) {
	s := yoloSpace(t)
	lrf, ok := s.Lookup("lrf")
	require.True(t, ok)

	_, _, err := s.Bounds(lrf, trial.Params{})
	assert.Error(t, err, "unresolved reference must fail")

	low, high, err := s.Bounds(lrf, trial.Params{"lr0": 0.005})
	require.NoError(t, err)
	assert.Equal(t, 0.0001, low)
	assert.Equal(t, 0.005, high)
}

func TestValidate(t *testing.T) {
	s := yoloSpace(t)
	good := trial.Params{"imgsz": 0, "dropout": 0.2, "lr0": 0.01, "lrf": 0.001, "batch": 64}
	require.NoError(t, s.Validate(good))

	bad := []trial.Params{
		{"imgsz": 0, "dropout": 0.2, "lr0": 0.01, "lrf": 0.02, "batch": 64},   // lrf above lr0
		{"imgsz": 1, "dropout": 0.2, "lr0": 0.01, "lrf": 0.001, "batch": 64},  // choice index
		{"imgsz": 0, "dropout": 0.9, "lr0": 0.01, "lrf": 0.001, "batch": 64},  // dropout high
		{"imgsz": 0, "dropout": 0.2, "lr0": 0.01, "lrf": 0.001, "batch": 6.5}, // non-integer
		{"imgsz": 0, "dropout": 0.2, "lr0": 0.01, "lrf": 0.001},               // missing
		{"imgsz": 0, "dropout": math.NaN(), "lr0": 0.01, "lrf": 0.001, "batch": 64},
		{"imgsz": 0, "dropout": 0.2, "lr0": 0.01, "lrf": 0.001, "batch": 64, "extra": 1},
	}
	for i, p := range bad {
		assert.ErrorIs(t, s.Validate(p), ErrOutOfDomain, "case %d", i)
	}
}

func TestDecode(t *testing.T) {
	s := yoloSpace(t)
	out := s.Decode(trial.Params{"imgsz": 0, "dropout": 0.25, "batch": 32})
	assert.Equal(t, 96, out["imgsz"])
	assert.Equal(t, 0.25, out["dropout"])
	assert.Equal(t, 32, out["batch"])
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 1.0, Clamp(1.5, 0.0, 1.0))
	assert.Equal(t, 3, Clamp(-2, 3, 9))
	assert.Equal(t, int64(5), Clamp(int64(5), 0, 10))
}
