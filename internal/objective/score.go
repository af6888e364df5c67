package objective

import "fmt"

// #region f1
// F1 is the harmonic mean of precision and recall; 0 when both are 0.
func F1(precision, recall float64) float64 {
	if precision+recall == 0 {
		return 0
	}
	return 2 * precision * recall / (precision + recall)
}

// #endregion f1

// #region key-extractor
// KeyExtractor reads precision and recall from fixed metric names.
type KeyExtractor struct {
	PrecisionKey string
	RecallKey    string
}

// DefaultExtractor reads the YOLO box metrics.
func DefaultExtractor() KeyExtractor {
	return KeyExtractor{PrecisionKey: DefaultPrecisionKey, RecallKey: DefaultRecallKey}
}

// Extract looks up both keys.
func (k KeyExtractor) Extract(m Metrics) (float64, float64, error) {
	p, ok := m[k.PrecisionKey]
	if !ok {
		return 0, 0, fmt.Errorf("%w: %q", ErrMissingMetric, k.PrecisionKey)
	}
	r, ok := m[k.RecallKey]
	if !ok {
		return 0, 0, fmt.Errorf("%w: %q", ErrMissingMetric, k.RecallKey)
	}
	return p, r, nil
}

// Score extracts precision and recall and returns their F1.
func Score(ex Extractor, m Metrics) (float64, error) {
	p, r, err := ex.Extract(m)
	if err != nil {
		return 0, err
	}
	return F1(p, r), nil
}

// #endregion key-extractor
