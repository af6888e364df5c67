package bridge

import (
	"fmt"

	"github.com/danielpatrickdp/hpsearch/internal/objective"
	"github.com/danielpatrickdp/hpsearch/internal/study"
	"google.golang.org/protobuf/types/known/structpb"
)

// Message field names.
const (
	fieldRunID   = "run_id"
	fieldEpoch   = "epoch"
	fieldMetrics = "metrics"
	fieldVerdict = "verdict"
)

// #region encode
func encodeReport(runID string, epoch int, m objective.Metrics) (*structpb.Struct, error) {
	metrics := make(map[string]interface{}, len(m))
	for k, v := range m {
		metrics[k] = v
	}
	return structpb.NewStruct(map[string]interface{}{
		fieldRunID:   runID,
		fieldEpoch:   float64(epoch),
		fieldMetrics: metrics,
	})
}

func encodeVerdict(v study.Verdict) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldVerdict: structpb.NewStringValue(v.String()),
	}}
}

// #endregion encode

// #region decode
type report struct {
	runID   string
	epoch   int
	metrics objective.Metrics
}

func decodeReport(req *structpb.Struct) (report, error) {
	f := req.GetFields()
	runID := f[fieldRunID].GetStringValue()
	if runID == "" {
		return report{}, fmt.Errorf("missing %s", fieldRunID)
	}
	r := report{runID: runID, metrics: objective.Metrics{}}
	if e, ok := f[fieldEpoch]; ok {
		r.epoch = int(e.GetNumberValue())
	}
	for k, v := range f[fieldMetrics].GetStructValue().GetFields() {
		if _, ok := v.GetKind().(*structpb.Value_NumberValue); !ok {
			return report{}, fmt.Errorf("metric %q is not a number", k)
		}
		r.metrics[k] = v.GetNumberValue()
	}
	return r, nil
}

func decodeVerdict(resp *structpb.Struct) (study.Verdict, error) {
	switch s := resp.GetFields()[fieldVerdict].GetStringValue(); s {
	case study.VerdictContinue.String():
		return study.VerdictContinue, nil
	case study.VerdictPrune.String():
		return study.VerdictPrune, nil
	case study.VerdictFail.String():
		return study.VerdictFail, nil
	default:
		return study.VerdictFail, fmt.Errorf("unknown verdict %q", s)
	}
}

// #endregion decode
