package optim

import (
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/optimize"
)

// traceRecorder logs every accepted step of a run.
type traceRecorder struct {
	log zerolog.Logger
}

var _ optimize.Recorder = traceRecorder{}

func newTraceRecorder(log zerolog.Logger) optimize.Recorder {
	if log.GetLevel() > zerolog.TraceLevel {
		return nil
	}
	return traceRecorder{log: log}
}

func (traceRecorder) Init() error { return nil }

func (r traceRecorder) Record(loc *optimize.Location, op optimize.Operation, stats *optimize.Stats) error {
	if op != optimize.MajorIteration {
		return nil
	}
	r.log.Trace().
		Int("major", stats.MajorIterations).
		Int("evaluations", stats.FuncEvaluations).
		Float64("objective", loc.F).
		Dur("elapsed", stats.Runtime).
		Msg("step accepted")
	return nil
}
