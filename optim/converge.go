package optim

import (
	"math"

	"gonum.org/v1/gonum/optimize"
)

// relStop is nlopt's stopping test between two successive values.
func relStop(prev, cur, rel, abs float64) bool {
	if math.IsInf(prev, 0) {
		return false
	}
	diff := math.Abs(cur - prev)
	return diff < abs ||
		diff < rel*(math.Abs(cur)+math.Abs(prev))*0.5 ||
		(rel > 0 && cur == prev)
}

// toleranceConverger applies the objective and per-element step
// tolerances at every major iteration.
type toleranceConverger struct {
	xAbs []float64
	xRel float64
	fAbs float64
	fRel float64

	prevX []float64
	prevF float64
	seen  bool
}

var _ optimize.Converger = (*toleranceConverger)(nil)

func newToleranceConverger(cfg Config) *toleranceConverger {
	return &toleranceConverger{
		xAbs: cfg.XTolAbs,
		xRel: cfg.XTolRel,
		fAbs: cfg.FTolAbs,
		fRel: cfg.FTolRel,
	}
}

func (c *toleranceConverger) Init(dim int) {
	if cap(c.prevX) < dim {
		c.prevX = make([]float64, dim)
	}
	c.prevX = c.prevX[:dim]
	c.seen = false
}

func (c *toleranceConverger) Converged(loc *optimize.Location) optimize.Status {
	if !c.seen {
		c.remember(loc)
		return optimize.NotTerminated
	}
	if relStop(c.prevF, loc.F, c.fRel, c.fAbs) {
		c.remember(loc)
		return optimize.FunctionConvergence
	}
	if c.stepConverged(loc.X) {
		c.remember(loc)
		return optimize.StepConvergence
	}
	c.remember(loc)
	return optimize.NotTerminated
}

func (c *toleranceConverger) stepConverged(x []float64) bool {
	for i, v := range x {
		if !relStop(c.prevX[i], v, c.xRel, c.xAbs[i]) {
			return false
		}
	}
	return true
}

func (c *toleranceConverger) remember(loc *optimize.Location) {
	copy(c.prevX, loc.X)
	c.prevF = loc.F
	c.seen = true
}
