package pln

import "math"

var halfLogPi = 0.5 * math.Log(math.Pi)

// logFactorial approximates log(y!) with Ramanujan's expansion. Zero is
// evaluated as one, so both give (almost exactly) zero.
func logFactorial(y float64) float64 {
	if y == 0 {
		y = 1
	}
	return y*math.Log(y) - y + math.Log(8*y*y*y+4*y*y+y+1.0/30)/6 + halfLogPi
}

// rowConstant is the data-only part of an observation's log-likelihood.
func rowConstant(y []float64) float64 {
	var lf float64
	for _, v := range y {
		lf += logFactorial(v)
	}
	return -lf + 0.5*(1+(1-float64(len(y)))*math.Log(2*math.Pi))
}
