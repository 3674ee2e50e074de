package optim

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/optimize"
)

// Algorithm enumerates the supported unconstrained gradient methods.
type Algorithm int

const (
	// LBFGS is limited-memory BFGS, the default.
	LBFGS Algorithm = iota
	// BFGS keeps a dense inverse-Hessian approximation.
	BFGS
	// CG is nonlinear conjugate gradient with gonum's default update.
	CG
	// CGFletcherReeves is conjugate gradient with the Fletcher-Reeves update.
	CGFletcherReeves
	// CGPolakRibiere is conjugate gradient with the Polak-Ribière-Polyak update.
	CGPolakRibiere
	// CGHestenesStiefel is conjugate gradient with the Hestenes-Stiefel update.
	CGHestenesStiefel
	// CGDaiYuan is conjugate gradient with the Dai-Yuan update.
	CGDaiYuan
	// CGHagerZhang is conjugate gradient with the Hager-Zhang update.
	CGHagerZhang
	// GradientDescent is steepest descent with a line search.
	GradientDescent
)

var algorithmNames = []struct {
	name string
	alg  Algorithm
}{
	{"LBFGS", LBFGS},
	{"BFGS", BFGS},
	{"CG", CG},
	{"CG_FLETCHER_REEVES", CGFletcherReeves},
	{"CG_POLAK_RIBIERE", CGPolakRibiere},
	{"CG_HESTENES_STIEFEL", CGHestenesStiefel},
	{"CG_DAI_YUAN", CGDaiYuan},
	{"CG_HAGER_ZHANG", CGHagerZhang},
	{"GRADIENT_DESCENT", GradientDescent},
}

// SupportedAlgorithms lists the accepted algorithm names in a stable order.
func SupportedAlgorithms() []string {
	out := make([]string, len(algorithmNames))
	for i, a := range algorithmNames {
		out[i] = a.name
	}
	return out
}

// ParseAlgorithm resolves an algorithm name. The error of an unknown name
// lists every supported one.
func ParseAlgorithm(name string) (Algorithm, error) {
	for _, a := range algorithmNames {
		if a.name == name {
			return a.alg, nil
		}
	}
	return 0, fmt.Errorf("%w: unsupported algorithm name %q; supported: %s",
		ErrConfig, name, strings.Join(SupportedAlgorithms(), " "))
}

func (a Algorithm) String() string {
	for _, n := range algorithmNames {
		if n.alg == a {
			return n.name
		}
	}
	return fmt.Sprintf("Algorithm(%d)", int(a))
}

// method builds a fresh gonum method; methods carry per-run state and are
// never reused across runs.
func (a Algorithm) method() (optimize.Method, error) {
	switch a {
	case LBFGS:
		return &optimize.LBFGS{}, nil
	case BFGS:
		return &optimize.BFGS{}, nil
	case CG:
		return &optimize.CG{}, nil
	case CGFletcherReeves:
		return &optimize.CG{Variant: &optimize.FletcherReeves{}}, nil
	case CGPolakRibiere:
		return &optimize.CG{Variant: &optimize.PolakRibierePolyak{}}, nil
	case CGHestenesStiefel:
		return &optimize.CG{Variant: &optimize.HestenesStiefel{}}, nil
	case CGDaiYuan:
		return &optimize.CG{Variant: &optimize.DaiYuan{}}, nil
	case CGHagerZhang:
		return &optimize.CG{Variant: &optimize.HagerZhang{}}, nil
	case GradientDescent:
		return &optimize.GradientDescent{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown algorithm %d", ErrConfig, int(a))
	}
}
