package stats

import (
	"math"

	"predictive-maintenance-engine/shared/apperr"
)

const (
	// Remaining-life search bound, as a multiple of the scale parameter.
	weibullSearchScaleBound = 5.0

	// Median remaining life: smallest delta halving conditional survival.
	weibullMedianFraction = 0.5

	// Shape estimation search interval and tolerance for the bisection on
	// the coefficient-of-variation equation.
	weibullShapeMin       = 0.2
	weibullShapeMax       = 10.0
	weibullShapeTolerance = 1e-6

	// Minimum observed intervals before a Weibull fit is attempted.
	MinWeibullSamples = 3
)

// WeibullSurvival is S(t) = exp(-(t/scale)^shape).
func WeibullSurvival(t float64, shape float64, scale float64) float64 {
	if t <= 0 {
		return 1
	}
	if shape <= 0 || scale <= 0 {
		return 0
	}
	return math.Exp(-math.Pow(t/scale, shape))
}

// WeibullHazard is h(t) = (shape/scale) * (t/scale)^(shape-1).
func WeibullHazard(t float64, shape float64, scale float64) float64 {
	if shape <= 0 || scale <= 0 || t < 0 {
		return 0
	}
	return (shape / scale) * math.Pow(t/scale, shape-1)
}

// MedianRemainingLife finds the smallest integer number of days d such that
// S(age+d) <= 0.5*S(age), searching [0, 5*scale] by bisection.
func MedianRemainingLife(ageDays float64, shape float64, scale float64) int {
	if shape <= 0 || scale <= 0 {
		return 0
	}
	if ageDays < 0 {
		ageDays = 0
	}
	target := weibullMedianFraction * WeibullSurvival(ageDays, shape, scale)
	if target <= 0 {
		return 0
	}

	lo, hi := 0.0, weibullSearchScaleBound*scale
	if WeibullSurvival(ageDays+hi, shape, scale) > target {
		return int(math.Round(hi))
	}
	for hi-lo > 0.5 {
		mid := (lo + hi) / 2
		if WeibullSurvival(ageDays+mid, shape, scale) <= target {
			hi = mid
		} else {
			lo = mid
		}
	}
	return int(math.Round(hi))
}

// EstimateWeibull fits shape and scale to observed lifetimes (e.g. days
// between maintenance events) by solving the method-of-moments equation
// CV^2 = Gamma(1+2/k)/Gamma(1+1/k)^2 - 1 for the shape k by bisection,
// then scale = mean / Gamma(1+1/k).
func EstimateWeibull(samples []float64) (shape float64, scale float64, err error) {
	if len(samples) < MinWeibullSamples {
		return 0, 0, apperr.InsufficientData(len(samples), MinWeibullSamples)
	}
	mean := Mean(samples)
	sd := StdDev(samples)
	if mean <= 0 {
		return 0, 0, apperr.InvalidConfiguration("lifetime samples must be positive")
	}
	if sd == 0 {
		// Degenerate spread: very steep shape, scale at the common value.
		return weibullShapeMax, mean, nil
	}

	cv2 := (sd / mean) * (sd / mean)
	f := func(k float64) float64 {
		g1 := math.Gamma(1 + 1/k)
		g2 := math.Gamma(1 + 2/k)
		return g2/(g1*g1) - 1 - cv2
	}

	lo, hi := weibullShapeMin, weibullShapeMax
	// f is decreasing in k; clamp when the target CV falls outside the range.
	if f(lo) < 0 {
		shape = lo
	} else if f(hi) > 0 {
		shape = hi
	} else {
		for hi-lo > weibullShapeTolerance {
			mid := (lo + hi) / 2
			if f(mid) > 0 {
				lo = mid
			} else {
				hi = mid
			}
		}
		shape = (lo + hi) / 2
	}
	scale = mean / math.Gamma(1+1/shape)
	return shape, scale, nil
}
