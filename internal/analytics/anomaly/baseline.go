package anomaly

import (
	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat"
)

// meanStdDev returns the population mean and standard deviation of values.
// Empty input yields zeros.
func meanStdDev(values []float64) (mean, stdDev float64) {
	if len(values) == 0 {
		return 0, 0
	}
	mean, _ = stats.Mean(values)
	stdDev, _ = stats.StandardDeviationPopulation(values)
	return mean, stdDev
}

// slope fits y = a + b*x with x = 0..len(y)-1 by least squares and returns b.
func slope(y []float64, xs []float64) float64 {
	if len(y) < 2 {
		return 0
	}
	_, beta := stat.LinearRegression(xs[:len(y)], y, nil, false)
	return beta
}

// positions returns 0..n-1 as floats.
func positions(n int) []float64 {
	xs := make([]float64, n)
	for i := range xs {
		xs[i] = float64(i)
	}
	return xs
}
