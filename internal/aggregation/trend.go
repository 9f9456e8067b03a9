package aggregation

import (
	"errors"
	"fmt"
	"math"
)

// bandZ is the normal quantile of an approximate 95% two-sided band.
const bandZ = 1.96

const (
	minTrendPoints = 2
	minBandPoints  = 3
)

// ErrInvalidWindow is returned for non-positive moving-average windows.
var ErrInvalidWindow = errors.New("moving average window must be positive")

// TrendLine is an ordinary least-squares fit y = Slope*x + Intercept over x = 0..n-1.
type TrendLine struct {
	Slope     float64 `json:"slope"`
	Intercept float64 `json:"intercept"`
}

// At evaluates the line at x.
func (l TrendLine) At(x int) float64 {
	return l.Slope*float64(x) + l.Intercept
}

// Band is a descriptive band of ±1.96 residual standard deviations around a trend line.
type Band struct {
	Trend  TrendLine `json:"trend"`
	StdDev float64   `json:"stdDev"`
	Lower  []float64 `json:"lower"`
	Upper  []float64 `json:"upper"`
}

// Trend fits y against its indices. It reports false for fewer than two points.
func Trend(y []float64) (TrendLine, bool) {
	n := len(y)
	if n < minTrendPoints {
		return TrendLine{}, false
	}

	var sumX, sumY, sumXY, sumXX float64

	for i, v := range y {
		x := float64(i)
		sumX += x
		sumY += v
		sumXY += x * v
		sumXX += x * x
	}

	fn := float64(n)

	denom := fn*sumXX - sumX*sumX
	if denom == 0 {
		return TrendLine{}, false
	}

	slope := (fn*sumXY - sumX*sumY) / denom

	return TrendLine{Slope: slope, Intercept: (sumY - slope*sumX) / fn}, true
}

// MovingAverage returns the trailing mean over window w for each point. Entries before
// the window is full are nil.
func MovingAverage(y []float64, w int) ([]*float64, error) {
	if w <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidWindow, w)
	}

	out := make([]*float64, len(y))

	var sum float64

	for i, v := range y {
		sum += v
		if i >= w {
			sum -= y[i-w]
		}

		if i >= w-1 {
			avg := sum / float64(w)
			out[i] = &avg
		}
	}

	return out, nil
}

// ConfidenceBand fits a trend line and surrounds it with ±1.96 times the sample
// standard deviation of the residuals. It reports false for fewer than three points.
func ConfidenceBand(y []float64) (Band, bool) {
	if len(y) < minBandPoints {
		return Band{}, false
	}

	line, ok := Trend(y)
	if !ok {
		return Band{}, false
	}

	var ss float64

	for i, v := range y {
		r := v - line.At(i)
		ss += r * r
	}

	std := math.Sqrt(ss / float64(len(y)-1))

	band := Band{
		Trend:  line,
		StdDev: std,
		Lower:  make([]float64, len(y)),
		Upper:  make([]float64, len(y)),
	}

	for i := range y {
		mid := line.At(i)
		band.Lower[i] = mid - bandZ*std
		band.Upper[i] = mid + bandZ*std
	}

	return band, true
}
