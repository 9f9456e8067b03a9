package aggregation

// Series is a reduced result laid out for time-series views.
type Series struct {
	Keys          []string   `json:"keys"`
	Values        []float64  `json:"values"`
	Trend         *TrendLine `json:"trend,omitempty"`
	MovingAverage []*float64 `json:"movingAverage,omitempty"`
	Band          *Band      `json:"band,omitempty"`
}

// BuildSeries lays out result in group order and adds the trend line, the moving
// average over window (skipped when window is 0) and the confidence band where the
// series is long enough.
func BuildSeries(result *Result, window int) (*Series, error) {
	s := &Series{
		Keys:   make([]string, 0, len(result.Groups)),
		Values: make([]float64, 0, len(result.Groups)),
	}

	for _, g := range result.Groups {
		if result.GroupBy == GroupByMonth && g.Key == KeyUnknown {
			continue
		}

		s.Keys = append(s.Keys, g.Key)
		s.Values = append(s.Values, g.Value)
	}

	if line, ok := Trend(s.Values); ok {
		s.Trend = &line
	}

	if window != 0 {
		ma, err := MovingAverage(s.Values, window)
		if err != nil {
			return nil, err
		}

		s.MovingAverage = ma
	}

	if band, ok := ConfidenceBand(s.Values); ok {
		s.Band = &band
	}

	return s, nil
}
