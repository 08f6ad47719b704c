// Package forecast projects bin fill levels forward in time using an
// exponentially weighted moving average of historical fill rates. All
// functions are pure: callers fetch telemetry history themselves and pass
// it in, ordered oldest first.
package forecast

import (
	"errors"
	"time"
)

// Confidence tiers.
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

// ErrInvalidTimeRange is returned when the target time is not after now.
var ErrInvalidTimeRange = errors.New("target time must be in the future")

type Reading struct {
	Timestamp time.Time
	FillPct   float64
}

type Prediction struct {
	BinID           string    `json:"bin_id"`
	CurrentFill     float64   `json:"current_fill"`
	PredictedFill   float64   `json:"predicted_fill"`
	RatePerHour     float64   `json:"fill_rate_per_hour"`
	Confidence      string    `json:"confidence"`
	NeedsCollection bool      `json:"needs_collection"`
	DataPoints      int       `json:"data_points"`
	TargetTime      time.Time `json:"target_time"`
}

type Params struct {
	Alpha         float64
	MinDataPoints int
	MaxRatePerHr  float64
	VarianceBound float64
}

func DefaultParams() Params {
	return Params{
		Alpha:         0.3,
		MinDataPoints: 5,
		MaxRatePerHr:  10,
		VarianceBound: 1.0,
	}
}

// fillRates computes the per-hour fill rate for each consecutive pair of
// readings. Negative deltas mean the bin was emptied between readings, so
// that interval is dropped rather than clamped. Rates above MaxRatePerHr
// are treated as sensor glitches and dropped too. The interval after an
// emptied transition stands on its own since each rate only spans one pair.
func fillRates(history []Reading, p Params) []float64 {
	var rates []float64
	for i := 1; i < len(history); i++ {
		hours := history[i].Timestamp.Sub(history[i-1].Timestamp).Hours()
		if hours <= 0 {
			continue
		}
		rate := (history[i].FillPct - history[i-1].FillPct) / hours
		if rate >= 0 && rate <= p.MaxRatePerHr {
			rates = append(rates, rate)
		}
	}
	return rates
}

// smoothRate applies EWMA over the rate series, seeded with the first rate.
func smoothRate(rates []float64, alpha float64) float64 {
	smoothed := rates[0]
	for _, r := range rates[1:] {
		smoothed = alpha*r + (1-alpha)*smoothed
	}
	return smoothed
}

func variance(rates []float64) float64 {
	if len(rates) == 0 {
		return 0
	}
	var sum float64
	for _, r := range rates {
		sum += r
	}
	mean := sum / float64(len(rates))
	var sq float64
	for _, r := range rates {
		d := r - mean
		sq += d * d
	}
	return sq / float64(len(rates))
}

// Predict projects the bin's fill level at the target time. History must be
// ordered oldest first; the last reading is taken as the current fill.
// With fewer than MinDataPoints readings the prediction degrades to the
// current fill at low confidence rather than failing.
func Predict(binID string, history []Reading, now, target time.Time, threshold float64, p Params) (*Prediction, error) {
	if !target.After(now) {
		return nil, ErrInvalidTimeRange
	}
	pred := &Prediction{
		BinID:      binID,
		Confidence: ConfidenceLow,
		DataPoints: len(history),
		TargetTime: target,
	}
	if len(history) == 0 {
		return pred, nil
	}
	current := history[len(history)-1].FillPct
	pred.CurrentFill = current
	pred.PredictedFill = current
	pred.NeedsCollection = current >= threshold

	if len(history) < p.MinDataPoints {
		return pred, nil
	}

	rates := fillRates(history, p)
	if len(rates) == 0 {
		return pred, nil
	}

	rate := smoothRate(rates, p.Alpha)
	hours := target.Sub(now).Hours()
	predicted := current + rate*hours
	if predicted > 100 {
		predicted = 100
	}
	if predicted < current {
		predicted = current
	}

	pred.RatePerHour = rate
	pred.PredictedFill = predicted
	pred.NeedsCollection = predicted >= threshold
	pred.Confidence = ConfidenceMedium
	if len(history) >= 2*p.MinDataPoints && variance(rates) < p.VarianceBound {
		pred.Confidence = ConfidenceHigh
	}
	return pred, nil
}
