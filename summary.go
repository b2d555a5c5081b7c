package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

type MeasureSummary struct {
	Summary  SummaryOverview              `json:"summary"`
	Measures map[string]*EvaluationResult `json:"measures"`
}

type SummaryOverview struct {
	AverageRate   float64 `json:"average_rate"`
	Stars         int     `json:"stars"`
	StarRating    string  `json:"star_rating"`
	TotalMeasures int     `json:"total_measures"`
	Timestamp     string  `json:"timestamp"`
}

// Summarize evaluates every measure in catalog order. A failing measure keeps
// its partial result in the summary but does not count toward the average;
// the failures are returned joined.
func (e *Evaluator) Summarize(ctx context.Context, opts EvaluateOptions) (*MeasureSummary, error) {
	summary := &MeasureSummary{
		Measures: map[string]*EvaluationResult{},
	}

	var errs []error
	var rates []float64
	for _, code := range measureCodes {
		def, err := lookupMeasure(code)
		if err != nil {
			return nil, err
		}

		result, err := e.Evaluate(ctx, code, opts)
		if result != nil {
			summary.Measures[def.SummaryKey] = result
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}

		if result.Denominator > 0 {
			rates = append(rates, result.Rate)
		}

		// No point starting the next measure on a dead context
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
	}

	average := 0.0
	for _, rate := range rates {
		average += rate
	}
	if len(rates) > 0 {
		average /= float64(len(rates))
	}

	stars, label := starRating(average)
	summary.Summary = SummaryOverview{
		AverageRate:   math.Round(average*100) / 100,
		Stars:         stars,
		StarRating:    fmt.Sprintf("%s (%s)", strings.Repeat("⭐", stars), label),
		TotalMeasures: len(rates),
		Timestamp:     e.now().Format(time.RFC3339),
	}

	return summary, errors.Join(errs...)
}

// starRating maps an average compliance rate onto a five star scale.
func starRating(average float64) (int, string) {
	switch {
	case average >= 90:
		return 5, "5 Stars - Excellent"
	case average >= 80:
		return 4, "4 Stars - Very Good"
	case average >= 70:
		return 3, "3 Stars - Good"
	case average >= 60:
		return 2, "2 Stars - Fair"
	default:
		return 1, "1 Star - Needs Improvement"
	}
}
