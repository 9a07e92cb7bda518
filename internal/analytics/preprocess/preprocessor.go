package preprocess

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/kubilitics/sensordx/internal/models"
)

// Package preprocess turns a raw SampleSequence into the cleaned series the
// metric extractors consume.
//
// Steps, in order:
//   1. Fault scan: burnout sentinels and out-of-range samples are counted;
//      above FaultFraction the sensor is reported as faulted. A raw loop
//      current outside 4-20 mA is a hard fault regardless of the samples.
//   2. Floor: fewer than MinSamples samples is InsufficientData.
//   3. Gaps: non-finite samples (and the few fault samples that survived
//      step 1) are gaps. Too many gaps, or one run longer than MaxGapWidth,
//      is InsufficientData; shorter runs are linearly interpolated.
//   4. Derived series: mean-centred (DFA input) and linearly detrended
//      (spectral input).
//
// The preprocessor never filters or smooths: spikes, EMI and chaotic
// structure are exactly what the extractors look for.

// Loop current limits for a 4-20 mA transmitter.
const (
	LoopCurrentMinMA = 4.0
	LoopCurrentMaxMA = 20.0
)

// Options configures the preprocessor.
type Options struct {
	MinSamples     int     `json:"min_samples" yaml:"min_samples"`
	FaultFraction  float64 `json:"fault_fraction" yaml:"fault_fraction"`
	MaxNaNFraction float64 `json:"max_nan_fraction" yaml:"max_nan_fraction"`
	MaxGapWidth    int     `json:"max_gap_width" yaml:"max_gap_width"`
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		MinSamples:     50,
		FaultFraction:  0.25,
		MaxNaNFraction: 0.10,
		MaxGapWidth:    5,
	}
}

// Cleaned is the preprocessor output. All slices have the same length.
type Cleaned struct {
	Values    []float64
	Centered  []float64
	Detrended []float64
	Mean      float64
	StdDev    float64
	Report    models.PreprocessReport
}

// Preprocessor validates and cleans sample sequences.
type Preprocessor struct {
	opts Options
}

// New creates a Preprocessor. Zero-valued options fall back to defaults.
func New(opts Options) *Preprocessor {
	def := DefaultOptions()
	if opts.MinSamples <= 0 {
		opts.MinSamples = def.MinSamples
	}
	if opts.FaultFraction <= 0 {
		opts.FaultFraction = def.FaultFraction
	}
	if opts.MaxNaNFraction <= 0 {
		opts.MaxNaNFraction = def.MaxNaNFraction
	}
	if opts.MaxGapWidth <= 0 {
		opts.MaxGapWidth = def.MaxGapWidth
	}
	return &Preprocessor{opts: opts}
}

// Options returns the effective options.
func (p *Preprocessor) Options() Options {
	return p.opts
}

// Run cleans seq against profile. Errors wrap models.ErrSensorFault or
// models.ErrInsufficientData.
func (p *Preprocessor) Run(seq models.SampleSequence, profile models.SensorProfile) (*Cleaned, error) {
	n := len(seq.Values)
	report := models.PreprocessReport{InputLength: n}

	if ma := seq.RawCurrentMA; ma != nil && (*ma < LoopCurrentMinMA || *ma > LoopCurrentMaxMA) {
		return nil, fmt.Errorf("%w: loop current %.2f mA outside %.0f-%.0f mA",
			models.ErrSensorFault, *ma, LoopCurrentMinMA, LoopCurrentMaxMA)
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: empty sequence", models.ErrInsufficientData)
	}

	values := make([]float64, n)
	copy(values, seq.Values)

	faults := 0
	for i, v := range values {
		if profile.IsFaultSample(v) {
			faults++
			values[i] = math.NaN()
		}
	}
	report.FaultFraction = float64(faults) / float64(n)
	if report.FaultFraction > p.opts.FaultFraction {
		return nil, fmt.Errorf("%w: %d of %d samples are burnout or out of range",
			models.ErrSensorFault, faults, n)
	}

	if n < p.opts.MinSamples {
		return nil, fmt.Errorf("%w: %d samples, minimum %d",
			models.ErrInsufficientData, n, p.opts.MinSamples)
	}

	gaps := 0
	for _, v := range values {
		if !isFinite(v) {
			gaps++
		}
	}
	if float64(gaps) > float64(n)*p.opts.MaxNaNFraction {
		return nil, fmt.Errorf("%w: %d of %d samples missing",
			models.ErrInsufficientData, gaps, n)
	}

	filled, longest, err := fillGaps(values, p.opts.MaxGapWidth)
	if err != nil {
		return nil, err
	}
	report.GapsFilled = filled
	report.LongestGap = longest

	mean, std := stat.MeanStdDev(values, nil)
	report.Mean = mean
	report.StdDev = std

	return &Cleaned{
		Values:    values,
		Centered:  Center(values),
		Detrended: Detrend(values),
		Mean:      mean,
		StdDev:    std,
		Report:    report,
	}, nil
}

// Center returns x minus its mean.
func Center(x []float64) []float64 {
	mean := stat.Mean(x, nil)
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = v - mean
	}
	return out
}

// Detrend removes the least-squares line fitted against sample index.
func Detrend(x []float64) []float64 {
	out := make([]float64, len(x))
	if len(x) < 2 {
		return out
	}
	idx := Index(len(x))
	intercept, slope := stat.LinearRegression(idx, x, nil, false)
	for i, v := range x {
		out[i] = v - (intercept + slope*idx[i])
	}
	return out
}

// Index returns 0, 1, ..., n-1 as float64.
func Index(n int) []float64 {
	idx := make([]float64, n)
	for i := range idx {
		idx[i] = float64(i)
	}
	return idx
}

// ─── Helpers ──────────────────────────────────────────────────────────────────

// fillGaps interpolates non-finite runs in place. Runs touching either end
// take the nearest finite value. Returns the number of samples filled and
// the longest run.
func fillGaps(x []float64, maxWidth int) (int, int, error) {
	n := len(x)
	filled, longest := 0, 0

	i := 0
	for i < n {
		if isFinite(x[i]) {
			i++
			continue
		}
		start := i
		for i < n && !isFinite(x[i]) {
			i++
		}
		width := i - start
		if width > longest {
			longest = width
		}
		if width > maxWidth {
			return filled, longest, fmt.Errorf("%w: gap of %d samples at index %d exceeds %d",
				models.ErrInsufficientData, width, start, maxWidth)
		}

		switch {
		case start == 0 && i == n:
			return filled, longest, fmt.Errorf("%w: no finite samples", models.ErrInsufficientData)
		case start == 0:
			for k := start; k < i; k++ {
				x[k] = x[i]
			}
		case i == n:
			for k := start; k < i; k++ {
				x[k] = x[start-1]
			}
		default:
			left, right := x[start-1], x[i]
			step := (right - left) / float64(width+1)
			for k := start; k < i; k++ {
				x[k] = left + step*float64(k-start+1)
			}
		}
		filled += width
	}
	return filled, longest, nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
