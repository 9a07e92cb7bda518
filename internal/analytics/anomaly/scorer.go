package anomaly

import (
	"fmt"
	"math"

	"github.com/kubilitics/sensordx/internal/models"
)

// Score returns the mean windowed reconstruction error of values divided by
// the model's scale. Windows slide by half the window size. A nil model
// yields models.ErrBaselineUnavailable.
func Score(values []float64, model BaselineModel) (float64, error) {
	if model == nil {
		return 0, fmt.Errorf("%w: no trained model", models.ErrBaselineUnavailable)
	}
	w := model.WindowSize()
	if w < 1 {
		return 0, fmt.Errorf("%w: model window size %d", models.ErrNumericDegenerate, w)
	}
	if len(values) < w {
		return 0, fmt.Errorf("%w: %d samples for a %d-sample window",
			models.ErrInsufficientData, len(values), w)
	}
	scale := model.Scale()
	if scale <= 0 || math.IsNaN(scale) || math.IsInf(scale, 0) {
		return 0, fmt.Errorf("%w: model scale %v", models.ErrNumericDegenerate, scale)
	}

	stride := w / 2
	if stride < 1 {
		stride = 1
	}

	total, windows := 0.0, 0
	for start := 0; start+w <= len(values); start += stride {
		e, err := windowError(model, values[start:start+w])
		if err != nil {
			return 0, fmt.Errorf("reconstruct window at %d: %w", start, err)
		}
		total += e
		windows++
	}
	return total / float64(windows) / scale, nil
}
