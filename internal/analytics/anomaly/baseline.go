package anomaly

import "github.com/kubilitics/sensordx/internal/models"

// Package anomaly scores how far a sample sequence departs from a learned
// baseline of normal behaviour.
//
// Responsibilities:
//   - Define the BaselineModel contract the engine scores against
//   - Train baselines from historical samples (out of band from diagnosis)
//   - Score a sequence as a calibrated reconstruction error
//   - Hold the current baseline per sensor and swap it atomically
//   - Serialise baselines for the persistence layer
//
// Model family: linear autoencoder (PCA)
//   - Samples are standardised, cut into sliding windows and projected onto
//     the top principal axes of the training windows
//   - Reconstruction = projection back into window space
//   - Error = mean squared residual per window
//   - Scale = 99th percentile of the training windows' error, so an error
//     of 1.0 sits on the anomaly threshold
//
// The family is hidden behind BaselineModel. The scorer and the engine only
// see Reconstruct and Scale, so another model family can be dropped in
// without touching them.
//
// Lifecycle:
//   - Created by Train at calibration time
//   - Read by every diagnosis call; the caller passes the model in
//   - Replaced wholesale by Registry.Swap on retraining, never mutated
//   - A missing model is ErrBaselineUnavailable, never a zero score
//
// Integration Points:
//   - Engine: receives the model per call and calls Score
//   - Pipeline: owns the Registry and triggers training
//   - SQLite store: persists Encode output per sensor

// BaselineModel is an immutable, calibrated reconstruction function.
type BaselineModel interface {
	// Version identifies this trained instance.
	Version() string

	// SensorType is the type the model was trained for.
	SensorType() models.SensorType

	// WindowSize is the number of samples Reconstruct expects.
	WindowSize() int

	// Reconstruct maps a window of raw samples to the model's expected
	// window. len(window) must equal WindowSize.
	Reconstruct(window []float64) ([]float64, error)

	// Scale is the calibrated reconstruction-error scale (mean squared
	// error at the anomaly threshold).
	Scale() float64
}
