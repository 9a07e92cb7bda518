package anomaly

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/kubilitics/sensordx/internal/models"
)

// ModelKindPCA is the Kind recorded for PCA baselines.
const ModelKindPCA = "pca"

// TrainOptions configures baseline training.
type TrainOptions struct {
	WindowSize int `json:"window_size" yaml:"window_size"`
	Components int `json:"components" yaml:"components"`
	// MinSamples is the shortest history accepted for training.
	MinSamples int `json:"min_samples" yaml:"min_samples"`
	// MaxWindows caps the number of training windows; the most recent
	// samples are used.
	MaxWindows int `json:"max_windows" yaml:"max_windows"`
	// Percentile of training error used as the scale.
	Percentile float64 `json:"percentile" yaml:"percentile"`
}

// DefaultTrainOptions returns window 10, 3 components, p99 calibration.
func DefaultTrainOptions() TrainOptions {
	return TrainOptions{
		WindowSize: 10,
		Components: 3,
		MinSamples: 100,
		MaxWindows: 2000,
		Percentile: 0.99,
	}
}

func (o TrainOptions) withDefaults() TrainOptions {
	def := DefaultTrainOptions()
	if o.WindowSize < 2 {
		o.WindowSize = def.WindowSize
	}
	if o.Components < 1 {
		o.Components = def.Components
	}
	if o.Components > o.WindowSize {
		o.Components = o.WindowSize
	}
	if o.MinSamples < o.WindowSize*2 {
		o.MinSamples = max(def.MinSamples, o.WindowSize*2)
	}
	if o.MaxWindows < 1 {
		o.MaxWindows = def.MaxWindows
	}
	if o.Percentile <= 0 || o.Percentile > 1 {
		o.Percentile = def.Percentile
	}
	return o
}

// pcaModel is a linear autoencoder over standardised windows.
type pcaModel struct {
	version    string
	sensorType models.SensorType
	window     int
	center     float64   // standardisation offset
	spread     float64   // standardisation divisor
	mean       []float64 // per-position mean of standardised windows
	components *mat.Dense
	scale      float64
	trainedAt  time.Time
	samples    int
}

func (m *pcaModel) Version() string               { return m.version }
func (m *pcaModel) SensorType() models.SensorType { return m.sensorType }
func (m *pcaModel) WindowSize() int               { return m.window }
func (m *pcaModel) Scale() float64                { return m.scale }

// TrainedAt is when the model was fitted.
func (m *pcaModel) TrainedAt() time.Time { return m.trainedAt }

// Reconstruct projects the window onto the principal subspace and back.
func (m *pcaModel) Reconstruct(window []float64) ([]float64, error) {
	if len(window) != m.window {
		return nil, fmt.Errorf("window of %d samples, model expects %d", len(window), m.window)
	}

	d := mat.NewVecDense(m.window, nil)
	for i, v := range window {
		d.SetVec(i, (v-m.center)/m.spread-m.mean[i])
	}

	_, k := m.components.Dims()
	coeffs := mat.NewVecDense(k, nil)
	coeffs.MulVec(m.components.T(), d)
	proj := mat.NewVecDense(m.window, nil)
	proj.MulVec(m.components, coeffs)

	out := make([]float64, m.window)
	for i := range out {
		out[i] = (proj.AtVec(i)+m.mean[i])*m.spread + m.center
	}
	return out, nil
}

// Train fits a PCA baseline to history. Non-finite samples are rejected;
// clean the history first.
func Train(history []float64, sensorType models.SensorType, opts TrainOptions) (BaselineModel, error) {
	opts = opts.withDefaults()
	if len(history) < opts.MinSamples {
		return nil, fmt.Errorf("%w: training needs %d samples, got %d",
			models.ErrInsufficientData, opts.MinSamples, len(history))
	}
	for i, v := range history {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: non-finite training sample at %d", models.ErrInsufficientData, i)
		}
	}

	center, spread := stat.PopMeanStdDev(history, nil)
	if spread < 1e-12 {
		return nil, fmt.Errorf("%w: training history is constant", models.ErrNumericDegenerate)
	}

	w := opts.WindowSize
	rows := len(history) - w + 1
	if rows > opts.MaxWindows {
		history = history[len(history)-(opts.MaxWindows+w-1):]
		rows = opts.MaxWindows
	}

	data := mat.NewDense(rows, w, nil)
	for r := 0; r < rows; r++ {
		for c := 0; c < w; c++ {
			data.Set(r, c, (history[r+c]-center)/spread)
		}
	}

	mean := make([]float64, w)
	for c := 0; c < w; c++ {
		mean[c] = stat.Mean(mat.Col(nil, c, data), nil)
	}

	cov := mat.NewSymDense(w, nil)
	stat.CovarianceMatrix(cov, data, nil)

	var eig mat.EigenSym
	if ok := eig.Factorize(cov, true); !ok {
		return nil, fmt.Errorf("%w: eigendecomposition failed", models.ErrNumericDegenerate)
	}
	values := eig.Values(nil)
	var vectors mat.Dense
	eig.VectorsTo(&vectors)

	// Eigenvalues come back ascending; keep the largest k.
	order := make([]int, w)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return values[order[a]] > values[order[b]] })

	k := opts.Components
	components := mat.NewDense(w, k, nil)
	for j := 0; j < k; j++ {
		for i := 0; i < w; i++ {
			components.Set(i, j, vectors.At(i, order[j]))
		}
	}

	model := &pcaModel{
		version:    newVersion(),
		sensorType: sensorType,
		window:     w,
		center:     center,
		spread:     spread,
		mean:       mean,
		components: components,
		trainedAt:  time.Now().UTC(),
		samples:    len(history),
	}

	errs := make([]float64, 0, rows)
	for r := 0; r < rows; r++ {
		e, err := windowError(model, history[r:r+w])
		if err != nil {
			return nil, err
		}
		errs = append(errs, e)
	}
	sort.Float64s(errs)
	scale := stat.Quantile(opts.Percentile, stat.Empirical, errs, nil)

	// A perfectly reconstructible history would make any deviation infinite.
	floor := 1e-6 * spread * spread
	if scale < floor {
		scale = floor
	}
	model.scale = scale
	return model, nil
}

// ─── Helpers ──────────────────────────────────────────────────────────────────

func newVersion() string {
	return ModelKindPCA + "-" + uuid.NewString()
}

// windowError is the mean squared residual of one window.
func windowError(m BaselineModel, window []float64) (float64, error) {
	recon, err := m.Reconstruct(window)
	if err != nil {
		return 0, err
	}
	ss := 0.0
	for i, v := range window {
		d := v - recon[i]
		ss += d * d
	}
	return ss / float64(len(window)), nil
}
