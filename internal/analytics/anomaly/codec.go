package anomaly

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"
	"gonum.org/v1/gonum/mat"

	"github.com/kubilitics/sensordx/internal/models"
)

// Snapshot is the serialised form of a baseline.
type Snapshot struct {
	Kind       string            `json:"kind"`
	Version    string            `json:"version"`
	SensorType models.SensorType `json:"sensor_type"`
	WindowSize int               `json:"window_size"`
	Center     float64           `json:"center"`
	Spread     float64           `json:"spread"`
	Mean       []float64         `json:"mean"`
	Components [][]float64       `json:"components"` // one row per principal axis
	Scale      float64           `json:"scale"`
	TrainedAt  time.Time         `json:"trained_at"`
	Samples    int               `json:"samples"`
}

// Info is baseline metadata safe to expose over the API.
type Info struct {
	Version    string            `json:"version"`
	Kind       string            `json:"kind"`
	SensorType models.SensorType `json:"sensor_type"`
	WindowSize int               `json:"window_size"`
	Components int               `json:"components"`
	Scale      float64           `json:"scale"`
	TrainedAt  time.Time         `json:"trained_at"`
	Samples    int               `json:"samples"`
}

// Describe returns metadata for any BaselineModel.
func Describe(m BaselineModel) Info {
	info := Info{
		Version:    m.Version(),
		SensorType: m.SensorType(),
		WindowSize: m.WindowSize(),
		Scale:      m.Scale(),
	}
	if p, ok := m.(*pcaModel); ok {
		info.Kind = ModelKindPCA
		_, info.Components = p.components.Dims()
		info.TrainedAt = p.trainedAt
		info.Samples = p.samples
	}
	return info
}

var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	decoder, _ = zstd.NewReader(nil)
)

// Encode serialises a model as zstd-compressed JSON.
func Encode(m BaselineModel) ([]byte, error) {
	p, ok := m.(*pcaModel)
	if !ok {
		return nil, fmt.Errorf("encode baseline: unsupported model %T", m)
	}
	rows, k := p.components.Dims()
	axes := make([][]float64, k)
	for j := 0; j < k; j++ {
		axes[j] = mat.Col(nil, j, p.components)
	}
	snap := Snapshot{
		Kind:       ModelKindPCA,
		Version:    p.version,
		SensorType: p.sensorType,
		WindowSize: rows,
		Center:     p.center,
		Spread:     p.spread,
		Mean:       p.mean,
		Components: axes,
		Scale:      p.scale,
		TrainedAt:  p.trainedAt,
		Samples:    p.samples,
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encode baseline: %w", err)
	}
	return encoder.EncodeAll(raw, make([]byte, 0, len(raw)/2)), nil
}

// Decode is the inverse of Encode.
func Decode(blob []byte) (BaselineModel, error) {
	raw, err := decoder.DecodeAll(blob, nil)
	if err != nil {
		return nil, fmt.Errorf("decode baseline: decompression failed: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("decode baseline: %w", err)
	}
	if snap.Kind != ModelKindPCA {
		return nil, fmt.Errorf("decode baseline: unknown kind %q", snap.Kind)
	}
	w := snap.WindowSize
	if w < 1 || len(snap.Mean) != w || len(snap.Components) == 0 || snap.Spread <= 0 || snap.Scale <= 0 {
		return nil, fmt.Errorf("decode baseline: malformed snapshot %s", snap.Version)
	}

	components := mat.NewDense(w, len(snap.Components), nil)
	for j, axis := range snap.Components {
		if len(axis) != w {
			return nil, fmt.Errorf("decode baseline: axis %d has %d entries, want %d", j, len(axis), w)
		}
		components.SetCol(j, axis)
	}
	return &pcaModel{
		version:    snap.Version,
		sensorType: snap.SensorType,
		window:     w,
		center:     snap.Center,
		spread:     snap.Spread,
		mean:       snap.Mean,
		components: components,
		scale:      snap.Scale,
		trainedAt:  snap.TrainedAt,
		samples:    snap.Samples,
	}, nil
}
