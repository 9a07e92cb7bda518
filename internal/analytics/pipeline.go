package analytics

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kubilitics/sensordx/internal/analytics/anomaly"
	"github.com/kubilitics/sensordx/internal/analytics/timeseries"
	"github.com/kubilitics/sensordx/internal/metrics"
	"github.com/kubilitics/sensordx/internal/models"
	"github.com/kubilitics/sensordx/pkg/types"
)

var (
	// ErrSuperseded is returned by a job cancelled by a newer submission for
	// the same sensor.
	ErrSuperseded = errors.New("diagnosis superseded by a newer submission")

	// ErrUnknownSensor is returned for sensor IDs that were never registered.
	ErrUnknownSensor = errors.New("unknown sensor")

	// ErrInvalidSensorID is returned when a sensor ID cannot be used as a
	// storage key.
	ErrInvalidSensorID = errors.New("invalid sensor id")
)

var sensorIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:-]{0,127}$`)

// ValidateSensorID checks that id is usable as a store key.
func ValidateSensorID(id string) error {
	if !sensorIDPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidSensorID, id)
	}
	return nil
}

// Result sources.
const (
	SourceAPI  = "api"
	SourceLive = "live"
	SourceAMQP = "amqp"
)

// PipelineConfig configures the live pipeline.
type PipelineConfig struct {
	// Workers bounds the number of concurrent diagnoses.
	Workers int `json:"workers" yaml:"workers"`

	// DiagnoseInterval is the period of the background loop; zero disables it.
	DiagnoseInterval time.Duration `json:"diagnose_interval" yaml:"diagnose_interval"`

	// LiveWindow is the number of newest samples diagnosed per live run.
	LiveWindow int `json:"live_window" yaml:"live_window"`

	// JobTimeout caps a single diagnosis; zero means no cap.
	JobTimeout time.Duration `json:"job_timeout" yaml:"job_timeout"`

	// TrainHistory is the number of stored samples used to train a baseline.
	TrainHistory int `json:"train_history" yaml:"train_history"`

	Train anomaly.TrainOptions `json:"train" yaml:"train"`

	// SubscriberBuffer is the channel capacity of each subscriber.
	SubscriberBuffer int `json:"subscriber_buffer" yaml:"subscriber_buffer"`
}

// DefaultPipelineConfig returns the production pipeline settings.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		Workers:          4,
		DiagnoseInterval: 30 * time.Second,
		LiveWindow:       1000,
		JobTimeout:       30 * time.Second,
		TrainHistory:     20000,
		Train:            anomaly.DefaultTrainOptions(),
		SubscriberBuffer: 64,
	}
}

func (c PipelineConfig) withDefaults() PipelineConfig {
	def := DefaultPipelineConfig()
	if c.Workers <= 0 {
		c.Workers = def.Workers
	}
	if c.LiveWindow <= 0 {
		c.LiveWindow = def.LiveWindow
	}
	if c.TrainHistory <= 0 {
		c.TrainHistory = def.TrainHistory
	}
	if c.SubscriberBuffer <= 0 {
		c.SubscriberBuffer = def.SubscriberBuffer
	}
	return c
}

// Sensor is a registered live sensor.
type Sensor struct {
	ID        string            `json:"id"`
	Type      models.SensorType `json:"type"`
	Interval  time.Duration     `json:"interval"`
	Overrides Overrides         `json:"overrides"`
	CreatedAt time.Time         `json:"created_at"`
}

// DiagnosisEvent is one completed diagnosis as seen by subscribers.
type DiagnosisEvent struct {
	ID       string                  `json:"id"`
	SensorID string                  `json:"sensor_id,omitempty"`
	Source   string                  `json:"source"`
	At       time.Time               `json:"at"`
	Duration time.Duration           `json:"duration"`
	Result   *models.DiagnosisResult `json:"result"`
}

// API converts the event to its wire form.
func (e DiagnosisEvent) API() types.Diagnosis {
	return types.Diagnosis{
		ID:         e.ID,
		SensorID:   e.SensorID,
		Source:     e.Source,
		At:         e.At,
		DurationMs: e.Duration.Milliseconds(),
		Result:     e.Result,
	}
}

// ResultSink receives every completed diagnosis (persistence, audit).
type ResultSink func(ctx context.Context, ev DiagnosisEvent)

// BaselineSink receives every newly trained baseline before it is installed.
// An error aborts the swap.
type BaselineSink func(ctx context.Context, sensorID string, model anomaly.BaselineModel) error

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithLogger sets the pipeline logger.
func WithLogger(l *zap.Logger) PipelineOption {
	return func(p *Pipeline) { p.logger = l }
}

// WithResultSink registers a sink for completed diagnoses.
func WithResultSink(s ResultSink) PipelineOption {
	return func(p *Pipeline) { p.resultSinks = append(p.resultSinks, s) }
}

// WithBaselineSink registers a sink for trained baselines.
func WithBaselineSink(s BaselineSink) PipelineOption {
	return func(p *Pipeline) { p.baselineSink = s }
}

type job struct {
	cancel context.CancelCauseFunc
}

// Pipeline schedules diagnoses on a bounded worker pool, supersedes stale
// jobs per sensor and owns the live sample store and the baseline registry.
type Pipeline struct {
	mu sync.RWMutex

	cfg       PipelineConfig
	engine    *Engine
	store     *timeseries.Tiered
	baselines *anomaly.Registry
	logger    *zap.Logger

	sem          chan struct{}
	resultSinks  []ResultSink
	baselineSink BaselineSink

	sensors  map[string]*Sensor
	inflight map[string]*job
	last     map[string]DiagnosisEvent

	subMu   sync.RWMutex
	subs    map[int]chan DiagnosisEvent
	nextSub int

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewPipeline creates a live pipeline around engine and store.
func NewPipeline(cfg PipelineConfig, engine *Engine, store *timeseries.Tiered, opts ...PipelineOption) (*Pipeline, error) {
	if engine == nil {
		return nil, fmt.Errorf("pipeline requires an engine")
	}
	if store == nil {
		store = timeseries.NewTiered(nil, nil)
	}
	cfg = cfg.withDefaults()

	p := &Pipeline{
		cfg:       cfg,
		engine:    engine,
		store:     store,
		baselines: anomaly.NewRegistry(),
		logger:    zap.NewNop(),
		sem:       make(chan struct{}, cfg.Workers),
		sensors:   make(map[string]*Sensor),
		inflight:  make(map[string]*job),
		last:      make(map[string]DiagnosisEvent),
		subs:      make(map[int]chan DiagnosisEvent),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Engine returns the diagnostic engine.
func (p *Pipeline) Engine() *Engine { return p.engine }

// Store returns the sample store.
func (p *Pipeline) Store() *timeseries.Tiered { return p.store }

// Baselines returns the baseline registry.
func (p *Pipeline) Baselines() *anomaly.Registry { return p.baselines }

// Config returns the effective configuration.
func (p *Pipeline) Config() PipelineConfig { return p.cfg }

// ─── Lifecycle ────────────────────────────────────────────────────────────────

// Start begins the background diagnose loop. It is a no-op when
// DiagnoseInterval is zero.
func (p *Pipeline) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		if p.cfg.DiagnoseInterval <= 0 {
			close(p.doneCh)
			return
		}
		go func() {
			defer close(p.doneCh)
			ticker := time.NewTicker(p.cfg.DiagnoseInterval)
			defer ticker.Stop()

			for {
				select {
				case <-ticker.C:
					p.diagnoseAll(ctx)
				case <-p.stopCh:
					return
				case <-ctx.Done():
					return
				}
			}
		}()
	})
}

// Stop halts the loop, cancels in-flight jobs and closes subscriber channels.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
		p.startOnce.Do(func() { close(p.doneCh) })
		<-p.doneCh

		p.mu.Lock()
		for id, j := range p.inflight {
			j.cancel(context.Canceled)
			delete(p.inflight, id)
		}
		p.mu.Unlock()

		p.subMu.Lock()
		for id, ch := range p.subs {
			close(ch)
			delete(p.subs, id)
		}
		p.subMu.Unlock()
	})
}

// ─── Sensors ──────────────────────────────────────────────────────────────────

// RegisterSensor adds or replaces a live sensor. A replaced sensor keeps its
// samples and baseline unless the type changed, in which case the baseline
// is dropped.
func (p *Pipeline) RegisterSensor(s Sensor) (Sensor, error) {
	if err := ValidateSensorID(s.ID); err != nil {
		return Sensor{}, err
	}
	if !s.Type.Valid() {
		s.Type = models.ParseSensorType(string(s.Type))
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}

	p.mu.Lock()
	prev, existed := p.sensors[s.ID]
	p.sensors[s.ID] = &s
	count := len(p.sensors)
	p.mu.Unlock()

	if existed && prev.Type != s.Type {
		p.baselines.Remove(s.ID)
	}
	metrics.LiveSensors.Set(float64(count))
	p.logger.Info("sensor registered",
		zap.String("sensor_id", s.ID),
		zap.String("sensor_type", string(s.Type)),
		zap.Bool("replaced", existed),
	)
	return s, nil
}

// Sensor returns the registered sensor.
func (p *Pipeline) Sensor(id string) (Sensor, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.sensors[id]
	if !ok {
		return Sensor{}, false
	}
	return *s, true
}

// Sensors lists registered sensors sorted by ID.
func (p *Pipeline) Sensors() []Sensor {
	p.mu.RLock()
	out := make([]Sensor, 0, len(p.sensors))
	for _, s := range p.sensors {
		out = append(out, *s)
	}
	p.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RemoveSensor cancels any in-flight job and drops the sensor's samples,
// baseline and last result.
func (p *Pipeline) RemoveSensor(ctx context.Context, id string) error {
	p.mu.Lock()
	if _, ok := p.sensors[id]; !ok {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownSensor, id)
	}
	delete(p.sensors, id)
	delete(p.last, id)
	if j, ok := p.inflight[id]; ok {
		j.cancel(context.Canceled)
		delete(p.inflight, id)
	}
	count := len(p.sensors)
	p.mu.Unlock()

	metrics.LiveSensors.Set(float64(count))
	p.baselines.Remove(id)
	if err := p.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete samples of %s: %w", id, err)
	}
	return nil
}

// ─── Ingest ───────────────────────────────────────────────────────────────────

// Ingest appends samples for a registered sensor.
func (p *Pipeline) Ingest(ctx context.Context, sensorID string, points []timeseries.Point, source string) error {
	if _, ok := p.Sensor(sensorID); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSensor, sensorID)
	}
	if len(points) == 0 {
		return nil
	}
	if err := p.store.Append(ctx, sensorID, points); err != nil {
		return fmt.Errorf("failed to store samples of %s: %w", sensorID, err)
	}
	metrics.SamplesIngested.WithLabelValues(source).Add(float64(len(points)))
	return nil
}

// ─── Diagnosis ────────────────────────────────────────────────────────────────

// Diagnose runs a one-shot diagnosis of req. With a sensorID the sensor's
// current baseline is used and the job supersedes any in-flight job for the
// same sensor; without one the request is diagnosed without a baseline.
func (p *Pipeline) Diagnose(ctx context.Context, sensorID string, req Request, source string) (DiagnosisEvent, error) {
	if sensorID != "" {
		s, ok := p.Sensor(sensorID)
		if !ok {
			return DiagnosisEvent{}, fmt.Errorf("%w: %s", ErrUnknownSensor, sensorID)
		}
		if req.SensorType == "" {
			req.SensorType = s.Type
		}
	}
	return p.run(ctx, sensorID, req, source)
}

// DiagnoseLive diagnoses the newest LiveWindow samples of a sensor.
func (p *Pipeline) DiagnoseLive(ctx context.Context, sensorID string) (DiagnosisEvent, error) {
	s, ok := p.Sensor(sensorID)
	if !ok {
		return DiagnosisEvent{}, fmt.Errorf("%w: %s", ErrUnknownSensor, sensorID)
	}
	points, err := p.store.Window(ctx, sensorID, p.cfg.LiveWindow)
	if err != nil {
		return DiagnosisEvent{}, err
	}
	req := Request{
		SensorType: s.Type,
		Samples: models.SampleSequence{
			Values:     timeseries.Values(points),
			Timestamps: timeseries.Times(points),
			Interval:   s.Interval,
		},
		Overrides: s.Overrides,
	}
	return p.run(ctx, sensorID, req, SourceLive)
}

// run executes one job on a worker slot.
func (p *Pipeline) run(ctx context.Context, sensorID string, req Request, source string) (DiagnosisEvent, error) {
	jobCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	if p.cfg.JobTimeout > 0 {
		var stop context.CancelFunc
		jobCtx, stop = context.WithTimeout(jobCtx, p.cfg.JobTimeout)
		defer stop()
	}

	var j *job
	if sensorID != "" {
		j = &job{cancel: cancel}
		p.mu.Lock()
		if prev, ok := p.inflight[sensorID]; ok {
			prev.cancel(ErrSuperseded)
		}
		p.inflight[sensorID] = j
		p.mu.Unlock()
		defer p.release(sensorID, j)
	}

	select {
	case p.sem <- struct{}{}:
	case <-jobCtx.Done():
		return DiagnosisEvent{}, p.jobError(jobCtx, sensorID)
	}
	metrics.JobsInFlight.Inc()
	defer func() {
		<-p.sem
		metrics.JobsInFlight.Dec()
	}()

	// The baseline is read once; a concurrent swap affects the next job.
	var model anomaly.BaselineModel
	if sensorID != "" {
		model = p.baselines.Current(sensorID)
	}

	start := time.Now()
	result, err := p.engine.Diagnose(jobCtx, req, model)
	if err != nil {
		return DiagnosisEvent{}, p.jobError(jobCtx, sensorID)
	}
	elapsed := time.Since(start)

	ev := DiagnosisEvent{
		ID:       uuid.NewString(),
		SensorID: sensorID,
		Source:   source,
		At:       time.Now().UTC(),
		Duration: elapsed,
		Result:   result,
	}
	p.observe(ev)
	p.publish(ctx, ev)
	return ev, nil
}

func (p *Pipeline) release(sensorID string, j *job) {
	p.mu.Lock()
	if p.inflight[sensorID] == j {
		delete(p.inflight, sensorID)
	}
	p.mu.Unlock()
}

func (p *Pipeline) jobError(ctx context.Context, sensorID string) error {
	cause := context.Cause(ctx)
	if errors.Is(cause, ErrSuperseded) {
		metrics.SupersededJobs.Inc()
		p.logger.Debug("diagnosis superseded", zap.String("sensor_id", sensorID))
		return ErrSuperseded
	}
	if cause == nil {
		cause = ctx.Err()
	}
	return fmt.Errorf("diagnosis of %q aborted: %w", sensorID, cause)
}

func (p *Pipeline) observe(ev DiagnosisEvent) {
	r := ev.Result
	st := string(r.SensorType)
	metrics.DiagnosesTotal.WithLabelValues(st, string(r.Status)).Inc()
	metrics.DiagnosisDuration.WithLabelValues(st).Observe(ev.Duration.Seconds())
	if r.Status == models.StatusFault {
		metrics.SensorFaults.WithLabelValues(st).Inc()
	}
	for name, m := range r.Metrics {
		if !m.Available {
			metrics.UnavailableMetrics.WithLabelValues(string(name), m.Reason).Inc()
		}
	}

	p.logger.Info("diagnosis completed",
		zap.String("diagnosis_id", ev.ID),
		zap.String("sensor_id", ev.SensorID),
		zap.String("sensor_type", st),
		zap.String("source", ev.Source),
		zap.Float64("health_score", r.HealthScore),
		zap.String("status", string(r.Status)),
		zap.String("code", r.DiagnosisCode),
		zap.Duration("duration", ev.Duration),
	)
}

// ─── Results ──────────────────────────────────────────────────────────────────

// Subscribe returns a channel of completed diagnoses and a function that
// unsubscribes. A subscriber that falls behind loses events.
func (p *Pipeline) Subscribe() (<-chan DiagnosisEvent, func()) {
	ch := make(chan DiagnosisEvent, p.cfg.SubscriberBuffer)
	p.subMu.Lock()
	id := p.nextSub
	p.nextSub++
	p.subs[id] = ch
	p.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.subMu.Lock()
			if c, ok := p.subs[id]; ok {
				close(c)
				delete(p.subs, id)
			}
			p.subMu.Unlock()
		})
	}
}

// LastResult returns the newest diagnosis of a sensor.
func (p *Pipeline) LastResult(sensorID string) (DiagnosisEvent, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ev, ok := p.last[sensorID]
	return ev, ok
}

func (p *Pipeline) publish(ctx context.Context, ev DiagnosisEvent) {
	if ev.SensorID != "" {
		p.mu.Lock()
		if _, ok := p.sensors[ev.SensorID]; ok {
			p.last[ev.SensorID] = ev
		}
		p.mu.Unlock()
	}

	p.subMu.RLock()
	for _, ch := range p.subs {
		select {
		case ch <- ev:
		default:
			metrics.WebSocketMessagesTotal.WithLabelValues("dropped").Inc()
		}
	}
	p.subMu.RUnlock()

	for _, sink := range p.resultSinks {
		sink(ctx, ev)
	}
}

// ─── Baselines ────────────────────────────────────────────────────────────────

// TrainBaseline trains a baseline for a registered sensor and installs it.
// With no history the sensor's stored samples are used.
func (p *Pipeline) TrainBaseline(ctx context.Context, sensorID string, history []float64) (anomaly.Info, error) {
	s, ok := p.Sensor(sensorID)
	if !ok {
		return anomaly.Info{}, fmt.Errorf("%w: %s", ErrUnknownSensor, sensorID)
	}
	if len(history) == 0 {
		points, err := p.store.History(ctx, sensorID, p.cfg.TrainHistory)
		if err != nil {
			return anomaly.Info{}, fmt.Errorf("failed to load training history: %w", err)
		}
		history = finiteValues(points)
	}

	model, err := anomaly.Train(history, s.Type, p.cfg.Train)
	if err != nil {
		metrics.BaselineTrainings.WithLabelValues(string(s.Type), "failure").Inc()
		return anomaly.Info{}, fmt.Errorf("failed to train baseline for %s: %w", sensorID, err)
	}
	metrics.BaselineTrainings.WithLabelValues(string(s.Type), "success").Inc()

	if p.baselineSink != nil {
		if err := p.baselineSink(ctx, sensorID, model); err != nil {
			return anomaly.Info{}, fmt.Errorf("failed to persist baseline for %s: %w", sensorID, err)
		}
	}
	if err := p.InstallBaseline(sensorID, model); err != nil {
		return anomaly.Info{}, err
	}
	return anomaly.Describe(model), nil
}

// InstallBaseline swaps in a model for a registered sensor. The model must
// have been trained for the sensor's type.
func (p *Pipeline) InstallBaseline(sensorID string, model anomaly.BaselineModel) error {
	s, ok := p.Sensor(sensorID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSensor, sensorID)
	}
	if model == nil {
		return fmt.Errorf("%w: nil model", models.ErrBaselineUnavailable)
	}
	if model.SensorType() != s.Type {
		return fmt.Errorf("baseline type %s does not match sensor type %s", model.SensorType(), s.Type)
	}
	prev := p.baselines.Swap(sensorID, model)
	metrics.BaselineSwaps.WithLabelValues(string(s.Type)).Inc()

	fields := []zap.Field{
		zap.String("sensor_id", sensorID),
		zap.String("version", model.Version()),
	}
	if prev != nil {
		fields = append(fields, zap.String("previous", prev.Version()))
	}
	p.logger.Info("baseline installed", fields...)
	return nil
}

// Baseline returns the sensor's current baseline, or nil.
func (p *Pipeline) Baseline(sensorID string) anomaly.BaselineModel {
	return p.baselines.Current(sensorID)
}

// ─── Internal ─────────────────────────────────────────────────────────────────

// diagnoseAll diagnoses every sensor with live samples and waits for the
// round to finish, so ticks never pile up.
func (p *Pipeline) diagnoseAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, s := range p.Sensors() {
		if p.store.Hot().Len(s.ID) == 0 {
			continue
		}
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := p.DiagnoseLive(ctx, id); err != nil && !errors.Is(err, ErrSuperseded) {
				p.logger.Warn("live diagnosis failed", zap.String("sensor_id", id), zap.Error(err))
			}
		}(s.ID)
	}
	wg.Wait()
}

func finiteValues(points []timeseries.Point) []float64 {
	out := make([]float64, 0, len(points))
	for _, v := range timeseries.Values(points) {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out = append(out, v)
		}
	}
	return out
}
