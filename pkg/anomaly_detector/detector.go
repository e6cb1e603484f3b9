package anomaly_detector

import (
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	cn "github.com/jtomasevic/synapse-cad/pkg/context_network"
	"github.com/jtomasevic/synapse-cad/pkg/value_encoding"
)

// learningSeed opens every detector with a full refractory window, so the first
// RestPeriod samples are treated as learning and never reported.
const learningSeed = 1.0

// Result describes one scored sample.
type Result struct {
	// Score is what the caller should alert on: RawScore, or 0 when suppressed.
	Score    float64
	RawScore float64

	PredictionError float64
	PctActive       float64
	PctNew          float64

	Suppressed bool
	Clamped    bool
	Anomalous  bool

	NewContexts    int
	ActiveContexts int
	Graph          cn.Stats
}

// Detector scores one scalar stream. It is stateful and not safe for concurrent
// use: score each series with its own instance.
type Detector struct {
	id     uuid.UUID
	series string
	cfg    Config

	encoder  *value_encoding.Encoder
	operator *cn.Operator
	window   *scoreWindow

	// predicted is the previous step's prediction, the baseline for the next sample.
	predicted map[cn.Fact]struct{}

	steps int

	logger   *slog.Logger
	metrics  *Metrics
	listener AnomalyListener
}

type Option func(*Detector)

func WithLogger(logger *slog.Logger) Option {
	return func(d *Detector) {
		if logger != nil {
			d.logger = logger
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(d *Detector) { d.metrics = m }
}

func WithListener(l AnomalyListener) Option {
	return func(d *Detector) { d.listener = l }
}

// WithSeries names the stream in logs, metrics and anomaly events.
func WithSeries(name string) Option {
	return func(d *Detector) { d.series = name }
}

// NewDetector is the positional constructor: every parameter is required.
func NewDetector(
	minValue, maxValue, baseThreshold float64,
	restPeriod, maxLeftSemiContextLength, maxActiveNeurons, numNormValueBits int,
) (*Detector, error) {
	return New(Config{
		MinValue:                 minValue,
		MaxValue:                 maxValue,
		BaseThreshold:            baseThreshold,
		RestPeriod:               restPeriod,
		MaxLeftSemiContextLength: maxLeftSemiContextLength,
		MaxActiveNeurons:         maxActiveNeurons,
		NumNormValueBits:         numNormValueBits,
	})
}

func New(cfg Config, opts ...Option) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.OutOfRangePolicy == "" {
		cfg.OutOfRangePolicy = value_encoding.PolicyClamp
	}
	encoder, err := value_encoding.NewEncoder(cfg.MinValue, cfg.MaxValue, cfg.NumNormValueBits, cfg.OutOfRangePolicy)
	if err != nil {
		return nil, configError("encoder", "%v", err)
	}

	d := &Detector{
		id:        uuid.New(),
		series:    "default",
		cfg:       cfg,
		encoder:   encoder,
		operator:  cn.NewOperator(cfg.MaxLeftSemiContextLength, cfg.MaxActiveNeurons),
		window:    newScoreWindow(cfg.RestPeriod),
		predicted: map[cn.Fact]struct{}{},
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.window.Push(learningSeed)
	d.logger = d.logger.With("detector_id", d.id.String(), "series", d.series)
	return d, nil
}

func (d *Detector) ID() uuid.UUID   { return d.id }
func (d *Detector) Series() string  { return d.series }
func (d *Detector) Config() Config  { return d.cfg }
func (d *Detector) Steps() int      { return d.steps }
func (d *Detector) Stats() cn.Stats { return d.operator.Stats() }

// Score returns the anomaly score of value in [0, 1].
func (d *Detector) Score(value float64) (float64, error) {
	r, err := d.ScoreDetailed(value)
	if err != nil {
		return 0, err
	}
	return r.Score, nil
}

// ScoreDetailed scores value and reports the intermediate quantities.
// On error the detector state is left untouched.
func (d *Detector) ScoreDetailed(value float64) (Result, error) {
	started := time.Now()

	enc, err := d.encoder.Encode(value)
	if err != nil {
		d.logger.Warn("sample rejected", "step", d.steps, "value", value, "error", err)
		return Result{}, err
	}

	predictionError := d.predictionError(enc.Facts)

	step := d.operator.Step(enc.Facts)
	d.setPredicted(step.Predicted)

	raw := 0.0
	if predictionError > 0 {
		raw = (1.0 - step.PctActive + step.PctNew) / 2.0
	}

	score := raw
	suppressed := false
	if d.window.Max() >= d.cfg.BaseThreshold {
		score = 0
		suppressed = raw > 0
	}
	d.window.Push(raw)

	r := Result{
		Score:           score,
		RawScore:        raw,
		PredictionError: predictionError,
		PctActive:       step.PctActive,
		PctNew:          step.PctNew,
		Suppressed:      suppressed,
		Clamped:         enc.Clamped,
		Anomalous:       score > 0 && score >= d.cfg.BaseThreshold,
		NewContexts:     step.NewContexts,
		ActiveContexts:  len(step.Active),
		Graph:           d.operator.Stats(),
	}

	d.logger.Debug("sample scored",
		"step", d.steps,
		"value", value,
		"raw_score", raw,
		"score", score,
		"new_transition", step.NewTransition,
		"new_contexts", step.NewContexts,
		"active_contexts", len(step.Active),
	)
	if enc.Clamped {
		d.logger.Debug("sample clamped into encoder range", "step", d.steps, "value", value)
	}

	d.metrics.observe(d.series, r, time.Since(started).Seconds())

	if r.Anomalous {
		d.logger.Info("anomaly detected", "step", d.steps, "value", value, "score", score)
		if d.listener != nil {
			d.listener.OnAnomaly(AnomalyEvent{
				DetectorID: d.id,
				Series:     d.series,
				Step:       d.steps,
				Value:      value,
				Score:      score,
				Result:     r,
			})
		}
	}

	d.steps++
	return r, nil
}

// predictionError weighs every current fact the previous step failed to predict
// by 2^bit and normalizes by the largest encodable value.
func (d *Detector) predictionError(facts []cn.Fact) float64 {
	sum := 0.0
	for _, f := range facts {
		if _, ok := d.predicted[f]; !ok {
			sum += value_encoding.BitWeight(f)
		}
	}
	return sum / d.encoder.MaxBinValue()
}

func (d *Detector) setPredicted(facts []cn.Fact) {
	clear(d.predicted)
	for _, f := range facts {
		d.predicted[f] = struct{}{}
	}
}

// Predicted returns the facts expected at the next sample, sorted.
func (d *Detector) Predicted() []cn.Fact {
	out := make([]cn.Fact, 0, len(d.predicted))
	for f := range d.predicted {
		out = append(out, f)
	}
	return cn.UnionFacts(out, nil)
}
