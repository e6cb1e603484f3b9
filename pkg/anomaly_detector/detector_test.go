package anomaly_detector

import (
	"bytes"
	"errors"
	"log/slog"
	"math"
	"math/rand"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		MinValue:                 0,
		MaxValue:                 100,
		BaseThreshold:            0.75,
		RestPeriod:               5,
		MaxLeftSemiContextLength: 7,
		MaxActiveNeurons:         15,
		NumNormValueBits:         8,
	}
}

func stepSeries() []float64 {
	values := make([]float64, 0, 40)
	for i := 0; i < 20; i++ {
		values = append(values, 10)
	}
	for i := 0; i < 20; i++ {
		values = append(values, 90)
	}
	return values
}

func noisySeries(seed int64, n int) []float64 {
	rng := rand.New(rand.NewSource(seed))
	values := make([]float64, n)
	for i := range values {
		values[i] = 50 + 30*math.Sin(float64(i)/4) + rng.Float64()*20 - 10
	}
	return values
}

func scoreAll(t *testing.T, d *Detector, values []float64) []Result {
	t.Helper()
	out := make([]Result, 0, len(values))
	for _, v := range values {
		r, err := d.ScoreDetailed(v)
		require.NoError(t, err)
		out = append(out, r)
	}
	return out
}

func TestNewDetector_RejectsBadParameters(t *testing.T) {
	cases := []struct {
		name  string
		field string
		build func() (*Detector, error)
	}{
		{"max below min", "max_value", func() (*Detector, error) { return NewDetector(10, 0, 0.75, 5, 7, 15, 3) }},
		{"rest period zero", "rest_period", func() (*Detector, error) { return NewDetector(0, 1, 0.75, 0, 7, 15, 3) }},
		{"negative threshold", "base_threshold", func() (*Detector, error) { return NewDetector(0, 1, -0.1, 5, 7, 15, 3) }},
		{"negative left length", "max_left_semi_context_length", func() (*Detector, error) { return NewDetector(0, 1, 0.75, 5, -1, 15, 3) }},
		{"negative neurons", "max_active_neurons", func() (*Detector, error) { return NewDetector(0, 1, 0.75, 5, 7, -2, 3) }},
		{"zero bits", "num_norm_value_bits", func() (*Detector, error) { return NewDetector(0, 1, 0.75, 5, 7, 15, 0) }},
		{"too many bits", "num_norm_value_bits", func() (*Detector, error) { return NewDetector(0, 1, 0.75, 5, 7, 15, 64) }},
		{"infinite min", "min_value", func() (*Detector, error) { return NewDetector(math.Inf(-1), 1, 0.75, 5, 7, 15, 3) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, err := tc.build()
			require.Nil(t, d)
			require.ErrorIs(t, err, ErrConfiguration)

			var cfgErr *ConfigurationError
			require.True(t, errors.As(err, &cfgErr))
			require.Equal(t, tc.field, cfgErr.Field)
		})
	}

	cfg := testConfig()
	cfg.OutOfRangePolicy = "wrap"
	_, err := New(cfg)
	require.ErrorIs(t, err, ErrConfiguration)
}

func TestNewDetector_Defaults(t *testing.T) {
	d, err := NewDetector(0, 100, 0.75, 5, 7, 15, 8)
	require.NoError(t, err)
	require.Equal(t, "default", d.Series())
	require.Equal(t, "clamp", string(d.Config().OutOfRangePolicy))
	require.NotEqual(t, d.ID().String(), "")
	require.Zero(t, d.Steps())
	require.Zero(t, d.Stats().Contexts)
	require.Equal(t, []float64{learningSeed}, d.window.Items())
}

func TestDetector_ConstantSignalStaysQuiet(t *testing.T) {
	d, err := New(testConfig())
	require.NoError(t, err)

	values := make([]float64, 50)
	for i := range values {
		values[i] = 50
	}
	results := scoreAll(t, d, values)

	// the first two samples are novel but fall inside the learning window
	require.Greater(t, results[0].RawScore, 0.0)
	require.Equal(t, 1.0, results[1].RawScore)
	for i, r := range results {
		require.Zerof(t, r.Score, "sample %d", i)
		if i >= 2 {
			require.Zerof(t, r.RawScore, "sample %d", i)
			require.Zero(t, r.PredictionError)
		}
	}
	require.Equal(t, 50, d.Steps())
}

func TestDetector_StepChangeIsReported(t *testing.T) {
	d, err := New(testConfig())
	require.NoError(t, err)

	results := scoreAll(t, d, stepSeries())

	for i := 0; i < 20; i++ {
		require.Zerof(t, results[i].Score, "sample %d", i)
	}
	require.Greater(t, results[20].PredictionError, 0.0)
	require.GreaterOrEqual(t, results[20].Score, 0.5)
	require.False(t, results[20].Suppressed)

	// the new level is learned again
	for i := 30; i < 40; i++ {
		require.Zerof(t, results[i].Score, "sample %d", i)
	}
}

func TestDetector_LearningWindowSuppressesFirstSamples(t *testing.T) {
	cfg := testConfig()
	cfg.RestPeriod = 7
	cfg.BaseThreshold = 0.5
	d, err := New(cfg)
	require.NoError(t, err)

	results := scoreAll(t, d, noisySeries(3, 30))
	for i := 0; i < cfg.RestPeriod; i++ {
		require.Zerof(t, results[i].Score, "sample %d", i)
	}
}

func TestDetector_RefractoryWindow(t *testing.T) {
	for _, rest := range []int{1, 3, 6} {
		cfg := testConfig()
		cfg.RestPeriod = rest
		cfg.BaseThreshold = 0.55
		cfg.NumNormValueBits = 6
		d, err := New(cfg)
		require.NoError(t, err)

		window := []float64{learningSeed}
		for i, r := range scoreAll(t, d, noisySeries(int64(rest), 200)) {
			quiet := true
			for _, w := range window {
				if w >= cfg.BaseThreshold {
					quiet = false
				}
			}
			if quiet {
				require.Equalf(t, r.RawScore, r.Score, "rest %d sample %d", rest, i)
				require.False(t, r.Suppressed)
			} else {
				require.Zerof(t, r.Score, "rest %d sample %d", rest, i)
				require.Equal(t, r.RawScore > 0, r.Suppressed)
			}
			require.Equal(t, r.Score >= cfg.BaseThreshold && r.Score > 0, r.Anomalous)

			window = append(window, r.RawScore)
			if len(window) > rest {
				window = window[1:]
			}
		}
	}
}

func TestDetector_ZeroThresholdSuppressesEverything(t *testing.T) {
	cfg := testConfig()
	cfg.BaseThreshold = 0
	d, err := New(cfg)
	require.NoError(t, err)

	for _, r := range scoreAll(t, d, noisySeries(11, 60)) {
		require.Zero(t, r.Score)
		require.False(t, r.Anomalous)
	}
}

func TestDetector_ScoreBoundsAndPredictedRepeats(t *testing.T) {
	d, err := New(testConfig())
	require.NoError(t, err)

	values := noisySeries(7, 300)
	values = append(values, -40, 250, 100, 0, 1e9)
	for _, r := range scoreAll(t, d, values) {
		require.GreaterOrEqual(t, r.Score, 0.0)
		require.LessOrEqual(t, r.Score, 1.0)
		require.GreaterOrEqual(t, r.RawScore, 0.0)
		require.LessOrEqual(t, r.RawScore, 1.0)
		require.LessOrEqual(t, r.Score, r.RawScore)
		if r.PredictionError == 0 {
			require.Zero(t, r.RawScore)
		}
	}
}

func TestDetector_Deterministic(t *testing.T) {
	values := noisySeries(42, 150)

	a, err := New(testConfig())
	require.NoError(t, err)
	b, err := New(testConfig())
	require.NoError(t, err)

	ra := scoreAll(t, a, values)
	rb := scoreAll(t, b, values)
	require.Equal(t, ra, rb)
	require.Equal(t, a.Stats(), b.Stats())
	require.Equal(t, a.Predicted(), b.Predicted())
}

func TestDetector_GraphGrowsMonotonically(t *testing.T) {
	d, err := New(testConfig())
	require.NoError(t, err)

	prev := d.Stats()
	for _, r := range scoreAll(t, d, noisySeries(5, 120)) {
		require.GreaterOrEqual(t, r.Graph.Contexts, prev.Contexts)
		require.GreaterOrEqual(t, r.Graph.LeftSemiContexts, prev.LeftSemiContexts)
		require.GreaterOrEqual(t, r.Graph.RightSemiContexts, prev.RightSemiContexts)
		require.GreaterOrEqual(t, r.Graph.ZeroLevelContexts, prev.ZeroLevelContexts)
		require.LessOrEqual(t, r.Graph.ZeroLevelContexts, r.Graph.Contexts)
		prev = r.Graph
	}
	require.Positive(t, prev.Contexts)
}

func TestDetector_InvalidSampleLeavesStateUntouched(t *testing.T) {
	cfg := testConfig()
	cfg.OutOfRangePolicy = "reject"
	d, err := New(cfg)
	require.NoError(t, err)

	scoreAll(t, d, []float64{10, 20, 30, 20, 10})
	steps, stats, predicted := d.Steps(), d.Stats(), d.Predicted()
	window := d.window.Items()

	_, err = d.Score(101)
	require.ErrorIs(t, err, ErrOutOfRange)
	_, err = d.Score(-1)
	require.ErrorIs(t, err, ErrOutOfRange)
	_, err = d.Score(math.NaN())
	require.ErrorIs(t, err, ErrNonFinite)
	_, err = d.Score(math.Inf(1))
	require.ErrorIs(t, err, ErrNonFinite)

	require.Equal(t, steps, d.Steps())
	require.Equal(t, stats, d.Stats())
	require.Equal(t, predicted, d.Predicted())
	require.Equal(t, window, d.window.Items())
}

func TestDetector_ClampFlagsSample(t *testing.T) {
	d, err := New(testConfig())
	require.NoError(t, err)

	r, err := d.ScoreDetailed(500)
	require.NoError(t, err)
	require.True(t, r.Clamped)

	r, err = d.ScoreDetailed(50)
	require.NoError(t, err)
	require.False(t, r.Clamped)
}

func TestDetector_ListenerAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	var events []AnomalyEvent
	var mirrored int
	listener := NewCompositeAnomalyListener(
		AnomalyListenerFunc(func(e AnomalyEvent) { events = append(events, e) }),
		nil,
		AnomalyListenerFunc(func(AnomalyEvent) { mirrored++ }),
	)

	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg := testConfig()
	cfg.BaseThreshold = 0.5
	d, err := New(cfg,
		WithSeries("cpu"),
		WithMetrics(metrics),
		WithListener(listener),
		WithLogger(logger),
	)
	require.NoError(t, err)

	values := stepSeries()
	results := scoreAll(t, d, values)

	require.NotEmpty(t, events)
	require.Equal(t, len(events), mirrored)
	first := events[0]
	require.Equal(t, 20, first.Step)
	require.Equal(t, 90.0, first.Value)
	require.Equal(t, "cpu", first.Series)
	require.Equal(t, d.ID(), first.DetectorID)
	require.Equal(t, results[20], first.Result)

	require.Equal(t, float64(len(values)), testutil.ToFloat64(metrics.samples.WithLabelValues("cpu")))
	require.Equal(t, float64(len(events)), testutil.ToFloat64(metrics.anomalies.WithLabelValues("cpu")))
	require.Equal(t, float64(d.Stats().Contexts), testutil.ToFloat64(metrics.contexts.WithLabelValues("cpu")))
	require.Equal(t, float64(d.Stats().Contexts), testutil.ToFloat64(metrics.newContexts.WithLabelValues("cpu")))

	require.Contains(t, logs.String(), "anomaly detected")
	require.Contains(t, logs.String(), `"series":"cpu"`)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() { m.observe("x", Result{Suppressed: true}, 0.1) })
}
