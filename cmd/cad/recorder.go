package main

import (
	"github.com/jtomasevic/synapse-cad/internal/score_sink"
	ad "github.com/jtomasevic/synapse-cad/pkg/anomaly_detector"
)

const recordBatchSize = 500

// recorder buffers scored samples of one run and flushes them to the sink.
// A nil sink makes every call a no-op.
type recorder struct {
	sink    *score_sink.Store
	runID   string
	pending []score_sink.Sample
}

func newRecorder(sink *score_sink.Store, d *ad.Detector, source string) (*recorder, error) {
	rec := &recorder{sink: sink}
	if sink == nil {
		return rec, nil
	}
	runID, err := sink.StartRun(d, source)
	if err != nil {
		return nil, err
	}
	rec.runID = runID
	rec.pending = make([]score_sink.Sample, 0, recordBatchSize)
	return rec, nil
}

func (r *recorder) Add(step int, timestamp string, value float64, res ad.Result) error {
	if r.sink == nil {
		return nil
	}
	r.pending = append(r.pending, score_sink.Sample{
		Step:      step,
		Timestamp: timestamp,
		Value:     value,
		Score:     res.Score,
		RawScore:  res.RawScore,
		Anomalous: res.Anomalous,
	})
	if len(r.pending) >= recordBatchSize {
		return r.flush()
	}
	return nil
}

func (r *recorder) flush() error {
	if len(r.pending) == 0 {
		return nil
	}
	if err := r.sink.Record(r.runID, r.pending); err != nil {
		return err
	}
	r.pending = r.pending[:0]
	return nil
}

// Finish flushes what is left and closes the run.
func (r *recorder) Finish() error {
	if r.sink == nil {
		return nil
	}
	if err := r.flush(); err != nil {
		return err
	}
	return r.sink.FinishRun(r.runID)
}

func (r *recorder) RunID() string {
	return r.runID
}
