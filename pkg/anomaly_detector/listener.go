package anomaly_detector

import "github.com/google/uuid"

// AnomalyEvent is emitted when a non-suppressed score reaches the base threshold.
type AnomalyEvent struct {
	DetectorID uuid.UUID
	Series     string
	Step       int
	Value      float64
	Score      float64
	Result     Result
}

// AnomalyListener receives anomalies synchronously, inside Score.
// Implementations must not call back into the detector.
type AnomalyListener interface {
	OnAnomaly(event AnomalyEvent)
}

// AnomalyListenerFunc adapts a function to AnomalyListener.
type AnomalyListenerFunc func(event AnomalyEvent)

func (f AnomalyListenerFunc) OnAnomaly(event AnomalyEvent) {
	f(event)
}

// CompositeAnomalyListener fans one event out to several listeners in order.
type CompositeAnomalyListener struct {
	listeners []AnomalyListener
}

func NewCompositeAnomalyListener(listeners ...AnomalyListener) *CompositeAnomalyListener {
	return &CompositeAnomalyListener{listeners: listeners}
}

func (c *CompositeAnomalyListener) OnAnomaly(event AnomalyEvent) {
	for _, l := range c.listeners {
		if l != nil {
			l.OnAnomaly(event)
		}
	}
}
