package playback

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type metrics struct {
	sessions  metric.Int64Counter
	synthesis metric.Float64Histogram
	active    metric.Int64ObservableGauge
}

func (c *Controller) initMetrics() error {
	if c.meter == nil {
		return nil
	}
	sessions, err := c.meter.Int64Counter("reed.playback.sessions",
		metric.WithDescription("Finished playback sessions by outcome"))
	if err != nil {
		return err
	}
	synthesis, err := c.meter.Float64Histogram("reed.synthesis.duration",
		metric.WithDescription("Time spent synthesizing speech"),
		metric.WithUnit("s"))
	if err != nil {
		return err
	}
	active, err := c.meter.Int64ObservableGauge("reed.playback.active",
		metric.WithDescription("Sessions currently owned by the controller"))
	if err != nil {
		return err
	}
	_, err = c.meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		c.mu.Lock()
		var n int64
		if c.current != nil {
			n = 1
		}
		c.mu.Unlock()
		obs.ObserveInt64(active, n)
		return nil
	}, active)
	if err != nil {
		return err
	}
	c.metrics = metrics{sessions: sessions, synthesis: synthesis, active: active}
	return nil
}

func (m metrics) recordSession(ctx context.Context, outcome Kind) {
	if m.sessions == nil {
		return
	}
	m.sessions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(outcome))))
}

func (m metrics) recordSynthesis(ctx context.Context, elapsed time.Duration) {
	if m.synthesis == nil {
		return
	}
	m.synthesis.Record(ctx, elapsed.Seconds())
}
