// Package metrics defines the opencensus measures recorded by the service
// and exposes them to prometheus.
package metrics

import (
	"context"
	"fmt"
	"net/http"

	"contrib.go.opencensus.io/exporter/prometheus"
	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"

	"github.com/go-sod/posture/internal/logging"
)

const Namespace = "posture"

var (
	KeySource = tag.MustNewKey("source")
	KeyReason = tag.MustNewKey("reason")
	KeyResult = tag.MustNewKey("result")
	KeyLabel  = tag.MustNewKey("label")
)

var (
	FramesAnalyzed  = stats.Int64("posture/frames_analyzed", "Frames that produced feedback", stats.UnitDimensionless)
	Fallbacks       = stats.Int64("posture/classifier_fallbacks", "Frames that fell back to the threshold rule", stats.UnitDimensionless)
	SamplesCaptured = stats.Int64("posture/samples_captured", "Samples appended to session stores", stats.UnitDimensionless)
	TrainLatency    = stats.Float64("posture/train_latency", "Time to rebuild a session classifier", stats.UnitMilliseconds)
	Accuracy        = stats.Float64("posture/accuracy", "Last computed held-out accuracy", "%")
	Exports         = stats.Int64("posture/exports", "Export documents produced", stats.UnitDimensionless)
	ActiveSessions  = stats.Int64("posture/active_sessions", "Open sessions", stats.UnitDimensionless)
)

func Views() []*view.View {
	return []*view.View{
		{Name: "frames_analyzed_total", Measure: FramesAnalyzed, Aggregation: view.Count(), TagKeys: []tag.Key{KeySource}},
		{Name: "classifier_fallbacks_total", Measure: Fallbacks, Aggregation: view.Count(), TagKeys: []tag.Key{KeyReason}},
		{Name: "samples_captured_total", Measure: SamplesCaptured, Aggregation: view.Count(), TagKeys: []tag.Key{KeyLabel}},
		{
			Name:        "train_latency_ms",
			Measure:     TrainLatency,
			Aggregation: view.Distribution(1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000),
			TagKeys:     []tag.Key{KeyResult},
		},
		{Name: "accuracy_percent", Measure: Accuracy, Aggregation: view.LastValue()},
		{Name: "exports_total", Measure: Exports, Aggregation: view.Count()},
		{Name: "active_sessions", Measure: ActiveSessions, Aggregation: view.LastValue()},
	}
}

// NewHandler registers the views and returns the prometheus scrape handler.
func NewHandler(ctx context.Context) (http.Handler, error) {
	if err := view.Register(Views()...); err != nil {
		return nil, fmt.Errorf("register views: %w", err)
	}
	exporter, err := prometheus.NewExporter(prometheus.Options{
		Namespace: Namespace,
		OnError: func(err error) {
			logging.FromContext(ctx).Errorf("prometheus exporter: %v", err)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}
	return exporter, nil
}

func record(ctx context.Context, mutators []tag.Mutator, ms ...stats.Measurement) {
	if err := stats.RecordWithTags(ctx, mutators, ms...); err != nil {
		logging.FromContext(ctx).Debugf("record metric: %v", err)
	}
}

func RecordFrame(ctx context.Context, source string) {
	record(ctx, []tag.Mutator{tag.Upsert(KeySource, source)}, FramesAnalyzed.M(1))
}

func RecordFallback(ctx context.Context, reason string) {
	record(ctx, []tag.Mutator{tag.Upsert(KeyReason, reason)}, Fallbacks.M(1))
}

func RecordCapture(ctx context.Context, label string) {
	record(ctx, []tag.Mutator{tag.Upsert(KeyLabel, label)}, SamplesCaptured.M(1))
}

func RecordTrain(ctx context.Context, ms float64, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	record(ctx, []tag.Mutator{tag.Upsert(KeyResult, result)}, TrainLatency.M(ms))
}

func RecordAccuracy(ctx context.Context, percent float64) {
	stats.Record(ctx, Accuracy.M(percent))
}

func RecordExport(ctx context.Context) {
	stats.Record(ctx, Exports.M(1))
}

func RecordSessions(ctx context.Context, n int) {
	stats.Record(ctx, ActiveSessions.M(int64(n)))
}
