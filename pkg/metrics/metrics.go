package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "medallion_build_info",
			Help: "Build information of the medallion pipeline",
		},
		[]string{"version", "commit", "date"},
	)

	StageBuildsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medallion_stage_builds_total",
			Help: "Total number of stage builds by outcome",
		},
		[]string{"stage", "status"},
	)

	StageBuildDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "medallion_stage_build_duration_seconds",
			Help:    "Duration of stage builds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 16), // 0.01s to ~5.5 minutes
		},
		[]string{"stage"},
	)

	RelationRows = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "medallion_relation_rows",
			Help: "Row count of each relation after its last build or reuse",
		},
		[]string{"relation"},
	)

	TrainingRows = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "medallion_training_rows",
			Help: "Rows used by the last training run, by partition",
		},
		[]string{"partition"},
	)

	ModelAccuracy = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "medallion_model_accuracy",
			Help: "Accuracy of the last trained model on its held-out partition",
		},
	)
)

// WriteTextfile writes every registered metric to path in the text
// exposition format, for collection by a node exporter textfile collector.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
