package registry

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/diamond-analytics/betting-backend/pkg/types"
)

// recentHistoryWindow is how many history entries feed the recent
// performance snapshot.
const recentHistoryWindow = 5

// MonitorProductionModels inspects every model currently tagged Production
// or Champion, recomputes a recent-performance snapshot from its history
// and raises a low_performance alert when recent ROI drops under the floor.
func (r *Registry) MonitorProductionModels(ctx context.Context) ([]types.Alert, error) {
	r.mu.RLock()
	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	r.mu.RUnlock()

	var alerts []types.Alert
	for _, name := range names {
		live := false
		for _, stage := range []Stage{StageProduction, StageChampion} {
			versions, err := r.ModelsAtStage(ctx, name, stage)
			if err != nil {
				return nil, err
			}
			if len(versions) > 0 {
				live = true
				break
			}
		}
		if !live {
			continue
		}

		roi, ok, err := r.RecentROI(ctx, name, recentHistoryWindow)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if roi < productionROIFloor {
			alerts = append(alerts, types.Alert{
				Type: "low_performance",
				Message: fmt.Sprintf("model %s recent ROI %.2f%% below %.1f%% floor; consider retraining or demotion",
					name, roi, productionROIFloor),
				Severity:  "warning",
				Source:    name,
				Timestamp: time.Now().UTC(),
			})
			r.logger.Warn("Production model underperforming",
				zap.String("model", name),
				zap.Float64("recentROI", roi),
			)
		}
	}
	return alerts, nil
}

// ProductionMonitorJob is the scheduled wrapper around
// MonitorProductionModels, run by the cron scheduler in the composition
// root.
type ProductionMonitorJob struct {
	registry *Registry
	sink     types.AlertSink
	logger   *zap.Logger
	schedule string
}

// NewProductionMonitorJob creates the monitoring job. schedule is a cron
// expression; sink may be nil.
func NewProductionMonitorJob(registry *Registry, sink types.AlertSink, logger *zap.Logger, schedule string) *ProductionMonitorJob {
	return &ProductionMonitorJob{
		registry: registry,
		sink:     sink,
		logger:   logger.Named("monitor"),
		schedule: schedule,
	}
}

// Name identifies the job in scheduler logs.
func (j *ProductionMonitorJob) Name() string { return "production_model_monitor" }

// Schedule returns the cron expression for this job.
func (j *ProductionMonitorJob) Schedule() string { return j.schedule }

// Run executes one monitoring sweep.
func (j *ProductionMonitorJob) Run(ctx context.Context) error {
	alerts, err := j.registry.MonitorProductionModels(ctx)
	if err != nil {
		return fmt.Errorf("production monitor sweep: %w", err)
	}
	for _, a := range alerts {
		if j.sink != nil {
			j.sink.Publish(a)
		}
	}
	j.logger.Info("Production monitor sweep complete", zap.Int("alerts", len(alerts)))
	return nil
}
