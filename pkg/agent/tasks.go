package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/metislabs/metis/pkg/resilience"
)

const (
	// DefaultMaintenanceInterval is how often the history and state bounds
	// are re-enforced.
	DefaultMaintenanceInterval = time.Hour

	// DefaultReportInterval is how often the agent reports its counters.
	DefaultReportInterval = time.Minute
)

// Start launches the background maintenance and reporting loops. Calling
// Start on a running agent is a no-op.
func (a *Agent) Start() {
	a.tasksMu.Lock()
	defer a.tasksMu.Unlock()
	if a.stopTasks != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	a.stopTasks = cancel
	a.tasksDone = done

	go func() {
		defer close(done)
		a.logger.Info("agent.tasks.start",
			slog.String("agent", a.id),
			slog.Duration("maintenance_interval", a.maintenanceInterval),
			slog.Duration("report_interval", a.reportInterval),
		)

		maintenance := time.NewTicker(a.maintenanceInterval)
		defer maintenance.Stop()
		report := time.NewTicker(a.reportInterval)
		defer report.Stop()

		for {
			select {
			case <-ctx.Done():
				a.logger.Info("agent.tasks.stop", slog.String("agent", a.id))
				return
			case <-maintenance.C:
				a.maintain(ctx)
			case <-report.C:
				a.report(ctx)
			}
		}
	}()
}

// Stop cancels the background loops and waits for them to exit.
func (a *Agent) Stop() {
	a.tasksMu.Lock()
	defer a.tasksMu.Unlock()
	if a.stopTasks == nil {
		return
	}
	a.stopTasks()
	<-a.tasksDone
	a.stopTasks = nil
	a.tasksDone = nil
}

// maintain re-enforces the history bound. The hot path already evicts on
// append; the sweep catches limits tightened at runtime and keeps the
// original cleanup cadence observable.
func (a *Agent) maintain(ctx context.Context) {
	evicted := a.history.Trim()
	if evicted > 0 {
		a.logger.InfoContext(ctx, "agent.maintenance.trimmed",
			slog.String("agent", a.id),
			slog.Int("evicted", evicted),
		)
		return
	}
	a.logger.DebugContext(ctx, "agent.maintenance.clean", slog.String("agent", a.id))
}

// report logs the agent's counters and pushes the breaker state gauge.
func (a *Agent) report(ctx context.Context) {
	stats := a.Stats()
	a.logger.InfoContext(ctx, "agent.report",
		slog.String("agent", a.id),
		slog.Int64("requests", stats.Requests),
		slog.Int64("failures", stats.Failures),
		slog.Int("history_length", stats.HistoryLength),
		slog.Int("state_size", stats.StateSize),
		slog.String("breaker_state", string(stats.BreakerState)),
	)
	a.metrics.RecordBreakerState(ctx, a.id, breakerStateValue(stats.BreakerState))
}

func breakerStateValue(state resilience.CircuitBreakerState) int64 {
	switch state {
	case resilience.StateOpen:
		return 0
	case resilience.StateHalfOpen:
		return 1
	default:
		return 2
	}
}
