package healthcheck

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Pruner drops expired entries; the inbound dedup set implements it.
type Pruner interface {
	Prune() int
}

// Monitor runs checkers and prunes on a cron schedule and keeps the latest results.
type Monitor struct {
	logger   *slog.Logger
	cron     *cron.Cron
	checkers []Checker
	pruners  []Pruner
	timeout  time.Duration

	mu     sync.RWMutex
	last   []CheckResult
	ranAt  time.Time
	status map[string]string
}

// NewMonitor schedules a run every interval.
func NewMonitor(log *slog.Logger, interval time.Duration, checkers []Checker, pruners []Pruner) (*Monitor, error) {
	if log == nil {
		log = slog.Default()
	}
	if interval <= 0 {
		return nil, fmt.Errorf("health interval must be positive")
	}
	m := &Monitor{
		logger:   log.With(slog.String("component", "healthcheck")),
		checkers: checkers,
		pruners:  pruners,
		timeout:  interval,
		status:   map[string]string{},
	}
	cronLog := cronLogger{log: m.logger}
	m.cron = cron.New(
		cron.WithLogger(cronLog),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
	)
	if _, err := m.cron.AddFunc("@every "+interval.String(), func() { m.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("schedule health checks: %w", err)
	}
	return m, nil
}

// Start starts the schedule in the background.
func (m *Monitor) Start() {
	m.logger.Info("health monitor start", slog.Int("checkers", len(m.checkers)))
	m.cron.Start()
}

// Stop stops the schedule and waits for a running pass until ctx is done.
func (m *Monitor) Stop(ctx context.Context) {
	done := m.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// RunOnce runs every pruner and checker. Status changes are logged; failing checks log at
// WARN or ERROR.
func (m *Monitor) RunOnce(ctx context.Context) []CheckResult {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	pruned := 0
	for _, p := range m.pruners {
		pruned += p.Prune()
	}
	if pruned > 0 {
		m.logger.Debug("dedup entries pruned", slog.Int("count", pruned))
	}

	var results []CheckResult
	for _, c := range m.checkers {
		results = append(results, c.ListChecks(ctx)...)
	}

	m.mu.Lock()
	previous := m.status
	m.status = make(map[string]string, len(results))
	for _, item := range results {
		m.status[item.ID] = item.Status
	}
	m.last = results
	m.ranAt = time.Now().UTC()
	m.mu.Unlock()

	for _, item := range results {
		attrs := []any{slog.String("check", item.ID), slog.String("status", item.Status), slog.String("summary", item.Summary)}
		if item.Detail != "" {
			attrs = append(attrs, slog.String("detail", item.Detail))
		}
		switch {
		case item.Status == StatusError:
			m.logger.Error("health check failed", attrs...)
		case item.Status == StatusWarn:
			m.logger.Warn("health check warning", attrs...)
		case previous[item.ID] != "" && previous[item.ID] != item.Status:
			m.logger.Info("health check recovered", attrs...)
		}
	}
	return results
}

// Last returns the results of the latest run and when it happened.
func (m *Monitor) Last() ([]CheckResult, time.Time) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]CheckResult(nil), m.last...), m.ranAt
}

// cronLogger routes cron's logging through slog.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append([]any{slog.Any("error", err)}, keysAndValues...)...)
}
