package healthcheck

import (
	"context"
	"fmt"
	"strings"

	"github.com/memohai/crosschat/internal/channel"
	"github.com/memohai/crosschat/internal/dispatch"
)

// Pinger is satisfied by the correlation store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StoreChecker reports whether the correlation store answers.
func StoreChecker(store Pinger) Checker {
	return CheckerFunc(func(ctx context.Context) []CheckResult {
		item := CheckResult{ID: "store", Status: StatusOK, Summary: "Correlation store is reachable."}
		if store == nil {
			item.Status = StatusWarn
			item.Summary = "Correlation store is not configured."
			return []CheckResult{item}
		}
		if err := store.Ping(ctx); err != nil {
			item.Status = StatusError
			item.Summary = "Correlation store is unavailable."
			item.Detail = err.Error()
		}
		return []CheckResult{item}
	})
}

// LoopChecker reports the Discord dispatch loop. Calls that timed out since the previous
// run turn the check into a warning.
func LoopChecker(loop *dispatch.Loop) Checker {
	var lastTimedOut uint64
	return CheckerFunc(func(ctx context.Context) []CheckResult {
		if loop == nil {
			return nil
		}
		stats := loop.Stats()
		item := CheckResult{
			ID:      "dispatch." + stats.Name,
			Status:  StatusOK,
			Summary: fmt.Sprintf("Dispatch loop %s is running.", stats.Name),
			Metadata: map[string]any{
				"queued":    stats.Queued,
				"processed": stats.Processed,
				"timed_out": stats.TimedOut,
				"panicked":  stats.Panicked,
			},
		}
		switch {
		case !stats.Running:
			item.Status = StatusError
			item.Summary = fmt.Sprintf("Dispatch loop %s is stopped.", stats.Name)
		case stats.TimedOut > lastTimedOut:
			item.Status = StatusWarn
			item.Summary = fmt.Sprintf("Dispatch loop %s had %d timed out calls.", stats.Name, stats.TimedOut-lastTimedOut)
		}
		lastTimedOut = stats.TimedOut
		return []CheckResult{item}
	})
}

// ConnectionObserver reads runtime channel connection statuses.
type ConnectionObserver interface {
	Statuses() []channel.ConnectionStatus
}

// ConnectionChecker reports each platform connection.
func ConnectionChecker(observer ConnectionObserver) Checker {
	return CheckerFunc(func(ctx context.Context) []CheckResult {
		if observer == nil {
			return nil
		}
		statuses := observer.Statuses()
		checks := make([]CheckResult, 0, len(statuses))
		for _, status := range statuses {
			channelType := strings.TrimSpace(status.ChannelType.String())
			if channelType == "" {
				channelType = "unknown"
			}
			item := CheckResult{
				ID:      "channel." + channelType,
				Status:  StatusError,
				Summary: fmt.Sprintf("Channel %s connection is down.", channelType),
				Metadata: map[string]any{
					"running": status.Running,
				},
			}
			if status.UpdatedAt.Unix() > 0 {
				item.Metadata["updated_at"] = status.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z")
			}
			if status.Running {
				item.Status = StatusOK
				item.Summary = fmt.Sprintf("Channel %s is connected.", channelType)
			} else if strings.TrimSpace(status.LastError) != "" {
				item.Summary = fmt.Sprintf("Channel %s connection failed.", channelType)
				item.Detail = strings.TrimSpace(status.LastError)
			}
			checks = append(checks, item)
		}
		return checks
	})
}
