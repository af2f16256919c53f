package auditrun

import (
	"fmt"
	"strings"
	"time"

	"go.temporal.io/sdk/workflow"
)

// Workflow supervises one pipeline run. The engine itself executes inside the
// API process; this workflow probes it through the tick activity, keeps the
// session heartbeat moving and relays resume signals. The workflow id is the
// session id, so at most one supervisor exists per session.
func Workflow(ctx workflow.Context) error {
	sessionID := strings.TrimSpace(workflow.GetInfo(ctx).WorkflowExecution.ID)
	if sessionID == "" {
		return fmt.Errorf("auditrun: missing session_id")
	}

	const (
		pollInterval         = 10 * time.Second
		continueTickLimit    = 2000
		continueHistoryLimit = 15000
	)

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
		RetryPolicy:         nil, // a failed probe just waits for the next tick
	})

	resumeCh := workflow.GetSignalChannel(ctx, SignalResume)
	tickCount := 0

	for {
		tickCount++

		var out TickResult
		if err := workflow.ExecuteActivity(ctx, ActivityTick, sessionID).Get(ctx, &out); err != nil {
			return err
		}

		switch strings.ToLower(strings.TrimSpace(out.Status)) {
		case "completed", "completed_max_iterations", "stopped", "failed":
			return nil
		}
		if !out.EngineLive {
			// An active session with no live engine cannot make progress on
			// its own; the resume activity decides whether to fail it.
			if err := workflow.ExecuteActivity(ctx, ActivityResume, sessionID).Get(ctx, nil); err != nil {
				return err
			}
			return nil
		}

		drainResume(ctx, resumeCh, sessionID)

		if err := workflow.Sleep(ctx, pollInterval); err != nil {
			return err
		}
		if shouldContinueAsNew(ctx, tickCount, continueTickLimit, continueHistoryLimit) {
			return workflow.NewContinueAsNewError(ctx, Workflow)
		}
	}
}

// drainResume consumes pending resume signals and forwards each to the
// resume activity without blocking the poll loop.
func drainResume(ctx workflow.Context, ch workflow.ReceiveChannel, sessionID string) {
	for {
		var v any
		if !ch.ReceiveAsync(&v) {
			return
		}
		_ = workflow.ExecuteActivity(ctx, ActivityResume, sessionID).Get(ctx, nil)
	}
}

func shouldContinueAsNew(ctx workflow.Context, ticks, maxTicks, maxHistory int) bool {
	if maxTicks > 0 && ticks >= maxTicks {
		return true
	}
	info := workflow.GetInfo(ctx)
	if info == nil || maxHistory <= 0 {
		return false
	}
	return info.GetCurrentHistoryLength() >= maxHistory
}
