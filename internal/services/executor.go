package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/temporal"
	temporalsdkclient "go.temporal.io/sdk/client"

	pkgerrors "github.com/auditlens/auditlens-backend/internal/pkg/errors"
	"github.com/auditlens/auditlens-backend/internal/platform/config"
	"github.com/auditlens/auditlens-backend/internal/platform/logger"
)

// temporalInvoker supervises runs through Temporal. The workflow id is the
// session id, so duplicate starts are rejected server-side and resume becomes
// a signal to the one live supervisor.
type temporalInvoker struct {
	log       *logger.Logger
	tc        temporalsdkclient.Client
	taskQueue string
}

// NewRunInvoker returns nil when Temporal is not configured; a nil invoker
// disables supervision without affecting run semantics.
func NewRunInvoker(log *logger.Logger, tc temporalsdkclient.Client, cfg *config.Config) RunInvoker {
	if tc == nil {
		return nil
	}
	tq := strings.TrimSpace(cfg.Temporal.TaskQueue)
	if tq == "" {
		tq = "auditlens"
	}
	return &temporalInvoker{
		log:       log.With("service", "RunInvoker"),
		tc:        tc,
		taskQueue: tq,
	}
}

func (v *temporalInvoker) Invoke(ctx context.Context, sessionID uuid.UUID, resume bool) error {
	if v == nil || v.tc == nil || sessionID == uuid.Nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if resume {
		return v.signalResume(ctx, sessionID)
	}

	opts := temporalsdkclient.StartWorkflowOptions{
		ID:                    sessionID.String(),
		TaskQueue:             v.taskQueue,
		WorkflowIDReusePolicy: enums.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    30 * time.Second,
			BackoffCoefficient: 1.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    5,
		},
	}
	// Keep literal to avoid an import cycle with the workflow package.
	_, err := v.tc.ExecuteWorkflow(ctx, opts, "audit_run")
	if err == nil {
		return nil
	}
	if _, ok := err.(*serviceerror.WorkflowExecutionAlreadyStarted); ok {
		return nil
	}
	return wrapTransport(err, "start run supervision")
}

func (v *temporalInvoker) signalResume(ctx context.Context, sessionID uuid.UUID) error {
	err := v.tc.SignalWorkflow(ctx, sessionID.String(), "", "audit_resume", nil)
	if err == nil {
		return nil
	}
	if _, ok := err.(*serviceerror.NotFound); ok {
		// No supervisor means nothing to wake; start a fresh one so recovery
		// can still reach the run.
		return v.Invoke(ctx, sessionID, false)
	}
	return wrapTransport(err, "signal resume")
}

func (v *temporalInvoker) Cancel(ctx context.Context, sessionID uuid.UUID) error {
	if v == nil || v.tc == nil || sessionID == uuid.Nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	err := v.tc.CancelWorkflow(ctx, sessionID.String(), "")
	if err == nil {
		return nil
	}
	if _, ok := err.(*serviceerror.NotFound); ok {
		return nil
	}
	return wrapTransport(err, "cancel run supervision")
}

// wrapTransport classifies timeouts as transport-level, so the staleness
// monitor treats them as "still running" rather than a dead run.
func wrapTransport(err error, op string) error {
	if err == nil {
		return nil
	}
	if temporal.IsTimeoutError(err) || temporal.IsCanceledError(err) ||
		err == context.DeadlineExceeded || strings.Contains(err.Error(), "deadline exceeded") {
		return pkgerrors.E(pkgerrors.KindTransportTimeout, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
