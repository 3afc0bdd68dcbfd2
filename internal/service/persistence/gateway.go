// Package persistence writes pipeline results: the audit trail of each run
// and the business records derived from metadata extraction.
//
// The two halves follow different error policies. Audit writes are fatal
// when the parent row fails and partial when a child row fails. Metadata
// side effects never fail the request; problems are collected into a
// SideEffectReport and logged.
package persistence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/kiko-hq/kiko/internal/config"
	"github.com/kiko-hq/kiko/internal/model"
	"github.com/kiko-hq/kiko/internal/storage"
	"github.com/kiko-hq/kiko/internal/telemetry"
)

// Store is the subset of storage.DB the gateway writes through.
type Store interface {
	InsertAgentRun(ctx context.Context, schema string, run model.AgentRun) (int64, error)
	InsertToolCalls(ctx context.Context, schema string, runID int64, calls []model.ToolInvocation) error
	GetAgentRun(ctx context.Context, schema string, id int64) (model.AgentRun, error)
	UpdateMessageMetadata(ctx context.Context, p model.MessageMetadataPatch) error
	UpsertDeliverable(ctx context.Context, d model.Deliverable) (storage.UpsertResult, error)
	UpsertDeliverableLocked(ctx context.Context, d model.Deliverable, policy storage.RetryPolicy) (storage.UpsertResult, error)
}

// PartialPersistError reports that the run row was written but its tool
// calls were not. The run row is not rolled back.
type PartialPersistError struct {
	RunID int64
	Err   error
}

func (e *PartialPersistError) Error() string {
	return fmt.Sprintf("persistence: run %d stored without tool calls: %v", e.RunID, e.Err)
}

func (e *PartialPersistError) Unwrap() error { return e.Err }

// Side-effect targets named in a SideEffectIssue.
const (
	TargetMessage     = "message"
	TargetDeliverable = "deliverable"
	TargetToolCalls   = "tool_calls"
)

// SideEffectIssue is one side effect that was skipped or failed.
type SideEffectIssue struct {
	Target string
	Key    string
	Err    error
	// NotFound is set when the referenced row does not exist.
	NotFound bool
}

// SideEffectReport summarizes ApplyMetadataSideEffects. A report with no
// issues means every side effect was applied.
type SideEffectReport struct {
	MessageUpdated      bool
	DeliverablesCreated int
	DeliverablesUpdated int
	Issues              []SideEffectIssue
}

// Degraded reports whether any side effect was skipped or failed.
func (r SideEffectReport) Degraded() bool { return len(r.Issues) > 0 }

// APIIssues converts the issues for a response body.
func (r SideEffectReport) APIIssues() []model.SideEffectIssue {
	if len(r.Issues) == 0 {
		return nil
	}
	out := make([]model.SideEffectIssue, len(r.Issues))
	for i, is := range r.Issues {
		out[i] = model.SideEffectIssue{Target: is.Target, Key: is.Key, Reason: is.Err.Error()}
	}
	return out
}

// Options configures a Gateway.
type Options struct {
	// UpsertMode is config.UpsertCheckThenWrite (the default) or
	// config.UpsertLocked.
	UpsertMode  string
	RetryPolicy storage.RetryPolicy
}

// Gateway persists runs and applies metadata side effects.
type Gateway struct {
	store  Store
	logger *slog.Logger
	opts   Options

	degraded metric.Int64Counter
}

// New creates a Gateway.
func New(store Store, logger *slog.Logger, opts Options) *Gateway {
	if opts.UpsertMode == "" {
		opts.UpsertMode = config.UpsertCheckThenWrite
	}
	if opts.RetryPolicy.MaxRetries == 0 && opts.RetryPolicy.BaseDelay == 0 {
		opts.RetryPolicy = storage.DefaultRetryPolicy
	}
	degraded, _ := telemetry.Meter("kiko/persistence").Int64Counter("kiko.side_effects.degraded",
		metric.WithDescription("Metadata side effects skipped or failed"),
	)
	return &Gateway{store: store, logger: logger, opts: opts, degraded: degraded}
}

// PersistRun writes run and its tool calls into the namespace for env and
// returns the run id. A failed parent write is returned as-is and no tool
// call is attempted. A failed child write returns *PartialPersistError.
func (g *Gateway) PersistRun(ctx context.Context, run model.AgentRun, env model.Environment) (int64, error) {
	schema := env.Schema()
	id, err := g.store.InsertAgentRun(ctx, schema, run)
	if err != nil {
		return 0, fmt.Errorf("persistence: store run: %w", err)
	}
	if err := g.store.InsertToolCalls(ctx, schema, id, run.ToolCalls); err != nil {
		g.logger.Error("persistence: tool calls not stored",
			"run_id", id, "schema", schema, "tool_calls", len(run.ToolCalls), "error", err)
		return id, &PartialPersistError{RunID: id, Err: err}
	}
	g.logger.Info("persistence: run stored",
		"run_id", id, "schema", schema, "message_id", run.MessageID, "tool_calls", len(run.ToolCalls))
	return id, nil
}

// GetRun reads a stored run with its tool calls from the namespace for env.
func (g *Gateway) GetRun(ctx context.Context, id int64, env model.Environment) (model.AgentRun, error) {
	return g.store.GetAgentRun(ctx, env.Schema(), id)
}

// ApplyMetadataSideEffects patches the referenced message and upserts each
// deliverable by its natural key. It never returns an error; failures are
// reported in the SideEffectReport. Callers apply it to production runs only.
func (g *Gateway) ApplyMetadataSideEffects(ctx context.Context, meta *model.MetadataOutput) SideEffectReport {
	var report SideEffectReport
	if meta == nil {
		return report
	}

	patch := meta.Patch()
	if err := g.store.UpdateMessageMetadata(ctx, patch); err != nil {
		g.record(ctx, &report, SideEffectIssue{
			Target:   TargetMessage,
			Key:      fmt.Sprint(patch.MessageID),
			Err:      err,
			NotFound: errors.Is(err, storage.ErrNotFound),
		})
	} else {
		report.MessageUpdated = true
	}

	for _, d := range meta.Deliverables {
		res, err := g.upsert(ctx, d)
		if err != nil {
			g.record(ctx, &report, SideEffectIssue{Target: TargetDeliverable, Key: d.Key(), Err: err})
			continue
		}
		if res.Inserted {
			report.DeliverablesCreated++
		} else {
			report.DeliverablesUpdated++
		}
	}
	return report
}

func (g *Gateway) upsert(ctx context.Context, d model.Deliverable) (storage.UpsertResult, error) {
	if g.opts.UpsertMode == config.UpsertLocked {
		return g.store.UpsertDeliverableLocked(ctx, d, g.opts.RetryPolicy)
	}
	return g.store.UpsertDeliverable(ctx, d)
}

func (g *Gateway) record(ctx context.Context, report *SideEffectReport, issue SideEffectIssue) {
	report.Issues = append(report.Issues, issue)
	if g.degraded != nil {
		g.degraded.Add(ctx, 1, metric.WithAttributes(attribute.String("target", issue.Target)))
	}
	if issue.NotFound {
		g.logger.Warn("persistence: side effect target not found",
			"target", issue.Target, "key", issue.Key, "error", issue.Err)
		return
	}
	g.logger.Error("persistence: side effect failed",
		"target", issue.Target, "key", issue.Key, "error", issue.Err)
}
