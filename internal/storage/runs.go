package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/kiko-hq/kiko/internal/model"
)

// InsertAgentRun writes the run row (without tool calls) into schema and
// returns the assigned id.
func (db *DB) InsertAgentRun(ctx context.Context, schema string, run model.AgentRun) (int64, error) {
	var id int64
	err := db.pool.QueryRow(ctx,
		`INSERT INTO `+table(schema, "agent_runs")+` (
			message_id, input, batch_name,
			metadata_agent_output, planning_agent_output, execution_agent_output, action_agent_output,
			suggested_email_body, trace_id, processing_time
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`,
		run.MessageID, run.Input, run.BatchName,
		jsonOrNil(run.MetadataOutput), jsonOrNil(run.PlanningOutput),
		jsonOrNil(run.ExecutionOutput), jsonOrNil(run.ActionOutput),
		run.SuggestedEmailBody, run.TraceID, run.ProcessingTimeMs,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("storage: insert agent run: %w", err)
	}
	return id, nil
}

// InsertToolCalls writes the tool calls of run runID with a single COPY.
// Arguments and outputs are stored as serialized JSON text.
func (db *DB) InsertToolCalls(ctx context.Context, schema string, runID int64, calls []model.ToolInvocation) error {
	if len(calls) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(calls))
	for _, c := range calls {
		args, err := json.Marshal(c.Arguments)
		if err != nil {
			return fmt.Errorf("storage: encode arguments for call %s: %w", c.CallID, err)
		}
		out, err := json.Marshal(c.Output)
		if err != nil {
			return fmt.Errorf("storage: encode output for call %s: %w", c.CallID, err)
		}
		rows = append(rows, []any{runID, c.CallID, c.ToolName, string(args), string(out), c.ExecutionOrder})
	}

	_, err := db.pool.CopyFrom(ctx,
		pgx.Identifier{schema, "agent_tool_calls"},
		[]string{"agent_run_id", "call_id", "tool_name", "arguments", "output", "execution_order"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("storage: copy tool calls: %w", err)
	}
	return nil
}

// GetAgentRun reads a run and its tool calls, ordered by execution order.
func (db *DB) GetAgentRun(ctx context.Context, schema string, id int64) (model.AgentRun, error) {
	var (
		run                      model.AgentRun
		meta, plan, exec, action []byte
	)
	err := db.pool.QueryRow(ctx,
		`SELECT id, message_id, input, batch_name,
		        metadata_agent_output, planning_agent_output, execution_agent_output, action_agent_output,
		        suggested_email_body, trace_id, processing_time, created_at
		 FROM `+table(schema, "agent_runs")+` WHERE id = $1`, id,
	).Scan(
		&run.ID, &run.MessageID, &run.Input, &run.BatchName,
		&meta, &plan, &exec, &action,
		&run.SuggestedEmailBody, &run.TraceID, &run.ProcessingTimeMs, &run.CreatedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return model.AgentRun{}, notFound("agent run %d", id)
		}
		return model.AgentRun{}, fmt.Errorf("storage: get agent run: %w", err)
	}

	if err := decodeOutputs(&run, meta, plan, exec, action); err != nil {
		return model.AgentRun{}, fmt.Errorf("storage: decode agent run %d: %w", id, err)
	}

	rows, err := db.pool.Query(ctx,
		`SELECT call_id, tool_name, arguments, output, execution_order
		 FROM `+table(schema, "agent_tool_calls")+`
		 WHERE agent_run_id = $1
		 ORDER BY execution_order`, id)
	if err != nil {
		return model.AgentRun{}, fmt.Errorf("storage: list tool calls: %w", err)
	}
	defer rows.Close()

	run.ToolCalls = []model.ToolInvocation{}
	for rows.Next() {
		var (
			c         model.ToolInvocation
			args, out string
		)
		if err := rows.Scan(&c.CallID, &c.ToolName, &args, &out, &c.ExecutionOrder); err != nil {
			return model.AgentRun{}, fmt.Errorf("storage: scan tool call: %w", err)
		}
		c.Arguments = decodeStoredPayload(args, model.RawArgumentsKey)
		c.Output = decodeStoredPayload(out, model.RawOutputKey)
		run.ToolCalls = append(run.ToolCalls, c)
	}
	if err := rows.Err(); err != nil {
		return model.AgentRun{}, fmt.Errorf("storage: list tool calls: %w", err)
	}
	return run, nil
}

// jsonOrNil returns v for encoding as JSONB, or an untyped nil so typed nil
// pointers are written as SQL NULL.
func jsonOrNil[T any](v *T) any {
	if v == nil {
		return nil
	}
	return v
}

func decodeOutputs(run *model.AgentRun, meta, plan, exec, action []byte) error {
	columns := []struct {
		raw []byte
		out model.StageOutput
	}{
		{meta, &model.MetadataOutput{}},
		{plan, &model.PlanningOutput{}},
		{exec, &model.ExecutionOutput{}},
		{action, &model.ActionOutput{}},
	}
	for _, c := range columns {
		if c.raw == nil {
			continue
		}
		if err := json.Unmarshal(c.raw, c.out); err != nil {
			return fmt.Errorf("%s output: %w", c.out.Kind(), err)
		}
		run.SetOutput(c.out)
	}
	return nil
}

// decodeStoredPayload parses a stored text column. Rows written by other
// tools may hold non-object text; that is kept as raw.
func decodeStoredPayload(s, rawKey string) model.Payload {
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil || m == nil {
		return model.Raw(rawKey, s)
	}
	return model.Structured(m)
}
