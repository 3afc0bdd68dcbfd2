package persistence_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiko-hq/kiko/internal/config"
	"github.com/kiko-hq/kiko/internal/model"
	"github.com/kiko-hq/kiko/internal/service/persistence"
	"github.com/kiko-hq/kiko/internal/storage"
)

func count(t *testing.T, sql string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, testDB.Pool().QueryRow(context.Background(), sql, args...).Scan(&n))
	return n
}

func TestPersistRun_Postgres(t *testing.T) {
	ctx := context.Background()
	g := newGateway(testDB, "")
	run := model.AgentRun{
		MessageID:       77,
		Input:           "thread",
		ExecutionOutput: &model.ExecutionOutput{EmailBody: "Hi"},
		ToolCalls: []model.ToolInvocation{
			{CallID: "a", ToolName: "find_rates", Arguments: model.Structured(map[string]any{"creator_name": "X"}),
				Output: model.Raw(model.RawOutputKey, "no rates"), ExecutionOrder: 1},
			{CallID: "b", ToolName: "draft_writing", Arguments: model.Structured(nil),
				Output: model.Structured(map[string]any{"draft": "Hi"}), ExecutionOrder: 2},
		},
	}

	id, err := g.PersistRun(ctx, run, model.EnvProduction)
	require.NoError(t, err)

	got, err := g.GetRun(ctx, id, model.EnvProduction)
	require.NoError(t, err)
	require.Len(t, got.ToolCalls, 2)
	assert.Equal(t, "find_rates", got.ToolCalls[0].ToolName)
	assert.Equal(t, map[string]any{"value": "no rates"}, got.ToolCalls[0].Output.Map())
	assert.Equal(t, 2, got.ToolCalls[1].ExecutionOrder)

	_, err = g.GetRun(ctx, id, model.EnvLabeling)
	assert.ErrorIs(t, err, storage.ErrNotFound, "labeling runs live in their own namespace")
}

func TestPersistRun_ChildFailureKeepsParent(t *testing.T) {
	ctx := context.Background()
	g := newGateway(testDB, "")
	dup := model.ToolInvocation{CallID: "a", ToolName: "t", Arguments: model.Structured(nil), Output: model.Structured(nil), ExecutionOrder: 1}
	run := model.AgentRun{MessageID: 78, Input: "thread", ToolCalls: []model.ToolInvocation{dup, dup}}

	id, err := g.PersistRun(ctx, run, model.EnvLabeling)

	var partial *persistence.PartialPersistError
	require.True(t, errors.As(err, &partial))
	assert.Equal(t, id, partial.RunID)
	assert.Equal(t, 1, count(t, `SELECT count(*) FROM labeling.agent_runs WHERE id = $1`, id))
	assert.Zero(t, count(t, `SELECT count(*) FROM labeling.agent_tool_calls WHERE agent_run_id = $1`, id))
}

func TestApplyMetadataSideEffects_Postgres(t *testing.T) {
	for _, mode := range []string{config.UpsertCheckThenWrite, config.UpsertLocked} {
		t.Run(mode, func(t *testing.T) {
			ctx := context.Background()
			g := newGateway(testDB, mode)
			var msgID int64
			require.NoError(t, testDB.Pool().QueryRow(ctx,
				`INSERT INTO messages (body, sender) VALUES ('rates?', 'kai@x.io') RETURNING id`).Scan(&msgID))

			creatorID := int64(100)
			if mode == config.UpsertLocked {
				creatorID = 101
			}
			unit := model.UnitPerPost
			deliverable := model.Deliverable{
				Name: "Reel", CreatorID: creatorID, MediaType: "video", Platform: model.PlatformInstagram,
				Price: ptr(400.0), Currency: ptr("USD"), Unit: &unit,
			}
			meta := &model.MetadataOutput{
				MessageMetadata: model.MessageMetadata{
					MessageID: msgID, EmailStage: "negotiation",
					EmailTags: []model.EmailTag{model.TagQuestion}, EmailFollowUpDate: "2025-03-01",
				},
				Deliverables: []model.Deliverable{deliverable},
			}

			first := g.ApplyMetadataSideEffects(ctx, meta)
			require.False(t, first.Degraded(), "%+v", first.Issues)
			assert.True(t, first.MessageUpdated)
			assert.Equal(t, 1, first.DeliverablesCreated)

			meta.Deliverables[0].Price = ptr(550.0)
			second := g.ApplyMetadataSideEffects(ctx, meta)
			require.False(t, second.Degraded())
			assert.Equal(t, 1, second.DeliverablesUpdated)

			assert.Equal(t, 1, count(t,
				`SELECT count(*) FROM deliverables WHERE creator_id = $1 AND media_type = 'video' AND platform = 'instagram' AND unit = 'per_post'`,
				creatorID))
			assert.Equal(t, 1, count(t,
				`SELECT count(*) FROM deliverables WHERE creator_id = $1 AND price = 550`, creatorID))
		})
	}
}

func TestApplyMetadataSideEffects_UnknownMessage(t *testing.T) {
	g := newGateway(testDB, "")
	report := g.ApplyMetadataSideEffects(context.Background(), &model.MetadataOutput{
		MessageMetadata: model.MessageMetadata{MessageID: 987654},
	})

	require.Len(t, report.Issues, 1)
	assert.True(t, report.Issues[0].NotFound)
	assert.Zero(t, count(t, `SELECT count(*) FROM messages WHERE id = 987654`))
}
