package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/kiko-hq/kiko/internal/model"
)

// UpdateMessageMetadata applies p to the existing message row. It returns
// ErrNotFound when no message has that id; messages are never created here.
func (db *DB) UpdateMessageMetadata(ctx context.Context, p model.MessageMetadataPatch) error {
	tags := make([]string, len(p.Tags))
	for i, t := range p.Tags {
		tags[i] = string(t)
	}
	tag, err := db.pool.Exec(ctx,
		`UPDATE messages
		 SET tags = $2, stage = $3, negotiation_summary = $4,
		     follow_up_needed = $5, follow_up_date = $6::text::date
		 WHERE id = $1`,
		p.MessageID, tags, p.Stage, p.NegotiationSummary, p.FollowUpNeeded, p.FollowUpDate,
	)
	if err != nil {
		return fmt.Errorf("storage: update message metadata: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound("message %d", p.MessageID)
	}
	return nil
}

// ConversationMessages returns the messages of a conversation in send order.
func (db *DB) ConversationMessages(ctx context.Context, conversationID int64) ([]model.Message, error) {
	var exists bool
	if err := db.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM conversations WHERE id = $1)`, conversationID,
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("storage: check conversation: %w", err)
	}
	if !exists {
		return nil, notFound("conversation %d", conversationID)
	}

	rows, err := db.pool.Query(ctx,
		`SELECT id, body, sender, sent_at, subject, direction, opened_at, recipient, created_at,
		        follow_up_date::timestamptz, follow_up_needed, external_message_id, negotiation_summary,
		        tags, stage, conversation_id, ai_response_used
		 FROM messages
		 WHERE conversation_id = $1
		 ORDER BY sent_at NULLS LAST, id`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("storage: list messages: %w", err)
	}
	msgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Message, error) {
		var m model.Message
		err := row.Scan(
			&m.ID, &m.Body, &m.Sender, &m.SentAt, &m.Subject, &m.Direction, &m.OpenedAt, &m.Recipient, &m.CreatedAt,
			&m.FollowUpDate, &m.FollowUpNeeded, &m.ExternalMessageID, &m.NegotiationSummary,
			&m.Tags, &m.Stage, &m.ConversationID, &m.AIResponseUsed,
		)
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("storage: scan messages: %w", err)
	}
	return msgs, nil
}
