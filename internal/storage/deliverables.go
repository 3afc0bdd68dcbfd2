package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/kiko-hq/kiko/internal/model"
)

// UpsertResult reports which branch an upsert took.
type UpsertResult struct {
	ID       int64
	Inserted bool
}

// UpsertDeliverable looks up d by its natural key and updates the first
// matching row, or inserts a new row when none matches. The lookup and the
// write are separate statements; concurrent identical calls can both insert.
func (db *DB) UpsertDeliverable(ctx context.Context, d model.Deliverable) (UpsertResult, error) {
	res, err := upsertDeliverable(ctx, db.pool, d)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("storage: upsert deliverable %s: %w", d.Key(), err)
	}
	return res, nil
}

// UpsertDeliverableLocked performs the same lookup and write inside a
// transaction holding an advisory lock on the natural key, so concurrent
// identical calls serialize and at most one row is inserted.
func (db *DB) UpsertDeliverableLocked(ctx context.Context, d model.Deliverable, policy RetryPolicy) (UpsertResult, error) {
	var res UpsertResult
	err := WithRetry(ctx, policy, func() error {
		return db.inTx(ctx, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx,
				`SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, "deliverable:"+d.Key(),
			); err != nil {
				return fmt.Errorf("lock: %w", err)
			}
			var err error
			res, err = upsertDeliverable(ctx, tx, d)
			return err
		})
	})
	if err != nil {
		return UpsertResult{}, fmt.Errorf("storage: locked upsert deliverable %s: %w", d.Key(), err)
	}
	return res, nil
}

func upsertDeliverable(ctx context.Context, q dbtx, d model.Deliverable) (UpsertResult, error) {
	var id int64
	err := q.QueryRow(ctx,
		`SELECT id FROM deliverables
		 WHERE creator_id = $1 AND media_type = $2 AND platform = $3
		   AND unit IS NOT DISTINCT FROM $4
		 ORDER BY id
		 LIMIT 1`,
		d.CreatorID, d.MediaType, string(d.Platform), unitValue(d.Unit),
	).Scan(&id)
	switch {
	case err == nil:
		_, err = q.Exec(ctx,
			`UPDATE deliverables
			 SET name = $2, media_type = $3, platform = $4, duration_sec = $5, cross_posted = $6,
			     price = $7, currency = $8, unit = $9, notes = $10, raw_text = $11,
			     creator_id = $12, updated_at = now()
			 WHERE id = $1`,
			id, d.Name, d.MediaType, string(d.Platform), d.DurationSec, d.CrossPosted,
			d.Price, d.Currency, unitValue(d.Unit), d.Notes, d.RawText, d.CreatorID,
		)
		if err != nil {
			return UpsertResult{}, fmt.Errorf("update: %w", err)
		}
		return UpsertResult{ID: id}, nil
	case isNoRows(err):
		err = q.QueryRow(ctx,
			`INSERT INTO deliverables
			 (creator_id, name, media_type, platform, duration_sec, cross_posted, price, currency, unit, notes, raw_text)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			 RETURNING id`,
			d.CreatorID, d.Name, d.MediaType, string(d.Platform), d.DurationSec, d.CrossPosted,
			d.Price, d.Currency, unitValue(d.Unit), d.Notes, d.RawText,
		).Scan(&id)
		if err != nil {
			return UpsertResult{}, fmt.Errorf("insert: %w", err)
		}
		return UpsertResult{ID: id, Inserted: true}, nil
	default:
		return UpsertResult{}, fmt.Errorf("lookup: %w", err)
	}
}

// DeliverablesByCreators returns all deliverable rows for the given creators.
func (db *DB) DeliverablesByCreators(ctx context.Context, creatorIDs []int64) ([]model.StoredDeliverable, error) {
	if len(creatorIDs) == 0 {
		return nil, nil
	}
	rows, err := db.pool.Query(ctx,
		`SELECT id, creator_id, name, media_type, platform, duration_sec, cross_posted,
		        price, currency, unit, notes, raw_text
		 FROM deliverables
		 WHERE creator_id = ANY($1)
		 ORDER BY creator_id, id`, creatorIDs)
	if err != nil {
		return nil, fmt.Errorf("storage: list deliverables: %w", err)
	}
	out, err := pgx.CollectRows(rows, scanDeliverable)
	if err != nil {
		return nil, fmt.Errorf("storage: scan deliverables: %w", err)
	}
	return out, nil
}

func scanDeliverable(row pgx.CollectableRow) (model.StoredDeliverable, error) {
	var (
		d        model.StoredDeliverable
		platform string
		unit     *string
	)
	err := row.Scan(&d.ID, &d.CreatorID, &d.Name, &d.MediaType, &platform, &d.DurationSec, &d.CrossPosted,
		&d.Price, &d.Currency, &unit, &d.Notes, &d.RawText)
	d.Platform = model.Platform(platform)
	if unit != nil {
		u := model.DeliverableUnit(*unit)
		d.Unit = &u
	}
	return d, err
}

func unitValue(u *model.DeliverableUnit) *string {
	if u == nil {
		return nil
	}
	s := string(*u)
	return &s
}
