package db

import (
	"context"
	"database/sql"

	"github.com/deemkeen/socialdistro/domain"
	"github.com/google/uuid"
)

const (
	sqlInsertActivity = `INSERT INTO activities(id, activity_type, actor_uri, object_uri, owner_id, raw_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	sqlSelectRecentActivities = `SELECT id, activity_type, actor_uri, object_uri, owner_id, raw_json, created_at FROM activities
		ORDER BY created_at DESC LIMIT ?`
)

// CreateActivity appends an accepted inbox payload to the log.
func (db *DB) CreateActivity(ctx context.Context, activity *domain.Activity) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertActivity,
			activity.Id.String(),
			activity.ActivityType,
			activity.ActorURI,
			activity.ObjectURI,
			activity.OwnerId,
			activity.RawJSON,
			activity.CreatedAt,
		)
		return err
	})
}

func (db *DB) ReadRecentActivities(ctx context.Context, limit int) ([]domain.Activity, error) {
	rows, err := db.db.QueryContext(ctx, sqlSelectRecentActivities, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var activities []domain.Activity
	for rows.Next() {
		var activity domain.Activity
		var idStr string
		if err := rows.Scan(&idStr, &activity.ActivityType, &activity.ActorURI, &activity.ObjectURI, &activity.OwnerId, &activity.RawJSON, &activity.CreatedAt); err != nil {
			return activities, err
		}
		activity.Id, _ = uuid.Parse(idStr)
		activities = append(activities, activity)
	}
	return activities, rows.Err()
}
