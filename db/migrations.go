package db

import (
	"context"
	"database/sql"
)

const (
	// Authors, local and remote stubs. username is only set for local rows.
	sqlCreateAuthorsTable = `CREATE TABLE IF NOT EXISTS authors (
		id TEXT NOT NULL PRIMARY KEY,
		serial TEXT NOT NULL,
		host TEXT NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		github TEXT NOT NULL DEFAULT '',
		profile_image TEXT NOT NULL DEFAULT '',
		username TEXT UNIQUE,
		password_hash TEXT NOT NULL DEFAULT '',
		is_local INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`

	sqlCreateAuthorsIndices = `
		CREATE UNIQUE INDEX IF NOT EXISTS idx_authors_local_serial ON authors(serial) WHERE is_local = 1;
		CREATE INDEX IF NOT EXISTS idx_authors_host ON authors(host);
	`

	sqlCreateEntriesTable = `CREATE TABLE IF NOT EXISTS entries (
		id TEXT NOT NULL PRIMARY KEY,
		serial TEXT NOT NULL,
		author_id TEXT NOT NULL REFERENCES authors(id),
		title TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		content_type TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		visibility TEXT NOT NULL,
		published TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		is_deleted INTEGER NOT NULL DEFAULT 0,
		UNIQUE(author_id, serial)
	)`

	sqlCreateEntriesIndices = `
		CREATE INDEX IF NOT EXISTS idx_entries_author_id ON entries(author_id);
		CREATE INDEX IF NOT EXISTS idx_entries_published ON entries(published DESC);
		CREATE INDEX IF NOT EXISTS idx_entries_visibility ON entries(visibility);
	`

	sqlCreateCommentsTable = `CREATE TABLE IF NOT EXISTS comments (
		id TEXT NOT NULL PRIMARY KEY,
		serial TEXT NOT NULL,
		author_id TEXT NOT NULL REFERENCES authors(id),
		entry_id TEXT NOT NULL REFERENCES entries(id),
		comment TEXT NOT NULL,
		content_type TEXT NOT NULL,
		published TIMESTAMP NOT NULL
	)`

	sqlCreateCommentsIndices = `
		CREATE INDEX IF NOT EXISTS idx_comments_entry_id ON comments(entry_id, published DESC);
		CREATE INDEX IF NOT EXISTS idx_comments_author_id ON comments(author_id, published DESC);
	`

	sqlCreateLikesTable = `CREATE TABLE IF NOT EXISTS likes (
		id TEXT NOT NULL PRIMARY KEY,
		author_id TEXT NOT NULL REFERENCES authors(id),
		object_id TEXT NOT NULL,
		object_kind TEXT NOT NULL,
		published TIMESTAMP NOT NULL,
		UNIQUE(author_id, object_id)
	)`

	sqlCreateLikesIndices = `
		CREATE INDEX IF NOT EXISTS idx_likes_object_id ON likes(object_id);
		CREATE INDEX IF NOT EXISTS idx_likes_author_id ON likes(author_id);
	`

	sqlCreateFollowsTable = `CREATE TABLE IF NOT EXISTS follows (
		id TEXT NOT NULL PRIMARY KEY,
		follower_id TEXT NOT NULL REFERENCES authors(id),
		following_id TEXT NOT NULL REFERENCES authors(id),
		status TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE(follower_id, following_id)
	)`

	sqlCreateFollowsIndices = `
		CREATE INDEX IF NOT EXISTS idx_follows_follower_id ON follows(follower_id);
		CREATE INDEX IF NOT EXISTS idx_follows_following_id ON follows(following_id);
	`

	sqlCreateRemoteNodesTable = `CREATE TABLE IF NOT EXISTS remote_nodes (
		host TEXT NOT NULL PRIMARY KEY,
		outgoing_username TEXT NOT NULL,
		outgoing_password TEXT NOT NULL,
		incoming_username TEXT NOT NULL UNIQUE,
		incoming_password_hash TEXT NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`

	// Inbox log for debugging and replay analysis
	sqlCreateActivitiesTable = `CREATE TABLE IF NOT EXISTS activities (
		id TEXT NOT NULL PRIMARY KEY,
		activity_type TEXT NOT NULL,
		actor_uri TEXT NOT NULL,
		object_uri TEXT NOT NULL DEFAULT '',
		owner_id TEXT NOT NULL DEFAULT '',
		raw_json TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`

	sqlCreateActivitiesIndices = `
		CREATE INDEX IF NOT EXISTS idx_activities_type ON activities(activity_type);
		CREATE INDEX IF NOT EXISTS idx_activities_created_at ON activities(created_at DESC);
	`

	sqlCreateDeliveryQueueTable = `CREATE TABLE IF NOT EXISTS delivery_queue (
		id TEXT NOT NULL PRIMARY KEY,
		inbox_uri TEXT NOT NULL,
		host TEXT NOT NULL,
		activity_json TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		next_retry_at TIMESTAMP NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`

	sqlCreateDeliveryQueueIndices = `
		CREATE INDEX IF NOT EXISTS idx_delivery_queue_next_retry ON delivery_queue(next_retry_at);
	`
)

// RunMigrations creates all tables and indices. It is safe to run on every start.
func (db *DB) RunMigrations(ctx context.Context) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		tables := []struct {
			name, create, indices string
		}{
			{"authors", sqlCreateAuthorsTable, sqlCreateAuthorsIndices},
			{"entries", sqlCreateEntriesTable, sqlCreateEntriesIndices},
			{"comments", sqlCreateCommentsTable, sqlCreateCommentsIndices},
			{"likes", sqlCreateLikesTable, sqlCreateLikesIndices},
			{"follows", sqlCreateFollowsTable, sqlCreateFollowsIndices},
			{"remote_nodes", sqlCreateRemoteNodesTable, ""},
			{"activities", sqlCreateActivitiesTable, sqlCreateActivitiesIndices},
			{"delivery_queue", sqlCreateDeliveryQueueTable, sqlCreateDeliveryQueueIndices},
		}
		for _, t := range tables {
			if err := db.createTableIfNotExists(tx, t.create, t.name); err != nil {
				return err
			}
			if t.indices == "" {
				continue
			}
			if _, err := tx.Exec(t.indices); err != nil {
				db.logger.Warn("failed to create indices", "table", t.name, "err", err)
			}
		}
		return nil
	})
}

func (db *DB) createTableIfNotExists(tx *sql.Tx, createSQL string, tableName string) error {
	_, err := tx.Exec(createSQL)
	if err != nil {
		db.logger.Error("error creating table", "table", tableName, "err", err)
		return err
	}
	db.logger.Debug("table created or already exists", "table", tableName)
	return nil
}
