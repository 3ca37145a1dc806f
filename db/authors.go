package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/deemkeen/socialdistro/domain"
)

const (
	authorColumns = `id, serial, host, display_name, github, profile_image, COALESCE(username, ''), password_hash, is_local, created_at, updated_at`
	// same columns, qualified for joins
	joinedAuthorColumns = `a.id, a.serial, a.host, a.display_name, a.github, a.profile_image, COALESCE(a.username, ''), a.password_hash, a.is_local, a.created_at, a.updated_at`

	sqlInsertLocalAuthor = `INSERT INTO authors(id, serial, host, display_name, github, profile_image, username, password_hash, is_local, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`
	// Remote stubs are refreshed in place but a local row is never touched.
	sqlUpsertRemoteAuthor = `INSERT INTO authors(id, serial, host, display_name, github, profile_image, is_local, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			display_name = CASE WHEN excluded.display_name <> '' THEN excluded.display_name ELSE authors.display_name END,
			github = CASE WHEN excluded.github <> '' THEN excluded.github ELSE authors.github END,
			profile_image = CASE WHEN excluded.profile_image <> '' THEN excluded.profile_image ELSE authors.profile_image END,
			updated_at = excluded.updated_at
		WHERE authors.is_local = 0`
	sqlUpdateLocalAuthorProfile  = `UPDATE authors SET display_name = ?, github = ?, profile_image = ?, updated_at = ? WHERE id = ? AND is_local = 1`
	sqlSelectAuthorById          = `SELECT ` + authorColumns + ` FROM authors WHERE id = ?`
	sqlSelectLocalAuthorBySerial = `SELECT ` + authorColumns + ` FROM authors WHERE serial = ? AND is_local = 1`
	sqlSelectAuthorByUsername    = `SELECT ` + authorColumns + ` FROM authors WHERE username = ? AND is_local = 1`
	sqlSelectLocalAuthors        = `SELECT ` + authorColumns + ` FROM authors WHERE is_local = 1 ORDER BY created_at ASC LIMIT ? OFFSET ?`
	sqlCountFollowers            = `SELECT COUNT(*) FROM follows WHERE following_id = ? AND status = 'ACCEPTED'`
	sqlCountFollowing            = `SELECT COUNT(*) FROM follows WHERE follower_id = ? AND status = 'ACCEPTED'`
	sqlCountFriends              = `SELECT COUNT(*) FROM follows f1
		INNER JOIN follows f2 ON f2.follower_id = f1.following_id AND f2.following_id = f1.follower_id
		WHERE f1.follower_id = ? AND f1.status = 'ACCEPTED' AND f2.status = 'ACCEPTED'`
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAuthor(row rowScanner) (*domain.Author, error) {
	var a domain.Author
	err := row.Scan(&a.Id, &a.Serial, &a.Host, &a.DisplayName, &a.Github, &a.ProfileImage, &a.Username, &a.PasswordHash, &a.IsLocal, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// CreateLocalAuthor registers an author owned by this node. Id and Host must
// already be filled in.
func (db *DB) CreateLocalAuthor(ctx context.Context, a *domain.Author) error {
	now := time.Now().UTC()
	a.IsLocal = true
	a.CreatedAt, a.UpdatedAt = now, now
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertLocalAuthor, a.Id, a.Serial, a.Host, a.DisplayName, a.Github, a.ProfileImage, a.Username, a.PasswordHash, now, now)
		if err != nil {
			return fmt.Errorf("insert author %s: %w", a.Username, err)
		}
		return nil
	})
}

// UpsertRemoteAuthor materializes or refreshes a remote stub. Empty fields
// never blank out known values, and rows owned by this node are left alone.
func (db *DB) UpsertRemoteAuthor(ctx context.Context, a *domain.Author) error {
	if a.Id == "" {
		return fmt.Errorf("%w: author id is required", domain.ErrValidation)
	}
	now := time.Now().UTC()
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpsertRemoteAuthor, a.Id, a.Serial, a.Host, a.DisplayName, a.Github, a.ProfileImage, now, now)
		return err
	})
}

func (db *DB) UpdateLocalAuthorProfile(ctx context.Context, a *domain.Author) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(sqlUpdateLocalAuthorProfile, a.DisplayName, a.Github, a.ProfileImage, time.Now().UTC(), a.Id)
		if err != nil {
			return err
		}
		return skippedIfNoRows(res, domain.ErrNotFound)
	})
}

func (db *DB) ReadAuthorById(ctx context.Context, id string) (*domain.Author, error) {
	return scanAuthor(db.db.QueryRowContext(ctx, sqlSelectAuthorById, id))
}

func (db *DB) ReadLocalAuthorBySerial(ctx context.Context, serial string) (*domain.Author, error) {
	return scanAuthor(db.db.QueryRowContext(ctx, sqlSelectLocalAuthorBySerial, serial))
}

func (db *DB) ReadAuthorByUsername(ctx context.Context, username string) (*domain.Author, error) {
	return scanAuthor(db.db.QueryRowContext(ctx, sqlSelectAuthorByUsername, username))
}

func (db *DB) ReadLocalAuthors(ctx context.Context, page, size int) ([]domain.Author, error) {
	limit, offset := pageBounds(page, size)
	rows, err := db.db.QueryContext(ctx, sqlSelectLocalAuthors, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAuthors(rows)
}

func collectAuthors(rows *sql.Rows) ([]domain.Author, error) {
	var authors []domain.Author
	for rows.Next() {
		a, err := scanAuthor(rows)
		if err != nil {
			return authors, err
		}
		authors = append(authors, *a)
	}
	return authors, rows.Err()
}

// CountRelations returns the accepted follower, following and friend counts.
func (db *DB) CountRelations(ctx context.Context, authorId string) (domain.AuthorCounts, error) {
	var c domain.AuthorCounts
	if err := db.db.QueryRowContext(ctx, sqlCountFollowers, authorId).Scan(&c.Followers); err != nil {
		return c, err
	}
	if err := db.db.QueryRowContext(ctx, sqlCountFollowing, authorId).Scan(&c.Following); err != nil {
		return c, err
	}
	if err := db.db.QueryRowContext(ctx, sqlCountFriends, authorId).Scan(&c.Friends); err != nil {
		return c, err
	}
	return c, nil
}
