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
	joinedEntryColumns = `e.id, e.serial, e.author_id, e.title, e.description, e.content_type, e.content, e.visibility, e.published, e.updated_at, e.is_deleted, ` + joinedAuthorColumns

	sqlInsertEntry = `INSERT INTO entries(id, serial, author_id, title, description, content_type, content, visibility, published, updated_at, is_deleted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	sqlUpdateEntry = `UPDATE entries SET title = ?, description = ?, content_type = ?, content = ?, visibility = ?, updated_at = ?
		WHERE id = ? AND is_deleted = 0`
	sqlTombstoneEntry = `UPDATE entries SET is_deleted = 1, updated_at = ? WHERE id = ?`

	sqlSelectEntryState = `SELECT e.is_deleted, a.is_local FROM entries e INNER JOIN authors a ON a.id = e.author_id WHERE e.id = ?`

	sqlSelectEntryById = `SELECT ` + joinedEntryColumns + ` FROM entries e
		INNER JOIN authors a ON a.id = e.author_id
		WHERE e.id = ?`
	sqlSelectEntryByAuthorSerial = `SELECT ` + joinedEntryColumns + ` FROM entries e
		INNER JOIN authors a ON a.id = e.author_id
		WHERE e.author_id = ? AND e.serial = ?`
	sqlSelectEntriesByAuthor = `SELECT ` + joinedEntryColumns + ` FROM entries e
		INNER JOIN authors a ON a.id = e.author_id
		WHERE e.author_id = ? AND e.is_deleted = 0
		ORDER BY e.published DESC`
	sqlSelectPublicEntries = `SELECT ` + joinedEntryColumns + ` FROM entries e
		INNER JOIN authors a ON a.id = e.author_id
		WHERE e.visibility = 'PUBLIC' AND e.is_deleted = 0
		ORDER BY e.published DESC LIMIT ? OFFSET ?`
	sqlSelectPublicEntriesByAuthor = `SELECT ` + joinedEntryColumns + ` FROM entries e
		INNER JOIN authors a ON a.id = e.author_id
		WHERE e.author_id = ? AND e.visibility = 'PUBLIC' AND e.is_deleted = 0
		ORDER BY e.published DESC LIMIT ?`

	sqlCountPublicEntries = `SELECT COUNT(*) FROM entries e WHERE e.visibility = 'PUBLIC' AND e.is_deleted = 0`

	// Own entries, everything public, friends-only from mutual follows and
	// unlisted from authors the viewer follows.
	streamFilter = `e.is_deleted = 0 AND (
			e.author_id = ?1
			OR e.visibility = 'PUBLIC'
			OR (e.visibility = 'UNLISTED' AND EXISTS (
				SELECT 1 FROM follows f WHERE f.follower_id = ?1 AND f.following_id = e.author_id AND f.status = 'ACCEPTED'))
			OR (e.visibility = 'FRIENDS' AND ` + mutualWithViewer + `)
		)`
	sqlSelectStream = `SELECT ` + joinedEntryColumns + ` FROM entries e
		INNER JOIN authors a ON a.id = e.author_id
		WHERE ` + streamFilter + `
		ORDER BY e.published DESC LIMIT ?2 OFFSET ?3`
	sqlCountStream = `SELECT COUNT(*) FROM entries e WHERE ` + streamFilter

	// mutualWithViewer holds when ?1 and the entry author follow each other.
	mutualWithViewer = `EXISTS (
				SELECT 1 FROM follows f1
				INNER JOIN follows f2 ON f2.follower_id = f1.following_id AND f2.following_id = f1.follower_id
				WHERE f1.follower_id = ?1 AND f1.following_id = e.author_id AND f1.status = 'ACCEPTED' AND f2.status = 'ACCEPTED')`
)

func scanEntry(row rowScanner) (*domain.Entry, error) {
	var e domain.Entry
	var a domain.Author
	var visibility string
	err := row.Scan(&e.Id, &e.Serial, &e.AuthorId, &e.Title, &e.Description, &e.ContentType, &e.Content, &visibility, &e.Published, &e.UpdatedAt, &e.IsDeleted,
		&a.Id, &a.Serial, &a.Host, &a.DisplayName, &a.Github, &a.ProfileImage, &a.Username, &a.PasswordHash, &a.IsLocal, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	e.Visibility = domain.Visibility(visibility)
	e.Author = &a
	return &e, nil
}

func collectEntries(rows *sql.Rows) ([]domain.Entry, error) {
	var entries []domain.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return entries, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

func insertEntry(tx *sql.Tx, e *domain.Entry) error {
	_, err := tx.Exec(sqlInsertEntry, e.Id, e.Serial, e.AuthorId, e.Title, e.Description, e.ContentType, e.Content, string(e.Visibility), e.Published, e.UpdatedAt, boolToInt(e.IsDeleted))
	return err
}

// CreateEntry stores a new entry written by a local author.
func (db *DB) CreateEntry(ctx context.Context, e *domain.Entry) error {
	if e.Published.IsZero() {
		e.Published = time.Now().UTC()
	}
	e.UpdatedAt = e.Published
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		if err := insertEntry(tx, e); err != nil {
			return fmt.Errorf("insert entry %s: %w", e.Id, err)
		}
		return nil
	})
}

// UpdateEntry rewrites the mutable fields of a live entry.
func (db *DB) UpdateEntry(ctx context.Context, e *domain.Entry) error {
	e.UpdatedAt = time.Now().UTC()
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(sqlUpdateEntry, e.Title, e.Description, e.ContentType, e.Content, string(e.Visibility), e.UpdatedAt, e.Id)
		if err != nil {
			return err
		}
		return skippedIfNoRows(res, domain.ErrNotFound)
	})
}

// TombstoneEntry marks an entry deleted. The row stays so that late
// redeliveries of the same id cannot resurrect it.
func (db *DB) TombstoneEntry(ctx context.Context, id string) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(sqlTombstoneEntry, time.Now().UTC(), id)
		if err != nil {
			return err
		}
		return skippedIfNoRows(res, domain.ErrNotFound)
	})
}

// ApplyRemoteEntry materializes a pushed entry keyed by its immutable id.
// It reports whether a new row was created. Updates to an entry owned by
// this node are refused and tombstoned entries are left as they are, with
// e marked deleted to match.
func (db *DB) ApplyRemoteEntry(ctx context.Context, e *domain.Entry) (bool, error) {
	created := false
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		created = false
		var deleted, local bool
		err := tx.QueryRow(sqlSelectEntryState, e.Id).Scan(&deleted, &local)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if e.Published.IsZero() {
				e.Published = time.Now().UTC()
			}
			e.UpdatedAt = time.Now().UTC()
			if err := insertEntry(tx, e); err != nil {
				return fmt.Errorf("insert remote entry %s: %w", e.Id, err)
			}
			created = true
			return nil
		case err != nil:
			return err
		case local:
			return fmt.Errorf("%w: entry %s is owned by this node", domain.ErrForbidden, e.Id)
		case deleted:
			e.IsDeleted = true
			return nil
		}
		if e.IsDeleted {
			_, err = tx.Exec(sqlTombstoneEntry, time.Now().UTC(), e.Id)
			return err
		}
		_, err = tx.Exec(sqlUpdateEntry, e.Title, e.Description, e.ContentType, e.Content, string(e.Visibility), time.Now().UTC(), e.Id)
		return err
	})
	return created, err
}

// ReadEntryById returns the entry including tombstoned rows.
func (db *DB) ReadEntryById(ctx context.Context, id string) (*domain.Entry, error) {
	return scanEntry(db.db.QueryRowContext(ctx, sqlSelectEntryById, id))
}

func (db *DB) ReadEntryByAuthorSerial(ctx context.Context, authorId, serial string) (*domain.Entry, error) {
	return scanEntry(db.db.QueryRowContext(ctx, sqlSelectEntryByAuthorSerial, authorId, serial))
}

// ReadEntriesByAuthor returns all live entries of one author, newest first.
// Visibility filtering is left to the caller.
func (db *DB) ReadEntriesByAuthor(ctx context.Context, authorId string) ([]domain.Entry, error) {
	rows, err := db.db.QueryContext(ctx, sqlSelectEntriesByAuthor, authorId)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEntries(rows)
}

func (db *DB) ReadPublicEntries(ctx context.Context, page, size int) ([]domain.Entry, error) {
	limit, offset := pageBounds(page, size)
	rows, err := db.db.QueryContext(ctx, sqlSelectPublicEntries, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEntries(rows)
}

func (db *DB) ReadPublicEntriesByAuthor(ctx context.Context, authorId string, limit int) ([]domain.Entry, error) {
	rows, err := db.db.QueryContext(ctx, sqlSelectPublicEntriesByAuthor, authorId, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEntries(rows)
}

func (db *DB) CountPublicEntries(ctx context.Context) (int, error) {
	var n int
	err := db.db.QueryRowContext(ctx, sqlCountPublicEntries).Scan(&n)
	return n, err
}

// CountStream is the total behind ReadStream.
func (db *DB) CountStream(ctx context.Context, viewerId string) (int, error) {
	var n int
	err := db.db.QueryRowContext(ctx, sqlCountStream, viewerId).Scan(&n)
	return n, err
}

// ReadStream returns the home stream of a local author.
func (db *DB) ReadStream(ctx context.Context, viewerId string, page, size int) ([]domain.Entry, error) {
	limit, offset := pageBounds(page, size)
	rows, err := db.db.QueryContext(ctx, sqlSelectStream, viewerId, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEntries(rows)
}
