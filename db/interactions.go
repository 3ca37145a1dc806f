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
	joinedCommentColumns = `c.id, c.serial, c.author_id, c.entry_id, c.comment, c.content_type, c.published, ` + joinedAuthorColumns
	joinedLikeColumns    = `l.id, l.author_id, l.object_id, l.object_kind, l.published, ` + joinedAuthorColumns

	sqlInsertComment = `INSERT INTO comments(id, serial, author_id, entry_id, comment, content_type, published)
		VALUES (?, ?, ?, ?, ?, ?, ?) ON CONFLICT(id) DO NOTHING`
	sqlSelectCommentById = `SELECT ` + joinedCommentColumns + ` FROM comments c
		INNER JOIN authors a ON a.id = c.author_id WHERE c.id = ?`
	sqlSelectCommentBySerial = `SELECT ` + joinedCommentColumns + ` FROM comments c
		INNER JOIN authors a ON a.id = c.author_id WHERE c.entry_id = ? AND c.serial = ?`
	sqlSelectCommentsByEntry = `SELECT ` + joinedCommentColumns + ` FROM comments c
		INNER JOIN authors a ON a.id = c.author_id
		WHERE c.entry_id = ? ORDER BY c.published DESC LIMIT ? OFFSET ?`
	sqlCountCommentsByEntry = `SELECT COUNT(*) FROM comments WHERE entry_id = ?`

	sqlInsertLike = `INSERT INTO likes(id, author_id, object_id, object_kind, published)
		VALUES (?, ?, ?, ?, ?) ON CONFLICT DO NOTHING`
	sqlSelectLike = `SELECT ` + joinedLikeColumns + ` FROM likes l
		INNER JOIN authors a ON a.id = l.author_id WHERE l.author_id = ? AND l.object_id = ?`
	sqlSelectLikesByObject = `SELECT ` + joinedLikeColumns + ` FROM likes l
		INNER JOIN authors a ON a.id = l.author_id
		WHERE l.object_id = ? ORDER BY l.published DESC LIMIT ? OFFSET ?`
	sqlCountLikesByObject = `SELECT COUNT(*) FROM likes WHERE object_id = ?`
	sqlSelectLikeById     = `SELECT ` + joinedLikeColumns + ` FROM likes l
		INNER JOIN authors a ON a.id = l.author_id WHERE l.id = ?`

	// Entries ?1 may fetch directly; ?2 is set for any authenticated caller.
	readableEntry = `e.is_deleted = 0 AND (
			e.visibility = 'PUBLIC'
			OR e.author_id = ?1
			OR (e.visibility = 'UNLISTED' AND ?2 = 1)
			OR (e.visibility = 'FRIENDS' AND ` + mutualWithViewer + `))`

	fromCommentsByAuthor = ` FROM comments c
		INNER JOIN authors a ON a.id = c.author_id
		INNER JOIN entries e ON e.id = c.entry_id
		WHERE c.author_id = ?3 AND ` + readableEntry
	sqlSelectCommentsByAuthor = `SELECT ` + joinedCommentColumns + fromCommentsByAuthor + `
		ORDER BY c.published DESC LIMIT ?4 OFFSET ?5`
	sqlCountCommentsByAuthor = `SELECT COUNT(*)` + fromCommentsByAuthor

	// A like on a comment is readable when the comment's entry is.
	fromLikesByAuthor = ` FROM likes l
		INNER JOIN authors a ON a.id = l.author_id
		LEFT JOIN comments c ON l.object_kind = 'comment' AND c.id = l.object_id
		INNER JOIN entries e ON e.id = COALESCE(c.entry_id, l.object_id)
		WHERE l.author_id = ?3 AND ` + readableEntry
	sqlSelectLikesByAuthor = `SELECT ` + joinedLikeColumns + fromLikesByAuthor + `
		ORDER BY l.published DESC LIMIT ?4 OFFSET ?5`
	sqlCountLikesByAuthor = `SELECT COUNT(*)` + fromLikesByAuthor
)

// Reader identifies who is listing another author's interactions. A zero
// Reader is anonymous.
type Reader struct {
	AuthorId      string
	Authenticated bool
}

func scanComment(row rowScanner) (*domain.Comment, error) {
	var c domain.Comment
	var a domain.Author
	err := row.Scan(&c.Id, &c.Serial, &c.AuthorId, &c.EntryId, &c.Comment, &c.ContentType, &c.Published,
		&a.Id, &a.Serial, &a.Host, &a.DisplayName, &a.Github, &a.ProfileImage, &a.Username, &a.PasswordHash, &a.IsLocal, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.Author = &a
	return &c, nil
}

func scanLike(row rowScanner) (*domain.Like, error) {
	var l domain.Like
	var a domain.Author
	var kind string
	err := row.Scan(&l.Id, &l.AuthorId, &l.ObjectId, &kind, &l.Published,
		&a.Id, &a.Serial, &a.Host, &a.DisplayName, &a.Github, &a.ProfileImage, &a.Username, &a.PasswordHash, &a.IsLocal, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	l.ObjectKind = domain.LikeTarget(kind)
	l.Author = &a
	return &l, nil
}

// CreateComment stores a comment. A comment id seen before yields
// ErrConflictSkipped.
func (db *DB) CreateComment(ctx context.Context, c *domain.Comment) error {
	if c.Published.IsZero() {
		c.Published = time.Now().UTC()
	}
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(sqlInsertComment, c.Id, c.Serial, c.AuthorId, c.EntryId, c.Comment, c.ContentType, c.Published)
		if err != nil {
			return fmt.Errorf("insert comment %s: %w", c.Id, err)
		}
		return skippedIfNoRows(res, domain.ErrConflictSkipped)
	})
}

func (db *DB) ReadCommentById(ctx context.Context, id string) (*domain.Comment, error) {
	return scanComment(db.db.QueryRowContext(ctx, sqlSelectCommentById, id))
}

// ReadCommentBySerial finds a comment on entryId by the last segment of its
// id.
func (db *DB) ReadCommentBySerial(ctx context.Context, entryId, serial string) (*domain.Comment, error) {
	return scanComment(db.db.QueryRowContext(ctx, sqlSelectCommentBySerial, entryId, serial))
}

func (db *DB) ReadCommentsByEntry(ctx context.Context, entryId string, page, size int) ([]domain.Comment, error) {
	limit, offset := pageBounds(page, size)
	rows, err := db.db.QueryContext(ctx, sqlSelectCommentsByEntry, entryId, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var comments []domain.Comment
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return comments, err
		}
		comments = append(comments, *c)
	}
	return comments, rows.Err()
}

func (db *DB) CountComments(ctx context.Context, entryId string) (int, error) {
	var n int
	err := db.db.QueryRowContext(ctx, sqlCountCommentsByEntry, entryId).Scan(&n)
	return n, err
}

// CreateLike stores a like. There is at most one like per author and
// object, a repeat yields ErrConflictSkipped.
func (db *DB) CreateLike(ctx context.Context, l *domain.Like) error {
	if l.Published.IsZero() {
		l.Published = time.Now().UTC()
	}
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(sqlInsertLike, l.Id, l.AuthorId, l.ObjectId, string(l.ObjectKind), l.Published)
		if err != nil {
			return fmt.Errorf("insert like %s: %w", l.Id, err)
		}
		return skippedIfNoRows(res, domain.ErrConflictSkipped)
	})
}

func (db *DB) ReadLikeById(ctx context.Context, id string) (*domain.Like, error) {
	return scanLike(db.db.QueryRowContext(ctx, sqlSelectLikeById, id))
}

func (db *DB) ReadLike(ctx context.Context, authorId, objectId string) (*domain.Like, error) {
	return scanLike(db.db.QueryRowContext(ctx, sqlSelectLike, authorId, objectId))
}

func (db *DB) ReadLikesByObject(ctx context.Context, objectId string, page, size int) ([]domain.Like, error) {
	limit, offset := pageBounds(page, size)
	rows, err := db.db.QueryContext(ctx, sqlSelectLikesByObject, objectId, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var likes []domain.Like
	for rows.Next() {
		l, err := scanLike(rows)
		if err != nil {
			return likes, err
		}
		likes = append(likes, *l)
	}
	return likes, rows.Err()
}

func (db *DB) CountLikes(ctx context.Context, objectId string) (int, error) {
	var n int
	err := db.db.QueryRowContext(ctx, sqlCountLikesByObject, objectId).Scan(&n)
	return n, err
}

// ReadCommentsByAuthor lists the comments authorId made on entries r may
// read, newest first.
func (db *DB) ReadCommentsByAuthor(ctx context.Context, authorId string, r Reader, page, size int) ([]domain.Comment, error) {
	limit, offset := pageBounds(page, size)
	rows, err := db.db.QueryContext(ctx, sqlSelectCommentsByAuthor, r.AuthorId, r.Authenticated, authorId, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var comments []domain.Comment
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return comments, err
		}
		comments = append(comments, *c)
	}
	return comments, rows.Err()
}

func (db *DB) CountCommentsByAuthor(ctx context.Context, authorId string, r Reader) (int, error) {
	var n int
	err := db.db.QueryRowContext(ctx, sqlCountCommentsByAuthor, r.AuthorId, r.Authenticated, authorId).Scan(&n)
	return n, err
}

// ReadLikesByAuthor lists the likes authorId gave to entries, or comments on
// entries, that r may read.
func (db *DB) ReadLikesByAuthor(ctx context.Context, authorId string, r Reader, page, size int) ([]domain.Like, error) {
	limit, offset := pageBounds(page, size)
	rows, err := db.db.QueryContext(ctx, sqlSelectLikesByAuthor, r.AuthorId, r.Authenticated, authorId, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var likes []domain.Like
	for rows.Next() {
		l, err := scanLike(rows)
		if err != nil {
			return likes, err
		}
		likes = append(likes, *l)
	}
	return likes, rows.Err()
}

func (db *DB) CountLikesByAuthor(ctx context.Context, authorId string, r Reader) (int, error) {
	var n int
	err := db.db.QueryRowContext(ctx, sqlCountLikesByAuthor, r.AuthorId, r.Authenticated, authorId).Scan(&n)
	return n, err
}
