package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/deemkeen/socialdistro/domain"
	"github.com/google/uuid"
)

const (
	sqlSelectFollow = `SELECT id, follower_id, following_id, status, created_at, updated_at FROM follows
		WHERE follower_id = ? AND following_id = ?`
	sqlInsertFollow = `INSERT INTO follows(id, follower_id, following_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`
	sqlUpdateFollowStatus = `UPDATE follows SET status = ?, updated_at = ? WHERE follower_id = ? AND following_id = ?`
	sqlDeleteFollow       = `DELETE FROM follows WHERE follower_id = ? AND following_id = ?`

	sqlSelectFollowers = `SELECT ` + joinedAuthorColumns + ` FROM follows f
		INNER JOIN authors a ON a.id = f.follower_id
		WHERE f.following_id = ? AND f.status = ? ORDER BY f.created_at ASC`
	sqlSelectFollowing = `SELECT ` + joinedAuthorColumns + ` FROM follows f
		INNER JOIN authors a ON a.id = f.following_id
		WHERE f.follower_id = ? AND f.status = ? ORDER BY f.created_at ASC`
	sqlSelectFriends = `SELECT ` + joinedAuthorColumns + ` FROM follows f1
		INNER JOIN follows f2 ON f2.follower_id = f1.following_id AND f2.following_id = f1.follower_id
		INNER JOIN authors a ON a.id = f1.following_id
		WHERE f1.follower_id = ? AND f1.status = 'ACCEPTED' AND f2.status = 'ACCEPTED'
		ORDER BY f1.created_at ASC`
	sqlSelectIsFollowing = `SELECT COUNT(*) FROM follows WHERE follower_id = ? AND following_id = ? AND status = 'ACCEPTED'`
)

func scanFollow(row rowScanner) (*domain.Follow, error) {
	var f domain.Follow
	var idStr, status string
	err := row.Scan(&idStr, &f.FollowerId, &f.FollowingId, &status, &f.CreatedAt, &f.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	f.Id, _ = uuid.Parse(idStr)
	f.Status = domain.FollowStatus(status)
	return &f, nil
}

func (db *DB) ReadFollow(ctx context.Context, followerId, followingId string) (*domain.Follow, error) {
	return scanFollow(db.db.QueryRowContext(ctx, sqlSelectFollow, followerId, followingId))
}

// RequestFollow creates a REQUESTED edge. An edge that was DENIED goes back
// to REQUESTED. It reports whether a request was (re)opened, an existing
// REQUESTED or ACCEPTED edge is left unchanged.
func (db *DB) RequestFollow(ctx context.Context, followerId, followingId string) (bool, error) {
	if followerId == followingId {
		return false, fmt.Errorf("%w: an author cannot follow themselves", domain.ErrValidation)
	}
	opened := false
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		opened = false
		now := time.Now().UTC()
		existing, err := scanFollow(tx.QueryRow(sqlSelectFollow, followerId, followingId))
		switch {
		case errors.Is(err, domain.ErrNotFound):
			_, err = tx.Exec(sqlInsertFollow, uuid.New().String(), followerId, followingId, string(domain.FollowRequested), now, now)
			if err != nil {
				return fmt.Errorf("insert follow: %w", err)
			}
			opened = true
			return nil
		case err != nil:
			return err
		case existing.Status == domain.FollowDenied:
			_, err = tx.Exec(sqlUpdateFollowStatus, string(domain.FollowRequested), now, followerId, followingId)
			opened = err == nil
			return err
		}
		return nil
	})
	return opened, err
}

// SetFollowStatus moves an existing edge to status. Setting the current
// status again is a no-op.
func (db *DB) SetFollowStatus(ctx context.Context, followerId, followingId string, status domain.FollowStatus) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(sqlUpdateFollowStatus, string(status), time.Now().UTC(), followerId, followingId)
		if err != nil {
			return err
		}
		return skippedIfNoRows(res, domain.ErrNotFound)
	})
}

// DeleteFollow removes the edge. A missing edge is not an error.
func (db *DB) DeleteFollow(ctx context.Context, followerId, followingId string) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteFollow, followerId, followingId)
		return err
	})
}

func (db *DB) queryAuthors(ctx context.Context, query string, args ...any) ([]domain.Author, error) {
	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAuthors(rows)
}

// ReadFollowers lists authors following authorId with the given edge status.
func (db *DB) ReadFollowers(ctx context.Context, authorId string, status domain.FollowStatus) ([]domain.Author, error) {
	return db.queryAuthors(ctx, sqlSelectFollowers, authorId, string(status))
}

// ReadFollowing lists authors that authorId follows with the given edge status.
func (db *DB) ReadFollowing(ctx context.Context, authorId string, status domain.FollowStatus) ([]domain.Author, error) {
	return db.queryAuthors(ctx, sqlSelectFollowing, authorId, string(status))
}

func (db *DB) ReadFriends(ctx context.Context, authorId string) ([]domain.Author, error) {
	return db.queryAuthors(ctx, sqlSelectFriends, authorId)
}

// Follows reports an ACCEPTED edge follower -> following.
func (db *DB) Follows(ctx context.Context, followerId, followingId string) (bool, error) {
	var n int
	if err := db.db.QueryRowContext(ctx, sqlSelectIsFollowing, followerId, followingId).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// AreFriends reports ACCEPTED edges in both directions.
func (db *DB) AreFriends(ctx context.Context, a, b string) (bool, error) {
	ab, err := db.Follows(ctx, a, b)
	if err != nil || !ab {
		return false, err
	}
	return db.Follows(ctx, b, a)
}
