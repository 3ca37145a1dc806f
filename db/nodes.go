package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/deemkeen/socialdistro/domain"
)

const (
	remoteNodeColumns = `host, outgoing_username, outgoing_password, incoming_username, incoming_password_hash, is_active, created_at, updated_at`

	sqlUpsertRemoteNode = `INSERT INTO remote_nodes(` + remoteNodeColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(host) DO UPDATE SET
			outgoing_username = excluded.outgoing_username,
			outgoing_password = excluded.outgoing_password,
			incoming_username = excluded.incoming_username,
			incoming_password_hash = excluded.incoming_password_hash,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at`
	sqlSelectRemoteNode               = `SELECT ` + remoteNodeColumns + ` FROM remote_nodes WHERE host = ?`
	sqlSelectRemoteNodeByIncomingUser = `SELECT ` + remoteNodeColumns + ` FROM remote_nodes WHERE incoming_username = ?`
	sqlSelectRemoteNodes              = `SELECT ` + remoteNodeColumns + ` FROM remote_nodes ORDER BY host ASC`
	sqlSetRemoteNodeActive            = `UPDATE remote_nodes SET is_active = ?, updated_at = ? WHERE host = ?`
)

func scanRemoteNode(row rowScanner) (*domain.RemoteNode, error) {
	var n domain.RemoteNode
	err := row.Scan(&n.Host, &n.OutgoingUsername, &n.OutgoingPassword, &n.IncomingUsername, &n.IncomingPasswordHash, &n.IsActive, &n.CreatedAt, &n.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// UpsertRemoteNode creates or replaces the credentials of one peer. The host
// is stored normalized.
func (db *DB) UpsertRemoteNode(ctx context.Context, n *domain.RemoteNode) error {
	n.Host = domain.NormalizeHost(n.Host)
	now := time.Now().UTC()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	n.UpdatedAt = now
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpsertRemoteNode, n.Host, n.OutgoingUsername, n.OutgoingPassword, n.IncomingUsername, n.IncomingPasswordHash, boolToInt(n.IsActive), n.CreatedAt, n.UpdatedAt)
		return err
	})
}

func (db *DB) ReadRemoteNode(ctx context.Context, host string) (*domain.RemoteNode, error) {
	return scanRemoteNode(db.db.QueryRowContext(ctx, sqlSelectRemoteNode, domain.NormalizeHost(host)))
}

func (db *DB) ReadRemoteNodeByIncomingUsername(ctx context.Context, username string) (*domain.RemoteNode, error) {
	return scanRemoteNode(db.db.QueryRowContext(ctx, sqlSelectRemoteNodeByIncomingUser, username))
}

func (db *DB) ReadRemoteNodes(ctx context.Context) ([]domain.RemoteNode, error) {
	rows, err := db.db.QueryContext(ctx, sqlSelectRemoteNodes)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nodes []domain.RemoteNode
	for rows.Next() {
		n, err := scanRemoteNode(rows)
		if err != nil {
			return nodes, err
		}
		nodes = append(nodes, *n)
	}
	return nodes, rows.Err()
}

func (db *DB) SetRemoteNodeActive(ctx context.Context, host string, active bool) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(sqlSetRemoteNodeActive, boolToInt(active), time.Now().UTC(), domain.NormalizeHost(host))
		if err != nil {
			return err
		}
		return skippedIfNoRows(res, domain.ErrNotFound)
	})
}
