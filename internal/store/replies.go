package store

import (
	"context"
	"fmt"
	"time"
)

// ReplyStore tracks which keys were already answered under a parent so
// several people asking for the same thing in one thread get one reply.
type ReplyStore struct {
	db *db
}

func OpenReplies(path string) (*ReplyStore, error) {
	d, err := openDB(path)
	if err != nil {
		return nil, err
	}
	return &ReplyStore{db: d}, nil
}

// Exists reports whether every key is already recorded for parentID.
// Keys that are missing get inserted.
func (r *ReplyStore) Exists(ctx context.Context, parentID string, keys []string) (bool, error) {
	if err := r.db.ready(); err != nil {
		return false, err
	}

	tx, err := r.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}

	inserted := false
	created := r.db.now().Unix()
	for _, key := range keys {
		res, err := tx.ExecContext(ctx,
			"INSERT INTO replies (parent_id, key, created) VALUES (?, ?, ?) ON CONFLICT(parent_id, key) DO NOTHING",
			parentID, key, created)
		if err != nil {
			_ = tx.Rollback()
			return false, fmt.Errorf("insert reply %s/%s: %w", parentID, key, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted = true
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit replies: %w", err)
	}
	return !inserted, nil
}

func (r *ReplyStore) Insert(ctx context.Context, parentID, key string) error {
	if err := r.db.ready(); err != nil {
		return err
	}
	_, err := r.db.conn.ExecContext(ctx,
		"INSERT INTO replies (parent_id, key, created) VALUES (?, ?, ?) ON CONFLICT(parent_id, key) DO NOTHING",
		parentID, key, r.db.now().Unix())
	if err != nil {
		return fmt.Errorf("insert reply %s/%s: %w", parentID, key, err)
	}
	return nil
}

// Prune drops replies older than maxAge.
func (r *ReplyStore) Prune(ctx context.Context, maxAge time.Duration) error {
	if err := r.db.ready(); err != nil {
		return err
	}
	cutoff := r.db.now().Add(-maxAge).Unix()
	if _, err := r.db.conn.ExecContext(ctx, "DELETE FROM replies WHERE created <= ?", cutoff); err != nil {
		return fmt.Errorf("prune replies: %w", err)
	}
	return nil
}

func (r *ReplyStore) Close() error {
	if r == nil {
		return nil
	}
	return r.db.close()
}
