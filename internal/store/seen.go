package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultRetention is how long a seen id is remembered
const DefaultRetention = 24 * time.Hour

// SeenStore is the persistent set of item ids already handed to a listener.
type SeenStore struct {
	db *db
}

func OpenSeen(path string) (*SeenStore, error) {
	d, err := openDB(path)
	if err != nil {
		return nil, err
	}
	return &SeenStore{db: d}, nil
}

// IsSeen reports whether id was recorded before. An unseen id is
// recorded in the same statement, so only the first caller gets false.
func (s *SeenStore) IsSeen(ctx context.Context, id string) (bool, error) {
	if err := s.db.ready(); err != nil {
		return false, err
	}
	if strings.TrimSpace(id) == "" {
		return false, errors.New("id is required")
	}

	res, err := s.db.conn.ExecContext(ctx,
		"INSERT INTO seen (id, created) VALUES (?, ?) ON CONFLICT(id) DO NOTHING",
		id, s.db.now().Unix())
	if err != nil {
		return false, fmt.Errorf("record seen %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record seen %s: %w", id, err)
	}
	return n == 0, nil
}

// Cleanup forgets every id recorded at or before now-maxAge.
func (s *SeenStore) Cleanup(ctx context.Context, maxAge time.Duration) (int64, error) {
	if err := s.db.ready(); err != nil {
		return 0, err
	}
	cutoff := s.db.now().Add(-maxAge).Unix()
	res, err := s.db.conn.ExecContext(ctx, "DELETE FROM seen WHERE created <= ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup seen: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *SeenStore) Count(ctx context.Context) (int, error) {
	if err := s.db.ready(); err != nil {
		return 0, err
	}
	var n int
	if err := s.db.conn.QueryRowContext(ctx, "SELECT COUNT(1) FROM seen").Scan(&n); err != nil {
		return 0, fmt.Errorf("count seen: %w", err)
	}
	return n, nil
}

func (s *SeenStore) Close() error {
	if s == nil {
		return nil
	}
	return s.db.close()
}
