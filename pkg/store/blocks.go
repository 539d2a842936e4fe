package store

import (
	"context"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// BlockedUser is one persisted suspension record.
type BlockedUser struct {
	UserID      int64
	UnblockTime time.Time
}

// AddBlock inserts or overwrites the block record for userID. A user id
// appears at most once; last writer wins.
func (s *Store) AddBlock(ctx context.Context, userID int64, unblock time.Time) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	return sqlitex.Execute(conn,
		`INSERT OR REPLACE INTO blocked_users (user_id, unblock_time) VALUES (?, ?)`,
		&sqlitex.ExecOptions{Args: []any{userID, unblock.Unix()}})
}

// RemoveBlock deletes the block record for userID, if any.
func (s *Store) RemoveBlock(ctx context.Context, userID int64) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	return sqlitex.Execute(conn, `DELETE FROM blocked_users WHERE user_id = ?`,
		&sqlitex.ExecOptions{Args: []any{userID}})
}

// IsBlocked reports whether userID has a block record that has not yet
// expired at now.
func (s *Store) IsBlocked(ctx context.Context, userID int64, now time.Time) (bool, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return false, err
	}
	defer s.pool.Put(conn)

	blocked := false
	err = sqlitex.Execute(conn,
		`SELECT 1 FROM blocked_users WHERE user_id = ? AND unblock_time > ?`,
		&sqlitex.ExecOptions{
			Args:       []any{userID, now.Unix()},
			ResultFunc: func(*sqlite.Stmt) error { blocked = true; return nil },
		})
	return blocked, err
}

// RemoveExpiredBlocks deletes every block record whose unblock time has
// passed and returns how many were removed.
func (s *Store) RemoveExpiredBlocks(ctx context.Context, now time.Time) (int, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `DELETE FROM blocked_users WHERE unblock_time <= ?`,
		&sqlitex.ExecOptions{Args: []any{now.Unix()}})
	if err != nil {
		return 0, err
	}
	return conn.Changes(), nil
}

// ClearBlocks deletes all block records. Run at startup.
func (s *Store) ClearBlocks(ctx context.Context) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	return sqlitex.Execute(conn, `DELETE FROM blocked_users`, nil)
}

// ListBlocks returns every current block record.
func (s *Store) ListBlocks(ctx context.Context) ([]BlockedUser, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var out []BlockedUser
	err = sqlitex.Execute(conn,
		`SELECT user_id, unblock_time FROM blocked_users ORDER BY unblock_time`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				out = append(out, BlockedUser{
					UserID:      stmt.ColumnInt64(0),
					UnblockTime: time.Unix(stmt.ColumnInt64(1), 0),
				})
				return nil
			},
		})
	return out, err
}
