// ABOUTME: SQLite-backed user binding and block record storage
// ABOUTME: Credentials are stored only as one-way bcrypt hashes

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// ErrDuplicateCredential is returned when a credential is already bound
// to a different user id.
var ErrDuplicateCredential = errors.New("credential already bound to another user")

const schema = `
CREATE TABLE IF NOT EXISTS users (
	telegram_id INTEGER PRIMARY KEY,
	number_hash TEXT NOT NULL,
	full_name TEXT,
	role TEXT NOT NULL DEFAULT 'user',
	auth_time TEXT,
	subscription_active INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS blocked_users (
	user_id INTEGER PRIMARY KEY,
	unblock_time INTEGER NOT NULL
);
`

// Store provides user-record and block-record persistence over a SQLite
// connection pool. Connections are not safe for concurrent use; every
// method takes its own connection from the pool.
type Store struct {
	pool *sqlitex.Pool
	path string
}

// Open opens (creating if needed) the database at path. Every pooled
// connection gets WAL mode, a busy timeout, and the schema applied.
func Open(path string, poolSize int) (*Store, error) {
	if poolSize <= 0 {
		poolSize = 4
	}

	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize:    poolSize,
		PrepareConn: prepareConn,
	})
	if err != nil {
		return nil, fmt.Errorf("opening store %s: %w", path, err)
	}
	return &Store{pool: pool, path: path}, nil
}

func prepareConn(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=OFF",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return sqlitex.ExecuteScript(conn, schema, nil)
}

// Close closes the underlying pool.
func (s *Store) Close() error {
	return s.pool.Close()
}

// Binding is one persisted user record.
type Binding struct {
	UserID     int64
	FullName   string
	Role       string
	AuthTime   time.Time
	Subscribed bool
}

// BindCredential binds number to userID, storing only a bcrypt hash of
// the credential. If the number is already bound to a different user,
// ErrDuplicateCredential is returned and the existing binding is left
// untouched. Re-binding the same number to the same user refreshes the
// record.
func (s *Store) BindCredential(ctx context.Context, userID int64, number, fullName string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	taken := false
	err = sqlitex.Execute(conn, `SELECT telegram_id, number_hash FROM users`, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			if stmt.ColumnInt64(0) == userID {
				return nil
			}
			hash := stmt.ColumnText(1)
			if bcrypt.CompareHashAndPassword([]byte(hash), []byte(number)) == nil {
				taken = true
			}
			return nil
		},
	})
	if err != nil {
		return fmt.Errorf("checking credential uniqueness: %w", err)
	}
	if taken {
		return ErrDuplicateCredential
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(number), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hashing credential: %w", err)
	}

	err = sqlitex.Execute(conn,
		`REPLACE INTO users (telegram_id, number_hash, full_name, role, auth_time)
		 VALUES (?, ?, ?, 'user', ?)`,
		&sqlitex.ExecOptions{
			Args: []any{userID, string(hash), fullName, time.Now().UTC().Format(time.RFC3339)},
		})
	if err != nil {
		return fmt.Errorf("storing binding: %w", err)
	}
	return nil
}

// IsAuthorized reports whether userID has a stored credential binding.
func (s *Store) IsAuthorized(ctx context.Context, userID int64) (bool, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return false, err
	}
	defer s.pool.Put(conn)

	found := false
	err = sqlitex.Execute(conn, `SELECT 1 FROM users WHERE telegram_id = ?`, &sqlitex.ExecOptions{
		Args:       []any{userID},
		ResultFunc: func(*sqlite.Stmt) error { found = true; return nil },
	})
	return found, err
}

// CredentialHash returns the stored credential hash for userID, or
// ok=false when no binding exists.
func (s *Store) CredentialHash(ctx context.Context, userID int64) (string, bool, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return "", false, err
	}
	defer s.pool.Put(conn)

	var hash string
	found := false
	err = sqlitex.Execute(conn, `SELECT number_hash FROM users WHERE telegram_id = ?`, &sqlitex.ExecOptions{
		Args: []any{userID},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			hash = stmt.ColumnText(0)
			found = true
			return nil
		},
	})
	return hash, found, err
}

// IsSubscribed reports whether userID has an active subscription.
func (s *Store) IsSubscribed(ctx context.Context, userID int64) (bool, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return false, err
	}
	defer s.pool.Put(conn)

	active := false
	err = sqlitex.Execute(conn,
		`SELECT subscription_active FROM users WHERE telegram_id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{userID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				active = stmt.ColumnInt64(0) != 0
				return nil
			},
		})
	return active, err
}

// SetSubscription toggles the subscription flag for userID.
func (s *Store) SetSubscription(ctx context.Context, userID int64, active bool) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	val := 0
	if active {
		val = 1
	}
	return sqlitex.Execute(conn,
		`UPDATE users SET subscription_active = ? WHERE telegram_id = ?`,
		&sqlitex.ExecOptions{Args: []any{val, userID}})
}

// SetRole updates the role column for userID.
func (s *Store) SetRole(ctx context.Context, userID int64, role string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	return sqlitex.Execute(conn,
		`UPDATE users SET role = ? WHERE telegram_id = ?`,
		&sqlitex.ExecOptions{Args: []any{role, userID}})
}

// ListRecent returns up to limit bindings ordered by most recent
// authorization first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]Binding, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var out []Binding
	err = sqlitex.Execute(conn,
		`SELECT telegram_id, full_name, role, auth_time, subscription_active
		 FROM users ORDER BY auth_time DESC LIMIT ?`,
		&sqlitex.ExecOptions{
			Args: []any{limit},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				b := Binding{
					UserID:     stmt.ColumnInt64(0),
					FullName:   stmt.ColumnText(1),
					Role:       stmt.ColumnText(2),
					Subscribed: stmt.ColumnInt64(4) != 0,
				}
				if ts, err := time.Parse(time.RFC3339, stmt.ColumnText(3)); err == nil {
					b.AuthTime = ts
				}
				out = append(out, b)
				return nil
			},
		})
	return out, err
}

// RemoveBinding deletes the stored credential binding for userID.
func (s *Store) RemoveBinding(ctx context.Context, userID int64) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	return sqlitex.Execute(conn, `DELETE FROM users WHERE telegram_id = ?`,
		&sqlitex.ExecOptions{Args: []any{userID}})
}

// StillAuthorized reports whether the credential bound to userID is
// still a member of the authorized set. A missing binding is not
// authorized.
func (s *Store) StillAuthorized(ctx context.Context, userID int64, authorized []string) (bool, error) {
	hash, ok, err := s.CredentialHash(ctx, userID)
	if err != nil || !ok {
		return false, err
	}
	for _, number := range authorized {
		if bcrypt.CompareHashAndPassword([]byte(hash), []byte(number)) == nil {
			return true, nil
		}
	}
	return false, nil
}

// RemoveRevoked deletes every binding whose credential is no longer in
// the authorized set and returns the affected user ids. Run at startup
// so revocations made while the service was down take effect.
func (s *Store) RemoveRevoked(ctx context.Context, authorized []string) ([]int64, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var revoked []int64
	err = sqlitex.Execute(conn, `SELECT telegram_id, number_hash FROM users`, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			id := stmt.ColumnInt64(0)
			hash := stmt.ColumnText(1)
			for _, number := range authorized {
				if bcrypt.CompareHashAndPassword([]byte(hash), []byte(number)) == nil {
					return nil
				}
			}
			revoked = append(revoked, id)
			return nil
		},
	})
	if err != nil {
		return nil, err
	}

	for _, id := range revoked {
		err = sqlitex.Execute(conn, `DELETE FROM users WHERE telegram_id = ?`,
			&sqlitex.ExecOptions{Args: []any{id}})
		if err != nil {
			return nil, err
		}
	}
	return revoked, nil
}
