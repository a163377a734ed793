// Package postgres implements the session user store on PostgreSQL.
//
// Exactly two query shapes exist, mirroring the two sync paths: the cheap
// version-marker lookup and the full profile fetch. Both are prepared at
// construction time.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/philbeliveau/orientor-authcache/session"
)

const (
	versionQuery = `
SELECT extract(epoch from u.updated_at)::text
FROM users u
WHERE u.subject_id = $1
`

	profileQuery = `
SELECT
  u.id,
  u.email,
  extract(epoch from u.updated_at)::text,
  COALESCE((
    SELECT string_agg(r.name, ',' ORDER BY r.name)
    FROM user_roles ur
    JOIN roles r ON r.id = ur.role_id
    WHERE ur.user_id = u.id
  ), ''),
  COALESCE((
    SELECT string_agg(p.name, ',' ORDER BY p.name)
    FROM user_permissions up
    JOIN permissions p ON p.id = up.permission_id
    WHERE up.user_id = u.id
  ), '')
FROM users u
WHERE u.subject_id = $1
`
)

// ErrNilDB is returned when a Store is constructed without a database.
var ErrNilDB = errors.New("postgres: nil db")

// Store reads user profiles and version markers from PostgreSQL. It
// implements [session.UserStore]. Construct with [NewStore] or [Open];
// close with [Store.Close].
type Store struct {
	db *sql.DB

	versionStmt *sql.Stmt
	profileStmt *sql.Stmt
}

// Open connects to the database at dsn and builds a [Store] over it. The
// pool is sized for the read-mostly lookup traffic this store serves.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	store, err := NewStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewStore builds a [Store] over an existing pool and prepares its
// statements. The caller keeps ownership of db when using this constructor;
// [Store.Close] still closes it.
func NewStore(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, ErrNilDB
	}

	s := &Store{db: db}

	var err error
	if s.versionStmt, err = db.Prepare(versionQuery); err != nil {
		return nil, fmt.Errorf("postgres: prepare version query: %w", err)
	}
	if s.profileStmt, err = db.Prepare(profileQuery); err != nil {
		_ = s.versionStmt.Close()
		return nil, fmt.Errorf("postgres: prepare profile query: %w", err)
	}
	return s, nil
}

// Version returns the subject's version marker. A missing row yields an
// empty marker, which the syncer treats as "never matches".
func (s *Store) Version(ctx context.Context, subjectID string) (string, error) {
	var version string
	err := s.versionStmt.QueryRowContext(ctx, subjectID).Scan(&version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return "", nil
	case err != nil:
		return "", fmt.Errorf("%w: version lookup: %v", session.ErrStoreUnavailable, err)
	}
	return version, nil
}

// Profile returns the subject's full profile, or (nil, nil) when no row
// exists.
func (s *Store) Profile(ctx context.Context, subjectID string) (*session.Profile, error) {
	var (
		userID      int64
		email       string
		version     string
		roles       string
		permissions string
	)
	err := s.profileStmt.QueryRowContext(ctx, subjectID).
		Scan(&userID, &email, &version, &roles, &permissions)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("%w: profile lookup: %v", session.ErrStoreUnavailable, err)
	}

	return &session.Profile{
		SubjectID:      subjectID,
		InternalUserID: userID,
		Email:          email,
		Roles:          splitList(roles),
		Permissions:    splitList(permissions),
		SourceVersion:  version,
	}, nil
}

// Close releases the prepared statements and the pool.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	var errs []error
	if s.versionStmt != nil {
		errs = append(errs, s.versionStmt.Close())
	}
	if s.profileStmt != nil {
		errs = append(errs, s.profileStmt.Close())
	}
	if s.db != nil {
		errs = append(errs, s.db.Close())
	}
	return errors.Join(errs...)
}

func splitList(joined string) []string {
	if joined == "" {
		return nil
	}
	return strings.Split(joined, ",")
}
