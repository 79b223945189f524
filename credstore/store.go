package credstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/MrEthical07/gatekeeper"
	"github.com/MrEthical07/gatekeeper/password"
)

// ErrDuplicateEmail is returned by CreateUser when the email is taken.
var ErrDuplicateEmail = errors.New("email already registered")

// Config describes the database connection.
type Config struct {
	Driver          string
	DSN             string
	MaxConns        int
	ConnMaxLifetime time.Duration
	PingTimeout     time.Duration
}

// Open connects and verifies connectivity with a ping.
func Open(ctx context.Context, cfg Config) (*sqlx.DB, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = "postgres"
	}
	db, err := sqlx.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
		db.SetMaxIdleConns(cfg.MaxConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	timeout := cfg.PingTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}

// Store implements gatekeeper.CredentialStore and gatekeeper.RoleRegistry.
type Store struct {
	db     *sqlx.DB
	hasher password.Hasher
	now    func() time.Time
}

// New returns a Store. hasher verifies and creates password hashes.
func New(db *sqlx.DB, hasher password.Hasher) *Store {
	return &Store{db: db, hasher: hasher, now: time.Now}
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS businesses (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS users (
  id TEXT PRIMARY KEY,
  email TEXT NOT NULL UNIQUE,
  name TEXT NOT NULL DEFAULT '',
  password_hash TEXT NOT NULL,
  role TEXT NOT NULL,
  business_id TEXT REFERENCES businesses(id),
  is_active BOOLEAN NOT NULL DEFAULT TRUE,
  is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
  last_login_at TIMESTAMP,
  created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`,
	`CREATE TABLE IF NOT EXISTS user_roles (
  user_id TEXT NOT NULL REFERENCES users(id),
  role TEXT NOT NULL,
  is_active BOOLEAN NOT NULL DEFAULT TRUE,
  PRIMARY KEY (user_id, role)
)`,
	`CREATE INDEX IF NOT EXISTS idx_user_roles_user ON user_roles(user_id)`,
}

// EnsureSchema creates the tables if they do not exist. Prefer migrations in
// production.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, ddl := range schema {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

type userRow struct {
	ID           string         `db:"id"`
	Email        string         `db:"email"`
	Name         string         `db:"name"`
	PasswordHash string         `db:"password_hash"`
	Role         string         `db:"role"`
	BusinessID   sql.NullString `db:"business_id"`
	BusinessName sql.NullString `db:"business_name"`
	IsActive     bool           `db:"is_active"`
	IsDeleted    bool           `db:"is_deleted"`
}

func (r *userRow) toUser() *gatekeeper.User {
	return &gatekeeper.User{
		ID:           r.ID,
		Email:        r.Email,
		Name:         r.Name,
		PasswordHash: r.PasswordHash,
		Role:         r.Role,
		BusinessID:   r.BusinessID.String,
		BusinessName: r.BusinessName.String,
		IsActive:     r.IsActive,
		IsDeleted:    r.IsDeleted,
	}
}

const selectUser = `SELECT u.id, u.email, u.name, u.password_hash, u.role, u.business_id,
  b.name AS business_name, u.is_active, u.is_deleted
FROM users u LEFT JOIN businesses b ON b.id = u.business_id`

// FindByEmail returns nil, nil when no user has email. Matching is case-insensitive.
func (s *Store) FindByEmail(ctx context.Context, email string) (*gatekeeper.User, error) {
	return s.findOne(ctx, selectUser+` WHERE u.email = ?`, normalizeEmail(email))
}

// FindByID returns nil, nil when no user has id.
func (s *Store) FindByID(ctx context.Context, id string) (*gatekeeper.User, error) {
	return s.findOne(ctx, selectUser+` WHERE u.id = ?`, id)
}

func (s *Store) findOne(ctx context.Context, query string, arg interface{}) (*gatekeeper.User, error) {
	var row userRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(query), arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toUser(), nil
}

// VerifyPassword compares plain against a stored hash. Malformed hashes never match.
func (s *Store) VerifyPassword(plain, hash string) bool {
	ok, err := s.hasher.Verify(plain, hash)
	return err == nil && ok
}

func (s *Store) TouchLastLogin(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE users SET last_login_at = ? WHERE id = ?`), s.now().UTC(), userID)
	return err
}

// LastLogin returns the last-login stamp, or the zero time if none was recorded.
func (s *Store) LastLogin(ctx context.Context, userID string) (time.Time, error) {
	var at sql.NullTime
	err := s.db.GetContext(ctx, &at, s.db.Rebind(`SELECT last_login_at FROM users WHERE id = ?`), userID)
	if err != nil {
		return time.Time{}, err
	}
	return at.Time, nil
}

// ActiveRoles lists the user's active grants in name order.
func (s *Store) ActiveRoles(ctx context.Context, userID string) ([]string, error) {
	var roles []string
	err := s.db.SelectContext(ctx, &roles,
		s.db.Rebind(`SELECT role FROM user_roles WHERE user_id = ? AND is_active = ? ORDER BY role`),
		userID, true)
	if err != nil {
		return nil, err
	}
	return roles, nil
}

// NewUser is the input of CreateUser.
type NewUser struct {
	Email        string
	Name         string
	Password     string
	Role         string
	BusinessName string
}

// CreateUser inserts a user, its business if named, and a grant for its primary
// role, all in one transaction.
func (s *Store) CreateUser(ctx context.Context, in NewUser) (*gatekeeper.User, error) {
	email := normalizeEmail(in.Email)
	if email == "" || in.Password == "" || strings.TrimSpace(in.Role) == "" {
		return nil, errors.New("email, password and role are required")
	}
	if existing, err := s.FindByEmail(ctx, email); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, ErrDuplicateEmail
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	user := &gatekeeper.User{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         strings.TrimSpace(in.Name),
		PasswordHash: hash,
		Role:         strings.TrimSpace(in.Role),
		BusinessName: strings.TrimSpace(in.BusinessName),
		IsActive:     true,
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var businessID sql.NullString
	if user.BusinessName != "" {
		user.BusinessID = uuid.NewString()
		businessID = sql.NullString{String: user.BusinessID, Valid: true}
		if _, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO businesses (id, name) VALUES (?, ?)`), user.BusinessID, user.BusinessName); err != nil {
			return nil, err
		}
	}
	_, err = tx.NamedExecContext(ctx, `INSERT INTO users (id, email, name, password_hash, role, business_id, is_active, is_deleted)
VALUES (:id, :email, :name, :password_hash, :role, :business_id, :is_active, :is_deleted)`, map[string]interface{}{
		"id":            user.ID,
		"email":         user.Email,
		"name":          user.Name,
		"password_hash": user.PasswordHash,
		"role":          user.Role,
		"business_id":   businessID,
		"is_active":     true,
		"is_deleted":    false,
	})
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO user_roles (user_id, role, is_active) VALUES (?, ?, ?)`), user.ID, user.Role, true); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return user, nil
}

// GrantRole activates role for userID, creating the grant if needed.
func (s *Store) GrantRole(ctx context.Context, userID, role string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE user_roles SET is_active = ? WHERE user_id = ? AND role = ?`), true, userID, role)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}
	_, err = s.db.ExecContext(ctx, s.db.Rebind(`INSERT INTO user_roles (user_id, role, is_active) VALUES (?, ?, ?)`), userID, role, true)
	return err
}

// RevokeRole deactivates a grant. Revoking a missing grant is a no-op.
func (s *Store) RevokeRole(ctx context.Context, userID, role string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE user_roles SET is_active = ? WHERE user_id = ? AND role = ?`), false, userID, role)
	return err
}

// SetActive toggles whether the user may log in.
func (s *Store) SetActive(ctx context.Context, userID string, active bool) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE users SET is_active = ? WHERE id = ?`), active, userID)
	return err
}

// SoftDelete marks the user deleted; the row is kept.
func (s *Store) SoftDelete(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE users SET is_deleted = ? WHERE id = ?`), true, userID)
	return err
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
