// Package access manages user registration gated by a whitelist.
// Usernames are normalized (leading @ stripped, lowercased) before any
// lookup or write, so "@Alice" and "alice" are the same user.
package access

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/velikanov/kbase/internal/log"
)

var (
	// ErrNoUsername indicates an empty username after normalization.
	ErrNoUsername = errors.New("username is required")

	// ErrNotWhitelisted indicates the username is not on the whitelist.
	ErrNotWhitelisted = errors.New("user is not whitelisted")

	// ErrAlreadyRegistered indicates the user id is already registered.
	ErrAlreadyRegistered = errors.New("user is already registered")
)

const pgUniqueViolation = "23505"

// DB is the database surface the service consumes. *pgxpool.Pool
// satisfies it, as does pgxmock in tests.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Service implements registration and whitelist management.
type Service struct {
	db     DB
	logger log.Logger
}

// New creates a Service.
func New(db DB, logger log.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{db: db, logger: logger}
}

// NormalizeUsername strips a leading @ and lowercases the name.
func NormalizeUsername(username string) string {
	username = strings.TrimPrefix(strings.TrimSpace(username), "@")
	return strings.ToLower(strings.TrimSpace(username))
}

// Register admits a user: whitelist check first, then insert. The
// primary key on user id makes repeat registration fail cleanly, so a
// concurrent double-register cannot slip through.
func (s *Service) Register(ctx context.Context, userID int64, username string) error {
	name := NormalizeUsername(username)
	if name == "" {
		return ErrNoUsername
	}

	whitelisted, err := s.IsWhitelisted(ctx, name)
	if err != nil {
		return err
	}
	if !whitelisted {
		return fmt.Errorf("%w: %s", ErrNotWhitelisted, name)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO user_registration (user_id, user_name)
		VALUES ($1, $2)
	`, userID, name)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("%w: id %d", ErrAlreadyRegistered, userID)
		}
		return fmt.Errorf("registering user %d: %w", userID, err)
	}

	s.logger.Info("user registered", "user_id", userID, "username", name)
	return nil
}

// IsRegistered reports whether the user id is registered.
func (s *Service) IsRegistered(ctx context.Context, userID int64) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM user_registration WHERE user_id = $1)
	`, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking registration: %w", err)
	}
	return exists, nil
}

// Unregister removes a user's registration. Reports whether a row was
// removed.
func (s *Service) Unregister(ctx context.Context, userID int64) (bool, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM user_registration WHERE user_id = $1`, userID)
	if err != nil {
		return false, fmt.Errorf("unregistering user %d: %w", userID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// IsWhitelisted reports whether the normalized username is on the
// whitelist.
func (s *Service) IsWhitelisted(ctx context.Context, username string) (bool, error) {
	name := NormalizeUsername(username)
	if name == "" {
		return false, ErrNoUsername
	}

	var exists bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM user_white_list WHERE user_name = $1)
	`, name).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking whitelist: %w", err)
	}
	return exists, nil
}

// Whitelist adds a username to the whitelist. Reports whether the name
// was newly added; false means it was already present.
func (s *Service) Whitelist(ctx context.Context, username string) (bool, error) {
	name := NormalizeUsername(username)
	if name == "" {
		return false, ErrNoUsername
	}

	tag, err := s.db.Exec(ctx, `
		INSERT INTO user_white_list (user_name)
		VALUES ($1)
		ON CONFLICT (user_name) DO NOTHING
	`, name)
	if err != nil {
		return false, fmt.Errorf("whitelisting %s: %w", name, err)
	}

	added := tag.RowsAffected() > 0
	if added {
		s.logger.Info("username whitelisted", "username", name)
	}
	return added, nil
}

// Unwhitelist removes a username from the whitelist. Reports whether a
// row was removed. Existing registrations are untouched.
func (s *Service) Unwhitelist(ctx context.Context, username string) (bool, error) {
	name := NormalizeUsername(username)
	if name == "" {
		return false, ErrNoUsername
	}

	tag, err := s.db.Exec(ctx, `DELETE FROM user_white_list WHERE user_name = $1`, name)
	if err != nil {
		return false, fmt.Errorf("removing %s from whitelist: %w", name, err)
	}

	removed := tag.RowsAffected() > 0
	if removed {
		s.logger.Info("username removed from whitelist", "username", name)
	}
	return removed, nil
}

// ListWhitelist returns all whitelisted usernames, newest first.
func (s *Service) ListWhitelist(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT user_name FROM user_white_list ORDER BY added_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("listing whitelist: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning whitelist row: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating whitelist rows: %w", err)
	}

	return names, nil
}
