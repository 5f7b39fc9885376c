package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/ticket-platform/internal/apperror"
	"github.com/sakif/ticket-platform/internal/model"
	"github.com/sakif/ticket-platform/internal/repository"
)

// compile-time check that *DB implements repository.UserRepository
var _ repository.UserRepository = (*DB)(nil)

const userColumns = `id, email, name, role, is_verified, subject_id, phone, avatar_url, created_at, updated_at`

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanUser(s scanner) (*model.User, error) {
	var (
		u         model.User
		role      string
		subjectID sql.NullString
	)
	err := s.Scan(
		&u.ID,
		&u.Email,
		&u.Name,
		&role,
		&u.IsVerified,
		&subjectID,
		&u.Phone,
		&u.AvatarURL,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	u.Role = model.Role(role)
	u.SubjectID = subjectID.String
	return &u, nil
}

// nullable stores "" as NULL so unlinked users don't collide on subject_id.
func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// findOne runs a single-row user query. It returns (nil, nil) on no rows.
func (db *DB) findOne(ctx context.Context, where string, arg any) (*model.User, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE `+where, arg)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return u, err
}

// FindByEmail returns the user with the given email, or nil.
func (db *DB) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	u, err := db.findOne(ctx, `email = ?`, email)
	if err != nil {
		return nil, fmt.Errorf("sqlite: finding user by email: %w", err)
	}
	return u, nil
}

// FindBySubjectID returns the user linked to the provider subject, or nil.
func (db *DB) FindBySubjectID(ctx context.Context, subjectID string) (*model.User, error) {
	if subjectID == "" {
		return nil, nil
	}
	u, err := db.findOne(ctx, `subject_id = ?`, subjectID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: finding user by subject %s: %w", subjectID, err)
	}
	return u, nil
}

// GetByID returns apperror.ErrNotFound if no user exists with that ID.
func (db *DB) GetByID(ctx context.Context, id string) (*model.User, error) {
	u, err := db.findOne(ctx, `id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("sqlite: getting user %s: %w", id, err)
	}
	if u == nil {
		return nil, apperror.NotFound("user", id)
	}
	return u, nil
}

// Create inserts a new user, filling in ID, timestamps and the default role.
func (db *DB) Create(ctx context.Context, user *model.User) error {
	now := time.Now().UTC()
	if user.ID == "" {
		user.ID = xid.New().String()
	}
	if user.Role == "" {
		user.Role = model.RoleUser
	}
	user.CreatedAt = now
	user.UpdatedAt = now

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.Email,
		user.Name,
		string(user.Role),
		user.IsVerified,
		nullable(user.SubjectID),
		user.Phone,
		user.AvatarURL,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if column, ok := isUniqueViolation(err); ok {
			return conflict(column, user)
		}
		return fmt.Errorf("sqlite: inserting user %s: %w", user.Email, err)
	}
	return nil
}

// Update writes every mutable column of user and bumps updated_at.
func (db *DB) Update(ctx context.Context, user *model.User) error {
	user.UpdatedAt = time.Now().UTC()

	res, err := db.conn.ExecContext(ctx,
		`UPDATE users
		 SET email = ?, name = ?, role = ?, is_verified = ?, subject_id = ?,
		     phone = ?, avatar_url = ?, updated_at = ?
		 WHERE id = ?`,
		user.Email,
		user.Name,
		string(user.Role),
		user.IsVerified,
		nullable(user.SubjectID),
		user.Phone,
		user.AvatarURL,
		user.UpdatedAt,
		user.ID,
	)
	if err != nil {
		if column, ok := isUniqueViolation(err); ok {
			return conflict(column, user)
		}
		return fmt.Errorf("sqlite: updating user %s: %w", user.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking update of user %s: %w", user.ID, err)
	}
	if n == 0 {
		return apperror.NotFound("user", user.ID)
	}
	return nil
}

// List returns users ordered by creation time, oldest first.
func (db *DB) List(ctx context.Context, opts repository.ListOptions) ([]model.User, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY created_at ASC, id ASC LIMIT ? OFFSET ?`,
		limit, opts.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing users: %w", err)
	}
	defer rows.Close()

	users := []model.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning user: %w", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating users: %w", err)
	}
	return users, nil
}

func conflict(column string, user *model.User) error {
	switch column {
	case "subject_id":
		return apperror.Conflict("user subject", user.SubjectID)
	case "id":
		return apperror.Conflict("user", user.ID)
	default:
		return apperror.Conflict("user email", user.Email)
	}
}
