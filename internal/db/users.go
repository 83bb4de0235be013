package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateUser inserts a new user.
func (db *DB) CreateUser(ctx context.Context, email, name string, isAdmin bool) (*User, error) {
	user := &User{
		ID:        NewPrefixedID("user"),
		Email:     email,
		Name:      name,
		IsAdmin:   isAdmin,
		CreatedAt: time.Now().UTC(),
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO users (id, email, name, is_admin, created_at) VALUES (?, ?, ?, ?, ?)`,
		user.ID, user.Email, user.Name, user.IsAdmin, user.CreatedAt,
	)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("user %q: %w", email, ErrConflict)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// GetUser looks a user up by id.
func (db *DB) GetUser(ctx context.Context, id string) (*User, error) {
	return db.scanUser(db.QueryRowContext(ctx,
		`SELECT id, email, name, is_admin, created_at FROM users WHERE id = ?`, id))
}

// GetUserByEmail looks a user up by email.
func (db *DB) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return db.scanUser(db.QueryRowContext(ctx,
		`SELECT id, email, name, is_admin, created_at FROM users WHERE email = ?`, email))
}

func (db *DB) scanUser(row *sql.Row) (*User, error) {
	user := &User{}
	err := row.Scan(&user.ID, &user.Email, &user.Name, &user.IsAdmin, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// IsAdmin reports whether the user has instance-admin rights.
func (db *DB) IsAdmin(ctx context.Context, userID string) (bool, error) {
	user, err := db.GetUser(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return user.IsAdmin, nil
}
