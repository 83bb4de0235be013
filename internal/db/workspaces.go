package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateWorkspace inserts a workspace and makes ownerID its owner.
func (db *DB) CreateWorkspace(ctx context.Context, name, ownerID string) (*Workspace, error) {
	ws := &Workspace{ID: NewPrefixedID("ws"), Name: name, CreatedAt: time.Now().UTC()}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO workspaces (id, name, created_at) VALUES (?, ?, ?)`,
		ws.ID, ws.Name, ws.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO workspace_members (workspace_id, user_id, role, created_at) VALUES (?, ?, ?, ?)`,
		ws.ID, ownerID, RoleOwner, ws.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("failed to add workspace owner: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit workspace: %w", err)
	}
	return ws, nil
}

// GetWorkspace looks a workspace up by id.
func (db *DB) GetWorkspace(ctx context.Context, id string) (*Workspace, error) {
	ws := &Workspace{}
	err := db.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM workspaces WHERE id = ?`, id,
	).Scan(&ws.ID, &ws.Name, &ws.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workspace: %w", err)
	}
	return ws, nil
}

// ListWorkspacesForUser returns the workspaces userID belongs to.
func (db *DB) ListWorkspacesForUser(ctx context.Context, userID string) ([]*Workspace, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT w.id, w.name, w.created_at FROM workspaces w
		 JOIN workspace_members m ON m.workspace_id = w.id
		 WHERE m.user_id = ? ORDER BY w.created_at, w.id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list workspaces: %w", err)
	}
	defer func() { _ = rows.Close() }()

	workspaces := []*Workspace{}
	for rows.Next() {
		ws := &Workspace{}
		if err := rows.Scan(&ws.ID, &ws.Name, &ws.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan workspace: %w", err)
		}
		workspaces = append(workspaces, ws)
	}
	return workspaces, rows.Err()
}

// AddWorkspaceMember adds or updates a membership.
func (db *DB) AddWorkspaceMember(ctx context.Context, workspaceID, userID, role string) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO workspace_members (workspace_id, user_id, role, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(workspace_id, user_id) DO UPDATE SET role = excluded.role`,
		workspaceID, userID, role, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to add workspace member: %w", err)
	}
	return nil
}

// RemoveWorkspaceMember deletes a membership.
func (db *DB) RemoveWorkspaceMember(ctx context.Context, workspaceID, userID string) error {
	_, err := db.ExecContext(ctx,
		`DELETE FROM workspace_members WHERE workspace_id = ? AND user_id = ?`, workspaceID, userID)
	if err != nil {
		return fmt.Errorf("failed to remove workspace member: %w", err)
	}
	return nil
}

// WorkspaceRole returns the user's role, or "" when not a member.
func (db *DB) WorkspaceRole(ctx context.Context, userID, workspaceID string) (string, error) {
	var role string
	err := db.QueryRowContext(ctx,
		`SELECT role FROM workspace_members WHERE workspace_id = ? AND user_id = ?`,
		workspaceID, userID,
	).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up workspace role: %w", err)
	}
	return role, nil
}

// IsWorkspaceMember reports whether userID belongs to workspaceID.
func (db *DB) IsWorkspaceMember(ctx context.Context, userID, workspaceID string) (bool, error) {
	role, err := db.WorkspaceRole(ctx, userID, workspaceID)
	return role != "", err
}
