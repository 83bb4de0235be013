package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateProject inserts a project and adds its creator as a member.
func (db *DB) CreateProject(ctx context.Context, workspaceID, name, description, creatorID string) (*Project, error) {
	p := &Project{
		ID:          NewPrefixedID("proj"),
		WorkspaceID: workspaceID,
		Name:        name,
		Description: description,
		CreatedBy:   creatorID,
		CreatedAt:   time.Now().UTC(),
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO projects (id, workspace_id, name, description, created_by, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.WorkspaceID, p.Name, p.Description, p.CreatedBy, p.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO project_members (project_id, user_id, created_at) VALUES (?, ?, ?)`,
		p.ID, creatorID, p.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("failed to add project member: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit project: %w", err)
	}
	return p, nil
}

// GetProject looks a project up by id.
func (db *DB) GetProject(ctx context.Context, id string) (*Project, error) {
	p := &Project{}
	err := db.QueryRowContext(ctx,
		`SELECT id, workspace_id, name, description, created_by, created_at FROM projects WHERE id = ?`, id,
	).Scan(&p.ID, &p.WorkspaceID, &p.Name, &p.Description, &p.CreatedBy, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return p, nil
}

// ListProjects returns the projects of a workspace, oldest first.
func (db *DB) ListProjects(ctx context.Context, workspaceID string) ([]*Project, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, workspace_id, name, description, created_by, created_at
		 FROM projects WHERE workspace_id = ? ORDER BY created_at, id`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer func() { _ = rows.Close() }()

	projects := []*Project{}
	for rows.Next() {
		p := &Project{}
		if err := rows.Scan(&p.ID, &p.WorkspaceID, &p.Name, &p.Description, &p.CreatedBy, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// AddProjectMember grants userID access to a project.
func (db *DB) AddProjectMember(ctx context.Context, projectID, userID string) error {
	_, err := db.ExecContext(ctx,
		`INSERT OR IGNORE INTO project_members (project_id, user_id, created_at) VALUES (?, ?, ?)`,
		projectID, userID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to add project member: %w", err)
	}
	return nil
}

// IsProjectMember reports whether userID may see projectID: an explicit
// project member, or an owner or admin of the project's workspace.
func (db *DB) IsProjectMember(ctx context.Context, userID, projectID string) (bool, error) {
	var n int
	err := db.QueryRowContext(ctx,
		`SELECT
			(SELECT COUNT(*) FROM project_members WHERE project_id = ? AND user_id = ?) +
			(SELECT COUNT(*) FROM workspace_members m JOIN projects p ON p.workspace_id = m.workspace_id
			 WHERE p.id = ? AND m.user_id = ? AND m.role IN ('owner', 'admin'))`,
		projectID, userID, projectID, userID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check project membership: %w", err)
	}
	return n > 0, nil
}
