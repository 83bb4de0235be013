package core

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/lirancohen/workhub/internal/api/middleware"
	"github.com/lirancohen/workhub/internal/db"
)

// WorkspaceRole returns the caller's role in workspaceID, or 403 when the
// caller is not a member.
func (d *Deps) WorkspaceRole(c echo.Context, workspaceID string) (string, error) {
	role, err := d.DB.WorkspaceRole(c.Request().Context(), middleware.GetUserID(c), workspaceID)
	if err != nil {
		return "", echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if role == "" {
		return "", echo.NewHTTPError(http.StatusForbidden, "not a member of this workspace")
	}
	return role, nil
}

// AccessibleProject loads projectID and checks the caller may see it.
func (d *Deps) AccessibleProject(c echo.Context, projectID string) (*db.Project, error) {
	ctx := c.Request().Context()
	project, err := d.DB.GetProject(ctx, projectID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, echo.NewHTTPError(http.StatusNotFound, "project not found")
	}
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	ok, err := d.DB.IsProjectMember(ctx, middleware.GetUserID(c), projectID)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return nil, echo.NewHTTPError(http.StatusForbidden, "not a member of this project")
	}
	return project, nil
}

// AccessibleTask loads taskID and checks the caller may see its project.
func (d *Deps) AccessibleTask(c echo.Context, taskID string) (*db.Task, error) {
	task, err := d.DB.GetTask(c.Request().Context(), taskID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, echo.NewHTTPError(http.StatusNotFound, "task not found")
	}
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if _, err := d.AccessibleProject(c, task.ProjectID); err != nil {
		return nil, err
	}
	return task, nil
}
