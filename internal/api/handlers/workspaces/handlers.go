// Package workspaces provides HTTP handlers for workspace operations.
package workspaces

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/lirancohen/workhub/internal/api/core"
	"github.com/lirancohen/workhub/internal/api/middleware"
	"github.com/lirancohen/workhub/internal/db"
	"github.com/lirancohen/workhub/internal/security"
)

// Handler handles workspace-related HTTP requests.
type Handler struct {
	deps *core.Deps
}

// New creates a new workspaces handler.
func New(deps *core.Deps) *Handler {
	return &Handler{deps: deps}
}

// RegisterRoutes registers all workspace routes on the given group.
//   - GET /workspaces
//   - POST /workspaces
//   - GET /workspaces/:id
//   - POST /workspaces/:id/members
//   - DELETE /workspaces/:id/members/:user
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/workspaces", h.HandleList)
	g.POST("/workspaces", h.HandleCreate)
	g.GET("/workspaces/:id", h.HandleGet)
	g.POST("/workspaces/:id/members", h.HandleAddMember)
	g.DELETE("/workspaces/:id/members/:user", h.HandleRemoveMember)
}

// HandleList returns the caller's workspaces.
// GET /api/v1/workspaces
func (h *Handler) HandleList(c echo.Context) error {
	workspaces, err := h.deps.DB.ListWorkspacesForUser(c.Request().Context(), middleware.GetUserID(c))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{
		"workspaces": workspaces,
		"count":      len(workspaces),
	})
}

// HandleCreate creates a workspace owned by the caller.
// POST /api/v1/workspaces
func (h *Handler) HandleCreate(c echo.Context) error {
	var req struct {
		Name string `json:"name"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	req.Name = security.CleanLine(req.Name)
	if req.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name is required")
	}
	ws, err := h.deps.DB.CreateWorkspace(c.Request().Context(), req.Name, middleware.GetUserID(c))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, ws)
}

// HandleGet returns one workspace.
// GET /api/v1/workspaces/:id
func (h *Handler) HandleGet(c echo.Context) error {
	id := c.Param("id")
	if _, err := h.deps.WorkspaceRole(c, id); err != nil {
		return err
	}
	ws, err := h.deps.DB.GetWorkspace(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, ws)
}

func (h *Handler) requireManager(c echo.Context, workspaceID string) error {
	role, err := h.deps.WorkspaceRole(c, workspaceID)
	if err != nil {
		return err
	}
	if role != db.RoleOwner && role != db.RoleAdmin {
		return echo.NewHTTPError(http.StatusForbidden, "workspace admin access required")
	}
	return nil
}

// refuseOwner keeps the owner's membership immutable.
func (h *Handler) refuseOwner(c echo.Context, workspaceID, userID string) error {
	role, err := h.deps.DB.WorkspaceRole(c.Request().Context(), userID, workspaceID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if role == db.RoleOwner {
		return echo.NewHTTPError(http.StatusConflict, "the workspace owner cannot be changed")
	}
	return nil
}

// HandleAddMember adds a user to the workspace.
// POST /api/v1/workspaces/:id/members
func (h *Handler) HandleAddMember(c echo.Context) error {
	id := c.Param("id")
	if err := h.requireManager(c, id); err != nil {
		return err
	}
	var req struct {
		UserID string `json:"user_id"`
		Role   string `json:"role"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Role == "" {
		req.Role = db.RoleMember
	}
	if req.UserID == "" || (req.Role != db.RoleMember && req.Role != db.RoleAdmin) {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id and a role of member or admin are required")
	}
	if err := h.refuseOwner(c, id, req.UserID); err != nil {
		return err
	}
	if err := h.deps.DB.AddWorkspaceMember(c.Request().Context(), id, req.UserID, req.Role); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, map[string]string{"workspace_id": id, "user_id": req.UserID, "role": req.Role})
}

// HandleRemoveMember removes a user from the workspace. Live subscriptions
// end when the user's connections next re-subscribe or reconnect.
// DELETE /api/v1/workspaces/:id/members/:user
func (h *Handler) HandleRemoveMember(c echo.Context) error {
	id := c.Param("id")
	if err := h.requireManager(c, id); err != nil {
		return err
	}
	if err := h.refuseOwner(c, id, c.Param("user")); err != nil {
		return err
	}
	if err := h.deps.DB.RemoveWorkspaceMember(c.Request().Context(), id, c.Param("user")); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
