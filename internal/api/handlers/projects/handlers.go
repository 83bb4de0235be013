// Package projects provides HTTP handlers for project operations.
package projects

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/lirancohen/workhub/internal/api/core"
	"github.com/lirancohen/workhub/internal/api/middleware"
	"github.com/lirancohen/workhub/internal/realtime"
	"github.com/lirancohen/workhub/internal/security"
)

// Handler handles project-related HTTP requests.
type Handler struct {
	deps *core.Deps
}

// New creates a new projects handler.
func New(deps *core.Deps) *Handler {
	return &Handler{deps: deps}
}

// RegisterRoutes registers all project routes on the given group.
// All routes require authentication.
//   - GET /workspaces/:id/projects
//   - POST /workspaces/:id/projects
//   - GET /projects/:id
//   - POST /projects/:id/members
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/workspaces/:id/projects", h.HandleList)
	g.POST("/workspaces/:id/projects", h.HandleCreate)
	g.GET("/projects/:id", h.HandleGet)
	g.POST("/projects/:id/members", h.HandleAddMember)
}

// HandleList returns the projects of a workspace.
// GET /api/v1/workspaces/:id/projects
func (h *Handler) HandleList(c echo.Context) error {
	wsID := c.Param("id")
	if _, err := h.deps.WorkspaceRole(c, wsID); err != nil {
		return err
	}
	projects, err := h.deps.DB.ListProjects(c.Request().Context(), wsID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{
		"projects": projects,
		"count":    len(projects),
	})
}

// HandleCreate creates a project and announces it to the workspace.
// POST /api/v1/workspaces/:id/projects
func (h *Handler) HandleCreate(c echo.Context) error {
	wsID := c.Param("id")
	if _, err := h.deps.WorkspaceRole(c, wsID); err != nil {
		return err
	}
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description,omitempty"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	req.Name = security.CleanLine(req.Name)
	req.Description = security.CleanText(req.Description)
	if req.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name is required")
	}

	userID := middleware.GetUserID(c)
	project, err := h.deps.DB.CreateProject(c.Request().Context(), wsID, req.Name, req.Description, userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	h.deps.Hub.Broadcast(c.Request().Context(), realtime.Workspace(wsID), realtime.EventProjectCreated, project)
	return c.JSON(http.StatusCreated, project)
}

// HandleGet returns a single project by ID.
// GET /api/v1/projects/:id
func (h *Handler) HandleGet(c echo.Context) error {
	project, err := h.deps.AccessibleProject(c, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, project)
}

// HandleAddMember grants a workspace member access to the project.
// POST /api/v1/projects/:id/members
func (h *Handler) HandleAddMember(c echo.Context) error {
	project, err := h.deps.AccessibleProject(c, c.Param("id"))
	if err != nil {
		return err
	}
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := c.Bind(&req); err != nil || req.UserID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id is required")
	}
	ctx := c.Request().Context()
	ok, err := h.deps.DB.IsWorkspaceMember(ctx, req.UserID, project.WorkspaceID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "user is not a member of the workspace")
	}
	if err := h.deps.DB.AddProjectMember(ctx, project.ID, req.UserID); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, map[string]string{"project_id": project.ID, "user_id": req.UserID})
}
