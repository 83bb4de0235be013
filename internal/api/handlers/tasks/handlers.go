// Package tasks provides HTTP handlers for task operations.
package tasks

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/lirancohen/workhub/internal/api/core"
	"github.com/lirancohen/workhub/internal/api/middleware"
	"github.com/lirancohen/workhub/internal/db"
	"github.com/lirancohen/workhub/internal/realtime"
	"github.com/lirancohen/workhub/internal/security"
)

// Notification is the payload of notification_new frames.
type Notification struct {
	Kind      string `json:"kind"`
	TaskID    string `json:"task_id"`
	ProjectID string `json:"project_id"`
	Title     string `json:"title"`
	ActorID   string `json:"actor_id"`
}

// Handler handles task-related HTTP requests.
type Handler struct {
	deps *core.Deps
}

// New creates a new tasks handler.
func New(deps *core.Deps) *Handler {
	return &Handler{deps: deps}
}

// RegisterRoutes registers all task routes on the given group.
// All routes require authentication.
//   - GET /projects/:id/tasks
//   - POST /projects/:id/tasks
//   - GET /tasks/:id
//   - PATCH /tasks/:id
//   - PUT /tasks/:id/status
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/projects/:id/tasks", h.HandleList)
	g.POST("/projects/:id/tasks", h.HandleCreate)
	g.GET("/tasks/:id", h.HandleGet)
	g.PATCH("/tasks/:id", h.HandleUpdate)
	g.PUT("/tasks/:id/status", h.HandleUpdateStatus)
}

// HandleList returns the tasks of a project.
// GET /api/v1/projects/:id/tasks
func (h *Handler) HandleList(c echo.Context) error {
	project, err := h.deps.AccessibleProject(c, c.Param("id"))
	if err != nil {
		return err
	}
	tasks, err := h.deps.DB.ListTasks(c.Request().Context(), project.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{
		"tasks": tasks,
		"count": len(tasks),
	})
}

// HandleCreate creates a task. Project subscribers other than the creator
// get task_created; the assignee gets a notification.
// POST /api/v1/projects/:id/tasks
func (h *Handler) HandleCreate(c echo.Context) error {
	project, err := h.deps.AccessibleProject(c, c.Param("id"))
	if err != nil {
		return err
	}
	var req struct {
		Title       string `json:"title"`
		Description string `json:"description,omitempty"`
		AssigneeID  string `json:"assignee_id,omitempty"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	req.Title = security.CleanLine(req.Title)
	req.Description = security.CleanText(req.Description)
	if req.Title == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "title is required")
	}
	ctx := c.Request().Context()
	if err := h.checkAssignee(ctx, project.ID, req.AssigneeID); err != nil {
		return err
	}

	userID := middleware.GetUserID(c)
	task, err := h.deps.DB.CreateTask(ctx, project.ID, req.Title, req.Description, req.AssigneeID, userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	h.deps.Hub.Broadcast(ctx, realtime.Project(project.ID), realtime.EventTaskCreated, task, realtime.ExcludeUser(userID))
	h.notifyAssignee(ctx, task, "", userID)
	return c.JSON(http.StatusCreated, task)
}

// HandleGet returns a single task.
// GET /api/v1/tasks/:id
func (h *Handler) HandleGet(c echo.Context) error {
	task, err := h.deps.AccessibleTask(c, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, task)
}

// HandleUpdate changes title, description or assignee.
// PATCH /api/v1/tasks/:id
func (h *Handler) HandleUpdate(c echo.Context) error {
	before, err := h.deps.AccessibleTask(c, c.Param("id"))
	if err != nil {
		return err
	}
	var req struct {
		Title       *string `json:"title,omitempty"`
		Description *string `json:"description,omitempty"`
		AssigneeID  *string `json:"assignee_id,omitempty"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Title != nil {
		*req.Title = security.CleanLine(*req.Title)
		if *req.Title == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "title must not be empty")
		}
	}
	if req.Description != nil {
		*req.Description = security.CleanText(*req.Description)
	}
	ctx := c.Request().Context()
	if req.AssigneeID != nil {
		if err := h.checkAssignee(ctx, before.ProjectID, *req.AssigneeID); err != nil {
			return err
		}
	}

	task, err := h.deps.DB.UpdateTask(ctx, before.ID, db.TaskUpdate{
		Title:       req.Title,
		Description: req.Description,
		AssigneeID:  req.AssigneeID,
	})
	if err != nil {
		return taskError(err)
	}

	userID := middleware.GetUserID(c)
	h.deps.Hub.Broadcast(ctx, realtime.Project(task.ProjectID), realtime.EventTaskUpdated, task, realtime.ExcludeUser(userID))
	h.notifyAssignee(ctx, task, before.AssigneeID, userID)
	return c.JSON(http.StatusOK, task)
}

// HandleUpdateStatus moves a task to a new status.
// PUT /api/v1/tasks/:id/status
func (h *Handler) HandleUpdateStatus(c echo.Context) error {
	before, err := h.deps.AccessibleTask(c, c.Param("id"))
	if err != nil {
		return err
	}
	var req struct {
		Status string `json:"status"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ctx := c.Request().Context()
	task, err := h.deps.DB.UpdateTaskStatus(ctx, before.ID, req.Status)
	if err != nil {
		return taskError(err)
	}

	h.deps.Hub.Broadcast(ctx, realtime.Project(task.ProjectID), realtime.EventStatusUpdated, map[string]any{
		"task_id":         task.ID,
		"project_id":      task.ProjectID,
		"status":          task.Status,
		"previous_status": before.Status,
	}, realtime.ExcludeUser(middleware.GetUserID(c)))
	return c.JSON(http.StatusOK, task)
}

func (h *Handler) checkAssignee(ctx context.Context, projectID, assigneeID string) error {
	if assigneeID == "" {
		return nil
	}
	ok, err := h.deps.DB.IsProjectMember(ctx, assigneeID, projectID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "assignee is not a member of the project")
	}
	return nil
}

// notifyAssignee tells a newly assigned user about the task unless they
// assigned it to themselves.
func (h *Handler) notifyAssignee(ctx context.Context, task *db.Task, previousAssignee, actorID string) {
	if task.AssigneeID == "" || task.AssigneeID == previousAssignee || task.AssigneeID == actorID {
		return
	}
	h.deps.Hub.Broadcast(ctx, realtime.User(task.AssigneeID), realtime.EventNotificationNew, Notification{
		Kind:      "task_assigned",
		TaskID:    task.ID,
		ProjectID: task.ProjectID,
		Title:     task.Title,
		ActorID:   actorID,
	})
}

func taskError(err error) error {
	switch {
	case errors.Is(err, db.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "task not found")
	case errors.Is(err, db.ErrInvalidStatus):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
