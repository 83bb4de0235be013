// Package sso provides the admin HTTP handlers for single sign-on settings.
// Every mutation is followed by a synchronous identity provider restart (or
// stop, when SSO is off) so the provider always runs the saved settings.
package sso

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/lirancohen/workhub/internal/api/core"
	"github.com/lirancohen/workhub/internal/db"
	"github.com/lirancohen/workhub/internal/idp"
)

// Handler handles SSO admin requests.
type Handler struct {
	deps *core.Deps
}

// New creates a new SSO handler.
func New(deps *core.Deps) *Handler {
	return &Handler{deps: deps}
}

// RegisterRoutes registers all SSO routes on the given admin group.
//   - GET /sso
//   - GET /sso/status
//   - PUT /sso/enabled
//   - POST /sso/restart
//   - POST /sso/connectors
//   - PUT /sso/connectors/order
//   - PUT /sso/connectors/:id
//   - DELETE /sso/connectors/:id
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/sso", h.HandleGet)
	g.GET("/sso/status", h.HandleStatus)
	g.PUT("/sso/enabled", h.HandleSetEnabled)
	g.POST("/sso/restart", h.HandleRestart)
	g.POST("/sso/connectors", h.HandleCreateConnector)
	g.PUT("/sso/connectors/order", h.HandleReorder)
	g.PUT("/sso/connectors/:id", h.HandleUpdateConnector)
	g.DELETE("/sso/connectors/:id", h.HandleDeleteConnector)
}

type connectorRequest struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	Name    string         `json:"name"`
	Enabled *bool          `json:"enabled,omitempty"`
	Config  map[string]any `json:"config"`
}

func (r connectorRequest) connector() *db.SSOConnector {
	enabled := true
	if r.Enabled != nil {
		enabled = *r.Enabled
	}
	return &db.SSOConnector{ID: r.ID, Type: r.Type, Name: r.Name, Enabled: enabled, Config: r.Config}
}

// HandleGet returns the SSO settings, every connector and the provider status.
// GET /api/v1/admin/sso
func (h *Handler) HandleGet(c echo.Context) error {
	return h.respond(c, http.StatusOK)
}

// HandleStatus returns the provider status only.
// GET /api/v1/admin/sso/status
func (h *Handler) HandleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, h.deps.Supervisor.Status())
}

// HandleSetEnabled flips the SSO toggle.
// PUT /api/v1/admin/sso/enabled
func (h *Handler) HandleSetEnabled(c echo.Context) error {
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := c.Bind(&req); err != nil || req.Enabled == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "enabled is required")
	}
	if err := h.deps.SSO.SetEnabled(c.Request().Context(), *req.Enabled); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return h.applyAndRespond(c, http.StatusOK)
}

// HandleRestart re-applies the saved settings.
// POST /api/v1/admin/sso/restart
func (h *Handler) HandleRestart(c echo.Context) error {
	return h.applyAndRespond(c, http.StatusOK)
}

// HandleCreateConnector adds a connector after the existing ones.
// POST /api/v1/admin/sso/connectors
func (h *Handler) HandleCreateConnector(c echo.Context) error {
	var req connectorRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if _, err := h.deps.SSO.CreateConnector(c.Request().Context(), req.connector()); err != nil {
		return storeError(err)
	}
	return h.applyAndRespond(c, http.StatusCreated)
}

// HandleUpdateConnector replaces a connector's settings.
// PUT /api/v1/admin/sso/connectors/:id
func (h *Handler) HandleUpdateConnector(c echo.Context) error {
	var req connectorRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	req.ID = c.Param("id")
	if err := h.deps.SSO.UpdateConnector(c.Request().Context(), req.connector()); err != nil {
		return storeError(err)
	}
	return h.applyAndRespond(c, http.StatusOK)
}

// HandleDeleteConnector removes a connector.
// DELETE /api/v1/admin/sso/connectors/:id
func (h *Handler) HandleDeleteConnector(c echo.Context) error {
	if err := h.deps.SSO.DeleteConnector(c.Request().Context(), c.Param("id")); err != nil {
		return storeError(err)
	}
	return h.applyAndRespond(c, http.StatusOK)
}

// HandleReorder sets connector positions from an ordered id list.
// PUT /api/v1/admin/sso/connectors/order
func (h *Handler) HandleReorder(c echo.Context) error {
	var req struct {
		IDs []string `json:"ids"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.deps.SSO.ReorderConnectors(c.Request().Context(), req.IDs); err != nil {
		return storeError(err)
	}
	return h.applyAndRespond(c, http.StatusOK)
}

func storeError(err error) error {
	switch {
	case errors.Is(err, db.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "connector not found")
	case errors.Is(err, db.ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, db.ErrInvalidConnector), errors.Is(err, db.ErrInvalidOrder):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

// apply stops the provider when SSO is off and restarts it otherwise. The
// saved change stays in place when this fails.
func (h *Handler) apply(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)
	cfg, err := h.deps.SSO.Config(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !cfg.Enabled {
		return h.deps.Supervisor.Stop(ctx)
	}

	err = h.deps.Supervisor.Restart(ctx)
	if err == nil {
		return nil
	}
	h.deps.Logger.Warn().Err(err).Msg("identity provider did not accept SSO settings")
	if idp.IsConfigurationError(err) {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	return echo.NewHTTPError(http.StatusBadGateway, "identity provider restart failed: "+err.Error())
}

func (h *Handler) applyAndRespond(c echo.Context, status int) error {
	if err := h.apply(c.Request().Context()); err != nil {
		return err
	}
	return h.respond(c, status)
}

func (h *Handler) respond(c echo.Context, status int) error {
	cfg, err := h.deps.SSO.Config(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(status, map[string]any{
		"enabled":    cfg.Enabled,
		"connectors": cfg.Connectors,
		"issuer":     h.deps.Supervisor.Settings().Issuer(),
		"status":     h.deps.Supervisor.Status(),
	})
}
