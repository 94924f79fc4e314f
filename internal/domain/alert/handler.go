package alert

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/neurosense360/console/internal/domain/clinic"
	"github.com/neurosense360/console/internal/platform/auth"
	"github.com/neurosense360/console/pkg/pagination"
)

// PassRunner triggers an on-demand evaluation pass. *Scheduler implements
// it.
type PassRunner interface {
	RunOnce(ctx context.Context) (PassResult, error)
}

type Handler struct {
	engine *Engine
	runner PassRunner
}

// NewHandler builds the alert handler. When runner is nil, on-demand checks
// call the engine directly.
func NewHandler(engine *Engine, runner PassRunner) *Handler {
	return &Handler{engine: engine, runner: runner}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	admin := api.Group("/alerts", auth.RequireRole(auth.RoleSuperAdmin))
	admin.GET("", h.ListActive)
	admin.GET("/stats", h.Stats)
	admin.POST("/check", h.CheckAll)
	admin.GET("/:id", h.Get)
	admin.POST("/:id/acknowledge", h.Acknowledge)
	admin.POST("/:id/dismiss", h.Dismiss)

	api.GET("/clinics/:id/alerts", h.ListClinicAlerts,
		auth.RequireRole(auth.RoleClinicAdmin), auth.RequireClinicScope("id"))
	api.POST("/clinics/:id/alerts/check", h.CheckClinic, auth.RequireRole(auth.RoleSuperAdmin))
	api.GET("/clinics/:id/events", h.ListEvents, auth.RequireRole(auth.RoleSuperAdmin))
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func errorResponse(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "alert not found")
	case errors.Is(err, clinic.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "clinic not found")
	case errors.Is(err, ErrPassInProgress):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "operation failed")
	}
}

// ListActive returns active alerts across clinics, optionally filtered by
// clinic_id and type.
func (h *Handler) ListActive(c echo.Context) error {
	var clinicID *uuid.UUID
	if raw := c.QueryParam("clinic_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid clinic_id")
		}
		clinicID = &id
	}
	typ := Type(c.QueryParam("type"))
	if typ != "" && !typ.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "type must be warning or critical")
	}

	alerts, err := h.engine.ListActive(c.Request().Context(), clinicID)
	if err != nil {
		return errorResponse(err)
	}
	if typ != "" {
		filtered := alerts[:0]
		for _, a := range alerts {
			if a.Type == typ {
				filtered = append(filtered, a)
			}
		}
		alerts = filtered
	}

	p := pagination.FromContext(c)
	return c.JSON(http.StatusOK, pagination.Paginate(alerts, p))
}

func (h *Handler) Stats(c echo.Context) error {
	stats, err := h.engine.Stats(c.Request().Context())
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, stats)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	a, err := h.engine.Get(c.Request().Context(), id)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) Acknowledge(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	a, err := h.engine.Acknowledge(c.Request().Context(), id)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) Dismiss(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	a, err := h.engine.Dismiss(c.Request().Context(), id)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) CheckAll(c echo.Context) error {
	var (
		res PassResult
		err error
	)
	if h.runner != nil {
		res, err = h.runner.RunOnce(c.Request().Context())
	} else {
		res, err = h.engine.CheckAllClinics(c.Request().Context())
	}
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) CheckClinic(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	res, err := h.engine.CheckClinic(c.Request().Context(), id)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, res)
}

// ListClinicAlerts returns one clinic's alerts. active_only defaults to true.
func (h *Handler) ListClinicAlerts(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	activeOnly := true
	if raw := c.QueryParam("active_only"); raw != "" {
		activeOnly, err = strconv.ParseBool(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "active_only must be a boolean")
		}
	}
	alerts, err := h.engine.ListClinicAlerts(c.Request().Context(), id, activeOnly)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, alerts)
}

func (h *Handler) ListEvents(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	p := pagination.FromContext(c)
	events, err := h.engine.Events(c.Request().Context(), id, p.Limit)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, events)
}
