package clinic

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/neurosense360/console/internal/platform/auth"
	"github.com/neurosense360/console/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	admin := api.Group("/clinics", auth.RequireRole(auth.RoleSuperAdmin))
	admin.GET("", h.ListClinics)
	admin.POST("", h.CreateClinic)
	admin.GET("/:id", h.GetClinic)
	admin.PUT("/:id", h.UpdateClinic)
	admin.DELETE("/:id", h.DeleteClinic)
	admin.POST("/:id/toggle-active", h.ToggleActive)
	admin.POST("/:id/reports/purchase", h.PurchaseReports)
	admin.POST("/:id/subscription/activate", h.ActivateSubscription)

	api.POST("/clinics/:id/reports/consume", h.ConsumeReport,
		auth.RequireRole(auth.RoleClinicAdmin), auth.RequireClinicScope("id"))
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// errorResponse maps service errors onto HTTP errors.
func errorResponse(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "clinic not found")
	case errors.Is(err, ErrInvalid):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrInactive):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "operation failed")
	}
}

func (h *Handler) CreateClinic(c echo.Context) error {
	var cl Clinic
	if err := c.Bind(&cl); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	cl.ID = uuid.Nil
	if err := h.svc.CreateClinic(c.Request().Context(), &cl); err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusCreated, cl)
}

func (h *Handler) GetClinic(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	cl, err := h.svc.GetClinic(c.Request().Context(), id)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, cl)
}

func (h *Handler) ListClinics(c echo.Context) error {
	p := pagination.FromContext(c)
	clinics, total, err := h.svc.ListClinics(c.Request().Context(), p.Limit, p.Offset)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(clinics, total, p))
}

func (h *Handler) UpdateClinic(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var cl Clinic
	if err := c.Bind(&cl); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	cl.ID = id
	if err := h.svc.UpdateClinic(c.Request().Context(), &cl); err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, cl)
}

func (h *Handler) DeleteClinic(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteClinic(c.Request().Context(), id); err != nil {
		return errorResponse(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ToggleActive(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	cl, err := h.svc.ToggleActive(c.Request().Context(), id)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, cl)
}

func (h *Handler) ConsumeReport(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	cl, err := h.svc.RecordReportUpload(c.Request().Context(), id)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, cl)
}

type purchaseRequest struct {
	Quantity int `json:"quantity"`
}

func (h *Handler) PurchaseReports(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req purchaseRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	cl, err := h.svc.PurchaseReports(c.Request().Context(), id, req.Quantity)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, cl)
}

func (h *Handler) ActivateSubscription(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	cl, err := h.svc.ActivateSubscription(c.Request().Context(), id)
	if err != nil {
		return errorResponse(err)
	}
	return c.JSON(http.StatusOK, cl)
}
