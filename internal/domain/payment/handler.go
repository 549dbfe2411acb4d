package payment

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medbook/medbook/internal/platform/apperr"
	"github.com/medbook/medbook/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterPublicRoutes mounts the gateway callback.
func (h *Handler) RegisterPublicRoutes(api *echo.Group) {
	api.GET("/payments/callback", h.Callback)
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	patientGroup := api.Group("", auth.RequireRole(auth.RolePatient))
	patientGroup.POST("/payments", h.Initiate)
}

func (h *Handler) Initiate(c echo.Context) error {
	raw := c.QueryParam("reserve_id")
	if raw == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "reserve_id is required")
	}
	reserveID, err := uuid.Parse(raw)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid reserve_id")
	}
	patientID, err := uuid.Parse(auth.PatientIDFromContext(c.Request().Context()))
	if err != nil {
		return echo.NewHTTPError(http.StatusForbidden, "You do not have a patient profile.")
	}

	res, err := h.svc.InitiatePayment(c.Request().Context(), reserveID, patientID)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) Callback(c echo.Context) error {
	authority := c.QueryParam("Authority")
	if authority == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Authority is required")
	}
	res, err := h.svc.HandleCallback(c.Request().Context(), authority, c.QueryParam("Status"))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	if !res.Paid {
		return c.JSON(http.StatusBadRequest, res)
	}
	return c.JSON(http.StatusOK, res)
}
