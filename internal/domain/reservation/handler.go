package reservation

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medbook/medbook/internal/platform/apperr"
	"github.com/medbook/medbook/internal/platform/auth"
	"github.com/medbook/medbook/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterPublicRoutes mounts the free reserve listing of a doctor.
func (h *Handler) RegisterPublicRoutes(api *echo.Group) {
	api.GET("/doctors/:id/reserves", h.ListFreeReserves)
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	doctorGroup := api.Group("", auth.RequireRole(auth.RoleDoctor))
	doctorGroup.GET("/doctors/me/reserves", h.ListMyDoctorReserves)
	doctorGroup.POST("/doctors/me/reserves", h.CreateMyReserve)
	doctorGroup.GET("/doctors/me/reserves/:id", h.GetMyDoctorReserve)
	doctorGroup.DELETE("/doctors/me/reserves/:id", h.DeleteMyReserve)

	adminGroup := api.Group("", auth.RequireRole(auth.RoleAdmin))
	adminGroup.POST("/doctors/:id/reserves", h.CreateReserve)

	patientGroup := api.Group("", auth.RequireRole(auth.RolePatient))
	patientGroup.POST("/reserves/:id/claim", h.Claim)
	patientGroup.GET("/patients/me/reserves", h.ListMyReserves)
	patientGroup.GET("/patients/me/reserves/:id", h.GetMyReserve)
	patientGroup.DELETE("/patients/me/reserves/:id", h.CancelMyReserve)
}

func bindAndValidate(c echo.Context, v interface{}) error {
	if err := c.Bind(v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(v); err != nil {
		return apperr.ToHTTP(err)
	}
	return nil
}

func pathID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func currentDoctorID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(auth.DoctorIDFromContext(c.Request().Context()))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusForbidden, "You do not have a doctor profile.")
	}
	return id, nil
}

func currentPatientID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(auth.PatientIDFromContext(c.Request().Context()))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusForbidden, "You do not have a patient profile.")
	}
	return id, nil
}

func (h *Handler) ListFreeReserves(c echo.Context) error {
	doctorID, err := pathID(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListFreeReserves(c.Request().Context(), doctorID, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(c, items, total, pg))
}

// -- Doctor --

func (h *Handler) ListMyDoctorReserves(c echo.Context) error {
	doctorID, err := currentDoctorID(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListDoctorReserves(c.Request().Context(), doctorID, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(c, items, total, pg))
}

func (h *Handler) CreateMyReserve(c echo.Context) error {
	doctorID, err := currentDoctorID(c)
	if err != nil {
		return err
	}
	var req SlotRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	r, err := h.svc.CreateSlot(c.Request().Context(), doctorID, req, true)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, r)
}

func (h *Handler) GetMyDoctorReserve(c echo.Context) error {
	doctorID, err := currentDoctorID(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	d, err := h.svc.GetDoctorReserve(c.Request().Context(), doctorID, id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) DeleteMyReserve(c echo.Context) error {
	doctorID, err := currentDoctorID(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteFreeReserve(c.Request().Context(), doctorID, id); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Admin --

func (h *Handler) CreateReserve(c echo.Context) error {
	doctorID, err := pathID(c)
	if err != nil {
		return err
	}
	var req SlotRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	r, err := h.svc.CreateSlot(c.Request().Context(), doctorID, req, false)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, r)
}

// -- Patient --

func (h *Handler) Claim(c echo.Context) error {
	patientID, err := currentPatientID(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	r, err := h.svc.ClaimSlot(c.Request().Context(), id, patientID)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) ListMyReserves(c echo.Context) error {
	patientID, err := currentPatientID(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListPatientReserves(c.Request().Context(), patientID, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(c, items, total, pg))
}

func (h *Handler) GetMyReserve(c echo.Context) error {
	patientID, err := currentPatientID(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	d, err := h.svc.GetPatientReserve(c.Request().Context(), patientID, id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) CancelMyReserve(c echo.Context) error {
	patientID, err := currentPatientID(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	if err := h.svc.CancelClaim(c.Request().Context(), id, patientID); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}
