package doctor

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

// RegisterPublicRoutes mounts the doctor directory.
func (h *Handler) RegisterPublicRoutes(api *echo.Group) {
	api.GET("/doctors", h.ListDoctors)
	api.GET("/doctors/:id", h.GetDoctorDetail)
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	patientGroup := api.Group("", auth.RequireRole(auth.RolePatient))
	patientGroup.POST("/doctors/apply", h.Apply)

	doctorGroup := api.Group("", auth.RequireRole(auth.RoleDoctor))
	doctorGroup.GET("/doctors/me", h.GetMyProfile)
	doctorGroup.PUT("/doctors/me", h.UpdateMyProfile)

	adminGroup := api.Group("", auth.RequireRole(auth.RoleAdmin))
	adminGroup.POST("/doctors", h.CreateDoctor)
	adminGroup.PUT("/doctors/:id", h.UpdateDoctor)
	adminGroup.DELETE("/doctors/:id", h.DeleteDoctor)
	adminGroup.GET("/doctors/applications", h.ListApplications)
	adminGroup.PATCH("/doctors/applications/:id", h.ModerateApplication)
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

func currentAccountID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusUnauthorized, "authentication credentials were not provided")
	}
	return id, nil
}

func (h *Handler) ListDoctors(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := Filter{
		Gender:   c.QueryParam("gender"),
		Search:   c.QueryParam("search"),
		Ordering: c.QueryParam("ordering"),
	}
	ids := map[string]**uuid.UUID{
		"specialty": &f.SpecialtyID,
		"insurance": &f.InsuranceID,
		"province":  &f.ProvinceID,
		"city":      &f.CityID,
	}
	for name, dst := range ids {
		raw := c.QueryParam(name)
		if raw == "" {
			continue
		}
		v, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
		}
		*dst = &v
	}

	items, total, err := h.svc.ListDoctors(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(c, items, total, pg))
}

func (h *Handler) GetDoctorDetail(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	d, err := h.svc.GetDoctorDetail(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) Apply(c echo.Context) error {
	accountID, err := currentAccountID(c)
	if err != nil {
		return err
	}
	var req ApplicationRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	d, err := h.svc.CreateDoctorApplication(c.Request().Context(), accountID, req)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, d)
}

func (h *Handler) GetMyProfile(c echo.Context) error {
	accountID, err := currentAccountID(c)
	if err != nil {
		return err
	}
	d, err := h.svc.GetMyDoctorProfile(c.Request().Context(), accountID)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) UpdateMyProfile(c echo.Context) error {
	accountID, err := currentAccountID(c)
	if err != nil {
		return err
	}
	var req ProfileRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	d, err := h.svc.UpdateMyDoctorProfile(c.Request().Context(), accountID, req)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, d)
}

// -- Admin --

func (h *Handler) CreateDoctor(c echo.Context) error {
	var req CreateDoctorRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	d, err := h.svc.CreateDoctor(c.Request().Context(), req)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, d)
}

func (h *Handler) UpdateDoctor(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req DoctorRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	d, err := h.svc.UpdateDoctor(c.Request().Context(), id, req)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) DeleteDoctor(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.DeleteDoctor(c.Request().Context(), id); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListApplications(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListApplications(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(c, items, total, pg))
}

func (h *Handler) ModerateApplication(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req ModerationRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	d, err := h.svc.ModerateDoctorApplication(c.Request().Context(), id, req.Status)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	if d == nil {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusOK, d)
}
