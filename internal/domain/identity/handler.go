package identity

import (
	"net/http"
	"strconv"

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

// RegisterPublicRoutes mounts the login flows, which need no token.
func (h *Handler) RegisterPublicRoutes(api *echo.Group) {
	api.POST("/otp", h.RequestOTP)
	api.POST("/otp/verify", h.VerifyOTP)
	api.POST("/token/refresh", h.RefreshToken)
	api.POST("/admin/login", h.AdminLogin)
}

// RegisterRoutes mounts the authenticated endpoints.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	patientGroup := api.Group("", auth.RequireRole(auth.RolePatient))
	patientGroup.GET("/patients/me", h.GetMyProfile)
	patientGroup.PUT("/patients/me", h.UpdateMyProfile)

	adminGroup := api.Group("", auth.RequireRole(auth.RoleAdmin))
	adminGroup.GET("/accounts", h.ListAccounts)
	adminGroup.POST("/accounts", h.CreateAccount)
	adminGroup.GET("/accounts/:id", h.GetAccount)
	adminGroup.PATCH("/accounts/:id", h.UpdateAccount)
	adminGroup.DELETE("/accounts/:id", h.DeleteAccount)
	adminGroup.POST("/accounts/:id/password", h.SetPassword)
	adminGroup.GET("/patients", h.ListPatients)
	adminGroup.GET("/patients/:id", h.GetPatient)
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

// -- Login flows --

func (h *Handler) RequestOTP(c echo.Context) error {
	var req OTPRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	res, err := h.svc.RequestOTP(c.Request().Context(), req.Phone)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, res)
}

func (h *Handler) VerifyOTP(c echo.Context) error {
	var req VerifyRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	res, err := h.svc.VerifyOTP(c.Request().Context(), req)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) RefreshToken(c echo.Context) error {
	var req RefreshRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	res, err := h.svc.RefreshToken(c.Request().Context(), req.Refresh)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) AdminLogin(c echo.Context) error {
	var req AdminLoginRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	res, err := h.svc.AdminLogin(c.Request().Context(), req)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, res)
}

// -- Profile --

func (h *Handler) GetMyProfile(c echo.Context) error {
	accountID, err := currentAccountID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.GetMyProfile(c.Request().Context(), accountID)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, p)
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
	p, err := h.svc.UpdateMyProfile(c.Request().Context(), accountID, req)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

// -- Account admin --

func (h *Handler) CreateAccount(c echo.Context) error {
	var req CreateAccountRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	acct, err := h.svc.CreateAccount(c.Request().Context(), req)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, acct)
}

func (h *Handler) GetAccount(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	acct, err := h.svc.GetAccount(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, acct)
}

func (h *Handler) ListAccounts(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := AccountFilter{Phone: c.QueryParam("phone")}
	if v, err := strconv.ParseBool(c.QueryParam("is_staff")); err == nil {
		f.IsStaff = &v
	}
	if v, err := strconv.ParseBool(c.QueryParam("is_active")); err == nil {
		f.IsActive = &v
	}
	items, total, err := h.svc.ListAccounts(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(c, items, total, pg))
}

func (h *Handler) UpdateAccount(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req UpdateAccountRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	acct, err := h.svc.UpdateAccount(c.Request().Context(), id, req)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, acct)
}

func (h *Handler) DeleteAccount(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.DeleteAccount(c.Request().Context(), id); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type setPasswordRequest struct {
	Password string `json:"password"`
}

func (h *Handler) SetPassword(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req setPasswordRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.svc.SetPassword(c.Request().Context(), id, req.Password); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Patient admin --

func (h *Handler) GetPatient(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	p, err := h.svc.GetPatient(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListPatients(c echo.Context) error {
	pg := pagination.FromContext(c)
	f, err := patientFilterFromQuery(c)
	if err != nil {
		return err
	}
	items, total, err := h.svc.ListPatients(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(c, items, total, pg))
}

func patientFilterFromQuery(c echo.Context) (PatientFilter, error) {
	var f PatientFilter
	f.Gender = c.QueryParam("gender")

	ints := map[string]**int{"age": &f.Age, "age_min": &f.AgeMin, "age_max": &f.AgeMax}
	for name, dst := range ints {
		raw := c.QueryParam(name)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return f, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
		}
		*dst = &v
	}

	if raw := c.QueryParam("is_foreign_national"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return f, echo.NewHTTPError(http.StatusBadRequest, "invalid is_foreign_national")
		}
		f.IsForeignNational = &v
	}

	ids := map[string]**uuid.UUID{"province": &f.ProvinceID, "city": &f.CityID, "insurance": &f.InsuranceID}
	for name, dst := range ids {
		raw := c.QueryParam(name)
		if raw == "" {
			continue
		}
		v, err := uuid.Parse(raw)
		if err != nil {
			return f, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
		}
		*dst = &v
	}
	return f, nil
}
