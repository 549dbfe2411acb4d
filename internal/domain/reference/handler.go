package reference

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

var itemPaths = map[Kind]string{
	KindProvince:  "/provinces",
	KindInsurance: "/insurances",
	KindSpecialty: "/specialties",
}

// RegisterPublicRoutes mounts the read endpoints.
func (h *Handler) RegisterPublicRoutes(api *echo.Group) {
	for kind, path := range itemPaths {
		api.GET(path, h.ListItems(kind))
		api.GET(path+"/:id", h.GetItem(kind))
	}
	api.GET("/provinces/:id/cities", h.ListCities)
	api.GET("/provinces/:id/cities/:city_id", h.GetCity)
}

// RegisterRoutes mounts the admin write endpoints.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	adminGroup := api.Group("", auth.RequireRole(auth.RoleAdmin))
	for kind, path := range itemPaths {
		adminGroup.POST(path, h.CreateItem(kind))
		adminGroup.PUT(path+"/:id", h.UpdateItem(kind))
		adminGroup.DELETE(path+"/:id", h.DeleteItem(kind))
	}
	adminGroup.POST("/provinces/:id/cities", h.CreateCity)
	adminGroup.PUT("/provinces/:id/cities/:city_id", h.UpdateCity)
	adminGroup.DELETE("/provinces/:id/cities/:city_id", h.DeleteCity)
}

type nameRequest struct {
	Name string `json:"name" validate:"required,max=255"`
}

func bindName(c echo.Context) (string, error) {
	var req nameRequest
	if err := c.Bind(&req); err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return "", apperr.ToHTTP(err)
	}
	return req.Name, nil
}

func parseID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

// -- Items --

func (h *Handler) CreateItem(kind Kind) echo.HandlerFunc {
	return func(c echo.Context) error {
		name, err := bindName(c)
		if err != nil {
			return err
		}
		item, err := h.svc.CreateItem(c.Request().Context(), kind, name)
		if err != nil {
			return apperr.ToHTTP(err)
		}
		return c.JSON(http.StatusCreated, item)
	}
}

func (h *Handler) GetItem(kind Kind) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := parseID(c, "id")
		if err != nil {
			return err
		}
		item, err := h.svc.GetItem(c.Request().Context(), kind, id)
		if err != nil {
			return apperr.ToHTTP(err)
		}
		return c.JSON(http.StatusOK, item)
	}
}

func (h *Handler) ListItems(kind Kind) echo.HandlerFunc {
	return func(c echo.Context) error {
		pg := pagination.FromContext(c)
		items, total, err := h.svc.ListItems(c.Request().Context(), kind, c.QueryParam("search"), pg.Limit, pg.Offset)
		if err != nil {
			return apperr.ToHTTP(err)
		}
		return c.JSON(http.StatusOK, pagination.NewResponse(c, items, total, pg))
	}
}

func (h *Handler) UpdateItem(kind Kind) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := parseID(c, "id")
		if err != nil {
			return err
		}
		name, err := bindName(c)
		if err != nil {
			return err
		}
		item, err := h.svc.UpdateItem(c.Request().Context(), kind, id, name)
		if err != nil {
			return apperr.ToHTTP(err)
		}
		return c.JSON(http.StatusOK, item)
	}
}

func (h *Handler) DeleteItem(kind Kind) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := parseID(c, "id")
		if err != nil {
			return err
		}
		if err := h.svc.DeleteItem(c.Request().Context(), kind, id); err != nil {
			return apperr.ToHTTP(err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

// -- Cities --

func (h *Handler) CreateCity(c echo.Context) error {
	provinceID, err := parseID(c, "id")
	if err != nil {
		return err
	}
	name, err := bindName(c)
	if err != nil {
		return err
	}
	city, err := h.svc.CreateCity(c.Request().Context(), provinceID, name)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, city)
}

func (h *Handler) GetCity(c echo.Context) error {
	provinceID, err := parseID(c, "id")
	if err != nil {
		return err
	}
	id, err := parseID(c, "city_id")
	if err != nil {
		return err
	}
	city, err := h.svc.GetCity(c.Request().Context(), provinceID, id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, city)
}

func (h *Handler) ListCities(c echo.Context) error {
	provinceID, err := parseID(c, "id")
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListCities(c.Request().Context(), provinceID, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(c, items, total, pg))
}

func (h *Handler) UpdateCity(c echo.Context) error {
	provinceID, err := parseID(c, "id")
	if err != nil {
		return err
	}
	id, err := parseID(c, "city_id")
	if err != nil {
		return err
	}
	name, err := bindName(c)
	if err != nil {
		return err
	}
	city, err := h.svc.UpdateCity(c.Request().Context(), provinceID, id, name)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, city)
}

func (h *Handler) DeleteCity(c echo.Context) error {
	provinceID, err := parseID(c, "id")
	if err != nil {
		return err
	}
	id, err := parseID(c, "city_id")
	if err != nil {
		return err
	}
	if err := h.svc.DeleteCity(c.Request().Context(), provinceID, id); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}
