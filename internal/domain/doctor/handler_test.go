package doctor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medbook/medbook/internal/platform/auth"
	"github.com/medbook/medbook/internal/platform/validate"
)

func newTestHandler() (*Handler, *Service, *echo.Echo) {
	svc, _ := newTestService()
	e := echo.New()
	e.Validator = validate.New()
	return NewHandler(svc), svc, e
}

func withAccount(req *http.Request, accountID uuid.UUID, roles ...string) *http.Request {
	ctx := auth.WithClaims(req.Context(), &auth.Claims{Roles: roles})
	ctx = context.WithValue(ctx, auth.UserIDKey, accountID.String())
	return req.WithContext(ctx)
}

func TestHandler_Apply(t *testing.T) {
	h, _, e := newTestHandler()
	body := `{"medical_council_number":"12345","first_name":"Sara","last_name":"Ahmadi",` +
		`"national_code":"1234567890","gender":"f","specialties_list":["` + uuid.New().String() + `"]}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = withAccount(req, uuid.New(), auth.RolePatient)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Apply(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var d Doctor
	json.Unmarshal(rec.Body.Bytes(), &d)
	if d.Status != StatusWaiting {
		t.Errorf("expected waiting, got %s", d.Status)
	}
}

func TestHandler_Apply_InvalidCouncilNumber(t *testing.T) {
	h, _, e := newTestHandler()
	body := `{"medical_council_number":"0123","first_name":"Sara","last_name":"Ahmadi",` +
		`"national_code":"1234567890","gender":"f"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = withAccount(req, uuid.New(), auth.RolePatient)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.Apply(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_ModerateApplication_Reject(t *testing.T) {
	h, svc, e := newTestHandler()
	d, err := svc.CreateDoctorApplication(context.Background(), uuid.New(), validApplication())
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	req := httptest.NewRequest(http.MethodPatch, "/", strings.NewReader(`{"status":"rejected"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(d.ID.String())

	if err := h.ModerateApplication(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
}

func TestHandler_ModerateApplication_BadStatus(t *testing.T) {
	h, _, e := newTestHandler()
	req := httptest.NewRequest(http.MethodPatch, "/", strings.NewReader(`{"status":"maybe"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())

	err := h.ModerateApplication(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_ListDoctors_InvalidFilter(t *testing.T) {
	h, _, e := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/?city=abc", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.ListDoctors(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_GetDoctorDetail_NotFound(t *testing.T) {
	h, _, e := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())

	err := h.GetDoctorDetail(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %v", err)
	}
}
