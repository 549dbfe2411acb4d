package identity

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

func newTestHandler() (*Handler, *testEnv, *echo.Echo) {
	env := newTestEnv()
	h := NewHandler(env.svc)
	e := echo.New()
	e.Validator = validate.New()
	return h, env, e
}

func withAccount(req *http.Request, accountID uuid.UUID, roles ...string) *http.Request {
	ctx := auth.WithClaims(req.Context(), &auth.Claims{Roles: roles})
	ctx = context.WithValue(ctx, auth.UserIDKey, accountID.String())
	return req.WithContext(ctx)
}

func TestHandler_RequestOTP(t *testing.T) {
	h, _, e := newTestHandler()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"phone":"09123456789"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.RequestOTP(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var body map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if _, ok := body["request_id"]; !ok {
		t.Error("expected request_id in response")
	}
	if _, ok := body["code"]; ok {
		t.Error("code must never be returned")
	}
}

func TestHandler_RequestOTP_InvalidPhone(t *testing.T) {
	h, _, e := newTestHandler()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"phone":"12345"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.RequestOTP(c)
	he, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected HTTPError, got %v", err)
	}
	if he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", he.Code)
	}
}

func TestHandler_RequestOTP_Throttled(t *testing.T) {
	h, _, e := newTestHandler()
	for i, want := range []int{http.StatusCreated, http.StatusTooManyRequests} {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"phone":"09123456789"}`))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)

		err := h.RequestOTP(c)
		code := rec.Code
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
		}
		if code != want {
			t.Errorf("request %d: expected %d, got %d", i, want, code)
		}
	}
}

func TestHandler_VerifyOTP(t *testing.T) {
	h, env, e := newTestHandler()
	otp, _ := env.svc.RequestOTP(context.Background(), "09123456789")

	body := `{"request_id":"` + otp.RequestID.String() + `","phone":"09123456789","code":"1234"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.VerifyOTP(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	var res map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &res)
	for _, key := range []string{"access", "refresh", "account_id", "phone"} {
		if _, ok := res[key]; !ok {
			t.Errorf("expected %s in response", key)
		}
	}
}

func TestHandler_VerifyOTP_WrongCode(t *testing.T) {
	h, env, e := newTestHandler()
	otp, _ := env.svc.RequestOTP(context.Background(), "09123456789")

	body := `{"request_id":"` + otp.RequestID.String() + `","phone":"09123456789","code":"0000"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.VerifyOTP(c)
	he, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected HTTPError, got %v", err)
	}
	if he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", he.Code)
	}
}

func TestHandler_VerifyOTP_MissingFields(t *testing.T) {
	h, _, e := newTestHandler()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"phone":"09123456789"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.VerifyOTP(c); err == nil {
		t.Error("expected error for missing request_id and code")
	}
}

func TestHandler_AdminLogin_Unauthorized(t *testing.T) {
	h, _, e := newTestHandler()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"phone":"09123456789","password":"nope"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.AdminLogin(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %v", err)
	}
}

func TestHandler_GetMyProfile(t *testing.T) {
	h, env, e := newTestHandler()
	acct, _ := env.svc.CreateAccount(context.Background(), CreateAccountRequest{Phone: "09123456789"})

	req := withAccount(httptest.NewRequest(http.MethodGet, "/", nil), acct.ID, auth.RolePatient)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.GetMyProfile(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestHandler_UpdateMyProfile(t *testing.T) {
	h, env, e := newTestHandler()
	acct, _ := env.svc.CreateAccount(context.Background(), CreateAccountRequest{Phone: "09123456789"})

	body := `{"first_name":"Sara","last_name":"Ahmadi","birth_date":"1990-04-12","gender":"f",` +
		`"national_code":"1234567890","province_id":"` + uuid.NewString() + `","city_id":"` + uuid.NewString() + `"}`
	req := withAccount(httptest.NewRequest(http.MethodPut, "/", strings.NewReader(body)), acct.ID, auth.RolePatient)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.UpdateMyProfile(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	p, _ := env.patients.GetByAccountID(context.Background(), acct.ID)
	if p.FirstName != "Sara" || p.BirthDate == nil {
		t.Errorf("profile not updated: %+v", p)
	}
}

func TestHandler_UpdateMyProfile_MissingRequired(t *testing.T) {
	h, env, e := newTestHandler()
	acct, _ := env.svc.CreateAccount(context.Background(), CreateAccountRequest{Phone: "09123456789"})

	req := withAccount(httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{"first_name":"Sara"}`)), acct.ID, auth.RolePatient)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.UpdateMyProfile(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_CreateAccount(t *testing.T) {
	h, _, e := newTestHandler()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"phone":"09121111111","password":"s3cret-pass","is_staff":true}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.CreateAccount(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "password") {
		t.Error("password hash must not be serialized")
	}
}

func TestHandler_GetAccount_NotFound(t *testing.T) {
	h, _, e := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())

	err := h.GetAccount(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %v", err)
	}
}

func TestHandler_DeleteAccount(t *testing.T) {
	h, env, e := newTestHandler()
	acct, _ := env.svc.CreateAccount(context.Background(), CreateAccountRequest{Phone: "09123456789"})

	req := httptest.NewRequest(http.MethodDelete, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(acct.ID.String())

	if err := h.DeleteAccount(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
}

func TestHandler_ListPatients(t *testing.T) {
	h, env, e := newTestHandler()
	env.svc.CreateAccount(context.Background(), CreateAccountRequest{Phone: "09123456789"})
	env.svc.CreateAccount(context.Background(), CreateAccountRequest{Phone: "09123456780"})

	req := httptest.NewRequest(http.MethodGet, "/?age_min=18&is_foreign_national=false", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.ListPatients(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	var res map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &res)
	if res["count"] != float64(2) {
		t.Errorf("expected count 2, got %v", res["count"])
	}
}

func TestHandler_ListPatients_BadFilter(t *testing.T) {
	h, _, e := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/?province=nope", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.ListPatients(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}
