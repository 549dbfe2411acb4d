package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(Config{
		MerchantID: "merchant-1",
		RequestURL: srv.URL + "/request",
		VerifyURL:  srv.URL + "/verify",
		PageURL:    "https://sandbox.zarinpal.com/pg/StartPay/",
	})
}

func TestRequest_OK(t *testing.T) {
	var got requestBody
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/request", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"Status":100,"Authority":"A0000001"}`))
	})

	res, err := c.Request(context.Background(), 150000, "reserve", "https://medbook.local/cb")
	require.NoError(t, err)
	assert.Equal(t, "A0000001", res.Authority)
	assert.Equal(t, StatusOK, res.Status)

	assert.Equal(t, "merchant-1", got.MerchantID)
	assert.Equal(t, int64(150000), got.Amount)
	assert.Equal(t, "https://medbook.local/cb", got.CallbackURL)
}

func TestRequest_Rejected(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"Status":-9,"Authority":"A0000002","errors":{"code":-9}}`))
	})

	res, err := c.Request(context.Background(), 1000, "reserve", "cb")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRejected))
	assert.Equal(t, "A0000002", res.Authority)
}

func TestRequest_HTTPError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := c.Request(context.Background(), 1000, "reserve", "cb")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrRejected))
}

func TestVerify(t *testing.T) {
	tests := []struct {
		name   string
		reply  string
		status int
		refID  string
		paid   bool
	}{
		{"paid", `{"Status":100,"RefID":123456789}`, 100, "123456789", true},
		{"already verified", `{"Status":101,"RefID":123456789}`, 101, "123456789", true},
		{"failed", `{"Status":-21}`, -21, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				var body verifyBody
				require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				assert.Equal(t, "A1", body.Authority)
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(tt.reply))
			})
			res, err := c.Verify(context.Background(), 5000, "A1")
			require.NoError(t, err)
			assert.Equal(t, tt.status, res.Status)
			assert.Equal(t, tt.refID, res.RefID)
			assert.Equal(t, tt.paid, res.Paid())
		})
	}
}

func TestPageURL(t *testing.T) {
	c := NewClient(Config{})
	assert.Equal(t, "https://sandbox.zarinpal.com/pg/StartPay/A123", c.PageURL("A123"))
}
