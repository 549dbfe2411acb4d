// Package payment is the client for the Zarinpal payment gateway.
package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	DefaultRequestURL = "https://sandbox.zarinpal.com/pg/rest/WebGate/PaymentRequest.json"
	DefaultVerifyURL  = "https://sandbox.zarinpal.com/pg/rest/WebGate/PaymentVerification.json"
	DefaultPageURL    = "https://sandbox.zarinpal.com/pg/StartPay/"
)

// Gateway status codes.
const (
	StatusOK              = 100
	StatusAlreadyVerified = 101
)

// ErrRejected is returned when the gateway answers with a non-success status.
var ErrRejected = errors.New("payment request rejected")

// Config holds the gateway endpoints and credentials.
type Config struct {
	MerchantID string
	RequestURL string
	VerifyURL  string
	PageURL    string
	Timeout    time.Duration
}

// Client talks to the gateway over HTTP.
type Client struct {
	cfg  Config
	http *resty.Client
}

func NewClient(cfg Config) *Client {
	if cfg.RequestURL == "" {
		cfg.RequestURL = DefaultRequestURL
	}
	if cfg.VerifyURL == "" {
		cfg.VerifyURL = DefaultVerifyURL
	}
	if cfg.PageURL == "" {
		cfg.PageURL = DefaultPageURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	http := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json").
		SetHeader("Content-Type", "application/json")
	return &Client{cfg: cfg, http: http}
}

type requestBody struct {
	MerchantID  string `json:"MerchantID"`
	Amount      int64  `json:"Amount"`
	Description string `json:"Description"`
	CallbackURL string `json:"CallbackURL"`
}

type requestReply struct {
	Status    int         `json:"Status"`
	Authority string      `json:"Authority"`
	Errors    interface{} `json:"errors,omitempty"`
}

// RequestResult is the gateway's answer to a payment request. Authority may be
// set even when Status is not StatusOK.
type RequestResult struct {
	Status    int
	Authority string
}

// Request opens a payment of amount and returns the authority that
// identifies it. A non-100 status yields ErrRejected along with whatever
// authority the gateway returned.
func (c *Client) Request(ctx context.Context, amount int64, description, callbackURL string) (RequestResult, error) {
	var reply requestReply
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(requestBody{
			MerchantID:  c.cfg.MerchantID,
			Amount:      amount,
			Description: description,
			CallbackURL: callbackURL,
		}).
		SetResult(&reply).
		Post(c.cfg.RequestURL)
	if err != nil {
		return RequestResult{}, fmt.Errorf("payment request: %w", err)
	}
	if resp.IsError() {
		return RequestResult{}, fmt.Errorf("payment request: unexpected http status %d", resp.StatusCode())
	}

	res := RequestResult{Status: reply.Status, Authority: reply.Authority}
	if reply.Status != StatusOK {
		return res, fmt.Errorf("%w: status %d", ErrRejected, reply.Status)
	}
	return res, nil
}

type verifyBody struct {
	MerchantID string `json:"MerchantID"`
	Amount     int64  `json:"Amount"`
	Authority  string `json:"Authority"`
}

type verifyReply struct {
	Status int         `json:"Status"`
	RefID  interface{} `json:"RefID"`
}

// VerifyResult is the gateway's answer to a verification.
type VerifyResult struct {
	Status int
	RefID  string
}

// Paid reports whether the status means the money was captured, either now
// or by an earlier verification.
func (r VerifyResult) Paid() bool {
	return r.Status == StatusOK || r.Status == StatusAlreadyVerified
}

// Verify confirms the payment identified by authority for amount.
func (c *Client) Verify(ctx context.Context, amount int64, authority string) (VerifyResult, error) {
	var reply verifyReply
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(verifyBody{
			MerchantID: c.cfg.MerchantID,
			Amount:     amount,
			Authority:  authority,
		}).
		SetResult(&reply).
		Post(c.cfg.VerifyURL)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("payment verify: %w", err)
	}
	if resp.IsError() {
		return VerifyResult{}, fmt.Errorf("payment verify: unexpected http status %d", resp.StatusCode())
	}
	return VerifyResult{Status: reply.Status, RefID: refIDString(reply.RefID)}, nil
}

// PageURL is where the client is redirected to pay.
func (c *Client) PageURL(authority string) string {
	return strings.TrimRight(c.cfg.PageURL, "/") + "/" + authority
}

// refIDString normalizes RefID, which the gateway sends as a number.
func refIDString(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return fmt.Sprintf("%.0f", x)
	default:
		return fmt.Sprint(x)
	}
}
