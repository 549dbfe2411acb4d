// Package notification renders and delivers text messages to patients:
// one-time passwords and payment receipts.
package notification

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// SMSSender is the interface for sending SMS messages.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// ---------------------------------------------------------------------------
// Template Engine
// ---------------------------------------------------------------------------

const (
	TemplateOTPCode     = "otp-code"
	TemplateReservePaid = "reserve-paid"
)

// Template defines a reusable message body with {{key}} placeholders.
type Template struct {
	ID   string `json:"id"`
	Body string `json:"body"`
}

// TemplateEngine manages templates and renders them with data.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates a TemplateEngine with the built-in templates pre-registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{
		templates: make(map[string]*Template),
	}
	e.RegisterTemplate(Template{
		ID:   TemplateOTPCode,
		Body: "Your medbook verification code: {{code}}",
	})
	e.RegisterTemplate(Template{
		ID:   TemplateReservePaid,
		Body: "Your appointment with Dr. {{doctor}} on {{datetime}} is confirmed. Tracking code: {{ref_id}}",
	})
	return e
}

// RegisterTemplate adds or replaces a template in the engine.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Render performs {{key}} replacement on the template body. Keys present in
// the template but absent from data are left as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (string, error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("template %q not found", templateID)
	}

	body := t.Body
	for k, v := range data {
		body = strings.ReplaceAll(body, "{{"+k+"}}", v)
	}
	return body, nil
}

// ---------------------------------------------------------------------------
// Senders
// ---------------------------------------------------------------------------

// LogSender writes messages to the log instead of a gateway. It is the
// default in development.
type LogSender struct {
	logger zerolog.Logger
}

func NewLogSender(logger zerolog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) SendSMS(_ context.Context, to, body string) error {
	s.logger.Info().Str("to", to).Str("body", body).Msg("sms")
	return nil
}

// SMSCall records a single call to SendSMS.
type SMSCall struct {
	To   string
	Body string
}

// MockSMSSender records every message; it fails when Err is set.
type MockSMSSender struct {
	mu    sync.Mutex
	calls []SMSCall
	Err   error
}

func (m *MockSMSSender) SendSMS(_ context.Context, to, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.calls = append(m.calls, SMSCall{To: to, Body: body})
	return nil
}

// Calls returns a copy of all recorded calls.
func (m *MockSMSSender) Calls() []SMSCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SMSCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// ---------------------------------------------------------------------------
// Notifier
// ---------------------------------------------------------------------------

// Notifier renders domain messages and hands them to an SMSSender.
type Notifier struct {
	sms       SMSSender
	templates *TemplateEngine
}

func NewNotifier(sms SMSSender, tpl *TemplateEngine) *Notifier {
	if tpl == nil {
		tpl = NewTemplateEngine()
	}
	return &Notifier{sms: sms, templates: tpl}
}

// SendCode delivers a one-time password to phone.
func (n *Notifier) SendCode(ctx context.Context, phone, code string) error {
	return n.send(ctx, phone, TemplateOTPCode, map[string]string{"code": code})
}

// SendReservePaid delivers a payment receipt to phone.
func (n *Notifier) SendReservePaid(ctx context.Context, phone, doctor, datetime, refID string) error {
	return n.send(ctx, phone, TemplateReservePaid, map[string]string{
		"doctor":   doctor,
		"datetime": datetime,
		"ref_id":   refID,
	})
}

func (n *Notifier) send(ctx context.Context, to, templateID string, data map[string]string) error {
	body, err := n.templates.Render(templateID, data)
	if err != nil {
		return fmt.Errorf("render template: %w", err)
	}
	if err := n.sms.SendSMS(ctx, to, body); err != nil {
		return fmt.Errorf("send sms to %s: %w", to, err)
	}
	return nil
}
