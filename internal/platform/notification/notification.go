// Package notification renders templated emails and hands them to an
// EmailSender (SMTP in production, a log sink in development).
package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// ErrNotificationFailed wraps every delivery failure. Callers treat it as
// reportable and never roll back the operation that triggered it.
var ErrNotificationFailed = errors.New("notification failed")

const (
	TemplatePasswordSetup        = "password-setup"
	TemplateRegistrationReceived = "registration-received"
	TemplateRegistrationRejected = "registration-rejected"
)

// EmailSender is the interface for sending email messages.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// ---------------------------------------------------------------------------
// Template Engine
// ---------------------------------------------------------------------------

type Template struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// TemplateEngine manages notification templates and renders them with data.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates a TemplateEngine with the built-in templates pre-registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]*Template)}
	for _, t := range builtIn {
		t := t
		e.templates[t.ID] = &t
	}
	return e
}

var builtIn = []Template{
	{
		ID:      TemplatePasswordSetup,
		Subject: "Set up your MedRef account for {{hospital_name}}",
		Body: `<p>Hello,</p>
<p>The registration of <strong>{{hospital_name}}</strong> has been approved. Your hospital reference code is <strong>{{hospital_ref_code}}</strong>.</p>
<p>Click the link below to set your password:</p>
<p><a href="{{action_link}}">Set password</a></p>
<p>If you did not request this, you can ignore this email.</p>`,
	},
	{
		ID:      TemplateRegistrationReceived,
		Subject: "Registration received: {{hospital_name}}",
		Body:    "<p>We received the registration request for <strong>{{hospital_name}}</strong>. An administrator will review it shortly.</p>",
	},
	{
		ID:      TemplateRegistrationRejected,
		Subject: "Registration update: {{hospital_name}}",
		Body:    "<p>The registration request for <strong>{{hospital_name}}</strong> was not approved.</p>",
	},
}

// RegisterTemplate adds or replaces a template in the engine.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// LoadDir registers every *.json file in dir as a template, replacing any
// built-in with the same id. Each file holds {"id", "subject", "body"}; a
// missing id defaults to the file name without extension. It returns the ids
// loaded, sorted.
func (e *TemplateEngine) LoadDir(dir string) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}

	ids := make([]string, 0, len(paths))
	for _, path := range paths {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read template %s: %w", path, err)
		}
		var t Template
		if err := json.Unmarshal(raw, &t); err != nil {
			return nil, fmt.Errorf("decode template %s: %w", path, err)
		}
		if t.ID == "" {
			t.ID = strings.TrimSuffix(filepath.Base(path), ".json")
		}
		if t.Subject == "" || t.Body == "" {
			return nil, fmt.Errorf("template %s: subject and body are required", path)
		}
		e.RegisterTemplate(t)
		ids = append(ids, t.ID)
	}
	sort.Strings(ids)
	return ids, nil
}

// Render performs {{key}} replacement. Keys present in the template but
// absent from data are left as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}

	subject = t.Subject
	body = t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return subject, body, nil
}

// ---------------------------------------------------------------------------
// Mailer
// ---------------------------------------------------------------------------

// Mailer renders a template and delivers it through an EmailSender.
type Mailer struct {
	sender    EmailSender
	templates *TemplateEngine
}

func NewMailer(sender EmailSender, templates *TemplateEngine) *Mailer {
	if templates == nil {
		templates = NewTemplateEngine()
	}
	return &Mailer{sender: sender, templates: templates}
}

// Send renders templateID for data and emails it to recipient. Every
// failure is wrapped with ErrNotificationFailed.
func (m *Mailer) Send(ctx context.Context, templateID, recipient string, data map[string]string) error {
	if recipient == "" {
		return fmt.Errorf("%w: recipient is required", ErrNotificationFailed)
	}
	subject, body, err := m.templates.Render(templateID, data)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNotificationFailed, err)
	}
	if err := m.sender.SendEmail(ctx, recipient, subject, body); err != nil {
		return fmt.Errorf("%w: send %s to %s: %w", ErrNotificationFailed, templateID, recipient, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Mock Sender (test double)
// ---------------------------------------------------------------------------

// EmailCall records a single call to SendEmail.
type EmailCall struct {
	To      string
	Subject string
	Body    string
}

// MockEmailSender is a test double for EmailSender.
type MockEmailSender struct {
	mu         sync.Mutex
	calls      []EmailCall
	ShouldFail bool
	FailError  string
}

func (m *MockEmailSender) SendEmail(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, EmailCall{To: to, Subject: subject, Body: body})
	if m.ShouldFail {
		return errors.New(m.FailError)
	}
	return nil
}

// Calls returns a copy of recorded email calls.
func (m *MockEmailSender) Calls() []EmailCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EmailCall, len(m.calls))
	copy(out, m.calls)
	return out
}
