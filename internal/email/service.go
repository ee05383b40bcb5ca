package email

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/url"
	texttemplate "text/template"
	"time"

	"github.com/smsinbox/site-api/internal/logging"
	"github.com/smsinbox/site-api/templates"
)

// Kind identifies a transactional email.
type Kind string

const (
	KindVerifyEmail     Kind = "verify_email"
	KindResetPassword   Kind = "reset_password"
	KindPasswordChanged Kind = "password_changed"
)

var subjects = map[Kind]string{
	KindVerifyEmail:     "Verify your email address",
	KindResetPassword:   "Reset your password",
	KindPasswordChanged: "Your password was changed",
}

// Recorder observes delivery outcomes. Satisfied by metrics.Metrics.
type Recorder interface {
	EmailSent(kind string, ok bool)
}

type templateData struct {
	SiteName  string
	Link      string
	ExpiresIn string
	Year      int
}

type compiled struct {
	html *template.Template
	text *texttemplate.Template
}

// Service renders and sends the auth emails.
type Service struct {
	sender    Sender
	siteURL   string
	siteName  string
	templates map[Kind]compiled
	recorder  Recorder
}

type Option func(*Service)

// WithRecorder reports each send outcome to r.
func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// WithSiteName sets the product name shown in emails.
func WithSiteName(name string) Option {
	return func(s *Service) { s.siteName = name }
}

func NewService(sender Sender, siteURL string, opts ...Option) (*Service, error) {
	s := &Service{
		sender:    sender,
		siteURL:   siteURL,
		siteName:  "Receive SMS Online",
		templates: make(map[Kind]compiled, len(subjects)),
	}
	for _, opt := range opts {
		opt(s)
	}

	for kind := range subjects {
		html, err := template.ParseFS(templates.EmailFS, "email/layout.html.tmpl", fmt.Sprintf("email/%s.html.tmpl", kind))
		if err != nil {
			return nil, fmt.Errorf("parse %s html template: %w", kind, err)
		}
		text, err := texttemplate.ParseFS(templates.EmailFS, fmt.Sprintf("email/%s.txt.tmpl", kind))
		if err != nil {
			return nil, fmt.Errorf("parse %s text template: %w", kind, err)
		}
		s.templates[kind] = compiled{html: html, text: text}
	}

	return s, nil
}

// SendVerificationEmail sends the verify-email link for a raw token.
func (s *Service) SendVerificationEmail(ctx context.Context, to, token string) bool {
	return s.send(ctx, KindVerifyEmail, to, templateData{
		Link:      s.link("/verify-email", token),
		ExpiresIn: "24 hours",
	})
}

// SendPasswordResetEmail sends the reset-password link for a raw token.
func (s *Service) SendPasswordResetEmail(ctx context.Context, to, token string) bool {
	return s.send(ctx, KindResetPassword, to, templateData{
		Link:      s.link("/reset-password", token),
		ExpiresIn: "30 minutes",
	})
}

// SendPasswordChangedEmail notifies the owner that their password was reset.
func (s *Service) SendPasswordChangedEmail(ctx context.Context, to string) bool {
	return s.send(ctx, KindPasswordChanged, to, templateData{
		Link: s.siteURL + "/login",
	})
}

func (s *Service) link(path, token string) string {
	return s.siteURL + path + "?token=" + url.QueryEscape(token)
}

func (s *Service) send(ctx context.Context, kind Kind, to string, data templateData) bool {
	data.SiteName = s.siteName
	data.Year = time.Now().Year()

	msg, err := s.render(kind, to, data)
	if err != nil {
		logging.GetLoggerFromContext(ctx).LogError("failed to render email", err)
		s.record(kind, false)
		return false
	}

	ok := s.sender.Send(ctx, msg)
	s.record(kind, ok)
	return ok
}

func (s *Service) render(kind Kind, to string, data templateData) (Message, error) {
	t, ok := s.templates[kind]
	if !ok {
		return Message{}, fmt.Errorf("unknown email kind %q", kind)
	}

	var html, text bytes.Buffer
	if err := t.html.ExecuteTemplate(&html, "layout", data); err != nil {
		return Message{}, fmt.Errorf("execute %s html template: %w", kind, err)
	}
	if err := t.text.Execute(&text, data); err != nil {
		return Message{}, fmt.Errorf("execute %s text template: %w", kind, err)
	}

	return Message{To: to, Subject: subjects[kind], HTML: html.String(), Text: text.String()}, nil
}

func (s *Service) record(kind Kind, ok bool) {
	if s.recorder != nil {
		s.recorder.EmailSent(string(kind), ok)
	}
}
