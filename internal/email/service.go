// Package email sends transactional mail over SMTP.
package email

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
	texttemplate "text/template"
	"time"
)

var ErrNotConfigured = errors.New("email not configured")

type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

type Service struct {
	config Config
	server string
	auth   smtp.Auth
	send   func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewService(config Config) *Service {
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}
	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
		send:   smtp.SendMail,
	}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// Invitation is what the invitee sees in the invitation mail.
type Invitation struct {
	To                 string
	InviteeName        string
	InviterName        string
	ProjectName        string
	ProjectDescription string
	Permission         string
	AcceptURL          string
	ExpiresAt          time.Time
}

// PermissionLabel renders the grant the way the share dialog names it.
func (i Invitation) PermissionLabel() string {
	if i.Permission == "edit" {
		return "Edit"
	}
	return "View"
}

func (i Invitation) Subject() string {
	return fmt.Sprintf("You're invited to collaborate on %s", i.ProjectName)
}

func (s *Service) SendInvitationEmail(inv Invitation) error {
	if strings.TrimSpace(inv.To) == "" {
		return fmt.Errorf("invitation email: empty recipient")
	}
	htmlBody, err := renderHTML(invitationHTMLTemplate, inv)
	if err != nil {
		return fmt.Errorf("render invitation template: %w", err)
	}
	textBody, err := renderText(invitationTextTemplate, inv)
	if err != nil {
		return fmt.Errorf("render invitation text: %w", err)
	}
	return s.SendMultipart([]string{inv.To}, inv.Subject(), textBody, htmlBody)
}

// SendMultipart sends a multipart/alternative mail with text and HTML parts.
func (s *Service) SendMultipart(to []string, subject, textBody, htmlBody string) error {
	if !s.IsConfigured() {
		return ErrNotConfigured
	}
	msg := s.buildMessage(to, subject, textBody, htmlBody)
	if err := s.send(s.server, s.auth, s.config.From, to, msg); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

func (s *Service) buildMessage(to []string, subject, textBody, htmlBody string) []byte {
	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}
	boundary := "boundary-docforge"

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n\r\n", boundary)

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	fmt.Fprintf(&msg, "%s\r\n\r\n", textBody)

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n\r\n")
	fmt.Fprintf(&msg, "%s\r\n\r\n", htmlBody)
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)
	return msg.Bytes()
}

func renderHTML(tmpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func renderText(tmpl *texttemplate.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

var invitationTextTemplate = texttemplate.Must(texttemplate.New("invitation.txt").Parse(`Hi {{.InviteeName}},

{{.InviterName}} invited you to collaborate on "{{.ProjectName}}" with {{.PermissionLabel}} access.
{{if .ProjectDescription}}
{{.ProjectDescription}}
{{end}}
Accept the invitation: {{.AcceptURL}}

This link expires on {{.ExpiresAt.UTC.Format "Jan 2, 2006 15:04 MST"}}.`))

var invitationHTMLTemplate = template.Must(template.New("invitation.html").Parse(`<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>{{.Subject}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .project { background: #f5f7fa; padding: 16px; border-radius: 6px; margin: 20px 0; }
        .badge { display: inline-block; padding: 2px 8px; border-radius: 10px; background: #e0ecff; color: #0b4fb3; font-size: 12px; }
        .button { display: inline-block; padding: 12px 24px; background: #0066cc; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <h2>You're invited to collaborate</h2>

    <p>Hi {{.InviteeName}}, <strong>{{.InviterName}}</strong> invited you to work on a project.</p>

    <div class="project">
        <h3>{{.ProjectName}}</h3>
        {{if .ProjectDescription}}<p>{{.ProjectDescription}}</p>{{end}}
        <span class="badge">{{.PermissionLabel}} access</span>
    </div>

    <p>
        <a href="{{.AcceptURL}}" class="button">Accept Invitation</a>
    </p>

    <div class="footer">
        <p>This invitation expires on {{.ExpiresAt.UTC.Format "Jan 2, 2006 15:04 MST"}}. If you weren't expecting it, you can ignore this email.</p>
    </div>
</body>
</html>`))
