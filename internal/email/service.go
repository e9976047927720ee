// Package email sends account emails over SMTP.
package email

import (
	"bytes"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"mime"
	"mime/multipart"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strings"
	texttemplate "text/template"
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

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Service delivers multipart/alternative messages through one SMTP relay.
type Service struct {
	config Config
	sender mail.Address
	auth   smtp.Auth
	send   sendFunc
}

func NewService(config Config) *Service {
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}
	return &Service{
		config: config,
		sender: mail.Address{Name: config.FromName, Address: config.From},
		auth:   auth,
		send:   smtp.SendMail,
	}
}

func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// Message is one email with a plain-text body and an HTML alternative.
type Message struct {
	To      []string
	Subject string
	Text    string
	HTML    string
}

func (s *Service) Send(msg Message) error {
	if !s.IsConfigured() {
		return ErrNotConfigured
	}
	raw, err := s.encode(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	addr := net.JoinHostPort(s.config.Host, s.config.Port)
	return s.send(addr, s.auth, s.config.From, msg.To, raw)
}

// encode writes RFC 5322 headers, with the subject Q-encoded since it is
// usually Spanish, followed by the two 8bit parts.
func (s *Service) encode(msg Message) ([]byte, error) {
	var body bytes.Buffer
	parts := multipart.NewWriter(&body)
	for _, part := range []struct{ contentType, content string }{
		{"text/plain; charset=UTF-8", msg.Text},
		{"text/html; charset=UTF-8", msg.HTML},
	} {
		w, err := parts.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {part.contentType},
			"Content-Transfer-Encoding": {"8bit"},
		})
		if err != nil {
			return nil, err
		}
		if _, err := w.Write([]byte(strings.ReplaceAll(part.content, "\n", "\r\n"))); err != nil {
			return nil, err
		}
	}
	if err := parts.Close(); err != nil {
		return nil, err
	}

	var out bytes.Buffer
	fmt.Fprintf(&out, "From: %s\r\n", s.sender.String())
	fmt.Fprintf(&out, "To: %s\r\n", strings.Join(msg.To, ", "))
	fmt.Fprintf(&out, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	fmt.Fprintf(&out, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&out, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", parts.Boundary())
	out.Write(body.Bytes())
	return out.Bytes(), nil
}

type PasswordResetData struct {
	AppName  string
	UserName string
	ResetURL string
}

func (s *Service) SendPasswordResetEmail(to, userName, resetURL string) error {
	data := PasswordResetData{AppName: "IgnisOS", UserName: userName, ResetURL: resetURL}

	var html, text bytes.Buffer
	if err := resetHTML.Execute(&html, data); err != nil {
		return fmt.Errorf("render password reset html: %w", err)
	}
	if err := resetText.Execute(&text, data); err != nil {
		return fmt.Errorf("render password reset text: %w", err)
	}
	return s.Send(Message{
		To:      []string{to},
		Subject: "Restablece tu contraseña de " + data.AppName,
		Text:    text.String(),
		HTML:    html.String(),
	})
}

var (
	resetText = texttemplate.Must(texttemplate.New("reset.txt").Parse(
		"Hola {{if .UserName}}{{.UserName}}{{else}}equipo{{end}},\n\n" +
			"Para restablecer tu contraseña de {{.AppName}} abre este enlace (vence en 1 hora):\n" +
			"{{.ResetURL}}\n\n" +
			"Si no solicitaste el cambio, ignora este correo.\n"))

	resetHTML = htmltemplate.Must(htmltemplate.New("reset.html").Parse(`<!DOCTYPE html>
<html lang="es">
<head>
<meta charset="UTF-8">
<title>{{.AppName}}</title>
</head>
<body style="margin:0;padding:24px;background:#0a0a0a;color:#e5e7eb;font-family:-apple-system,'Segoe UI',Roboto,sans-serif;line-height:1.6">
<table role="presentation" width="100%" style="max-width:560px;margin:0 auto">
<tr><td style="border-bottom:2px solid #f97316;padding-bottom:8px"><strong style="font-size:20px;color:#fb923c">{{.AppName}}</strong></td></tr>
<tr><td style="padding-top:16px">
<p>Hola {{if .UserName}}{{.UserName}}{{else}}equipo{{end}},</p>
<p>Recibimos una solicitud para restablecer tu contraseña.</p>
<p><a href="{{.ResetURL}}" style="display:inline-block;padding:12px 24px;background:#f97316;color:#fff;text-decoration:none;border-radius:8px">Restablecer contraseña</a></p>
<p style="word-break:break-all;color:#fb923c">{{.ResetURL}}</p>
<p>El enlace vence en 1 hora.</p>
</td></tr>
<tr><td style="border-top:1px solid #27272a;padding-top:16px;font-size:12px;color:#9ca3af">Si no solicitaste el cambio, ignora este correo. Tu contraseña no cambiará.</td></tr>
</table>
</body>
</html>`))
)
