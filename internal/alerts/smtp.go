package alerts

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
)

// SMTPSender sends alerts via email
type SMTPSender struct {
	host     string
	port     int
	user     string
	password string
	from     string
	to       []string
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPSender creates a new SMTP sender
func NewSMTPSender(host string, port int, user, password, from string, to []string) *SMTPSender {
	return &SMTPSender{
		host:     host,
		port:     port,
		user:     user,
		password: password,
		from:     from,
		to:       to,
		sendMail: smtp.SendMail,
	}
}

// Send sends the alert via email
func (s *SMTPSender) Send(ctx context.Context, payload *AlertPayload) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	subject := fmt.Sprintf("[%s] %s AML risk for %s", payload.Severity, payload.Report.RiskLevel, payload.SeedShort)

	message := fmt.Sprintf("From: %s\r\n", s.from)
	message += fmt.Sprintf("To: %s\r\n", strings.Join(s.to, ", "))
	message += fmt.Sprintf("Subject: %s\r\n", subject)
	message += "Content-Type: text/plain; charset=UTF-8\r\n"
	message += "\r\n"
	message += s.buildEmailBody(payload)

	var auth smtp.Auth
	if s.user != "" {
		auth = smtp.PlainAuth("", s.user, s.password, s.host)
	}
	addr := fmt.Sprintf("%s:%d", s.host, s.port)

	if err := s.sendMail(addr, auth, s.from, s.to, []byte(message)); err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	return nil
}

func (s *SMTPSender) buildEmailBody(payload *AlertPayload) string {
	body := fmt.Sprintf("AMLWATCH ALERT - %s\n", payload.Severity)
	body += "═══════════════════════════════════════\n\n"
	body += payload.Summary + "\n\n"
	body += "═══════════════════════════════════════\n"
	body += fmt.Sprintf("Environment: %s\n", payload.Environment)
	body += fmt.Sprintf("Request:     %s\n", payload.RequestID)
	body += fmt.Sprintf("Generated:   %s\n", payload.Timestamp.UTC().Format("2006-01-02 15:04:05 UTC"))
	body += "\nNote: This report scores exposure to known-bad addresses;\n"
	body += "it does NOT prove wrongdoing.\n"
	return body
}
