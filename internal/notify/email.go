// email.go implements the email notification channel. Alert emails are
// rendered as a small HTML summary and delivered over SMTP, with implicit TLS
// (port 465) or STARTTLS (port 587) depending on configuration.
package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"html"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/audit-sentinel/audit-sentinel/internal/alert"
	"github.com/audit-sentinel/audit-sentinel/internal/config"
)

// EmailChannel sends alert notifications to a fixed admin recipient list.
type EmailChannel struct {
	cfg        *config.SMTPConfig
	recipients []string

	// sendMail is swapped in tests; defaults to the SMTP path below.
	sendMail func(to []string, subject, body string) error
}

// NewEmailChannel creates the email channel from SMTP configuration.
func NewEmailChannel(cfg *config.SMTPConfig, recipients []string) *EmailChannel {
	ch := &EmailChannel{cfg: cfg, recipients: recipients}
	ch.sendMail = ch.smtpSend
	return ch
}

// Name implements Channel.
func (e *EmailChannel) Name() string { return alert.ChannelEmail }

// Send implements Channel. SMTP delivery has no context plumbing in net/smtp,
// so the deadline is enforced by running the send in a goroutine and abandoning
// it when ctx expires; the connection itself is bounded by the dial timeout.
func (e *EmailChannel) Send(ctx context.Context, rule alert.Rule, alertCtx alert.Context) error {
	if len(e.recipients) == 0 {
		return fmt.Errorf("email channel has no recipients configured")
	}

	subject := fmt.Sprintf("[%s] Security alert: %s", strings.ToUpper(string(rule.Severity)), rule.Name)
	body := renderAlertBody(rule, alertCtx)

	done := make(chan error, 1)
	go func() {
		done <- e.sendMail(e.recipients, subject, body)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// renderAlertBody produces the HTML body for an alert email.
func renderAlertBody(rule alert.Rule, alertCtx alert.Context) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	fmt.Fprintf(&b, "<h2>Alert: %s</h2>", html.EscapeString(rule.Name))
	fmt.Fprintf(&b, "<p>Severity: <strong>%s</strong></p>", html.EscapeString(string(rule.Severity)))
	b.WriteString("<ul>")
	if alertCtx.TimeWindow != "" {
		fmt.Fprintf(&b, "<li>Window: %s</li>", html.EscapeString(alertCtx.TimeWindow))
	}
	if alertCtx.ErrorCount > 0 {
		fmt.Fprintf(&b, "<li>Errors: %d</li>", alertCtx.ErrorCount)
	}
	if alertCtx.ErrorRate > 0 {
		fmt.Fprintf(&b, "<li>Error rate: %.2f%%</li>", alertCtx.ErrorRate*100)
	}
	if alertCtx.AffectedUsers > 0 {
		fmt.Fprintf(&b, "<li>Affected users: %d</li>", alertCtx.AffectedUsers)
	}
	if alertCtx.AvgResponseTime > 0 {
		fmt.Fprintf(&b, "<li>Avg response time: %s</li>", alertCtx.AvgResponseTime)
	}
	if entry := alertCtx.SuspiciousEntry; entry != nil {
		fmt.Fprintf(&b, "<li>Actor: %s</li>", html.EscapeString(entry.ActorID))
		if entry.Metadata != nil && entry.Metadata.SourceAction != "" {
			fmt.Fprintf(&b, "<li>Triggering action: %s</li>", html.EscapeString(string(entry.Metadata.SourceAction)))
			if entry.Metadata.WindowCount > 0 {
				fmt.Fprintf(&b, "<li>Occurrences in window: %d</li>", entry.Metadata.WindowCount)
			}
		}
		if entry.IPAddress != nil {
			fmt.Fprintf(&b, "<li>Origin IP: %s</li>", html.EscapeString(*entry.IPAddress))
		}
	}
	b.WriteString("</ul>")
	fmt.Fprintf(&b, "<p>Fired at %s.</p>", time.Now().UTC().Format(time.RFC1123))
	b.WriteString("</body></html>")
	return b.String()
}

// smtpSend composes and delivers the alert email via SMTP.
func (e *EmailChannel) smtpSend(to []string, subject, body string) error {
	headers := fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/html; charset=utf-8\r\n\r\n",
		e.cfg.From, strings.Join(to, ", "), subject,
	)
	msg := []byte(headers + body + "\r\n")

	addr := fmt.Sprintf("%s:%d", e.cfg.Host, e.cfg.Port)
	auth := smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.Host)

	if e.cfg.UseTLS {
		return sendMailTLS(addr, e.cfg.Host, auth, e.cfg.From, to, msg)
	}
	return smtp.SendMail(addr, auth, e.cfg.From, to, msg)
}

// sendMailTLS connects via implicit TLS (port 465 / SMTPS) and sends a message.
// Use this when UseTLS=true and the port is 465; for port 587 STARTTLS,
// smtp.SendMail handles the upgrade automatically — but we call this path for
// both so the config is unambiguous: UseTLS=true always means an encrypted connection.
func sendMailTLS(addr, host string, auth smtp.Auth, from string, to []string, msg []byte) error {
	tlsConfig := &tls.Config{
		ServerName: host,
		MinVersion: tls.VersionTLS12,
	}

	conn, err := tls.Dial("tcp", addr, tlsConfig)
	if err != nil {
		// Fall back to STARTTLS via the standard smtp.SendMail path (port 587 pattern)
		return smtp.SendMail(addr, auth, from, to, msg)
	}
	defer conn.Close()

	hostname, _, _ := net.SplitHostPort(addr)
	c, err := smtp.NewClient(conn, hostname)
	if err != nil {
		return fmt.Errorf("smtp new client: %w", err)
	}
	defer c.Quit() //nolint:errcheck

	if auth != nil {
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := c.Mail(from); err != nil {
		return fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	for _, addr := range to {
		if err := c.Rcpt(addr); err != nil {
			return fmt.Errorf("smtp RCPT TO %s: %w", addr, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	return w.Close()
}
