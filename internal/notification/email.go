package notification

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"time"

	"github.com/OutllierRejects/reliefops/pkg/cerr"
)

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// EmailTransport sends plain text mail through an SMTP relay, upgrading to
// TLS when the server offers STARTTLS.
type EmailTransport struct {
	cfg SMTPConfig
}

func NewEmailTransport(cfg SMTPConfig) *EmailTransport {
	return &EmailTransport{cfg: cfg}
}

func (t *EmailTransport) Send(ctx context.Context, msg Message) (Status, error) {
	if msg.Recipient == "" {
		return StatusFailed, cerr.NewValidationError("recipient", "email address is required")
	}
	addr := net.JoinHostPort(t.cfg.Host, strconv.Itoa(t.cfg.Port))
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return StatusFailed, cerr.NewError(cerr.Unavailable, "mail server unavailable", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	c, err := smtp.NewClient(conn, t.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return StatusFailed, cerr.NewError(cerr.Unavailable, "mail server unavailable", err)
	}
	defer c.Close()

	if err := t.deliver(c, msg); err != nil {
		return StatusFailed, err
	}
	return StatusSent, nil
}

func (t *EmailTransport) deliver(c *smtp.Client, msg Message) error {
	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: t.cfg.Host}); err != nil {
			return cerr.NewError(cerr.Unavailable, "mail server unavailable", err)
		}
	}
	if t.cfg.Username != "" {
		if err := c.Auth(smtp.PlainAuth("", t.cfg.Username, t.cfg.Password, t.cfg.Host)); err != nil {
			return cerr.NewError(cerr.FailedPrecondition, "mail authentication failed", err)
		}
	}
	if err := c.Mail(t.cfg.From); err != nil {
		return cerr.NewError(cerr.Unavailable, "mail rejected", err)
	}
	if err := c.Rcpt(msg.Recipient); err != nil {
		return cerr.NewError(cerr.InvalidArgument, "recipient rejected", err)
	}
	w, err := c.Data()
	if err != nil {
		return cerr.NewError(cerr.Unavailable, "mail rejected", err)
	}
	if _, err := w.Write(renderMail(t.cfg.From, msg)); err != nil {
		return cerr.NewError(cerr.Unavailable, "mail rejected", err)
	}
	if err := w.Close(); err != nil {
		return cerr.NewError(cerr.Unavailable, "mail rejected", err)
	}
	return c.Quit()
}

func renderMail(from string, msg Message) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", msg.Recipient)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(msg.Body)
	b.WriteString("\r\n")
	return b.Bytes()
}
