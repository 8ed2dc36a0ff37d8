package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"github.com/mobilemoney/server/internal/model"
)

const defaultTimeout = 15 * time.Second

// Message is one outbound notification. Subject is ignored by SMS senders.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Sender delivers a message over one channel.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// GatewayClient sends SMS through an HTTP gateway accepting a JSON body.
type GatewayClient struct {
	APIKey     string
	BaseURL    string
	From       string
	HTTPClient *http.Client
}

// NewGatewayClient returns a client posting to baseURL with the given API key and sender id.
func NewGatewayClient(apiKey, baseURL, from string) *GatewayClient {
	return &GatewayClient{
		APIKey:     apiKey,
		BaseURL:    baseURL,
		From:       from,
		HTTPClient: &http.Client{Timeout: defaultTimeout},
	}
}

// Send posts the message. Any non-2xx response is an error.
func (c *GatewayClient) Send(ctx context.Context, msg Message) error {
	if c.APIKey == "" {
		return fmt.Errorf("sms: API key not configured")
	}
	raw, err := json.Marshal(map[string]string{
		"from": c.From,
		"to":   msg.To,
		"text": msg.Body,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("sms: request failed status=%d body=%s", resp.StatusCode, string(b))
	}
	return nil
}

// SMTPMailer sends plain-text UTF-8 email through an SMTP relay, upgrading to
// TLS when the server offers STARTTLS.
type SMTPMailer struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

// Send delivers one email. The context deadline bounds the whole SMTP session.
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if m.Host == "" || m.From == "" {
		return errors.New("email: SMTP host or sender not configured")
	}
	timeout := m.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(m.Host, m.Port))
	if err != nil {
		return fmt.Errorf("email: dial: %w", err)
	}
	deadline, _ := ctx.Deadline()
	_ = conn.SetDeadline(deadline)

	c, err := smtp.NewClient(conn, m.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("email: handshake: %w", err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: m.Host, MinVersion: tls.VersionTLS12}); err != nil {
			return fmt.Errorf("email: starttls: %w", err)
		}
	}
	if m.Username != "" {
		if err := c.Auth(smtp.PlainAuth("", m.Username, m.Password, m.Host)); err != nil {
			return fmt.Errorf("email: auth: %w", err)
		}
	}
	if err := c.Mail(m.From); err != nil {
		return fmt.Errorf("email: mail from: %w", err)
	}
	if err := c.Rcpt(msg.To); err != nil {
		return fmt.Errorf("email: rcpt to: %w", err)
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("email: data: %w", err)
	}
	if _, err := w.Write(composeMail(m.From, msg, time.Now())); err != nil {
		return fmt.Errorf("email: write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("email: data: %w", err)
	}
	return c.Quit()
}

// composeMail renders the RFC 5322 message with CRLF line endings.
func composeMail(from string, msg Message, date time.Time) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + msg.To + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", msg.Subject) + "\r\n")
	b.WriteString("Date: " + date.Format(time.RFC1123Z) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("Content-Transfer-Encoding: 8bit\r\n\r\n")
	body := strings.ReplaceAll(msg.Body, "\r\n", "\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	b.WriteString("\r\n")
	return []byte(b.String())
}

// LogSender writes messages to the log instead of delivering them. Used when no transport is configured.
type LogSender struct {
	Logger  *slog.Logger
	Channel model.NotificationChannel
	// Verbose logs the message body, which may contain an OTP.
	Verbose bool
}

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	attrs := []any{"channel", s.Channel, "to", maskRecipient(msg.To), "length", len(msg.Body)}
	if s.Verbose {
		attrs = append(attrs, "subject", msg.Subject, "message", msg.Body)
	}
	s.Logger.InfoContext(ctx, "notification not sent; no transport configured", attrs...)
	return nil
}

// maskRecipient hides most of a phone number or email local part.
func maskRecipient(to string) string {
	at := strings.LastIndex(to, "@")
	if at < 0 {
		return model.MaskPhone(to)
	}
	if at <= 1 {
		return "*" + to[at:]
	}
	return to[:1] + strings.Repeat("*", at-1) + to[at:]
}
