package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"time"

	"github.com/emersion/go-message/mail"

	"github.com/MrEthical07/hostauth"
)

const defaultDialTimeout = 10 * time.Second

// SMTPConfig describes the relay used for outbound notifications.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
	// ImplicitTLS dials TLS directly (port 465). Otherwise STARTTLS is used
	// when the server offers it.
	ImplicitTLS        bool
	InsecureSkipVerify bool
	ProductName        string
}

// SMTP sends one plain-text email per notification.
type SMTP struct {
	cfg SMTPConfig
	now func() time.Time
}

func NewSMTP(cfg SMTPConfig) (*SMTP, error) {
	if cfg.Host == "" {
		return nil, errors.New("notify: smtp host required")
	}
	if cfg.From == "" {
		return nil, errors.New("notify: smtp from address required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.ProductName == "" {
		cfg.ProductName = "Hosting"
	}
	return &SMTP{cfg: cfg, now: time.Now}, nil
}

func (s *SMTP) Notify(ctx context.Context, n hostauth.Notification) error {
	if n.Email == "" {
		return errors.New("notify: notification has no recipient")
	}
	raw, err := s.compose(n)
	if err != nil {
		return fmt.Errorf("notify: compose: %w", err)
	}
	if err := s.send(ctx, n.Email, raw); err != nil {
		return fmt.Errorf("notify: send %s: %w", n.Kind, err)
	}
	return nil
}

func (s *SMTP) compose(n hostauth.Notification) ([]byte, error) {
	subject, body := render(s.cfg.ProductName, n)

	var h mail.Header
	h.SetDate(s.now())
	h.SetAddressList("From", []*mail.Address{{Name: s.cfg.FromName, Address: s.cfg.From}})
	h.SetAddressList("To", []*mail.Address{{Address: n.Email}})
	h.SetSubject(subject)
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	h.Set("X-Hostauth-Kind", string(n.Kind))

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write([]byte(body)); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *SMTP) send(ctx context.Context, rcpt string, raw []byte) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	tlsConfig := &tls.Config{ServerName: s.cfg.Host, InsecureSkipVerify: s.cfg.InsecureSkipVerify}

	dialer := &net.Dialer{Timeout: defaultDialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	if s.cfg.ImplicitTLS {
		conn = tls.Client(conn, tlsConfig)
	}

	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return err
	}
	defer client.Close()

	if !s.cfg.ImplicitTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(tlsConfig); err != nil {
				return err
			}
		}
	}
	if s.cfg.Username != "" {
		if ok, _ := client.Extension("AUTH"); ok {
			if err := client.Auth(smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)); err != nil {
				return err
			}
		}
	}

	if err := client.Mail(s.cfg.From); err != nil {
		return err
	}
	if err := client.Rcpt(rcpt); err != nil {
		return err
	}
	wc, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := wc.Write(raw); err != nil {
		return err
	}
	if err := wc.Close(); err != nil {
		return err
	}
	return client.Quit()
}

var _ hostauth.Notifier = (*SMTP)(nil)
