package smtp

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net"
	"net/mail"
	gosmtp "net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/qubefyn/inkwell/internal/apperror"
	"github.com/qubefyn/inkwell/internal/config"
	"github.com/qubefyn/inkwell/internal/sanitize"
)

// dialTimeout bounds the TCP (and TLS) connect to the mail server.
const dialTimeout = 10 * time.Second

// ErrNotConfigured is returned when no mail host is set.
var ErrNotConfigured = errors.New("smtp is not configured")

// Sender delivers one message synchronously.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Mailer sends mail over SMTP using the configured encryption mode.
type Mailer struct {
	cfg config.SMTPConfig
	now func() time.Time
}

// NewMailer creates a Mailer from the environment settings.
func NewMailer(cfg config.SMTPConfig) *Mailer {
	if cfg.Encryption == "" {
		cfg.Encryption = "starttls"
	}
	return &Mailer{cfg: cfg, now: time.Now}
}

// Settings returns the mail configuration with the password redacted.
func (m *Mailer) Settings() Settings {
	return Settings{
		Host:        m.cfg.Host,
		Port:        m.cfg.Port,
		Username:    m.cfg.Username,
		HasPassword: m.cfg.Password != "",
		FromAddress: m.cfg.FromAddress,
		FromName:    m.cfg.FromName,
		Encryption:  m.cfg.Encryption,
		Enabled:     m.cfg.Enabled(),
	}
}

// Send builds a multipart/alternative message and delivers it.
func (m *Mailer) Send(ctx context.Context, msg Message) error {
	if !m.cfg.Enabled() {
		return ErrNotConfigured
	}

	to, err := mail.ParseAddress(msg.To)
	if err != nil {
		return fmt.Errorf("parsing recipient: %w", err)
	}
	from := mail.Address{Name: m.cfg.FromName, Address: m.cfg.FromAddress}

	body, err := buildMessage(from, *to, msg, m.now())
	if err != nil {
		return err
	}

	client, err := m.connect(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	return sendMessage(client, from.Address, to.Address, body)
}

// TestConnection dials the server, negotiates encryption and authenticates
// without sending anything.
func (m *Mailer) TestConnection(ctx context.Context) error {
	if !m.cfg.Enabled() {
		return apperror.NewBadRequest("SMTP host is not configured")
	}

	client, err := m.connect(ctx)
	if err != nil {
		return apperror.NewBadRequest(err.Error())
	}
	defer client.Close()

	if err := client.Quit(); err != nil {
		return apperror.NewBadRequest(fmt.Sprintf("SMTP quit failed: %v", err))
	}

	slog.Info("smtp connection test succeeded", slog.String("host", m.cfg.Host))
	return nil
}

// connect opens an SMTP session: implicit TLS for "ssl", STARTTLS for
// "starttls", cleartext for "none". Credentials are sent only when a
// username is set.
func (m *Mailer) connect(ctx context.Context) (*gosmtp.Client, error) {
	host := m.cfg.Host
	addr := net.JoinHostPort(host, strconv.Itoa(m.cfg.Port))
	tlsConfig := &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}

	var (
		conn net.Conn
		err  error
	)
	netDialer := &net.Dialer{Timeout: dialTimeout}
	if m.cfg.Encryption == "ssl" {
		conn, err = (&tls.Dialer{NetDialer: netDialer, Config: tlsConfig}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = netDialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}

	client, err := gosmtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("smtp handshake: %w", err)
	}

	if m.cfg.Encryption == "starttls" {
		if err := client.StartTLS(tlsConfig); err != nil {
			client.Close()
			return nil, fmt.Errorf("starting TLS: %w", err)
		}
	}

	if m.cfg.Username != "" {
		auth := gosmtp.PlainAuth("", m.cfg.Username, m.cfg.Password, host)
		if err := client.Auth(auth); err != nil {
			client.Close()
			return nil, fmt.Errorf("authenticating: %w", err)
		}
	}

	return client, nil
}

// sendMessage handles MAIL FROM, RCPT TO, DATA for an open SMTP session.
func sendMessage(client *gosmtp.Client, from, to string, msg []byte) error {
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("MAIL FROM: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("RCPT TO %s: %w", to, err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("writing message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("closing data: %w", err)
	}
	return client.Quit()
}

// buildMessage renders an RFC 5322 message with text and HTML alternatives,
// both quoted-printable. The HTML part is sanitized and, when no text part
// is given, a plain-text one is derived from it. Header values are encoded
// so user-supplied text can't inject headers.
func buildMessage(from, to mail.Address, msg Message, date time.Time) ([]byte, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	htmlBody := sanitize.MailHTML(msg.HTML)
	textBody := msg.Text
	if textBody == "" {
		textBody = sanitize.Text(htmlBody)
	}

	parts := []struct {
		contentType string
		content     string
	}{
		{"text/plain; charset=UTF-8", textBody},
		{"text/html; charset=UTF-8", htmlBody},
	}
	for _, p := range parts {
		if p.content == "" {
			continue
		}
		w, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {p.contentType},
			"Content-Transfer-Encoding": {"quoted-printable"},
		})
		if err != nil {
			return nil, fmt.Errorf("creating mime part: %w", err)
		}
		qp := quotedprintable.NewWriter(w)
		if _, err := qp.Write([]byte(p.content)); err != nil {
			return nil, fmt.Errorf("encoding mime part: %w", err)
		}
		if err := qp.Close(); err != nil {
			return nil, fmt.Errorf("encoding mime part: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("closing multipart: %w", err)
	}

	domain := "localhost"
	if at := strings.LastIndex(from.Address, "@"); at >= 0 {
		domain = from.Address[at+1:]
	}

	var out bytes.Buffer
	header := func(k, v string) { fmt.Fprintf(&out, "%s: %s\r\n", k, v) }
	header("From", from.String())
	header("To", to.String())
	header("Subject", mime.QEncoding.Encode("UTF-8", stripNewlines(msg.Subject)))
	header("Date", date.UTC().Format(time.RFC1123Z))
	header("Message-ID", fmt.Sprintf("<%s@%s>", uuid.NewString(), domain))
	header("MIME-Version", "1.0")
	header("Content-Type", fmt.Sprintf("multipart/alternative; boundary=%q", mw.Boundary()))
	out.WriteString("\r\n")
	out.Write(body.Bytes())

	return out.Bytes(), nil
}

func stripNewlines(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}

// LogSender writes messages to the debug log instead of sending them.
// Used in development when no mail host is configured.
type LogSender struct{}

// Send logs msg, including its text body, at debug level.
func (LogSender) Send(ctx context.Context, msg Message) error {
	slog.DebugContext(ctx, "mail not sent, smtp disabled",
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
		slog.String("text", msg.Text),
	)
	return nil
}
