package notifications

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"
)

const emailSubject = "Facial Recognition Doorway"

// emailChannel sends over SMTP to the owner, copying the recipients.
type emailChannel struct {
	host       string
	port       int
	username   string
	password   string
	from       string
	owner      string
	recipients []string
	now        func() time.Time
}

func (e *emailChannel) Name() string { return ChannelEmail }

func (e *emailChannel) Send(ctx context.Context, msg Message) (Outcome, error) {
	if e.host == "" || e.from == "" {
		return OutcomeFailed, errors.New("smtp host and sender are not configured")
	}
	err := e.deliver(ctx, e.render(msg))
	if err == nil {
		return OutcomeSuccess, nil
	}
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		switch tpErr.Code {
		case 530, 534, 535:
			return OutcomeInvalidCredentials, err
		case 421, 450, 451, 452:
			return OutcomeRateLimited, err
		default:
			return OutcomeFailed, err
		}
	}
	return outcomeForError(err), err
}

func (e *emailChannel) deliver(ctx context.Context, body []byte) error {
	addr := net.JoinHostPort(e.host, strconv.Itoa(e.port))
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial smtp: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	client, err := smtp.NewClient(conn, e.host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp greeting: %w", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: e.host, MinVersion: tls.VersionTLS12}); err != nil {
			return fmt.Errorf("smtp starttls: %w", err)
		}
	}
	if e.username != "" {
		if ok, _ := client.Extension("AUTH"); ok {
			if err := client.Auth(smtp.PlainAuth("", e.username, e.password, e.host)); err != nil {
				return fmt.Errorf("smtp auth: %w", err)
			}
		}
	}
	if err := client.Mail(e.from); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	for _, rcpt := range e.envelopeRecipients() {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp rcpt %s: %w", rcpt, err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("smtp write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp finish body: %w", err)
	}
	return client.Quit()
}

func (e *emailChannel) envelopeRecipients() []string {
	out := []string{e.owner}
	for _, rcpt := range e.recipients {
		if rcpt = strings.TrimSpace(rcpt); rcpt != "" && rcpt != e.owner {
			out = append(out, rcpt)
		}
	}
	return out
}

func (e *emailChannel) render(msg Message) []byte {
	now := time.Now
	if e.now != nil {
		now = e.now
	}
	subject := emailSubject
	if msg.Title != "" {
		subject = msg.Title
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", e.from)
	fmt.Fprintf(&buf, "To: %s\r\n", e.owner)
	if cc := e.envelopeRecipients()[1:]; len(cc) > 0 {
		fmt.Fprintf(&buf, "Cc: %s\r\n", strings.Join(cc, ", "))
	}
	fmt.Fprintf(&buf, "Subject: %s\r\n", subject)
	fmt.Fprintf(&buf, "Date: %s\r\n", now().Format(time.RFC1123Z))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	buf.WriteString(strings.ReplaceAll(msg.Body, "\n", "\r\n"))
	buf.WriteString("\r\n")
	return buf.Bytes()
}
