package gmail

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"mime"
	"mime/quotedprintable"
	"strings"
	"time"

	"github.com/google/uuid"
)

type MIMEParams struct {
	From       string
	To         []string
	Cc         []string
	Bcc        []string
	Subject    string
	HTML       string
	Text       string
	ReplyTo    string
	MessageID  string
	InReplyTo  string
	References []string
	Date       time.Time
}

// BuildMIME renders a multipart/alternative RFC 822 message. Bcc recipients
// are delivered through the envelope and never appear as a header.
func BuildMIME(p MIMEParams) ([]byte, error) {
	boundary := "boundary_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	plain := p.Text
	if plain == "" {
		plain = StripHTML(p.HTML)
	}
	date := p.Date
	if date.IsZero() {
		date = time.Now()
	}

	var buf bytes.Buffer
	writeHeader := func(name, value string) {
		fmt.Fprintf(&buf, "%s: %s\r\n", name, value)
	}

	writeHeader("From", p.From)
	writeHeader("To", strings.Join(p.To, ", "))
	writeHeader("Subject", encodeSubject(p.Subject))
	writeHeader("Message-ID", p.MessageID)
	writeHeader("Date", date.UTC().Format(time.RFC1123Z))
	writeHeader("MIME-Version", "1.0")
	if len(p.Cc) > 0 {
		writeHeader("Cc", strings.Join(p.Cc, ", "))
	}
	if p.ReplyTo != "" {
		writeHeader("Reply-To", p.ReplyTo)
	}
	if p.InReplyTo != "" {
		writeHeader("In-Reply-To", p.InReplyTo)
	}
	if len(p.References) > 0 {
		writeHeader("References", strings.Join(p.References, " "))
	}
	writeHeader("Content-Type", fmt.Sprintf(`multipart/alternative; boundary="%s"`, boundary))
	buf.WriteString("\r\n")

	for _, part := range []struct{ contentType, body string }{
		{"text/plain", plain},
		{"text/html", p.HTML},
	} {
		fmt.Fprintf(&buf, "--%s\r\n", boundary)
		fmt.Fprintf(&buf, "Content-Type: %s; charset=\"UTF-8\"\r\n", part.contentType)
		buf.WriteString("Content-Transfer-Encoding: quoted-printable\r\n\r\n")

		qp := quotedprintable.NewWriter(&buf)
		if _, err := qp.Write([]byte(part.body)); err != nil {
			return nil, fmt.Errorf("failed to encode %s part: %w", part.contentType, err)
		}
		if err := qp.Close(); err != nil {
			return nil, fmt.Errorf("failed to encode %s part: %w", part.contentType, err)
		}
		buf.WriteString("\r\n")
	}
	fmt.Fprintf(&buf, "--%s--", boundary)

	return buf.Bytes(), nil
}

// encodeSubject applies RFC 2047 B-encoding when the subject is not plain ASCII.
func encodeSubject(subject string) string {
	for _, r := range subject {
		if r > 0x7f {
			return mime.BEncoding.Encode("UTF-8", subject)
		}
	}
	return subject
}

// EncodeRaw encodes an RFC 822 message the way the Gmail send API expects.
func EncodeRaw(message []byte) string {
	return base64.RawURLEncoding.EncodeToString(message)
}

// NewMessageID generates a Message-ID header value in the sender's domain.
func NewMessageID() string {
	return "<" + uuid.NewString() + "@gmail.com>"
}
