package gmail

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/mail"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/pscheid92/commhub/internal/domain"
	gmailapi "google.golang.org/api/gmail/v1"
)

const snippetFallbackLength = 200

// ParseMessage converts a full-format Gmail message into the stored form.
// SentAt is zero when neither internalDate nor a parseable Date header exists.
func ParseMessage(m *gmailapi.Message) *domain.GmailMessage {
	var headers []*gmailapi.MessagePartHeader
	if m.Payload != nil {
		headers = m.Payload.Headers
	}
	header := func(name string) string {
		for _, h := range headers {
			if strings.EqualFold(h.Name, name) {
				return strings.TrimSpace(h.Value)
			}
		}
		return ""
	}

	html, text := extractBody(m.Payload)

	msg := &domain.GmailMessage{
		GmailMessageID:  m.Id,
		GmailThreadID:   m.ThreadId,
		From:            header("From"),
		To:              strings.Join(parseAddresses(header("To")), ", "),
		Cc:              strings.Join(parseAddresses(header("Cc")), ", "),
		Subject:         header("Subject"),
		BodyText:        text,
		BodyHTML:        html,
		Snippet:         m.Snippet,
		Labels:          m.LabelIds,
		IsRead:          !slices.Contains(m.LabelIds, labelUnread),
		MessageIDHeader: header("Message-ID"),
		InReplyTo:       header("In-Reply-To"),
		References:      strings.Join(strings.Fields(header("References")), " "),
	}
	if msg.Snippet == "" {
		msg.Snippet = truncateRunes(text, snippetFallbackLength)
	}

	switch {
	case m.InternalDate > 0:
		msg.SentAt = time.UnixMilli(m.InternalDate).UTC()
	case header("Date") != "":
		if t, err := mail.ParseDate(header("Date")); err == nil {
			msg.SentAt = t.UTC()
		}
	}
	return msg
}

// IsOutgoingOnly reports whether a message was sent from the mailbox and never
// landed in the inbox.
func IsOutgoingOnly(m *gmailapi.Message) bool {
	return slices.Contains(m.LabelIds, labelSent) && !slices.Contains(m.LabelIds, labelInbox)
}

func parseAddresses(value string) []string {
	if value == "" {
		return nil
	}

	if list, err := mail.ParseAddressList(value); err == nil {
		out := make([]string, 0, len(list))
		for _, a := range list {
			if a.Name == "" {
				out = append(out, a.Address)
				continue
			}
			out = append(out, a.String())
		}
		return out
	}

	var out []string
	for part := range strings.SplitSeq(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// extractBody walks the MIME tree and returns the first text/html and
// text/plain bodies found.
func extractBody(part *gmailapi.MessagePart) (html, text string) {
	if part == nil {
		return "", ""
	}

	if part.Body != nil && part.Body.Data != "" {
		decoded := decodeBase64URL(part.Body.Data)
		switch part.MimeType {
		case "text/html":
			html = decoded
		case "text/plain":
			text = decoded
		}
	}

	for _, child := range part.Parts {
		h, t := extractBody(child)
		if html == "" {
			html = h
		}
		if text == "" {
			text = t
		}
	}

	if text == "" && html != "" {
		text = StripHTML(html)
	}
	return html, text
}

func decodeBase64URL(data string) string {
	b, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "="))
	if err != nil {
		return ""
	}
	return string(b)
}

var replyPrefix = regexp.MustCompile(`^(re|fwd|fw):\s*`)

// SubjectHash normalises a subject (case, reply and forward prefixes) and
// hashes it, so replies group with their original thread.
func SubjectHash(subject string) string {
	s := strings.TrimSpace(strings.ToLower(subject))
	for replyPrefix.MatchString(s) {
		s = strings.TrimSpace(replyPrefix.ReplaceAllString(s, ""))
	}
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

var (
	reBreak        = regexp.MustCompile(`(?i)<br\s*/?>`)
	reParagraphEnd = regexp.MustCompile(`(?i)</p>`)
	reDivEnd       = regexp.MustCompile(`(?i)</div>`)
	reTag          = regexp.MustCompile(`<[^>]*>`)
	reDecimal      = regexp.MustCompile(`&#(\d+);`)
	reHex          = regexp.MustCompile(`&#[xX]([0-9a-fA-F]+);`)
	reBlankLines   = regexp.MustCompile(`\n{3,}`)

	namedEntities = strings.NewReplacer(
		"&nbsp;", " ",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
		"&apos;", "'",
		"&#x27;", "'",
		"&#8217;", "'",
		"&#8216;", "'",
		"&#8220;", `"`,
		"&#8221;", `"`,
		"&rsquo;", "'",
		"&lsquo;", "'",
		"&ldquo;", `"`,
		"&rdquo;", `"`,
	)
)

// StripHTML renders an HTML body as plain text. &amp; is decoded last so
// double-encoded entities like &amp;#39; stay literal.
func StripHTML(html string) string {
	s := reBreak.ReplaceAllString(html, "\n")
	s = reParagraphEnd.ReplaceAllString(s, "\n\n")
	s = reDivEnd.ReplaceAllString(s, "\n")
	s = reTag.ReplaceAllString(s, "")
	s = namedEntities.Replace(s)
	s = reDecimal.ReplaceAllStringFunc(s, func(m string) string {
		n, err := strconv.ParseInt(reDecimal.FindStringSubmatch(m)[1], 10, 64)
		if err != nil {
			return ""
		}
		return safeRune(n)
	})
	s = reHex.ReplaceAllStringFunc(s, func(m string) string {
		n, err := strconv.ParseInt(reHex.FindStringSubmatch(m)[1], 16, 64)
		if err != nil {
			return ""
		}
		return safeRune(n)
	})
	s = strings.ReplaceAll(s, "&amp;", "&")
	s = reBlankLines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// safeRune decodes a numeric entity, dropping control, bidi-override and
// zero-width characters that could be used to spoof text.
func safeRune(cp int64) string {
	switch {
	case cp < 32 && cp != '\t' && cp != '\n' && cp != '\r':
		return ""
	case cp == 127:
		return ""
	case cp >= 0x202a && cp <= 0x202e, cp >= 0x2066 && cp <= 0x2069:
		return ""
	case cp == 0x200b, cp == 0x200c, cp == 0x200d, cp == 0xfeff:
		return ""
	case cp >= 0xd800 && cp <= 0xdfff, cp > 0x10ffff:
		return ""
	}
	return string(rune(cp))
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
