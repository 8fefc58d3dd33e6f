package instagram

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

const (
	SignatureHeader = "X-Hub-Signature-256"
	signaturePrefix = "sha256="

	// ObjectInstagram is the payload object for Instagram messaging webhooks.
	ObjectInstagram = "instagram"
)

// VerifySignature checks the x-hub-signature-256 header against an
// HMAC-SHA256 of the raw request body.
func VerifySignature(secret string, body []byte, header string) bool {
	if secret == "" || !strings.HasPrefix(header, signaturePrefix) {
		return false
	}

	expected, err := hex.DecodeString(strings.TrimPrefix(header, signaturePrefix))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), expected)
}

// Sign computes the header value Meta would send for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

type WebhookPayload struct {
	Object string         `json:"object"`
	Entry  []WebhookEntry `json:"entry"`
}

type WebhookEntry struct {
	// ID is the Instagram account id the event was delivered for.
	ID        string           `json:"id"`
	Time      int64            `json:"time"`
	Messaging []MessagingEvent `json:"messaging"`
}

type MessagingEvent struct {
	Sender    Party           `json:"sender"`
	Recipient Party           `json:"recipient"`
	Timestamp int64           `json:"timestamp"`
	Message   *WebhookMessage `json:"message,omitempty"`
	Read      *ReadReceipt    `json:"read,omitempty"`
}

// SentAt converts the millisecond event timestamp.
func (e *MessagingEvent) SentAt() time.Time {
	return time.UnixMilli(e.Timestamp).UTC()
}

type Party struct {
	ID string `json:"id"`
}

type WebhookMessage struct {
	Mid         string              `json:"mid"`
	Text        string              `json:"text"`
	IsEcho      bool                `json:"is_echo"`
	Attachments []WebhookAttachment `json:"attachments"`
}

type WebhookAttachment struct {
	Type    string `json:"type"`
	Payload struct {
		URL string `json:"url"`
	} `json:"payload"`
}

type ReadReceipt struct {
	Mid       string `json:"mid"`
	Watermark int64  `json:"watermark"`
}

// WatermarkTime converts the millisecond read watermark.
func (r *ReadReceipt) WatermarkTime() time.Time {
	return time.UnixMilli(r.Watermark).UTC()
}
