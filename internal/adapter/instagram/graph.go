package instagram

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pscheid92/commhub/internal/domain"
)

// graphTimeLayout is the timestamp format of Graph API fields like created_time.
const graphTimeLayout = "2006-01-02T15:04:05-0700"

// Time decodes Graph API timestamps, which use a colon-less zone offset.
type Time struct {
	time.Time
}

func (t *Time) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}

	parsed, err := time.Parse(graphTimeLayout, s)
	if err != nil {
		parsed, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return err
		}
	}
	t.Time = parsed.UTC()
	return nil
}

type User struct {
	ID                string `json:"id"`
	Username          string `json:"username"`
	Name              string `json:"name"`
	ProfilePictureURL string `json:"profile_picture_url"`
}

type Profile struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	Name        string `json:"name"`
	AccountType string `json:"account_type"`
}

type ShortLivedToken struct {
	AccessToken string      `json:"access_token"`
	UserID      json.Number `json:"user_id"`
}

type LongLivedToken struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

type Attachment struct {
	ID        string `json:"id"`
	MimeType  string `json:"mime_type"`
	FileURL   string `json:"file_url"`
	ImageData *struct {
		URL string `json:"url"`
	} `json:"image_data"`
	VideoData *struct {
		URL string `json:"url"`
	} `json:"video_data"`
}

// URL returns the first available media URL of the attachment.
func (a Attachment) URL() string {
	switch {
	case a.FileURL != "":
		return a.FileURL
	case a.ImageData != nil && a.ImageData.URL != "":
		return a.ImageData.URL
	case a.VideoData != nil:
		return a.VideoData.URL
	}
	return ""
}

type Story struct {
	ID      string `json:"id"`
	Mention *struct {
		Link string `json:"link"`
	} `json:"mention"`
}

type GraphMessage struct {
	ID          string `json:"id"`
	Message     string `json:"message"`
	CreatedTime Time   `json:"created_time"`
	From        User   `json:"from"`
	To          struct {
		Data []User `json:"data"`
	} `json:"to"`
	Attachments struct {
		Data []Attachment `json:"data"`
	} `json:"attachments"`
	Story *Story `json:"story"`
}

func (m *GraphMessage) Type() domain.MessageType {
	switch {
	case m.Story != nil && m.Story.Mention != nil:
		return domain.MessageTypeStoryMention
	case m.Story != nil:
		return domain.MessageTypeStoryReply
	case len(m.Attachments.Data) > 0:
		return domain.MessageTypeMedia
	}
	return domain.MessageTypeText
}

// ToDomain maps a fetched message onto the stored representation. Messages
// returned by the API are already delivered.
func (m *GraphMessage) ToDomain(conversationID uuid.UUID, igUserID string) *domain.Message {
	sentAt := m.CreatedTime.Time
	msg := &domain.Message{
		ConversationID:     conversationID,
		InstagramMessageID: m.ID,
		MessageText:        m.Message,
		MessageType:        m.Type(),
		Direction:          domain.DirectionOutbound,
		Status:             domain.MessageDelivered,
		SenderInstagramID:  m.From.ID,
		SenderUsername:     m.From.Username,
		SentAt:             sentAt,
		DeliveredAt:        &sentAt,
	}
	if m.From.ID != igUserID {
		msg.Direction = domain.DirectionInbound
	}
	if len(m.Attachments.Data) > 0 {
		msg.MediaURL = m.Attachments.Data[0].URL()
		msg.MediaType = m.Attachments.Data[0].MimeType
	}
	if m.Story != nil {
		msg.StoryID = m.Story.ID
		if m.Story.Mention != nil {
			msg.StoryURL = m.Story.Mention.Link
		}
	}
	return msg
}

type GraphConversation struct {
	ID           string `json:"id"`
	UpdatedTime  Time   `json:"updated_time"`
	Participants struct {
		Data []User `json:"data"`
	} `json:"participants"`
	Messages struct {
		Data []GraphMessage `json:"data"`
	} `json:"messages"`
}

// Counterpart returns the participant that is not the account itself.
func (c *GraphConversation) Counterpart(igUserID string) (User, bool) {
	for _, p := range c.Participants.Data {
		if p.ID != igUserID {
			return p, true
		}
	}
	return User{}, false
}

// ToDomain maps the conversation onto the stored representation. It returns
// false when no counterpart participant is present.
func (c *GraphConversation) ToDomain(integration *domain.InstagramIntegration) (*domain.Conversation, bool) {
	participant, ok := c.Counterpart(integration.InstagramUserID)
	if !ok {
		return nil, false
	}

	conv := &domain.Conversation{
		IntegrationID:            integration.ID,
		InstagramConversationID:  c.ID,
		ParticipantInstagramID:   participant.ID,
		ParticipantUsername:      participant.Username,
		ParticipantName:          participant.Name,
		ParticipantProfilePicURL: participant.ProfilePictureURL,
	}

	if len(c.Messages.Data) == 0 {
		return conv, true
	}

	last := c.Messages.Data[0]
	at := last.CreatedTime.Time
	conv.LastMessageAt = &at
	conv.LastMessagePreview = domain.Preview(last.Message)
	conv.LastMessageDirection = domain.DirectionOutbound
	if last.From.ID != integration.InstagramUserID {
		conv.LastMessageDirection = domain.DirectionInbound
		until := at.Add(domain.MessagingWindow)
		conv.LastInboundAt = &at
		conv.CanReplyUntil = &until
	}
	return conv, true
}

type paging struct {
	Cursors struct {
		Before string `json:"before"`
		After  string `json:"after"`
	} `json:"cursors"`
	Next string `json:"next"`
}

type ConversationPage struct {
	Conversations []GraphConversation
	HasMore       bool
	NextCursor    string
}

type MessagePage struct {
	Messages   []GraphMessage
	HasMore    bool
	NextCursor string
}
