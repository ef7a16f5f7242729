package httpapi

import (
	"github.com/emberchat/emberd/internal/convo"
)

// Wire representations. Timestamps go out both as epoch milliseconds (the
// stored form) and as a pre-rendered display string.

type latestMessageJSON struct {
	DateMS      int64  `json:"date_ms"`
	DateDisplay string `json:"date_display"`
	Message     string `json:"message"`
	IsRead      bool   `json:"is_read"`
}

type conversationJSON struct {
	ID             string            `json:"id"`
	OtherUserEmail string            `json:"other_user_email"`
	Name           string            `json:"name"`
	LatestMessage  latestMessageJSON `json:"latest_message"`
}

type messageJSON struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Content     string `json:"content"`
	PayloadRef  string `json:"payload_ref,omitempty"`
	DateMS      int64  `json:"date_ms"`
	DateDisplay string `json:"date_display"`
	SenderEmail string `json:"sender_email"`
	SenderName  string `json:"sender_name"`
	IsRead      bool   `json:"is_read"`
}

type messageInput struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Body       string `json:"body"`
	PayloadRef string `json:"payload_ref"`
}

func (in messageInput) toMessage() convo.Message {
	return convo.Message{
		ID:         in.ID,
		Kind:       convo.Kind(in.Type),
		Body:       in.Body,
		PayloadRef: in.PayloadRef,
	}
}

func conversationOut(ref convo.ConversationRef) conversationJSON {
	return conversationJSON{
		ID:             ref.ID,
		OtherUserEmail: ref.CounterpartyKey,
		Name:           ref.DisplayName,
		LatestMessage: latestMessageJSON{
			DateMS:      ref.Latest.SentAt.UnixMilli(),
			DateDisplay: convo.FormatSentAt(ref.Latest.SentAt),
			Message:     ref.Latest.Body,
			IsRead:      ref.Latest.IsRead,
		},
	}
}

func conversationsOut(refs []convo.ConversationRef) []conversationJSON {
	out := make([]conversationJSON, 0, len(refs))
	for _, ref := range refs {
		out = append(out, conversationOut(ref))
	}
	return out
}

func messageOut(m convo.Message) messageJSON {
	return messageJSON{
		ID:          m.ID,
		Type:        string(m.Kind),
		Content:     m.Body,
		PayloadRef:  m.PayloadRef,
		DateMS:      m.SentAt.UnixMilli(),
		DateDisplay: convo.FormatSentAt(m.SentAt),
		SenderEmail: m.SenderKey,
		SenderName:  m.SenderName,
		IsRead:      m.IsRead,
	}
}

func messagesOut(msgs []convo.Message) []messageJSON {
	out := make([]messageJSON, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageOut(m))
	}
	return out
}
