package convo

import (
	"encoding/json"
	"time"
)

// Kind identifies the payload family of a message. Only text messages carry a
// body; the binary kinds carry a blob store path in PayloadRef instead.
type Kind string

const (
	KindText           Kind = "text"
	KindAttributedText Kind = "attributed_text"
	KindPhoto          Kind = "photo"
	KindVideo          Kind = "video"
	KindLocation       Kind = "location"
	KindEmoji          Kind = "emoji"
	KindAudio          Kind = "audio"
	KindContact        Kind = "contact"
	KindLinkPreview    Kind = "link_preview"
	KindCustom         Kind = "custom"
)

var knownKinds = map[Kind]struct{}{
	KindText: {}, KindAttributedText: {}, KindPhoto: {}, KindVideo: {},
	KindLocation: {}, KindEmoji: {}, KindAudio: {}, KindContact: {},
	KindLinkPreview: {}, KindCustom: {},
}

// Valid reports whether k is one of the fixed kind enumeration.
func (k Kind) Valid() bool {
	_, ok := knownKinds[k]
	return ok
}

// Message is one entry in a conversation's append-only log.
type Message struct {
	ID         string
	Kind       Kind
	Body       string
	PayloadRef string
	SentAt     time.Time
	SenderKey  string
	SenderName string
	IsRead     bool
}

// LatestMessage is the denormalized preview mirrored into both participants'
// conversation lists after every send.
type LatestMessage struct {
	SentAt time.Time
	Body   string
	IsRead bool
}

// ConversationRef is one participant's pointer/preview record for a
// conversation. A conversation has exactly two, one under each participant's
// list, and both must carry an equal Latest after any successful send.
type ConversationRef struct {
	ID              string
	CounterpartyKey string
	DisplayName     string
	Latest          LatestMessage
}

// DirectoryEntry is one row of the global user directory used for search.
type DirectoryEntry struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// User is a registered account's profile record.
type User struct {
	Email     string
	FirstName string
	LastName  string
}

// DisplayName returns the name written into the user directory.
func (u User) DisplayName() string {
	return u.FirstName + " " + u.LastName
}

// SentAtFormat is the boundary-only display format for message timestamps.
// Persisted documents carry epoch milliseconds; this format is applied when
// rendering, never when storing.
const SentAtFormat = "Jan 2, 2006 at 3:04:05 PM MST"

// FormatSentAt renders a timestamp for display.
func FormatSentAt(t time.Time) string {
	return t.Format(SentAtFormat)
}

// Persisted document shapes. Nodes are rewritten whole, so these must
// round-trip exactly.

type latestMessageDoc struct {
	Date    int64  `json:"date"`
	Message string `json:"message"`
	IsRead  bool   `json:"is_read"`
}

type conversationRefDoc struct {
	ID             string            `json:"id"`
	OtherUserEmail string            `json:"other_user_email"`
	Name           string            `json:"name"`
	LatestMessage  *latestMessageDoc `json:"latest_message"`
}

type messageDoc struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Content     string `json:"content"`
	Date        int64  `json:"date"`
	SenderEmail string `json:"sender_email"`
	IsRead      bool   `json:"is_read"`
	Name        string `json:"name"`
	PayloadRef  string `json:"payload_ref,omitempty"`
}

type logDoc struct {
	Messages []json.RawMessage `json:"messages"`
}

type userDoc struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

func latestToDoc(lm LatestMessage) *latestMessageDoc {
	return &latestMessageDoc{
		Date:    lm.SentAt.UnixMilli(),
		Message: lm.Body,
		IsRead:  lm.IsRead,
	}
}

func refToDoc(ref ConversationRef) conversationRefDoc {
	return conversationRefDoc{
		ID:             ref.ID,
		OtherUserEmail: ref.CounterpartyKey,
		Name:           ref.DisplayName,
		LatestMessage:  latestToDoc(ref.Latest),
	}
}

func messageToDoc(m Message) messageDoc {
	content := ""
	if m.Kind == KindText {
		content = m.Body
	}
	return messageDoc{
		ID:          m.ID,
		Type:        string(m.Kind),
		Content:     content,
		Date:        m.SentAt.UnixMilli(),
		SenderEmail: m.SenderKey,
		IsRead:      m.IsRead,
		Name:        m.SenderName,
		PayloadRef:  m.PayloadRef,
	}
}

// decodeRef turns a raw list entry into a ConversationRef. ok is false for
// malformed entries, which callers drop without failing the whole list.
func decodeRef(raw json.RawMessage) (ConversationRef, bool) {
	var doc conversationRefDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return ConversationRef{}, false
	}
	if doc.ID == "" || doc.Name == "" || doc.OtherUserEmail == "" || doc.LatestMessage == nil {
		return ConversationRef{}, false
	}
	if doc.LatestMessage.Date <= 0 {
		return ConversationRef{}, false
	}
	return ConversationRef{
		ID:              doc.ID,
		CounterpartyKey: doc.OtherUserEmail,
		DisplayName:     doc.Name,
		Latest: LatestMessage{
			SentAt: time.UnixMilli(doc.LatestMessage.Date),
			Body:   doc.LatestMessage.Message,
			IsRead: doc.LatestMessage.IsRead,
		},
	}, true
}

// decodeMessage turns a raw log entry into a Message. ok is false for
// malformed entries.
func decodeMessage(raw json.RawMessage) (Message, bool) {
	var doc messageDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Message{}, false
	}
	if doc.ID == "" || doc.SenderEmail == "" || doc.Name == "" || doc.Date <= 0 {
		return Message{}, false
	}
	kind := Kind(doc.Type)
	if !kind.Valid() {
		return Message{}, false
	}
	return Message{
		ID:         doc.ID,
		Kind:       kind,
		Body:       doc.Content,
		PayloadRef: doc.PayloadRef,
		SentAt:     time.UnixMilli(doc.Date),
		SenderKey:  doc.SenderEmail,
		SenderName: doc.Name,
		IsRead:     doc.IsRead,
	}, true
}

// decodeRefList decodes a conversation list node, dropping malformed entries.
func decodeRefList(doc json.RawMessage) []ConversationRef {
	var raws []json.RawMessage
	if err := json.Unmarshal(doc, &raws); err != nil {
		return nil
	}
	refs := make([]ConversationRef, 0, len(raws))
	for _, raw := range raws {
		if ref, ok := decodeRef(raw); ok {
			refs = append(refs, ref)
		}
	}
	return refs
}

// decodeLog decodes a message log node, dropping malformed entries.
func decodeLog(doc json.RawMessage) []Message {
	var log logDoc
	if err := json.Unmarshal(doc, &log); err != nil {
		return nil
	}
	msgs := make([]Message, 0, len(log.Messages))
	for _, raw := range log.Messages {
		if m, ok := decodeMessage(raw); ok {
			msgs = append(msgs, m)
		}
	}
	return msgs
}
