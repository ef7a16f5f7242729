// Package convo implements the conversation synchronizer: it keeps the two
// denormalized per-user conversation lists and the shared per-conversation
// message log consistent on every send.
package convo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/emberchat/emberd/internal/bus"
	"github.com/emberchat/emberd/internal/docstore"
)

// Store is the document tree the synchronizer operates on.
type Store interface {
	ReadOnce(ctx context.Context, path string) (json.RawMessage, bool, error)
	WriteWhole(ctx context.Context, path string, doc json.RawMessage) error
	Update(ctx context.Context, path string, fn docstore.UpdateFunc) error
	Subscribe(ctx context.Context, path string) (*docstore.Subscription, error)
}

// Service is the conversation synchronizer.
type Service struct {
	store  Store
	bus    *bus.Bus
	logger *zap.Logger
}

// NewService creates a synchronizer backed by the given document store.
func NewService(store Store, b *bus.Bus, logger *zap.Logger) *Service {
	return &Service{store: store, bus: b, logger: logger}
}

// Store node paths. The user's profile node and its conversation list are
// separate nodes; "<key>/conversations" is the child-path address of the
// list.
func userPath(key string) string      { return key }
func listPath(key string) string      { return key + "/conversations" }
func msgLogPath(convID string) string { return convID + "/messages" }

const directoryPath = "users"

// ConversationID derives the conversation id from the first message's id.
func ConversationID(firstMessageID string) string {
	return "conversation_" + firstMessageID
}

// ConversationExists scans the counterparty's conversation list for an entry
// pointing back at selfKey. Returns the conversation id of the first match,
// or ErrNotFound when the list is absent or has no match. Used to avoid
// creating a duplicate conversation when re-initiating contact.
func (s *Service) ConversationExists(ctx context.Context, selfKey, counterpartyKey string) (string, error) {
	doc, exists, err := s.store.ReadOnce(ctx, listPath(counterpartyKey))
	if err != nil {
		return "", err
	}
	if !exists {
		return "", ErrNotFound
	}
	for _, ref := range decodeRefList(doc) {
		if ref.CounterpartyKey == selfKey {
			return ref.ID, nil
		}
	}
	return "", ErrNotFound
}

// CreateParams carries the inputs for CreateConversation. The acting user is
// always explicit; there is no ambient current-user state.
type CreateParams struct {
	SelfKey          string
	SelfName         string
	CounterpartyKey  string
	CounterpartyName string
	FirstMessage     Message
}

// CreateConversation creates the message log and both participants'
// ConversationRefs as one logical unit. The caller must already have a
// registered user node. The log is written first so a crash between the two
// list writes leaves a state the reconciler can repair from the authoritative
// log. Acknowledged writes are never rolled back on later failure.
func (s *Service) CreateConversation(ctx context.Context, p CreateParams) (string, error) {
	msg, err := normalizeMessage(p.FirstMessage, p.SelfKey, p.SelfName)
	if err != nil {
		return "", err
	}

	_, exists, err := s.store.ReadOnce(ctx, userPath(p.SelfKey))
	if err != nil {
		return "", err
	}
	if !exists {
		return "", ErrUserNotFound
	}

	convID := ConversationID(msg.ID)
	preview := previewOf(msg)

	entry, err := json.Marshal(messageToDoc(msg))
	if err != nil {
		return "", err
	}
	logNode, err := json.Marshal(logDoc{Messages: []json.RawMessage{entry}})
	if err != nil {
		return "", err
	}
	if err := s.store.WriteWhole(ctx, msgLogPath(convID), logNode); err != nil {
		return "", fmt.Errorf("write message log: %w", err)
	}

	selfRef := refToDoc(ConversationRef{
		ID:              convID,
		CounterpartyKey: p.CounterpartyKey,
		DisplayName:     p.CounterpartyName,
		Latest:          preview,
	})
	otherRef := refToDoc(ConversationRef{
		ID:              convID,
		CounterpartyKey: p.SelfKey,
		DisplayName:     p.SelfName,
		Latest:          preview,
	})

	// The two lists live at disjoint paths; write them concurrently.
	err = parallel(
		func() error { return s.upsertRef(ctx, p.SelfKey, convID, selfRef) },
		func() error { return s.upsertRef(ctx, p.CounterpartyKey, convID, otherRef) },
	)
	if err != nil {
		return "", err
	}

	now := time.Now()
	s.publish(bus.Event{Kind: "conversation.created", Timestamp: now, Payload: convID})
	s.publish(bus.Event{Kind: "conversation.updated", Timestamp: now, Payload: p.SelfKey})
	s.publish(bus.Event{Kind: "conversation.updated", Timestamp: now, Payload: p.CounterpartyKey})
	return convID, nil
}

// SendParams carries the inputs for SendMessage. CounterpartyName is only
// needed for the self-healing insert when the sender's own list entry has
// gone missing; it falls back to the counterparty's key when empty.
type SendParams struct {
	ConversationID   string
	SenderKey        string
	SenderName       string
	CounterpartyKey  string
	CounterpartyName string
	Message          Message
}

// SendMessage appends one message to the conversation log and mirrors its
// preview into both participants' ConversationRefs. The log append
// de-duplicates by message id, so a retry with the same id is safe. The log
// is updated first since the preview derives from it; the two list updates
// then run concurrently. A failure aborts the remaining steps but does not
// undo acknowledged writes.
func (s *Service) SendMessage(ctx context.Context, p SendParams) error {
	msg, err := normalizeMessage(p.Message, p.SenderKey, p.SenderName)
	if err != nil {
		return err
	}

	entry, err := json.Marshal(messageToDoc(msg))
	if err != nil {
		return err
	}

	err = s.store.Update(ctx, msgLogPath(p.ConversationID), func(current json.RawMessage, exists bool) (json.RawMessage, error) {
		if !exists {
			return nil, ErrConversationNotFound
		}
		var log logDoc
		if err := json.Unmarshal(current, &log); err != nil {
			return nil, fmt.Errorf("decode message log: %w", err)
		}
		for _, raw := range log.Messages {
			if entryID(raw) == msg.ID {
				// Already appended by an earlier attempt; keep the log as-is
				// and fall through to the preview updates.
				return current, nil
			}
		}
		log.Messages = append(log.Messages, entry)
		return json.Marshal(log)
	})
	if err != nil {
		return err
	}

	preview := previewOf(msg)
	senderRef := refToDoc(ConversationRef{
		ID:              p.ConversationID,
		CounterpartyKey: p.CounterpartyKey,
		DisplayName:     displayOr(p.CounterpartyName, p.CounterpartyKey),
		Latest:          preview,
	})
	otherRef := refToDoc(ConversationRef{
		ID:              p.ConversationID,
		CounterpartyKey: p.SenderKey,
		DisplayName:     displayOr(p.SenderName, p.SenderKey),
		Latest:          preview,
	})

	err = parallel(
		func() error { return s.upsertRef(ctx, p.SenderKey, p.ConversationID, senderRef) },
		func() error { return s.upsertRef(ctx, p.CounterpartyKey, p.ConversationID, otherRef) },
	)
	if err != nil {
		return err
	}

	now := time.Now()
	s.publish(bus.Event{Kind: "message.appended", Timestamp: now, Payload: MessageAppended{
		ConversationID: p.ConversationID,
		MessageID:      msg.ID,
	}})
	s.publish(bus.Event{Kind: "conversation.updated", Timestamp: now, Payload: p.SenderKey})
	s.publish(bus.Event{Kind: "conversation.updated", Timestamp: now, Payload: p.CounterpartyKey})
	return nil
}

// DeleteConversation removes the owner's copy of the conversation ref. The
// counterparty's copy and the message log are untouched. When no entry
// matches the id, the list is left unchanged and ErrNotFound is reported.
func (s *Service) DeleteConversation(ctx context.Context, userKey, conversationID string) error {
	err := s.store.Update(ctx, listPath(userKey), func(current json.RawMessage, exists bool) (json.RawMessage, error) {
		if !exists {
			return nil, ErrNotFound
		}
		var raws []json.RawMessage
		if err := json.Unmarshal(current, &raws); err != nil {
			return nil, fmt.Errorf("decode conversation list: %w", err)
		}
		for i, raw := range raws {
			if entryID(raw) == conversationID {
				raws = append(raws[:i], raws[i+1:]...)
				return json.Marshal(raws)
			}
		}
		return nil, ErrNotFound
	})
	if err != nil {
		return err
	}
	s.publish(bus.Event{Kind: "conversation.updated", Timestamp: time.Now(), Payload: userKey})
	return nil
}

// MessageAppended is the bus payload for a successful log append.
type MessageAppended struct {
	ConversationID string
	MessageID      string
}

// upsertRef replaces the preview of the entry matching convID in the owner's
// conversation list, or appends ref when no entry matches (self-healing
// insert). Entries other than the match are written back byte-for-byte, so a
// malformed entry elsewhere in the list is preserved rather than destroyed.
func (s *Service) upsertRef(ctx context.Context, ownerKey, convID string, ref conversationRefDoc) error {
	refRaw, err := json.Marshal(ref)
	if err != nil {
		return err
	}
	return s.store.Update(ctx, listPath(ownerKey), func(current json.RawMessage, exists bool) (json.RawMessage, error) {
		if !exists {
			return json.Marshal([]json.RawMessage{refRaw})
		}
		var raws []json.RawMessage
		if err := json.Unmarshal(current, &raws); err != nil {
			return nil, fmt.Errorf("decode conversation list: %w", err)
		}
		for i, raw := range raws {
			if entryID(raw) != convID {
				continue
			}
			var entry map[string]json.RawMessage
			if err := json.Unmarshal(raw, &entry); err != nil {
				// Entry matched by id but is otherwise unreadable; replace it
				// wholesale.
				raws[i] = refRaw
				return json.Marshal(raws)
			}
			latest, err := json.Marshal(ref.LatestMessage)
			if err != nil {
				return nil, err
			}
			entry["latest_message"] = latest
			patched, err := json.Marshal(entry)
			if err != nil {
				return nil, err
			}
			raws[i] = patched
			return json.Marshal(raws)
		}
		raws = append(raws, refRaw)
		return json.Marshal(raws)
	})
}

// entryID extracts the id field of a raw list entry, empty when unreadable.
func entryID(raw json.RawMessage) string {
	var probe struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return ""
	}
	return probe.ID
}

// normalizeMessage validates a message and fills defaults: a minted id when
// absent, kind text when unset, and the current time when SentAt is zero.
func normalizeMessage(m Message, senderKey, senderName string) (Message, error) {
	if m.Kind == "" {
		m.Kind = KindText
	}
	if !m.Kind.Valid() {
		return Message{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidMessage, m.Kind)
	}
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.SentAt.IsZero() {
		m.SentAt = time.Now()
	}
	m.SenderKey = senderKey
	if senderName != "" {
		m.SenderName = senderName
	}
	if m.SenderName == "" {
		m.SenderName = senderKey
	}
	return m, nil
}

// previewOf derives the denormalized preview from a message. Only text
// messages surface a body; other kinds preview empty.
func previewOf(m Message) LatestMessage {
	body := ""
	if m.Kind == KindText {
		body = m.Body
	}
	return LatestMessage{SentAt: m.SentAt, Body: body, IsRead: m.IsRead}
}

func displayOr(name, fallback string) string {
	if name != "" {
		return name
	}
	return fallback
}

func (s *Service) publish(evt bus.Event) {
	if s.bus != nil {
		s.bus.Publish(evt)
	}
}

// parallel runs the given funcs concurrently and returns the first error.
func parallel(fns ...func() error) error {
	errs := make(chan error, len(fns))
	for _, fn := range fns {
		go func(f func() error) { errs <- f() }(fn)
	}
	var first error
	for range fns {
		if err := <-errs; err != nil && first == nil {
			first = err
		}
	}
	return first
}
