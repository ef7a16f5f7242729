package convo

import (
	"context"
	"sync"

	"github.com/emberchat/emberd/internal/docstore"
)

// ConversationStream is a continuous feed of a user's full conversation list.
// Every change to the underlying node delivers a complete decoded snapshot,
// not a diff. Malformed entries are dropped per-entry. Callers must Close the
// stream.
type ConversationStream struct {
	ch    chan []ConversationRef
	inner *docstore.Subscription
	done  chan struct{}
	once  sync.Once
}

// Updates returns the snapshot channel. Closed when the stream ends.
func (s *ConversationStream) Updates() <-chan []ConversationRef { return s.ch }

// Close tears the stream down and releases the forwarding goroutine even
// when the consumer stopped reading. Safe to call more than once.
func (s *ConversationStream) Close() {
	s.once.Do(func() {
		close(s.done)
		s.inner.Close()
	})
}

// Conversations subscribes to a user's conversation list. An absent node is
// delivered as an empty list rather than an error, so a brand-new user sees
// an empty inbox instead of a failure.
func (s *Service) Conversations(ctx context.Context, userKey string) (*ConversationStream, error) {
	sub, err := s.store.Subscribe(ctx, listPath(userKey))
	if err != nil {
		return nil, err
	}
	stream := &ConversationStream{
		ch:    make(chan []ConversationRef, 16),
		inner: sub,
		done:  make(chan struct{}),
	}
	go func() {
		defer close(stream.ch)
		for snap := range sub.Snapshots() {
			refs := []ConversationRef{}
			if snap.Exists {
				refs = decodeRefList(snap.Doc)
			}
			select {
			case stream.ch <- refs:
			case <-stream.done:
				return
			}
		}
	}()
	return stream, nil
}

// MessageStream is a continuous feed of a conversation's full message log,
// with the same snapshot and malformed-entry semantics as ConversationStream.
type MessageStream struct {
	ch    chan []Message
	inner *docstore.Subscription
	done  chan struct{}
	once  sync.Once
}

// Updates returns the snapshot channel. Closed when the stream ends.
func (s *MessageStream) Updates() <-chan []Message { return s.ch }

// Close tears the stream down and releases the forwarding goroutine even
// when the consumer stopped reading. Safe to call more than once.
func (s *MessageStream) Close() {
	s.once.Do(func() {
		close(s.done)
		s.inner.Close()
	})
}

// Messages subscribes to a conversation's message log.
func (s *Service) Messages(ctx context.Context, conversationID string) (*MessageStream, error) {
	sub, err := s.store.Subscribe(ctx, msgLogPath(conversationID))
	if err != nil {
		return nil, err
	}
	stream := &MessageStream{
		ch:    make(chan []Message, 16),
		inner: sub,
		done:  make(chan struct{}),
	}
	go func() {
		defer close(stream.ch)
		for snap := range sub.Snapshots() {
			msgs := []Message{}
			if snap.Exists {
				msgs = decodeLog(snap.Doc)
			}
			select {
			case stream.ch <- msgs:
			case <-stream.done:
				return
			}
		}
	}()
	return stream, nil
}
